package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "VITALS"

type Config struct {
	LogLevel string
	Server   ServerConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Addr         string
	RedisAddr    string
	RedisTTL     time.Duration
	KafkaBrokers []string
	KafkaTopic   string
	AlertsFile   string
	Retention    time.Duration
	MaxSamples   int
	TrendWindow  int
	PingInterval time.Duration
	QueueSize    int
}

type ClientConfig struct {
	APIURL            string
	WSURL             string
	FlushInterval     time.Duration
	RequestTimeout    time.Duration
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	HistoryHours      int
	PageURL           string
	UserAgent         string
	ConnectionType    string
}

// SetDefaults registers every key with its default so env lookups and
// Unmarshal-free reads both see it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("addr", ":3000")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_ttl", "24h")
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "web-vitals")
	v.SetDefault("alerts_file", "")
	v.SetDefault("retention", "24h")
	v.SetDefault("max_samples", 100000)
	v.SetDefault("trend_window", 10)
	v.SetDefault("ping_interval", "25s")
	v.SetDefault("queue_size", 10000)

	v.SetDefault("api_url", "http://localhost:3000")
	v.SetDefault("ws_url", "ws://localhost:3000/ws")
	v.SetDefault("flush_interval", "30s")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("reconnect_delay", "1s")
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("history_hours", 1)
	v.SetDefault("page_url", "")
	v.SetDefault("user_agent", "vitals-cli")
	v.SetDefault("connection_type", "")
}

// BindEnv makes VITALS_<KEY> override any key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

func New() *Config {
	return Load(viper.GetViper())
}

func Load(v *viper.Viper) *Config {
	return &Config{
		LogLevel: v.GetString("log_level"),
		Server: ServerConfig{
			Addr:         v.GetString("addr"),
			RedisAddr:    strings.TrimSpace(v.GetString("redis_addr")),
			RedisTTL:     v.GetDuration("redis_ttl"),
			KafkaBrokers: splitList(v.GetString("kafka_brokers")),
			KafkaTopic:   v.GetString("kafka_topic"),
			AlertsFile:   strings.TrimSpace(v.GetString("alerts_file")),
			Retention:    v.GetDuration("retention"),
			MaxSamples:   v.GetInt("max_samples"),
			TrendWindow:  v.GetInt("trend_window"),
			PingInterval: v.GetDuration("ping_interval"),
			QueueSize:    v.GetInt("queue_size"),
		},
		Client: ClientConfig{
			APIURL:            strings.TrimRight(strings.TrimSpace(v.GetString("api_url")), "/"),
			WSURL:             strings.TrimSpace(v.GetString("ws_url")),
			FlushInterval:     v.GetDuration("flush_interval"),
			RequestTimeout:    v.GetDuration("request_timeout"),
			ReconnectDelay:    v.GetDuration("reconnect_delay"),
			ReconnectAttempts: v.GetInt("reconnect_attempts"),
			HistoryHours:      v.GetInt("history_hours"),
			PageURL:           strings.TrimSpace(v.GetString("page_url")),
			UserAgent:         v.GetString("user_agent"),
			ConnectionType:    strings.TrimSpace(v.GetString("connection_type")),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("invalid retention: %s", c.Retention)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("invalid ping interval: %s", c.PingInterval)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid queue size: %d", c.QueueSize)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if err := validateURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}
	if err := validateURL(c.WSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("invalid ws url: %w", err)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("invalid flush interval: %s", c.FlushInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %s", c.RequestTimeout)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("invalid reconnect delay: %s", c.ReconnectDelay)
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("invalid reconnect attempts: %d", c.ReconnectAttempts)
	}
	if c.HistoryHours <= 0 {
		return fmt.Errorf("invalid history hours: %d", c.HistoryHours)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%s: scheme must be one of %s", raw, strings.Join(schemes, ", "))
}
