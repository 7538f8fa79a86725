package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load(newViper())

	if cfg.Server.Addr != ":3000" {
		t.Errorf("unexpected addr %s", cfg.Server.Addr)
	}
	if cfg.Server.Retention != 24*time.Hour {
		t.Errorf("unexpected retention %s", cfg.Server.Retention)
	}
	if cfg.Server.KafkaBrokers != nil {
		t.Errorf("expected no kafka brokers, got %v", cfg.Server.KafkaBrokers)
	}
	if cfg.Client.FlushInterval != 30*time.Second {
		t.Errorf("unexpected flush interval %s", cfg.Client.FlushInterval)
	}
	if cfg.Client.ReconnectAttempts != 5 || cfg.Client.ReconnectDelay != time.Second {
		t.Errorf("unexpected reconnect policy %d/%s", cfg.Client.ReconnectAttempts, cfg.Client.ReconnectDelay)
	}
	if cfg.Client.RequestTimeout != 10*time.Second {
		t.Errorf("unexpected request timeout %s", cfg.Client.RequestTimeout)
	}
	if cfg.Client.UserAgent != "vitals-cli" || cfg.Client.ConnectionType != "" {
		t.Errorf("unexpected page defaults %q/%q", cfg.Client.UserAgent, cfg.Client.ConnectionType)
	}
	if err := cfg.Server.Validate(); err != nil {
		t.Errorf("default server config invalid: %v", err)
	}
	if err := cfg.Client.Validate(); err != nil {
		t.Errorf("default client config invalid: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VITALS_API_URL", "https://vitals.example.com/")
	t.Setenv("VITALS_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("VITALS_RECONNECT_ATTEMPTS", "3")
	t.Setenv("VITALS_FLUSH_INTERVAL", "5s")
	t.Setenv("VITALS_PAGE_URL", " https://shop.example.com/cart ")
	t.Setenv("VITALS_CONNECTION_TYPE", "4g")

	cfg := Load(newViper())
	if cfg.Client.APIURL != "https://vitals.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Client.APIURL)
	}
	if len(cfg.Server.KafkaBrokers) != 2 || cfg.Server.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Server.KafkaBrokers)
	}
	if cfg.Client.ReconnectAttempts != 3 {
		t.Errorf("unexpected attempts %d", cfg.Client.ReconnectAttempts)
	}
	if cfg.Client.FlushInterval != 5*time.Second {
		t.Errorf("unexpected flush interval %s", cfg.Client.FlushInterval)
	}
	if cfg.Client.PageURL != "https://shop.example.com/cart" || cfg.Client.ConnectionType != "4g" {
		t.Errorf("unexpected page info %q/%q", cfg.Client.PageURL, cfg.Client.ConnectionType)
	}
}

func TestClientValidate(t *testing.T) {
	t.Run("bad api scheme", func(t *testing.T) {
		cfg := Load(newViper()).Client
		cfg.APIURL = "ftp://example.com"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ws url must be websocket", func(t *testing.T) {
		cfg := Load(newViper()).Client
		cfg.WSURL = "http://localhost:3000/ws"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("zero flush interval", func(t *testing.T) {
		cfg := Load(newViper()).Client
		cfg.FlushInterval = 0
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestServerValidate(t *testing.T) {
	cfg := Load(newViper()).Server
	cfg.KafkaBrokers = []string{"k1:9092"}
	cfg.KafkaTopic = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for brokers without topic")
	}
}
