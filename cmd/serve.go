package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vitals-service/internal/alerts"
	"vitals-service/internal/analytics"
	"vitals-service/internal/cache"
	"vitals-service/internal/config"
	"vitals-service/internal/live"
	"vitals-service/internal/server"
	"vitals-service/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection backend",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :3000)")
	serveCmd.Flags().String("redis-addr", "", "redis address for the sample mirror")
	serveCmd.Flags().String("kafka-brokers", "", "comma separated kafka brokers")
	serveCmd.Flags().String("alerts-file", "", "yaml file with alert rules")
	viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("redis_addr", serveCmd.Flags().Lookup("redis-addr"))
	viper.BindPFlag("kafka_brokers", serveCmd.Flags().Lookup("kafka-brokers"))
	viper.BindPFlag("alerts_file", serveCmd.Flags().Lookup("alerts-file"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Server.Validate(); err != nil {
		return err
	}
	log := newLogger(cfg, "vitals-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := analytics.NewStore(analytics.Options{
		TrendWindow: cfg.Server.TrendWindow,
		Retention:   cfg.Server.Retention,
		MaxSamples:  cfg.Server.MaxSamples,
	})

	opts := server.Options{
		Store:     store,
		QueueSize: cfg.Server.QueueSize,
		Logger:    log,
	}

	if cfg.Server.RedisAddr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Server.RedisAddr, cfg.Server.RedisTTL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()

		recent, err := redisClient.RecentSamples(ctx, int64(cfg.Server.MaxSamples))
		if err != nil {
			log.Warn("could not restore samples from redis", "error", err)
		} else {
			store.Restore(recent)
			log.Info("restored samples from redis", "count", len(recent))
		}
		opts.Mirror = redisClient
	}

	if len(cfg.Server.KafkaBrokers) > 0 {
		publisher, err := stream.NewKafkaPublisher(cfg.Server.KafkaBrokers, cfg.Server.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		defer publisher.Close()
		opts.Publisher = publisher
		log.Info("streaming samples to kafka", "brokers", cfg.Server.KafkaBrokers, "topic", cfg.Server.KafkaTopic)
	}

	if cfg.Server.AlertsFile != "" {
		rules, err := alerts.LoadFile(cfg.Server.AlertsFile)
		if err != nil {
			return err
		}
		opts.Rules = rules
		log.Info("loaded alert rules", "count", len(rules))
	}

	hub := live.NewHub(live.HubOptions{
		PingInterval: cfg.Server.PingInterval,
		Logger:       log,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()
	opts.Live = hub

	err := server.New(opts).Run(ctx, cfg.Server.Addr)
	stopHub()
	<-hubDone
	return err
}
