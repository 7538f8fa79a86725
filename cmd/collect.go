package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vitals-service/internal/collector"
	"vitals-service/internal/config"
	"vitals-service/internal/transport"
	"vitals-service/internal/vitals"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Read vitals readings from stdin and send scored samples",
	Long: `Reads one reading per line from stdin, either "lcp 2300" or
{"name":"lcp","value":2300}, and sends a sample to the backend whenever all
five vitals are known or the flush interval elapses. Remaining readings are
flushed at end of input.`,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().String("page-url", "", "URL of the measured page")
	collectCmd.Flags().String("user-agent", "", "user agent reported with samples (default vitals-cli)")
	collectCmd.Flags().String("connection-type", "", "effective connection type (default unknown)")
	viper.BindPFlag("page_url", collectCmd.Flags().Lookup("page-url"))
	viper.BindPFlag("user_agent", collectCmd.Flags().Lookup("user-agent"))
	viper.BindPFlag("connection_type", collectCmd.Flags().Lookup("connection-type"))
}

type reading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func parseReading(line string) (reading, error) {
	if strings.HasPrefix(line, "{") {
		var r reading
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return reading{}, fmt.Errorf("decode reading: %w", err)
		}
		return r, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return reading{}, fmt.Errorf("expected \"<name> <value>\", got %q", line)
	}
	value, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return reading{}, fmt.Errorf("parse value: %w", err)
	}
	return reading{Name: fields[0], Value: value}, nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Client.Validate(); err != nil {
		return err
	}
	log := newLogger(cfg, "vitals-collector")

	api, err := transport.NewClient(cfg.Client.APIURL, &http.Client{Timeout: cfg.Client.RequestTimeout}, log)
	if err != nil {
		return err
	}

	c := collector.New(collector.Options{
		Page: collector.Page{
			URL:            cfg.Client.PageURL,
			UserAgent:      cfg.Client.UserAgent,
			ConnectionType: cfg.Client.ConnectionType,
		},
		Sender:        api,
		FlushInterval: cfg.Client.FlushInterval,
		Logger:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	feedErr := feed(ctx, c, cmd.InOrStdin(), log)
	if feedErr == nil {
		feedErr = c.Flush(ctx)
	}
	cancel()
	<-done
	if feedErr != nil && ctx.Err() == nil {
		return feedErr
	}
	return nil
}

// feed records every line of r. Bad lines and unknown vitals are skipped.
func feed(ctx context.Context, c *collector.Collector, r io.Reader, log *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rd, err := parseReading(line)
		if err != nil {
			log.Warn("skipping malformed reading", "line", lineNo, "error", err)
			continue
		}
		kind, err := vitals.ParseKind(rd.Name)
		if err != nil {
			log.Warn("skipping unknown vital", "line", lineNo, "name", rd.Name)
			continue
		}
		if rd.Value < 0 {
			log.Warn("skipping negative reading", "line", lineNo, "name", rd.Name, "value", rd.Value)
			continue
		}
		if err := c.Record(ctx, kind, rd.Value); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
