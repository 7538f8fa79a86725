package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"vitals-service/internal/config"
	"vitals-service/internal/dashboard"
	"vitals-service/internal/live"
	"vitals-service/internal/models"
	"vitals-service/internal/transport"
	"vitals-service/internal/vitals"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live vitals from the backend",
	Long: `Connects to the live channel, backfills recent history and prints every
update. On a terminal the output is a table; otherwise one JSON object per
event. Send SIGHUP to reconnect after retries were exhausted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("ws-url", "", "live channel URL")
	watchCmd.Flags().Int("history-hours", 0, "hours of history to backfill on connect")
	viper.BindPFlag("ws_url", watchCmd.Flags().Lookup("ws-url"))
	viper.BindPFlag("history_hours", watchCmd.Flags().Lookup("history-hours"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.Client.Validate(); err != nil {
		return err
	}
	log := newLogger(cfg, "vitals-watch")

	api, err := transport.NewClient(cfg.Client.APIURL, &http.Client{Timeout: cfg.Client.RequestTimeout}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := live.NewClient(live.ClientOptions{
		URL:               cfg.Client.WSURL,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		ReconnectAttempts: cfg.Client.ReconnectAttempts,
		Logger:            log,
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				client.Reconnect()
			}
		}
	}()

	out := cmd.OutOrStdout()
	var r renderer = jsonRenderer{enc: json.NewEncoder(out)}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r = &tableRenderer{w: out}
	}

	cache := dashboard.NewCache(0, nil)
	backfill := func() {
		win := api.Historical(ctx, cfg.Client.HistoryHours)
		if win == nil {
			return
		}
		cache.ReplaceHistory(win.Data)
		if n := len(win.Data); n > 0 {
			cache.SetCurrent(win.Data[n-1])
		}
		log.Info("history loaded", "samples", len(win.Data), "avg_score", win.Aggregates.AvgScore)
	}

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	cache.Consume(client.Events(), func(ev live.Event) {
		if _, ok := ev.(live.Connect); ok {
			backfill()
		}
		r.render(ev, cache)
	})

	if err := <-done; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

type renderer interface {
	render(ev live.Event, cache *dashboard.Cache)
}

type jsonRenderer struct {
	enc *json.Encoder
}

type watchLine struct {
	Event   string                        `json:"event"`
	Status  models.ConnectionStatus       `json:"status"`
	Reason  string                        `json:"reason,omitempty"`
	Metric  *models.Sample                `json:"metric,omitempty"`
	Trend   models.Trend                  `json:"trend,omitempty"`
	Ratings map[vitals.Kind]vitals.Rating `json:"ratings,omitempty"`
}

func (j jsonRenderer) render(ev live.Event, cache *dashboard.Cache) {
	line := watchLine{Status: cache.Status()}
	switch ev := ev.(type) {
	case live.Connect:
		line.Event = live.EventConnect
	case live.Disconnect:
		line.Event = live.EventDisconnect
		line.Reason = ev.Reason
	case live.Update:
		line.Event = live.EventUpdate
		line.Metric = &ev.Metric
		line.Trend = ev.Trend
		line.Ratings = vitals.RateAll(ev.Metric.Metrics)
	case live.Ping:
		line.Event = live.EventPing
	}
	_ = j.enc.Encode(line)
}

type tableRenderer struct {
	w io.Writer
}

func (t *tableRenderer) render(ev live.Event, cache *dashboard.Cache) {
	switch ev := ev.(type) {
	case live.Connect:
		fmt.Fprintf(t.w, "connected (session %s)\n", ev.SessionID)
	case live.Disconnect:
		fmt.Fprintf(t.w, "disconnected: %s\n", ev.Reason)
	case live.Ping:
		// Latency shows up with the next update.
	case live.Update:
		t.update(ev, cache)
	}
}

func (t *tableRenderer) update(ev live.Update, cache *dashboard.Cache) {
	st := cache.Status()
	s := ev.Metric
	fmt.Fprintf(t.w, "\n%s  %s  score %d (%s)  latency %.0fms\n",
		time.UnixMilli(s.Timestamp).Format(time.TimeOnly), s.URL, s.Score, ev.Trend, st.Latency)

	tw := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VITAL\tVALUE\tRATING\tAVG\tMIN\tMAX\tTREND")
	for _, kind := range vitals.Kinds {
		v := vitals.Value(s.Metrics, kind)
		ws := cache.WindowStats(kind)
		dir, pct := cache.Trend(kind)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s %+.1f%%\n",
			kind, formatValue(kind, v), vitals.Rate(kind, v),
			formatValue(kind, ws.Avg), formatValue(kind, ws.Min), formatValue(kind, ws.Max),
			dir, pct)
	}
	_ = tw.Flush()
}

func formatValue(kind vitals.Kind, v float64) string {
	if kind == vitals.CLS {
		return fmt.Sprintf("%.3f", v)
	}
	return fmt.Sprintf("%.0fms", v)
}
