// Package collector turns a stream of individual vitals readings into scored
// samples.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vitals-service/internal/logger"
	"vitals-service/internal/models"
	"vitals-service/internal/vitals"
)

const DefaultFlushInterval = 30 * time.Second

var (
	ErrStopped     = errors.New("collector stopped")
	ErrUnknownKind = errors.New("unknown vital")
)

type Trigger string

const (
	TriggerComplete Trigger = "complete"
	TriggerPeriodic Trigger = "periodic"
)

// Sender receives every emitted sample. Errors are the sender's business.
type Sender interface {
	Send(ctx context.Context, sample models.Sample)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, sample models.Sample)

func (f SenderFunc) Send(ctx context.Context, sample models.Sample) { f(ctx, sample) }

// Page describes the page view the readings belong to.
type Page struct {
	URL            string
	UserAgent      string
	ConnectionType string
}

type Options struct {
	Page          Page
	Sender        Sender
	FlushInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

type reading struct {
	kind  vitals.Kind
	value float64
}

// Collector accumulates readings until all five vitals are known or the
// flush interval elapses. Accumulator state is owned by Run.
type Collector struct {
	page     Page
	sender   Sender
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	readings chan reading
	flush    chan struct{}
	done     chan struct{}

	// tick replaces the flush ticker in tests.
	tick <-chan time.Time
}

func New(opts Options) *Collector {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Page.ConnectionType == "" {
		opts.Page.ConnectionType = models.UnknownConnection
	}
	if opts.Sender == nil {
		opts.Sender = SenderFunc(func(context.Context, models.Sample) {})
	}
	return &Collector{
		page:     opts.Page,
		sender:   opts.Sender,
		interval: opts.FlushInterval,
		log:      opts.Logger.With("component", "collector"),
		now:      opts.Now,
		readings: make(chan reading),
		flush:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Record hands one reading to the Run loop. A later reading of the same kind
// overwrites an earlier one.
func (c *Collector) Record(ctx context.Context, kind vitals.Kind, value float64) error {
	if _, ok := vitals.ThresholdsFor(kind); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	select {
	case c.readings <- reading{kind: kind, value: value}:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush emits whatever has been recorded so far, as a periodic flush would.
func (c *Collector) Flush(ctx context.Context) error {
	select {
	case c.flush <- struct{}{}:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run owns the accumulator until ctx is cancelled. It returns after every
// in-flight send has finished.
func (c *Collector) Run(ctx context.Context) error {
	defer close(c.done)

	tick := c.tick
	if tick == nil {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Sends outlive cancellation so Run can wait for them.
	sendCtx := context.WithoutCancel(ctx)

	var (
		wg      sync.WaitGroup
		current models.Vitals
		seen    = make(map[vitals.Kind]bool, len(vitals.Kinds))
	)
	defer wg.Wait()

	emit := func(trigger Trigger) {
		sample := c.build(current)
		c.log.Debug("emitting sample", "trigger", trigger, "id", sample.ID, "score", sample.Score)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.sender.Send(sendCtx, sample)
		}()
		current = models.Vitals{}
		clear(seen)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-c.readings:
			vitals.Set(&current, r.kind, r.value)
			seen[r.kind] = true
			if len(seen) == len(vitals.Kinds) {
				emit(TriggerComplete)
			}
		case <-tick:
			if len(seen) > 0 {
				emit(TriggerPeriodic)
			}
		case <-c.flush:
			if len(seen) > 0 {
				emit(TriggerPeriodic)
			}
		}
	}
}

func (c *Collector) build(v models.Vitals) models.Sample {
	return models.Sample{
		ID:             uuid.NewString(),
		Timestamp:      c.now().UnixMilli(),
		URL:            c.page.URL,
		Metrics:        v,
		UserAgent:      c.page.UserAgent,
		ConnectionType: c.page.ConnectionType,
		Score:          vitals.Score(v),
	}
}
