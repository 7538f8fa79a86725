// Package dashboard keeps the client-side view of the live metrics: the
// current sample, a bounded history and the connection status.
package dashboard

import (
	"math"
	"sync"
	"time"

	"vitals-service/internal/live"
	"vitals-service/internal/models"
	"vitals-service/internal/vitals"
)

const DefaultCapacity = 100

// StatusPatch merges into the connection status; nil fields are left alone.
type StatusPatch struct {
	Connected  *bool
	Latency    *float64
	LastUpdate *int64
}

type Cache struct {
	mu       sync.RWMutex
	capacity int
	now      func() time.Time

	current *models.Sample
	history []models.Sample
	status  models.ConnectionStatus
}

// NewCache returns a cache whose history holds at most capacity samples.
// capacity <= 0 selects DefaultCapacity.
func NewCache(capacity int, now func() time.Time) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		capacity: capacity,
		now:      now,
		history:  make([]models.Sample, 0, capacity),
	}
}

func (c *Cache) SetCurrent(s models.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &s
	c.status.LastUpdate = c.now().UnixMilli()
}

// Append adds s to the history, evicting the oldest entries beyond capacity.
func (c *Cache) Append(s models.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, s)
	if over := len(c.history) - c.capacity; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
}

// ReplaceHistory swaps in samples, keeping only the newest capacity of them.
func (c *Cache) ReplaceHistory(samples []models.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if over := len(samples) - c.capacity; over > 0 {
		samples = samples[over:]
	}
	c.history = append(make([]models.Sample, 0, c.capacity), samples...)
}

func (c *Cache) SetConnectionStatus(p StatusPatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Connected != nil {
		c.status.Connected = *p.Connected
	}
	if p.Latency != nil {
		c.status.Latency = *p.Latency
	}
	if p.LastUpdate != nil {
		c.status.LastUpdate = *p.LastUpdate
	}
}

// Clear drops the current sample and history. Connection status survives.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.history = c.history[:0]
}

func (c *Cache) Current() (models.Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return models.Sample{}, false
	}
	return *c.current, true
}

// History returns a copy, oldest first.
func (c *Cache) History() []models.Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Sample, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Cache) Status() models.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Apply folds one live-channel event into the cache.
func (c *Cache) Apply(ev live.Event) {
	switch ev := ev.(type) {
	case live.Connect:
		connected := true
		c.SetConnectionStatus(StatusPatch{Connected: &connected})
	case live.Disconnect:
		connected := false
		c.SetConnectionStatus(StatusPatch{Connected: &connected})
	case live.Update:
		c.SetCurrent(ev.Metric)
		c.Append(ev.Metric)
	case live.Ping:
		ms := float64(ev.Latency) / float64(time.Millisecond)
		c.SetConnectionStatus(StatusPatch{Latency: &ms})
	}
}

type Direction string

const (
	Up     Direction = "up"
	Down   Direction = "down"
	Stable Direction = "stable"
)

const trendThreshold = 5.0

// Trend compares the last two buffered values of kind and returns the
// direction together with the percent change.
func (c *Cache) Trend(kind vitals.Kind) (Direction, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.history)
	if n < 2 {
		return Stable, 0
	}
	prev := vitals.Value(c.history[n-2].Metrics, kind)
	last := vitals.Value(c.history[n-1].Metrics, kind)
	if prev == 0 {
		return Stable, 0
	}
	change := (last - prev) / prev * 100
	switch {
	case math.Abs(change) < trendThreshold:
		return Stable, change
	case change > 0:
		return Up, change
	default:
		return Down, change
	}
}

type WindowStats struct {
	Count  int           `json:"count"`
	Avg    float64       `json:"avg"`
	Min    float64       `json:"min"`
	Max    float64       `json:"max"`
	Latest float64       `json:"latest"`
	Rating vitals.Rating `json:"rating"`
}

// WindowStats summarises kind over the buffered history. An empty history
// yields a zero value with Count 0.
func (c *Cache) WindowStats(kind vitals.Kind) WindowStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return WindowStats{}
	}
	st := WindowStats{Count: len(c.history), Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, s := range c.history {
		v := vitals.Value(s.Metrics, kind)
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Avg = sum / float64(st.Count)
	st.Latest = vitals.Value(c.history[len(c.history)-1].Metrics, kind)
	st.Rating = vitals.Rate(kind, st.Avg)
	return st
}

// Consume applies events until the channel is closed. after, when set, runs
// once each event has been applied.
func (c *Cache) Consume(events <-chan live.Event, after func(live.Event)) {
	for ev := range events {
		c.Apply(ev)
		if after != nil {
			after(ev)
		}
	}
}
