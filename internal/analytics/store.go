package analytics

import (
	"sort"
	"sync"
	"time"

	"vitals-service/internal/models"
)

const (
	DefaultTrendWindow = 10
	DefaultRetention   = 24 * time.Hour
	DefaultMaxSamples  = 100000

	// trendThreshold is the relative score change, against the rolling
	// average, below which a sample counts as stable.
	trendThreshold = 0.05
)

type Options struct {
	TrendWindow int
	Retention   time.Duration
	MaxSamples  int
	Now         func() time.Time
}

// Store is the single writer of ingested samples. Reads return copies taken
// at an ingest boundary.
type Store struct {
	mu          sync.RWMutex
	samples     []models.Sample
	trendWindow int
	retention   time.Duration
	maxSamples  int
	now         func() time.Time
	stats       models.StoreStats
}

func NewStore(opts Options) *Store {
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = DefaultTrendWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		samples:     make([]models.Sample, 0, 1024),
		trendWindow: opts.TrendWindow,
		retention:   opts.Retention,
		maxSamples:  opts.MaxSamples,
		now:         opts.Now,
	}
}

// Ingest appends sample in arrival order and reports its score trend against
// the rolling average of the samples before it.
func (s *Store) Ingest(sample models.Sample) models.Trend {
	s.mu.Lock()
	defer s.mu.Unlock()

	trend := s.trendFor(sample.Score)

	s.samples = append(s.samples, sample)
	s.stats.TotalSamples++
	s.stats.LastTrend = trend
	s.evict()

	return trend
}

// Restore bulk-loads samples, oldest first, without computing trends.
func (s *Store) Restore(samples []models.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, samples...)
	s.stats.TotalSamples += int64(len(samples))
	s.evict()
}

func (s *Store) trendFor(score int) models.Trend {
	n := len(s.samples)
	if n == 0 {
		return models.TrendStable
	}
	start := n - s.trendWindow
	if start < 0 {
		start = 0
	}

	var sum float64
	for _, prev := range s.samples[start:] {
		sum += float64(prev.Score)
	}
	avg := sum / float64(n-start)

	if avg == 0 {
		if score > 0 {
			return models.TrendImproving
		}
		return models.TrendStable
	}

	change := (float64(score) - avg) / avg
	switch {
	case change >= trendThreshold:
		return models.TrendImproving
	case change <= -trendThreshold:
		return models.TrendDegrading
	default:
		return models.TrendStable
	}
}

// evict drops samples past retention and beyond capacity. Caller holds mu.
func (s *Store) evict() {
	cutoff := s.now().Add(-s.retention).UnixMilli()
	drop := 0
	for drop < len(s.samples) && s.samples[drop].Timestamp < cutoff {
		drop++
	}
	if over := len(s.samples) - drop - s.maxSamples; over > 0 {
		drop += over
	}
	if drop == 0 {
		return
	}
	s.stats.Evicted += int64(drop)
	remaining := copy(s.samples, s.samples[drop:])
	clear(s.samples[remaining:])
	s.samples = s.samples[:remaining]
}

// Latest returns the last limit samples by arrival, newest last.
func (s *Store) Latest(limit int) []models.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []models.Sample{}
	}
	if limit > len(s.samples) {
		limit = len(s.samples)
	}

	out := make([]models.Sample, limit)
	copy(out, s.samples[len(s.samples)-limit:])
	return out
}

// Retention is how far back the store keeps samples.
func (s *Store) Retention() time.Duration {
	return s.retention
}

// QueryWindow aggregates every sample captured within the last hours. The
// window never reaches further back than the retention; TimeRange reports
// the span actually covered.
func (s *Store) QueryWindow(hours int) models.HistoricalWindow {
	now := s.now().UnixMilli()
	start := max(
		now-int64(hours)*time.Hour.Milliseconds(),
		now-s.retention.Milliseconds(),
	)

	s.mu.RLock()
	data := make([]models.Sample, 0)
	for _, sample := range s.samples {
		if sample.Timestamp >= start {
			data = append(data, sample)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Timestamp < data[j].Timestamp
	})

	return models.HistoricalWindow{
		Data:       data,
		TimeRange:  models.TimeRange{Start: start, End: now},
		Aggregates: aggregate(data),
	}
}

func aggregate(data []models.Sample) models.Aggregates {
	var agg models.Aggregates
	if len(data) == 0 {
		return agg
	}

	for _, sample := range data {
		agg.AvgLCP += sample.Metrics.LCP
		agg.AvgINP += sample.Metrics.INP
		agg.AvgCLS += sample.Metrics.CLS
		agg.AvgFCP += sample.Metrics.FCP
		agg.AvgTTFB += sample.Metrics.TTFB
		agg.AvgScore += float64(sample.Score)
	}

	n := float64(len(data))
	agg.AvgLCP /= n
	agg.AvgINP /= n
	agg.AvgCLS /= n
	agg.AvgFCP /= n
	agg.AvgTTFB /= n
	agg.AvgScore /= n
	return agg
}

func (s *Store) Stats() models.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Retained = len(s.samples)
	if len(s.samples) > 0 {
		stats.Oldest = s.samples[0].Timestamp
		stats.Newest = s.samples[len(s.samples)-1].Timestamp
	}
	return stats
}
