package models

// Vitals holds the five Core Web Vitals of one page view. cls is unitless, the
// others are milliseconds.
type Vitals struct {
	LCP  float64 `json:"lcp"`
	INP  float64 `json:"inp"`
	CLS  float64 `json:"cls"`
	FCP  float64 `json:"fcp"`
	TTFB float64 `json:"ttfb"`
}

type Sample struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"timestamp"`
	URL            string `json:"url"`
	Metrics        Vitals `json:"metrics"`
	UserAgent      string `json:"userAgent"`
	ConnectionType string `json:"connectionType,omitempty"`
	Score          int    `json:"score"`
}

const UnknownConnection = "unknown"

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

type MetricUpdate struct {
	Metric Sample `json:"metric"`
	Trend  Trend  `json:"trend"`
}

type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type Aggregates struct {
	AvgLCP   float64 `json:"avgLCP"`
	AvgINP   float64 `json:"avgINP"`
	AvgCLS   float64 `json:"avgCLS"`
	AvgFCP   float64 `json:"avgFCP"`
	AvgTTFB  float64 `json:"avgTTFB"`
	AvgScore float64 `json:"avgScore"`
}

type HistoricalWindow struct {
	Data       []Sample   `json:"data"`
	TimeRange  TimeRange  `json:"timeRange"`
	Aggregates Aggregates `json:"aggregates"`
}

type ConnectionStatus struct {
	Connected  bool    `json:"connected"`
	Latency    float64 `json:"latency"`
	LastUpdate int64   `json:"lastUpdate"`
}

type StoreStats struct {
	TotalSamples int64 `json:"totalSamples"`
	Retained     int   `json:"retained"`
	Evicted      int64 `json:"evicted"`
	Oldest       int64 `json:"oldest,omitempty"`
	Newest       int64 `json:"newest,omitempty"`
	LastTrend    Trend `json:"lastTrend,omitempty"`
}

// Response is the envelope every /api endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HistoricalResponse struct {
	Success    bool       `json:"success"`
	Data       []Sample   `json:"data"`
	TimeRange  TimeRange  `json:"timeRange"`
	Aggregates Aggregates `json:"aggregates"`
	Error      string     `json:"error,omitempty"`
}
