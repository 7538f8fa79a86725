package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	samplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_samples_ingested_total",
		Help: "Total number of vitals samples accepted",
	})

	sampleScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vitals_sample_score",
		Help:    "Distribution of sample performance scores",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})

	lastValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vitals_last_value",
		Help: "Most recent value of each vital",
	}, []string{"metric"})

	ratingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_ratings_total",
		Help: "Vitals readings by rating",
	}, []string{"metric", "rating"})

	alertBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitals_alert_breaches_total",
		Help: "Samples that breached an alert rule",
	}, []string{"rule"})

	fanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_fanout_dropped_total",
		Help: "Samples stored but not fanned out because the queue was full",
	})

	sinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitals_sink_dropped_total",
		Help: "Samples broadcast but not mirrored or published because the sink queue was full",
	})
)
