// Package server exposes the vitals ingestion and query API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vitals-service/internal/alerts"
	"vitals-service/internal/analytics"
	"vitals-service/internal/logger"
	"vitals-service/internal/models"
	"vitals-service/internal/vitals"
)

const (
	Version          = "1.0.0"
	DefaultQueueSize = 10000

	defaultLimit = 10
	maxLimit     = 1000
	maxHours     = 168
	maxBodySize  = 1 << 20
)

// Mirror keeps a copy of accepted samples outside the process.
type Mirror interface {
	StoreSample(ctx context.Context, sample models.Sample) error
}

// Publisher streams accepted samples to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, sample models.Sample) error
}

// Broadcaster is the live channel: it serves /ws and pushes updates.
type Broadcaster interface {
	http.Handler
	Broadcast(update models.MetricUpdate) bool
	Subscribers() int
}

type Options struct {
	Store     *analytics.Store
	Mirror    Mirror
	Publisher Publisher
	Live      Broadcaster
	Rules     []alerts.Rule
	QueueSize int
	Logger    *slog.Logger
	Now       func() time.Time
}

type Server struct {
	router    *mux.Router
	store     *analytics.Store
	mirror    Mirror
	publisher Publisher
	live      Broadcaster
	rules     []alerts.Rule
	log       *slog.Logger
	now       func() time.Time

	// ingestMu keeps store order and fan-out order identical.
	ingestMu sync.Mutex
	samples  chan models.MetricUpdate
}

func New(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = analytics.NewStore(analytics.Options{})
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		router:    mux.NewRouter(),
		store:     opts.Store,
		mirror:    opts.Mirror,
		publisher: opts.Publisher,
		live:      opts.Live,
		rules:     opts.Rules,
		log:       opts.Logger.With("component", "server"),
		now:       opts.Now,
		samples:   make(chan models.MetricUpdate, opts.QueueSize),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.instrument(s.healthHandler)).Methods(http.MethodGet)
	s.router.Handle("/api/metrics", s.instrument(s.ingestHandler)).Methods(http.MethodPost)
	s.router.Handle("/api/metrics", s.instrument(s.latestHandler)).Methods(http.MethodGet)
	s.router.Handle("/api/metrics/historical/{hours}", s.instrument(s.historicalHandler)).Methods(http.MethodGet)
	s.router.Handle("/api/thresholds", s.instrument(s.thresholdsHandler)).Methods(http.MethodGet)
	s.router.Handle("/api/alerts", s.instrument(s.alertsHandler)).Methods(http.MethodGet)
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
	if s.live != nil {
		// Not instrumented: the upgrader needs the raw ResponseWriter.
		s.router.Handle("/ws", s.live)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.Response{Success: false, Error: msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC(),
		"version":   Version,
		"store":     s.store.Stats(),
	}
	if s.live != nil {
		health["subscribers"] = s.live.Subscribers()
	}
	writeJSON(w, http.StatusOK, health)
}

// ingestRequest uses pointers so a missing metric can be told apart from 0.
type ingestRequest struct {
	ID             string `json:"id"`
	Timestamp      int64  `json:"timestamp"`
	URL            string `json:"url"`
	UserAgent      string `json:"userAgent"`
	ConnectionType string `json:"connectionType"`
	Metrics        *struct {
		LCP  *float64 `json:"lcp"`
		INP  *float64 `json:"inp"`
		CLS  *float64 `json:"cls"`
		FCP  *float64 `json:"fcp"`
		TTFB *float64 `json:"ttfb"`
	} `json:"metrics"`
}

var errMissingMetrics = errors.New("metrics is required")

func (req ingestRequest) sample(now time.Time) (models.Sample, error) {
	if req.Metrics == nil {
		return models.Sample{}, errMissingMetrics
	}
	fields := []struct {
		kind vitals.Kind
		val  *float64
	}{
		{vitals.LCP, req.Metrics.LCP},
		{vitals.INP, req.Metrics.INP},
		{vitals.CLS, req.Metrics.CLS},
		{vitals.FCP, req.Metrics.FCP},
		{vitals.TTFB, req.Metrics.TTFB},
	}

	var v models.Vitals
	for _, f := range fields {
		if f.val == nil {
			return models.Sample{}, fmt.Errorf("metrics.%s is required", f.kind)
		}
		if *f.val < 0 {
			return models.Sample{}, fmt.Errorf("metrics.%s must not be negative", f.kind)
		}
		vitals.Set(&v, f.kind, *f.val)
	}

	sample := models.Sample{
		ID:             req.ID,
		Timestamp:      req.Timestamp,
		URL:            req.URL,
		Metrics:        v,
		UserAgent:      req.UserAgent,
		ConnectionType: req.ConnectionType,
		Score:          vitals.Score(v),
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.Timestamp <= 0 {
		sample.Timestamp = now.UnixMilli()
	}
	if sample.ConnectionType == "" {
		sample.ConnectionType = models.UnknownConnection
	}
	return sample, nil
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	now := s.now()
	sample, err := req.sample(now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The store would evict it on arrival.
	if retention := s.store.Retention(); sample.Timestamp < now.Add(-retention).UnixMilli() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("timestamp is older than the %s retention window", retention))
		return
	}

	queued := s.accept(sample)
	if !queued {
		writeError(w, http.StatusServiceUnavailable, "queue full")
		return
	}
	writeJSON(w, http.StatusCreated, models.Response{Success: true, Data: sample})
}

// accept stores the sample and queues it for fan-out. The sample is stored
// even when the queue is full.
func (s *Server) accept(sample models.Sample) bool {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	trend := s.store.Ingest(sample)
	samplesIngested.Inc()
	sampleScore.Observe(float64(sample.Score))

	select {
	case s.samples <- models.MetricUpdate{Metric: sample, Trend: trend}:
		return true
	default:
		fanoutDropped.Inc()
		s.log.Warn("fan-out queue full, sample stored only", "id", sample.ID)
		return false
	}
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}
	writeJSON(w, http.StatusOK, models.Response{Success: true, Data: s.store.Latest(limit)})
}

func (s *Server) historicalHandler(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(mux.Vars(r)["hours"])
	if err != nil || hours < 1 || hours > maxHours {
		writeJSON(w, http.StatusBadRequest, models.HistoricalResponse{
			Error: fmt.Sprintf("hours must be an integer between 1 and %d", maxHours),
		})
		return
	}
	win := s.store.QueryWindow(hours)
	writeJSON(w, http.StatusOK, models.HistoricalResponse{
		Success:    true,
		Data:       win.Data,
		TimeRange:  win.TimeRange,
		Aggregates: win.Aggregates,
	})
}

func (s *Server) thresholdsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Response{Success: true, Data: vitals.Table()})
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	rules := s.rules
	if rules == nil {
		rules = []alerts.Rule{}
	}
	writeJSON(w, http.StatusOK, models.Response{Success: true, Data: rules})
}

// ProcessSamples drains the fan-out queue until ctx is cancelled, then
// handles whatever is still queued before returning. Updates reach the live
// channel first; the mirror and publisher run on their own goroutine and a
// slow sink never delays a broadcast. Sink failures are only logged.
func (s *Server) ProcessSamples(ctx context.Context) {
	sinks := make(chan models.Sample, cap(s.samples))
	sinksDone := make(chan struct{})
	// Queued samples still reach the sinks after ctx ends.
	sinkCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(sinksDone)
		for sample := range sinks {
			s.sink(sinkCtx, sample)
		}
	}()
	defer func() {
		close(sinks)
		<-sinksDone
	}()

	for {
		select {
		case <-ctx.Done():
			s.drain(sinks)
			return
		case update := <-s.samples:
			s.process(update, sinks)
		}
	}
}

func (s *Server) drain(sinks chan<- models.Sample) {
	n := 0
	for {
		select {
		case update := <-s.samples:
			s.process(update, sinks)
			n++
		default:
			if n > 0 {
				s.log.Info("drained fan-out queue", "samples", n)
			}
			return
		}
	}
}

func (s *Server) process(update models.MetricUpdate, sinks chan<- models.Sample) {
	sample := update.Metric

	if s.live != nil && !s.live.Broadcast(update) {
		s.log.Debug("live channel stopped, update not broadcast", "id", sample.ID)
	}

	for _, kind := range vitals.Kinds {
		v := vitals.Value(sample.Metrics, kind)
		lastValue.WithLabelValues(string(kind)).Set(v)
		ratingsTotal.WithLabelValues(string(kind), string(vitals.Rate(kind, v))).Inc()
	}

	for _, b := range alerts.Evaluate(s.rules, sample) {
		alertBreaches.WithLabelValues(b.Rule.ID).Inc()
		s.log.Warn("alert threshold breached",
			"rule", b.Rule.ID, "metric", b.Rule.Metric, "value", b.Value,
			"condition", b.Rule.Condition, "threshold", b.Rule.Threshold, "url", sample.URL)
	}

	if s.mirror == nil && s.publisher == nil {
		return
	}
	select {
	case sinks <- sample:
	default:
		sinkDropped.Inc()
		s.log.Warn("sink queue full, sample not mirrored", "id", sample.ID)
	}
}

func (s *Server) sink(ctx context.Context, sample models.Sample) {
	if s.mirror != nil {
		if err := s.mirror.StoreSample(ctx, sample); err != nil {
			s.log.Error("failed to mirror sample", "id", sample.ID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, sample); err != nil {
			s.log.Error("failed to publish sample", "id", sample.ID, "error", err)
		}
	}
}

// Run serves on addr and processes samples until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.ProcessSamples(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server is ready to handle requests", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("could not listen on %s: %w", addr, err)
		}
		close(errCh)
	}()

	var runErr error
	select {
	case err := <-errCh:
		runErr = err
	case <-ctx.Done():
		s.log.Info("server is shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("could not gracefully shutdown the server: %w", err)
		}
	}

	// Shutdown has returned, so no handler can enqueue any more.
	stopWorker()
	<-workerDone
	s.log.Info("server stopped")
	return runErr
}
