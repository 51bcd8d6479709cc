// Package metrics exposes transformation counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/parm-bits/stress-admin-ui/internal/testplan"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prometheus metric names.
const (
	MetricTransformsTotal          = "planforge_transforms_total"
	MetricRuleOutcomesTotal        = "planforge_rule_outcomes_total"
	MetricValidationWarningsTotal  = "planforge_validation_warnings_total"
	MetricConfigFallbacksTotal     = "planforge_config_fallbacks_total"
	MetricTransformDurationSeconds = "planforge_transform_duration_seconds"
)

// Config holds configuration for the exporter.
type Config struct {
	// Port is the HTTP port for the metrics endpoint. Zero picks a free port.
	Port int
	// Path is the URL path for the metrics endpoint.
	// Default: /metrics
	Path string
}

// Exporter counts pipeline runs and serves them over HTTP.
//
// Safe for concurrent use by multiple goroutines.
type Exporter struct {
	mu sync.RWMutex

	config   Config
	registry *prometheus.Registry

	transforms       *prometheus.CounterVec
	ruleOutcomes     *prometheus.CounterVec
	warnings         *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	transformSeconds *prometheus.HistogramVec

	server    *http.Server
	ln        net.Listener
	running   bool
	lastError error
}

func NewExporter(cfg Config) *Exporter {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	e := &Exporter{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	e.transforms = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricTransformsTotal,
		Help: "Number of test plans transformed, by pipeline mode.",
	}, []string{"mode"})
	e.ruleOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricRuleOutcomesTotal,
		Help: "Outcome of every patch rule applied to a test plan.",
	}, []string{"rule", "status"})
	e.warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricValidationWarningsTotal,
		Help: "Structural warnings found in transformed test plans.",
	}, []string{"code"})
	e.fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricConfigFallbacksTotal,
		Help: "Stored configurations that could not be decoded and were replaced by defaults.",
	}, []string{"kind"})
	e.transformSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    MetricTransformDurationSeconds,
		Help:    "Time spent transforming one test plan.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"mode"})

	e.registry.MustRegister(e.transforms, e.ruleOutcomes, e.warnings, e.fallbacks, e.transformSeconds)
	return e
}

// RecordTransform records one pipeline run and every outcome in its report.
func (e *Exporter) RecordTransform(mode testplan.Mode, report testplan.Report, elapsed time.Duration) {
	e.transforms.WithLabelValues(string(mode)).Inc()
	e.transformSeconds.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	for _, o := range report.Outcomes {
		e.ruleOutcomes.WithLabelValues(o.Name, string(o.Status)).Inc()
	}
	for _, w := range report.Warnings {
		e.warnings.WithLabelValues(string(w.Code)).Inc()
	}
}

// RecordConfigFallback counts a configuration replaced by its defaults.
func (e *Exporter) RecordConfigFallback(kind string) {
	e.fallbacks.WithLabelValues(kind).Inc()
}

// Start serves the metrics and /health endpoints.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.config.Port))
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false
	return e.server.Shutdown(ctx)
}

// Port returns the port the endpoint listens on, or 0 before Start.
func (e *Exporter) Port() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ln == nil {
		return 0
	}
	return e.ln.Addr().(*net.TCPAddr).Port
}

func (e *Exporter) Path() string {
	return e.config.Path
}

func (e *Exporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any.
func (e *Exporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Gather collects all metrics from the registry.
func (e *Exporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}
