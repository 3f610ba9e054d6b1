// Package telemetry wires up Prometheus + OpenTelemetry exporters used
// across the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vantage/pkg/config"
	"vantage/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds telemetry providers and exporters.
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds every application metric instrument.
type Metrics struct {
	// Query lifecycle
	QueriesTotal    metric.Int64Counter
	QueriesByType   metric.Int64Counter
	QueryDuration   metric.Float64Histogram
	ChaosInjections metric.Int64Counter

	// Positive cache
	CacheHits     metric.Int64Counter
	CacheMisses   metric.Int64Counter
	CacheSize     metric.Int64UpDownCounter
	StaleServed   metric.Int64Counter
	PrefetchRuns  metric.Int64Counter

	// Negative cache
	NegativeObserved    metric.Int64Counter
	NegativeSpeculative metric.Int64Counter

	// Upstream forwarding
	ForwardSuccess metric.Int64Counter
	ForwardFailure metric.Int64Counter
	UpstreamTrust  metric.Float64Gauge
	UpstreamRTT    metric.Float64Gauge

	// Recursive resolution
	RecursiveQueries     metric.Int64Counter
	RecursiveDepth       metric.Int64Histogram
	DelegationCacheHits  metric.Int64Counter
	CuriosityWalks       metric.Int64Counter

	// Storage
	JournalDropped metric.Int64Counter
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	if cfg.TracingEnabled {
		if err := t.setupTracing(); err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
	} else {
		t.tracerProvider = tracenoop.NewTracerProvider()
	}

	logger.Info("telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
		"tracing", cfg.TracingEnabled,
	)

	return t, nil
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}
	t.logger.Info("prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

func (t *Telemetry) setupTracing() error {
	// A real OTLP exporter would be configured here; this project only
	// surfaces traces through the per-query journal, so the provider stays
	// a no-op even with tracing "enabled" in config.
	t.tracerProvider = tracenoop.NewTracerProvider()
	otel.SetTracerProvider(t.tracerProvider)
	t.logger.Info("tracing enabled", "endpoint", t.cfg.TracingEndpoint)
	return nil
}

func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("prometheus server failed", "error", err)
		}
	}()
	return nil
}

// InitMetrics initializes and returns all application metrics.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("vantage")
	m := &Metrics{}

	var err error
	if m.QueriesTotal, err = meter.Int64Counter("dns.queries.total", metric.WithDescription("Total queries received")); err != nil {
		return nil, err
	}
	if m.QueriesByType, err = meter.Int64Counter("dns.queries.by_type", metric.WithDescription("Queries by RR type")); err != nil {
		return nil, err
	}
	if m.QueryDuration, err = meter.Float64Histogram("dns.query.duration", metric.WithDescription("Query processing duration"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.ChaosInjections, err = meter.Int64Counter("dns.chaos.injected", metric.WithDescription("Queries failed by the chaos gate")); err != nil {
		return nil, err
	}
	if m.CacheHits, err = meter.Int64Counter("dns.cache.hits", metric.WithDescription("Positive cache hits")); err != nil {
		return nil, err
	}
	if m.CacheMisses, err = meter.Int64Counter("dns.cache.misses", metric.WithDescription("Positive cache misses")); err != nil {
		return nil, err
	}
	if m.CacheSize, err = meter.Int64UpDownCounter("dns.cache.size", metric.WithDescription("Entries in the positive cache")); err != nil {
		return nil, err
	}
	if m.StaleServed, err = meter.Int64Counter("dns.cache.stale_served", metric.WithDescription("Responses served from an expired entry within grace")); err != nil {
		return nil, err
	}
	if m.PrefetchRuns, err = meter.Int64Counter("dns.prefetch.runs", metric.WithDescription("Background prefetch refreshes attempted")); err != nil {
		return nil, err
	}
	if m.NegativeObserved, err = meter.Int64Counter("dns.negcache.observed", metric.WithDescription("Negative cache entries from real NXDOMAIN/NODATA responses")); err != nil {
		return nil, err
	}
	if m.NegativeSpeculative, err = meter.Int64Counter("dns.negcache.speculative", metric.WithDescription("Negative cache entries seeded speculatively from typo variants")); err != nil {
		return nil, err
	}
	if m.ForwardSuccess, err = meter.Int64Counter("dns.forward.success", metric.WithDescription("Upstream forwards that returned a valid response")); err != nil {
		return nil, err
	}
	if m.ForwardFailure, err = meter.Int64Counter("dns.forward.failure", metric.WithDescription("Upstream forwards that failed or timed out")); err != nil {
		return nil, err
	}
	if m.UpstreamTrust, err = meter.Float64Gauge("dns.upstream.trust_score", metric.WithDescription("Current trust score per upstream")); err != nil {
		return nil, err
	}
	if m.UpstreamRTT, err = meter.Float64Gauge("dns.upstream.rtt_ms", metric.WithDescription("Current smoothed RTT per upstream")); err != nil {
		return nil, err
	}
	if m.RecursiveQueries, err = meter.Int64Counter("dns.recursive.queries", metric.WithDescription("Queries resolved via iterative recursion")); err != nil {
		return nil, err
	}
	if m.RecursiveDepth, err = meter.Int64Histogram("dns.recursive.depth", metric.WithDescription("Zone-cut hops taken to reach an answer")); err != nil {
		return nil, err
	}
	if m.DelegationCacheHits, err = meter.Int64Counter("dns.delegation.cache_hits", metric.WithDescription("Recursive resolutions short-circuited by the delegation cache")); err != nil {
		return nil, err
	}
	if m.CuriosityWalks, err = meter.Int64Counter("dns.recursive.curiosity_walks", metric.WithDescription("Background glue-record curiosity resolutions")); err != nil {
		return nil, err
	}
	if m.JournalDropped, err = meter.Int64Counter("dns.journal.dropped", metric.WithDescription("Query journal entries dropped due to a full buffer")); err != nil {
		return nil, err
	}

	return m, nil
}

// MeterProvider returns the meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider { return t.meterProvider }

// TracerProvider returns the tracer provider.
func (t *Telemetry) TracerProvider() trace.TracerProvider { return t.tracerProvider }

// RecordCacheHit increments the positive-cache hit counter. m may be nil
// (telemetry disabled); every Record* method is a safe no-op on a nil
// receiver so callers never need their own nil check.
func (m *Metrics) RecordCacheHit() {
	if m != nil && m.CacheHits != nil {
		m.CacheHits.Add(context.Background(), 1)
	}
}

// RecordCacheMiss increments the positive-cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	if m != nil && m.CacheMisses != nil {
		m.CacheMisses.Add(context.Background(), 1)
	}
}

// RecordCacheSizeDelta adjusts the cache-size gauge by delta (+1 on
// admission of a new key, -1 on eviction).
func (m *Metrics) RecordCacheSizeDelta(delta int) {
	if m != nil && m.CacheSize != nil {
		m.CacheSize.Add(context.Background(), int64(delta))
	}
}

// RecordStaleServed increments the stale-serve counter.
func (m *Metrics) RecordStaleServed() {
	if m != nil && m.StaleServed != nil {
		m.StaleServed.Add(context.Background(), 1)
	}
}

// RecordNegativeCacheAdmission increments the observed or speculative
// negative-cache counter depending on origin.
func (m *Metrics) RecordNegativeCacheAdmission(origin string) {
	if m == nil {
		return
	}
	ctx := context.Background()
	if origin == "speculative" && m.NegativeSpeculative != nil {
		m.NegativeSpeculative.Add(ctx, 1)
	} else if m.NegativeObserved != nil {
		m.NegativeObserved.Add(ctx, 1)
	}
}

// RecordQuery increments the query-lifecycle counters for one completed
// request: the overall total, the per-type breakdown, and its latency.
func (m *Metrics) RecordQuery(qtype string, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	if m.QueriesTotal != nil {
		m.QueriesTotal.Add(ctx, 1)
	}
	if m.QueriesByType != nil {
		m.QueriesByType.Add(ctx, 1, metric.WithAttributes(attribute.String("type", qtype)))
	}
	if m.QueryDuration != nil {
		m.QueryDuration.Record(ctx, float64(elapsed.Milliseconds()))
	}
}

// RecordChaosInjection increments the chaos-gate rejection counter.
func (m *Metrics) RecordChaosInjection() {
	if m != nil && m.ChaosInjections != nil {
		m.ChaosInjections.Add(context.Background(), 1)
	}
}

// RecordForward increments the upstream-forward success or failure counter.
func (m *Metrics) RecordForward(success bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	if success && m.ForwardSuccess != nil {
		m.ForwardSuccess.Add(ctx, 1)
	} else if !success && m.ForwardFailure != nil {
		m.ForwardFailure.Add(ctx, 1)
	}
}

// RecordRecursiveQuery increments the recursive-resolution counter and
// records the delegation-chain depth walked to answer it.
func (m *Metrics) RecordRecursiveQuery(depth int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	if m.RecursiveQueries != nil {
		m.RecursiveQueries.Add(ctx, 1)
	}
	if m.RecursiveDepth != nil {
		m.RecursiveDepth.Record(ctx, int64(depth))
	}
}

// AddDroppedQuery implements storage.MetricsRecorder, the interface the
// storage package declares to avoid an import cycle with telemetry.
func (m *Metrics) AddDroppedQuery(ctx context.Context, count int64) {
	if m != nil && m.JournalDropped != nil {
		m.JournalDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("telemetry shut down")
	return nil
}
