package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	prometheusotel "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const metricsNamespace = "gramsearch"

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type telemetry struct {
	enabled bool
	logger  *slog.Logger

	registry       *prometheus.Registry
	metricsHandler http.Handler
	meter          metric.Meter

	reqCount    atomic.Int64
	errCount    atomic.Int64
	lastStatus  atomic.Int64
	lastLatency atomic.Int64

	httpRequests      metric.Int64Counter
	httpErrors        metric.Int64Counter
	httpLatency       metric.Float64Histogram
	indexDocs         metric.Int64Counter
	indexLatency      metric.Float64Histogram
	searchOps         metric.Int64Counter
	searchLatency     metric.Float64Histogram
	analysisRuns      metric.Int64Counter
	analysisTokens    metric.Int64Counter
	analysisTruncated metric.Int64Counter

	segmentGauge *prometheus.GaugeVec
	walGauge     *prometheus.GaugeVec
	compactions  *prometheus.CounterVec
}

func newTelemetry(ctx context.Context, logger *slog.Logger, enabled bool) *telemetry {
	telemetry := &telemetry{enabled: enabled, logger: logger}
	if !enabled {
		return telemetry
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := prometheusotel.New(prometheusotel.WithRegisterer(registry))
	if err != nil {
		logger.Error("failed to initialize prometheus exporter", "error", err)
		telemetry.enabled = false
		return telemetry
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(metricsNamespace)

	httpReq, _ := meter.Int64Counter("http_requests_total", metric.WithDescription("Total HTTP requests"))
	httpErr, _ := meter.Int64Counter("http_errors_total", metric.WithDescription("HTTP requests that returned an error status"))
	httpLatency, _ := meter.Float64Histogram("http_request_duration_ms", metric.WithDescription("Latency of HTTP requests in milliseconds"), metric.WithUnit("ms"))
	indexDocs, _ := meter.Int64Counter("index_documents_total", metric.WithDescription("Documents processed by the indexing pipeline"))
	indexLatency, _ := meter.Float64Histogram("index_latency_ms", metric.WithDescription("Latency of index mutations"), metric.WithUnit("ms"))
	searchOps, _ := meter.Int64Counter("search_requests_total", metric.WithDescription("Search operations executed"))
	searchLatency, _ := meter.Float64Histogram("search_latency_ms", metric.WithDescription("Latency of search operations"), metric.WithUnit("ms"))
	analysisRuns, _ := meter.Int64Counter("analysis_requests_total", metric.WithDescription("Ad-hoc analysis passes"))
	analysisTokens, _ := meter.Int64Counter("analysis_tokens_total", metric.WithDescription("Tokens emitted by ad-hoc analysis"))
	analysisTruncated, _ := meter.Int64Counter("analysis_truncated_total", metric.WithDescription("Analysis passes whose input hit the read cap"))

	segmentGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: "segments", Help: "Segments currently tracked per index"}, []string{"index"})
	walGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: "wal_offset_bytes", Help: "Last recorded WAL offset"}, []string{"index"})
	compactions := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: "compactions_total", Help: "Segment compactions per index"}, []string{"index"})
	registry.MustRegister(segmentGauge, walGauge, compactions)

	telemetry.registry = registry
	telemetry.metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	telemetry.meter = meter
	telemetry.httpRequests = httpReq
	telemetry.httpErrors = httpErr
	telemetry.httpLatency = httpLatency
	telemetry.indexDocs = indexDocs
	telemetry.indexLatency = indexLatency
	telemetry.searchOps = searchOps
	telemetry.searchLatency = searchLatency
	telemetry.analysisRuns = analysisRuns
	telemetry.analysisTokens = analysisTokens
	telemetry.analysisTruncated = analysisTruncated
	telemetry.segmentGauge = segmentGauge
	telemetry.walGauge = walGauge
	telemetry.compactions = compactions

	telemetry.logger.Info("telemetry initialized", "prometheus", true)
	telemetry.httpRequests.Add(ctx, 0) // ensure metric is created eagerly
	return telemetry
}

func (t *telemetry) recordRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if t == nil || !t.enabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	t.httpRequests.Add(ctx, 1, attrs)
	t.httpLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if status >= http.StatusBadRequest {
		t.httpErrors.Add(ctx, 1, attrs)
	}

	t.reqCount.Add(1)
	t.lastStatus.Store(int64(status))
	t.lastLatency.Store(duration.Milliseconds())
	if status >= http.StatusBadRequest {
		t.errCount.Add(1)
	}
}

func (t *telemetry) recordIndexing(ctx context.Context, indexName string, documents int, segments int, errs int, duration time.Duration) {
	if t == nil || !t.enabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("index", indexName))
	t.indexDocs.Add(ctx, int64(documents), attrs)
	t.indexLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	t.segmentGauge.WithLabelValues(indexName).Set(float64(segments))
	if errs > 0 {
		t.httpErrors.Add(ctx, int64(errs), attrs)
	}
}

func (t *telemetry) recordCompaction(indexName string, segments int) {
	if t == nil || !t.enabled {
		return
	}

	t.compactions.WithLabelValues(indexName).Inc()
	t.segmentGauge.WithLabelValues(indexName).Set(float64(segments))
}

func (t *telemetry) recordSearch(ctx context.Context, indexName string, duration time.Duration) {
	if t == nil || !t.enabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("index", indexName))
	t.searchOps.Add(ctx, 1, attrs)
	t.searchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (t *telemetry) recordAnalysis(ctx context.Context, analyzer string, tokens int, truncated bool) {
	if t == nil || !t.enabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("analyzer", analyzer))
	t.analysisRuns.Add(ctx, 1, attrs)
	t.analysisTokens.Add(ctx, int64(tokens), attrs)
	if truncated {
		t.analysisTruncated.Add(ctx, 1, attrs)
	}
}

func (t *telemetry) observeWAL(indexName string, offset int64) {
	if t == nil || !t.enabled {
		return
	}

	t.walGauge.WithLabelValues(indexName).Set(float64(offset))
}

func (t *telemetry) forgetIndex(indexName string) {
	if t == nil || !t.enabled {
		return
	}

	t.segmentGauge.DeleteLabelValues(indexName)
	t.walGauge.DeleteLabelValues(indexName)
	t.compactions.DeleteLabelValues(indexName)
}

func (t *telemetry) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if t == nil || !t.enabled || t.registry == nil {
		respond(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	t.metricsHandler.ServeHTTP(w, r)
}

func withTelemetry(next http.Handler, telemetry *telemetry, logRequests bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)

		if telemetry != nil {
			telemetry.recordRequest(r.Context(), r.Method, r.URL.Path, recorder.status, duration)
		}
		if logRequests && telemetry != nil && telemetry.logger != nil {
			telemetry.logger.Info("request completed", "method", r.Method, "path", r.URL.Path, "status", recorder.status, "duration_ms", duration.Milliseconds())
		}
	})
}
