package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

// Metrics is nil when metrics are disabled; every method is nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	llmTokens        *prometheus.CounterVec

	audioStages       *prometheus.CounterVec
	audioStageLatency *prometheus.HistogramVec

	uploadChunks  *prometheus.CounterVec
	uploadRetries *prometheus.CounterVec
	uploadBytes   *prometheus.CounterVec

	blobCleanup *prometheus.CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

// Init registers the process-wide metrics once when METRICS_ENABLED is set.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewMetrics builds a standalone set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "at_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "at_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_provider_requests_total",
			Help: "Calls to transcription/summary providers and blob stores.",
		}, []string{"provider", "operation", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "at_provider_request_duration_seconds",
			Help:    "Provider call latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180, 600},
		}, []string{"provider", "operation"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_llm_tokens_total",
			Help: "Estimated LLM tokens by model and direction.",
		}, []string{"model", "kind"}),
		audioStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_audio_stage_total",
			Help: "Audio size-reduction stages run.",
		}, []string{"stage", "status"}),
		audioStageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "at_audio_stage_duration_seconds",
			Help:    "Audio stage duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		uploadChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_upload_chunks_total",
			Help: "Upload chunk attempts by endpoint and outcome.",
		}, []string{"endpoint", "status"}),
		uploadRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_upload_retries_total",
			Help: "Upload chunk retries by endpoint.",
		}, []string{"endpoint"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_upload_bytes_total",
			Help: "Acknowledged upload bytes by endpoint.",
		}, []string{"endpoint"}),
		blobCleanup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "at_blob_cleanup_total",
			Help: "Source blob deletions after transcription.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.providerRequests, m.providerLatency, m.llmTokens,
		m.audioStages, m.audioStageLatency,
		m.uploadChunks, m.uploadRetries, m.uploadBytes,
		m.blobCleanup,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer serves /metrics on addr until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

// ObserveAPI records one finished request. A non-empty traceID is attached
// as an exemplar so a slow bucket links to the trace that landed in it.
func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration, traceID string) {
	if m == nil {
		return
	}
	counter := m.apiRequests.WithLabelValues(method, route, status)
	latency := m.apiLatency.WithLabelValues(method, route, status)
	if traceID == "" {
		counter.Inc()
		latency.Observe(dur.Seconds())
		return
	}
	ex := prometheus.Labels{"trace_id": traceID}
	if a, ok := counter.(prometheus.ExemplarAdder); ok {
		a.AddWithExemplar(1, ex)
	} else {
		counter.Inc()
	}
	if o, ok := latency.(prometheus.ExemplarObserver); ok {
		o.ObserveWithExemplar(dur.Seconds(), ex)
	} else {
		latency.Observe(dur.Seconds())
	}
}

func (m *Metrics) APIInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) APIInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

// ObserveProvider records one call to an external service. status is an
// HTTP code, a gRPC code name or "error".
func (m *Metrics) ObserveProvider(provider, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.providerRequests.WithLabelValues(provider, operation, status).Inc()
	if dur > 0 {
		m.providerLatency.WithLabelValues(provider, operation).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveLLMRequest(provider, model, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.ObserveProvider(provider, "summarize", status, dur)
	if model == "" {
		model = "unknown"
	}
	if inputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ObservePipelineStage(stage string, ok bool, dur time.Duration) {
	if m == nil {
		return
	}
	m.audioStages.WithLabelValues(stage, okLabel(ok)).Inc()
	m.audioStageLatency.WithLabelValues(stage).Observe(dur.Seconds())
}

func (m *Metrics) ObserveUploadChunk(endpoint string, ok bool, bytes int64) {
	if m == nil {
		return
	}
	m.uploadChunks.WithLabelValues(endpoint, okLabel(ok)).Inc()
	if ok && bytes > 0 {
		m.uploadBytes.WithLabelValues(endpoint).Add(float64(bytes))
	}
}

func (m *Metrics) IncUploadRetry(endpoint string) {
	if m != nil {
		m.uploadRetries.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) IncBlobCleanup(ok bool) {
	if m != nil {
		m.blobCleanup.WithLabelValues(okLabel(ok)).Inc()
	}
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// StatusLabel renders an HTTP status for metric labels.
func StatusLabel(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code)
}
