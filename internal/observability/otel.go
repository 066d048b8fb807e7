package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/aitranscriber-backend/internal/platform/envutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const tracerName = "github.com/yungbote/aitranscriber-backend"

// OtelConfig describes the process for the trace resource. The provider
// fields let traces be filtered by the backend that served them.
type OtelConfig struct {
	ServiceName           string
	Environment           string
	Version               string
	TranscriptionProvider string
	SummaryProvider       string
	BlobStore             string
}

func (c OtelConfig) attributes() []attribute.KeyValue {
	name := strings.TrimSpace(c.ServiceName)
	if name == "" {
		name = "aitranscriber"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(strings.TrimSpace(c.Version)),
		attribute.String("deployment.environment", strings.TrimSpace(c.Environment)),
	}
	for k, v := range map[string]string{
		"aitranscriber.transcription.provider": c.TranscriptionProvider,
		"aitranscriber.summary.provider":       c.SummaryProvider,
		"aitranscriber.blob_store":             c.BlobStore,
	} {
		if v = strings.TrimSpace(v); v != "" {
			attrs = append(attrs, attribute.String(k, v))
		}
	}
	return attrs
}

// exportSettings is the OTEL_* environment this package understands.
type exportSettings struct {
	enabled  bool
	ratio    float64
	endpoint string
	headers  map[string]string
	insecure bool
}

func exportSettingsFromEnv() exportSettings {
	s := exportSettings{
		enabled:  envutil.Bool("OTEL_ENABLED", false),
		ratio:    0.1,
		endpoint: envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		headers:  parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
		insecure: envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
	if raw := envutil.String("OTEL_SAMPLER_RATIO", ""); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s.ratio = min(max(f, 0), 1)
		}
	}
	return s
}

// parseHeaders reads "k1=v1,k2=v2"; malformed pairs are skipped.
func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

// InitOTel installs the global tracer provider when OTEL_ENABLED is set. It
// returns nil when tracing stays off; spans then go to the no-op provider.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		s := exportSettingsFromEnv()
		if !s.enabled {
			return
		}
		res, err := resource.New(ctx, resource.WithAttributes(cfg.attributes()...))
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.ratio))),
			sdktrace.WithResource(res),
		}
		exp, err := newExporter(ctx, s)
		switch {
		case err != nil:
			if log != nil {
				log.Warn("otel exporter init failed (continuing)", "error", err)
			}
		case exp != nil:
			opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		otelShutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized",
				"endpoint", s.endpoint,
				"ratio", s.ratio,
				"transcription_provider", cfg.TranscriptionProvider,
				"summary_provider", cfg.SummaryProvider,
			)
		}
	})
	return otelShutdown
}

// newExporter prefers OTLP/HTTP and falls back to stdout without an endpoint.
func newExporter(ctx context.Context, s exportSettings) (sdktrace.SpanExporter, error) {
	if s.endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if s.headers != nil {
		opts = append(opts, otlptracehttp.WithHeaders(s.headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// StartSpan opens a span on the service tracer. It resolves the global
// provider on every call, so spans follow whatever InitOTel installed.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks the span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SpanIDs returns the trace and span ids of the active span, or empty
// strings when ctx carries none.
func SpanIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
