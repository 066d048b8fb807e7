package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

func TestTraceContextPropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen *ctxutil.TraceData
	r.GET("/healthcheck", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set(headerRequestID, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen == nil || seen.RequestID != "req-1" {
		t.Fatalf("request id in context: want=req-1 got=%+v", seen)
	}
	if seen.TraceID == "" {
		t.Fatalf("trace id: want generated id")
	}
	if got := rec.Header().Get(headerRequestID); got != "req-1" {
		t.Fatalf("response request id: want=req-1 got=%q", got)
	}
}

func TestTraceContextReplacesUnsafeRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, bad := range []string{"a b", "x\x7fy", "line\nbreak", strings.Repeat("a", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
		req.Header[headerRequestID] = []string{bad}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		got := rec.Header().Get(headerRequestID)
		if got == bad || !validRequestID(got) {
			t.Fatalf("request id %q: want replacement got=%q", bad, got)
		}
	}
}

func TestTraceContextUsesServerSpan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var traceID string
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, span := tp.Tracer("test").Start(c.Request.Context(), "GET /healthcheck")
		defer span.End()
		traceID = span.SpanContext().TraceID().String()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(AttachTraceContext())
	r.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set(headerRequestID, "req-7")
	req.Header.Set(headerTraceID, "client-trace")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerTraceID); got != traceID {
		t.Fatalf("trace id: want span id %s got=%q", traceID, got)
	}
	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans: want=1 got=%d", len(spans))
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == "request.id" && kv.Value.AsString() == "req-7" {
			found = true
		}
	}
	if !found {
		t.Fatalf("span attributes: want request.id=req-7 got=%v", spans[0].Attributes())
	}
}

func TestRequestLoggerAndMetricsTolerateNil(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(nil), RequestLogger(logger.NewNop()), Metrics(nil))
	r.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("response: want=200 ok got=%d %q", rec.Code, rec.Body.String())
	}
}
