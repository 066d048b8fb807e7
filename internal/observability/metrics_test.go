package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Second, "")
	m.ObservePipelineStage("compress", true, time.Second)
	m.ObserveUploadChunk("tus", false, 10)
	m.IncUploadRetry("tus")
	m.IncBlobCleanup(false)
	m.ObserveLLMRequest("openai", "gpt", "200", time.Second, 1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("POST", "/api/summarize", "200", 2*time.Second, "")
	m.ObservePipelineStage("downmix", true, 300*time.Millisecond)
	m.ObserveUploadChunk("gcs", true, 6<<20)
	m.IncUploadRetry("gcs")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`at_api_requests_total{method="POST",route="/api/summarize",status="200"} 1`,
		`at_audio_stage_total{stage="downmix",status="ok"} 1`,
		`at_upload_retries_total{endpoint="gcs"} 1`,
		`at_upload_bytes_total{endpoint="gcs"} 6.291456e+06`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}

func TestAPIExemplarCarriesTraceID(t *testing.T) {
	m := NewMetrics()
	m.ObserveAPI("POST", "/api/deepgram", "200", 3*time.Second, "4bf92f3577b34da6a3ce929d0e0e4736")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text; version=1.0.0")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `trace_id="4bf92f3577b34da6a3ce929d0e0e4736"`) {
		t.Fatalf("exemplar missing from openmetrics exposition:\n%s", rec.Body.String())
	}
}

func TestEnabled(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "yes")
	if !Enabled() {
		t.Fatalf("enabled: want=true")
	}
	t.Setenv("METRICS_ENABLED", "")
	if Enabled() {
		t.Fatalf("enabled: want=false")
	}
}
