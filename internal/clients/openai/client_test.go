package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(mustTestLogger(t), Config{APIKey: "sk-test", BaseURL: url, MaxRetries: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestStreamTextAccumulatesDeltas(t *testing.T) {
	var gotReq responsesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, d := range []string{"# Meeting", " notes"} {
			fmt.Fprintf(w, "event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":%q}\n\n", d)
			fl.Flush()
		}
		fmt.Fprint(w, "event: response.completed\ndata: {\"type\":\"response.completed\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"ignored\"}\n\n")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var deltas []string
	text, err := c.StreamText(context.Background(), "system prompt", "user content", func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if text != "# Meeting notes" {
		t.Fatalf("text: want=%q got=%q", "# Meeting notes", text)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas: want=2 got=%d", len(deltas))
	}
	if !gotReq.Stream || gotReq.Model != defaultModel || len(gotReq.Input) != 2 || gotReq.Input[0].Role != "system" {
		t.Fatalf("request: got=%+v", gotReq)
	}
}

func TestStreamTextRetriesOverload(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"ok\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv.URL).StreamText(context.Background(), "s", "u", nil)
	if err != nil || text != "ok" {
		t.Fatalf("StreamText: text=%q err=%v", text, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}
}

func TestStreamTextSurfacesStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"message\":\"boom\"}}\n\n")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).StreamText(context.Background(), "s", "u", nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("want stream error, got %v", err)
	}
}

func TestConfigFromEnvTemperature(t *testing.T) {
	t.Setenv("OPENAI_TEMPERATURE", "off")
	if cfg := ConfigFromEnv(); cfg.Temperature != nil {
		t.Fatalf("want temperature omitted, got %v", *cfg.Temperature)
	}
	t.Setenv("OPENAI_TEMPERATURE", "0.7")
	if cfg := ConfigFromEnv(); cfg.Temperature == nil || *cfg.Temperature != 0.7 {
		t.Fatalf("want temperature 0.7")
	}
}
