package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
)

var ErrStreamingUnsupported = errors.New("sse: response writer does not support flushing")

// Writer frames events as "data: <JSON>\n\n" and flushes after each record.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: f}, nil
}

// Start commits the stream headers. Send calls it implicitly.
func (sw *Writer) Start() {
	if sw.started {
		return
	}
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.started = true
	sw.flusher.Flush()
}

func (sw *Writer) Started() bool { return sw.started }

func (sw *Writer) Send(ev domain.StreamEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	return sw.WriteData(payload)
}

// WriteData writes one record with a pre-encoded payload.
func (sw *Writer) WriteData(payload []byte) error {
	sw.Start()
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Encode renders the wire payload of an event. Results are written as the
// bare provider body, without a wrapper key.
func Encode(ev domain.StreamEvent) ([]byte, error) {
	switch ev.Kind {
	case domain.EventStatus:
		return json.Marshal(map[string]string{"status": ev.Status})
	case domain.EventProgress:
		return json.Marshal(map[string]string{"message": ev.Status})
	case domain.EventResult:
		if ev.Result == nil {
			return nil, errors.New("sse: result event without result")
		}
		return json.Marshal(ev.Result)
	case domain.EventSummary:
		return json.Marshal(map[string]string{"summary": ev.Summary})
	case domain.EventError:
		rec := map[string]string{"error": ev.Error}
		if ev.RequestID != "" {
			rec["requestId"] = ev.RequestID
		}
		return json.Marshal(rec)
	case domain.EventDone:
		return []byte(doneSentinel), nil
	default:
		return nil, fmt.Errorf("sse: unknown event kind %d", ev.Kind)
	}
}
