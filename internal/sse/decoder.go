package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
)

const doneSentinel = "[DONE]"

// ParseError reports a record whose payload could not be decoded. The
// Decoder that returned it remains usable.
type ParseError struct {
	Data string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sse: malformed record %q: %v", truncate(e.Data, 120), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decoder maps records onto domain.StreamEvent values, one per record.
type Decoder struct {
	rd *Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{rd: NewReader(r)}
}

// Next returns the next event. A *ParseError covers a single bad record;
// calling Next again continues with the following one. io.EOF ends the stream.
func (d *Decoder) Next() (domain.StreamEvent, error) {
	for {
		rec, err := d.rd.Next()
		if err != nil {
			return domain.StreamEvent{}, err
		}
		ev, ok, err := DecodeRecord(rec)
		if err != nil {
			return domain.StreamEvent{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// Discarded reports trailing bytes dropped at EOF.
func (d *Decoder) Discarded() int { return d.rd.Discarded() }

type envelope struct {
	Status  *string         `json:"status"`
	Message *string         `json:"message"`
	Summary *string         `json:"summary"`
	Error   json.RawMessage `json:"error"`
	Result  json.RawMessage `json:"result"`
	Results json.RawMessage `json:"results"`
	// RequestID accompanies error records.
	RequestID string `json:"requestId"`
}

// DecodeRecord maps one record to an event. ok is false for JSON objects
// that carry none of the known fields.
func DecodeRecord(rec Record) (domain.StreamEvent, bool, error) {
	data := strings.TrimSpace(rec.Data)
	if data == doneSentinel {
		return domain.DoneEvent(), true, nil
	}
	if data == "" {
		return domain.StreamEvent{}, false, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return domain.StreamEvent{}, false, &ParseError{Data: data, Err: err}
	}
	switch {
	case hasValue(env.Error):
		ev := domain.ErrorEvent(errorText(env.Error))
		ev.RequestID = env.RequestID
		return ev, true, nil
	case hasValue(env.Results):
		var res domain.TranscriptionResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return domain.StreamEvent{}, false, &ParseError{Data: data, Err: err}
		}
		return domain.ResultEvent(&res), true, nil
	case hasValue(env.Result):
		var res domain.TranscriptionResult
		if err := json.Unmarshal(env.Result, &res); err != nil {
			return domain.StreamEvent{}, false, &ParseError{Data: data, Err: err}
		}
		return domain.ResultEvent(&res), true, nil
	case env.Summary != nil:
		return domain.SummaryEvent(*env.Summary), true, nil
	case env.Status != nil:
		return domain.StatusEvent(*env.Status), true, nil
	case env.Message != nil:
		return domain.ProgressEvent(*env.Message), true, nil
	default:
		return domain.StreamEvent{}, false, nil
	}
}

func hasValue(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// errorText accepts "msg" or {"message": "msg"}.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
