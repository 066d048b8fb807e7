package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/sse"
)

const (
	summarizePath = "/api/summarize"

	StatusNothingToSummarize = "Nothing to summarize"
)

type Summarizer struct {
	log *logger.Logger
	api apiClient
}

func NewSummarizer(log *logger.Logger, cfg Config) *Summarizer {
	return &Summarizer{log: nopLogger(log).With("service", "Summarizer"), api: newAPIClient(cfg)}
}

// Summarize posts groups and returns the first summary in the stream. With
// no groups it makes no request and returns ErrNothingToSummarize.
func (s *Summarizer) Summarize(ctx context.Context, groups []domain.TranscriptGroup, sink domain.StatusSink) (string, error) {
	if len(groups) == 0 {
		sink.Emit(StatusNothingToSummarize)
		return "", ErrNothingToSummarize
	}
	body, err := json.Marshal(groups)
	if err != nil {
		return "", err
	}
	resp, code, msg, err := s.api.post(ctx, summarizePath, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", &SummaryRequestError{StatusCode: code, Body: msg}
	}
	return s.consume(resp, sink)
}

func (s *Summarizer) consume(resp *http.Response, sink domain.StatusSink) (string, error) {
	defer resp.Body.Close()
	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			var pe *sse.ParseError
			if errors.As(err, &pe) {
				s.log.Warn("Skipping malformed stream record", "error", pe)
				continue
			}
			if errors.Is(err, io.EOF) {
				if n := dec.Discarded(); n > 0 {
					s.log.Warn("Stream ended with an unterminated record", "bytes", n)
				}
				return "", &SummaryStreamError{Message: "stream ended without a summary"}
			}
			return "", &SummaryStreamError{Message: "read failed", Err: err}
		}
		switch ev.Kind {
		case domain.EventStatus, domain.EventProgress:
			sink.Emit(ev.Status)
		case domain.EventSummary:
			return ev.Summary, nil
		case domain.EventError:
			return "", &SummaryStreamError{Message: ev.Error, RequestID: ev.RequestID}
		case domain.EventDone:
			return "", &SummaryStreamError{Message: "stream ended without a summary"}
		}
	}
}
