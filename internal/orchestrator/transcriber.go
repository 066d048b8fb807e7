package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/sse"
)

const (
	transcribePath = "/api/transcribe"
	uploadPath     = "/api/deepgram"
)

type Transcriber struct {
	log *logger.Logger
	api apiClient
}

func NewTranscriber(log *logger.Logger, cfg Config) *Transcriber {
	return &Transcriber{log: nopLogger(log).With("service", "Transcriber"), api: newAPIClient(cfg)}
}

// TranscribeRef transcribes an object already in the blob store. The
// server deletes the object once it has been transcribed.
func (t *Transcriber) TranscribeRef(ctx context.Context, filePath string, sink domain.StatusSink) ([]domain.Word, error) {
	body, err := json.Marshal(map[string]string{"filePath": filePath})
	if err != nil {
		return nil, err
	}
	resp, code, msg, err := t.api.post(ctx, transcribePath, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &TranscriptionRequestError{StatusCode: code, Body: msg}
	}
	return t.consume(resp, sink)
}

// TranscribeFile sends the audio itself as the multipart "file" field.
func (t *Transcriber) TranscribeFile(ctx context.Context, f audio.File, sink domain.StatusSink) ([]domain.Word, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	ct := f.ContentType
	if ct == "" {
		ct = audio.ContentTypeFor(f.Name)
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, code, msg, err := t.api.post(ctx, uploadPath, mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &TranscriptionRequestError{StatusCode: code, Body: msg}
	}
	return t.consume(resp, sink)
}

// consume reads events until the first result. Bytes after it are not
// read. Malformed records are logged and skipped.
func (t *Transcriber) consume(resp *http.Response, sink domain.StatusSink) ([]domain.Word, error) {
	defer resp.Body.Close()
	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err != nil {
			var pe *sse.ParseError
			if errors.As(err, &pe) {
				t.log.Warn("Skipping malformed stream record", "error", pe)
				continue
			}
			if errors.Is(err, io.EOF) {
				if n := dec.Discarded(); n > 0 {
					t.log.Warn("Stream ended with an unterminated record", "bytes", n)
				}
				return nil, &TranscriptionStreamError{Message: "stream ended without a result"}
			}
			return nil, &TranscriptionStreamError{Message: "read failed", Err: err}
		}
		switch ev.Kind {
		case domain.EventStatus, domain.EventProgress:
			sink.Emit(ev.Status)
		case domain.EventResult:
			if ev.Result == nil || len(ev.Result.Results.Channels) == 0 || len(ev.Result.Results.Channels[0].Alternatives) == 0 {
				return nil, &TranscriptionStreamError{Message: "result has no alternatives"}
			}
			words := ev.Result.Words()
			if words == nil {
				words = []domain.Word{}
			}
			return words, nil
		case domain.EventError:
			return nil, &TranscriptionStreamError{Message: ev.Error, RequestID: ev.RequestID}
		case domain.EventDone:
			return nil, &TranscriptionStreamError{Message: "stream ended without a result"}
		}
	}
}
