package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/transcript"
	"github.com/yungbote/aitranscriber-backend/internal/upload"
)

type Reducer interface {
	Reduce(ctx context.Context, f audio.File, sink domain.StatusSink) (audio.Result, error)
}

type Uploader interface {
	Upload(ctx context.Context, f audio.File, objectName string, onProgress upload.ProgressFunc) (domain.UploadSession, error)
}

// Outcome is everything one processed file produced.
type Outcome struct {
	Applied []string
	Upload  domain.UploadSession
	Words   []domain.Word
	Groups  []domain.TranscriptGroup
	Summary string
}

// Session processes one file at a time. Starting a new file cancels the
// run in progress; its upload fingerprint is kept for a later resume.
type Session struct {
	log         *logger.Logger
	reducer     Reducer
	uploader    Uploader
	transcriber *Transcriber
	recompute   *Recomputer
	status      domain.StatusSink

	mu     sync.Mutex
	cancel context.CancelFunc
	run    int
}

// NewSession wires the stages. A nil uploader sends audio straight to the
// upload transcription endpoint instead of going through the blob store.
func NewSession(log *logger.Logger, reducer Reducer, uploader Uploader, transcriber *Transcriber, summarizer *Summarizer, status domain.StatusSink) *Session {
	return &Session{
		log:         nopLogger(log).With("service", "Session"),
		reducer:     reducer,
		uploader:    uploader,
		transcriber: transcriber,
		recompute:   NewRecomputer(summarizer.Summarize, status),
		status:      status,
	}
}

// Process runs reduce, upload, transcribe, group and summarize in order.
// Any failure resets the status to empty before returning.
func (s *Session) Process(ctx context.Context, f audio.File) (Outcome, error) {
	ctx, run := s.begin(ctx)
	defer s.end(run)

	out, err := s.process(ctx, f)
	if err != nil {
		s.status.Emit("")
		return out, err
	}
	return out, nil
}

func (s *Session) begin(ctx context.Context) (context.Context, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.run++
	return ctx, s.run
}

func (s *Session) end(run int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run == s.run && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) process(ctx context.Context, f audio.File) (Outcome, error) {
	var out Outcome

	if s.reducer != nil {
		res, err := s.reducer.Reduce(ctx, f, s.status)
		if err != nil {
			return out, err
		}
		f = res.File
		out.Applied = res.Applied
	}

	var words []domain.Word
	var err error
	if s.uploader != nil {
		objectName := uuid.NewString()
		if ext := f.Ext(); ext != "" {
			objectName += "." + ext
		}
		s.status.Emit("Uploading file")
		out.Upload, err = s.uploader.Upload(ctx, f, objectName, func(u domain.UploadSession) {
			s.status.Emit(fmt.Sprintf("Uploading file: %.0f%%", u.Progress()*100))
		})
		if err != nil {
			return out, err
		}
		s.log.Info("Upload finished", "object", objectName, "bytes", out.Upload.BytesTotal)
		words, err = s.transcriber.TranscribeRef(ctx, objectName, s.status)
	} else {
		words, err = s.transcriber.TranscribeFile(ctx, f, s.status)
	}
	if err != nil {
		return out, err
	}
	out.Words = words
	out.Groups = transcript.Group(words)

	summary, err := s.summarize(ctx, out.Groups)
	if err != nil {
		if errors.Is(err, ErrNothingToSummarize) {
			return out, nil
		}
		return out, err
	}
	out.Summary = summary
	return out, nil
}

func (s *Session) summarize(ctx context.Context, groups []domain.TranscriptGroup) (string, error) {
	ch := s.recompute.Update(ctx, groups)
	if ch == nil {
		if summary, ok := s.recompute.Last(); ok {
			return summary, nil
		}
		// Same groups as a run that failed or is still going: start over.
		s.recompute.Reset()
		ch = s.recompute.Update(ctx, groups)
	}
	select {
	case res := <-ch:
		return res.Summary, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
