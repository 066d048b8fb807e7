// Package summary turns transcript groups into meeting notes through a text
// generation provider and streams progress while it runs.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/apierr"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const SystemPrompt = `You are an assistant that writes meeting notes from a diarized transcript.
The user message is a JSON array of transcript groups, each with a speaker number, a start time in seconds and the text spoken.

Produce structured meeting notes in Markdown with these sections:
1. Title: one line describing the meeting.
2. Participants: the speakers that appear (Speaker 0, Speaker 1, ...), with a role if the transcript states one.
3. Key points: the main topics and decisions, in order.
4. Action items: each with an owner when one is named.
5. Next steps.

Be concise and factual. Use only what the transcript says. When something is unclear or ambiguous, do not guess: write it down and mark it "to be clarified".`

const (
	StatusStarted      = "Summarizing transcript"
	StatusWriting      = "Writing summary"
	progressEvery      = time.Second
	NothingToSummarize = "Nothing to summarize"
)

// Generator produces text for a system prompt and user content. Streaming
// providers call onDelta per fragment; others call it once.
type Generator interface {
	Name() string
	StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error)
}

// Emit writes one event to the response stream.
type Emit func(ev domain.StreamEvent) error

type Service struct {
	log       *logger.Logger
	generator Generator
	now       func() time.Time
}

func NewService(log *logger.Logger, g Generator) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if g == nil {
		return nil, fmt.Errorf("summary generator required")
	}
	return &Service{log: log.With("service", "SummaryService"), generator: g, now: time.Now}, nil
}

func (s *Service) ProviderName() string { return s.generator.Name() }

// Validate rejects requests that would produce an empty prompt. It runs
// before the stream starts.
func Validate(groups []domain.TranscriptGroup) error {
	if len(groups) == 0 {
		return apierr.New(http.StatusBadRequest, apierr.CodeInvalidRequest, errors.New(strings.ToLower(NothingToSummarize)))
	}
	for _, g := range groups {
		if strings.TrimSpace(g.Text) != "" {
			return nil
		}
	}
	return apierr.New(http.StatusBadRequest, apierr.CodeInvalidRequest, errors.New("transcript groups have no text"))
}

// UserContent is the serialized group array sent as the user message.
func UserContent(groups []domain.TranscriptGroup) (string, error) {
	raw, err := json.Marshal(groups)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Run streams {message} progress, then {summary}, then [DONE]. A provider
// failure is emitted as an error event and returned.
func (s *Service) Run(ctx context.Context, groups []domain.TranscriptGroup, emit Emit) error {
	user, err := UserContent(groups)
	if err != nil {
		return apierr.New(http.StatusBadRequest, apierr.CodeInvalidRequest, err)
	}
	if err := emit(domain.ProgressEvent(StatusStarted)); err != nil {
		return err
	}

	p := &progress{emit: emit, now: s.now}
	start := time.Now()
	sctx, span := observability.StartSpan(ctx, "summary.generate",
		attribute.String("provider", s.generator.Name()),
		attribute.Int("transcript.groups", len(groups)),
		attribute.Int("prompt.chars", len(user)),
	)
	text, err := s.generator.StreamText(sctx, SystemPrompt, user, p.delta)
	if err == nil {
		err = p.err()
	}
	span.SetAttributes(attribute.Int("summary.chars", len(text)))
	observability.EndSpan(span, err)
	if err != nil {
		s.log.Error("Summary failed", "provider", s.generator.Name(), "groups", len(groups), "error", err)
		_ = emit(domain.ErrorEvent("Summary failed"))
		return apierr.New(http.StatusBadGateway, apierr.CodeSummaryFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		_ = emit(domain.ErrorEvent("Summary failed"))
		return apierr.New(http.StatusBadGateway, apierr.CodeSummaryFailed, errors.New("empty summary"))
	}
	s.log.Info("Summary finished",
		"provider", s.generator.Name(),
		"groups", len(groups),
		"chars", len(text),
		"duration", time.Since(start).String(),
	)
	if err := emit(domain.SummaryEvent(text)); err != nil {
		return err
	}
	return emit(domain.DoneEvent())
}

// progress turns generator deltas into at most one {message} per
// progressEvery. The first delta always emits.
type progress struct {
	mu      sync.Mutex
	emit    Emit
	now     func() time.Time
	last    time.Time
	chars   int
	emitErr error
}

func (p *progress) delta(d string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.emitErr != nil {
		return
	}
	p.chars += len(d)
	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < progressEvery {
		return
	}
	p.last = now
	p.emitErr = p.emit(domain.ProgressEvent(fmt.Sprintf("%s (%d characters)", StatusWriting, p.chars)))
}

func (p *progress) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitErr
}
