// Package transcription runs the server side of a transcription request:
// load audio, call the provider and stream status and result events.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/apierr"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const (
	StatusStarted   = "Processing started"
	StatusCompleted = "Processing completed"

	DefaultMaxAudioBytes = 2 << 30
)

// Provider turns audio bytes into a provider result.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, contentType string, opts domain.TranscribeOptions) (*domain.TranscriptionResult, error)
}

// BlobStore holds uploaded audio until it has been transcribed.
type BlobStore interface {
	Name() string
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Emit writes one event to the response stream.
type Emit func(ev domain.StreamEvent) error

// Audio is a request body ready for the provider.
type Audio struct {
	Name        string
	ContentType string
	Data        []byte
}

type Config struct {
	Options       domain.TranscribeOptions
	MaxAudioBytes int64
}

type Service struct {
	log      *logger.Logger
	provider Provider
	blobs    BlobStore
	cfg      Config
}

// NewService wires a provider and an optional blob store; without a store
// only direct uploads can be transcribed.
func NewService(log *logger.Logger, provider Provider, blobs BlobStore, cfg Config) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("transcription provider required")
	}
	if cfg.Options == (domain.TranscribeOptions{}) {
		cfg.Options = domain.DefaultTranscribeOptions()
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	return &Service{
		log:      log.With("service", "TranscriptionService"),
		provider: provider,
		blobs:    blobs,
		cfg:      cfg,
	}, nil
}

func (s *Service) ProviderName() string { return s.provider.Name() }

func (s *Service) MaxAudioBytes() int64 { return s.cfg.MaxAudioBytes }

// ReadUpload buffers a multipart file part.
func (s *Service) ReadUpload(r io.Reader, name, contentType string) (Audio, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxAudioBytes+1))
	if err != nil {
		return Audio{}, apierr.New(http.StatusBadRequest, apierr.CodeInvalidRequest, fmt.Errorf("read upload: %w", err))
	}
	if int64(len(data)) > s.cfg.MaxAudioBytes {
		return Audio{}, apierr.New(http.StatusRequestEntityTooLarge, apierr.CodeInvalidRequest, fmt.Errorf("file exceeds %d bytes", s.cfg.MaxAudioBytes))
	}
	if len(data) == 0 {
		return Audio{}, apierr.New(http.StatusBadRequest, apierr.CodeMissingFile, errors.New("no file uploaded"))
	}
	return Audio{Name: name, ContentType: detectContentType(name, contentType, data), Data: data}, nil
}

// Load downloads a blob. Failures happen before any stream bytes are
// written and are returned as *apierr.Error.
func (s *Service) Load(ctx context.Context, filePath string) (Audio, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return Audio{}, apierr.New(http.StatusBadRequest, apierr.CodeInvalidRequest, errors.New("no file path provided"))
	}
	if s.blobs == nil {
		return Audio{}, apierr.New(http.StatusServiceUnavailable, apierr.CodeBlobDownloadFailed, errors.New("blob store not configured"))
	}
	rc, err := s.blobs.Download(ctx, filePath)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			return Audio{}, apierr.New(http.StatusNotFound, apierr.CodeBlobDownloadFailed, err)
		}
		s.log.Error("Blob download failed", "store", s.blobs.Name(), "path", filePath, "error", err)
		return Audio{}, apierr.New(http.StatusBadGateway, apierr.CodeBlobDownloadFailed, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, s.cfg.MaxAudioBytes+1))
	if err != nil {
		return Audio{}, apierr.New(http.StatusBadGateway, apierr.CodeBlobDownloadFailed, fmt.Errorf("read blob: %w", err))
	}
	if int64(len(data)) > s.cfg.MaxAudioBytes {
		return Audio{}, apierr.New(http.StatusRequestEntityTooLarge, apierr.CodeInvalidRequest, fmt.Errorf("blob exceeds %d bytes", s.cfg.MaxAudioBytes))
	}
	s.log.Info("File downloaded", "path", filePath, "bytes", len(data))
	return Audio{Name: filePath, ContentType: detectContentType(filePath, "", data), Data: data}, nil
}

// Run emits "Processing started", the raw provider result and
// "Processing completed". A provider failure is emitted as an error event
// and returned.
func (s *Service) Run(ctx context.Context, in Audio, emit Emit) error {
	_, err := s.run(ctx, in, emit)
	return err
}

// run reports whether the provider returned a result, separately from any
// later write failure.
func (s *Service) run(ctx context.Context, in Audio, emit Emit) (bool, error) {
	if err := emit(domain.StatusEvent(StatusStarted)); err != nil {
		return false, err
	}
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "transcription.provider",
		attribute.String("provider", s.provider.Name()),
		attribute.String("audio.content_type", in.ContentType),
		attribute.Int("audio.bytes", len(in.Data)),
	)
	res, err := s.provider.Transcribe(ctx, in.Data, in.ContentType, s.cfg.Options)
	if res != nil {
		span.SetAttributes(attribute.Int("transcript.words", len(res.Words())))
	}
	observability.EndSpan(span, err)
	if err != nil {
		s.log.Error("Transcription failed", "provider", s.provider.Name(), "name", in.Name, "bytes", len(in.Data), "error", err)
		_ = emit(domain.ErrorEvent("Transcription failed"))
		return false, apierr.New(http.StatusBadGateway, apierr.CodeTranscriptionFailed, err)
	}
	s.log.Info("Transcription finished",
		"provider", s.provider.Name(),
		"words", len(res.Words()),
		"duration", time.Since(start).String(),
	)
	if err := emit(domain.ResultEvent(res)); err != nil {
		return true, err
	}
	return true, emit(domain.StatusEvent(StatusCompleted))
}

// TranscribeBlob runs a loaded blob and deletes it once the provider has
// returned a result, even if the client went away while it was written.
// A failed delete is only logged.
func (s *Service) TranscribeBlob(ctx context.Context, filePath string, in Audio, emit Emit) error {
	transcribed, err := s.run(ctx, in, emit)
	if transcribed {
		s.release(filePath)
	}
	return err
}

func (s *Service) release(filePath string) {
	if s.blobs == nil {
		return
	}
	// The request context may already be gone once the stream is written.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, filePath); err != nil {
		observability.Current().IncBlobCleanup(false)
		s.log.Warn("Blob delete failed", "store", s.blobs.Name(), "path", filePath, "error", err)
		return
	}
	observability.Current().IncBlobCleanup(true)
	s.log.Info("File deleted", "path", filePath)
}

func detectContentType(name, declared string, data []byte) string {
	if ct := strings.TrimSpace(declared); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := audio.ContentTypeFor(name); ct != "application/octet-stream" {
		return ct
	}
	if len(data) > 0 {
		if ct := http.DetectContentType(data); ct != "application/octet-stream" {
			return ct
		}
	}
	return "application/octet-stream"
}
