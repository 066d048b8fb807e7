package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	awsc "github.com/yungbote/aitranscriber-backend/internal/clients/aws"
	"github.com/yungbote/aitranscriber-backend/internal/clients/deepgram"
	"github.com/yungbote/aitranscriber-backend/internal/clients/eino"
	"github.com/yungbote/aitranscriber-backend/internal/clients/gcp"
	"github.com/yungbote/aitranscriber-backend/internal/clients/gemini"
	"github.com/yungbote/aitranscriber-backend/internal/clients/openai"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/services/summary"
	"github.com/yungbote/aitranscriber-backend/internal/services/transcription"
)

// wiring carries state shared while clients are built: one set of AWS SDK
// clients and the closers to run on shutdown.
type wiring struct {
	cfg Config

	awsOnce sync.Once
	aws     *awsc.Clients
	awsErr  error

	closers []io.Closer
}

func newWiring(cfg Config) *wiring { return &wiring{cfg: cfg} }

func (w *wiring) awsClients(ctx context.Context) (*awsc.Clients, error) {
	w.awsOnce.Do(func() {
		w.aws, w.awsErr = awsc.NewClients(ctx, awsc.Config{Region: w.cfg.AWSRegion, S3Endpoint: w.cfg.S3Endpoint})
	})
	return w.aws, w.awsErr
}

func (w *wiring) onClose(v any) {
	if c, ok := v.(io.Closer); ok {
		w.closers = append(w.closers, c)
	}
}

func resolveTranscriptionProvider(ctx context.Context, log *logger.Logger, w *wiring) (transcription.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(w.cfg.TranscriptionProvider))
	log.Info("Selecting transcription provider", "provider", name)
	switch name {
	case TranscriptionProviderDeepgram:
		return deepgram.New(log, deepgram.ConfigFromEnv())
	case TranscriptionProviderGCPSpeech:
		s, err := gcp.NewSpeech(ctx, log, gcp.SpeechConfig{
			LanguageCode: w.cfg.SpeechLanguage,
			Model:        w.cfg.SpeechModel,
		})
		if err != nil {
			return nil, err
		}
		w.onClose(s)
		return s, nil
	case TranscriptionProviderAWSTranscribe:
		clients, err := w.awsClients(ctx)
		if err != nil {
			return nil, err
		}
		return awsc.NewTranscriber(log, clients.Transcribe, clients.S3, awsc.TranscribeConfig{
			Bucket:       w.cfg.TranscribeBucket,
			LanguageCode: w.cfg.SpeechLanguage,
		})
	default:
		return nil, fmt.Errorf("unsupported TRANSCRIPTION_PROVIDER %q", name)
	}
}

func resolveSummaryGenerator(ctx context.Context, log *logger.Logger, w *wiring) (summary.Generator, error) {
	name := strings.ToLower(strings.TrimSpace(w.cfg.SummaryProvider))
	log.Info("Selecting summary provider", "provider", name)
	switch name {
	case SummaryProviderOpenAI:
		return openai.New(log, openai.ConfigFromEnv())
	case SummaryProviderEino:
		oc := openai.ConfigFromEnv()
		return eino.New(ctx, log, eino.Config{APIKey: oc.APIKey, BaseURL: oc.BaseURL, Model: oc.Model})
	case SummaryProviderGemini:
		return gemini.New(log, gemini.ConfigFromEnv())
	default:
		return nil, fmt.Errorf("unsupported SUMMARY_PROVIDER %q", name)
	}
}
