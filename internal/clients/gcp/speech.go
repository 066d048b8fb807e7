package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

type SpeechConfig struct {
	LanguageCode    string
	Model           string
	UseEnhanced     bool
	MinSpeakerCount int
	MaxSpeakerCount int
}

// Speech is a transcription provider backed by Cloud Speech-to-Text v1.
// Results are mapped onto the prerecorded result shape used by the rest of
// the service.
type Speech struct {
	log        *logger.Logger
	client     *speech.Client
	cfg        SpeechConfig
	maxRetries int
	backoff    time.Duration
}

func NewSpeech(ctx context.Context, log *logger.Logger, cfg SpeechConfig) (*Speech, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := speech.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.MinSpeakerCount <= 0 {
		cfg.MinSpeakerCount = 1
	}
	if cfg.MaxSpeakerCount <= 0 {
		cfg.MaxSpeakerCount = 6
	}
	return &Speech{
		log:        log.With("service", "gcp.Speech"),
		client:     c,
		cfg:        cfg,
		maxRetries: 4,
		backoff:    750 * time.Millisecond,
	}, nil
}

func (s *Speech) Name() string { return "gcp_speech" }

func (s *Speech) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Speech) Transcribe(ctx context.Context, audio []byte, contentType string, opts domain.TranscribeOptions) (*domain.TranscriptionResult, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if len(audio) == 0 {
		return nil, fmt.Errorf("gcp speech: empty audio")
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: buildRecognitionConfig(contentType, s.cfg, opts),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	start := time.Now()
	resp, err := s.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	observability.Current().ObserveProvider(s.Name(), "transcribe", status.Code(err).String(), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}
	return speechToResult(resp, opts.Diarize), nil
}

func buildRecognitionConfig(contentType string, cfg SpeechConfig, opts domain.TranscribeOptions) *speechpb.RecognitionConfig {
	lang := cfg.LanguageCode
	if opts.Language != "" {
		lang = opts.Language
	}
	model := cfg.Model
	if opts.Model != "" && !strings.HasPrefix(opts.Model, "nova") {
		model = opts.Model
	}
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               lang,
		Model:                      model,
		UseEnhanced:                cfg.UseEnhanced,
		EnableAutomaticPunctuation: opts.Punctuate,
		EnableWordTimeOffsets:      true,
		EnableWordConfidence:       true,
		Encoding:                   inferSpeechEncoding(contentType),
	}
	if opts.Diarize {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(cfg.MinSpeakerCount),
			MaxSpeakerCount:          int32(cfg.MaxSpeakerCount),
		}
	}
	return rc
}

func inferSpeechEncoding(contentType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(contentType))
	ext := strings.ToLower(filepath.Ext(m))
	switch {
	case strings.Contains(m, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg") || strings.Contains(m, "mp3"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// speechToResult flattens a recognize response into one channel with one
// alternative. With diarization the service repeats every word, tagged with
// its speaker, in the last result; only that copy is used.
func speechToResult(resp *speechpb.LongRunningRecognizeResponse, diarize bool) *domain.TranscriptionResult {
	out := &domain.TranscriptionResult{
		Results: domain.ResultBody{Channels: []domain.Channel{{Alternatives: []domain.Alternative{{Words: []domain.Word{}}}}}},
	}
	meta := map[string]any{"provider": "gcp_speech"}
	if resp == nil || len(resp.Results) == 0 {
		out.Metadata, _ = json.Marshal(meta)
		return out
	}

	var transcript strings.Builder
	var confSum float64
	var confN int
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		t := strings.TrimSpace(alt.Transcript)
		if t == "" {
			continue
		}
		if transcript.Len() > 0 {
			transcript.WriteString(" ")
		}
		transcript.WriteString(t)
		if alt.Confidence > 0 {
			confSum += float64(alt.Confidence)
			confN++
		}
	}

	var source []*speechpb.WordInfo
	if diarize {
		for i := len(resp.Results) - 1; i >= 0; i-- {
			r := resp.Results[i]
			if r != nil && len(r.Alternatives) > 0 && r.Alternatives[0] != nil && len(r.Alternatives[0].Words) > 0 {
				source = r.Alternatives[0].Words
				break
			}
		}
	} else {
		for _, r := range resp.Results {
			if r != nil && len(r.Alternatives) > 0 && r.Alternatives[0] != nil {
				source = append(source, r.Alternatives[0].Words...)
			}
		}
	}

	words := make([]domain.Word, 0, len(source))
	for _, w := range source {
		if w == nil {
			continue
		}
		spk := int(w.SpeakerTag) - 1
		if spk < 0 {
			spk = 0
		}
		words = append(words, domain.Word{
			Speaker:        spk,
			Start:          durToSec(w.StartTime),
			End:            durToSec(w.EndTime),
			Word:           strings.ToLower(strings.Trim(w.Word, ".,!?;:")),
			PunctuatedWord: w.Word,
			Confidence:     float64(w.Confidence),
		})
	}

	alt := &out.Results.Channels[0].Alternatives[0]
	alt.Transcript = transcript.String()
	alt.Words = words
	if confN > 0 {
		alt.Confidence = confSum / float64(confN)
	}
	out.Results.Utterances = domain.UtterancesBySpeaker(words)
	if len(words) > 0 {
		meta["duration"] = words[len(words)-1].End
	}
	meta["channels"] = 1
	out.Metadata, _ = json.Marshal(meta)
	return out
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *Speech) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := s.backoff
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}
		s.log.Warn("speech request retrying", "attempt", attempt+1, "code", code.String(), "sleep", backoff.String())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}
