package audio

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const (
	DefaultBudget             int64   = 50 * 1024 * 1024
	DefaultSilenceThreshold   float32 = 0.01
	DefaultTargetSampleRate           = 16000
	DefaultCombinedSampleRate         = 8000
	DefaultBitrateKbps                = 64
)

// SizeExceededError means every stage ran and the file is still too large.
type SizeExceededError struct {
	Size    int64
	Budget  int64
	Applied []string
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("audio still %d bytes after %d reduction stages (budget %d)", e.Size, len(e.Applied), e.Budget)
}

// StageError wraps a failure inside one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("audio stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Stage turns one encoded file into a smaller one with the same content.
// Reduction is the expected output/input size saving in [0, 1]. Skip, when
// set, leaves inputs the stage cannot make smaller untouched.
type Stage struct {
	Name      string
	Reduction float64
	Apply     func(ctx context.Context, f File) (File, error)
	Skip      func(f File) bool
}

type Config struct {
	Budget             int64
	SilenceThreshold   float32
	TargetSampleRate   int
	CombinedSampleRate int
	BitrateKbps        int
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.TargetSampleRate <= 0 {
		c.TargetSampleRate = DefaultTargetSampleRate
	}
	if c.CombinedSampleRate <= 0 {
		c.CombinedSampleRate = DefaultCombinedSampleRate
	}
	if c.BitrateKbps <= 0 {
		c.BitrateKbps = DefaultBitrateKbps
	}
	return c
}

type Pipeline struct {
	Budget int64
	Stages []Stage
	Log    *logger.Logger
}

type Result struct {
	File    File
	Applied []string
}

// NewPipeline builds the default stage order over codec: compress,
// trim-silence, downmix, resample, combined.
func NewPipeline(codec Codec, cfg Config, log *logger.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		Budget: cfg.Budget,
		Stages: DefaultStages(codec, cfg),
		Log:    log.With("service", "AudioPipeline", "codec", codec.Name()),
	}
}

// DefaultStages re-encodes with the compressed encoding at every step so a
// later stage never undoes an earlier saving.
func DefaultStages(codec Codec, cfg Config) []Stage {
	cfg = cfg.withDefaults()
	enc := EncodeOptions{Encoding: Compressed, BitrateKbps: cfg.BitrateKbps}
	return []Stage{
		{
			Name:      "compress",
			Reduction: 0.5,
			Apply:     transcodeStage(codec, enc, func(_ context.Context, b *Buffer) (*Buffer, error) { return b, nil }),
			// A PCM-only codec would inflate an already lossy input.
			Skip: func(f File) bool { return !encodesLossy(codec) && isLossy(f) },
		},
		{
			Name:      "trim-silence",
			Reduction: 0.1,
			Apply: transcodeStage(codec, enc, func(_ context.Context, b *Buffer) (*Buffer, error) {
				return TrimSilence(b, cfg.SilenceThreshold), nil
			}),
		},
		{
			Name:      "downmix",
			Reduction: 0.5,
			Apply: transcodeStage(codec, enc, func(_ context.Context, b *Buffer) (*Buffer, error) {
				return Downmix(b), nil
			}),
		},
		{
			Name:      "resample",
			Reduction: 0.6,
			Apply: transcodeStage(codec, enc, func(ctx context.Context, b *Buffer) (*Buffer, error) {
				return Resample(ctx, b, cfg.TargetSampleRate)
			}),
		},
		{
			Name:      "combined",
			Reduction: 0.8,
			Apply: transcodeStage(codec, enc, func(ctx context.Context, b *Buffer) (*Buffer, error) {
				return Resample(ctx, Downmix(TrimSilence(b, cfg.SilenceThreshold)), cfg.CombinedSampleRate)
			}),
		},
	}
}

func transcodeStage(codec Codec, opts EncodeOptions, fn func(context.Context, *Buffer) (*Buffer, error)) func(context.Context, File) (File, error) {
	return func(ctx context.Context, f File) (File, error) {
		buf, err := codec.Decode(ctx, f)
		if err != nil {
			return File{}, err
		}
		buf, err = fn(ctx, buf)
		if err != nil {
			return File{}, err
		}
		out, err := codec.Encode(ctx, buf, opts)
		if err != nil {
			return File{}, err
		}
		out.Name = withExt(f.Name, out.Ext())
		return out, nil
	}
}

// Reduce applies stages in order until f fits the budget. A file already
// within budget is returned untouched.
func (p *Pipeline) Reduce(ctx context.Context, f File, sink domain.StatusSink) (Result, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	log := p.Log
	if log == nil {
		log = logger.NewNop()
	}
	res := Result{File: f}
	if f.Size() <= budget {
		return res, nil
	}

	log.Info("Audio over budget, reducing", "name", f.Name, "size", f.Size(), "budget", budget)
	for _, st := range p.Stages {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if st.Skip != nil && st.Skip(res.File) {
			log.Debug("Audio stage skipped", "stage", st.Name, "content_type", res.File.ContentType)
			continue
		}
		sink.Emit(fmt.Sprintf("Reducing audio size (%s)", st.Name))
		start := time.Now()
		before := res.File.Size()
		sctx, span := observability.StartSpan(ctx, "audio.stage",
			attribute.String("stage", st.Name),
			attribute.Int64("audio.size_before", before),
		)
		next, err := st.Apply(sctx, res.File)
		if err == nil {
			span.SetAttributes(attribute.Int64("audio.size_after", next.Size()))
		}
		observability.EndSpan(span, err)
		observability.Current().ObservePipelineStage(st.Name, err == nil, time.Since(start))
		if err != nil {
			return Result{}, &StageError{Stage: st.Name, Err: err}
		}
		res.File = next
		res.Applied = append(res.Applied, st.Name)
		log.Debug("Audio stage applied",
			"stage", st.Name,
			"size_before", before,
			"size_after", next.Size(),
			"expected_reduction", st.Reduction,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if next.Size() <= budget {
			return res, nil
		}
	}
	return Result{}, &SizeExceededError{Size: res.File.Size(), Budget: budget, Applied: res.Applied}
}
