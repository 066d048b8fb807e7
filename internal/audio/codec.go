package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

type Encoding int

const (
	// PCM is 16-bit linear PCM in a WAV container.
	PCM Encoding = iota
	// Compressed is the codec's smallest lossy representation.
	Compressed
)

type EncodeOptions struct {
	Encoding    Encoding
	BitrateKbps int
}

// Codec is the decode/encode capability the pipeline runs on. BeepCodec
// decodes in-process; FFmpegCodec delegates to a system transcoder.
type Codec interface {
	Name() string
	Decode(ctx context.Context, f File) (*Buffer, error)
	Encode(ctx context.Context, b *Buffer, opts EncodeOptions) (File, error)
}

// LossyEncoder is implemented by codecs whose Compressed encoding is a lossy
// format. Codecs without it are assumed to write PCM containers only.
type LossyEncoder interface {
	EncodesLossy() bool
}

func encodesLossy(c Codec) bool {
	le, ok := c.(LossyEncoder)
	return ok && le.EncodesLossy()
}

// NewCodec selects a codec by name: "beep" (alias "native") or "ffmpeg".
func NewCodec(name string, log *logger.Logger) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "beep", "native":
		return NewBeepCodec(), nil
	case "ffmpeg":
		return NewFFmpegCodec(log, FFmpegConfig{}), nil
	default:
		return nil, fmt.Errorf("unknown audio codec %q (allowed: beep, ffmpeg)", name)
	}
}
