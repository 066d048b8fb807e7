package audio

import (
	"context"
	"fmt"
	"math"

	"github.com/gopxl/beep"
)

const resampleQuality = 4

// TrimSilence drops leading and trailing frames whose amplitude stays at or
// below threshold on every channel. A fully silent buffer trims to zero frames.
func TrimSilence(b *Buffer, threshold float32) *Buffer {
	frames := b.Frames()
	loud := func(i int) bool {
		for _, ch := range b.Channels {
			if float32(math.Abs(float64(ch[i]))) > threshold {
				return true
			}
		}
		return false
	}
	start := 0
	for start < frames && !loud(start) {
		start++
	}
	end := frames
	for end > start && !loud(end-1) {
		end--
	}
	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float32, len(b.Channels))}
	for i, ch := range b.Channels {
		out.Channels[i] = append([]float32(nil), ch[start:end]...)
	}
	return out
}

// Downmix averages all channels into one.
func Downmix(b *Buffer) *Buffer {
	if b.NumChannels() <= 1 {
		return b
	}
	frames := b.Frames()
	mono := make([]float32, frames)
	scale := 1 / float32(b.NumChannels())
	for _, ch := range b.Channels {
		for i, v := range ch {
			mono[i] += v * scale
		}
	}
	return &Buffer{SampleRate: b.SampleRate, Channels: [][]float32{mono}}
}

// Resample converts b to rate. Buffers already at or below rate are
// returned unchanged; the pipeline only ever reduces.
func Resample(ctx context.Context, b *Buffer, rate int) (*Buffer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("resample: invalid target rate %d", rate)
	}
	if b.SampleRate <= rate || b.Frames() == 0 {
		return b, nil
	}
	out := &Buffer{SampleRate: rate, Channels: make([][]float32, 0, b.NumChannels())}
	// beep streams are stereo; wider layouts are resampled two channels at a time.
	for i := 0; i < b.NumChannels(); i += 2 {
		j := i + 2
		if j > b.NumChannels() {
			j = b.NumChannels()
		}
		part, err := resamplePair(ctx, &Buffer{SampleRate: b.SampleRate, Channels: b.Channels[i:j]}, rate)
		if err != nil {
			return nil, err
		}
		out.Channels = append(out.Channels, part.Channels...)
	}
	return out, nil
}

func resamplePair(ctx context.Context, b *Buffer, rate int) (*Buffer, error) {
	src := newBufferStreamer(ctx, b)
	rs := beep.Resample(resampleQuality, beep.SampleRate(b.SampleRate), beep.SampleRate(rate), src)
	out := &Buffer{SampleRate: rate, Channels: make([][]float32, b.NumChannels())}
	expect := int(float64(b.Frames()) * float64(rate) / float64(b.SampleRate))
	for i := range out.Channels {
		out.Channels[i] = make([]float32, 0, expect+1)
	}
	if err := drain(ctx, rs, out); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return out, nil
}
