package audio

import (
	"context"
	"math"
	"testing"
)

func sine(rate, frames, channels int) *Buffer {
	b := &Buffer{SampleRate: rate, Channels: make([][]float32, channels)}
	for ch := range b.Channels {
		b.Channels[ch] = make([]float32, frames)
		for i := range b.Channels[ch] {
			b.Channels[ch][i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		}
	}
	return b
}

func TestTrimSilence(t *testing.T) {
	b := &Buffer{SampleRate: 8000, Channels: [][]float32{
		{0, 0.005, 0.2, 0.3, 0.001, 0},
		{0, 0, 0, 0.02, 0.009, 0},
	}}
	got := TrimSilence(b, 0.01)
	if got.Frames() != 2 {
		t.Fatalf("frames: want=2 got=%d", got.Frames())
	}
	if got.Channels[0][0] != 0.2 || got.Channels[1][1] != 0.02 {
		t.Fatalf("unexpected samples: %v", got.Channels)
	}
}

func TestTrimSilenceAllSilent(t *testing.T) {
	b := &Buffer{SampleRate: 8000, Channels: [][]float32{{0, 0.001, -0.002}}}
	if got := TrimSilence(b, 0.01); got.Frames() != 0 {
		t.Fatalf("frames: want=0 got=%d", got.Frames())
	}
}

func TestDownmix(t *testing.T) {
	b := &Buffer{SampleRate: 8000, Channels: [][]float32{{1, 0.5}, {0, -0.5}}}
	got := Downmix(b)
	if got.NumChannels() != 1 {
		t.Fatalf("channels: want=1 got=%d", got.NumChannels())
	}
	if got.Channels[0][0] != 0.5 || got.Channels[0][1] != 0 {
		t.Fatalf("samples: got=%v", got.Channels[0])
	}
	mono := &Buffer{SampleRate: 8000, Channels: [][]float32{{1}}}
	if Downmix(mono) != mono {
		t.Fatalf("mono input should be returned as is")
	}
}

func TestResampleHalvesFrames(t *testing.T) {
	b := sine(32000, 32000, 2)
	got, err := Resample(context.Background(), b, 16000)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if got.SampleRate != 16000 || got.NumChannels() != 2 {
		t.Fatalf("format: rate=%d channels=%d", got.SampleRate, got.NumChannels())
	}
	if f := got.Frames(); f < 15900 || f > 16100 {
		t.Fatalf("frames: want~16000 got=%d", f)
	}
}

func TestResampleNeverUpsamples(t *testing.T) {
	b := sine(8000, 100, 1)
	got, err := Resample(context.Background(), b, 16000)
	if err != nil || got != b {
		t.Fatalf("want unchanged buffer, err=%v", err)
	}
}
