package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

const streamBlock = 4096

// BeepCodec decodes WAV, MP3, Ogg Vorbis and FLAC and encodes WAV.
// Compressed output is 8-bit WAV, half the size of 16-bit PCM.
type BeepCodec struct{}

func NewBeepCodec() *BeepCodec { return &BeepCodec{} }

func (c *BeepCodec) Name() string { return "beep" }

func (c *BeepCodec) Decode(ctx context.Context, f File) (*Buffer, error) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	r := bytes.NewReader(f.Data)
	switch sniffContainer(f) {
	case containerWAV:
		s, format, err = wav.Decode(r)
	case containerMP3:
		s, format, err = mp3.Decode(io.NopCloser(r))
	case containerOgg:
		s, format, err = vorbis.Decode(io.NopCloser(r))
	case containerFLAC:
		s, format, err = flac.Decode(r)
	default:
		return nil, fmt.Errorf("beep decode %q: unsupported container", f.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("beep decode %q: %w", f.Name, err)
	}
	defer s.Close()

	channels := format.NumChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		channels = 1
	}
	out := &Buffer{SampleRate: int(format.SampleRate), Channels: make([][]float32, channels)}
	if n := s.Len(); n > 0 {
		for ch := range out.Channels {
			out.Channels[ch] = make([]float32, 0, n)
		}
	}
	if err := drain(ctx, s, out); err != nil {
		return nil, fmt.Errorf("beep decode %q: %w", f.Name, err)
	}
	return out, nil
}

func (c *BeepCodec) Encode(ctx context.Context, b *Buffer, opts EncodeOptions) (File, error) {
	if b == nil || b.NumChannels() == 0 {
		return File{}, errors.New("beep encode: empty buffer")
	}
	if b.SampleRate <= 0 {
		return File{}, fmt.Errorf("beep encode: invalid sample rate %d", b.SampleRate)
	}
	precision := 2
	if opts.Encoding == Compressed {
		precision = 1
	}
	channels := b.NumChannels()
	if channels > 2 {
		channels = 2
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(b.SampleRate),
		NumChannels: channels,
		Precision:   precision,
	}
	var ws memWriteSeeker
	src := newBufferStreamer(ctx, b)
	if err := wav.Encode(&ws, src, format); err != nil {
		return File{}, fmt.Errorf("beep encode: %w", err)
	}
	if err := src.Err(); err != nil {
		return File{}, fmt.Errorf("beep encode: %w", err)
	}
	return File{Name: "audio.wav", ContentType: "audio/wav", Data: ws.Bytes()}, nil
}

// drain reads s to exhaustion into out.
func drain(ctx context.Context, s beep.Streamer, out *Buffer) error {
	block := make([][2]float64, streamBlock)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := s.Stream(block)
		for i := 0; i < n; i++ {
			for ch := range out.Channels {
				out.Channels[ch] = append(out.Channels[ch], float32(block[i][ch]))
			}
		}
		if !ok {
			break
		}
	}
	return s.Err()
}

// bufferStreamer plays a Buffer as a beep.Streamer. Mono is duplicated into
// both slots so beep's mono encoder averages back to the original sample.
type bufferStreamer struct {
	ctx context.Context
	b   *Buffer
	pos int
	err error
}

func newBufferStreamer(ctx context.Context, b *Buffer) *bufferStreamer {
	return &bufferStreamer{ctx: ctx, b: b}
}

func (s *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return 0, false
	}
	frames := s.b.Frames()
	if s.pos >= frames {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < frames {
		l := float64(s.b.Channels[0][s.pos])
		r := l
		if len(s.b.Channels) > 1 {
			r = float64(s.b.Channels[1][s.pos])
		}
		samples[n] = [2]float64{l, r}
		n++
		s.pos++
	}
	return n, true
}

func (s *bufferStreamer) Err() error { return s.err }

// memWriteSeeker is the in-memory io.WriteSeeker wav.Encode needs to
// backfill its header.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, end*2)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("memWriteSeeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memWriteSeeker: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memWriteSeeker) Bytes() []byte { return m.buf }
