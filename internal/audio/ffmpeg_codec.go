package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

// CommandRunner runs name with args, feeding stdin, and returns stdout.
type CommandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	WorkRoot    string
	Timeout     time.Duration
	Run         CommandRunner
}

// FFmpegCodec transcodes through the ffmpeg/ffprobe binaries. It accepts any
// container ffmpeg understands and can emit MP3.
type FFmpegCodec struct {
	log     *logger.Logger
	ffmpeg  string
	ffprobe string
	workDir string
	timeout time.Duration
	run     CommandRunner
}

func NewFFmpegCodec(log *logger.Logger, cfg FFmpegConfig) *FFmpegCodec {
	if log == nil {
		log = logger.NewNop()
	}
	c := &FFmpegCodec{
		log:     log.With("service", "FFmpegCodec"),
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: cfg.FFprobePath,
		workDir: cfg.WorkRoot,
		timeout: cfg.Timeout,
		run:     cfg.Run,
	}
	if c.ffmpeg == "" {
		c.ffmpeg = "ffmpeg"
	}
	if c.ffprobe == "" {
		c.ffprobe = "ffprobe"
	}
	if c.workDir == "" {
		c.workDir = filepath.Join(os.TempDir(), "aitranscriber-audio")
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Minute
	}
	if c.run == nil {
		c.run = execRunner
	}
	return c
}

func (c *FFmpegCodec) Name() string { return "ffmpeg" }

// EncodesLossy is true: Compressed output is MP3.
func (c *FFmpegCodec) EncodesLossy() bool { return true }

// AssertReady checks both binaries are on PATH.
func (c *FFmpegCodec) AssertReady() error {
	for _, bin := range []string{c.ffmpeg, c.ffprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

func (c *FFmpegCodec) Decode(ctx context.Context, f File) (*Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dir, cleanup, err := c.tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ext := f.Ext()
	if ext == "" {
		ext = "bin"
	}
	in := filepath.Join(dir, "input."+ext)
	if err := os.WriteFile(in, f.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	channels, rate, err := c.streamInfo(ctx, in)
	if err != nil {
		return nil, err
	}

	raw, err := c.run(ctx, nil, c.ffmpeg,
		"-v", "error",
		"-i", in,
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(rate),
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %q: %w", f.Name, err)
	}
	buf, err := deinterleaveF32LE(raw, channels, rate)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %q: %w", f.Name, err)
	}
	c.log.Debug("Decoded audio", "name", f.Name, "channels", channels, "sample_rate", rate, "frames", buf.Frames())
	return buf, nil
}

func (c *FFmpegCodec) Encode(ctx context.Context, b *Buffer, opts EncodeOptions) (File, error) {
	if b == nil || b.NumChannels() == 0 {
		return File{}, errors.New("ffmpeg encode: empty buffer")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dir, cleanup, err := c.tempDir()
	if err != nil {
		return File{}, err
	}
	defer cleanup()

	args := []string{
		"-v", "error",
		"-y",
		"-f", "f32le",
		"-ar", strconv.Itoa(b.SampleRate),
		"-ac", strconv.Itoa(b.NumChannels()),
		"-i", "pipe:0",
	}
	var out File
	switch opts.Encoding {
	case Compressed:
		kbps := opts.BitrateKbps
		if kbps <= 0 {
			kbps = DefaultBitrateKbps
		}
		out = File{Name: "audio.mp3", ContentType: "audio/mpeg"}
		args = append(args, "-c:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", kbps))
	default:
		out = File{Name: "audio.wav", ContentType: "audio/wav"}
		args = append(args, "-c:a", "pcm_s16le")
	}
	dst := filepath.Join(dir, out.Name)
	args = append(args, dst)

	if _, err := c.run(ctx, interleaveF32LE(b), c.ffmpeg, args...); err != nil {
		return File{}, fmt.Errorf("ffmpeg encode: %w", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return File{}, fmt.Errorf("ffmpeg encode: read output: %w", err)
	}
	out.Data = data
	return out, nil
}

func (c *FFmpegCodec) streamInfo(ctx context.Context, path string) (int, int, error) {
	raw, err := c.run(ctx, nil, c.ffprobe,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=channels,sample_rate",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", err)
	}
	var payload struct {
		Streams []struct {
			Channels   int    `json:"channels"`
			SampleRate string `json:"sample_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, 0, fmt.Errorf("ffprobe decode: %w", err)
	}
	if len(payload.Streams) == 0 {
		return 0, 0, errors.New("ffprobe: no audio stream")
	}
	st := payload.Streams[0]
	rate, err := strconv.Atoi(st.SampleRate)
	if err != nil || rate <= 0 || st.Channels <= 0 {
		return 0, 0, fmt.Errorf("ffprobe: invalid stream channels=%d sample_rate=%q", st.Channels, st.SampleRate)
	}
	return st.Channels, rate, nil
}

func (c *FFmpegCodec) tempDir() (string, func(), error) {
	if err := os.MkdirAll(c.workDir, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	dir, err := os.MkdirTemp(c.workDir, "job-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("mkdir temp: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w; stderr=%s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func deinterleaveF32LE(raw []byte, channels, rate int) (*Buffer, error) {
	frameBytes := 4 * channels
	if len(raw)%frameBytes != 0 {
		return nil, fmt.Errorf("pcm length %d not a multiple of frame size %d", len(raw), frameBytes)
	}
	frames := len(raw) / frameBytes
	b := &Buffer{SampleRate: rate, Channels: make([][]float32, channels)}
	for ch := range b.Channels {
		b.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*4
			b.Channels[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
	}
	return b, nil
}

func interleaveF32LE(b *Buffer) []byte {
	channels := b.NumChannels()
	frames := b.Frames()
	out := make([]byte, frames*channels*4)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint32(out[(i*channels+ch)*4:], math.Float32bits(b.Channels[ch][i]))
		}
	}
	return out
}
