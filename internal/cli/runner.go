package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/aitranscriber-backend/internal/audio"
	awsc "github.com/yungbote/aitranscriber-backend/internal/clients/aws"
	"github.com/yungbote/aitranscriber-backend/internal/clients/gcp"
	"github.com/yungbote/aitranscriber-backend/internal/clients/redis"
	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/orchestrator"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/transcript"
	"github.com/yungbote/aitranscriber-backend/internal/upload"
)

// Runner owns one orchestrator session and the clients behind it.
type Runner struct {
	log     *logger.Logger
	cfg     Config
	session *orchestrator.Session
	closers []io.Closer
}

// NewRunner builds the session described by cfg. cfg must be validated.
func NewRunner(ctx context.Context, log *logger.Logger, cfg Config, status domain.StatusSink) (*Runner, error) {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Runner{log: log.With("service", "TranscriberCLI"), cfg: cfg}

	codec, err := audio.NewCodec(cfg.Codec, log)
	if err != nil {
		return nil, err
	}
	reducer := audio.NewPipeline(codec, audio.Config{Budget: cfg.BudgetBytes}, log)

	uploader, err := r.buildUploader(ctx, log)
	if err != nil {
		r.Close()
		return nil, err
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	ocfg := orchestrator.Config{BaseURL: cfg.Server, HTTPClient: hc}
	transcriber := orchestrator.NewTranscriber(log, ocfg)
	summarizer := orchestrator.NewSummarizer(log, ocfg)

	// A nil *upload.Client must not become a non-nil Uploader.
	var up orchestrator.Uploader
	if uploader != nil {
		up = uploader
	}
	r.session = orchestrator.NewSession(log, reducer, up, transcriber, summarizer, status)
	return r, nil
}

func (r *Runner) buildUploader(ctx context.Context, log *logger.Logger) (*upload.Client, error) {
	u := r.cfg.Upload
	if u.Mode == UploadModeDirect {
		return nil, nil
	}

	var endpoint upload.Endpoint
	switch u.Mode {
	case UploadModeTus:
		ep, err := upload.NewTusEndpoint(upload.TusConfig{
			Endpoint: u.Endpoint,
			Bucket:   u.Bucket,
			Token:    u.Token,
			Upsert:   u.Upsert,
		})
		if err != nil {
			return nil, err
		}
		endpoint = ep
	case UploadModeGCS:
		hc, err := gcp.NewUploadHTTPClient(ctx, u.EmulatorHost)
		if err != nil {
			return nil, err
		}
		ep, err := upload.NewGCSEndpoint(upload.GCSConfig{BaseURL: u.EmulatorHost, Bucket: u.Bucket, HTTPClient: hc})
		if err != nil {
			return nil, err
		}
		endpoint = ep
	case UploadModeS3:
		clients, err := awsc.NewClients(ctx, awsc.Config{Region: u.Region, S3Endpoint: u.S3Endpoint})
		if err != nil {
			return nil, err
		}
		ep, err := upload.NewS3Endpoint(clients.S3, u.Bucket, u.ChunkSize)
		if err != nil {
			return nil, err
		}
		endpoint = ep
	default:
		return nil, fmt.Errorf("unknown upload mode %q", u.Mode)
	}

	var store upload.FingerprintStore = upload.NewMemoryStore()
	if r.cfg.Fingerprints.Store == FingerprintsRedis {
		f := r.cfg.Fingerprints
		rs, err := redis.Dial(log, redis.Options{Addr: f.Addr, Password: f.Password, Prefix: f.Prefix, TTL: f.TTL})
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, rs)
		store = rs
	}
	return upload.NewClient(log, endpoint, store, upload.Config{ChunkSize: u.ChunkSize}), nil
}

// ReadFile loads an audio file from disk with a content type guessed from
// its extension.
func ReadFile(path string) (audio.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	return audio.File{Name: name, ContentType: audio.ContentTypeFor(name), Data: data}, nil
}

// Process runs one file through the session.
func (r *Runner) Process(ctx context.Context, f audio.File) (orchestrator.Outcome, error) {
	r.log.Info("Processing file", "name", f.Name, "bytes", f.Size())
	return r.session.Process(ctx, f)
}

// Render formats an outcome as the plain-text export: the speaker
// transcript followed by the summary.
func Render(out orchestrator.Outcome) string {
	var b strings.Builder
	b.WriteString(transcript.FormatText(out.Groups))
	if s := strings.TrimSpace(out.Summary); s != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Summary\n\n")
		b.WriteString(s)
	}
	b.WriteString("\n")
	return b.String()
}

// WriteOutput writes Render(out) to path, or to w when path is empty.
func WriteOutput(w io.Writer, path string, out orchestrator.Outcome) error {
	text := Render(out)
	if strings.TrimSpace(path) == "" {
		_, err := io.WriteString(w, text)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func (r *Runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.log.Warn("Close failed", "error", err)
		}
	}
	r.closers = nil
}
