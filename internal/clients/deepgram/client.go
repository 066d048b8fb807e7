package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/pkg/httpx"
	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const defaultModel = "nova-2"

type Config struct {
	APIKey string
	// Host overrides api.deepgram.com, e.g. for a self-hosted deployment.
	Host       string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// ConfigFromEnv reads DEEPGRAM_API_KEY, DEEPGRAM_BASE_URL, DEEPGRAM_MODEL,
// DEEPGRAM_TIMEOUT_SECONDS and DEEPGRAM_MAX_RETRIES.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:     strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
		Host:       strings.TrimSpace(os.Getenv("DEEPGRAM_BASE_URL")),
		Model:      strings.TrimSpace(os.Getenv("DEEPGRAM_MODEL")),
		Timeout:    10 * time.Minute,
		MaxRetries: 3,
	}
	if v := strings.TrimSpace(os.Getenv("DEEPGRAM_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEEPGRAM_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	return cfg
}

// prerecorded is the SDK REST call used for file transcription. DoStream
// decodes the listen response into resBody.
type prerecorded interface {
	DoStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions, resBody interface{}) error
}

var initSDK sync.Once

// Client transcribes prerecorded audio through the Deepgram SDK.
type Client struct {
	log        *logger.Logger
	rest       prerecorded
	model      string
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing DEEPGRAM_API_KEY")
	}
	initSDK.Do(func() {
		listen.InitWithDefault()
	})
	rest := listen.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: strings.TrimRight(cfg.Host, "/")})
	return newWithREST(log, rest, cfg), nil
}

func newWithREST(log *logger.Logger, rest prerecorded, cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		log:        log.With("service", "DeepgramClient"),
		rest:       rest,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
	}
}

func (c *Client) Name() string { return "deepgram" }

// Transcribe sends audio to the prerecorded listen API. The container is
// detected by the service, so contentType is only logged. Metadata is kept
// as raw JSON so callers can forward it untouched.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string, opts domain.TranscribeOptions) (*domain.TranscriptionResult, error) {
	ctx = ctxutil.Default(ctx)
	if len(audio) == 0 {
		return nil, fmt.Errorf("deepgram: empty audio")
	}
	o := c.options(opts)
	c.log.Debug("Deepgram request", "model", o.Model, "content_type", contentType, "bytes", len(audio))

	backoff := c.backoff
	start := time.Now()
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var out domain.TranscriptionResult
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.rest.DoStream(actx, bytes.NewReader(audio), o, &out)
		cancel()
		if err == nil {
			observability.Current().ObserveProvider(c.Name(), "transcribe", "ok", time.Since(start))
			return &out, nil
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			observability.Current().ObserveProvider(c.Name(), "transcribe", "error", time.Since(start))
			return nil, fmt.Errorf("deepgram listen: %w", err)
		}
		sleepFor := httpx.JitterSleep(backoff)
		c.log.Warn("Deepgram request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("unreachable retry loop")
}

func (c *Client) options(opts domain.TranscribeOptions) *interfaces.PreRecordedTranscriptionOptions {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	return &interfaces.PreRecordedTranscriptionOptions{
		Model:      model,
		Diarize:    opts.Diarize,
		Punctuate:  opts.Punctuate,
		Utterances: opts.Utterances,
		Language:   opts.Language,
	}
}
