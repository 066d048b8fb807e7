package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/pkg/httpx"
	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/sse"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
}

// ConfigFromEnv reads OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL,
// OPENAI_TIMEOUT_SECONDS, OPENAI_MAX_RETRIES and OPENAI_TEMPERATURE
// ("off" omits the parameter).
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:    strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Model:      strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
		Timeout:    5 * time.Minute,
		MaxRetries: 3,
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetries = n
		}
	}
	temp := 0.2
	cfg.Temperature = &temp
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("OPENAI_TEMPERATURE"))); v != "" {
		switch v {
		case "off", "none", "false":
			cfg.Temperature = nil
		default:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.Temperature = &f
			}
		}
	}
	return cfg
}

// Client streams text from the Responses API.
type Client struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	maxRetries  int
	backoff     time.Duration
	temperature *float64
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		log:         log.With("service", "OpenAIClient"),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		backoff:     time.Second,
		temperature: cfg.Temperature,
	}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Model() string { return c.model }

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model       string         `json:"model"`
	Input       []inputMessage `json:"input"`
	Temperature *float64       `json:"temperature,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
}

// StreamText streams output_text deltas to onDelta and returns the
// accumulated text. Only the request is retried; a stream that fails midway
// is returned as an error.
func (c *Client) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	ctx = ctxutil.Default(ctx)
	body := responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: strings.TrimSpace(system)},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		Stream:      true,
	}
	start := time.Now()
	inputTokens := estimateTokens(system) + estimateTokens(user)

	resp, err := c.openStream(ctx, body)
	if err != nil {
		observability.Current().ObserveLLMRequest(c.Name(), c.model, statusFromErr(err), time.Since(start), inputTokens, 0)
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	rd := sse.NewReader(resp.Body)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.Current().ObserveLLMRequest(c.Name(), c.model, "stream_error", time.Since(start), inputTokens, estimateTokens(full.String()))
			return "", fmt.Errorf("openai stream: %w", err)
		}
		done, err := handleStreamRecord(rec, &full, onDelta)
		if err != nil {
			observability.Current().ObserveLLMRequest(c.Name(), c.model, "stream_error", time.Since(start), inputTokens, estimateTokens(full.String()))
			return "", err
		}
		if done {
			break
		}
	}
	observability.Current().ObserveLLMRequest(c.Name(), c.model, "ok", time.Since(start), inputTokens, estimateTokens(full.String()))
	return full.String(), nil
}

// handleStreamRecord applies one stream record. It reports true once the
// response is complete.
func handleStreamRecord(rec sse.Record, full *strings.Builder, onDelta func(string)) (bool, error) {
	data := strings.TrimSpace(rec.Data)
	if data == "" {
		return false, nil
	}
	if data == "[DONE]" {
		return true, nil
	}
	var obj struct {
		Type    string          `json:"type"`
		Delta   string          `json:"delta"`
		Refusal string          `json:"refusal"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return false, nil
	}
	evt := obj.Type
	if evt == "" {
		evt = rec.Event
	}
	if obj.Refusal != "" {
		return false, fmt.Errorf("model refused: %s", obj.Refusal)
	}
	if len(obj.Error) > 0 && string(obj.Error) != "null" {
		return false, fmt.Errorf("openai stream error: %s", string(obj.Error))
	}
	switch {
	case strings.Contains(evt, "output_text.delta"):
		d := strings.TrimRight(obj.Delta, "\u0000")
		if d != "" {
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
	case evt == "response.completed":
		return true, nil
	case evt == "response.failed":
		return false, fmt.Errorf("openai response failed")
	}
	return false, nil
}

func (c *Client) openStream(ctx context.Context, body responsesRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	backoff := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if err == nil {
			err = httpx.NewStatusError("openai", resp)
			_ = resp.Body.Close()
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
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

func statusFromErr(err error) string {
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) && sc.HTTPStatusCode() > 0 {
		return strconv.Itoa(sc.HTTPStatusCode())
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func estimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / 4.0))
}
