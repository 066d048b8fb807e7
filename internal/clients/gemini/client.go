package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

const defaultModel = "gemini-2.5-flash"

type Config struct {
	// APIKeys are tried in order; a rate-limited key rotates to the next.
	APIKeys []string
	Model   string
}

// ConfigFromEnv reads GEMINI_API_KEYS (comma separated) or GEMINI_API_KEY,
// and GEMINI_MODEL.
func ConfigFromEnv() Config {
	var keys []string
	raw := os.Getenv("GEMINI_API_KEYS")
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv("GEMINI_API_KEY")
	}
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return Config{APIKeys: keys, Model: strings.TrimSpace(os.Getenv("GEMINI_MODEL"))}
}

type generateFunc func(ctx context.Context, apiKey, model, system, user string) (string, error)

// Client generates text with the Gemini API.
type Client struct {
	log      *logger.Logger
	model    string
	keys     []string
	mu       sync.Mutex
	current  int
	generate generateFunc
}

func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Client{
		log:      log.With("service", "GeminiClient"),
		model:    cfg.Model,
		keys:     cfg.APIKeys,
		generate: generateContent,
	}, nil
}

func (c *Client) Name() string { return "gemini" }

// StreamText returns the completion in one piece; onDelta sees it once.
func (c *Client) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	start := time.Now()
	var lastErr error
	for range c.keys {
		key, idx := c.currentKey()
		text, err := c.generate(ctx, key, c.model, system, user)
		if err == nil {
			observability.Current().ObserveLLMRequest(c.Name(), c.model, "ok", time.Since(start), 0, 0)
			if onDelta != nil && text != "" {
				onDelta(text)
			}
			return text, nil
		}
		if !isQuotaError(err) {
			observability.Current().ObserveLLMRequest(c.Name(), c.model, "error", time.Since(start), 0, 0)
			return "", fmt.Errorf("generate content: %w", err)
		}
		c.log.Warn("Gemini key rate limited, rotating", "key_index", idx+1)
		c.rotate(idx)
		lastErr = err
	}
	observability.Current().ObserveLLMRequest(c.Name(), c.model, "429", time.Since(start), 0, 0)
	return "", fmt.Errorf("all API keys exhausted: %w", lastErr)
}

func (c *Client) currentKey() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[c.current], c.current
}

// rotate advances past idx unless another call already did.
func (c *Client) rotate(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == idx {
		c.current = (c.current + 1) % len(c.keys)
	}
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func generateContent(ctx context.Context, apiKey, model, system, user string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	result, err := client.Models.GenerateContent(ctx, model, genai.Text(user), cfg)
	if err != nil {
		return "", err
	}
	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		return text.String(), nil
	}
	return "", fmt.Errorf("empty response from Gemini")
}
