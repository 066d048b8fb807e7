// Package eino generates text through an eino chat model.
package eino

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Generator is the non-streaming half of an eino chat model.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Chat wraps a chat model behind a system + user text call.
type Chat struct {
	log       *logger.Logger
	model     Generator
	modelName string
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*Chat, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the chat model '%s': %w", cfg.Model, err)
	}
	return NewWithModel(log, cm, cfg.Model), nil
}

func NewWithModel(log *logger.Logger, m Generator, modelName string) *Chat {
	return &Chat{log: log.With("service", "EinoChat"), model: m, modelName: modelName}
}

func (c *Chat) Name() string { return "eino" }

// StreamText generates the whole completion and hands it to onDelta once.
func (c *Chat) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	start := time.Now()
	r, err := c.model.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: system},
		{Role: schema.User, Content: user},
	})
	if err != nil {
		observability.Current().ObserveLLMRequest(c.Name(), c.modelName, "error", time.Since(start), 0, 0)
		return "", fmt.Errorf("unable to generate text: %w", err)
	}
	in, out := 0, 0
	if r.ResponseMeta != nil && r.ResponseMeta.Usage != nil {
		in, out = r.ResponseMeta.Usage.PromptTokens, r.ResponseMeta.Usage.CompletionTokens
	}
	observability.Current().ObserveLLMRequest(c.Name(), c.modelName, "ok", time.Since(start), in, out)
	if onDelta != nil && r.Content != "" {
		onDelta(r.Content)
	}
	return r.Content, nil
}
