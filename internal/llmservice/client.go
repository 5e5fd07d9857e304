package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"video-rag/internal/config"
	"video-rag/internal/models"
)

var (
	ErrEmptyResponse = errors.New("llm returned no choices")

	thinkRe = regexp.MustCompile(models.ThinkTag)
)

// Client wraps a langchaingo model with the call options and timeout every
// completion in this service uses.
type Client struct {
	model       llms.Model
	temperature float64
	timeout     time.Duration
}

func NewClient(model llms.Model, cfg *config.LLMConfig) *Client {
	return &Client{model: model, temperature: cfg.Temperature, timeout: cfg.Timeout}
}

// New builds a Client for the provider named in cfg.
func New(cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating LLM client")

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai", "":
		model, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s llm: %w", cfg.Provider, err)
	}
	return NewClient(model, cfg), nil
}

// GenerateContent sends messages and returns the first choice with any
// reasoning blocks stripped.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, "")), nil
}
