package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"video-rag/internal/config"
	"video-rag/internal/logging"
)

// ErrDimensionMismatch is matched by every *DimensionError.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Embedder turns one text into a vector of exactly Dimension() floats.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Client adapts a langchaingo embedder to Embedder, enforcing the configured
// dimension and a per-call timeout.
type Client struct {
	embedder embeddings.Embedder
	dim      int
	timeout  time.Duration
	logger   zerolog.Logger
}

var _ Embedder = (*Client)(nil)

func NewClient(embedder embeddings.Embedder, dim int, timeout time.Duration) *Client {
	return &Client{
		embedder: embedder,
		dim:      dim,
		timeout:  timeout,
		logger:   logging.NewLogger("embedder"),
	}
}

// NewEmbedder builds a Client for the provider named in cfg.
func NewEmbedder(cfg *config.EmbedConfig) (*Client, error) {
	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case "ollama":
		client, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai", "":
		client, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(tokenOrNone(cfg.Key)),
			openai.WithEmbeddingModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s embedding client: %w", cfg.Provider, err)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return NewClient(embedder, cfg.Dimension, cfg.Timeout), nil
}

func (c *Client) Dimension() int {
	return c.dim
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if err := Check(vec, c.dim); err != nil {
		c.logger.Error().Err(err).Int("length", len(text)).Msg("Rejected embedding")
		return nil, err
	}
	return vec, nil
}

// Check reports a *DimensionError when vec does not have exactly dim entries.
func Check(vec []float32, dim int) error {
	if len(vec) != dim {
		return &DimensionError{Got: len(vec), Want: dim}
	}
	return nil
}

// EmbedAll embeds texts with at most concurrency calls in flight. Results
// keep the order of texts and are checked against e.Dimension(). The first
// failure cancels the rest and fails the whole batch.
func EmbedAll(ctx context.Context, e Embedder, texts []string, concurrency int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	vectors := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err == nil {
				err = Check(vec, e.Dimension())
			}
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// tokenOrNone lets local OpenAI-compatible servers run without a key.
func tokenOrNone(key string) string {
	key = strings.TrimPrefix(key, "Bearer ")
	if key == "" {
		return "none"
	}
	return key
}
