package rag

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"video-rag/internal/db"
	"video-rag/internal/embedding"
	"video-rag/internal/models"
)

// ChunkSearcher ranks a video's chunks against a query vector.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, videoID uuid.UUID, query []float32, limit int) ([]db.ChunkHit, error)
}

type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// RAG answers questions from the chunks of one video.
type RAG struct {
	store    ChunkSearcher
	embedder embedding.Embedder
	llm      Generator
	limit    int
}

func NewRAG(store ChunkSearcher, embedder embedding.Embedder, llm Generator, limit int) *RAG {
	if limit <= 0 {
		limit = 5
	}
	return &RAG{store: store, embedder: embedder, llm: llm, limit: limit}
}

func (r *RAG) Limit() int {
	return r.limit
}

// Search embeds query and returns the closest chunks of videoID. A limit of
// zero or less uses the configured default.
func (r *RAG) Search(ctx context.Context, videoID uuid.UUID, query string, limit int) ([]db.ChunkHit, error) {
	if limit <= 0 {
		limit = r.limit
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := embedding.Check(vec, r.embedder.Dimension()); err != nil {
		return nil, err
	}
	hits, err := r.store.SearchChunks(ctx, videoID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	log.Debug().Str("video_id", videoID.String()).Int("hits", len(hits)).Msg("Searched chunks")
	return hits, nil
}

// Context joins hits in reading order for use in a prompt.
func Context(hits []db.ChunkHit) string {
	ordered := slices.Clone(hits)
	slices.SortStableFunc(ordered, func(a, b db.ChunkHit) int {
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})

	var sb strings.Builder
	for i, h := range ordered {
		if i > 0 {
			sb.WriteString(models.ContextSeparator)
		}
		sb.WriteString(h.Content)
	}
	return sb.String()
}

// Ask answers query from the video's most relevant chunks.
func (r *RAG) Ask(ctx context.Context, videoID uuid.UUID, query string) (*models.PromptResponse, error) {
	hits, err := r.Search(ctx, videoID, query, 0)
	if err != nil {
		return nil, err
	}
	source := Context(hits)

	answer, err := r.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "You are a helpful assistant. Use the provided context to answer the query."),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.AskPromptTemplate, source, query)),
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &models.PromptResponse{Query: query, Source: source, Content: answer}, nil
}
