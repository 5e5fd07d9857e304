package embedding

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"video-rag/internal/apperr"
	"video-rag/internal/db"
)

type EmbeddingStore interface {
	CreateEmbedding(ctx context.Context, e *db.Embedding) error
}

// Index stores standalone embeddings that belong to no video.
type Index struct {
	store    EmbeddingStore
	embedder Embedder
}

func NewIndex(store EmbeddingStore, embedder Embedder) *Index {
	return &Index{store: store, embedder: embedder}
}

// Create embeds content and stores it. Nothing is stored when the vector
// has the wrong dimension.
func (ix *Index) Create(ctx context.Context, content string) (*db.Embedding, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("empty_content", "content must not be empty")
	}

	vec, err := ix.embedder.Embed(ctx, content)
	if err == nil {
		err = Check(vec, ix.embedder.Dimension())
	}
	if err != nil {
		return nil, ServiceError(err)
	}

	e := &db.Embedding{
		ID:        uuid.New(),
		Content:   content,
		Embedding: pgvector.NewVector(vec),
	}
	if err := ix.store.CreateEmbedding(ctx, e); err != nil {
		return nil, apperr.Internal(err)
	}
	return e, nil
}

// ServiceError classifies an embedding failure for callers.
func ServiceError(err error) *apperr.Error {
	if errors.Is(err, ErrDimensionMismatch) {
		return apperr.Service("embedding_dimension_mismatch", "embedding service returned a vector of the wrong dimension", err)
	}
	return apperr.Service("embedding_failed", "embedding service failed", err)
}
