package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"video-rag/internal/models"
)

// Completion is everything a successful ingestion job persists.
type Completion struct {
	Title          *string
	Duration       *float64
	Resolution     *string
	Transcript     string
	Summary        string
	KeyInformation string
	Chunks         []VideoChunk
}

// Store is the record store used by request handlers. Background jobs use
// a Session instead.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *bun.DB {
	return s.db
}

// Session opens a dedicated connection for one ingestion job.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &Session{conn: conn}, nil
}

func (s *Store) CreateVideo(ctx context.Context, v *Video) error {
	if (v.OriginalURL == nil) == (v.LocalPath == nil) {
		return errors.New("video needs exactly one of original_url and local_path")
	}
	if v.Status == "" {
		v.Status = models.StatusProcessing
	}
	_, err := s.db.NewInsert().Model(v).Returning("created_at").Exec(ctx)
	return err
}

func (s *Store) GetVideo(ctx context.Context, id uuid.UUID) (*Video, error) {
	return getVideo(ctx, s.db, id)
}

// ListChunks returns a video's chunks in reading order. Vectors are only
// loaded when withVectors is set.
func (s *Store) ListChunks(ctx context.Context, videoID uuid.UUID, withVectors bool) ([]VideoChunk, error) {
	var chunks []VideoChunk
	q := s.db.NewSelect().
		Model(&chunks).
		Where("video_id = ?", videoID).
		Order("chunk_index ASC")
	if !withVectors {
		q = q.ExcludeColumn("embedding")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteVideo removes a video. Its chunks go with it through the
// ON DELETE CASCADE foreign key.
func (s *Store) DeleteVideo(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewDelete().Model((*Video)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FailVideo(ctx context.Context, id uuid.UUID, message string) error {
	return failVideo(ctx, s.db, id, message)
}

// FailStaleVideos marks videos still processing since before cutoff as
// failed, skipping the ids in inFlight. It returns the ids it failed.
func (s *Store) FailStaleVideos(ctx context.Context, cutoff time.Time, inFlight []uuid.UUID, message string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := s.db.NewUpdate().
		Model((*Video)(nil)).
		Set("status = ?", models.StatusFailed).
		Set("error_message = ?", message).
		Where("status = ?", models.StatusProcessing).
		Where("created_at < ?", cutoff)
	if len(inFlight) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(inFlight))
	}
	if _, err := q.Returning("id").Exec(ctx, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SearchChunks ranks one video's chunks by cosine distance to query.
func (s *Store) SearchChunks(ctx context.Context, videoID uuid.UUID, query []float32, limit int) ([]ChunkHit, error) {
	var hits []ChunkHit
	err := s.db.NewSelect().
		Model((*VideoChunk)(nil)).
		Column("id", "video_id", "chunk_index", "content").
		ColumnExpr("embedding <=> ? AS distance", pgvector.NewVector(query)).
		Where("video_id = ?", videoID).
		OrderExpr("distance ASC").
		Limit(limit).
		Scan(ctx, &hits)
	return hits, err
}

func (s *Store) CreateEmbedding(ctx context.Context, e *Embedding) error {
	_, err := s.db.NewInsert().Model(e).Returning("created_at").Exec(ctx)
	return err
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u := new(User)
	err := s.db.NewSelect().Model(u).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	_, err := s.db.NewInsert().Model(c).Returning("created_at").Exec(ctx)
	return err
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	c := new(Conversation)
	err := s.db.NewSelect().Model(c).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	_, err := s.db.NewInsert().Model(m).Returning("id, created_at").Exec(ctx)
	return err
}

// ListMessages returns a conversation's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	var msgs []Message
	err := s.db.NewSelect().
		Model(&msgs).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	return msgs, err
}

// Session is a store bound to one dedicated connection, owned by a single
// background job for its whole run.
type Session struct {
	conn bun.Conn
}

func (s *Session) GetVideo(ctx context.Context, id uuid.UUID) (*Video, error) {
	return getVideo(ctx, &s.conn, id)
}

func (s *Session) FailVideo(ctx context.Context, id uuid.UUID, message string) error {
	return failVideo(ctx, &s.conn, id, message)
}

// CompleteVideo persists the job result and flips the video to completed in
// one transaction. Chunks from an earlier run of the same video are replaced.
func (s *Session) CompleteVideo(ctx context.Context, id uuid.UUID, c Completion) error {
	if err := checkDimensions(c.Chunks); err != nil {
		return err
	}
	return s.conn.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Video)(nil)).
			Set("title = COALESCE(?, title)", c.Title).
			Set("duration = COALESCE(?, duration)", c.Duration).
			Set("resolution = COALESCE(?, resolution)", c.Resolution).
			Set("transcript = ?", c.Transcript).
			Set("summary = ?", c.Summary).
			Set("key_information = ?", c.KeyInformation).
			Set("status = ?", models.StatusCompleted).
			Set("error_message = NULL").
			Where("id = ?", id).
			Where("status = ?", models.StatusProcessing).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update video: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotProcessing
		}

		if _, err := tx.NewDelete().Model((*VideoChunk)(nil)).Where("video_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		if len(c.Chunks) == 0 {
			return nil
		}
		for i := range c.Chunks {
			c.Chunks[i].VideoID = id
		}
		if _, err := tx.NewInsert().Model(&c.Chunks).Exec(ctx); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		return nil
	})
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func getVideo(ctx context.Context, idb bun.IDB, id uuid.UUID) (*Video, error) {
	v := new(Video)
	err := idb.NewSelect().Model(v).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func failVideo(ctx context.Context, idb bun.IDB, id uuid.UUID, message string) error {
	res, err := idb.NewUpdate().
		Model((*Video)(nil)).
		Set("status = ?", models.StatusFailed).
		Set("error_message = ?", message).
		Where("id = ?", id).
		Where("status = ?", models.StatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotProcessing
	}
	return nil
}

func checkDimensions(chunks []VideoChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	want := len(chunks[0].Embedding.Slice())
	for i, c := range chunks {
		if c.ChunkIndex != i {
			return fmt.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if got := len(c.Embedding.Slice()); got != want {
			return fmt.Errorf("chunk %d has dimension %d, want %d", i, got, want)
		}
	}
	return nil
}
