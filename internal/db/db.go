package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"video-rag/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrNotProcessing is returned when a status transition targets a video
	// that already reached a terminal state.
	ErrNotProcessing = errors.New("video is not processing")
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Name          string `bun:"name,notnull"`
	Password      string `bun:"password,notnull"`
}

type Video struct {
	bun.BaseModel  `bun:"table:videos,alias:v"`
	ID             uuid.UUID          `bun:"id,pk,type:uuid"`
	UserID         *int64             `bun:"user_id"`
	Title          *string            `bun:"title"`
	Duration       *float64           `bun:"duration"`
	Resolution     *string            `bun:"resolution"`
	OriginalURL    *string            `bun:"original_url"`
	LocalPath      *string            `bun:"local_path"`
	Transcript     string             `bun:"transcript,notnull"`
	Summary        string             `bun:"summary,notnull"`
	KeyInformation string             `bun:"key_information,notnull"`
	Status         models.VideoStatus `bun:"status,notnull"`
	ErrorMessage   *string            `bun:"error_message"`
	CreatedAt      time.Time          `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Source returns the media source recorded at intake.
func (v *Video) Source() models.MediaSource {
	var src models.MediaSource
	if v.OriginalURL != nil {
		src.URL = *v.OriginalURL
	}
	if v.LocalPath != nil {
		src.LocalPath = *v.LocalPath
	}
	return src
}

type VideoChunk struct {
	bun.BaseModel `bun:"table:video_chunks,alias:vc"`
	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	VideoID       uuid.UUID       `bun:"video_id,notnull,type:uuid"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Embedding is a vector for arbitrary content, unrelated to any video.
type Embedding struct {
	bun.BaseModel `bun:"table:embeddings,alias:e"`
	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	CreatedAt     time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	UserID        int64      `bun:"user_id,notnull"`
	VideoID       *uuid.UUID `bun:"video_id,type:uuid"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type Message struct {
	bun.BaseModel  `bun:"table:messages,alias:m"`
	ID             int64       `bun:"id,pk,autoincrement"`
	ConversationID uuid.UUID   `bun:"conversation_id,notnull,type:uuid"`
	Role           models.Role `bun:"role,notnull"`
	Content        string      `bun:"content,notnull"`
	CreatedAt      time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ChunkHit is a chunk ranked by cosine distance to a query vector.
type ChunkHit struct {
	ID         uuid.UUID `bun:"id"`
	VideoID    uuid.UUID `bun:"video_id"`
	ChunkIndex int       `bun:"chunk_index"`
	Content    string    `bun:"content"`
	Distance   float64   `bun:"distance"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}
