package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// hnsw indexes are limited to 2000 dimensions.
const maxIndexedDimension = 2000

var vectorTables = []string{"video_chunks", "embeddings"}

// Migrate applies all pending schema migrations.
func Migrate(dsn string) error {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqldb.Close()

	driver, err := postgres.WithInstance(sqldb, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Database migration completed")
	return nil
}

// PinVectorDimension fixes the width of every vector column to dim. Columns
// created without a width are altered and indexed; a column already pinned
// to another width is an error.
func PinVectorDimension(ctx context.Context, db *bun.DB, dim int) error {
	for _, table := range vectorTables {
		var typmod int
		err := db.NewRaw(
			"SELECT atttypmod FROM pg_attribute WHERE attrelid = ?::regclass AND attname = 'embedding'",
			table,
		).Scan(ctx, &typmod)
		if err != nil {
			return fmt.Errorf("inspect %s.embedding: %w", table, err)
		}

		switch {
		case typmod == dim:
			continue
		case typmod > 0:
			return fmt.Errorf("%s.embedding is vector(%d), configured dimension is %d", table, typmod, dim)
		}

		if _, err := db.NewRaw(
			fmt.Sprintf("ALTER TABLE ? ALTER COLUMN embedding TYPE vector(%d)", dim),
			bun.Ident(table),
		).Exec(ctx); err != nil {
			return fmt.Errorf("pin %s.embedding: %w", table, err)
		}

		if dim > maxIndexedDimension {
			log.Warn().Str("table", table).Int("dimension", dim).Msg("Dimension too large for hnsw, skipping index")
			continue
		}
		if _, err := db.NewRaw(
			"CREATE INDEX IF NOT EXISTS ? ON ? USING hnsw (embedding vector_cosine_ops)",
			bun.Ident(table+"_embedding_idx"), bun.Ident(table),
		).Exec(ctx); err != nil {
			return fmt.Errorf("index %s.embedding: %w", table, err)
		}
		log.Info().Str("table", table).Int("dimension", dim).Msg("Pinned vector dimension")
	}
	return nil
}
