package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"

	"video-rag/internal/chunker"
	"video-rag/internal/config"
	"video-rag/internal/db"
	"video-rag/internal/embedding"
	"video-rag/internal/helper"
	"video-rag/internal/llmservice"
	"video-rag/internal/logging"
	"video-rag/internal/media"
	"video-rag/internal/metrics"
	"video-rag/internal/pipeline"
	"video-rag/internal/rag"
	"video-rag/internal/summarize"
	"video-rag/internal/transcribe"
)

const configKey = "config"

// setup loads the configuration and initializes logging before any
// command runs.
func setup(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logging.Setup(&cfg.Log)
	c.App.Metadata = map[string]interface{}{configKey: cfg}
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

// application holds the components shared by every command.
type application struct {
	cfg          *config.Config
	bun          *bun.DB
	store        *db.Store
	metrics      *metrics.Metrics
	embedder     *embedding.Client
	llm          *llmservice.Client
	rag          *rag.RAG
	orchestrator *pipeline.Orchestrator
	closers      []io.Closer
}

func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	if err := helper.EnsureDirs(cfg.Media.UploadDir, cfg.Media.WorkDir); err != nil {
		return nil, err
	}

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(cfg.Database.DSN); err != nil {
			return nil, err
		}
	}

	a := &application{cfg: cfg, metrics: metrics.New()}
	a.bun = db.NewDB(db.ConnectDB(cfg.Database.DSN), cfg.Database.Debug)
	a.closers = append(a.closers, a.bun)
	if err := a.bun.PingContext(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.PinVectorDimension(ctx, a.bun, cfg.EmbedLLM.Dimension); err != nil {
		a.Close()
		return nil, err
	}
	a.store = db.NewStore(a.bun)

	if err := a.initModels(); err != nil {
		a.Close()
		return nil, err
	}
	a.rag = rag.NewRAG(a.store, a.embedder, a.llm, cfg.RAG.SearchLimit)

	var err error
	if a.orchestrator, err = a.newOrchestrator(ctx, pipeline.StoreSessions(a.store), a.store); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newDryRun builds an orchestrator that never reaches the database. Only
// Orchestrator.Preview may be called on it.
func newDryRun(ctx context.Context, cfg *config.Config) (*application, error) {
	if err := helper.EnsureDirs(cfg.Media.WorkDir); err != nil {
		return nil, err
	}
	a := &application{cfg: cfg, metrics: metrics.New()}
	if err := a.initModels(); err != nil {
		return nil, err
	}
	var err error
	if a.orchestrator, err = a.newOrchestrator(ctx, nil, nil); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *application) initModels() error {
	var err error
	if a.embedder, err = embedding.NewEmbedder(&a.cfg.EmbedLLM); err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	if a.llm, err = llmservice.New(&a.cfg.LLM); err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	return nil
}

func (a *application) newOrchestrator(ctx context.Context, sessions pipeline.SessionOpener, fallback pipeline.Failer) (*pipeline.Orchestrator, error) {
	provider, err := transcribe.NewProvider(ctx, &a.cfg.Transcription)
	if err != nil {
		return nil, fmt.Errorf("create transcription provider: %w", err)
	}
	if closer, ok := provider.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	ch, err := chunker.New(a.cfg.RAG.ChunkSize, a.cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	tools := media.NewTools(&a.cfg.Media)
	return pipeline.NewOrchestrator(pipeline.Deps{
		Sessions:    sessions,
		Fallback:    fallback,
		Acquirer:    media.NewAcquirer(&a.cfg.Media, tools),
		Transcriber: transcribe.NewAudioTranscriber(tools, provider, a.cfg.Media.WorkDir),
		Summarizer:  summarize.New(a.llm),
		Chunker:     ch,
		Embedder:    a.embedder,
		Metrics:     a.metrics,
	}, a.cfg.Pipeline.JobTimeout, a.cfg.EmbedLLM.Concurrency), nil
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Error releasing resources")
		return err
	}
	return nil
}
