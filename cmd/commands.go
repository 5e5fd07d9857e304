package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"video-rag/internal/chat"
	"video-rag/internal/config"
	"video-rag/internal/db"
	"video-rag/internal/embedding"
	"video-rag/internal/helper"
	"video-rag/internal/media"
	"video-rag/internal/models"
	"video-rag/internal/pipeline"
	"video-rag/internal/server"
	"video-rag/internal/video"
)

const drainTimeout = 30 * time.Second

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	dispatcher, err := pipeline.NewDispatcher(app.orchestrator, app.store, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	if err != nil {
		return err
	}

	watchdog := pipeline.NewWatchdog(app.store, dispatcher.InFlight, cfg.Pipeline.StaleAfter, cfg.Pipeline.SweepInterval, app.metrics)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchdog.Run(ctx)
	}()

	videos := video.NewService(app.store, dispatcher, app.rag, media.NewPolicy(&cfg.Media), cfg.Media.UploadDir)
	chats := chat.NewService(app.store, videos, app.rag, app.llm, chat.Options{
		MaxHistory:   cfg.Chat.MaxHistoryMessages,
		SystemPrompt: cfg.Chat.SystemPrompt,
		SearchLimit:  cfg.RAG.SearchLimit,
	}, app.metrics)

	srv := server.New(cfg.Server, cfg.Media.MaxUploadBytes, server.Deps{
		Videos:     videos,
		Chat:       chats,
		Embeddings: embedding.NewIndex(app.store, app.embedder),
		Users:      app.store,
		Metrics:    app.metrics,
		Ping:       app.bun.PingContext,
	})

	serveErr := srv.Run(ctx)
	stop()
	wg.Wait()

	log.Info().Int("running", dispatcher.Running()).Msg("Draining ingestion workers")
	if err := dispatcher.Stop(drainTimeout); err != nil {
		log.Warn().Err(err).Msg("Ingestion workers did not stop in time")
	}
	return serveErr
}

func migrateCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if err := db.Migrate(cfg.Database.DSN); err != nil {
		return err
	}
	log.Info().Msg("Migrations applied")
	return nil
}

// jobRecorder collects the ids handed to it so the ingest command can run
// them in the foreground.
type jobRecorder struct {
	ids []uuid.UUID
}

func (r *jobRecorder) Submit(id uuid.UUID) error {
	r.ids = append(r.ids, id)
	return nil
}

func ingestCommand(c *cli.Context) error {
	file, rawURL := c.String("file"), c.String("url")
	if (file == "") == (rawURL == "") {
		return errors.New("provide exactly one of --file and --url")
	}

	cfg := configFrom(c)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("dry-run") {
		return dryRun(ctx, cfg, file, rawURL)
	}

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	req := video.IntakeRequest{URL: rawURL}
	if c.IsSet("user") {
		uid := c.Int64("user")
		req.UserID = &uid
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		req.File = &video.Upload{Filename: filepath.Base(file), Size: info.Size(), Body: f}
	}

	jobs := &jobRecorder{}
	videos := video.NewService(app.store, jobs, app.rag, media.NewPolicy(&cfg.Media), cfg.Media.UploadDir)
	v, err := videos.Intake(ctx, req)
	if err != nil {
		return err
	}
	log.Info().Str("video_id", v.ID.String()).Msg("Video accepted, ingesting")

	for _, id := range jobs.ids {
		if err := app.orchestrator.Run(ctx, id); err != nil {
			log.Error().Err(err).Str("video_id", id.String()).Msg("Ingestion failed")
		}
	}

	v, err = app.store.GetVideo(context.WithoutCancel(ctx), v.ID)
	if err != nil {
		return err
	}
	helper.PrettyPrint(videoView(v, nil))
	return nil
}

// dryRun runs every stage for one source and prints the result. The
// database is never opened.
func dryRun(ctx context.Context, cfg *config.Config, file, rawURL string) error {
	src := models.MediaSource{URL: rawURL}
	if file != "" {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		src.LocalPath = abs
	}

	app, err := newDryRun(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.orchestrator.Preview(ctx, src)
	if err != nil {
		return err
	}
	helper.PrettyPrint(previewView(res))
	return nil
}

func embedCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	app, err := newApplication(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer app.Close()

	e, err := embedding.NewIndex(app.store, app.embedder).Create(c.Context, text)
	if err != nil {
		return err
	}
	helper.PrettyPrint(map[string]interface{}{
		"id":         e.ID,
		"content":    e.Content,
		"dimension":  len(e.Embedding.Slice()),
		"created_at": e.CreatedAt,
	})
	return nil
}

func searchCommand(c *cli.Context) error {
	id, err := uuid.Parse(c.String("video"))
	if err != nil {
		return fmt.Errorf("invalid video id: %w", err)
	}
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a query is required")
	}

	app, err := newApplication(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer app.Close()

	if c.Bool("ask") {
		resp, err := app.rag.Ask(c.Context, id, query)
		if err != nil {
			return err
		}
		helper.PrettyPrint(resp)
		return nil
	}

	limit := c.Int("limit")
	if limit <= 0 {
		limit = app.rag.Limit()
	}
	hits, err := app.rag.Search(c.Context, id, query, limit)
	if err != nil {
		return err
	}
	helper.PrettyPrint(hits)
	return nil
}

func videoGetCommand(c *cli.Context) error {
	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid video id: %w", err)
	}
	app, err := newApplication(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer app.Close()

	v, err := app.store.GetVideo(c.Context, id)
	if err != nil {
		return err
	}
	chunks, err := app.store.ListChunks(c.Context, id, false)
	if err != nil {
		return err
	}
	helper.PrettyPrint(videoView(v, chunks))
	return nil
}

func videoDeleteCommand(c *cli.Context) error {
	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid video id: %w", err)
	}
	cfg := configFrom(c)
	app, err := newApplication(c.Context, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	videos := video.NewService(app.store, &jobRecorder{}, app.rag, media.NewPolicy(&cfg.Media), cfg.Media.UploadDir)
	if err := videos.Purge(c.Context, id); err != nil {
		return err
	}
	log.Info().Str("video_id", id.String()).Msg("Video deleted")
	return nil
}

func videoView(v *db.Video, chunks []db.VideoChunk) map[string]interface{} {
	out := map[string]interface{}{
		"id":              v.ID,
		"user_id":         v.UserID,
		"title":           v.Title,
		"duration":        v.Duration,
		"resolution":      v.Resolution,
		"original_url":    v.OriginalURL,
		"local_path":      v.LocalPath,
		"status":          v.Status,
		"error_message":   v.ErrorMessage,
		"summary":         v.Summary,
		"key_information": v.KeyInformation,
		"transcript":      v.Transcript,
		"created_at":      v.CreatedAt,
	}
	if chunks != nil {
		content := make([]string, len(chunks))
		for i, ch := range chunks {
			content[i] = ch.Content
		}
		out["chunks"] = content
	}
	return out
}

func previewView(c *db.Completion) map[string]interface{} {
	content := make([]string, len(c.Chunks))
	for i, ch := range c.Chunks {
		content[i] = ch.Content
	}
	return map[string]interface{}{
		"title":           c.Title,
		"duration":        c.Duration,
		"resolution":      c.Resolution,
		"summary":         c.Summary,
		"key_information": c.KeyInformation,
		"transcript":      c.Transcript,
		"chunks":          content,
	}
}
