package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"video-rag/internal/db"
	"video-rag/internal/embedding"
	"video-rag/internal/logging"
	"video-rag/internal/media"
	"video-rag/internal/metrics"
	"video-rag/internal/models"
	"video-rag/internal/summarize"
	"video-rag/internal/transcribe"
)

const (
	StageAcquire    = "acquire"
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
	StageChunk      = "chunk"
	StageEmbed      = "embed"
	StagePersist    = "persist"
)

// failTimeout bounds the write that records a failure. It runs on a fresh
// context because the job context may already be done.
const failTimeout = 30 * time.Second

// StageError wraps the error that stopped a job with the stage it came from.
// Its message is what ends up in Video.error_message.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Acquirer interface {
	Acquire(ctx context.Context, videoID uuid.UUID, src models.MediaSource) (*media.Artifact, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (summarize.Result, error)
}

type Chunker interface {
	Split(text string) []models.Chunk
}

// Session is the job-owned view of the record store.
type Session interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*db.Video, error)
	FailVideo(ctx context.Context, id uuid.UUID, message string) error
	CompleteVideo(ctx context.Context, id uuid.UUID, c db.Completion) error
	Close() error
}

// SessionOpener opens a dedicated session for one job.
type SessionOpener func(ctx context.Context) (Session, error)

// Failer records a failure outside of a job session.
type Failer interface {
	FailVideo(ctx context.Context, id uuid.UUID, message string) error
}

// StoreSessions adapts a *db.Store to a SessionOpener.
func StoreSessions(store *db.Store) SessionOpener {
	return func(ctx context.Context) (Session, error) {
		s, err := store.Session(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Sessions    SessionOpener
	Fallback    Failer
	Acquirer    Acquirer
	Transcriber transcribe.Transcriber
	Summarizer  Summarizer
	Chunker     Chunker
	Embedder    embedding.Embedder
	Metrics     *metrics.Metrics
}

// Orchestrator runs one ingestion job: acquire, transcribe, summarize,
// chunk, embed, then persist everything in one transaction.
type Orchestrator struct {
	Deps
	timeout     time.Duration
	concurrency int
	logger      zerolog.Logger
}

func NewOrchestrator(deps Deps, timeout time.Duration, embedConcurrency int) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Orchestrator{
		Deps:        deps,
		timeout:     timeout,
		concurrency: embedConcurrency,
		logger:      logging.NewLogger("orchestrator"),
	}
}

// Run drives the job for id to a terminal state. A video that is no longer
// processing is left alone. The returned error is the one recorded on the
// video, or nil when the job completed or was skipped.
func (o *Orchestrator) Run(ctx context.Context, id uuid.UUID) (err error) {
	logger := o.logger.With().Str("video_id", id.String()).Logger()

	sess, err := o.Sessions(ctx)
	if err != nil {
		err = &StageError{Stage: "session", Err: err}
		o.failWithoutSession(logger, id, err)
		return err
	}
	defer sess.Close()

	v, err := sess.GetVideo(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			logger.Warn().Msg("Video vanished before its job started")
			o.Metrics.JobDone("skipped")
			return nil
		}
		err = &StageError{Stage: "load", Err: err}
		o.fail(logger, sess, id, err)
		return err
	}
	if v.Status != models.StatusProcessing {
		logger.Info().Str("status", string(v.Status)).Msg("Video already terminal, skipping job")
		o.Metrics.JobDone("skipped")
		return nil
	}

	o.Metrics.JobsInFlight.Inc()
	defer o.Metrics.JobsInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Ingestion job panicked")
			err = fmt.Errorf("internal error: %v", r)
			o.fail(logger, sess, id, err)
		}
	}()

	jobCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	started := time.Now()
	logger.Info().Msg("Ingestion job started")

	completion, err := o.process(jobCtx, logger, v)
	if err != nil {
		o.fail(logger, sess, id, err)
		return err
	}

	err = o.stage(logger, StagePersist, func() error {
		return sess.CompleteVideo(jobCtx, id, *completion)
	})
	if errors.Is(err, db.ErrNotProcessing) {
		logger.Warn().Msg("Video left processing while the job ran, result dropped")
		o.Metrics.JobDone("skipped")
		return nil
	}
	if err != nil {
		o.fail(logger, sess, id, err)
		return err
	}

	o.Metrics.JobDone("completed")
	logger.Info().
		Int("chunks", len(completion.Chunks)).
		Dur("took", time.Since(started)).
		Msg("Ingestion job completed")
	return nil
}

// Preview runs every stage for src without touching the record store.
func (o *Orchestrator) Preview(ctx context.Context, src models.MediaSource) (*db.Completion, error) {
	v := &db.Video{ID: uuid.New(), Status: models.StatusProcessing}
	if src.URL != "" {
		v.OriginalURL = &src.URL
	}
	if src.LocalPath != "" {
		v.LocalPath = &src.LocalPath
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return o.process(ctx, o.logger.With().Bool("dry_run", true).Logger(), v)
}

func (o *Orchestrator) process(ctx context.Context, logger zerolog.Logger, v *db.Video) (*db.Completion, error) {
	var art *media.Artifact
	if err := o.stage(logger, StageAcquire, func() (err error) {
		art, err = o.Acquirer.Acquire(ctx, v.ID, v.Source())
		return err
	}); err != nil {
		return nil, err
	}
	defer art.Cleanup()

	var transcript string
	if err := o.stage(logger, StageTranscribe, func() (err error) {
		transcript, err = o.Transcriber.Transcribe(ctx, art.Path)
		return err
	}); err != nil {
		return nil, err
	}

	var summary summarize.Result
	if err := o.stage(logger, StageSummarize, func() (err error) {
		summary, err = o.Summarizer.Summarize(ctx, transcript)
		return err
	}); err != nil {
		return nil, err
	}

	var pieces []models.Chunk
	if err := o.stage(logger, StageChunk, func() error {
		pieces = o.Chunker.Split(transcript)
		return nil
	}); err != nil {
		return nil, err
	}

	var vectors [][]float32
	if err := o.stage(logger, StageEmbed, func() (err error) {
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.Content
		}
		vectors, err = embedding.EmbedAll(ctx, o.Embedder, texts, o.concurrency)
		return err
	}); err != nil {
		return nil, err
	}

	chunks := make([]db.VideoChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = db.VideoChunk{
			ID:         uuid.New(),
			VideoID:    v.ID,
			ChunkIndex: p.Index,
			Content:    p.Content,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}

	return &db.Completion{
		Title:          art.Title,
		Duration:       art.Duration,
		Resolution:     art.Resolution,
		Transcript:     transcript,
		Summary:        summary.Summary,
		KeyInformation: summary.KeyInformation,
		Chunks:         chunks,
	}, nil
}

// stage times fn and wraps its error in a StageError.
func (o *Orchestrator) stage(logger zerolog.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	took := time.Since(start)
	o.Metrics.ObserveStage(name, took)

	if err != nil {
		logger.Error().Err(err).Str("stage", name).Dur("took", took).Msg("Stage failed")
		return &StageError{Stage: name, Err: err}
	}
	logger.Debug().Str("stage", name).Dur("took", took).Msg("Stage finished")
	return nil
}

func (o *Orchestrator) fail(logger zerolog.Logger, sess Session, id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), failTimeout)
	defer cancel()

	err := sess.FailVideo(ctx, id, cause.Error())
	switch {
	case errors.Is(err, db.ErrNotProcessing):
		o.Metrics.JobDone("skipped")
		logger.Warn().Err(cause).Msg("Job failed after video left processing")
	case err != nil:
		o.Metrics.JobDone("failed")
		logger.Error().Err(err).AnErr("cause", cause).Msg("Could not record job failure")
	default:
		o.Metrics.JobDone("failed")
		logger.Error().Err(cause).Msg("Ingestion job failed")
	}
}

func (o *Orchestrator) failWithoutSession(logger zerolog.Logger, id uuid.UUID, cause error) {
	if o.Fallback == nil {
		o.Metrics.JobDone("failed")
		logger.Error().Err(cause).Msg("Ingestion job failed, no store to record it")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), failTimeout)
	defer cancel()
	err := o.Fallback.FailVideo(ctx, id, cause.Error())
	switch {
	case errors.Is(err, db.ErrNotProcessing):
		o.Metrics.JobDone("skipped")
		logger.Warn().Err(cause).Msg("Job failed after video left processing")
	case err != nil:
		o.Metrics.JobDone("failed")
		logger.Error().Err(err).AnErr("cause", cause).Msg("Could not record job failure")
	default:
		o.Metrics.JobDone("failed")
		logger.Error().Err(cause).Msg("Ingestion job failed")
	}
}
