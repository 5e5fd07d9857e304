package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"video-rag/internal/logging"
	"video-rag/internal/metrics"
)

// StaleSweeper fails videos that have been processing since before cutoff.
type StaleSweeper interface {
	FailStaleVideos(ctx context.Context, cutoff time.Time, inFlight []uuid.UUID, message string) ([]uuid.UUID, error)
}

// Watchdog fails videos whose job was lost, for example to a restart, so no
// video stays processing forever.
type Watchdog struct {
	store      StaleSweeper
	inFlight   func() []uuid.UUID
	staleAfter time.Duration
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewWatchdog(store StaleSweeper, inFlight func() []uuid.UUID, staleAfter, interval time.Duration, m *metrics.Metrics) *Watchdog {
	if m == nil {
		m = metrics.New()
	}
	return &Watchdog{
		store:      store,
		inFlight:   inFlight,
		staleAfter: staleAfter,
		interval:   interval,
		metrics:    m,
		logger:     logging.NewLogger("watchdog"),
	}
}

// Sweep runs one pass and returns the ids it failed.
func (w *Watchdog) Sweep(ctx context.Context) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-w.staleAfter)
	msg := "ingestion abandoned: no result after " + w.staleAfter.String()

	ids, err := w.store.FailStaleVideos(ctx, cutoff, w.inFlight(), msg)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		w.metrics.StaleFailed.Add(float64(len(ids)))
		w.logger.Warn().Int("count", len(ids)).Msg("Failed stale videos")
	}
	return ids, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	if w.staleAfter <= 0 || w.interval <= 0 {
		w.logger.Info().Msg("Watchdog disabled")
		return
	}

	w.sweepAndLog(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepAndLog(ctx)
		}
	}
}

func (w *Watchdog) sweepAndLog(ctx context.Context) {
	if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error().Err(err).Msg("Stale video sweep failed")
	}
}
