package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"video-rag/internal/logging"
)

var (
	ErrQueueFull = errors.New("ingestion queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Runner executes one ingestion job.
type Runner interface {
	Run(ctx context.Context, id uuid.UUID) error
}

// Dispatcher hands ingestion jobs to a bounded ants pool. Submit never
// blocks: a job that cannot be queued fails its video right away.
type Dispatcher struct {
	pool   *ants.Pool
	runner Runner
	failer Failer
	queue  chan uuid.UUID
	done   chan struct{}
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	stopping bool
	inFlight map[uuid.UUID]struct{}
}

func NewDispatcher(runner Runner, failer Failer, workers, queueSize int) (*Dispatcher, error) {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		pool:     pool,
		runner:   runner,
		failer:   failer,
		queue:    make(chan uuid.UUID, queueSize),
		done:     make(chan struct{}),
		logger:   logging.NewLogger("dispatcher"),
		inFlight: make(map[uuid.UUID]struct{}),
	}
	go d.feed()
	return d, nil
}

// Submit schedules the job for id. A video already queued or running is not
// scheduled twice.
func (d *Dispatcher) Submit(id uuid.UUID) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.reject(id, ErrStopped)
		return ErrStopped
	}
	if _, ok := d.inFlight[id]; ok {
		d.mu.Unlock()
		return nil
	}
	d.inFlight[id] = struct{}{}
	select {
	case d.queue <- id:
		d.mu.Unlock()
		d.logger.Debug().Str("video_id", id.String()).Msg("Job queued")
		return nil
	default:
		delete(d.inFlight, id)
		d.mu.Unlock()
		d.reject(id, ErrQueueFull)
		return ErrQueueFull
	}
}

// InFlight lists videos that are queued or running in this process.
func (d *Dispatcher) InFlight() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(d.inFlight))
	for id := range d.inFlight {
		ids = append(ids, id)
	}
	return ids
}

func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Stop refuses new jobs, drops queued ones and waits up to timeout for
// running jobs. Dropped videos stay processing until the watchdog fails
// them.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stopping = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-time.After(timeout):
		d.logger.Warn().Msg("Timed out waiting for job queue to drain")
	}
	return d.pool.ReleaseTimeout(timeout)
}

func (d *Dispatcher) feed() {
	defer close(d.done)
	for id := range d.queue {
		if d.isStopping() {
			d.forget(id)
			d.logger.Warn().Str("video_id", id.String()).Msg("Dropped queued job on shutdown")
			continue
		}
		// blocks until a worker is free
		if err := d.pool.Submit(func() { d.run(id) }); err != nil {
			d.forget(id)
			d.reject(id, err)
		}
	}
}

func (d *Dispatcher) run(id uuid.UUID) {
	defer d.forget(id)
	if err := d.runner.Run(context.Background(), id); err != nil {
		d.logger.Debug().Err(err).Str("video_id", id.String()).Msg("Job finished with failure")
	}
}

func (d *Dispatcher) isStopping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopping
}

func (d *Dispatcher) forget(id uuid.UUID) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

// reject fails a video whose job could not be scheduled.
func (d *Dispatcher) reject(id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), failTimeout)
	defer cancel()

	logger := d.logger.With().Str("video_id", id.String()).Logger()
	if err := d.failer.FailVideo(ctx, id, "scheduling: "+cause.Error()); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("Could not fail unscheduled video")
		return
	}
	logger.Warn().Err(cause).Msg("Rejected ingestion job")
}
