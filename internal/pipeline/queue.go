// Package pipeline is the asynchronous enrichment core: a bounded worker
// pool pulling (job, stage) dispatch units from a shared queue, with
// per-stage retry, exponential backoff, and derived job status.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/photarium/enrich/internal/events"
	"github.com/photarium/enrich/internal/job"
	"github.com/photarium/enrich/internal/stage"
	"github.com/photarium/enrich/internal/store"
)

var (
	// ErrQueueFull is returned by Submit when the dispatch queue cannot
	// admit the job's stages without blocking.
	ErrQueueFull = errors.New("dispatch queue is full")
	// ErrStopped is returned by Submit after the queue has been stopped.
	ErrStopped = errors.New("queue is stopped")
)

// Config fixes the scheduler's policy. Zero fields fall back to the
// documented defaults.
type Config struct {
	Concurrency    int           // worker goroutines
	QueueSize      int           // dispatch channel capacity
	MaxAttempts    int           // per-stage attempt cap
	RetryBaseDelay time.Duration // backoff is base * 2^attempts, capped
	RetryMaxDelay  time.Duration
	StageTimeout   time.Duration // per-call deadline handed to the stage
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 30 * time.Second
	}
	return c
}

// dispatchUnit is the unit of work handed to a worker: one stage of one job.
type dispatchUnit struct {
	jobID uuid.UUID
	stage job.Stage
}

// tracked pairs a live job with the lock serializing its stage transitions.
// Contention is scoped to one job; two jobs never share a lock.
type tracked struct {
	mu        sync.Mutex
	job       *job.Job
	cancelled bool
}

// Queue admits enrichment jobs, dispatches their stages to the worker pool,
// applies the retry policy, and derives job status on every transition.
type Queue struct {
	cfg    Config
	logger *slog.Logger
	stages map[job.Stage]stage.Processor
	sink   store.JobStore   // may be nil
	events events.Publisher // may be nil

	mu    sync.RWMutex
	jobs  map[uuid.UUID]*tracked
	order []uuid.UUID

	dispatchCh chan dispatchUnit
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New builds a queue over the given stage processors. The snapshot sink and
// event publisher are optional collaborators; nil disables them.
func New(cfg Config, processors []stage.Processor, sink store.JobStore, publisher events.Publisher, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	stages := make(map[job.Stage]stage.Processor, len(processors))
	for _, p := range processors {
		stages[p.Name()] = p
	}
	return &Queue{
		cfg:        cfg,
		logger:     logger,
		stages:     stages,
		sink:       sink,
		events:     publisher,
		jobs:       make(map[uuid.UUID]*tracked),
		dispatchCh: make(chan dispatchUnit, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

// Submit admits a new job for imageRef and enqueues one dispatch unit per
// stage. Submitting the same ref twice creates two independent jobs; image
// dedup is not this queue's concern.
func (q *Queue) Submit(ctx context.Context, imageRef string) (uuid.UUID, error) {
	select {
	case <-q.stopCh:
		return uuid.Nil, ErrStopped
	default:
	}

	j := job.New(imageRef, time.Now().UTC())
	t := &tracked{job: j}

	// The job lock is held until admission finishes so a worker claiming a
	// stage cannot persist a later snapshot before the pending one lands.
	t.mu.Lock()
	defer t.mu.Unlock()

	q.mu.Lock()
	q.jobs[j.ID] = t
	q.order = append(q.order, j.ID)
	q.mu.Unlock()

	for _, s := range job.Stages() {
		select {
		case q.dispatchCh <- dispatchUnit{jobID: j.ID, stage: s}:
		default:
			// Roll the admission back rather than admit a half-dispatched job.
			q.rollbackAdmission(j.ID)
			return uuid.Nil, ErrQueueFull
		}
	}

	q.persist(ctx, j.Snapshot())

	q.logger.Info("Job admitted",
		slog.String("job_id", j.ID.String()),
		slog.String("image_ref", imageRef),
	)
	return j.ID, nil
}

// Get returns a point-in-time view of the job.
func (q *Queue) Get(id uuid.UUID) (job.Snapshot, bool) {
	t := q.lookup(id)
	if t == nil {
		return job.Snapshot{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.Snapshot(), true
}

// List returns snapshots of all known jobs in admission order.
func (q *Queue) List() []job.Snapshot {
	q.mu.RLock()
	ids := make([]uuid.UUID, len(q.order))
	copy(ids, q.order)
	q.mu.RUnlock()

	snaps := make([]job.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := q.Get(id); ok {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// Cancel stops a pending or running job. Every non-terminal stage is marked
// failed with a cancelled error; an in-flight model call is allowed to finish
// but its result is discarded. Returns false when the job is unknown or
// already terminal.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) bool {
	t := q.lookup(id)
	if t == nil {
		return false
	}

	t.mu.Lock()
	if t.cancelled || t.job.Status.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	for _, r := range t.job.Stages {
		if !r.Status.Terminal() {
			r.Status = job.StageFailed
			r.LastError = job.CancelledError()
			r.Output = nil
		}
	}
	prev := t.job.Status
	t.job.Status = job.Derive(t.job.Stages)
	t.job.UpdatedAt = time.Now().UTC()
	snap := t.job.Snapshot()
	q.persist(ctx, snap)
	t.mu.Unlock()

	q.logger.Info("Job cancelled",
		slog.String("job_id", id.String()),
		slog.String("status", string(snap.Status)),
	)

	q.announce(ctx, prev, snap)
	return true
}

// rollbackAdmission undoes Submit's registration of id. The order entry is
// removed by value: another Submit may have appended its own ID in the
// meantime, so the tail is not necessarily ours.
func (q *Queue) rollbackAdmission(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, id)
	for i := len(q.order) - 1; i >= 0; i-- {
		if q.order[i] == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *Queue) lookup(id uuid.UUID) *tracked {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.jobs[id]
}

// enqueueRetry re-enqueues a dispatch unit after its backoff delay. The unit
// is dropped if the queue stops in the meantime; a cancelled job is dropped
// again at dequeue.
func (q *Queue) enqueueRetry(u dispatchUnit, delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case q.dispatchCh <- u:
		case <-q.stopCh:
		}
	})
}

// persist writes the snapshot to the sink. Callers must hold the job's lock:
// saves for one job are serialized through it, so a slow save cannot land
// after a later transition's save and leave the sink on a stale status.
func (q *Queue) persist(ctx context.Context, snap job.Snapshot) {
	if q.sink == nil {
		return
	}
	if err := q.sink.SaveSnapshot(ctx, snap); err != nil {
		// The sink is best-effort; the in-memory record stays authoritative.
		q.logger.Error("Failed to persist job snapshot",
			slog.String("job_id", snap.ID.String()),
			slog.Any("error", err),
		)
	}
}

// announce publishes the snapshot once the job first reaches a terminal
// status.
func (q *Queue) announce(ctx context.Context, prev job.Status, snap job.Snapshot) {
	if q.events == nil || prev.Terminal() || !snap.Status.Terminal() {
		return
	}
	if err := q.events.PublishJobStatus(ctx, snap); err != nil {
		q.logger.Error("Failed to publish job status event",
			slog.String("job_id", snap.ID.String()),
			slog.Any("error", err),
		)
	}
}
