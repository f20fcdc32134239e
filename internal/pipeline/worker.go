package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/photarium/enrich/internal/job"
)

// Start spawns the worker pool. Workers run until Stop is called or ctx is
// cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("Spawning enrichment worker pool",
		slog.Int("concurrency", q.cfg.Concurrency),
		slog.Int("queue_size", q.cfg.QueueSize),
	)
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx, i)
	}
}

// Stop drains the pool. In-flight stages finish; queued units are abandoned.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
	q.wg.Wait()
	q.logger.Info("Enrichment worker pool stopped")
}

func (q *Queue) workerLoop(ctx context.Context, workerNum int) {
	defer q.wg.Done()

	workerName := fmt.Sprintf("enrich-worker-%d", workerNum)
	q.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case u := <-q.dispatchCh:
			q.process(ctx, workerName, u)
		}
	}
}

// process executes one dispatch unit: claim the stage, run its processor,
// and record the outcome under the job's lock.
func (q *Queue) process(ctx context.Context, workerName string, u dispatchUnit) {
	t := q.lookup(u.jobID)
	if t == nil {
		return
	}

	proc, ok := q.stages[u.stage]
	if !ok {
		q.logger.Error("No processor registered for stage",
			slog.String("stage", string(u.stage)),
		)
		return
	}

	// Claim: only the worker holding the dispatch unit writes this stage.
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	result := t.job.Stages[u.stage]
	if result.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	result.Status = job.StageRunning
	result.Attempts++
	attempts := result.Attempts
	t.job.Status = job.Derive(t.job.Stages)
	t.job.UpdatedAt = time.Now().UTC()
	snap := t.job.Snapshot()
	q.persist(ctx, snap)
	t.mu.Unlock()

	q.logger.Info("Stage started",
		slog.String("worker_name", workerName),
		slog.String("job_id", u.jobID.String()),
		slog.String("stage", string(u.stage)),
		slog.Int("attempt", attempts),
	)

	stageCtx, cancel := context.WithTimeout(ctx, q.cfg.StageTimeout)
	output, runErr := proc.Run(stageCtx, snap)
	cancel()

	t.mu.Lock()
	if t.cancelled {
		// The call was allowed to finish, its result is discarded; Cancel
		// already marked the stage failed.
		t.mu.Unlock()
		q.logger.Info("Discarding result of cancelled job",
			slog.String("job_id", u.jobID.String()),
			slog.String("stage", string(u.stage)),
		)
		return
	}

	result = t.job.Stages[u.stage]
	retryDelay := time.Duration(-1)
	if runErr == nil {
		result.Status = job.StageSucceeded
		result.Output = output
		result.LastError = nil
	} else {
		stageErr := job.AsStageError(runErr)
		result.LastError = stageErr
		if stageErr.Retryable() && attempts < q.cfg.MaxAttempts {
			result.Status = job.StageRetryScheduled
			retryDelay = backoffDelay(q.cfg.RetryBaseDelay, q.cfg.RetryMaxDelay, attempts)
		} else {
			result.Status = job.StageFailed
		}
	}
	prev := t.job.Status
	t.job.Status = job.Derive(t.job.Stages)
	t.job.UpdatedAt = time.Now().UTC()
	snap = t.job.Snapshot()
	q.persist(ctx, snap)
	t.mu.Unlock()

	switch {
	case runErr == nil:
		q.logger.Info("Stage succeeded",
			slog.String("job_id", u.jobID.String()),
			slog.String("stage", string(u.stage)),
			slog.Int("attempts", attempts),
		)
	case retryDelay >= 0:
		q.logger.Warn("Stage failed, retry scheduled",
			slog.String("job_id", u.jobID.String()),
			slog.String("stage", string(u.stage)),
			slog.Int("attempt", attempts),
			slog.Duration("delay", retryDelay),
			slog.Any("error", runErr),
		)
		q.enqueueRetry(u, retryDelay)
	default:
		q.logger.Error("Stage failed terminally",
			slog.String("job_id", u.jobID.String()),
			slog.String("stage", string(u.stage)),
			slog.Int("attempts", attempts),
			slog.Any("error", runErr),
		)
	}

	q.announce(ctx, prev, snap)
}

// backoffDelay is base * 2^attempts capped at max. attempts is the count
// already spent, so the first retry waits base * 2.
func backoffDelay(base, max time.Duration, attempts int) time.Duration {
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
