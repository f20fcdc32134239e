package handler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/photarium/enrich/internal/job"
)

// Pipeline is the submission interface the HTTP binding consumes. The
// enrichment queue implements it.
type Pipeline interface {
	Submit(ctx context.Context, imageRef string) (uuid.UUID, error)
	Get(id uuid.UUID) (job.Snapshot, bool)
	List() []job.Snapshot
	Cancel(ctx context.Context, id uuid.UUID) bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Pipeline Pipeline
}

// JobHandler handles enrichment-job HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	pipeline Pipeline
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:   deps.Logger,
		pipeline: deps.Pipeline,
	}
}
