package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/photarium/enrich/internal/api/dto"
	"github.com/photarium/enrich/internal/pipeline"
)

// SubmitJob handles POST /api/v1/jobs
// Admits a new enrichment job for an already-stored image.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.pipeline.Submit(c.Request.Context(), req.ImageRef)
	if err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Enrichment queue is full, try again later",
			})
			return
		}
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	snap, ok := h.pipeline.Get(jobID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.FromSnapshot(snap))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job with per-stage status, attempts, output, and error detail.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}

	snap, found := h.pipeline.Get(jobID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromSnapshot(snap))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs in admission order with optional status filtering.
func (h *JobHandler) ListJobs(c *gin.Context) {
	statusFilter := c.Query("status")

	snaps := h.pipeline.List()
	jobs := make([]dto.JobResponse, 0, len(snaps))
	for _, snap := range snaps {
		if statusFilter != "" && string(snap.Status) != statusFilter {
			continue
		}
		jobs = append(jobs, dto.FromSnapshot(snap))
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobs})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancelling an already-terminal or unknown job is a conflict, not an error.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}

	if !h.pipeline.Cancel(c.Request.Context(), jobID) {
		if _, found := h.pipeline.Get(jobID); !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job already finished",
		})
		return
	}

	snap, _ := h.pipeline.Get(jobID)
	c.JSON(http.StatusOK, dto.FromSnapshot(snap))
}

func (h *JobHandler) parseJobID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Param("job_id")
	jobID, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Error("Invalid job_id format",
			slog.String("job_id", raw),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return uuid.Nil, false
	}
	return jobID, true
}
