package dto

import (
	"time"

	"github.com/photarium/enrich/internal/job"
)

type SubmitJobRequest struct {
	ImageRef string `json:"image_ref" binding:"required"`
}

type StageResultDTO struct {
	Status   string           `json:"status"`
	Attempts int              `json:"attempts"`
	Output   *job.StageOutput `json:"output,omitempty"`
	Error    *StageErrorDTO   `json:"error,omitempty"`
}

type StageErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type JobResponse struct {
	JobID     string                    `json:"job_id"`
	ImageRef  string                    `json:"image_ref"`
	Status    string                    `json:"status"`
	Stages    map[string]StageResultDTO `json:"stages"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// FromSnapshot maps a pipeline snapshot onto the API shape.
func FromSnapshot(snap job.Snapshot) JobResponse {
	stages := make(map[string]StageResultDTO, len(snap.Stages))
	for name, result := range snap.Stages {
		d := StageResultDTO{
			Status:   string(result.Status),
			Attempts: result.Attempts,
			Output:   result.Output,
		}
		if result.LastError != nil {
			d.Error = &StageErrorDTO{
				Kind:    string(result.LastError.Kind),
				Message: result.LastError.Message,
			}
		}
		stages[string(name)] = d
	}
	return JobResponse{
		JobID:     snap.ID.String(),
		ImageRef:  snap.ImageRef,
		Status:    string(snap.Status),
		Stages:    stages,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
}
