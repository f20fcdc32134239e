// Package events announces job lifecycle transitions to downstream
// collaborators (the gallery UI, audit consumers). Publication is
// at-least-once; consumers must tolerate duplicates.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/photarium/enrich/internal/job"
	"github.com/photarium/enrich/shared/rabbitmq"
)

// Publisher receives a snapshot when a job reaches a terminal status.
type Publisher interface {
	PublishJobStatus(ctx context.Context, snap job.Snapshot) error
}

// jobStatusEvent is the wire shape of a lifecycle event.
type jobStatusEvent struct {
	JobID    string                  `json:"job_id"`
	ImageRef string                  `json:"image_ref"`
	Status   string                  `json:"status"`
	Stages   map[string]stageSummary `json:"stages"`
	At       time.Time               `json:"at"`
}

type stageSummary struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

// Rabbit publishes lifecycle events to a RabbitMQ exchange.
type Rabbit struct {
	client *rabbitmq.Publisher
	logger *slog.Logger
}

func NewRabbit(client *rabbitmq.Publisher, logger *slog.Logger) *Rabbit {
	return &Rabbit{client: client, logger: logger}
}

func (r *Rabbit) PublishJobStatus(ctx context.Context, snap job.Snapshot) error {
	stages := make(map[string]stageSummary, len(snap.Stages))
	for name, result := range snap.Stages {
		stages[string(name)] = stageSummary{
			Status:   string(result.Status),
			Attempts: result.Attempts,
		}
	}

	body, err := json.Marshal(jobStatusEvent{
		JobID:    snap.ID.String(),
		ImageRef: snap.ImageRef,
		Status:   string(snap.Status),
		Stages:   stages,
		At:       snap.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode job status event: %w", err)
	}

	if err := r.client.Publish(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("publish job status event: %w", err)
	}

	r.logger.Debug("Published job status event",
		slog.String("job_id", snap.ID.String()),
		slog.String("status", string(snap.Status)),
	)
	return nil
}
