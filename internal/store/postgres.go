package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/photarium/enrich/internal/job"
	"github.com/photarium/enrich/shared/postgresql"
)

// Postgres upserts job snapshots into the enrichment_jobs table (see
// migrations/001_enrichment_jobs.sql). Stage results are stored as JSONB.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewPostgres(client *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{db: client.DB(), logger: logger}
}

func (p *Postgres) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	stages, err := json.Marshal(snap.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	query := `
		INSERT INTO enrichment_jobs (job_id, image_ref, status, stages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			stages = EXCLUDED.stages,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		snap.ID.String(),
		snap.ImageRef,
		string(snap.Status),
		stages,
		snap.CreatedAt,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job snapshot: %w", err)
	}
	return nil
}
