// Package stage implements the per-image enrichment stages. Each processor
// wraps one model-client call, maps its typed failures onto the retry
// taxonomy, and returns the stage payload for the scheduler to record.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/photarium/enrich/internal/imagestore"
	"github.com/photarium/enrich/internal/job"
	"github.com/photarium/enrich/internal/vision"
)

// Processor is one enrichment stage. Run is invoked by a worker holding the
// dispatch unit for this job+stage; it must not write the job itself.
type Processor interface {
	Name() job.Stage
	Run(ctx context.Context, j job.Snapshot) (*job.StageOutput, error)
}

func readImage(ctx context.Context, images imagestore.Store, ref string) ([]byte, error) {
	rc, err := images.Open(ctx, ref)
	if err != nil {
		// The image store is a remote collaborator; treat a failed read as
		// transient and let the attempt cap bound it.
		return nil, job.TransientError(fmt.Errorf("read image: %w", err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, job.TransientError(fmt.Errorf("read image: %w", err))
	}
	return data, nil
}

// stageError converts a model-client failure into the scheduler's taxonomy.
func stageError(err error) error {
	var me *vision.ModelError
	if errors.As(err, &me) {
		switch me.Kind {
		case vision.ModelMalformedResponse:
			return job.MalformedError(err)
		default:
			return job.TransientError(err)
		}
	}
	return job.TransientError(err)
}
