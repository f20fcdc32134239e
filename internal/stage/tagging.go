package stage

import (
	"context"
	"log/slog"

	"github.com/photarium/enrich/internal/imagestore"
	"github.com/photarium/enrich/internal/job"
	"github.com/photarium/enrich/internal/vision"
)

// TagClassifier is the slice of the model client the tagging stage needs.
type TagClassifier interface {
	ClassifyTags(ctx context.Context, image []byte) (*vision.TagResponse, error)
}

// Tagging classifies an image into tags with classifications.
type Tagging struct {
	classifier TagClassifier
	images     imagestore.Store
	logger     *slog.Logger
}

func NewTagging(classifier TagClassifier, images imagestore.Store, logger *slog.Logger) *Tagging {
	return &Tagging{classifier: classifier, images: images, logger: logger}
}

func (s *Tagging) Name() job.Stage {
	return job.StageTagging
}

func (s *Tagging) Run(ctx context.Context, j job.Snapshot) (*job.StageOutput, error) {
	image, err := readImage(ctx, s.images, j.ImageRef)
	if err != nil {
		return nil, err
	}

	resp, err := s.classifier.ClassifyTags(ctx, image)
	if err != nil {
		return nil, stageError(err)
	}

	s.logger.Info("Tagging stage succeeded",
		slog.String("job_id", j.ID.String()),
		slog.Int("tags", len(resp.Tags)),
		slog.Int("dropped", resp.Dropped),
	)

	return &job.StageOutput{Tags: resp.Tags, DroppedTags: resp.Dropped}, nil
}
