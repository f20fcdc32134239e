package stage

import (
	"context"
	"log/slog"

	"github.com/photarium/enrich/internal/imagestore"
	"github.com/photarium/enrich/internal/job"
)

// FaceDetector is the slice of the detector client the face stage needs.
type FaceDetector interface {
	DetectFaces(ctx context.Context, image []byte) ([]job.Face, error)
}

// FaceDetection locates faces in an image. Detection only; identity
// clustering is a separate concern downstream.
type FaceDetection struct {
	detector FaceDetector
	images   imagestore.Store
	logger   *slog.Logger
}

func NewFaceDetection(detector FaceDetector, images imagestore.Store, logger *slog.Logger) *FaceDetection {
	return &FaceDetection{detector: detector, images: images, logger: logger}
}

func (s *FaceDetection) Name() job.Stage {
	return job.StageFaceDetection
}

func (s *FaceDetection) Run(ctx context.Context, j job.Snapshot) (*job.StageOutput, error) {
	image, err := readImage(ctx, s.images, j.ImageRef)
	if err != nil {
		return nil, err
	}

	faces, err := s.detector.DetectFaces(ctx, image)
	if err != nil {
		return nil, stageError(err)
	}

	s.logger.Info("Face detection stage succeeded",
		slog.String("job_id", j.ID.String()),
		slog.Int("faces", len(faces)),
	)

	return &job.StageOutput{Faces: faces}, nil
}
