package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photarium/enrich/internal/imagestore"
	"github.com/photarium/enrich/internal/job"
	"github.com/photarium/enrich/internal/stage"
	"github.com/photarium/enrich/internal/vision"
)

// TestEnrichmentEndToEnd drives a job through the real stages and model
// clients, with both model services stubbed at the HTTP boundary.
func TestEnrichmentEndToEnd(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		// Prose-wrapped JSON with a duplicate and an unconfigured
		// classification, exercising extraction and normalization.
		response := `Here are the tags I found:
{"tags_with_classifications": [
  {"tag": " Dog ", "classification": "living things"},
  {"tag": "dog", "classification": "Living Things"},
  {"tag": "spaceship", "classification": "Science Fiction"}
]}`
		json.NewEncoder(w).Encode(map[string]string{"response": response})
	}))
	defer ollama.Close()

	detector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/detect", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"faces": []map[string]any{
				{"box": []int{10, 20, 30, 40}, "confidence": 0.92},
				{"box": []int{1, 2, 3, 4}, "confidence": 0.1},
			},
		})
	}))
	defer detector.Close()

	classifier, err := vision.NewClient(vision.Config{
		BaseURL:         ollama.URL,
		Model:           "llava:13b",
		Classifications: []string{"Living Things", "Locations"},
	}, testLogger())
	require.NoError(t, err)

	faceClient, err := vision.NewDetector(vision.DetectorConfig{
		BaseURL: detector.URL,
	}, testLogger())
	require.NoError(t, err)

	images := imagestore.NewMemory()
	images.Put("pictures/a.jpg", []byte("image-bytes"))

	fx := newTestQueue(t, fastConfig(),
		stage.NewTagging(classifier, images, testLogger()),
		stage.NewFaceDetection(faceClient, images, testLogger()),
	)

	id, err := fx.queue.Submit(context.Background(), "pictures/a.jpg")
	require.NoError(t, err)

	snap := waitForStatus(t, fx.queue, id, job.StatusCompleted)

	tagOut := snap.Stages[job.StageTagging].Output
	require.NotNil(t, tagOut)
	assert.Equal(t, []job.Tag{{Name: "dog", Classification: "Living Things"}}, tagOut.Tags)
	assert.Equal(t, 1, tagOut.DroppedTags)

	faceOut := snap.Stages[job.StageFaceDetection].Output
	require.NotNil(t, faceOut)
	require.Len(t, faceOut.Faces, 1)
	assert.Equal(t, job.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}, faceOut.Faces[0].Box)
	assert.InDelta(t, 0.92, faceOut.Faces[0].Confidence, 1e-9)
}
