package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/photarium/enrich/internal/job"
)

const (
	defaultDetectorTimeout = 15 * time.Second
	defaultMinConfidence   = 0.5
	detectPath             = "/api/detect"
)

// DetectorConfig holds the face-detector client configuration.
type DetectorConfig struct {
	BaseURL       string
	MinConfidence float64 // boxes below this are discarded by the client
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Detector calls the face-detection service. The service is a black box; the
// client owns the wire contract and the confidence threshold.
type Detector struct {
	baseURL       string
	minConfidence float64
	client        *http.Client
	logger        *slog.Logger
}

// NewDetector validates cfg and builds a face-detector client.
func NewDetector(cfg DetectorConfig, logger *slog.Logger) (*Detector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vision: detector base url is required")
	}
	minConfidence := cfg.MinConfidence
	if minConfidence == 0 {
		minConfidence = defaultMinConfidence
	}
	if minConfidence < 0 || minConfidence > 1 {
		return nil, fmt.Errorf("vision: min confidence %v is outside [0,1]", cfg.MinConfidence)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDetectorTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Detector{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		minConfidence: minConfidence,
		client:        client,
		logger:        logger,
	}, nil
}

type detectRequest struct {
	Image string `json:"image"`
}

type detectResponse struct {
	Faces []detectedFace `json:"faces"`
}

type detectedFace struct {
	Box        []int   `json:"box"`
	Confidence float64 `json:"confidence"`
}

// DetectFaces sends the image to the detector and returns the boxes that
// clear the confidence threshold. Zero faces is a valid success.
func (d *Detector) DetectFaces(ctx context.Context, image []byte) ([]job.Face, error) {
	const op = "detect_faces"

	body, err := json.Marshal(detectRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, modelErr(op, ModelMalformedResponse, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+detectPath, bytes.NewReader(body))
	if err != nil {
		return nil, modelErr(op, ModelUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, modelErr(op, requestErrorKind(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, modelErr(op, ModelUnreachable, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var parsed detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, modelErr(op, ModelMalformedResponse, fmt.Errorf("decode detect response: %w", err))
	}

	faces := make([]job.Face, 0, len(parsed.Faces))
	var discarded int
	for _, f := range parsed.Faces {
		if len(f.Box) != 4 {
			return nil, modelErr(op, ModelMalformedResponse, fmt.Errorf("box has %d coordinates, want 4", len(f.Box)))
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return nil, modelErr(op, ModelMalformedResponse, fmt.Errorf("confidence %v is outside [0,1]", f.Confidence))
		}
		if f.Confidence < d.minConfidence {
			discarded++
			continue
		}
		faces = append(faces, job.Face{
			Box: job.BoundingBox{
				X:      f.Box[0],
				Y:      f.Box[1],
				Width:  f.Box[2],
				Height: f.Box[3],
			},
			Confidence: f.Confidence,
		})
	}

	if discarded > 0 {
		d.logger.Debug("Discarded low-confidence faces",
			slog.Int("discarded", discarded),
			slog.Int("kept", len(faces)),
			slog.Float64("min_confidence", d.minConfidence),
		)
	}

	return faces, nil
}
