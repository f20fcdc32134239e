package job

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies one independent enrichment operation applied to a job's image.
type Stage string

const (
	StageTagging       Stage = "tagging"
	StageFaceDetection Stage = "face_detection"
)

// Stages returns every stage a new job is admitted with.
func Stages() []Stage {
	return []Stage{StageTagging, StageFaceDetection}
}

// Tag is a single machine-derived label with its classification.
// Name is a lower-cased, trimmed singular noun; Classification is drawn from
// the configured classification set.
type Tag struct {
	Name           string `json:"name"`
	Classification string `json:"classification"`
}

// BoundingBox locates a detected face in pixel coordinates relative to the
// original image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Face is one detected face. No identity is attached; clustering lives
// outside this pipeline.
type Face struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// StageOutput is the stage-specific payload of a succeeded stage. Exactly one
// of Tags/Faces is populated depending on the stage.
type StageOutput struct {
	Tags        []Tag  `json:"tags,omitempty"`
	DroppedTags int    `json:"dropped_tags,omitempty"`
	Faces       []Face `json:"faces,omitempty"`
}

func (o *StageOutput) clone() *StageOutput {
	if o == nil {
		return nil
	}
	c := &StageOutput{DroppedTags: o.DroppedTags}
	if o.Tags != nil {
		c.Tags = make([]Tag, len(o.Tags))
		copy(c.Tags, o.Tags)
	}
	if o.Faces != nil {
		c.Faces = make([]Face, len(o.Faces))
		copy(c.Faces, o.Faces)
	}
	return c
}

// StageResult is the persisted outcome of one stage for one job. Output is
// present only when Status is StageSucceeded; LastError only after a failure.
type StageResult struct {
	Status    StageStatus  `json:"status"`
	Attempts  int          `json:"attempts"`
	Output    *StageOutput `json:"output,omitempty"`
	LastError *StageError  `json:"last_error,omitempty"`
}

func (r *StageResult) clone() StageResult {
	c := *r
	c.Output = r.Output.clone()
	if r.LastError != nil {
		e := *r.LastError
		c.LastError = &e
	}
	return c
}

// Job is one image's enrichment unit of work. Status is always derived from
// the stage results via Derive and is never set independently.
type Job struct {
	ID        uuid.UUID
	ImageRef  string
	Status    Status
	Stages    map[Stage]*StageResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a pending job for imageRef with every stage pending.
func New(imageRef string, now time.Time) *Job {
	stages := make(map[Stage]*StageResult, len(Stages()))
	for _, s := range Stages() {
		stages[s] = &StageResult{Status: StagePending}
	}
	return &Job{
		ID:        uuid.New(),
		ImageRef:  imageRef,
		Status:    StatusPending,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot is an immutable copy of a job safe to hand to collaborators while
// workers keep mutating the live record.
type Snapshot struct {
	ID        uuid.UUID             `json:"job_id"`
	ImageRef  string                `json:"image_ref"`
	Status    Status                `json:"status"`
	Stages    map[Stage]StageResult `json:"stages"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Snapshot deep-copies the job. Callers must hold the lock guarding the job.
func (j *Job) Snapshot() Snapshot {
	stages := make(map[Stage]StageResult, len(j.Stages))
	for name, r := range j.Stages {
		stages[name] = r.clone()
	}
	return Snapshot{
		ID:        j.ID,
		ImageRef:  j.ImageRef,
		Status:    j.Status,
		Stages:    stages,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
