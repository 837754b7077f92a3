package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type JobID string

type JobStatus string

const (
	JobStatusPending   JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Job is one generation request inside a Batch, as reported to the front end.
type Job struct {
	ID         JobID             `json:"id"`
	BatchID    BatchID           `json:"batch_id"`
	Index      int               `json:"index"`
	Kind       MediaKind         `json:"kind"`
	Status     JobStatus         `json:"status"`
	StatusText string            `json:"status_text,omitempty"` // human-readable progress
	Attempts   int               `json:"attempts"`
	Request    GenerationRequest `json:"request"` // kept so the job can be regenerated
	AssetID    *AssetID          `json:"asset_id,omitempty"`
	Error      *string           `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// GenerationRequest is everything needed to (re)run a job against the media backend.
type GenerationRequest struct {
	Kind        MediaKind `json:"kind"`
	Prompt      string    `json:"prompt,omitempty"`
	Text        string    `json:"text,omitempty"` // speech input
	Voice       string    `json:"voice,omitempty"`
	InputAssets []string  `json:"input_assets,omitempty"` // upload or asset file paths fed to the backend
	Filename    string    `json:"filename"`
	Seconds     int       `json:"seconds,omitempty"`
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is still running")
)
