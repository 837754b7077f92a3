package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type BatchID string

// BatchKind names the feature that produced a batch.
type BatchKind string

const (
	BatchKindStudio          BatchKind = "studio"
	BatchKindStoryboardImage BatchKind = "storyboard_image"
	BatchKindStoryboardVideo BatchKind = "storyboard_video"
	BatchKindVoiceover       BatchKind = "voiceover"
)

type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusPartial   BatchStatus = "PARTIAL" // finished, some jobs failed
	BatchStatusFailed    BatchStatus = "FAILED"  // finished, every job failed
)

// Batch is a set of jobs submitted together under one concurrency limit.
type Batch struct {
	ID        BatchID     `json:"id"`
	SessionID SessionID   `json:"session_id"`
	Kind      BatchKind   `json:"kind"`
	Limit     int         `json:"limit"`
	Status    BatchStatus `json:"status"`
	JobCount  int         `json:"job_count"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SettleStatus derives the terminal batch status from its jobs.
func SettleStatus(jobs []Job) BatchStatus {
	var done, failed int
	for _, j := range jobs {
		switch j.Status {
		case JobStatusCompleted:
			done++
		case JobStatusFailed:
			failed++
		}
	}
	switch {
	case done+failed < len(jobs):
		return BatchStatusRunning
	case failed == 0:
		return BatchStatusCompleted
	case done == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartial
	}
}

func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}

var ErrBatchNotFound = errors.New("batch not found")
