package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type SessionID string

// Mode is the feature the user currently has open.
type Mode string

const (
	ModeStudio     Mode = "studio"
	ModeStoryboard Mode = "storyboard"
	ModeVoiceover  Mode = "voiceover"
)

// UploadSlot names an input image position in the image studio.
type UploadSlot string

const (
	SlotProduct UploadSlot = "product"
	SlotModel   UploadSlot = "model"
)

// Upload is a user-provided input file stored in the workspace.
type Upload struct {
	Slot      UploadSlot `json:"slot"`
	Filename  string     `json:"filename"`
	FilePath  string     `json:"file_path"`
	MimeType  string     `json:"mime_type"`
	SizeBytes int64      `json:"size_bytes"`
}

// Session is the front end's working state: current uploads, mode and the
// batches launched from it. Values are immutable; the With* transitions
// return an updated copy.
type Session struct {
	ID           SessionID `json:"id"`
	Mode         Mode      `json:"mode"`
	Voice        string    `json:"voice,omitempty"`
	ProductImage *Upload   `json:"product_image,omitempty"`
	ModelImage   *Upload   `json:"model_image,omitempty"`
	Batches      []BatchID `json:"batches"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewSession(now time.Time) Session {
	return Session{
		ID:        SessionID(uuid.New().String()),
		Mode:      ModeStudio,
		Batches:   []BatchID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s Session) WithUpload(u Upload, now time.Time) (Session, error) {
	switch u.Slot {
	case SlotProduct:
		s.ProductImage = &u
	case SlotModel:
		s.ModelImage = &u
	default:
		return s, ErrInvalidSlot
	}
	s.UpdatedAt = now
	return s, nil
}

func (s Session) WithMode(m Mode, now time.Time) (Session, error) {
	switch m {
	case ModeStudio, ModeStoryboard, ModeVoiceover:
	default:
		return s, ErrInvalidMode
	}
	s.Mode = m
	s.UpdatedAt = now
	return s, nil
}

func (s Session) WithVoice(voice string, now time.Time) Session {
	s.Voice = voice
	s.UpdatedAt = now
	return s
}

// WithBatch records a launched batch. The Batches slice is copied so earlier
// values never observe the append.
func (s Session) WithBatch(id BatchID, now time.Time) Session {
	batches := make([]BatchID, 0, len(s.Batches)+1)
	batches = append(batches, s.Batches...)
	s.Batches = append(batches, id)
	s.UpdatedAt = now
	return s
}

// ReadyForStudio reports whether both studio inputs are uploaded.
func (s Session) ReadyForStudio() bool {
	return s.ProductImage != nil && s.ModelImage != nil
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidSlot     = errors.New("invalid upload slot")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrMissingUpload   = errors.New("product and model images are required")
)
