package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type AssetID string

// MediaKind classifies generated content
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// Asset is the locator of one produced file, collected for "download all".
type Asset struct {
	ID        AssetID   `json:"id"`
	BatchID   BatchID   `json:"batch_id"`
	JobID     JobID     `json:"job_id"`
	Kind      MediaKind `json:"kind"`
	Filename  string    `json:"filename"`
	FilePath  string    `json:"file_path"`
	SourceURL string    `json:"source_url,omitempty"` // backend URL when the media was fetched
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAssetID() AssetID {
	return AssetID(uuid.New().String())
}

// Extension returns the default file extension for a mime type.
func Extension(mimeType string, kind MediaKind) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	switch kind {
	case MediaKindVideo:
		return ".mp4"
	case MediaKindAudio:
		return ".mp3"
	default:
		return ".png"
	}
}

var ErrAssetNotFound = errors.New("asset not found")
