package domain

import (
	"context"
	"errors"
	"fmt"
)

// ImageRequest asks the backend for one image. InputImages, when set, are
// combined into the result (product + model composition).
type ImageRequest struct {
	Prompt      string
	InputImages []MediaFile
	Size        string
}

// VideoRequest asks for one clip, optionally seeded by a still image.
type VideoRequest struct {
	Prompt  string
	Seed    *MediaFile
	Seconds int
}

// SpeechRequest asks for a voice-over of Text.
type SpeechRequest struct {
	Text  string
	Voice string
}

// MediaFile is an input file handed to the backend.
type MediaFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// GeneratedMedia is a backend result: inline bytes, a URL to fetch, or both.
type GeneratedMedia struct {
	Data     []byte
	URL      string
	MimeType string
}

// MediaProvider defines the interface for the generative-media backend
type MediaProvider interface {
	GenerateImage(ctx context.Context, req ImageRequest) (GeneratedMedia, error)
	GenerateVideo(ctx context.Context, req VideoRequest) (GeneratedMedia, error)
	SynthesizeSpeech(ctx context.Context, req SpeechRequest) (GeneratedMedia, error)
}

// TransientError marks a backend failure worth retrying (rate limit, 5xx, network).
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient backend error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
