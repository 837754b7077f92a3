package domain

import "time"

// MediaProviderConfig configures the generative-media backend
type MediaProviderConfig struct {
	Mode        string `json:"mode"`         // "remote" or "mock"
	URL         string `json:"url"`          // "https://api.openai.com/v1"
	APIKey      string `json:"api_key"`      // Encrypted in storage
	ImageModel  string `json:"image_model"`  // "gpt-image-1"
	VideoModel  string `json:"video_model"`  // "sora-2"
	SpeechModel string `json:"speech_model"` // "gpt-4o-mini-tts"
}

// ProviderConfig holds configuration for all providers
type ProviderConfig struct {
	Media MediaProviderConfig `json:"media"`
}

// SchedulerConfig holds the per-kind concurrency limits and retry defaults
type SchedulerConfig struct {
	ImageLimit     int `json:"image_limit"`
	VideoLimit     int `json:"video_limit"`
	AudioLimit     int `json:"audio_limit"`
	MaxAttempts    int `json:"max_attempts"`
	InitialDelayMs int `json:"initial_delay_ms"`
}

// LimitFor returns the concurrency limit for a media kind.
func (c SchedulerConfig) LimitFor(kind MediaKind) int {
	var limit int
	switch kind {
	case MediaKindVideo:
		limit = c.VideoLimit
	case MediaKindAudio:
		limit = c.AudioLimit
	default:
		limit = c.ImageLimit
	}
	if limit < 1 {
		return 1
	}
	return limit
}

func (c SchedulerConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// AppConfig is the main application configuration
type AppConfig struct {
	Providers ProviderConfig  `json:"providers"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Providers: ProviderConfig{
			Media: MediaProviderConfig{
				Mode:        "mock",
				URL:         "https://api.openai.com/v1",
				ImageModel:  "gpt-image-1",
				VideoModel:  "sora-2",
				SpeechModel: "gpt-4o-mini-tts",
			},
		},
		Scheduler: SchedulerConfig{
			ImageLimit:     3,
			VideoLimit:     2,
			AudioLimit:     3,
			MaxAttempts:    3,
			InitialDelayMs: 1000,
		},
	}
}
