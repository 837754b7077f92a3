package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

const (
	settingsKey   = "app_config"
	mediaKeyField = "providers.media.api_key"
)

// SettingsRepository is the minimal DB interface for settings persistence.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

// SettingsStore manages persistent settings with encrypted secrets.
// The config is stored as one JSON document, the API key encrypted at rest
// and masked on read.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	secret   *SecretKey
	repo     SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

// NewSettingsStore loads settings from the repository. On first run it saves
// seed, or the defaults when seed is nil.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo SettingsRepository, secret *SecretKey, seed *domain.AppConfig) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		secret: secret,
		repo:   repo,
	}

	cfg, err := store.loadFromDB(ctx)
	if err != nil {
		logger.Warn("no saved settings found, using defaults", "error", err)
		cfg = seed
		if cfg == nil {
			cfg = domain.DefaultConfig()
		}
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("invalid initial settings: %w", err)
		}
		if err := store.saveToDB(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
// Used to hot-reload the media provider and scheduler limits.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config with decrypted secrets.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.config
	return &cp
}

// GetMaskedConfig returns config safe for API response (secrets masked).
func (s *SettingsStore) GetMaskedConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.config
	cp.Providers.Media.APIKey = MaskSecret(s.config.Providers.Media.APIKey)
	return &cp
}

// UpdateConfig validates, encrypts secrets, persists, and triggers onChange callbacks.
// An empty or masked api key keeps the stored one.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	s.mu.Lock()

	if update.Providers.Media.APIKey == "" || isMasked(update.Providers.Media.APIKey) {
		update.Providers.Media.APIKey = s.config.Providers.Media.APIKey
	}
	if update.Providers.Media.Mode == "" {
		update.Providers.Media.Mode = "mock"
	}

	if err := validate(update); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.saveToDB(ctx, update); err != nil {
		s.mu.Unlock()
		return err
	}

	s.config = update
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"media_mode", update.Providers.Media.Mode,
		"image_limit", update.Scheduler.ImageLimit,
		"video_limit", update.Scheduler.VideoLimit,
		"audio_limit", update.Scheduler.AudioLimit,
	)

	// Callbacks run outside the lock so they may read the config back.
	for _, fn := range callbacks {
		fn(update)
	}
	return nil
}

// ValidationError is returned for a config that fails validation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid settings: " + e.Reason
}

func validate(cfg *domain.AppConfig) error {
	media := cfg.Providers.Media
	switch strings.ToLower(media.Mode) {
	case "", "mock":
	case "remote":
		if strings.TrimSpace(media.URL) == "" {
			return &ValidationError{Reason: "media url is required when mode=remote"}
		}
		if media.APIKey == "" {
			return &ValidationError{Reason: "media api_key is required when mode=remote"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown media mode %q", media.Mode)}
	}

	sch := cfg.Scheduler
	if sch.ImageLimit < 1 || sch.VideoLimit < 1 || sch.AudioLimit < 1 {
		return &ValidationError{Reason: "concurrency limits must be at least 1"}
	}
	if sch.MaxAttempts < 1 {
		return &ValidationError{Reason: "max_attempts must be at least 1"}
	}
	if sch.InitialDelayMs < 0 {
		return &ValidationError{Reason: "initial_delay_ms must not be negative"}
	}
	return nil
}

func (s *SettingsStore) loadFromDB(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}

	var stored storedConfig
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	cfg := &domain.AppConfig{
		Providers: domain.ProviderConfig{
			Media: domain.MediaProviderConfig{
				Mode:        stored.Media.Mode,
				URL:         stored.Media.URL,
				ImageModel:  stored.Media.ImageModel,
				VideoModel:  stored.Media.VideoModel,
				SpeechModel: stored.Media.SpeechModel,
			},
		},
		Scheduler: stored.Scheduler,
	}

	if stored.Media.EncryptedAPIKey != "" {
		key, err := s.secret.Open(mediaKeyField, stored.Media.EncryptedAPIKey)
		if err != nil {
			s.logger.Warn("failed to decrypt media API key", "error", err)
		} else {
			cfg.Providers.Media.APIKey = key
		}
	}

	return cfg, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	stored := storedConfig{
		Media: storedMediaConfig{
			Mode:        cfg.Providers.Media.Mode,
			URL:         cfg.Providers.Media.URL,
			ImageModel:  cfg.Providers.Media.ImageModel,
			VideoModel:  cfg.Providers.Media.VideoModel,
			SpeechModel: cfg.Providers.Media.SpeechModel,
		},
		Scheduler: cfg.Scheduler,
	}

	if cfg.Providers.Media.APIKey != "" {
		enc, err := s.secret.Seal(mediaKeyField, cfg.Providers.Media.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt media API key: %w", err)
		}
		stored.Media.EncryptedAPIKey = enc
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

// storedConfig is the DB representation with encrypted fields
type storedConfig struct {
	Media     storedMediaConfig      `json:"media"`
	Scheduler domain.SchedulerConfig `json:"scheduler"`
}

type storedMediaConfig struct {
	Mode            string `json:"mode"`
	URL             string `json:"url"`
	EncryptedAPIKey string `json:"encrypted_api_key,omitempty"`
	ImageModel      string `json:"image_model"`
	VideoModel      string `json:"video_model"`
	SpeechModel     string `json:"speech_model"`
}
