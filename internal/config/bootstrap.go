package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Bootstrap is the process-level configuration read once at startup. Provider
// settings live in the SettingsStore instead so they can change at runtime.
type Bootstrap struct {
	HTTPAddr       string
	DBPath         string
	WorkspaceDir   string
	SecretKey      string // passphrase; empty means use/generate SecretKeyPath
	SecretKeyPath  string
	RedisURL       string // optional session backend
	AllowedOrigins []string

	// Seed values for the first run, before settings exist in the DB.
	MediaMode   string
	MediaURL    string
	MediaAPIKey string
}

// LoadBootstrap reads envFile (if it exists) and then the environment.
// Variables already set in the environment win over the file.
func LoadBootstrap(envFile string) (*Bootstrap, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	dataDir := filepath.Join(homeDir(), ".aule-studio")
	cfg := &Bootstrap{
		HTTPAddr:      getEnv("AULE_HTTP_ADDR", ":8080"),
		DBPath:        getEnv("AULE_DB_PATH", filepath.Join(dataDir, "studio.db")),
		WorkspaceDir:  getEnv("AULE_WORKSPACE_DIR", filepath.Join(dataDir, "workspace")),
		SecretKey:     os.Getenv("AULE_SECRET_KEY"),
		SecretKeyPath: getEnv("AULE_SECRET_KEY_PATH", filepath.Join(dataDir, "secret.key")),
		RedisURL:      os.Getenv("AULE_REDIS_URL"),
		AllowedOrigins: []string{
			getEnv("AULE_FRONTEND_ORIGIN", "http://localhost:5173"),
		},
		MediaMode:   os.Getenv("AULE_MEDIA_MODE"),
		MediaURL:    os.Getenv("AULE_MEDIA_URL"),
		MediaAPIKey: os.Getenv("AULE_MEDIA_API_KEY"),
	}

	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return "/tmp"
}
