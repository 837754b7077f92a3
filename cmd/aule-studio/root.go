package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/auleStudio/internal/adapters/duckdb"
	"github.com/manthysbr/auleStudio/internal/adapters/providers"
	"github.com/manthysbr/auleStudio/internal/adapters/redisstore"
	appconfig "github.com/manthysbr/auleStudio/internal/config"
	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/ports"
	"github.com/manthysbr/auleStudio/internal/core/services"
)

const sessionTTL = 24 * time.Hour

func newRootCmd(logger *slog.Logger) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "aule-studio",
		Short:         "Marketing-asset studio: batched image, video and voice-over generation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file loaded before the environment")

	root.AddCommand(
		newServeCmd(logger, &envFile),
		newVoiceoverCmd(logger, &envFile),
		newStoryboardCmd(logger, &envFile),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// app holds the wired services shared by every command.
type app struct {
	logger    *slog.Logger
	boot      *appconfig.Bootstrap
	repo      *duckdb.Repository
	settings  *appconfig.SettingsStore
	bus       *services.EventBus
	workspace *services.WorkspaceManager
	sessions  ports.SessionStore
	studio    *services.Studio
	closers   []func() error
}

// newApp opens storage, loads settings and builds the studio. Background
// batches run until lifetime is cancelled.
func newApp(lifetime context.Context, logger *slog.Logger, envFile string, shareSessions bool) (*app, error) {
	boot, err := appconfig.LoadBootstrap(envFile)
	if err != nil {
		return nil, err
	}

	repo, err := duckdb.NewRepository(boot.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}
	a := &app{logger: logger, boot: boot, repo: repo, closers: []func() error{repo.Close}}

	secret, err := appconfig.NewSecretKey(boot.SecretKey, boot.SecretKeyPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init secret key: %w", err)
	}
	a.settings, err = appconfig.NewSettingsStore(lifetime, logger, repo, secret, seedConfig(boot))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init settings store: %w", err)
	}

	cfg := a.settings.GetConfig()
	provider, err := providers.Build(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build media provider: %w", err)
	}
	logger.Info("media provider ready", "mode", cfg.Providers.Media.Mode)

	a.sessions = services.NewMemorySessionStore()
	if shareSessions && boot.RedisURL != "" {
		store, err := redisstore.NewSessionStore(lifetime, boot.RedisURL, sessionTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init redis sessions: %w", err)
		}
		a.sessions = store
		a.closers = append(a.closers, store.Close)
		logger.Info("sessions stored in redis")
	}

	a.bus = services.NewEventBus(logger)
	a.workspace = services.NewWorkspaceManager(boot.WorkspaceDir)
	a.studio = services.NewStudio(lifetime, logger, repo, a.sessions, a.workspace,
		services.NewJobSink(logger, repo, a.bus), provider, cfg.Scheduler)

	// Hot-reload: rebuild the backend when settings change.
	a.settings.OnChange(func(cfg *domain.AppConfig) {
		p, err := providers.Build(cfg)
		if err != nil {
			logger.Error("failed to rebuild media provider", "error", err)
			return
		}
		a.studio.Reconfigure(p, cfg.Scheduler)
		logger.Info("media provider reloaded", "mode", cfg.Providers.Media.Mode)
	})

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// seedConfig is the first-run configuration, before settings exist in the DB.
func seedConfig(boot *appconfig.Bootstrap) *domain.AppConfig {
	cfg := domain.DefaultConfig()
	if boot.MediaMode != "" {
		cfg.Providers.Media.Mode = boot.MediaMode
	}
	if boot.MediaURL != "" {
		cfg.Providers.Media.URL = boot.MediaURL
	}
	cfg.Providers.Media.APIKey = boot.MediaAPIKey
	return cfg
}
