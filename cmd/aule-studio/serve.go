package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/auleStudio/pkg/kernel"
)

func newServeCmd(logger *slog.Logger, envFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return serve(ctx, logger, *envFile, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default $AULE_HTTP_ADDR or :8080)")
	return cmd
}

func serve(ctx context.Context, logger *slog.Logger, envFile, addr string) error {
	logger.Info("starting aule-studio")

	a, err := newApp(ctx, logger, envFile, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if addr == "" {
		addr = a.boot.HTTPAddr
	}

	apiServer, err := kernel.NewServer(ctx, logger, a.studio, a.sessions, a.repo, a.workspace, a.bus, a.settings)
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   a.boot.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Running batches stop at the lifetime cancel; unstarted jobs stay QUEUED.
	a.studio.Wait()
	logger.Info("stopped")
	return err
}
