package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/services"
)

type offlineFlags struct {
	script string
	out    string
	zip    bool
}

func (f *offlineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.script, "script", "", "Script file, one entry per line (- for stdin)")
	cmd.Flags().StringVar(&f.out, "out", ".", "Output directory")
	cmd.Flags().BoolVar(&f.zip, "zip", false, "Write one zip per batch instead of loose files")
	_ = cmd.MarkFlagRequired("script")
}

func newVoiceoverCmd(logger *slog.Logger, envFile *string) *cobra.Command {
	var (
		flags offlineFlags
		voice string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "voiceover",
		Short: "Synthesize one audio file per script line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lines, err := readScript(cmd.InOrStdin(), flags.script)
			if err != nil {
				return err
			}
			return runOffline(cmd, logger, *envFile, flags, func(ctx context.Context, a *app, sess domain.SessionID) (domain.Batch, error) {
				return a.studio.StartVoiceover(ctx, sess, services.VoiceoverRequest{Lines: lines, Voice: voice, Limit: limit})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name (default alloy)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Concurrent jobs (default from settings)")
	return cmd
}

func newStoryboardCmd(logger *slog.Logger, envFile *string) *cobra.Command {
	var (
		flags   offlineFlags
		video   bool
		seconds int
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "storyboard",
		Short: "Render one frame per scene, optionally animating each into a clip",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scenes, err := readScript(cmd.InOrStdin(), flags.script)
			if err != nil {
				return err
			}
			return runOffline(cmd, logger, *envFile, flags, func(ctx context.Context, a *app, sess domain.SessionID) (domain.Batch, error) {
				return a.studio.StartStoryboard(ctx, sess, services.StoryboardRequest{
					Scenes:     scenes,
					WithVideo:  video,
					Seconds:    seconds,
					ImageLimit: limit,
				})
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&video, "video", false, "Animate every frame into a clip")
	cmd.Flags().IntVar(&seconds, "seconds", 0, "Clip length in seconds (backend default when 0)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Concurrent frame jobs (default from settings)")
	return cmd
}

type startFunc func(ctx context.Context, a *app, sess domain.SessionID) (domain.Batch, error)

// runOffline starts a batch in a throwaway session, prints progress until every
// batch it chained has settled, and then exports the assets to the output dir.
func runOffline(cmd *cobra.Command, logger *slog.Logger, envFile string, flags offlineFlags, start startFunc) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, logger, envFile, false)
	if err != nil {
		return err
	}
	defer a.Close()

	events, unsub := a.bus.SubscribeGlobal()
	defer unsub()
	out := cmd.OutOrStdout()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			printEvent(out, evt)
		}
	}()

	sess, err := a.sessions.Create(ctx)
	if err != nil {
		return err
	}
	if _, err := start(ctx, a, sess.ID); err != nil {
		return err
	}
	a.studio.Wait()
	unsub()
	<-done

	if ctx.Err() != nil {
		return fmt.Errorf("interrupted; unfinished jobs stay queued for resume: %w", ctx.Err())
	}

	// Reload: chained batches were appended while running.
	sess, err = a.sessions.Get(context.Background(), sess.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(flags.out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var total, failed int
	for _, id := range sess.Batches {
		jobs, err := a.repo.ListBatchJobs(ctx, id)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			total++
			if j.Status != domain.JobStatusCompleted {
				failed++
			}
		}
		if err := exportBatch(ctx, a, id, flags); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%d of %d jobs completed, output in %s\n", total-failed, total, flags.out)
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, total)
	}
	return nil
}

func exportBatch(ctx context.Context, a *app, id domain.BatchID, flags offlineFlags) error {
	if flags.zip {
		path := filepath.Join(flags.out, "batch-"+string(id)+".zip")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := a.studio.Bundle(ctx, id, f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	assets, err := a.repo.ListBatchAssets(ctx, id)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if err := copyFile(asset.FilePath, filepath.Join(flags.out, asset.Filename)); err != nil {
			return fmt.Errorf("export %s: %w", asset.Filename, err)
		}
	}
	return nil
}

func printEvent(w io.Writer, evt services.Event) {
	switch evt.Type {
	case services.EventJobRunning, services.EventJobCompleted, services.EventJobFailed:
		fmt.Fprintf(w, "%-14s batch=%s job=%s\n", evt.Type, shortID(evt.BatchID), shortID(evt.JobID))
	case services.EventBatchStarted, services.EventBatchCompleted:
		fmt.Fprintf(w, "%-14s batch=%s\n", evt.Type, shortID(evt.BatchID))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// readScript returns the non-empty lines of path, or of stdin for "-".
func readScript(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return lines, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
