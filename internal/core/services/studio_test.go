package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/manthysbr/auleStudio/internal/adapters/mediagen"
	"github.com/manthysbr/auleStudio/internal/batch"
	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type studioFixture struct {
	studio    *Studio
	repo      *memRepo
	bus       *EventBus
	sessions  *MemorySessionStore
	workspace *WorkspaceManager
	provider  *mediagen.MockProvider
	session   domain.Session
}

func testScheduler() domain.SchedulerConfig {
	return domain.SchedulerConfig{
		ImageLimit:     2,
		VideoLimit:     2,
		AudioLimit:     2,
		MaxAttempts:    3,
		InitialDelayMs: 1,
	}
}

func newStudioFixture(t *testing.T, lifetime context.Context, provider *mediagen.MockProvider) *studioFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	repo := newMemRepo()
	bus := NewEventBus(logger)
	sessions := NewMemorySessionStore()
	workspace := NewWorkspaceManager(t.TempDir())
	studio := NewStudio(lifetime, logger, repo, sessions, workspace, NewJobSink(logger, repo, bus), provider, testScheduler())

	sess, err := sessions.Create(context.Background())
	require.NoError(t, err)

	return &studioFixture{
		studio:    studio,
		repo:      repo,
		bus:       bus,
		sessions:  sessions,
		workspace: workspace,
		provider:  provider,
		session:   sess,
	}
}

func (f *studioFixture) jobs(t *testing.T, id domain.BatchID) []domain.Job {
	t.Helper()
	jobs, err := f.repo.ListBatchJobs(context.Background(), id)
	require.NoError(t, err)
	return jobs
}

func (f *studioFixture) batch(t *testing.T, id domain.BatchID) domain.Batch {
	t.Helper()
	b, err := f.repo.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *studioFixture) upload(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, slot := range []domain.UploadSlot{domain.SlotProduct, domain.SlotModel} {
		u, err := f.workspace.SaveUpload(f.session.ID, slot, "image/png", []byte("\x89PNG"+string(slot)))
		require.NoError(t, err)
		_, err = f.sessions.Update(ctx, f.session.ID, func(s domain.Session) (domain.Session, error) {
			return s.WithUpload(u, time.Now())
		})
		require.NoError(t, err)
	}
}

// failFirstCall makes the backend fail permanently for the given inputs on
// their first call only.
func failFirstCall(inputs ...string) func(domain.MediaKind, string, int) error {
	set := map[string]bool{}
	for _, in := range inputs {
		set[in] = true
	}
	return func(_ domain.MediaKind, input string, call int) error {
		if set[input] && call == 1 {
			return errors.New("content policy violation")
		}
		return nil
	}
}

func TestStudio_Voiceover(t *testing.T) {
	f := newStudioFixture(t, context.Background(), mediagen.NewMockProvider(5*time.Millisecond))
	ctx := context.Background()

	_, err := f.sessions.Update(ctx, f.session.ID, func(s domain.Session) (domain.Session, error) {
		return s.WithVoice("nova", time.Now()), nil
	})
	require.NoError(t, err)

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{
		Lines: []string{"Meet the bottle.", "  ", "It keeps cold for a day.", "Order today."},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchKindVoiceover, b.Kind)
	assert.Equal(t, 3, b.JobCount)
	assert.Equal(t, 2, b.Limit, "limit defaults to the audio limit")

	f.studio.Wait()

	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, b.ID).Status)

	jobs := f.jobs(t, b.ID)
	require.Len(t, jobs, 3)
	for i, j := range jobs {
		assert.Equal(t, domain.JobStatusCompleted, j.Status)
		assert.Equal(t, 1, j.Attempts)
		assert.Equal(t, "nova", j.Request.Voice)
		require.NotNil(t, j.AssetID)

		asset, err := f.repo.GetAsset(ctx, *j.AssetID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("voiceover_%02d.mp3", i+1), asset.Filename)
		assert.FileExists(t, asset.FilePath)
	}

	sess, err := f.sessions.Get(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.BatchID{b.ID}, sess.Batches)
}

func TestStudio_ConfigurationErrors(t *testing.T) {
	f := newStudioFixture(t, context.Background(), mediagen.NewMockProvider(0))
	ctx := context.Background()

	_, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: []string{"", " "}})
	assert.ErrorIs(t, err, batch.ErrEmptyBatch)
	assert.ErrorIs(t, err, batch.ErrConfiguration)

	_, err = f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: []string{"hi"}, Limit: -1})
	assert.ErrorIs(t, err, batch.ErrInvalidLimit)

	lines := make([]string, MaxBatchJobs+1)
	for i := range lines {
		lines[i] = "line"
	}
	_, err = f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: lines})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.ErrorIs(t, err, batch.ErrConfiguration)

	_, err = f.studio.StartImageStudio(ctx, f.session.ID, StudioRequest{Variations: 2})
	assert.ErrorIs(t, err, domain.ErrMissingUpload)

	_, err = f.studio.StartVoiceover(ctx, "no-such-session", VoiceoverRequest{Lines: []string{"hi"}})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	f.studio.Wait()
	assert.Empty(t, f.repo.batches, "rejected requests store nothing")
}

func TestStudio_ImageStudio(t *testing.T) {
	f := newStudioFixture(t, context.Background(), mediagen.NewMockProvider(5*time.Millisecond))
	f.upload(t)

	b, err := f.studio.StartImageStudio(context.Background(), f.session.ID, StudioRequest{
		Prompt:     "Sunlit beach, summer mood.",
		Variations: 4,
		Limit:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Limit)

	f.studio.Wait()

	assets, err := f.repo.ListBatchAssets(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, assets, 4)
	for i, a := range assets {
		assert.Equal(t, fmt.Sprintf("studio_%02d.png", i+1), a.Filename)
		data, err := os.ReadFile(a.FilePath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "inputs=2", "both uploads are sent to the backend")
		assert.Contains(t, string(data), fmt.Sprintf("Variation %d of 4", i+1))
	}
}

func TestStudio_TransientFailureIsRetried(t *testing.T) {
	provider := mediagen.NewMockProvider(0)
	provider.FailFunc = func(_ domain.MediaKind, input string, call int) error {
		if input == "flaky line" && call == 1 {
			return &domain.TransientError{StatusCode: 429, Err: errors.New("rate limited")}
		}
		return nil
	}
	f := newStudioFixture(t, context.Background(), provider)

	events, unsub := f.bus.SubscribeGlobal()
	defer unsub()

	b, err := f.studio.StartVoiceover(context.Background(), f.session.ID, VoiceoverRequest{
		Lines: []string{"steady line", "flaky line"},
	})
	require.NoError(t, err)
	f.studio.Wait()

	jobs := f.jobs(t, b.ID)
	assert.Equal(t, domain.JobStatusCompleted, jobs[1].Status)
	assert.Equal(t, 2, jobs[1].Attempts)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, 2, provider.Calls(domain.MediaKindAudio, "flaky line"))

	var retryTexts []string
	var settled bool
	for len(events) > 0 {
		e := <-events
		switch e.Type {
		case EventJobRunning:
			var j domain.Job
			require.NoError(t, json.Unmarshal([]byte(e.Data), &j))
			if strings.HasPrefix(j.StatusText, "retrying") {
				retryTexts = append(retryTexts, j.StatusText)
			}
		case EventBatchCompleted:
			settled = true
		}
	}
	require.Len(t, retryTexts, 1)
	assert.True(t, strings.HasPrefix(retryTexts[0], "retrying (attempt 2) in 1ms: "), retryTexts[0])
	assert.True(t, settled)
}

func TestStudio_PermanentFailureIsNotRetried(t *testing.T) {
	provider := mediagen.NewMockProvider(0)
	provider.FailFunc = failFirstCall("bad line")
	f := newStudioFixture(t, context.Background(), provider)

	b, err := f.studio.StartVoiceover(context.Background(), f.session.ID, VoiceoverRequest{
		Lines: []string{"good line", "bad line", "another good line"},
	})
	require.NoError(t, err)
	f.studio.Wait()

	jobs := f.jobs(t, b.ID)
	assert.Equal(t, domain.JobStatusCompleted, jobs[0].Status)
	assert.Equal(t, domain.JobStatusFailed, jobs[1].Status)
	assert.Equal(t, domain.JobStatusCompleted, jobs[2].Status)
	assert.Equal(t, 1, jobs[1].Attempts)
	require.NotNil(t, jobs[1].Error)
	assert.Contains(t, *jobs[1].Error, "content policy violation")

	assert.Equal(t, domain.BatchStatusPartial, f.batch(t, b.ID).Status)
}

func TestStudio_RegenerateFailedJob(t *testing.T) {
	provider := mediagen.NewMockProvider(0)
	provider.FailFunc = failFirstCall("bad line")
	f := newStudioFixture(t, context.Background(), provider)
	ctx := context.Background()

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: []string{"good line", "bad line"}})
	require.NoError(t, err)
	f.studio.Wait()

	failed := f.jobs(t, b.ID)[1]
	require.Equal(t, domain.JobStatusFailed, failed.Status)

	queued, err := f.studio.Regenerate(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, queued.Status)
	f.studio.Wait()

	job, err := f.repo.GetJob(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.AssetID)

	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, b.ID).Status)
	assert.Equal(t, 1, provider.Calls(domain.MediaKindAudio, "good line"), "siblings are not rerun")
}

func TestStudio_RegenerateFailedJobWhileSiblingRuns(t *testing.T) {
	slow := make(chan struct{})
	retry := make(chan struct{})
	provider := mediagen.NewMockProvider(0)
	provider.FailFunc = func(_ domain.MediaKind, input string, call int) error {
		switch {
		case input == "slow line" && call == 1:
			<-slow
		case input == "bad line" && call == 1:
			return errors.New("content policy violation")
		case input == "bad line":
			<-retry
		}
		return nil
	}
	f := newStudioFixture(t, context.Background(), provider)
	ctx := context.Background()

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: []string{"bad line", "slow line"}, Limit: 2})
	require.NoError(t, err)
	events, unsub := f.bus.Subscribe(string(b.ID))
	defer unsub()

	badID := f.jobs(t, b.ID)[0].ID
	require.Eventually(t, func() bool {
		job, err := f.repo.GetJob(ctx, badID)
		return err == nil && job.Status == domain.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.studio.Regenerate(ctx, badID)
	require.NoError(t, err, "a failed job is regenerable while its sibling still runs")
	require.Eventually(t, func() bool {
		return provider.Calls(domain.MediaKindAudio, "bad line") == 2
	}, 2*time.Second, 5*time.Millisecond)

	// The original run settles while the regenerated job is still in flight.
	close(slow)
	waitForEvent(t, events, EventBatchCompleted)

	_, err = f.studio.Regenerate(ctx, badID)
	assert.ErrorIs(t, err, domain.ErrJobRunning, "settling the first run keeps the new claim")

	close(retry)
	f.studio.Wait()

	for _, job := range f.jobs(t, b.ID) {
		assert.Equal(t, domain.JobStatusCompleted, job.Status, job.Request.Text)
	}
	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, b.ID).Status)
	assert.Equal(t, 1, provider.Calls(domain.MediaKindAudio, "slow line"))
}

func waitForEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == want {
				return evt
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
			return Event{}
		}
	}
}

func TestStudio_RegenerateReplacesAsset(t *testing.T) {
	f := newStudioFixture(t, context.Background(), mediagen.NewMockProvider(0))
	f.upload(t)
	ctx := context.Background()

	b, err := f.studio.StartStoryboard(ctx, f.session.ID, StoryboardRequest{Scenes: []string{"opening shot"}})
	require.NoError(t, err)
	f.studio.Wait()

	before := f.jobs(t, b.ID)[0]
	require.NotNil(t, before.AssetID)

	_, err = f.studio.Regenerate(ctx, before.ID)
	require.NoError(t, err)
	f.studio.Wait()

	after, err := f.repo.GetJob(ctx, before.ID)
	require.NoError(t, err)
	require.NotNil(t, after.AssetID)
	assert.NotEqual(t, *before.AssetID, *after.AssetID)

	_, err = f.repo.GetAsset(ctx, *before.AssetID)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound, "the replaced asset is dropped")

	asset, err := f.repo.GetAsset(ctx, *after.AssetID)
	require.NoError(t, err)
	assert.FileExists(t, asset.FilePath, "the file written over the old one stays")
}

func TestStudio_RegenerateRunningJob(t *testing.T) {
	f := newStudioFixture(t, context.Background(), mediagen.NewMockProvider(200*time.Millisecond))
	ctx := context.Background()

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: []string{"slow line"}})
	require.NoError(t, err)

	job := f.jobs(t, b.ID)[0]
	_, err = f.studio.Regenerate(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobRunning)

	_, err = f.studio.Regenerate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	f.studio.Wait()
}

func TestStudio_ResumeRerunsOnlyUnfinished(t *testing.T) {
	provider := mediagen.NewMockProvider(0)
	provider.FailFunc = failFirstCall("line 2", "line 4")
	f := newStudioFixture(t, context.Background(), provider)
	ctx := context.Background()

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{
		Lines: []string{"line 1", "line 2", "line 3", "line 4"},
	})
	require.NoError(t, err)
	f.studio.Wait()
	require.Equal(t, domain.BatchStatusPartial, f.batch(t, b.ID).Status)

	resumed, err := f.studio.Resume(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusRunning, resumed.Status)
	f.studio.Wait()

	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, b.ID).Status)
	for _, line := range []string{"line 1", "line 3"} {
		assert.Equal(t, 1, provider.Calls(domain.MediaKindAudio, line), line)
	}
	for _, line := range []string{"line 2", "line 4"} {
		assert.Equal(t, 2, provider.Calls(domain.MediaKindAudio, line), line)
	}

	// Nothing left to do: a second resume is a no-op.
	again, err := f.studio.Resume(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, again.Status)
	f.studio.Wait()
	assert.Equal(t, 2, provider.Calls(domain.MediaKindAudio, "line 2"))
}

func TestStudio_ShutdownLeavesJobsForResume(t *testing.T) {
	lifetime, cancel := context.WithCancel(context.Background())
	provider := mediagen.NewMockProvider(50 * time.Millisecond)
	f := newStudioFixture(t, lifetime, provider)
	ctx := context.Background()

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{
		Lines: []string{"a", "b", "c", "d"},
		Limit: 1,
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cancel()
	f.studio.Wait()

	var queued int
	for _, j := range f.jobs(t, b.ID) {
		assert.NotEqual(t, domain.JobStatusCompleted, j.Status)
		if j.Status == domain.JobStatusPending {
			queued++
		}
	}
	assert.Equal(t, 3, queued, "jobs never admitted stay queued")

	// A fresh process picks the batch up again.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	restarted := NewStudio(context.Background(), logger, f.repo, f.sessions, f.workspace,
		NewJobSink(logger, f.repo, f.bus), provider, testScheduler())

	_, err = restarted.Resume(ctx, b.ID)
	require.NoError(t, err)
	restarted.Wait()
	assert.Equal(t, domain.BatchStatusCompleted, f.batch(t, b.ID).Status)
}

func TestStudio_StoryboardWithVideo(t *testing.T) {
	provider := mediagen.NewMockProvider(0)
	provider.FailFunc = func(kind domain.MediaKind, input string, _ int) error {
		if kind == domain.MediaKindImage && strings.Contains(input, "broken scene") {
			return errors.New("refused")
		}
		return nil
	}
	f := newStudioFixture(t, context.Background(), provider)
	ctx := context.Background()

	frames, err := f.studio.StartStoryboard(ctx, f.session.ID, StoryboardRequest{
		Scenes:    []string{"hero walks in", "broken scene", "logo reveal"},
		WithVideo: true,
		Seconds:   4,
	})
	require.NoError(t, err)
	f.studio.Wait()

	assert.Equal(t, domain.BatchStatusPartial, f.batch(t, frames.ID).Status)

	sess, err := f.sessions.Get(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, sess.Batches, 2)
	assert.Equal(t, frames.ID, sess.Batches[0])

	clips := f.batch(t, sess.Batches[1])
	assert.Equal(t, domain.BatchKindStoryboardVideo, clips.Kind)
	assert.Equal(t, domain.BatchStatusCompleted, clips.Status)

	jobs := f.jobs(t, clips.ID)
	require.Len(t, jobs, 2)
	assert.Equal(t, "scene_01_clip", jobs[0].Request.Filename)
	assert.Equal(t, "scene_03_clip", jobs[1].Request.Filename)

	for _, j := range jobs {
		asset, err := f.repo.GetAsset(ctx, *j.AssetID)
		require.NoError(t, err)
		data, err := os.ReadFile(asset.FilePath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "seeded=true")
		assert.Equal(t, 4, j.Request.Seconds)
	}
}

func TestStudio_Bundle(t *testing.T) {
	f := newStudioFixture(t, context.Background(), mediagen.NewMockProvider(0))
	ctx := context.Background()

	b, err := f.studio.StartVoiceover(ctx, f.session.ID, VoiceoverRequest{Lines: []string{"one", "two", "three"}})
	require.NoError(t, err)
	f.studio.Wait()

	var buf bytes.Buffer
	require.NoError(t, f.studio.Bundle(ctx, b.ID, &buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	assert.Equal(t, []string{"voiceover_01.mp3", "voiceover_02.mp3", "voiceover_03.mp3"}, names)

	err = f.studio.Bundle(ctx, "missing", &buf)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestUniqueName(t *testing.T) {
	seen := map[string]int{}
	assert.Equal(t, "clip.mp4", uniqueName("clip.mp4", seen))
	assert.Equal(t, "clip-2.mp4", uniqueName("clip.mp4", seen))
	assert.Equal(t, "clip-3.mp4", uniqueName("clip.mp4", seen))
	assert.Equal(t, "other.mp4", uniqueName("other.mp4", seen))
}
