package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/manthysbr/auleStudio/internal/batch"
	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/ports"
)

// MaxBatchJobs bounds the number of jobs one request may create.
const MaxBatchJobs = 50

var ErrBatchTooLarge = fmt.Errorf("%w: more than %d jobs", batch.ErrConfiguration, MaxBatchJobs)

const defaultVoice = "alloy"

type StudioRequest struct {
	Prompt     string `json:"prompt"`
	Variations int    `json:"variations"`
	Limit      int    `json:"limit,omitempty"`
}

type StoryboardRequest struct {
	Scenes     []string `json:"scenes"`
	WithVideo  bool     `json:"with_video"`
	Seconds    int      `json:"seconds,omitempty"`
	ImageLimit int      `json:"image_limit,omitempty"`
	VideoLimit int      `json:"video_limit,omitempty"`
}

type VoiceoverRequest struct {
	Lines []string `json:"lines"`
	Voice string   `json:"voice,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Studio turns front-end requests into batches and drives them through the
// batch runner against the media backend.
//
// Start* calls return as soon as the batch and its QUEUED jobs are stored.
// The batch itself runs in the background under the Studio's lifetime
// context; progress is reported through the JobSink.
type Studio struct {
	logger    *slog.Logger
	repo      ports.Repository
	sessions  ports.SessionStore
	workspace *WorkspaceManager
	sink      *JobSink
	lifetime  context.Context
	now       func() time.Time

	mu       sync.RWMutex
	provider domain.MediaProvider
	sched    domain.SchedulerConfig

	// active holds every job owned by a running batch in this process.
	activeMu sync.Mutex
	active   map[domain.JobID]struct{}
	wg       sync.WaitGroup
}

func NewStudio(
	lifetime context.Context,
	logger *slog.Logger,
	repo ports.Repository,
	sessions ports.SessionStore,
	workspace *WorkspaceManager,
	sink *JobSink,
	provider domain.MediaProvider,
	sched domain.SchedulerConfig,
) *Studio {
	return &Studio{
		logger:    logger,
		repo:      repo,
		sessions:  sessions,
		workspace: workspace,
		sink:      sink,
		lifetime:  lifetime,
		now:       time.Now,
		provider:  provider,
		sched:     sched,
		active:    make(map[domain.JobID]struct{}),
	}
}

// Reconfigure swaps the backend and scheduler settings. Batches already
// running keep the values they started with.
func (s *Studio) Reconfigure(provider domain.MediaProvider, sched domain.SchedulerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = provider
	s.sched = sched
	s.logger.Info("studio reconfigured",
		"image_limit", sched.ImageLimit,
		"video_limit", sched.VideoLimit,
		"audio_limit", sched.AudioLimit,
	)
}

// Wait blocks until every background batch has finished.
func (s *Studio) Wait() {
	s.wg.Wait()
}

func (s *Studio) snapshot() (domain.MediaProvider, domain.SchedulerConfig) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider, s.sched
}

// StartImageStudio composes the session's product and model photos into
// Variations images.
func (s *Studio) StartImageStudio(ctx context.Context, sessionID domain.SessionID, req StudioRequest) (domain.Batch, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Batch{}, err
	}
	if !sess.ReadyForStudio() {
		return domain.Batch{}, domain.ErrMissingUpload
	}

	inputs := []string{sess.ProductImage.FilePath, sess.ModelImage.FilePath}
	reqs := make([]domain.GenerationRequest, 0, max(req.Variations, 0))
	for i := 0; i < req.Variations; i++ {
		reqs = append(reqs, domain.GenerationRequest{
			Kind:        domain.MediaKindImage,
			Prompt:      studioPrompt(req.Prompt, i, req.Variations),
			InputAssets: inputs,
			Filename:    fmt.Sprintf("studio_%02d", i+1),
		})
	}
	return s.launch(ctx, sess.ID, domain.BatchKindStudio, domain.MediaKindImage, req.Limit, reqs, nil)
}

// StartStoryboard generates one frame per scene. With WithVideo set, every
// frame that succeeds seeds a clip in a second batch started once the frames
// are done. The returned batch is the frame batch.
func (s *Studio) StartStoryboard(ctx context.Context, sessionID domain.SessionID, req StoryboardRequest) (domain.Batch, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Batch{}, err
	}

	scenes := nonEmpty(req.Scenes)
	reqs := make([]domain.GenerationRequest, len(scenes))
	for i, scene := range scenes {
		reqs[i] = domain.GenerationRequest{
			Kind:     domain.MediaKindImage,
			Prompt:   framePrompt(scene, i),
			Filename: fmt.Sprintf("scene_%02d", i+1),
		}
	}

	var then func(context.Context, []batch.Result[domain.Asset])
	if req.WithVideo {
		if req.VideoLimit < 0 {
			return domain.Batch{}, fmt.Errorf("%w (got %d)", batch.ErrInvalidLimit, req.VideoLimit)
		}
		then = func(ctx context.Context, frames []batch.Result[domain.Asset]) {
			s.startClips(ctx, sess.ID, scenes, frames, req)
		}
	}
	return s.launch(ctx, sess.ID, domain.BatchKindStoryboardImage, domain.MediaKindImage, req.ImageLimit, reqs, then)
}

func (s *Studio) startClips(ctx context.Context, sessionID domain.SessionID, scenes []string, frames []batch.Result[domain.Asset], req StoryboardRequest) {
	if ctx.Err() != nil {
		return
	}

	var reqs []domain.GenerationRequest
	for i, frame := range frames {
		if frame.Err != nil {
			continue
		}
		reqs = append(reqs, domain.GenerationRequest{
			Kind:        domain.MediaKindVideo,
			Prompt:      clipPrompt(scenes[i]),
			InputAssets: []string{frame.Value.FilePath},
			Filename:    fmt.Sprintf("scene_%02d_clip", i+1),
			Seconds:     req.Seconds,
		})
	}
	if len(reqs) == 0 {
		s.logger.Warn("storyboard produced no frames, skipping clips", "session_id", sessionID)
		return
	}

	b, err := s.launch(context.WithoutCancel(ctx), sessionID, domain.BatchKindStoryboardVideo, domain.MediaKindVideo, req.VideoLimit, reqs, nil)
	if err != nil {
		s.logger.Error("failed to start storyboard clips", "session_id", sessionID, "error", err)
		return
	}
	s.logger.Info("storyboard clips started", "batch_id", b.ID, "clips", len(reqs))
}

// StartVoiceover synthesizes one audio file per non-empty line.
func (s *Studio) StartVoiceover(ctx context.Context, sessionID domain.SessionID, req VoiceoverRequest) (domain.Batch, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.Batch{}, err
	}

	voice := firstNonEmpty(req.Voice, sess.Voice, defaultVoice)
	lines := nonEmpty(req.Lines)
	reqs := make([]domain.GenerationRequest, len(lines))
	for i, line := range lines {
		reqs[i] = domain.GenerationRequest{
			Kind:     domain.MediaKindAudio,
			Text:     line,
			Voice:    voice,
			Filename: fmt.Sprintf("voiceover_%02d", i+1),
		}
	}
	return s.launch(ctx, sess.ID, domain.BatchKindVoiceover, domain.MediaKindAudio, req.Limit, reqs, nil)
}

// Regenerate reruns one job as a batch of one. On success the job's asset is
// replaced; on failure the previous asset stays.
func (s *Studio) Regenerate(ctx context.Context, jobID domain.JobID) (domain.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	b, err := s.repo.GetBatch(ctx, job.BatchID)
	if err != nil {
		return domain.Job{}, err
	}

	if !s.claim(job.ID) {
		return domain.Job{}, domain.ErrJobRunning
	}
	if err := s.sink.Queue(ctx, &job); err != nil {
		s.release(job)
		return domain.Job{}, err
	}

	s.spawn(b, []domain.Job{job}, 1, nil)
	return job, nil
}

// Resume reruns every job of the batch that has not completed, under the
// batch's own limit. Jobs still running in this process are left alone.
// A batch with nothing to resume is returned unchanged.
func (s *Studio) Resume(ctx context.Context, batchID domain.BatchID) (domain.Batch, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	jobs, err := s.repo.ListBatchJobs(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}

	var pending []domain.Job
	s.activeMu.Lock()
	for _, j := range jobs {
		if j.Status == domain.JobStatusCompleted {
			continue
		}
		if _, busy := s.active[j.ID]; busy {
			continue
		}
		s.active[j.ID] = struct{}{}
		pending = append(pending, j)
	}
	s.activeMu.Unlock()

	if len(pending) == 0 {
		return b, nil
	}

	for i := range pending {
		if err := s.sink.Queue(ctx, &pending[i]); err != nil {
			s.release(pending...)
			return domain.Batch{}, err
		}
	}

	s.logger.Info("resuming batch", "batch_id", b.ID, "jobs", len(pending), "limit", b.Limit)
	limit := b.Limit
	if limit < 1 {
		_, sched := s.snapshot()
		limit = sched.LimitFor(pending[0].Kind)
	}
	s.spawn(b, pending, limit, nil)

	b.Status = domain.BatchStatusRunning
	return b, nil
}

// launch validates and stores a new batch with its QUEUED jobs, links it to
// the session and starts it in the background.
func (s *Studio) launch(
	ctx context.Context,
	sessionID domain.SessionID,
	kind domain.BatchKind,
	media domain.MediaKind,
	limit int,
	reqs []domain.GenerationRequest,
	then func(context.Context, []batch.Result[domain.Asset]),
) (domain.Batch, error) {
	if len(reqs) == 0 {
		return domain.Batch{}, batch.ErrEmptyBatch
	}
	if len(reqs) > MaxBatchJobs {
		return domain.Batch{}, fmt.Errorf("%w (got %d)", ErrBatchTooLarge, len(reqs))
	}
	if limit == 0 {
		_, sched := s.snapshot()
		limit = sched.LimitFor(media)
	}
	if limit < 1 {
		return domain.Batch{}, fmt.Errorf("%w (got %d)", batch.ErrInvalidLimit, limit)
	}

	now := s.now().UTC()
	b := domain.Batch{
		ID:        domain.NewBatchID(),
		SessionID: sessionID,
		Kind:      kind,
		Limit:     limit,
		Status:    domain.BatchStatusRunning,
		JobCount:  len(reqs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.SaveBatch(ctx, b); err != nil {
		return domain.Batch{}, fmt.Errorf("failed to save batch: %w", err)
	}

	jobs := make([]domain.Job, len(reqs))
	for i, req := range reqs {
		jobs[i] = domain.Job{
			ID:        domain.NewJobID(),
			BatchID:   b.ID,
			Index:     i,
			Kind:      req.Kind,
			Request:   req,
			CreatedAt: now,
		}
		if err := s.sink.Queue(ctx, &jobs[i]); err != nil {
			return domain.Batch{}, err
		}
	}

	if _, err := s.sessions.Update(ctx, sessionID, func(sess domain.Session) (domain.Session, error) {
		return sess.WithBatch(b.ID, now), nil
	}); err != nil {
		return domain.Batch{}, fmt.Errorf("failed to link batch to session: %w", err)
	}

	s.activeMu.Lock()
	for _, j := range jobs {
		s.active[j.ID] = struct{}{}
	}
	s.activeMu.Unlock()

	s.logger.Info("batch launched", "batch_id", b.ID, "kind", kind, "jobs", len(jobs), "limit", limit)
	s.spawn(b, jobs, limit, then)
	return b, nil
}

func (s *Studio) spawn(b domain.Batch, jobs []domain.Job, limit int, then func(context.Context, []batch.Result[domain.Asset])) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		results := s.execute(s.lifetime, b, jobs, limit)
		if then != nil {
			then(s.lifetime, results)
		}
	}()
}

// execute runs jobs through a batch.Runner and settles the batch. jobs must
// already be claimed and QUEUED; each claim is released as soon as its job
// settles. Jobs the runner never started, because the lifetime context ended,
// stay QUEUED for a later Resume.
func (s *Studio) execute(ctx context.Context, b domain.Batch, jobs []domain.Job, limit int) []batch.Result[domain.Asset] {
	// Reports outlive cancellation so an interrupted batch is still recorded.
	store := context.WithoutCancel(ctx)
	provider, sched := s.snapshot()

	if err := s.sink.StartBatch(store, &b); err != nil {
		s.logger.Error("failed to mark batch running", "batch_id", b.ID, "error", err)
	}

	assets := make([]domain.Asset, len(jobs))
	finished := make([]bool, len(jobs))
	runner := batch.NewRunner(s.logger, batch.WithHooks(batch.Hooks{
		OnStart: func(i int) {
			s.sink.Start(store, &jobs[i], "generating "+string(jobs[i].Kind))
		},
		OnFinish: func(i int, err error) {
			finished[i] = true
			defer s.release(jobs[i])
			if err != nil {
				s.sink.Fail(store, &jobs[i], err)
				return
			}
			previous := jobs[i].AssetID
			s.sink.Succeed(store, &jobs[i], assets[i])
			if previous != nil && *previous != assets[i].ID {
				s.discardAsset(store, *previous, assets[i].FilePath)
			}
		},
	}))

	work := make([]batch.Job[domain.Asset], len(jobs))
	for i := range jobs {
		job := &jobs[i]
		work[i] = batch.Job[domain.Asset]{
			ID:    string(job.ID),
			Retry: s.retryPolicy(store, job, sched),
			Run: func(ctx context.Context) (domain.Asset, error) {
				job.Attempts++
				asset, err := s.generate(ctx, provider, *job)
				if err == nil {
					assets[i] = asset
				}
				return asset, err
			},
		}
	}

	results, err := batch.Collect(ctx, runner, work, limit)
	if err != nil {
		s.logger.Warn("batch interrupted", "batch_id", b.ID, "error", err)
	}
	for i := range jobs {
		if !finished[i] {
			s.release(jobs[i])
		}
	}

	s.sink.SettleBatch(store, &b)
	return results
}

// retryPolicy retries transient backend failures and reports each wait on
// the job's status line.
func (s *Studio) retryPolicy(ctx context.Context, job *domain.Job, sched domain.SchedulerConfig) *batch.RetryPolicy {
	return &batch.RetryPolicy{
		MaxAttempts:  sched.MaxAttempts,
		InitialDelay: sched.InitialDelay(),
		Multiplier:   2,
		Retryable:    domain.IsTransient,
		OnRetry: func(attempt int, err error, next time.Duration) {
			s.sink.Progress(ctx, job, fmt.Sprintf("retrying (attempt %d) in %s: %v", attempt+1, next, err))
		},
	}
}

// generate performs one attempt: call the backend and store the result.
func (s *Studio) generate(ctx context.Context, provider domain.MediaProvider, job domain.Job) (domain.Asset, error) {
	req := job.Request

	var media domain.GeneratedMedia
	var err error
	switch req.Kind {
	case domain.MediaKindImage:
		inputs := make([]domain.MediaFile, 0, len(req.InputAssets))
		for _, path := range req.InputAssets {
			f, err := s.workspace.LoadMedia(path)
			if err != nil {
				return domain.Asset{}, err
			}
			inputs = append(inputs, f)
		}
		media, err = provider.GenerateImage(ctx, domain.ImageRequest{Prompt: req.Prompt, InputImages: inputs})
	case domain.MediaKindVideo:
		var seed *domain.MediaFile
		if len(req.InputAssets) > 0 {
			f, err := s.workspace.LoadMedia(req.InputAssets[0])
			if err != nil {
				return domain.Asset{}, err
			}
			seed = &f
		}
		media, err = provider.GenerateVideo(ctx, domain.VideoRequest{Prompt: req.Prompt, Seed: seed, Seconds: req.Seconds})
	case domain.MediaKindAudio:
		media, err = provider.SynthesizeSpeech(ctx, domain.SpeechRequest{Text: req.Text, Voice: req.Voice})
	default:
		return domain.Asset{}, fmt.Errorf("unsupported media kind %q", req.Kind)
	}
	if err != nil {
		return domain.Asset{}, err
	}
	if len(media.Data) == 0 {
		return domain.Asset{}, errors.New("backend returned no media")
	}

	filename := req.Filename + domain.Extension(media.MimeType, req.Kind)
	path, err := s.workspace.WriteAsset(job.BatchID, filename, media.Data)
	if err != nil {
		return domain.Asset{}, err
	}

	return domain.Asset{
		ID:        domain.NewAssetID(),
		BatchID:   job.BatchID,
		JobID:     job.ID,
		Kind:      req.Kind,
		Filename:  filename,
		FilePath:  path,
		SourceURL: media.URL,
		MimeType:  media.MimeType,
		SizeBytes: int64(len(media.Data)),
		CreatedAt: s.now().UTC(),
	}, nil
}

// discardAsset drops a replaced asset. The file is kept when the new asset
// was written over it.
func (s *Studio) discardAsset(ctx context.Context, id domain.AssetID, keepPath string) {
	old, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		s.logger.Warn("replaced asset not found", "asset_id", id, "error", err)
		return
	}
	if old.FilePath != keepPath {
		if err := s.workspace.Remove(old.FilePath); err != nil {
			s.logger.Warn("failed to remove replaced asset file", "asset_id", id, "error", err)
		}
	}
	if err := s.repo.DeleteAsset(ctx, id); err != nil {
		s.logger.Warn("failed to delete replaced asset", "asset_id", id, "error", err)
	}
}

func (s *Studio) claim(id domain.JobID) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Studio) release(jobs ...domain.Job) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for _, j := range jobs {
		delete(s.active, j.ID)
	}
}

func studioPrompt(prompt string, i, n int) string {
	base := "Place the product from the first image with the model from the second image in one photo."
	if p := strings.TrimSpace(prompt); p != "" {
		base += " " + p
	}
	if n > 1 {
		base += fmt.Sprintf(" Variation %d of %d.", i+1, n)
	}
	return base
}

func framePrompt(scene string, i int) string {
	return fmt.Sprintf("Storyboard frame %d: %s", i+1, scene)
}

func clipPrompt(scene string) string {
	return "Animate this storyboard frame: " + scene
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
