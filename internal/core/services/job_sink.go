package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/auleStudio/internal/core/domain"
	"github.com/manthysbr/auleStudio/internal/core/ports"
)

// JobSink is where jobs report their lifecycle. Every report updates the job
// in place, persists it and publishes it on the EventBus under its batch.
//
// Only Queue returns an error: it runs before the batch starts, when the
// caller can still refuse the request. Later reports happen inside running
// jobs, where a storage failure must not turn into a job failure, so they log.
type JobSink struct {
	logger *slog.Logger
	repo   ports.Repository
	bus    *EventBus
	now    func() time.Time

	// batchMu orders batch row writes: a settle derives the status and saves
	// it before the next settle lists the jobs again.
	batchMu sync.Mutex
}

func NewJobSink(logger *slog.Logger, repo ports.Repository, bus *EventBus) *JobSink {
	return &JobSink{
		logger: logger,
		repo:   repo,
		bus:    bus,
		now:    time.Now,
	}
}

// Queue resets the job to QUEUED and persists it.
func (s *JobSink) Queue(ctx context.Context, job *domain.Job) error {
	job.Status = domain.JobStatusPending
	job.StatusText = "queued"
	job.Error = nil
	job.UpdatedAt = s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}

	if err := s.repo.SaveJob(ctx, *job); err != nil {
		return fmt.Errorf("failed to queue job: %w", err)
	}
	s.publish(EventJobQueued, *job)
	return nil
}

// Start marks the job RUNNING.
func (s *JobSink) Start(ctx context.Context, job *domain.Job, text string) {
	job.Status = domain.JobStatusRunning
	job.Attempts = 0
	s.Progress(ctx, job, text)
}

// Progress updates the human-readable status of a running job.
func (s *JobSink) Progress(ctx context.Context, job *domain.Job, text string) {
	job.StatusText = text
	job.UpdatedAt = s.now().UTC()
	s.save(ctx, *job)
	s.publish(EventJobRunning, *job)
}

// Succeed records the produced asset and marks the job COMPLETED.
func (s *JobSink) Succeed(ctx context.Context, job *domain.Job, asset domain.Asset) {
	if err := s.repo.SaveAsset(ctx, asset); err != nil {
		s.Fail(ctx, job, fmt.Errorf("failed to record asset: %w", err))
		return
	}

	id := asset.ID
	job.Status = domain.JobStatusCompleted
	job.StatusText = "done"
	job.AssetID = &id
	job.Error = nil
	job.UpdatedAt = s.now().UTC()
	s.save(ctx, *job)
	s.publish(EventJobCompleted, *job)

	s.logger.Info("job completed",
		"job_id", job.ID,
		"batch_id", job.BatchID,
		"asset_id", asset.ID,
		"attempts", job.Attempts,
	)
}

// Fail marks the job FAILED with err's message. A previous asset, if any, is
// kept so a failed regenerate leaves the old result in place.
func (s *JobSink) Fail(ctx context.Context, job *domain.Job, err error) {
	msg := err.Error()
	job.Status = domain.JobStatusFailed
	job.StatusText = "failed"
	job.Error = &msg
	job.UpdatedAt = s.now().UTC()
	s.save(ctx, *job)
	s.publish(EventJobFailed, *job)

	s.logger.Warn("job failed",
		"job_id", job.ID,
		"batch_id", job.BatchID,
		"attempts", job.Attempts,
		"error", err,
	)
}

// StartBatch marks the batch RUNNING.
func (s *JobSink) StartBatch(ctx context.Context, b *domain.Batch) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	b.Status = domain.BatchStatusRunning
	b.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveBatch(ctx, *b); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	s.publishBatch(EventBatchStarted, *b)
	return nil
}

// SettleBatch derives the batch status from its persisted jobs once a run is
// over and announces it.
func (s *JobSink) SettleBatch(ctx context.Context, b *domain.Batch) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	jobs, err := s.repo.ListBatchJobs(ctx, b.ID)
	if err != nil {
		s.logger.Error("failed to list batch jobs", "batch_id", b.ID, "error", err)
		return
	}

	b.Status = domain.SettleStatus(jobs)
	b.JobCount = len(jobs)
	b.UpdatedAt = s.now().UTC()
	if err := s.repo.SaveBatch(ctx, *b); err != nil {
		s.logger.Error("failed to save batch", "batch_id", b.ID, "error", err)
	}
	s.publishBatch(EventBatchCompleted, *b)

	s.logger.Info("batch settled", "batch_id", b.ID, "kind", b.Kind, "status", b.Status, "jobs", len(jobs))
}

func (s *JobSink) save(ctx context.Context, job domain.Job) {
	if err := s.repo.SaveJob(ctx, job); err != nil {
		s.logger.Error("failed to persist job", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (s *JobSink) publish(t EventType, job domain.Job) {
	data, _ := json.Marshal(job)
	s.bus.Publish(Event{
		BatchID:   string(job.BatchID),
		JobID:     string(job.ID),
		Type:      t,
		Data:      string(data),
		Timestamp: job.UpdatedAt.UnixMilli(),
	})
}

func (s *JobSink) publishBatch(t EventType, b domain.Batch) {
	data, _ := json.Marshal(b)
	s.bus.Publish(Event{
		BatchID:   string(b.ID),
		Type:      t,
		Data:      string(data),
		Timestamp: b.UpdatedAt.UnixMilli(),
	})
}
