package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

func (r *Repository) SaveBatch(ctx context.Context, b domain.Batch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batches (id, session_id, kind, job_limit, status, job_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status     = excluded.status,
			job_count  = excluded.job_count,
			updated_at = excluded.updated_at`,
		string(b.ID), string(b.SessionID), string(b.Kind), b.Limit,
		string(b.Status), b.JobCount, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (r *Repository) GetBatch(ctx context.Context, id domain.BatchID) (domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, job_limit, status, job_count, created_at, updated_at
		FROM batches WHERE id = ?`, string(id))

	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Batch{}, domain.ErrBatchNotFound
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *Repository) ListBatches(ctx context.Context, sessionID domain.SessionID) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, kind, job_limit, status, job_count, created_at, updated_at
		FROM batches WHERE session_id = ?
		ORDER BY created_at DESC`, string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	out := []domain.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal job request: %w", err)
	}

	var assetID *string
	if job.AssetID != nil {
		s := string(*job.AssetID)
		assetID = &s
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, batch_id, idx, kind, status, status_text, attempts, request, asset_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status      = excluded.status,
			status_text = excluded.status_text,
			attempts    = excluded.attempts,
			request     = excluded.request,
			asset_id    = excluded.asset_id,
			error       = excluded.error,
			updated_at  = excluded.updated_at`,
		string(job.ID), string(job.BatchID), job.Index, string(job.Kind),
		string(job.Status), job.StatusText, job.Attempts, string(req),
		assetID, job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, batch_id, idx, kind, status, status_text, attempts, request, asset_id, error, created_at, updated_at
		FROM jobs WHERE id = ?`, string(id))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *Repository) ListBatchJobs(ctx context.Context, batchID domain.BatchID) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, idx, kind, status, status_text, attempts, request, asset_id, error, created_at, updated_at
		FROM jobs WHERE batch_id = ?
		ORDER BY idx ASC`, string(batchID))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s scanner) (domain.Batch, error) {
	var b domain.Batch
	var id, sessionID, kind, status string
	if err := s.Scan(&id, &sessionID, &kind, &b.Limit, &status, &b.JobCount, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return domain.Batch{}, err
	}
	b.ID = domain.BatchID(id)
	b.SessionID = domain.SessionID(sessionID)
	b.Kind = domain.BatchKind(kind)
	b.Status = domain.BatchStatus(status)
	return b, nil
}

func scanJob(s scanner) (domain.Job, error) {
	var job domain.Job
	var id, batchID, kind, status, request string
	var statusText, assetID, errMsg sql.NullString

	err := s.Scan(&id, &batchID, &job.Index, &kind, &status, &statusText, &job.Attempts,
		&request, &assetID, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(id)
	job.BatchID = domain.BatchID(batchID)
	job.Kind = domain.MediaKind(kind)
	job.Status = domain.JobStatus(status)
	job.StatusText = statusText.String
	if assetID.Valid && assetID.String != "" {
		a := domain.AssetID(assetID.String)
		job.AssetID = &a
	}
	if errMsg.Valid {
		e := errMsg.String
		job.Error = &e
	}
	if err := json.Unmarshal([]byte(request), &job.Request); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job request: %w", err)
	}
	return job, nil
}
