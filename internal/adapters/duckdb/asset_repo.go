package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

func (r *Repository) SaveAsset(ctx context.Context, a domain.Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, batch_id, job_id, kind, filename, file_path, source_url, mime_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			filename   = excluded.filename,
			file_path  = excluded.file_path,
			source_url = excluded.source_url,
			mime_type  = excluded.mime_type,
			size_bytes = excluded.size_bytes`,
		string(a.ID), string(a.BatchID), string(a.JobID), string(a.Kind),
		a.Filename, a.FilePath, a.SourceURL, a.MimeType, a.SizeBytes, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id domain.AssetID) (domain.Asset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, batch_id, job_id, kind, filename, file_path, source_url, mime_type, size_bytes, created_at
		FROM assets WHERE id = ?`, string(id))

	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	if err != nil {
		return domain.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// ListBatchAssets returns a batch's assets in job submission order.
func (r *Repository) ListBatchAssets(ctx context.Context, batchID domain.BatchID) ([]domain.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.batch_id, a.job_id, a.kind, a.filename, a.file_path, a.source_url, a.mime_type, a.size_bytes, a.created_at
		FROM assets a
		JOIN jobs j ON j.asset_id = a.id
		WHERE a.batch_id = ?
		ORDER BY j.idx ASC`, string(batchID))
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	out := []domain.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteAsset(ctx context.Context, id domain.AssetID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

func scanAsset(s scanner) (domain.Asset, error) {
	var a domain.Asset
	var id, batchID, jobID, kind string
	var sourceURL, mimeType sql.NullString
	var size sql.NullInt64

	err := s.Scan(&id, &batchID, &jobID, &kind, &a.Filename, &a.FilePath, &sourceURL, &mimeType, &size, &a.CreatedAt)
	if err != nil {
		return domain.Asset{}, err
	}
	a.ID = domain.AssetID(id)
	a.BatchID = domain.BatchID(batchID)
	a.JobID = domain.JobID(jobID)
	a.Kind = domain.MediaKind(kind)
	a.SourceURL = sourceURL.String
	a.MimeType = mimeType.String
	a.SizeBytes = size.Int64
	return a, nil
}
