package ports

import (
	"context"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// Repository abstracts the persistent storage (DuckDB)
type Repository interface {
	// Batch Management
	SaveBatch(ctx context.Context, b domain.Batch) error
	GetBatch(ctx context.Context, id domain.BatchID) (domain.Batch, error)
	ListBatches(ctx context.Context, sessionID domain.SessionID) ([]domain.Batch, error)

	// Job Management
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	// ListBatchJobs returns the jobs of a batch ordered by submission index.
	ListBatchJobs(ctx context.Context, batchID domain.BatchID) ([]domain.Job, error)

	// Assets
	SaveAsset(ctx context.Context, asset domain.Asset) error
	GetAsset(ctx context.Context, id domain.AssetID) (domain.Asset, error)
	ListBatchAssets(ctx context.Context, batchID domain.BatchID) ([]domain.Asset, error)
	DeleteAsset(ctx context.Context, id domain.AssetID) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// SessionStore owns the front end's session state.
type SessionStore interface {
	Create(ctx context.Context) (domain.Session, error)
	Get(ctx context.Context, id domain.SessionID) (domain.Session, error)
	// Update applies fn to the current session and stores the result atomically.
	Update(ctx context.Context, id domain.SessionID, fn func(domain.Session) (domain.Session, error)) (domain.Session, error)
}
