package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/manthysbr/auleStudio/internal/core/domain"
)

// memRepo is an in-memory ports.Repository for service tests.
type memRepo struct {
	mu       sync.Mutex
	batches  map[domain.BatchID]domain.Batch
	jobs     map[domain.JobID]domain.Job
	assets   map[domain.AssetID]domain.Asset
	settings map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{
		batches:  map[domain.BatchID]domain.Batch{},
		jobs:     map[domain.JobID]domain.Job{},
		assets:   map[domain.AssetID]domain.Asset{},
		settings: map[string]string{},
	}
}

func (r *memRepo) SaveBatch(_ context.Context, b domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = b
	return nil
}

func (r *memRepo) GetBatch(_ context.Context, id domain.BatchID) (domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return domain.Batch{}, domain.ErrBatchNotFound
	}
	return b, nil
}

func (r *memRepo) ListBatches(_ context.Context, sessionID domain.SessionID) ([]domain.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Batch
	for _, b := range r.batches {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) SaveJob(_ context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *memRepo) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return j, nil
}

func (r *memRepo) ListBatchJobs(_ context.Context, batchID domain.BatchID) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchJobs(batchID), nil
}

func (r *memRepo) batchJobs(batchID domain.BatchID) []domain.Job {
	var out []domain.Job
	for _, j := range r.jobs {
		if j.BatchID == batchID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (r *memRepo) SaveAsset(_ context.Context, a domain.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.ID] = a
	return nil
}

func (r *memRepo) GetAsset(_ context.Context, id domain.AssetID) (domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return domain.Asset{}, domain.ErrAssetNotFound
	}
	return a, nil
}

func (r *memRepo) ListBatchAssets(_ context.Context, batchID domain.BatchID) ([]domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Asset
	for _, j := range r.batchJobs(batchID) {
		if j.AssetID == nil {
			continue
		}
		if a, ok := r.assets[*j.AssetID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteAsset(_ context.Context, id domain.AssetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, id)
	return nil
}

func (r *memRepo) GetSetting(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.settings[key]
	if !ok {
		return "", errors.New("setting not found")
	}
	return v, nil
}

func (r *memRepo) SaveSetting(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}
