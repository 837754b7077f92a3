package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/auleStudio/internal/core/ports"
)

var ErrSettingNotFound = errors.New("setting not found")

type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the DuckDB file at path. An empty path
// opens a private in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// Job sinks write from many goroutines; one connection keeps upserts serialized.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, nil
}

// Ensure Repository implements Repository interface
var _ ports.Repository = (*Repository)(nil)

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id         VARCHAR PRIMARY KEY,
			session_id VARCHAR,
			kind       VARCHAR NOT NULL,
			job_limit  INTEGER NOT NULL,
			status     VARCHAR NOT NULL,
			job_count  INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id          VARCHAR PRIMARY KEY,
			batch_id    VARCHAR NOT NULL,
			idx         INTEGER NOT NULL,
			kind        VARCHAR NOT NULL,
			status      VARCHAR NOT NULL,
			status_text VARCHAR,
			attempts    INTEGER NOT NULL,
			request     VARCHAR NOT NULL,
			asset_id    VARCHAR,
			error       VARCHAR,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS assets (
			id         VARCHAR PRIMARY KEY,
			batch_id   VARCHAR NOT NULL,
			job_id     VARCHAR NOT NULL,
			kind       VARCHAR NOT NULL,
			filename   VARCHAR NOT NULL,
			file_path  VARCHAR NOT NULL,
			source_url VARCHAR,
			mime_type  VARCHAR,
			size_bytes BIGINT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        VARCHAR PRIMARY KEY,
			value      VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}
