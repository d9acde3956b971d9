// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package backfill

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoTask is returned when no backfill task has ever been stored.
var ErrNoTask = errors.New("no backfill task found")

// Repository persists backfill task rows.
type Repository interface {
	// CreateSchema creates the region_backfill_tasks table
	CreateSchema() error

	// Create inserts a new task row and returns its id
	Create(ctx context.Context, snap Snapshot) (int64, error)

	// Save overwrites the mutable columns of the task row
	Save(ctx context.Context, snap Snapshot) error

	// Latest returns the most recently created task
	Latest(ctx context.Context) (*Snapshot, error)

	// Running returns the most recent task still flagged as running
	Running(ctx context.Context) (*Snapshot, error)
}

type sqlRepository struct {
	db *sql.DB
}

// NewRepository creates a task repository on top of a DuckDB connection.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS region_backfill_tasks_seq START 1;

		CREATE TABLE IF NOT EXISTS region_backfill_tasks (
			id BIGINT PRIMARY KEY DEFAULT nextval('region_backfill_tasks_seq'),
			state VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			processed_records INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			errors VARCHAR NOT NULL DEFAULT '[]',
			is_running BOOLEAN NOT NULL,
			abort_requested BOOLEAN NOT NULL DEFAULT FALSE,
			batch_size INTEGER NOT NULL
		);
	`)

	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func encodeErrors(entries []ErrorEntry) (string, error) {
	if entries == nil {
		entries = []ErrorEntry{}
	}

	b, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("encoding task errors: %w", err)
	}

	return string(b), nil
}

func (r *sqlRepository) Create(ctx context.Context, snap Snapshot) (int64, error) {
	errs, err := encodeErrors(snap.ErrorLog)
	if err != nil {
		return 0, err
	}

	var id int64

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO region_backfill_tasks(
			state, created_at, started_at, finished_at, updated_at,
			total_records, processed_records, success_count, error_count,
			errors, is_running, abort_requested, batch_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(snap.State), snap.CreatedAt, nullTime(snap.StartedAt), nullTime(snap.FinishedAt), snap.UpdatedAt,
		snap.Total, snap.Processed, snap.Success, snap.Errors,
		errs, snap.IsRunning(), snap.AbortRequested, snap.BatchSize,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating backfill task: %w", err)
	}

	return id, nil
}

func (r *sqlRepository) Save(ctx context.Context, snap Snapshot) error {
	errs, err := encodeErrors(snap.ErrorLog)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE region_backfill_tasks
		SET state = ?, started_at = ?, finished_at = ?, updated_at = ?,
		    total_records = ?, processed_records = ?, success_count = ?, error_count = ?,
		    errors = ?, is_running = ?, abort_requested = ?
		WHERE id = ?`,
		string(snap.State), nullTime(snap.StartedAt), nullTime(snap.FinishedAt), snap.UpdatedAt,
		snap.Total, snap.Processed, snap.Success, snap.Errors,
		errs, snap.IsRunning(), snap.AbortRequested,
		snap.ID,
	)
	if err != nil {
		return fmt.Errorf("saving backfill task %d: %w", snap.ID, err)
	}

	return nil
}

const baseSelect = `
	SELECT id, state, created_at, started_at, finished_at, updated_at,
	       total_records, processed_records, success_count, error_count,
	       errors, abort_requested, batch_size
	FROM region_backfill_tasks
`

func (r *sqlRepository) one(ctx context.Context, query string) (*Snapshot, error) {
	snap := &Snapshot{}

	var (
		state             string
		started, finished sql.NullTime
		errs              string
	)

	err := r.db.QueryRowContext(ctx, query).Scan(
		&snap.ID, &state, &snap.CreatedAt, &started, &finished, &snap.UpdatedAt,
		&snap.Total, &snap.Processed, &snap.Success, &snap.Errors,
		&errs, &snap.AbortRequested, &snap.BatchSize,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTask
	}

	if err != nil {
		return nil, fmt.Errorf("loading backfill task: %w", err)
	}

	snap.State = State(state)

	if started.Valid {
		snap.StartedAt = &started.Time
	}

	if finished.Valid {
		snap.FinishedAt = &finished.Time
	}

	if err := json.Unmarshal([]byte(errs), &snap.ErrorLog); err != nil {
		return nil, fmt.Errorf("decoding errors of backfill task %d: %w", snap.ID, err)
	}

	return snap, nil
}

func (r *sqlRepository) Latest(ctx context.Context) (*Snapshot, error) {
	return r.one(ctx, baseSelect+` ORDER BY created_at DESC, id DESC LIMIT 1`)
}

func (r *sqlRepository) Running(ctx context.Context) (*Snapshot, error) {
	return r.one(ctx, baseSelect+` WHERE is_running ORDER BY created_at DESC, id DESC LIMIT 1`)
}
