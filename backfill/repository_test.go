// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package backfill

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRepository(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.CreateSchema())

	ctx := context.Background()

	_, err = repo.Latest(ctx)
	require.ErrorIs(t, err, ErrNoTask)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := Snapshot{State: StatePending, CreatedAt: created, UpdatedAt: created, BatchSize: 50}

	id, err := repo.Create(ctx, snap)
	require.NoError(t, err)

	running, err := repo.Running(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, running.ID)
	assert.Nil(t, running.StartedAt)
	assert.Empty(t, running.ErrorLog)

	started := created.Add(time.Second)
	finished := created.Add(time.Minute)
	snap.ID = id
	snap.State = StateAborted
	snap.StartedAt = &started
	snap.FinishedAt = &finished
	snap.UpdatedAt = finished
	snap.Total = 10
	snap.Processed = 4
	snap.Success = 3
	snap.Errors = 1
	snap.AbortRequested = true
	snap.ErrorLog = []ErrorEntry{{RecordID: "p003", Reason: "no_results"}, {Reason: ReasonAborted}}

	require.NoError(t, repo.Save(ctx, snap))

	_, err = repo.Running(ctx)
	require.ErrorIs(t, err, ErrNoTask)

	got, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, got.State)
	assert.Equal(t, 4, got.Processed)
	assert.Equal(t, 10, got.Total)
	assert.True(t, got.AbortRequested)
	assert.Equal(t, snap.ErrorLog, got.ErrorLog)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
}
