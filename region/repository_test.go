// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

func setupTestDB(t *testing.T) (*sql.DB, Repository) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return db, repo
}

func TestCreateSchema(t *testing.T) {
	db, repo := setupTestDB(t)

	// Idempotent.
	require.NoError(t, repo.CreateSchema())

	for _, table := range []string{"regions", "geocode_attempts", "reference_centers", "patients"} {
		var name string

		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s not created", table)
	}
}

func TestGetOrCreateRegion(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	first, created, err := repo.GetOrCreateRegion(ctx, "Erfurt")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Erfurt", first.Name)

	again, created, err := repo.GetOrCreateRegion(ctx, "  Erfurt ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = repo.GetOrCreateRegion(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyRegionName)
}

func TestGetOrCreateRegionConcurrent(t *testing.T) {
	db, repo := setupTestDB(t)
	ctx := context.Background()

	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]bool{}
		created int
		errs    []error
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			region, ok, err := repo.GetOrCreateRegion(ctx, "Saale-Holzland-Kreis")

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, err)

				return
			}

			ids[region.ID] = true

			if ok {
				created++
			}
		}()
	}

	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, ids, 1, "all callers must see the same region")
	assert.Equal(t, 1, created, "exactly one caller creates the region")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM regions").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveAndListAttempts(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	status := 200
	pt := spatial.Point{Lat: 50.9777, Lng: 11.0289}
	cell, err := pt.Cell(spatial.DefaultCellResolution)
	require.NoError(t, err)

	ok := &Attempt{
		Query:            "Erfurt, Alte Synagoge",
		AttemptedQueries: []string{"Erfurt, Alte Synagoge"},
		Success:          true,
		StatusCode:       &status,
		City:             "Erfurt",
		State:            "Thüringen",
		RegionName:       "Erfurt",
		Point:            &pt,
		H3Cell:           cell,
		CreatedAt:        time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveAttempt(ctx, ok))
	assert.NotZero(t, ok.ID)

	failed := &Attempt{
		Query:     "",
		Error:     "empty query",
		CreatedAt: time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveAttempt(ctx, failed))

	attempts, err := repo.ListAttempts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	newest := attempts[0]
	assert.Equal(t, failed.ID, newest.ID)
	assert.Empty(t, newest.AttemptedQueries)
	assert.Nil(t, newest.StatusCode)
	assert.Nil(t, newest.Point)
	assert.Equal(t, "empty query", newest.Error)

	oldest := attempts[1]
	assert.Equal(t, []string{"Erfurt, Alte Synagoge"}, oldest.AttemptedQueries)
	require.NotNil(t, oldest.StatusCode)
	assert.Equal(t, 200, *oldest.StatusCode)
	assert.Equal(t, "Thüringen", oldest.State)
	require.NotNil(t, oldest.Point)
	assert.InDelta(t, 50.9777, oldest.Point.Lat, 1e-9)
	assert.Equal(t, cell, oldest.H3Cell)
	assert.True(t, oldest.Success)

	count, err := repo.CountAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	page, err := repo.ListAttempts(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ok.ID, page[0].ID)
}

func TestReferenceCenter(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	center, err := repo.ActiveReferenceCenter(ctx)
	require.NoError(t, err)
	assert.Nil(t, center)

	require.NoError(t, repo.SetReferenceCenter(ctx, &ReferenceCenter{
		Point:   spatial.Point{Lat: 50.9787, Lng: 11.0328},
		Address: "Erfurt",
	}))
	require.NoError(t, repo.SetReferenceCenter(ctx, &ReferenceCenter{
		Point:   spatial.Point{Lat: 50.9271, Lng: 11.5892},
		Address: "Jena",
	}))

	center, err = repo.ActiveReferenceCenter(ctx)
	require.NoError(t, err)
	require.NotNil(t, center)
	assert.Equal(t, "Jena", center.Address)
	assert.InDelta(t, 11.5892, center.Point.Lng, 1e-9)

	var active int
	require.NoError(t, repo.DB().QueryRow("SELECT COUNT(*) FROM reference_centers WHERE active").Scan(&active))
	assert.Equal(t, 1, active)

	err = repo.SetReferenceCenter(ctx, &ReferenceCenter{Point: spatial.Point{Lat: 91}})
	assert.Error(t, err)
}

func TestUnresolvedPatients(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	patients := []*Patient{
		{ID: "b", Place: "Jena", CreatedAt: base},
		{ID: "a", Place: "Erfurt", CreatedAt: base},
		{ID: "c", Place: "Weimar", CreatedAt: base.Add(time.Hour)},
		{ID: "d", Place: "Gera", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "late", Place: "Suhl", CreatedAt: base.Add(48 * time.Hour)},
	}

	n, err := repo.SavePatients(ctx, patients)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = repo.SavePatients(ctx, patients[:1])
	require.NoError(t, err)
	assert.Zero(t, n, "existing ids are ignored")

	cutoff := base.Add(24 * time.Hour)

	total, err := repo.CountUnresolvedPatients(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	first, err := repo.ListUnresolvedPatients(ctx, nil, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)

	region, _, err := repo.GetOrCreateRegion(ctx, "Weimar")
	require.NoError(t, err)

	assigned, err := repo.AssignRegion(ctx, "c", region.ID)
	require.NoError(t, err)
	assert.True(t, assigned)

	assigned, err = repo.AssignRegion(ctx, "c", region.ID+1)
	require.NoError(t, err)
	assert.False(t, assigned, "an existing region is never overwritten")

	got, err := repo.PatientRegionID(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, region.ID, *got)

	got, err = repo.PatientRegionID(ctx, "d")
	require.NoError(t, err)
	assert.Nil(t, got)

	last := first[len(first)-1]
	next, err := repo.ListUnresolvedPatients(ctx, &PatientCursor{CreatedAt: last.CreatedAt, ID: last.ID}, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, "d", next[0].ID)

	regions, err := repo.ListRegions(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, 1, regions[0].PatientCount)
}
