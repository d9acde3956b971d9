// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver

	"github.com/guntherweissenbaeck/fbfregion/backfill"
	"github.com/guntherweissenbaeck/fbfregion/region"
)

// app holds the database and repositories shared by the commands.
type app struct {
	db      *sql.DB
	regions region.Repository
	tasks   backfill.Repository
}

func openApp() (*app, error) {
	if err := os.MkdirAll(cfg.DbPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("duckdb", cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{
		db:      db,
		regions: region.NewRepository(db),
		tasks:   backfill.NewRepository(db),
	}

	if err := a.regions.CreateSchema(); err != nil {
		return nil, errors.Join(fmt.Errorf("creating region tables: %w", err), db.Close())
	}

	if err := a.tasks.CreateSchema(); err != nil {
		return nil, errors.Join(fmt.Errorf("creating backfill tables: %w", err), db.Close())
	}

	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// resolver builds the configured geocoder and a resolver recording into a.
func (a *app) resolver(ctx context.Context) (*region.Resolver, error) {
	client, err := cfg.NewGeocoder(ctx, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating geocoder: %w", err)
	}

	return region.NewResolver(client, a.regions), nil
}

// manager builds a backfill manager; onProgress may be nil.
func (a *app) manager(resolver *region.Resolver, onProgress func(backfill.Snapshot)) *backfill.Manager {
	opts := cfg.BackfillOptions()
	opts.OnProgress = onProgress

	return backfill.NewManager(a.tasks, a.regions, resolver, opts)
}
