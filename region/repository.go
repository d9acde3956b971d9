// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
	"github.com/guntherweissenbaeck/fbfregion/utils/textutils"
)

// maxUpsertAttempts bounds the insert-or-fetch loop of GetOrCreateRegion.
const maxUpsertAttempts = 3

// ErrEmptyRegionName is returned when a region would be created without a name.
var ErrEmptyRegionName = errors.New("region name is empty")

// Repository persists regions, attempts, reference centers and patients.
type Repository interface {
	// CreateSchema creates the tables if they do not exist
	CreateSchema() error

	// GetOrCreateRegion returns the region called name, creating it if needed.
	// created is true only for the caller whose insert won.
	GetOrCreateRegion(ctx context.Context, name string) (region *Region, created bool, err error)

	// ListRegions returns all regions with the number of patients assigned to each.
	ListRegions(ctx context.Context) ([]*Region, error)

	// SaveAttempt appends an attempt to the audit log
	SaveAttempt(ctx context.Context, attempt *Attempt) error

	// ListAttempts returns attempts newest first
	ListAttempts(ctx context.Context, limit, offset int) ([]*Attempt, error)

	// CountAttempts returns the size of the audit log
	CountAttempts(ctx context.Context) (int, error)

	// ActiveReferenceCenter returns the active center, or nil if there is none.
	ActiveReferenceCenter(ctx context.Context) (*ReferenceCenter, error)

	// SetReferenceCenter stores center as the only active one.
	SetReferenceCenter(ctx context.Context, center *ReferenceCenter) error

	// SavePatients inserts patients, ignoring ids that already exist.
	SavePatients(ctx context.Context, patients []*Patient) (int, error)

	// CountUnresolvedPatients counts patients without region created up to before.
	CountUnresolvedPatients(ctx context.Context, before time.Time) (int, error)

	// ListUnresolvedPatients returns the next batch of patients without region,
	// ordered by creation time, strictly after cursor.
	ListUnresolvedPatients(ctx context.Context, cursor *PatientCursor, before time.Time, limit int) ([]*Patient, error)

	// PatientRegionID returns the current region of a patient, nil if unset.
	PatientRegionID(ctx context.Context, patientID string) (*int64, error)

	// AssignRegion sets the region of a patient that has none yet.
	AssignRegion(ctx context.Context, patientID string, regionID int64) (bool, error)

	// DB returns the underlying database connection
	DB() *sql.DB
}

type sqlRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository on top of a DuckDB connection.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying database connection for advanced queries.
func (r *sqlRepository) DB() *sql.DB {
	return r.db
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS regions_seq START 1;
		CREATE SEQUENCE IF NOT EXISTS geocode_attempts_seq START 1;
		CREATE SEQUENCE IF NOT EXISTS reference_centers_seq START 1;

		CREATE TABLE IF NOT EXISTS regions (
			id BIGINT PRIMARY KEY DEFAULT nextval('regions_seq'),
			name VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(name)
		);

		CREATE TABLE IF NOT EXISTS geocode_attempts (
			id BIGINT PRIMARY KEY DEFAULT nextval('geocode_attempts_seq'),
			query VARCHAR NOT NULL,
			attempted_queries VARCHAR[],
			success BOOLEAN NOT NULL,
			status_code INTEGER,
			city VARCHAR,
			county VARCHAR,
			state VARCHAR,
			region_name VARCHAR,
			error VARCHAR,
			latitude DOUBLE,
			longitude DOUBLE,
			h3_res7 BIGINT,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS reference_centers (
			id BIGINT PRIMARY KEY DEFAULT nextval('reference_centers_seq'),
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			address VARCHAR NOT NULL,
			active BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS patients (
			id VARCHAR PRIMARY KEY,
			place VARCHAR NOT NULL,
			region_id BIGINT,
			created_at TIMESTAMP NOT NULL
		);
	`)

	return err
}

func (r *sqlRepository) regionByName(ctx context.Context, name string) (*Region, error) {
	region := &Region{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM regions WHERE name = ?`, name,
	).Scan(&region.ID, &region.Name, &region.CreatedAt)
	if err != nil {
		return nil, err
	}

	return region, nil
}

func (r *sqlRepository) GetOrCreateRegion(ctx context.Context, name string) (*Region, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, ErrEmptyRegionName
	}

	var lastErr error

	for range maxUpsertAttempts {
		created := false

		res, err := r.db.ExecContext(ctx,
			`INSERT INTO regions(name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
			name, r.now(),
		)
		if err != nil {
			// A concurrent writer may have committed the same name; refetch.
			lastErr = err
		} else if n, err := res.RowsAffected(); err == nil && n > 0 {
			created = true
		}

		region, err := r.regionByName(ctx, name)
		if err == nil {
			return region, created, nil
		}

		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("fetching region %q: %w", name, err)
		}

		if lastErr == nil {
			lastErr = fmt.Errorf("region %q vanished after insert", name)
		}

		log.Printf("[regions] retrying get-or-create of %q: %v", name, lastErr)
	}

	return nil, false, fmt.Errorf("creating region %q: %w", name, lastErr)
}

func (r *sqlRepository) ListRegions(ctx context.Context) ([]*Region, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.created_at, COUNT(p.id) AS patients
		FROM regions r
		LEFT JOIN patients p ON p.region_id = r.id
		GROUP BY r.id, r.name, r.created_at
		ORDER BY patients DESC, r.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []*Region

	for rows.Next() {
		region := &Region{}
		if err := rows.Scan(&region.ID, &region.Name, &region.CreatedAt, &region.PatientCount); err != nil {
			return nil, err
		}

		regions = append(regions, region)
	}

	return regions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *sqlRepository) SaveAttempt(ctx context.Context, attempt *Attempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = r.now()
	}

	queries := attempt.AttemptedQueries
	if queries == nil {
		queries = []string{}
	}

	var status sql.NullInt64
	if attempt.StatusCode != nil {
		status = sql.NullInt64{Int64: int64(*attempt.StatusCode), Valid: true}
	}

	var lat, lng sql.NullFloat64

	var cell sql.NullInt64

	if attempt.Point != nil {
		lat = sql.NullFloat64{Float64: attempt.Point.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: attempt.Point.Lng, Valid: true}

		if attempt.H3Cell != 0 {
			cell = sql.NullInt64{Int64: attempt.H3Cell, Valid: true}
		}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO geocode_attempts(
			query, attempted_queries, success, status_code,
			city, county, state, region_name, error,
			latitude, longitude, h3_res7, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		attempt.Query, queries, attempt.Success, status,
		nullString(attempt.City), nullString(attempt.County), nullString(attempt.State),
		nullString(attempt.RegionName), nullString(attempt.Error),
		lat, lng, cell, attempt.CreatedAt,
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("saving geocode attempt: %w", err)
	}

	return nil
}

func (r *sqlRepository) ListAttempts(ctx context.Context, limit, offset int) ([]*Attempt, error) {
	query := `
		SELECT id, query, attempted_queries, success, status_code,
		       city, county, state, region_name, error,
		       latitude, longitude, h3_res7, created_at
		FROM geocode_attempts
		ORDER BY created_at DESC, id DESC`

	args := []any{}

	if limit > 0 {
		query += " LIMIT ? OFFSET ?"

		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt

	for rows.Next() {
		attempt := &Attempt{}

		var queries any

		var status, cell sql.NullInt64

		var city, county, state, regionName, errMsg sql.NullString

		var lat, lng sql.NullFloat64

		err := rows.Scan(
			&attempt.ID, &attempt.Query, &queries, &attempt.Success, &status,
			&city, &county, &state, &regionName, &errMsg,
			&lat, &lng, &cell, &attempt.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		list, ok := textutils.AnyToStringSlice(queries)
		if !ok {
			return nil, fmt.Errorf("attempt %d: unexpected attempted_queries type %T", attempt.ID, queries)
		}

		attempt.AttemptedQueries = list

		if status.Valid {
			code := int(status.Int64)
			attempt.StatusCode = &code
		}

		attempt.City = city.String
		attempt.County = county.String
		attempt.State = state.String
		attempt.RegionName = regionName.String
		attempt.Error = errMsg.String

		if lat.Valid && lng.Valid {
			attempt.Point = &spatial.Point{Lat: lat.Float64, Lng: lng.Float64}
		}

		if cell.Valid {
			attempt.H3Cell = cell.Int64
		}

		attempts = append(attempts, attempt)
	}

	return attempts, rows.Err()
}

func (r *sqlRepository) CountAttempts(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM geocode_attempts").Scan(&count)

	return count, err
}

func (r *sqlRepository) ActiveReferenceCenter(ctx context.Context) (*ReferenceCenter, error) {
	center := &ReferenceCenter{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, address, active, created_at
		FROM reference_centers
		WHERE active
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
	).Scan(&center.ID, &center.Point.Lat, &center.Point.Lng, &center.Address, &center.Active, &center.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("loading reference center: %w", err)
	}

	return center, nil
}

func (r *sqlRepository) SetReferenceCenter(ctx context.Context, center *ReferenceCenter) error {
	if err := center.Point.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE reference_centers SET active = FALSE WHERE active`); err != nil {
		return fmt.Errorf("deactivating reference centers: %w", err)
	}

	center.Active = true
	center.CreatedAt = r.now()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO reference_centers(latitude, longitude, address, active, created_at)
		VALUES (?, ?, ?, TRUE, ?)
		RETURNING id`,
		center.Point.Lat, center.Point.Lng, center.Address, center.CreatedAt,
	).Scan(&center.ID)
	if err != nil {
		return fmt.Errorf("inserting reference center: %w", err)
	}

	return tx.Commit()
}

func (r *sqlRepository) SavePatients(ctx context.Context, patients []*Patient) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patients(id, place, region_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0

	for _, p := range patients {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = r.now()
		}

		var regionID sql.NullInt64
		if p.RegionID != nil {
			regionID = sql.NullInt64{Int64: *p.RegionID, Valid: true}
		}

		res, err := stmt.ExecContext(ctx, p.ID, p.Place, regionID, p.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("inserting patient %s: %w", p.ID, err)
		}

		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return inserted, nil
}

func (r *sqlRepository) CountUnresolvedPatients(ctx context.Context, before time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patients WHERE region_id IS NULL AND created_at <= ?`, before,
	).Scan(&count)

	return count, err
}

func (r *sqlRepository) ListUnresolvedPatients(
	ctx context.Context, cursor *PatientCursor, before time.Time, limit int,
) ([]*Patient, error) {
	query := `
		SELECT id, place, created_at
		FROM patients
		WHERE region_id IS NULL AND created_at <= ?`

	args := []any{before}

	if cursor != nil {
		query += " AND (created_at > ? OR (created_at = ? AND id > ?))"

		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	query += " ORDER BY created_at, id LIMIT ?"

	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient

	for rows.Next() {
		p := &Patient{}
		if err := rows.Scan(&p.ID, &p.Place, &p.CreatedAt); err != nil {
			return nil, err
		}

		patients = append(patients, p)
	}

	return patients, rows.Err()
}

func (r *sqlRepository) PatientRegionID(ctx context.Context, patientID string) (*int64, error) {
	var regionID sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT region_id FROM patients WHERE id = ?`, patientID,
	).Scan(&regionID)
	if err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", patientID, err)
	}

	if !regionID.Valid {
		return nil, nil
	}

	return &regionID.Int64, nil
}

func (r *sqlRepository) AssignRegion(ctx context.Context, patientID string, regionID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE patients SET region_id = ? WHERE id = ? AND region_id IS NULL`, regionID, patientID,
	)
	if err != nil {
		return false, fmt.Errorf("assigning region to patient %s: %w", patientID, err)
	}

	n, err := res.RowsAffected()

	return n > 0, err
}
