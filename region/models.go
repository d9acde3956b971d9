// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

// Package region resolves free-text places into persisted regions and keeps
// the audit log of every geocoding attempt.
package region

import (
	"time"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

// Region is a resolved administrative area (city, county or state).
type Region struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	// PatientCount is only filled by ListRegions.
	PatientCount int `json:"patient_count"`
}

// Attempt is one row of the geocoding audit log. Rows are never updated.
type Attempt struct {
	ID               int64          `json:"id"`
	Query            string         `json:"query"`
	AttemptedQueries []string       `json:"attempted_queries"`
	Success          bool           `json:"success"`
	StatusCode       *int           `json:"status_code,omitempty"`
	City             string         `json:"city,omitempty"`
	County           string         `json:"county,omitempty"`
	State            string         `json:"state,omitempty"`
	RegionName       string         `json:"region_name,omitempty"`
	Error            string         `json:"error,omitempty"`
	Point            *spatial.Point `json:"point,omitempty"`
	H3Cell           int64          `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ReferenceCenter biases candidate selection toward a known location.
type ReferenceCenter struct {
	ID        int64         `json:"id"`
	Point     spatial.Point `json:"point"`
	Address   string        `json:"address"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
}

// Patient is the record whose free-text place gets a region assigned.
type Patient struct {
	ID        string    `json:"id"`
	Place     string    `json:"place"`
	RegionID  *int64    `json:"region_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PatientCursor is the keyset position after the last patient of a batch.
type PatientCursor struct {
	CreatedAt time.Time
	ID        string
}
