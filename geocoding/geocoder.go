// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocoding turns free-text places into administrative regions: provider
// clients, rate-limit backoff, the query fallback ladder and candidate selection.
package geocoding

import (
	"context"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

// Result limits sent to the provider.
const (
	// InteractiveLimit is used when several candidates are disambiguated by distance.
	InteractiveLimit = 7
	// SingleLimit is enough for callers that only look at the first hit.
	SingleLimit = 1
)

// Address holds the provider's address details, keyed by component name
// (city, town, village, county, district, state, country, ...).
type Address map[string]string

// City returns the most specific settlement name.
func (a Address) City() string {
	return firstNonEmpty(a["city"], a["town"], a["village"])
}

// County returns the county-level name.
func (a Address) County() string {
	return firstNonEmpty(a["county"], a["district"])
}

// State returns the state name.
func (a Address) State() string {
	return a["state"]
}

// RegionName applies the city > county > state precedence.
func (a Address) RegionName() string {
	return firstNonEmpty(a.City(), a.County(), a.State())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// Candidate is one raw match returned by a provider.
type Candidate struct {
	Point spatial.Point
	// HasPoint is false when the provider sent coordinates that could not be parsed.
	HasPoint    bool
	DisplayName string
	Address     Address
}

// SearchResult is the outcome of a single successful provider request.
type SearchResult struct {
	StatusCode int
	Candidates []Candidate
}

// Client performs one geocoding request. Implementations never retry.
type Client interface {
	Search(ctx context.Context, query string, limit int) (*SearchResult, error)
}
