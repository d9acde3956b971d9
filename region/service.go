// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"context"
	"fmt"
	"log"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

// LookupResult is the interactive resolution answer.
type LookupResult struct {
	Success       bool    `json:"success"`
	Outcome       Outcome `json:"outcome"`
	City          string  `json:"city"`
	County        string  `json:"county"`
	State         string  `json:"state"`
	RegionName    string  `json:"region_name"`
	RegionID      int64   `json:"region_id"`
	RegionCreated bool    `json:"region_created"`
	Cached        bool    `json:"cached"`
	Error         string  `json:"error,omitempty"`
	RateLimited   bool    `json:"rate_limited,omitempty"`

	// Filled only when debug output is requested.
	AttemptedQueries []string `json:"attempted_queries,omitempty"`
	DisplayName      string   `json:"display_name,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	DistanceKm       *float64 `json:"distance_km,omitempty"`
}

// Service answers single interactive lookups: cache first, then the resolver
// biased by the active reference center.
type Service struct {
	resolver *Resolver
	repo     Repository
	cache    *Cache
}

// NewService wires a resolver, its repository and a cache. cache may be nil.
func NewService(resolver *Resolver, repo Repository, cache *Cache) *Service {
	return &Service{resolver: resolver, repo: repo, cache: cache}
}

// Lookup resolves query. The error is only set for storage failures.
func (s *Service) Lookup(ctx context.Context, query string, debug bool) (*LookupResult, error) {
	if s.cache != nil {
		if res, ok := s.cache.Get(query); ok {
			out := newLookupResult(res, debug)
			out.RegionCreated = false
			out.Cached = true

			return out, nil
		}
	}

	var ref *spatial.Point

	center, err := s.repo.ActiveReferenceCenter(ctx)
	if err != nil {
		return nil, err
	}

	if center != nil {
		ref = &center.Point
	}

	res, err := s.resolver.Resolve(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", query, err)
	}

	if res.Outcome == OutcomeResolved {
		log.Printf("[resolver] %q -> %s (region %d, created=%v)", query, res.Region.Name, res.Region.ID, res.Created)

		if s.cache != nil {
			s.cache.Put(query, res)
		}
	} else {
		log.Printf("[resolver] %q -> %s: %s", query, res.Outcome, res.Reason)
	}

	return newLookupResult(res, debug), nil
}

func newLookupResult(res *Resolution, debug bool) *LookupResult {
	out := &LookupResult{
		Success: res.Outcome == OutcomeResolved,
		Outcome: res.Outcome,
	}

	if res.Selection != nil {
		addr := res.Selection.Candidate.Address
		out.City = addr.City()
		out.County = addr.County()
		out.State = addr.State()
	}

	if out.Success {
		out.RegionName = res.Region.Name
		out.RegionID = res.Region.ID
		out.RegionCreated = res.Created
	} else {
		out.Error = res.Reason
		out.RateLimited = res.Outcome == OutcomeRateLimited
	}

	if !debug {
		return out
	}

	out.AttemptedQueries = res.AttemptedQueries

	if res.Selection != nil {
		out.DisplayName = res.Selection.Candidate.DisplayName
		out.DistanceKm = res.Selection.DistanceKm

		if res.Selection.Candidate.HasPoint {
			lat, lng := res.Selection.Candidate.Point.Lat, res.Selection.Candidate.Point.Lng
			out.Latitude = &lat
			out.Longitude = &lng
		}
	}

	return out
}
