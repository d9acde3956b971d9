// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/guntherweissenbaeck/fbfregion/geocoding"
	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

// Failure reasons recorded in the audit log and reported to callers.
const (
	ReasonEmptyQuery        = "empty query"
	ReasonNoResults         = "no geocoding results"
	ReasonRateLimited       = "geocoding service rate limited"
	ReasonIncompleteAddress = "incomplete address"
)

// Outcome is the result class of a single Resolve call.
type Outcome int

const (
	OutcomeResolved Outcome = iota
	OutcomeNoResults
	OutcomeRateLimited
	OutcomeNetworkError
	OutcomeIncompleteAddress
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeNoResults:
		return "no_results"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeIncompleteAddress:
		return "incomplete_address"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText renders the outcome by name in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Resolution is what a Resolve call produced.
type Resolution struct {
	Outcome Outcome
	Query   string
	// Region and Created are set when Outcome is OutcomeResolved.
	Region  *Region
	Created bool
	// Selection is the chosen candidate, also set for OutcomeIncompleteAddress.
	Selection        *geocoding.Selection
	AttemptedQueries []string
	// StatusCode is the HTTP status of the last provider response, zero if none.
	StatusCode int
	// Reason describes a failure.
	Reason string
	// Attempt is the audit row written for this call.
	Attempt *Attempt
}

// Resolver drives the query ladder over a geocoding client and persists the
// winning region.
type Resolver struct {
	client geocoding.Client
	repo   Repository
	limit  int
}

// NewResolver creates a resolver that asks client for up to
// geocoding.InteractiveLimit candidates per query.
func NewResolver(client geocoding.Client, repo Repository) *Resolver {
	return &Resolver{client: client, repo: repo, limit: geocoding.InteractiveLimit}
}

// Resolve turns raw into a region. ref, when set, picks the closest candidate.
// Exactly one attempt row is written per call. The returned error is reserved
// for storage failures; geocoding failures are reported through the Outcome.
func (r *Resolver) Resolve(ctx context.Context, raw string, ref *spatial.Point) (*Resolution, error) {
	res := &Resolution{Query: raw}

	if strings.TrimSpace(raw) == "" {
		res.Outcome = OutcomeNoResults
		res.Reason = ReasonEmptyQuery

		return res, r.record(ctx, res)
	}

	sel, found, err := geocoding.FirstMatch(geocoding.Rungs(raw), func(rung geocoding.Rung) (geocoding.Selection, bool, error) {
		res.AttemptedQueries = append(res.AttemptedQueries, rung.Query)

		sr, err := r.client.Search(ctx, rung.Query, r.limit)
		if err != nil {
			if code := geocoding.StatusCode(err); code != 0 {
				res.StatusCode = code
			}

			if geocoding.IsMalformedError(err) || geocoding.IsUnexpectedStatusError(err) {
				log.Printf("[resolver] %s rung %q: %v", rung.Rule, rung.Query, err)

				return geocoding.Selection{}, false, nil
			}

			return geocoding.Selection{}, false, err
		}

		res.StatusCode = sr.StatusCode

		sel, ok := geocoding.Select(sr.Candidates, ref)

		return sel, ok, nil
	})

	switch {
	case err != nil && geocoding.IsRateLimitError(err):
		res.Outcome = OutcomeRateLimited
		res.Reason = ReasonRateLimited
	case err != nil:
		res.Outcome = OutcomeNetworkError
		res.Reason = err.Error()
	case !found:
		res.Outcome = OutcomeNoResults
		res.Reason = ReasonNoResults
	default:
		res.Selection = &sel

		name := strings.TrimSpace(sel.RegionName)
		if name == "" {
			res.Outcome = OutcomeIncompleteAddress
			res.Reason = ReasonIncompleteAddress

			break
		}

		region, created, gerr := r.repo.GetOrCreateRegion(ctx, name)
		if gerr != nil {
			res.Outcome = OutcomeNoResults
			res.Reason = gerr.Error()

			if rerr := r.record(ctx, res); rerr != nil {
				log.Printf("[resolver] %v", rerr)
			}

			return res, fmt.Errorf("resolving %q: %w", raw, gerr)
		}

		res.Outcome = OutcomeResolved
		res.Region = region
		res.Created = created
	}

	return res, r.record(ctx, res)
}

func (r *Resolver) record(ctx context.Context, res *Resolution) error {
	attempt := &Attempt{
		Query:            res.Query,
		AttemptedQueries: res.AttemptedQueries,
		Success:          res.Outcome == OutcomeResolved,
	}

	if res.StatusCode != 0 {
		code := res.StatusCode
		attempt.StatusCode = &code
	}

	if res.Outcome != OutcomeResolved {
		attempt.Error = res.Reason
	}

	if res.Selection != nil {
		addr := res.Selection.Candidate.Address
		attempt.City = addr.City()
		attempt.County = addr.County()
		attempt.State = addr.State()
		attempt.RegionName = strings.TrimSpace(res.Selection.RegionName)

		if res.Selection.Candidate.HasPoint {
			pt := res.Selection.Candidate.Point
			attempt.Point = &pt

			if cell, err := pt.Cell(spatial.DefaultCellResolution); err == nil {
				attempt.H3Cell = cell
			}
		}
	}

	if err := r.repo.SaveAttempt(ctx, attempt); err != nil {
		return err
	}

	res.Attempt = attempt

	return nil
}
