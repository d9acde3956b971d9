// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"math"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

// Selection is the candidate chosen from a search result.
type Selection struct {
	RegionName string
	Candidate  Candidate
	// Index is the position of Candidate in the provider's response.
	Index int
	// DistanceKm is set when a reference point was used.
	DistanceKm *float64
}

// Select picks one candidate. Candidates without a region name are ignored.
// With a reference point the closest candidate wins, ties going to the
// earliest; candidates without coordinates are skipped in that case.
// Without a reference the first named candidate wins.
func Select(candidates []Candidate, ref *spatial.Point) (Selection, bool) {
	best := Selection{Index: -1}
	bestDist := math.Inf(1)

	for i, c := range candidates {
		name := c.Address.RegionName()
		if name == "" {
			continue
		}

		if ref == nil {
			return Selection{RegionName: name, Candidate: c, Index: i}, true
		}

		if !c.HasPoint {
			continue
		}

		d := ref.HaversineDistance(c.Point)
		if d < bestDist {
			bestDist = d
			best = Selection{RegionName: name, Candidate: c, Index: i}
		}
	}

	if best.Index < 0 {
		return Selection{}, false
	}

	best.DistanceKm = &bestDist

	return best, true
}
