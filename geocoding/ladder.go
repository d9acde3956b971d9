// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"iter"
	"regexp"
	"strings"

	"github.com/guntherweissenbaeck/fbfregion/utils/textutils"
)

const countrySuffix = ", Deutschland"

// Rule rewrites a raw place string into an alternative query. ok is false
// when the rule does not apply.
type Rule struct {
	Name    string
	Rewrite func(raw string) (query string, ok bool)
}

// Rung is one query of the ladder together with the rule that produced it.
type Rung struct {
	Rule  string
	Query string
}

var (
	glued = regexp.MustCompile(`([A-Za-zÄÖÜäöüß]+)(\d+)`)

	// Keys are accent-folded, see textutils.LowerASCIIFolding.
	institutionWords = map[string]bool{
		"universitatsklinikum": true,
		"klinikum":             true,
		"krankenhaus":          true,
	}
)

// Rules is the fallback ladder in evaluation order.
var Rules = []Rule{
	{
		Name: "raw",
		Rewrite: func(raw string) (string, bool) {
			return raw, raw != ""
		},
	},
	{
		Name: "country",
		Rewrite: func(raw string) (string, bool) {
			if strings.Contains(raw, ",") {
				return "", false
			}

			return raw + countrySuffix, true
		},
	},
	{
		Name: "split-number",
		Rewrite: func(raw string) (string, bool) {
			// Only the first glued token is split.
			loc := glued.FindStringSubmatchIndex(raw)
			if loc == nil {
				return "", false
			}

			return raw[:loc[3]] + " " + raw[loc[3]:], true
		},
	},
	{
		Name: "kirche",
		Rewrite: func(raw string) (string, bool) {
			const prefix = "kirche "
			if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
				return "", false
			}

			rest := strings.TrimSpace(raw[len(prefix):])
			if rest == "" {
				return "", false
			}

			return rest + " Kirche", true
		},
	},
	{
		Name: "drop-institution",
		Rewrite: func(raw string) (string, bool) {
			var kept []string

			for _, w := range strings.Fields(raw) {
				if !institutionWords[textutils.LowerASCIIFolding(w)] {
					kept = append(kept, w)
				}
			}

			cleaned := strings.Join(kept, " ")
			if cleaned == "" || cleaned == raw {
				return "", false
			}

			if strings.Contains(cleaned, ",") {
				return cleaned, true
			}

			return cleaned + countrySuffix, true
		},
	},
	{
		Name: "last-word",
		Rewrite: func(raw string) (string, bool) {
			words := strings.Fields(raw)
			if len(words) < 2 {
				return "", false
			}

			return words[len(words)-1] + countrySuffix, true
		},
	},
}

// Rungs yields the distinct queries for raw, in ladder order. Rules are
// evaluated lazily so a consumer that stops early skips the rest.
func Rungs(raw string) iter.Seq[Rung] {
	return RungsWith(Rules, raw)
}

// RungsWith is Rungs over a custom rule list.
func RungsWith(rules []Rule, raw string) iter.Seq[Rung] {
	raw = strings.TrimSpace(raw)

	return func(yield func(Rung) bool) {
		if raw == "" {
			return
		}

		seen := make(map[string]bool, len(rules))

		for _, r := range rules {
			q, ok := r.Rewrite(raw)
			if !ok || q == "" || seen[q] {
				continue
			}

			seen[q] = true

			if !yield(Rung{Rule: r.Name, Query: q}) {
				return
			}
		}
	}
}

// FirstMatch calls try for each value of seq until one succeeds or fails
// with an error. It returns the successful value, whether one was found and
// the error that stopped the iteration.
func FirstMatch[S, T any](seq iter.Seq[S], try func(S) (T, bool, error)) (T, bool, error) {
	var zero T

	for s := range seq {
		v, ok, err := try(s)
		if err != nil {
			return zero, false, err
		}

		if ok {
			return v, true, nil
		}
	}

	return zero, false, nil
}
