// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

// Package textutils holds small string helpers shared by the resolver, the
// repositories and the CLI.
package textutils

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldKey case-folds and trims s. Two inputs that only differ in case or in
// surrounding whitespace produce the same key.
func FoldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// LowerASCIIFolding lowercases s and strips its accents, so "Universitätsklinikum"
// matches "universitatsklinikum" in the ladder's institution words.
func LowerASCIIFolding(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.TrimSpace(strings.ToLower(s)),
	)

	return s
}

// AnyToStringSlice converts a scanned DuckDB VARCHAR[] (attempted queries) into
// a []string. A NULL list yields nil.
func AnyToStringSlice(v any) ([]string, bool) {
	if v == nil {
		return nil, true
	}

	if i, ok := v.([]string); ok {
		return i, true
	}

	if i, ok := v.([]any); ok {
		s := make([]string, len(i))

		for j, e := range i {
			val, ok := e.(string)
			if !ok {
				return nil, false
			}

			s[j] = val
		}

		return s, true
	}

	return nil, false
}

// FormatInt renders counters in CLI summaries with German thousands separators
// (1.234.567).
func FormatInt(n int64) string {
	in := strconv.FormatInt(n, 10)

	numOfDigits := len(in)
	if n < 0 {
		numOfDigits-- // First character is the - sign (not a digit)
	}

	numOfSeparators := (numOfDigits - 1) / 3

	out := make([]byte, len(in)+numOfSeparators)
	if n < 0 {
		in, out[0] = in[1:], '-'
	}

	for i, j, k := len(in)-1, len(out)-1, 0; ; i, j = i-1, j-1 {
		out[j] = in[i]
		if i == 0 {
			return string(out)
		}

		if k++; k == 3 {
			j, k = j-1, 0
			out[j] = '.'
		}
	}
}
