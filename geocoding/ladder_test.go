// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func collectQueries(raw string) []string {
	var out []string
	for r := range Rungs(raw) {
		out = append(out, r.Query)
	}

	return out
}

func ruleByName(t *testing.T, name string) Rule {
	t.Helper()

	i := slices.IndexFunc(Rules, func(r Rule) bool { return r.Name == name })
	if i < 0 {
		t.Fatalf("rule %q not found", name)
	}

	return Rules[i]
}

func TestRungs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{
			raw:  "Erfurt, Alte Synagoge",
			want: []string{"Erfurt, Alte Synagoge", "Synagoge, Deutschland"},
		},
		{
			raw:  "Kirche Kahla",
			want: []string{"Kirche Kahla", "Kirche Kahla, Deutschland", "Kahla Kirche", "Kahla, Deutschland"},
		},
		{
			raw: "  Lutherstraße3 Erfurt ",
			want: []string{
				"Lutherstraße3 Erfurt",
				"Lutherstraße3 Erfurt, Deutschland",
				"Lutherstraße 3 Erfurt",
				"Erfurt, Deutschland",
			},
		},
		{
			raw:  "Klinikum Jena",
			want: []string{"Klinikum Jena", "Klinikum Jena, Deutschland", "Jena, Deutschland"},
		},
		{
			raw:  "Universitätsklinikum Jena, Am Klinikum 1",
			want: []string{"Universitätsklinikum Jena, Am Klinikum 1", "Jena, Am 1", "1, Deutschland"},
		},
		{
			raw:  "Krankenhaus",
			want: []string{"Krankenhaus", "Krankenhaus, Deutschland"},
		},
		{
			raw:  "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, collectQueries(tt.raw)); diff != "" {
				t.Errorf("Rungs(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestRungsTagsRules(t *testing.T) {
	var got []Rung
	for r := range Rungs("Kirche Kahla") {
		got = append(got, r)
	}

	want := []Rung{
		{Rule: "raw", Query: "Kirche Kahla"},
		{Rule: "country", Query: "Kirche Kahla, Deutschland"},
		{Rule: "kirche", Query: "Kahla Kirche"},
		{Rule: "last-word", Query: "Kahla, Deutschland"},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rungs mismatch (-want +got):\n%s", diff)
	}
}

func TestRungsAtMostSix(t *testing.T) {
	for _, raw := range []string{"Kirche Klinikum Weg12 Jena", "a", "Kirche Sankt Nikolai3, Krankenhaus"} {
		if n := len(collectQueries(raw)); n > 6 || n == 0 {
			t.Errorf("Rungs(%q) produced %d queries", raw, n)
		}
	}
}

func TestRungsLazy(t *testing.T) {
	evaluated := 0
	rules := []Rule{
		{Name: "a", Rewrite: func(raw string) (string, bool) { evaluated++; return raw, true }},
		{Name: "b", Rewrite: func(raw string) (string, bool) { evaluated++; return raw + "!", true }},
	}

	for range RungsWith(rules, "x") {
		break
	}

	if evaluated != 1 {
		t.Errorf("evaluated %d rules, want 1", evaluated)
	}
}

func TestCountryRuleProperty(t *testing.T) {
	rule := ruleByName(t, "country")

	for _, in := range []string{"Erfurt", "Kirche Kahla", "Lutherstraße3", "Weimar Goetheplatz 1", "ß"} {
		got, ok := rule.Rewrite(in)
		if !ok || got != in+", Deutschland" {
			t.Errorf("country(%q) = %q, %v", in, got, ok)
		}
	}

	if _, ok := rule.Rewrite("Jena, Markt"); ok {
		t.Error("country rule must not apply to inputs with a comma")
	}
}

func TestSplitNumberRuleProperty(t *testing.T) {
	rule := ruleByName(t, "split-number")

	for _, tt := range []struct{ letters, digits string }{
		{"Lutherstraße", "3"},
		{"Hauptstr", "12"},
		{"Ölmühle", "7"},
		{"a", "1234"},
	} {
		in := tt.letters + tt.digits

		got, ok := rule.Rewrite(in)
		if !ok {
			t.Fatalf("split-number(%q) did not apply", in)
		}

		if want := tt.letters + " " + tt.digits; got != want {
			t.Errorf("split-number(%q) = %q, want %q", in, got, want)
		}

		if strings.Count(got, " ")-strings.Count(in, " ") != 1 {
			t.Errorf("split-number(%q) = %q inserted more than one space", in, got)
		}
	}

	for in, want := range map[string]string{
		"Weg3 Haus5":             "Weg 3 Haus5",
		"Lutherstraße3a, Block7": "Lutherstraße 3a, Block7",
		"Jena Am Markt12 Hof4":   "Jena Am Markt 12 Hof4",
	} {
		got, ok := rule.Rewrite(in)
		if !ok {
			t.Fatalf("split-number(%q) did not apply", in)
		}

		if got != want {
			t.Errorf("split-number(%q) = %q, want %q", in, got, want)
		}

		if strings.Count(got, " ")-strings.Count(in, " ") != 1 {
			t.Errorf("split-number(%q) = %q inserted more than one space", in, got)
		}
	}

	if _, ok := rule.Rewrite("Lutherstraße 3"); ok {
		t.Error("split-number must not apply when letters and digits are separated")
	}
}

func TestKircheRule(t *testing.T) {
	rule := ruleByName(t, "kirche")

	got, ok := rule.Rewrite("KIRCHE St. Michael Jena")
	if !ok || got != "St. Michael Jena Kirche" {
		t.Errorf("kirche() = %q, %v", got, ok)
	}

	for _, in := range []string{"Kirche", "Kirche ", "Kirchengasse 1"} {
		if _, ok := rule.Rewrite(in); ok {
			t.Errorf("kirche(%q) should not apply", in)
		}
	}
}

func TestFirstMatch(t *testing.T) {
	seq := slices.Values([]int{1, 2, 3, 4})

	var tried []int

	got, ok, err := FirstMatch(seq, func(n int) (string, bool, error) {
		tried = append(tried, n)

		return strings.Repeat("x", n), n == 3, nil
	})
	if err != nil || !ok || got != "xxx" {
		t.Errorf("FirstMatch() = %q, %v, %v", got, ok, err)
	}

	if diff := cmp.Diff([]int{1, 2, 3}, tried); diff != "" {
		t.Errorf("tried mismatch (-want +got):\n%s", diff)
	}

	stop := errors.New("stop")
	tried = nil

	_, ok, err = FirstMatch(seq, func(n int) (string, bool, error) {
		tried = append(tried, n)
		if n == 2 {
			return "", false, stop
		}

		return "", false, nil
	})
	if !errors.Is(err, stop) || ok || len(tried) != 2 {
		t.Errorf("FirstMatch() ok=%v err=%v tried=%v", ok, err, tried)
	}

	_, ok, err = FirstMatch(seq, func(int) (string, bool, error) { return "", false, nil })
	if ok || err != nil {
		t.Errorf("exhausted FirstMatch() = %v, %v", ok, err)
	}
}
