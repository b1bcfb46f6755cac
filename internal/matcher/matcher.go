// File: internal/matcher/matcher.go
// Package matcher picks the popup row that best corresponds to a requested value.
// Rows are addressed through a label accessor so the same tiers apply to rows read
// from a live page and to rows held in memory.
package matcher

import (
	"strings"
)

// Tier identifies which rule produced a match.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierPrefix
	TierSole
	TierContains
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierPrefix:
		return "prefix"
	case TierSole:
		return "sole"
	case TierContains:
		return "contains"
	default:
		return "none"
	}
}

// Normalize collapses whitespace runs to one space, trims and lowercases.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// IsNavigation reports whether a row label belongs to the popup's menu mode
// rather than to search results. The label is normalized first.
func IsNavigation(label string) bool {
	t := Normalize(label)
	return t == "" ||
		t == "all" ||
		strings.HasPrefix(t, "partial list") ||
		strings.HasPrefix(t, "create security policy for domain")
}

// FindBest returns the row matching target, trying in order: exact label, label
// prefixed by target, the only remaining row, label containing target.
// Navigation rows never match.
func FindBest[T any](rows []T, label func(T) string, target string) (T, Tier, bool) {
	var zero T
	want := Normalize(target)
	if want == "" {
		return zero, TierNone, false
	}

	candidates := make([]T, 0, len(rows))
	labels := make([]string, 0, len(rows))
	for _, r := range rows {
		l := Normalize(label(r))
		if IsNavigation(l) {
			continue
		}
		candidates = append(candidates, r)
		labels = append(labels, l)
	}

	for i, l := range labels {
		if l == want {
			return candidates[i], TierExact, true
		}
	}
	for i, l := range labels {
		if strings.HasPrefix(l, want) {
			return candidates[i], TierPrefix, true
		}
	}
	if len(candidates) == 1 {
		return candidates[0], TierSole, true
	}
	for i, l := range labels {
		if strings.Contains(l, want) {
			return candidates[i], TierContains, true
		}
	}
	return zero, TierNone, false
}

// SearchResults keeps the non-navigation rows, preferring those that render a checkbox.
func SearchResults[T any](rows []T, label func(T) string, hasCheckbox func(T) bool) []T {
	var withBox, clean []T
	for _, r := range rows {
		if IsNavigation(label(r)) {
			continue
		}
		clean = append(clean, r)
		if hasCheckbox(r) {
			withBox = append(withBox, r)
		}
	}
	if len(withBox) > 0 {
		return withBox
	}
	return clean
}

// AllNavigation reports whether rows is non-empty and made only of navigation rows.
func AllNavigation[T any](rows []T, label func(T) string) bool {
	if len(rows) == 0 {
		return false
	}
	for _, r := range rows {
		if !IsNavigation(label(r)) {
			return false
		}
	}
	return true
}
