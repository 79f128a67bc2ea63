// Package denylist decides whether a story's text is noise that should not
// be relayed.
package denylist

import (
	"strings"

	"github.com/samber/lo"
	"storyrelay/pkg/textnorm"
)

// linkMarker exempts a post from suppression
const linkMarker = ".com"

// ShouldSuppress reports whether any non-empty entry occurs in text, unless
// text carries a link. Both arguments are expected in canonical form.
func ShouldSuppress(text string, entries []string) bool {
	if strings.Contains(text, linkMarker) {
		return false
	}
	return lo.SomeBy(entries, func(entry string) bool {
		return entry != "" && strings.Contains(text, entry)
	})
}

// Filter holds canonicalized denylist entries
type Filter struct {
	entries []string
}

// New canonicalizes entries once, dropping blanks and duplicates
func New(entries []string) *Filter {
	canonical := lo.Map(entries, func(entry string, _ int) string {
		return textnorm.Canonicalize(entry)
	})
	canonical = lo.Uniq(lo.Compact(canonical))
	return &Filter{entries: canonical}
}

// Entries returns the canonical entries
func (f *Filter) Entries() []string {
	return append([]string(nil), f.entries...)
}

// ShouldSuppress applies the filter to canonical text
func (f *Filter) ShouldSuppress(text string) bool {
	return ShouldSuppress(text, f.entries)
}

// Matches returns the entries found in text, for logging
func (f *Filter) Matches(text string) []string {
	return lo.Filter(f.entries, func(entry string, _ int) bool {
		return strings.Contains(text, entry)
	})
}
