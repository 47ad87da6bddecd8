// Package ident normalizes and validates opaque record identifiers as they
// arrive from clients: trimming, de-duplication, and a shape check matching
// the identifiers the store hands out.
package ident

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Normalize converts any raw input to a trimmed string identifier. Absent or
// null-ish input yields the empty string; it never fails.
func Normalize(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// NormalizeList accepts only a true sequence input; anything else yields an
// empty slice. Each entry runs through Normalize, empties are dropped, and
// duplicates are removed preserving first occurrence.
func NormalizeList(raw any) []string {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		items = make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
	default:
		return []string{}
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		id := Normalize(item)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Present reports whether s is a usable identifier token. Stringified
// null-like client input ("null", "undefined") does not count.
func Present(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "undefined":
		return false
	}
	return true
}

// LooksLikeID reports whether raw has the structural shape of a
// store-assigned identifier (a UUID).
func LooksLikeID(raw string) bool {
	_, err := uuid.Parse(strings.TrimSpace(raw))
	return err == nil
}

// New returns a fresh store-format identifier.
func New() string {
	return uuid.NewString()
}

// Diff splits old and new id sequences into the ids added by new and the ids
// removed from old. Both inputs are treated as sets; pending sets are small
// enough that a linear scan per entry is fine.
func Diff(old, new []string) (added, removed []string) {
	for _, id := range new {
		if !Contains(old, id) {
			added = append(added, id)
		}
	}
	for _, id := range old {
		if !Contains(new, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// Contains reports whether ids includes id.
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
