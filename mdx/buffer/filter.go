package buffer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/mediadex/mdx/catalog"

	json "github.com/goccy/go-json"
)

// Fingerprint is the hex-encoded SHA-256 digest of a canonicalized filter.
// It is the primary key of a buffer and is stable across runs and restarts.
type Fingerprint string

// canonicalSpec fixes the serialization of a normalized filter: json keys in
// sorted order, absent fields omitted entirely, no whitespace.
type canonicalSpec struct {
	DateFrom  *time.Time        `json:"dateFrom,omitempty"`
	DateTo    *time.Time        `json:"dateTo,omitempty"`
	Keywords  []string          `json:"keywords,omitempty"`
	MatchAll  bool              `json:"matchAll,omitempty"`
	MaxScore  *int              `json:"maxScore,omitempty"`
	MinScore  *int              `json:"minScore,omitempty"`
	NSFW      *bool             `json:"nsfw,omitempty"`
	SortAsc   bool              `json:"sortAsc,omitempty"`
	SortField catalog.SortField `json:"sortField"`
	Types     []string          `json:"types,omitempty"`
}

// Canonicalize normalizes a filter and derives its fingerprint. Keyword and
// type lists are lowercased, sorted and deduplicated; empty lists collapse to
// nil; date bounds are normalized to UTC. Two semantically identical filters
// always canonicalize to the same fingerprint.
func Canonicalize(f catalog.Filter) (catalog.Filter, Fingerprint, error) {
	norm := f
	norm.Keywords = normalizeList(f.Keywords)
	norm.Types = normalizeList(f.Types)
	if norm.SortField == "" {
		norm.SortField = catalog.SortByDate
	}
	if len(norm.Keywords) == 0 {
		// MatchAll is meaningless without keywords; collapse both encodings.
		norm.MatchAll = false
	}
	norm.DateFrom = toUTC(f.DateFrom)
	norm.DateTo = toUTC(f.DateTo)

	encoded, err := EncodeSpec(norm)
	if err != nil {
		return catalog.Filter{}, "", err
	}
	sum := sha256.Sum256(encoded)
	return norm, Fingerprint(hex.EncodeToString(sum[:])), nil
}

// EncodeSpec returns the canonical serialization of a normalized filter, as
// stored in the registry for diagnostics.
func EncodeSpec(f catalog.Filter) ([]byte, error) {
	spec := canonicalSpec{
		DateFrom:  f.DateFrom,
		DateTo:    f.DateTo,
		Keywords:  f.Keywords,
		MatchAll:  f.MatchAll,
		MaxScore:  f.MaxScore,
		MinScore:  f.MinScore,
		NSFW:      f.NSFW,
		SortAsc:   f.SortAsc,
		SortField: f.SortField,
		Types:     f.Types,
	}
	encoded, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter spec: %w", err)
	}
	return encoded, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
