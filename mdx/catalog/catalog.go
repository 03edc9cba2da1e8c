package catalog

import (
	"context"
	"time"
)

// SortField selects the primary ordering of a catalog query.
type SortField string

const (
	SortByDate  SortField = "date"
	SortByName  SortField = "name"
	SortBySize  SortField = "size"
	SortByScore SortField = "score"
)

// Filter is a caller-supplied filter/sort specification over the media
// catalog. Zero values mean "no constraint"; pointer fields distinguish
// an absent bound from a zero bound.
type Filter struct {
	Keywords  []string   `json:"keywords,omitempty"`
	MatchAll  bool       `json:"matchAll,omitempty"`
	Types     []string   `json:"types,omitempty"`
	MinScore  *int       `json:"minScore,omitempty"`
	MaxScore  *int       `json:"maxScore,omitempty"`
	DateFrom  *time.Time `json:"dateFrom,omitempty"`
	DateTo    *time.Time `json:"dateTo,omitempty"`
	NSFW      *bool      `json:"nsfw,omitempty"`
	SortField SortField  `json:"sortField,omitempty"`
	SortAsc   bool       `json:"sortAsc,omitempty"`
}

// Record is the projection of a catalog row that the buffer cache snapshots.
// OriginalAt is the media's original creation time when known; it is nil for
// records where extraction never produced one.
type Record struct {
	ID         int64
	Name       string
	Path       string
	Size       int64
	Type       string
	Ext        string
	Score      int
	Width      int
	Height     int
	TakenAt    time.Time
	OriginalAt *time.Time
	NSFW       bool
	NSFWScore  float64
}

// Source is the external catalog query capability. Implementations return
// records matching the filter in the filter's sort order; how the query is
// executed is entirely the source's concern.
type Source interface {
	Query(ctx context.Context, f Filter) ([]Record, error)
}
