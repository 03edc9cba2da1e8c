package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockSource is an in-memory Source for tests and offline development.
type MockSource struct {
	mu      sync.Mutex
	records []Record
	queries int
	failErr error
}

func NewMockSource(records []Record) *MockSource {
	return &MockSource{records: records}
}

// FailWith makes every subsequent Query return err; nil restores normal
// operation.
func (m *MockSource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// SetRecords replaces the backing record set, simulating catalog churn.
func (m *MockSource) SetRecords(records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// QueryCount reports how many times Query has been invoked.
func (m *MockSource) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

func (m *MockSource) Query(ctx context.Context, f Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.failErr != nil {
		return nil, m.failErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []Record
	for _, rec := range m.records {
		if m.matches(rec, f) {
			matched = append(matched, rec)
		}
	}
	sortRecords(matched, f.SortField, f.SortAsc)
	return matched, nil
}

func (m *MockSource) matches(rec Record, f Filter) bool {
	if len(f.Keywords) > 0 {
		name := strings.ToLower(rec.Name)
		path := strings.ToLower(rec.Path)
		hits := 0
		for _, kw := range f.Keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(name, kw) || strings.Contains(path, kw) {
				hits++
			}
		}
		if f.MatchAll && hits < len(f.Keywords) {
			return false
		}
		if !f.MatchAll && hits == 0 {
			return false
		}
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if strings.EqualFold(t, rec.Type) || strings.EqualFold(t, rec.Ext) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.MinScore != nil && rec.Score < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && rec.Score > *f.MaxScore {
		return false
	}
	if f.DateFrom != nil && rec.TakenAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && rec.TakenAt.After(*f.DateTo) {
		return false
	}
	if f.NSFW != nil && rec.NSFW != *f.NSFW {
		return false
	}
	return true
}

func sortRecords(recs []Record, field SortField, asc bool) {
	less := func(a, b Record) bool {
		switch field {
		case SortByName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case SortBySize:
			if a.Size != b.Size {
				return a.Size < b.Size
			}
		case SortByScore:
			if a.Score != b.Score {
				return a.Score < b.Score
			}
		default: // SortByDate
			if !a.TakenAt.Equal(b.TakenAt) {
				return a.TakenAt.Before(b.TakenAt)
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if asc {
			return less(recs[i], recs[j])
		}
		return less(recs[j], recs[i])
	})
}
