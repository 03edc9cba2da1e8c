package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/mediadex/mdx/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictionCountBudget(t *testing.T) {
	ctx := context.Background()
	source := catalog.NewMockSource(sampleRecords(20))
	cfg := DefaultConfig()
	cfg.MaxBuffers = 2
	engine := newTestEngine(t, source, cfg)

	filters := []catalog.Filter{
		{},
		{SortField: catalog.SortByName},
		{SortField: catalog.SortBySize},
		{SortField: catalog.SortByScore},
	}
	for _, f := range filters {
		_, err := engine.GetOrCreateBuffer(ctx, f, false)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.BufferCount, int64(2))
}

func TestEvictionIsLRU(t *testing.T) {
	ctx := context.Background()
	source := catalog.NewMockSource(sampleRecords(20))
	cfg := DefaultConfig()
	cfg.MaxBuffers = 2
	engine := newTestEngine(t, source, cfg)

	filterA := catalog.Filter{}
	filterB := catalog.Filter{SortField: catalog.SortByName}

	a, err := engine.GetOrCreateBuffer(ctx, filterA, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := engine.GetOrCreateBuffer(ctx, filterB, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Touch A so B becomes the least recently used.
	_, err = engine.GetOrCreateBuffer(ctx, filterA, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	c, err := engine.GetOrCreateBuffer(ctx, catalog.Filter{SortField: catalog.SortBySize}, false)
	require.NoError(t, err)

	// A and C survive; B was evicted.
	_, _, err = engine.GetPage(ctx, a.Fingerprint, nil, 5)
	assert.NoError(t, err)
	_, _, err = engine.GetPage(ctx, c.Fingerprint, nil, 5)
	assert.NoError(t, err)
	_, _, err = engine.GetPage(ctx, b.Fingerprint, nil, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPageFetchCountsAsUsage(t *testing.T) {
	ctx := context.Background()
	source := catalog.NewMockSource(sampleRecords(20))
	cfg := DefaultConfig()
	cfg.MaxBuffers = 2
	engine := newTestEngine(t, source, cfg)

	a, err := engine.GetOrCreateBuffer(ctx, catalog.Filter{}, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := engine.GetOrCreateBuffer(ctx, catalog.Filter{SortField: catalog.SortByName}, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	// Paging through A refreshes its recency ahead of B.
	_, _, err = engine.GetPage(ctx, a.Fingerprint, nil, 5)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = engine.GetOrCreateBuffer(ctx, catalog.Filter{SortField: catalog.SortBySize}, false)
	require.NoError(t, err)

	_, _, err = engine.GetPage(ctx, a.Fingerprint, nil, 5)
	assert.NoError(t, err)
	_, _, err = engine.GetPage(ctx, b.Fingerprint, nil, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvictionByteBudget(t *testing.T) {
	ctx := context.Background()
	source := catalog.NewMockSource(sampleRecords(2200))
	cfg := DefaultConfig()
	cfg.MaxBuffers = 10
	cfg.MaxTotalSizeMB = 1
	engine := newTestEngine(t, source, cfg)

	// Each buffer estimates at ~1.1 MB, so any two together blow the byte
	// budget while staying far under the count budget.
	_, err := engine.GetOrCreateBuffer(ctx, catalog.Filter{}, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = engine.GetOrCreateBuffer(ctx, catalog.Filter{SortField: catalog.SortByName}, false)
	require.NoError(t, err)

	// Byte pressure evicts down to the last remaining buffer, which is
	// allowed to exceed the byte budget on its own.
	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.BufferCount)
}

func TestEvictorNoOpWithinBudgets(t *testing.T) {
	ctx := context.Background()
	source := catalog.NewMockSource(sampleRecords(10))
	engine := newTestEngine(t, source, DefaultConfig())

	for _, f := range []catalog.Filter{{}, {SortField: catalog.SortByName}} {
		_, err := engine.GetOrCreateBuffer(ctx, f, false)
		require.NoError(t, err)
	}

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.BufferCount)
}
