package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(fp Fingerprint, items int64) *Record {
	now := time.Now()
	return &Record{
		Fingerprint: fp,
		TableName:   TableName(fp),
		ItemCount:   items,
		SizeBytes:   items * estimatedBytesPerRow,
		CreatedAt:   now,
		LastAccess:  now,
		FilterJSON:  `{"sortField":"date"}`,
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newTestDB(t))
	require.NoError(t, registry.Init(ctx))

	fpA := Fingerprint("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	fpB := Fingerprint("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	t.Run("LookupMissing", func(t *testing.T) {
		_, err := registry.Lookup(ctx, fpA)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RegisterAndLookup", func(t *testing.T) {
		require.NoError(t, registry.Register(ctx, testRecord(fpA, 10)))

		rec, err := registry.Lookup(ctx, fpA)
		require.NoError(t, err)
		assert.Equal(t, fpA, rec.Fingerprint)
		assert.Equal(t, TableName(fpA), rec.TableName)
		assert.EqualValues(t, 10, rec.ItemCount)
	})

	t.Run("LookupBumpsLastAccess", func(t *testing.T) {
		first, err := registry.Lookup(ctx, fpA)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		second, err := registry.Lookup(ctx, fpA)
		require.NoError(t, err)
		assert.True(t, second.LastAccess.After(first.LastAccess))
	})

	t.Run("RegisterReplaces", func(t *testing.T) {
		require.NoError(t, registry.Register(ctx, testRecord(fpA, 42)))
		rec, err := registry.Lookup(ctx, fpA)
		require.NoError(t, err)
		assert.EqualValues(t, 42, rec.ItemCount)
	})

	t.Run("ListAllOrderedByAccess", func(t *testing.T) {
		require.NoError(t, registry.Register(ctx, testRecord(fpB, 5)))
		time.Sleep(2 * time.Millisecond)
		_, err := registry.Lookup(ctx, fpA) // fpA becomes most recent
		require.NoError(t, err)

		records, err := registry.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, fpB, records[0].Fingerprint)
		assert.Equal(t, fpA, records[1].Fingerprint)
	})

	t.Run("Aggregate", func(t *testing.T) {
		agg, err := registry.Aggregate(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, agg.Count)
		assert.EqualValues(t, 47, agg.TotalItems)
		assert.EqualValues(t, 47*estimatedBytesPerRow, agg.TotalSize)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, registry.Delete(ctx, fpB))
		_, err := registry.Lookup(ctx, fpB)
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting twice is harmless.
		assert.NoError(t, registry.Delete(ctx, fpB))
	})
}
