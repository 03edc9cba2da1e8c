package buffer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activeFilterState struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label"`
	PageSize    int    `json:"pageSize"`
}

func TestStateStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewStateStore(db)
	require.NoError(t, store.Init(ctx))

	t.Run("GetMissing", func(t *testing.T) {
		var out activeFilterState
		found, err := store.Get(ctx, "gallery.activeFilter", &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		in := activeFilterState{Fingerprint: "abc123", Label: "Favorites", PageSize: 60}
		require.NoError(t, store.Put(ctx, "gallery.activeFilter", in))

		var out activeFilterState
		found, err := store.Get(ctx, "gallery.activeFilter", &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("OverwriteWholesale", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "gallery.activeFilter", activeFilterState{Fingerprint: "def456"}))

		var out activeFilterState
		found, err := store.Get(ctx, "gallery.activeFilter", &out)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "def456", out.Fingerprint)
		assert.Empty(t, out.Label)
	})

	t.Run("ListKeysByPrefix", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "gallery.scrollPos", 1200))
		require.NoError(t, store.Put(ctx, "viewer.zoom", 1.5))

		keys := store.ListKeys("gallery.")
		assert.Equal(t, []string{"gallery.activeFilter", "gallery.scrollPos"}, keys)
		assert.Len(t, store.ListKeys(""), 3)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "viewer.zoom"))
		var out float64
		found, err := store.Get(ctx, "viewer.zoom", &out)
		require.NoError(t, err)
		assert.False(t, found)
		assert.NotContains(t, store.ListKeys(""), "viewer.zoom")
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		// A fresh store over the same database sees the persisted keys.
		reopened := NewStateStore(db)
		require.NoError(t, reopened.Init(ctx))

		var out activeFilterState
		found, err := reopened.Get(ctx, "gallery.activeFilter", &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "def456", out.Fingerprint)
		assert.Equal(t, []string{"gallery.activeFilter", "gallery.scrollPos"}, reopened.ListKeys("gallery."))
	})
}
