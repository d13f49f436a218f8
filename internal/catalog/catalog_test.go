package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nestcam/camerad/internal/config"
	"github.com/nestcam/camerad/internal/logging"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(config.CatalogConfig{Driver: "sqlite", DSN: ":memory:"}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := Recording{
		ID:          "a1b2",
		Path:        "/data/videos/nest_motion_20260823_120000.mp4",
		TriggeredBy: "motion",
		Duration:    12.4,
		SizeBytes:   1 << 20,
		Truncated:   false,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, "a1b2")
	require.NoError(t, err)
	require.Equal(t, rec.Path, got.Path)
	require.Equal(t, rec.TriggeredBy, got.TriggeredBy)
	require.Equal(t, rec.SizeBytes, got.SizeBytes)
	require.False(t, got.Truncated)
}

func TestGetUnknownID(t *testing.T) {
	store := testStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Insert(ctx, Recording{
			ID:          id,
			Path:        "/data/videos/" + id + ".mp4",
			TriggeredBy: "manual",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "new", recs[0].ID)
	require.Equal(t, "mid", recs[1].ID)
}

func TestDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, Recording{
		ID: "gone", Path: "/tmp/gone.mp4", TriggeredBy: "manual", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Delete(ctx, "gone"))
	require.ErrorIs(t, store.Delete(ctx, "gone"), ErrNotFound)
}
