package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "users", "u1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, "users", "u1", Document{"tier": "ultra", "inputTokensUsed": 10}, false))
			doc, err := store.Get(ctx, "users", "u1")
			require.NoError(t, err)
			assert.Equal(t, "ultra", doc["tier"])
			assert.Equal(t, float64(10), doc["inputTokensUsed"])

			require.NoError(t, store.Delete(ctx, "users", "u1"))
			_, err = store.Get(ctx, "users", "u1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Delete(ctx, "users", "missing"))
		})
	}
}

func TestStore_Merge(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "users", "u1", Document{"tier": "starter", "email": "a@b.c"}, false))

			require.NoError(t, store.Set(ctx, "users", "u1", Document{"tier": "ultra"}, true))
			doc, err := store.Get(ctx, "users", "u1")
			require.NoError(t, err)
			assert.Equal(t, Document{"tier": "ultra", "email": "a@b.c"}, doc)

			require.NoError(t, store.Set(ctx, "users", "u1", Document{"tier": "free"}, false))
			doc, err = store.Get(ctx, "users", "u1")
			require.NoError(t, err)
			assert.Equal(t, Document{"tier": "free"}, doc)

			// Merge into a missing record creates it.
			require.NoError(t, store.Set(ctx, "users", "u2", Document{"tier": "industry"}, true))
			doc, err = store.Get(ctx, "users", "u2")
			require.NoError(t, err)
			assert.Equal(t, "industry", doc["tier"])
		})
	}
}

func TestStore_QueryByField(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "users", "b", Document{"tier": "ultra", "active": true, "n": 3}, false))
			require.NoError(t, store.Set(ctx, "users", "a", Document{"tier": "ultra", "active": false, "n": 4}, false))
			require.NoError(t, store.Set(ctx, "users", "c", Document{"tier": "free"}, false))
			require.NoError(t, store.Set(ctx, "events", "x", Document{"tier": "ultra"}, false))

			recs, err := store.QueryByField(ctx, "users", "tier", "ultra")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "a", recs[0].ID)
			assert.Equal(t, "b", recs[1].ID)

			recs, err = store.QueryByField(ctx, "users", "active", true)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, "b", recs[0].ID)

			recs, err = store.QueryByField(ctx, "users", "n", 4)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, "a", recs[0].ID)

			recs, err = store.QueryByField(ctx, "users", "tier", "lifetime")
			require.NoError(t, err)
			assert.Empty(t, recs)

			_, err = store.QueryByField(ctx, "users", "tier') OR 1=1 --", "x")
			assert.ErrorIs(t, err, ErrInvalidField)
		})
	}
}

func TestStore_ValidatesKeys(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.Error(t, store.Set(ctx, "", "id", Document{}, false))
			assert.Error(t, store.Set(ctx, "users", "", Document{}, false))
			_, err := store.Get(ctx, "users", "")
			assert.Error(t, err)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "users", "u1", Document{"tier": "lifetime"}, false))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()
	doc, err := s2.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "lifetime", doc["tier"])
}

func TestMemoryStore_Failure(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("offline")
	store.SetFailure(boom)

	_, err := store.Get(context.Background(), "users", "u1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Set(context.Background(), "users", "u1", Document{}, true), boom)

	store.SetFailure(nil)
	require.NoError(t, store.Set(context.Background(), "users", "u1", Document{"k": "v"}, true))
	assert.Equal(t, 1, store.Len("users"))
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
