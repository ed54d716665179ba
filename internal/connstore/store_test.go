package connstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "connections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, Connection{ID: "c1"}))
			require.NoError(t, store.Put(ctx, Connection{ID: "c2"}))

			conn, err := store.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "c1", conn.ID)
			assert.Empty(t, conn.UserID)
			assert.False(t, conn.ConnectedAt.IsZero())

			require.NoError(t, store.BindUser(ctx, "c1", "u-1"))
			require.NoError(t, store.BindUser(ctx, "c2", "u-1"))

			count, err := store.CountForUser(ctx, "u-1")
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			removed, err := store.Remove(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "u-1", removed.UserID)

			count, err = store.CountForUser(ctx, "u-1")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			_, err = store.Get(ctx, "c1")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = store.Remove(ctx, "c1")
			assert.ErrorIs(t, err, ErrNotFound)

			err = store.BindUser(ctx, "ghost", "u-2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
