package storefront

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "pending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newTempSQLiteStore(t) },
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("absent key", func(t *testing.T) {
				s := open(t)
				_, err := s.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set get overwrite", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Set(ctx, "k", []byte("v1")))
				require.NoError(t, s.Set(ctx, "k", []byte("v2")))

				got, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "v2", string(got))
			})

			t.Run("delete", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Set(ctx, "k", []byte("v")))
				require.NoError(t, s.Delete(ctx, "k"))
				require.NoError(t, s.Delete(ctx, "k"))

				_, err := s.Get(ctx, "k")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("cancelled context", func(t *testing.T) {
				s := open(t)
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := s.Get(cctx, "k")
				assert.ErrorIs(t, err, context.Canceled)
			})

			t.Run("action lists", func(t *testing.T) {
				s := open(t)

				actions, err := LoadActions(ctx, s, PendingCartKey)
				require.NoError(t, err)
				assert.Empty(t, actions)

				first, err := EnqueueAction(ctx, s, PendingAction{Kind: KindCartSync, Payload: json.RawMessage(`{"sku":"a"}`)})
				require.NoError(t, err)
				assert.NotEmpty(t, first.ID)
				assert.False(t, first.EnqueuedAt.IsZero())

				_, err = EnqueueAction(ctx, s, PendingAction{ID: "fixed", Kind: KindCartSync, Payload: json.RawMessage(`{"sku":"b"}`)})
				require.NoError(t, err)

				actions, err = LoadActions(ctx, s, PendingCartKey)
				require.NoError(t, err)
				require.Len(t, actions, 2)
				assert.Equal(t, first.ID, actions[0].ID)
				assert.Equal(t, "fixed", actions[1].ID)
				assert.JSONEq(t, `{"sku":"b"}`, string(actions[1].Payload))

				orders, err := LoadActions(ctx, s, PendingOrdersKey)
				require.NoError(t, err)
				assert.Empty(t, orders)

				require.NoError(t, SaveActions(ctx, s, PendingCartKey, nil))
				_, err = s.Get(ctx, PendingCartKey)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("unknown kind", func(t *testing.T) {
				s := open(t)
				_, err := EnqueueAction(ctx, s, PendingAction{Kind: "wishlist-sync"})
				assert.Error(t, err)
			})

			t.Run("corrupt list", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Set(ctx, PendingOrdersKey, []byte("{not json")))
				_, err := LoadActions(ctx, s, PendingOrdersKey)
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrNotFound)
			})
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = EnqueueAction(ctx, s, PendingAction{
		ID:         "o-1",
		Kind:       KindOrderSync,
		Endpoint:   "/api/orders",
		Payload:    json.RawMessage(`{"total":12}`),
		EnqueuedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	orders, err := LoadActions(ctx, s, PendingOrdersKey)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-1", orders[0].ID)
	assert.Equal(t, "/api/orders", orders[0].Endpoint)
	assert.True(t, orders[0].EnqueuedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestSQLiteStoreOpenFailureSurfacesOnUse(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewSQLiteStore("  ")
	assert.Error(t, err)

	s, err := NewSQLiteStore(filepath.Join(blocker, "pending.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, PendingCartKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = LoadActions(ctx, s, PendingCartKey)
	assert.Error(t, err)
}
