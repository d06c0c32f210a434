package storefront

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempLevelDB(t *testing.T) *LevelDBCacheStorage {
	t.Helper()
	s, err := OpenLevelDBCacheStorage(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func cacheStorages(t *testing.T) map[string]func(t *testing.T) CacheStorage {
	return map[string]func(t *testing.T) CacheStorage{
		"memory":  func(*testing.T) CacheStorage { return NewMemoryCacheStorage() },
		"leveldb": func(t *testing.T) CacheStorage { return openTempLevelDB(t) },
	}
}

func TestCacheStorage(t *testing.T) {
	ctx := context.Background()
	key := RequestKey(http.MethodGet, testOrigin+"/products/1")

	for name, open := range cacheStorages(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("round trip is byte identical", func(t *testing.T) {
				s := open(t)
				part, err := s.Open(ctx, PartitionCore)
				require.NoError(t, err)

				body := []byte{0x00, 0xff, 'h', 'i', 0x10, '\n'}
				snap := &CachedResponse{
					Status:     http.StatusAccepted,
					Header:     http.Header{"Etag": {`"v1"`}},
					Body:       body,
					CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
				}
				require.NoError(t, part.Put(ctx, key, snap))

				got, err := part.Match(ctx, key)
				require.NoError(t, err)
				assert.Equal(t, http.StatusAccepted, got.Status)
				assert.Equal(t, body, got.Body)
				assert.Equal(t, `"v1"`, got.Header.Get("Etag"))
				assert.True(t, snap.CapturedAt.Equal(got.CapturedAt))
			})

			t.Run("put replaces the entry", func(t *testing.T) {
				s := open(t)
				part, err := s.Open(ctx, PartitionCore)
				require.NoError(t, err)

				require.NoError(t, part.Put(ctx, key, &CachedResponse{Status: 200, Header: http.Header{"X-Old": {"1"}}, Body: []byte("a")}))
				require.NoError(t, part.Put(ctx, key, &CachedResponse{Status: 200, Body: []byte("b")}))

				got, err := part.Match(ctx, key)
				require.NoError(t, err)
				assert.Equal(t, "b", string(got.Body))
				assert.Empty(t, got.Header.Get("X-Old"))

				keys, err := part.Keys(ctx)
				require.NoError(t, err)
				assert.Len(t, keys, 1)
			})

			t.Run("non-GET keys are rejected", func(t *testing.T) {
				s := open(t)
				part, err := s.Open(ctx, PartitionAPI)
				require.NoError(t, err)

				err = part.Put(ctx, RequestKey(http.MethodPost, testOrigin+"/api/cart"), &CachedResponse{Status: 200})
				assert.ErrorIs(t, err, ErrUnsupportedMethod)
			})

			t.Run("miss is ErrNotFound", func(t *testing.T) {
				s := open(t)
				part, err := s.Open(ctx, PartitionImage)
				require.NoError(t, err)

				_, err = part.Match(ctx, key)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("keys are in capture order", func(t *testing.T) {
				s := open(t)
				part, err := s.Open(ctx, PartitionCore)
				require.NoError(t, err)
				base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
				require.NoError(t, part.Put(ctx, "GET https://shop.test/b", &CachedResponse{Status: 200, CapturedAt: base.Add(time.Second)}))
				require.NoError(t, part.Put(ctx, "GET https://shop.test/a", &CachedResponse{Status: 200, CapturedAt: base.Add(2 * time.Second)}))
				require.NoError(t, part.Put(ctx, "GET https://shop.test/c", &CachedResponse{Status: 200, CapturedAt: base}))

				keys, err := part.Keys(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"GET https://shop.test/c", "GET https://shop.test/b", "GET https://shop.test/a"}, keys)
			})

			t.Run("partitions are independent", func(t *testing.T) {
				s := open(t)
				core, err := s.Open(ctx, PartitionCore)
				require.NoError(t, err)
				api, err := s.Open(ctx, PartitionAPI)
				require.NoError(t, err)

				require.NoError(t, core.Put(ctx, key, &CachedResponse{Status: 200}))
				_, err = api.Match(ctx, key)
				assert.ErrorIs(t, err, ErrNotFound)

				require.NoError(t, core.Delete(ctx, key))
				_, err = core.Match(ctx, key)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("delete removes partition and entries", func(t *testing.T) {
				s := open(t)
				part, err := s.Open(ctx, "legacy-v0")
				require.NoError(t, err)
				require.NoError(t, part.Put(ctx, key, &CachedResponse{Status: 200}))

				ok, err := s.Delete(ctx, "legacy-v0")
				require.NoError(t, err)
				assert.True(t, ok)

				has, err := s.Has(ctx, "legacy-v0")
				require.NoError(t, err)
				assert.False(t, has)

				ok, err = s.Delete(ctx, "legacy-v0")
				require.NoError(t, err)
				assert.False(t, ok)

				part, err = s.Open(ctx, "legacy-v0")
				require.NoError(t, err)
				_, err = part.Match(ctx, key)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("prune keeps exactly the recognized set", func(t *testing.T) {
				s := open(t)
				for _, n := range []PartitionName{PartitionCore, PartitionProduct, PartitionAPI, PartitionImage, "legacy-v0", "core-v1"} {
					_, err := s.Open(ctx, n)
					require.NoError(t, err)
				}
				p := NewPartitions(s, testConfig(t))

				removed, err := p.Prune(ctx)
				require.NoError(t, err)
				assert.ElementsMatch(t, []PartitionName{"legacy-v0", "core-v1"}, removed)

				removed, err = p.Prune(ctx)
				require.NoError(t, err)
				assert.Empty(t, removed)

				names, err := s.Names(ctx)
				require.NoError(t, err)
				assert.Equal(t, []PartitionName{PartitionAPI, PartitionCore, PartitionImage, PartitionProduct}, names)
			})
		})
	}
}

func TestLevelDBCacheStoragePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache")
	key := RequestKey(http.MethodGet, testOrigin+"/")

	s, err := OpenLevelDBCacheStorage(path)
	require.NoError(t, err)
	part, err := s.Open(ctx, PartitionCore)
	require.NoError(t, err)
	require.NoError(t, part.Put(ctx, key, &CachedResponse{Status: 200, Body: []byte("shell")}))
	require.NoError(t, s.Close())

	s, err = OpenLevelDBCacheStorage(path)
	require.NoError(t, err)
	defer s.Close()

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []PartitionName{PartitionCore}, names)

	part, err = s.Open(ctx, PartitionCore)
	require.NoError(t, err)
	got, err := part.Match(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "shell", string(got.Body))
}

func TestPartitionsStoreAndLookup(t *testing.T) {
	ctx := context.Background()
	p := NewPartitions(NewMemoryCacheStorage(), testConfig(t))
	p.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)) }

	req := NewRequest(http.MethodGet, "HTTPS://Shop.Test/products?id=1#reviews")
	require.NoError(t, p.Store(ctx, PartitionProduct, req, textResponse(http.StatusOK, "p1")))

	got, err := p.Lookup(ctx, PartitionProduct, NewRequest(http.MethodGet, "https://shop.test/products?id=1"))
	require.NoError(t, err)
	assert.Equal(t, "p1", string(got.Body))

	_, err = p.Lookup(ctx, PartitionProduct, NewRequest(http.MethodGet, "https://shop.test/products?id=2"))
	assert.ErrorIs(t, err, ErrNotFound)

	err = p.Store(ctx, PartitionAPI, NewRequest(http.MethodPut, testOrigin+"/api/cart"), textResponse(http.StatusOK, "x"))
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}
