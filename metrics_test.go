package storefront

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsRecordWorkerActivity(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics()
	cfg := testConfig(t)
	cfg.ShellAssets = []string{"/"}
	net := newFakeNetwork()
	net.Respond(http.MethodGet, testOrigin+"/", http.StatusOK, "shell")

	storage := NewMemoryCacheStorage()
	_, err := storage.Open(ctx, "legacy-v0")
	require.NoError(t, err)
	parts := NewPartitions(storage, cfg)

	life := NewLifecycle(cfg, parts, net, nil, testLogger(), m)
	_, err = life.Install(ctx)
	require.NoError(t, err)
	_, err = life.Activate(ctx)
	require.NoError(t, err)

	exec := NewExecutor(cfg, parts, net, testLogger(), m)
	net.SetOffline(true)
	exec.Execute(ctx, StrategyNetworkFirstImage, NewRequest(http.MethodGet, testOrigin+"/img/x.png"))
	exec.Wait()

	out := scrape(t, m)
	assert.Contains(t, out, `storefront_worker_lifecycle_state{state="activated"} 1`)
	assert.Contains(t, out, `storefront_worker_lifecycle_state{state="installing"} 0`)
	assert.Contains(t, out, `storefront_cache_partitions_pruned_total 1`)
	assert.Contains(t, out, `storefront_worker_requests_total{failure="network",source="placeholder",strategy="network-first-image"} 1`)
}

func TestMetricsRecordReplays(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics()
	store := NewMemoryStore()
	net := newFakeNetwork()
	net.Respond(http.MethodPost, testOrigin+DefaultOrdersEndpoint, http.StatusOK, "ok")

	_, err := EnqueueAction(ctx, store, PendingAction{Kind: KindOrderSync})
	require.NoError(t, err)
	q := NewSyncQueue(testConfig(t), store, net, nil, testLogger(), m)
	_, err = q.SyncOrders(ctx)
	require.NoError(t, err)

	out := scrape(t, m)
	assert.Contains(t, out, `storefront_sync_replays_total{outcome="succeeded",tag="sync-orders"} 1`)
	assert.Contains(t, out, `storefront_sync_pending_actions{tag="sync-orders"} 0`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.observeRequest(Result{})
	m.observeReplay(TagSyncCart, false)
	m.observeState(StateActivated)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
