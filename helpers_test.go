package storefront

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testOrigin = "https://shop.test"

var errOffline = errors.New("dial tcp: network is unreachable")

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Origin = testOrigin
	cfg, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func textResponse(status int, body string) *Response {
	return &Response{
		Status: status,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body),
	}
}

// fakeNetwork is a scripted Fetcher keyed by "METHOD URL". Unknown routes
// answer 404; offline answers every call with a transport error.
type fakeNetwork struct {
	mu       sync.Mutex
	routes   map[string]func(req *Request) (*Response, error)
	requests []*Request
	offline  bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routes: make(map[string]func(*Request) (*Response, error))}
}

func (n *fakeNetwork) Handle(method, url string, fn func(req *Request) (*Response, error)) {
	n.mu.Lock()
	n.routes[method+" "+url] = fn
	n.mu.Unlock()
}

func (n *fakeNetwork) Respond(method, url string, status int, body string) {
	n.Handle(method, url, func(*Request) (*Response, error) {
		return textResponse(status, body), nil
	})
}

func (n *fakeNetwork) Fail(method, url string) {
	n.Handle(method, url, func(*Request) (*Response, error) {
		return nil, errOffline
	})
}

func (n *fakeNetwork) SetOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *Request) (*Response, error) {
	n.mu.Lock()
	n.requests = append(n.requests, req.Clone())
	offline := n.offline
	fn := n.routes[req.Method+" "+req.URL]
	n.mu.Unlock()

	if offline {
		return nil, errOffline
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return textResponse(http.StatusNotFound, "not found"), nil
	}
	return fn(req)
}

func (n *fakeNetwork) Requests() []*Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Request(nil), n.requests...)
}

func (n *fakeNetwork) Calls() []string {
	var out []string
	for _, r := range n.Requests() {
		out = append(out, r.Method+" "+r.URL)
	}
	return out
}

// spyStorage counts every call that reaches the partitions.
type spyStorage struct {
	CacheStorage

	mu    sync.Mutex
	opens int
}

func (s *spyStorage) Open(ctx context.Context, name PartitionName) (Partition, error) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()
	return s.CacheStorage.Open(ctx, name)
}

func (s *spyStorage) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// brokenStorage fails every partition access.
type brokenStorage struct {
	MemoryCacheStorage
}

var errDiskFull = errors.New("disk full")

func (s *brokenStorage) Open(context.Context, PartitionName) (Partition, error) {
	return nil, errDiskFull
}

// brokenStore fails reads, writes, or both.
type brokenStore struct {
	*MemoryStore
	failGet bool
	failSet bool
}

func (s *brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet {
		return nil, errDiskFull
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *brokenStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet {
		return errDiskFull
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *brokenStore) Delete(ctx context.Context, key string) error {
	if s.failSet {
		return errDiskFull
	}
	return s.MemoryStore.Delete(ctx, key)
}

// recordingBus captures broadcasts and claims.
type recordingBus struct {
	mu       sync.Mutex
	messages []BroadcastMessage
	claims   int
}

func (b *recordingBus) Broadcast(_ context.Context, msg BroadcastMessage) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return 1
}

func (b *recordingBus) Claim(context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.claims++
	return 1
}

func (b *recordingBus) Messages() []BroadcastMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BroadcastMessage(nil), b.messages...)
}
