package storefront

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Source names where a served response came from.
type Source string

const (
	SourceNetwork         Source = "network"
	SourceCache           Source = "cache"
	SourceOfflineDocument Source = "offline-document"
	SourcePlaceholder     Source = "placeholder"
	SourceSynthesized     Source = "synthesized"
)

// FailureKind names what degraded a result. FailureNone means nothing did.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNetwork
	FailureCacheMiss
	FailureStorage
)

func (f FailureKind) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network"
	case FailureCacheMiss:
		return "cache-miss"
	case FailureStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Result is the outcome of one strategy execution. Response is always set.
type Result struct {
	Strategy Strategy
	Response *Response
	Source   Source
	Failure  FailureKind
	Err      error
}

// CachedResponseHeader marks API responses served from the api partition.
const CachedResponseHeader = "X-Cached-Response"

// OfflineAPIBody is the fixed body of an API request that cannot be served.
const OfflineAPIBody = `{"error":"Sin conexión","message":"Esta función requiere conexión a internet","offline":true}`

const offlineResourceBody = "Resource not available offline"

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300" viewBox="0 0 400 300">` +
	`<rect width="400" height="300" fill="#f3f4f6"/>` +
	`<text x="200" y="150" text-anchor="middle" dominant-baseline="middle" font-family="sans-serif" font-size="16" fill="#9ca3af">Imagen no disponible</text>` +
	`</svg>`

func unavailableResponse() *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:   []byte(offlineResourceBody),
	}
}

func offlineAPIResponse() *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(OfflineAPIBody),
	}
}

func placeholderImageResponse() *Response {
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":   {"image/svg+xml"},
			"Cache-Control":  {"no-store"},
			"Content-Length": {strconv.Itoa(len(placeholderSVG))},
		},
		Body: []byte(placeholderSVG),
	}
}

// ============================================================================
// Executor
// ============================================================================

// Executor runs the serving strategies against the partitions and network.
type Executor struct {
	cfg        Config
	partitions *Partitions
	fetcher    Fetcher
	log        logrus.FieldLogger
	metrics    *Metrics

	refreshes sync.WaitGroup
}

// NewExecutor builds an executor. log and metrics may be nil.
func NewExecutor(cfg Config, partitions *Partitions, fetcher Fetcher, log logrus.FieldLogger, metrics *Metrics) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		cfg:        cfg.clone(),
		partitions: partitions,
		fetcher:    fetcher,
		log:        log.WithField("component", "strategy"),
		metrics:    metrics,
	}
}

// Execute serves req with strategy s.
func (e *Executor) Execute(ctx context.Context, s Strategy, req *Request) Result {
	var r Result
	switch s {
	case StrategyBypass:
		r = e.Bypass(ctx, req)
	case StrategyNetworkFirstNavigation:
		r = e.NetworkFirstNavigation(ctx, req)
	case StrategyNetworkFirstImage:
		r = e.NetworkFirstImage(ctx, req)
	case StrategyNetworkFirstAPI:
		r = e.NetworkFirstAPI(ctx, req)
	default:
		r = e.CacheFirst(ctx, req)
	}
	e.metrics.observeRequest(r)
	return r
}

// Wait blocks until every background refresh has finished.
func (e *Executor) Wait() {
	e.refreshes.Wait()
}

// Bypass forwards req to the network without touching any partition.
func (e *Executor) Bypass(ctx context.Context, req *Request) Result {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{Strategy: StrategyBypass, Response: unavailableResponse(), Source: SourceSynthesized, Failure: FailureNetwork, Err: err}
	}
	return Result{Strategy: StrategyBypass, Response: resp, Source: SourceNetwork}
}

// CacheFirst serves from core when possible and refreshes the entry in the
// background; the caller never waits for the refresh.
func (e *Executor) CacheFirst(ctx context.Context, req *Request) Result {
	cached, err := e.partitions.Lookup(ctx, PartitionCore, req)
	if err == nil {
		e.revalidate(ctx, req)
		return Result{Strategy: StrategyCacheFirst, Response: cached, Source: SourceCache}
	}
	if !errors.Is(err, ErrNotFound) {
		e.log.WithError(err).WithField("key", req.Key()).Warn("core lookup failed")
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{Strategy: StrategyCacheFirst, Response: unavailableResponse(), Source: SourceSynthesized, Failure: FailureNetwork, Err: err}
	}
	return e.stored(ctx, StrategyCacheFirst, PartitionCore, req, resp)
}

func (e *Executor) revalidate(ctx context.Context, req *Request) {
	bg := context.WithoutCancel(ctx)
	req = req.Clone()
	e.refreshes.Add(1)
	go func() {
		defer e.refreshes.Done()
		resp, err := e.fetcher.Fetch(bg, req)
		if err != nil {
			e.metrics.observeRevalidate("network-error")
			e.log.WithError(err).WithField("key", req.Key()).Debug("background refresh failed")
			return
		}
		if !resp.OK() {
			e.metrics.observeRevalidate("not-ok")
			return
		}
		if err := e.partitions.Store(bg, PartitionCore, req, resp); err != nil {
			e.metrics.observeRevalidate("storage-error")
			e.log.WithError(err).WithField("key", req.Key()).Warn("background refresh not stored")
			return
		}
		e.metrics.observeRevalidate("refreshed")
	}()
}

// NetworkFirstNavigation prefers the network, then the cached page from core
// or product, then the offline document.
func (e *Executor) NetworkFirstNavigation(ctx context.Context, req *Request) Result {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		return e.stored(ctx, StrategyNetworkFirstNavigation, PartitionCore, req, resp)
	}
	netErr := err

	// product holds pages pre-warmed over the bus
	for _, name := range []PartitionName{PartitionCore, PartitionProduct} {
		if cached, ok := e.fallback(ctx, name, req.Key()); ok {
			return Result{Strategy: StrategyNetworkFirstNavigation, Response: cached, Source: SourceCache, Failure: FailureNetwork, Err: netErr}
		}
	}
	offlineKey := RequestKey(http.MethodGet, e.cfg.Resolve(e.cfg.OfflineDocument))
	if doc, ok := e.fallback(ctx, PartitionCore, offlineKey); ok {
		return Result{Strategy: StrategyNetworkFirstNavigation, Response: doc, Source: SourceOfflineDocument, Failure: FailureNetwork, Err: netErr}
	}
	return Result{Strategy: StrategyNetworkFirstNavigation, Response: unavailableResponse(), Source: SourceSynthesized, Failure: FailureNetwork, Err: netErr}
}

// NetworkFirstImage prefers the network, then the cached image, then an
// inline placeholder served as a success.
func (e *Executor) NetworkFirstImage(ctx context.Context, req *Request) Result {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		return e.stored(ctx, StrategyNetworkFirstImage, PartitionImage, req, resp)
	}
	if cached, ok := e.fallback(ctx, PartitionImage, req.Key()); ok {
		return Result{Strategy: StrategyNetworkFirstImage, Response: cached, Source: SourceCache, Failure: FailureNetwork, Err: err}
	}
	return Result{Strategy: StrategyNetworkFirstImage, Response: placeholderImageResponse(), Source: SourcePlaceholder, Failure: FailureNetwork, Err: err}
}

// NetworkFirstAPI prefers the network and caches GET responses only. Offline
// GETs fall back to the api partition with a marker header; everything else
// gets the fixed offline JSON body.
func (e *Executor) NetworkFirstAPI(ctx context.Context, req *Request) Result {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		if req.Method != http.MethodGet {
			return Result{Strategy: StrategyNetworkFirstAPI, Response: resp, Source: SourceNetwork}
		}
		return e.stored(ctx, StrategyNetworkFirstAPI, PartitionAPI, req, resp)
	}
	if req.Method == http.MethodGet {
		if cached, ok := e.fallback(ctx, PartitionAPI, req.Key()); ok {
			cached.Header.Set(CachedResponseHeader, "true")
			return Result{Strategy: StrategyNetworkFirstAPI, Response: cached, Source: SourceCache, Failure: FailureNetwork, Err: err}
		}
	}
	return Result{Strategy: StrategyNetworkFirstAPI, Response: offlineAPIResponse(), Source: SourceSynthesized, Failure: FailureNetwork, Err: err}
}

// stored returns resp after writing it to the partition when it is a
// cacheable success. A failed write does not change what is served.
func (e *Executor) stored(ctx context.Context, s Strategy, name PartitionName, req *Request, resp *Response) Result {
	r := Result{Strategy: s, Response: resp, Source: SourceNetwork}
	if !resp.OK() || req.Method != http.MethodGet {
		return r
	}
	if err := e.partitions.Store(ctx, name, req, resp); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"partition": name,
			"key":       req.Key(),
		}).Warn("response not cached")
		r.Failure = FailureStorage
		r.Err = err
	}
	return r
}

// fallback looks key up in a partition after a network failure. Lookup
// errors other than a miss are logged and treated as a miss.
func (e *Executor) fallback(ctx context.Context, name PartitionName, key string) (*Response, bool) {
	resp, err := e.partitions.lookupKey(ctx, name, key)
	if err == nil {
		return resp, true
	}
	if !errors.Is(err, ErrNotFound) {
		e.log.WithError(err).WithFields(logrus.Fields{
			"partition": name,
			"key":       key,
		}).Warn("cache fallback failed")
	}
	return nil, false
}
