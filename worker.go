package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Worker wires the router, strategies, lifecycle, sync queue, push handler
// and bus into one offline worker instance.
type Worker struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *Metrics

	storage CacheStorage
	store   Store
	fetcher Fetcher
	bus     *Bus

	partitions   *Partitions
	router       *Router
	executor     *Executor
	lifecycle    *Lifecycle
	syncQueue    *SyncQueue
	push         *PushHandler
	connectivity *Connectivity
	dispatcher   *Dispatcher
}

// Option configures a Worker.
type Option func(*Worker)

// WithCacheStorage sets where partitions live. Defaults to memory.
func WithCacheStorage(s CacheStorage) Option {
	return func(w *Worker) { w.storage = s }
}

// WithStore sets the pending-action store. Defaults to memory.
func WithStore(s Store) Option {
	return func(w *Worker) { w.store = s }
}

// WithFetcher sets the network. Defaults to a Client for the origin.
func WithFetcher(f Fetcher) Option {
	return func(w *Worker) { w.fetcher = f }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Worker) { w.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithBus(b *Bus) Option {
	return func(w *Worker) { w.bus = b }
}

// NewWorker validates cfg and builds a worker in the installing state.
func NewWorker(cfg Config, opts ...Option) (*Worker, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	w := &Worker{cfg: cfg}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logrus.StandardLogger()
	}
	if w.storage == nil {
		w.storage = NewMemoryCacheStorage()
	}
	if w.store == nil {
		w.store = NewMemoryStore()
	}
	if w.fetcher == nil {
		w.fetcher = NewClient(cfg.Origin)
	}
	if w.bus == nil {
		w.bus = NewBus(w.log)
	}

	w.partitions = NewPartitions(w.storage, cfg)
	w.router = NewRouter(cfg)
	w.executor = NewExecutor(cfg, w.partitions, w.fetcher, w.log, w.metrics)
	w.lifecycle = NewLifecycle(cfg, w.partitions, w.fetcher, w.bus, w.log, w.metrics)
	w.syncQueue = NewSyncQueue(cfg, w.store, w.fetcher, w.bus, w.log, w.metrics)
	w.push = NewPushHandler(cfg, w.bus, w.bus, w.log)
	w.dispatcher = NewDispatcher(w.log)
	w.connectivity = NewConnectivity(w.fireSync, cfg.FlushInterval, w.log)

	w.dispatcher.Register(EventInstall, func(ctx context.Context, _ Event) (any, error) {
		return w.lifecycle.Install(ctx)
	})
	w.dispatcher.Register(EventActivate, func(ctx context.Context, _ Event) (any, error) {
		return w.lifecycle.Activate(ctx)
	})
	w.dispatcher.Register(EventFetch, func(ctx context.Context, ev Event) (any, error) {
		return w.handleFetch(ctx, ev.Request), nil
	})
	w.dispatcher.Register(EventSync, func(ctx context.Context, ev Event) (any, error) {
		return w.syncQueue.Run(ctx, ev.Tag)
	})
	w.dispatcher.Register(EventPush, func(ctx context.Context, ev Event) (any, error) {
		return w.push.HandlePush(ctx, ev.Data)
	})
	w.dispatcher.Register(EventNotificationClick, func(ctx context.Context, ev Event) (any, error) {
		return w.push.HandleClick(ctx, ev.Click)
	})
	w.dispatcher.Register(EventMessage, func(ctx context.Context, ev Event) (any, error) {
		return nil, w.handleMessage(ctx, ev.Message)
	})
	w.bus.OnControl(func(ctx context.Context, msg ControlMessage) error {
		return w.dispatcher.Dispatch(ctx, Event{Kind: EventMessage, Message: msg}).Wait()
	})
	return w, nil
}

// Config returns the validated configuration.
func (w *Worker) Config() Config { return w.cfg.clone() }

// Bus returns the client messaging bus.
func (w *Worker) Bus() *Bus { return w.bus }

// Lifecycle returns the lifecycle controller.
func (w *Worker) Lifecycle() *Lifecycle { return w.lifecycle }

// Connectivity returns the online flag and sync registrations.
func (w *Worker) Connectivity() *Connectivity { return w.connectivity }

// Start begins the periodic sync retry loop.
func (w *Worker) Start() {
	w.connectivity.Start()
}

// Close waits for in-flight work and releases storage.
func (w *Worker) Close() error {
	w.connectivity.Stop()
	w.dispatcher.Wait()
	w.executor.Wait()
	return errors.Join(
		w.bus.Close(),
		w.store.Close(),
		w.storage.Close(),
	)
}

// ============================================================================
// Lifecycle
// ============================================================================

// Install seeds core with the shell assets and, since install always asks
// to skip waiting, activates right after.
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	v, err := w.dispatcher.Dispatch(ctx, Event{Kind: EventInstall}).Result()
	report, _ := v.(InstallReport)
	if err != nil {
		return report, err
	}
	if w.lifecycle.PromotionRequested() {
		if _, err := w.Activate(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Activate prunes obsolete partitions and claims open clients.
func (w *Worker) Activate(ctx context.Context) (ActivateReport, error) {
	v, err := w.dispatcher.Dispatch(ctx, Event{Kind: EventActivate}).Result()
	report, _ := v.(ActivateReport)
	return report, err
}

// ============================================================================
// Fetch
// ============================================================================

// Fetch intercepts req and always returns a response.
func (w *Worker) Fetch(ctx context.Context, req *Request) *Response {
	return w.FetchResult(ctx, req).Response
}

// FetchResult intercepts req and returns the tagged outcome.
func (w *Worker) FetchResult(ctx context.Context, req *Request) Result {
	v, err := w.dispatcher.Dispatch(ctx, Event{Kind: EventFetch, Request: req}).Result()
	r, ok := v.(Result)
	if err != nil || !ok {
		return Result{Response: unavailableResponse(), Source: SourceSynthesized, Failure: FailureNetwork, Err: err}
	}
	return r
}

func (w *Worker) handleFetch(ctx context.Context, req *Request) Result {
	req = req.Clone()
	req.URL = w.cfg.Resolve(req.URL)
	if !w.lifecycle.Controlling() {
		return w.executor.Bypass(ctx, req)
	}
	strategy := w.router.Classify(req)
	return w.executor.Execute(ctx, strategy, req)
}

// ============================================================================
// Sync
// ============================================================================

// RegisterSync queues tag for replay, firing it now when online.
func (w *Worker) RegisterSync(tag string) {
	w.connectivity.Register(tag)
}

// SetOnline reports a connectivity change.
func (w *Worker) SetOnline(online bool) {
	w.connectivity.SetOnline(online)
}

// Sync replays tag immediately and waits for the result.
func (w *Worker) Sync(ctx context.Context, tag string) (SyncReport, error) {
	v, err := w.dispatcher.Dispatch(ctx, Event{Kind: EventSync, Tag: tag}).Result()
	report, _ := v.(SyncReport)
	return report, err
}

func (w *Worker) fireSync(ctx context.Context, tag string) error {
	_, err := w.Sync(ctx, tag)
	return err
}

// Enqueue stores an offline mutation for later replay and registers its tag.
func (w *Worker) Enqueue(ctx context.Context, action PendingAction) (PendingAction, error) {
	saved, err := EnqueueAction(ctx, w.store, action)
	if err != nil {
		return saved, err
	}
	switch saved.Kind {
	case KindCartSync:
		w.RegisterSync(TagSyncCart)
	case KindOrderSync:
		w.RegisterSync(TagSyncOrders)
	}
	return saved, nil
}

// ============================================================================
// Push and messages
// ============================================================================

// Push displays the notification for a push signal.
func (w *Worker) Push(ctx context.Context, data []byte) (*Notification, error) {
	v, err := w.dispatcher.Dispatch(ctx, Event{Kind: EventPush, Data: data}).Result()
	n, ok := v.(Notification)
	if !ok {
		return nil, err
	}
	return &n, err
}

// Click routes a notification click and returns the URL opened.
func (w *Worker) Click(ctx context.Context, click NotificationClick) (string, error) {
	v, err := w.dispatcher.Dispatch(ctx, Event{Kind: EventNotificationClick, Click: click}).Result()
	dest, _ := v.(string)
	return dest, err
}

// Message handles a control message from a foreground client.
func (w *Worker) Message(ctx context.Context, msg ControlMessage) error {
	return w.bus.Receive(ctx, msg)
}

func (w *Worker) handleMessage(ctx context.Context, msg ControlMessage) error {
	switch msg.Type {
	case MessageSkipWaiting:
		if w.lifecycle.SkipWaiting() {
			_, err := w.lifecycle.Activate(ctx)
			return err
		}
		return nil
	case MessageCacheProduct:
		return w.CacheProduct(ctx, msg.ProductURL)
	default:
		return fmt.Errorf("%q: %w", msg.Type, ErrUnknownMessage)
	}
}

// CacheProduct fetches productURL and stores it in the product partition.
func (w *Worker) CacheProduct(ctx context.Context, productURL string) error {
	req := NewRequest(http.MethodGet, w.cfg.Resolve(productURL))
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("cache product %s: %w", productURL, err)
	}
	if !resp.OK() {
		return fmt.Errorf("cache product %s: unexpected status %d", productURL, resp.Status)
	}
	if err := w.partitions.Store(ctx, PartitionProduct, req, resp); err != nil {
		return fmt.Errorf("cache product %s: %w", productURL, err)
	}
	w.log.WithFields(logrus.Fields{"component": "bus", "url": req.URL}).Debug("product cached")
	return nil
}

// ============================================================================
// Status
// ============================================================================

// Status is a snapshot of the worker for operators.
type Status struct {
	State      LifecycleState  `json:"state"`
	Online     bool            `json:"online"`
	Partitions []PartitionName `json:"partitions"`
	Pending    map[string]int  `json:"pending"`
	Registered []string        `json:"registered"`
	Clients    int             `json:"clients"`
}

// Status reports lifecycle state, partitions and queue depths.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	s := Status{
		State:      w.lifecycle.State(),
		Online:     w.connectivity.IsOnline(),
		Pending:    make(map[string]int, 2),
		Registered: w.connectivity.Registered(),
		Clients:    w.bus.Clients(),
	}
	names, err := w.partitions.Names(ctx)
	if err != nil {
		return s, err
	}
	s.Partitions = names
	for tag, key := range map[string]string{TagSyncCart: PendingCartKey, TagSyncOrders: PendingOrdersKey} {
		actions, err := LoadActions(ctx, w.store, key)
		if err != nil {
			return s, err
		}
		s.Pending[tag] = len(actions)
	}
	return s, nil
}

// ============================================================================
// HTTP interception
// ============================================================================

var hopHeaders = []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Proxy-Connection"}

// InterceptedRequest converts an inbound HTTP request into a worker request.
// The resource kind comes from Sec-Fetch-Dest, navigation from
// Sec-Fetch-Mode, falling back to an Accept header that asks for HTML.
func InterceptedRequest(r *http.Request, cfg Config) (*Request, error) {
	req := NewRequest(r.Method, cfg.Resolve(r.URL.RequestURI()))
	req.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		req.Body = body
	}

	switch Destination(r.Header.Get("Sec-Fetch-Dest")) {
	case DestinationDocument:
		req.Destination = DestinationDocument
	case DestinationStyle:
		req.Destination = DestinationStyle
	case DestinationScript:
		req.Destination = DestinationScript
	case DestinationFont:
		req.Destination = DestinationFont
	case DestinationImage:
		req.Destination = DestinationImage
	}

	switch mode := RequestMode(r.Header.Get("Sec-Fetch-Mode")); {
	case mode != "":
		req.Mode = mode
	case req.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html"):
		req.Mode = ModeNavigate
	}
	return req, nil
}

// ServeHTTP intercepts r and writes whatever the worker resolves.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	req, err := InterceptedRequest(r, w.cfg)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	res := w.FetchResult(r.Context(), req)

	h := rw.Header()
	for k, vs := range res.Response.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, hh := range hopHeaders {
		h.Del(hh)
	}
	h.Del("Content-Length")
	if res.Strategy != "" {
		h.Set("X-Storefront-Strategy", string(res.Strategy))
	}
	h.Set("X-Storefront-Source", string(res.Source))
	rw.WriteHeader(res.Response.Status)
	rw.Write(res.Response.Body)
}
