package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// BusClientConfig configures a foreground bus client.
type BusClientConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *BusClientConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// ConnState is the state of a bus client connection.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *BusClientConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay backs off exponentially with jitter. A connection that stayed
// up for a minute starts the sequence over.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// BusClient
// ============================================================================

// BusClient is the foreground side of the bus: it sends control messages
// and receives broadcasts, reconnecting when the worker goes away.
type BusClient struct {
	baseURL string
	config  *BusClientConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc
	recon            *reconnector

	handlersMu     sync.RWMutex
	handlers       map[string][]func(BroadcastMessage)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// NewBusClient creates a client for the worker at baseURL. config may be nil.
func NewBusClient(baseURL string, config *BusClientConfig) *BusClient {
	if config == nil {
		config = &BusClientConfig{AutoReconnect: true}
	}
	config.defaults()
	return &BusClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		config:   config,
		state:    ConnDisconnected,
		recon:    newReconnector(config),
		handlers: make(map[string][]func(BroadcastMessage)),
	}
}

// On registers a handler for a broadcast type. "*" receives every type.
func (c *BusClient) On(msgType string, h func(BroadcastMessage)) {
	c.handlersMu.Lock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
	c.handlersMu.Unlock()
}

// OnCartSynced registers a handler for the cart confirmation message.
func (c *BusClient) OnCartSynced(h func(message string)) {
	c.On(MessageCartSynced, func(m BroadcastMessage) { h(m.Message) })
}

// OnConnected registers a handler called after each successful connect.
func (c *BusClient) OnConnected(h func()) {
	c.handlersMu.Lock()
	c.onConnected = append(c.onConnected, h)
	c.handlersMu.Unlock()
}

// OnDisconnected registers a handler called when the connection drops.
func (c *BusClient) OnDisconnected(h func(reason string)) {
	c.handlersMu.Lock()
	c.onDisconnected = append(c.onDisconnected, h)
	c.handlersMu.Unlock()
}

// OnReconnecting registers a handler called before each reconnect attempt.
func (c *BusClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.handlersMu.Lock()
	c.onReconnecting = append(c.onReconnecting, h)
	c.handlersMu.Unlock()
}

// State returns the connection state.
func (c *BusClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the worker bus.
func (c *BusClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == ConnConnected || c.state == ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = ConnConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	wsURL := strings.Replace(c.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += BusPath

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: c.config.HTTPClient})
	if err != nil {
		c.mu.Lock()
		c.state = ConnDisconnected
		c.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.conn = conn
	c.state = ConnConnected
	c.cancelFn = cancel
	c.mu.Unlock()
	c.recon.markConnected()
	c.emitConnected()

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)
	return nil
}

// Disconnect closes the connection without reconnecting.
func (c *BusClient) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = ConnDisconnected
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.emitDisconnected("client disconnect")
	return nil
}

// Send writes a control message to the worker.
func (c *BusClient) Send(ctx context.Context, msg ControlMessage) error {
	if err := ValidateControlMessage(msg); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// SkipWaiting asks the worker to activate without waiting.
func (c *BusClient) SkipWaiting(ctx context.Context) error {
	return c.Send(ctx, ControlMessage{Type: MessageSkipWaiting})
}

// CacheProduct asks the worker to cache a product page.
func (c *BusClient) CacheProduct(ctx context.Context, productURL string) error {
	return c.Send(ctx, ControlMessage{Type: MessageCacheProduct, ProductURL: productURL})
}

func (c *BusClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentionalClose
			if c.conn == conn {
				c.conn = nil
				c.state = ConnDisconnected
			}
			c.mu.Unlock()
			if intentional {
				return
			}

			c.emitDisconnected(err.Error())
			if c.config.AutoReconnect && c.recon.shouldReconnect() {
				c.scheduleReconnect(ctx)
			}
			return
		}

		var msg BroadcastMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *BusClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (c *BusClient) scheduleReconnect(ctx context.Context) {
	for {
		delay := c.recon.nextDelay()
		c.mu.Lock()
		c.state = ConnReconnecting
		c.mu.Unlock()
		c.emitReconnecting(c.recon.attempt, delay)

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.state = ConnDisconnected
			c.mu.Unlock()
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.intentionalClose {
			c.mu.Unlock()
			return
		}
		c.state = ConnDisconnected
		c.mu.Unlock()

		if err := c.Connect(ctx); err == nil {
			return
		}
		if !c.recon.shouldReconnect() {
			return
		}
	}
}

func (c *BusClient) dispatch(msg BroadcastMessage) {
	c.handlersMu.RLock()
	handlers := append([]func(BroadcastMessage){}, c.handlers[msg.Type]...)
	handlers = append(handlers, c.handlers["*"]...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		go h(msg)
	}
}

func (c *BusClient) emitConnected() {
	c.handlersMu.RLock()
	handlers := append([]func(){}, c.onConnected...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (c *BusClient) emitDisconnected(reason string) {
	c.handlersMu.RLock()
	handlers := append([]func(string){}, c.onDisconnected...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (c *BusClient) emitReconnecting(attempt int, delay time.Duration) {
	c.handlersMu.RLock()
	handlers := append([]func(int, time.Duration){}, c.onReconnecting...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}
