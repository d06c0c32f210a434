package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

// BusPath is where foreground clients connect to the bus.
const BusPath = "/__worker/ws"

// MessageNotificationClose asks clients to drop a displayed notification.
const MessageNotificationClose = "NOTIFICATION_CLOSE"

// ErrUnknownMessage is returned for a control message the worker does not handle.
var ErrUnknownMessage = errors.New("storefront: unknown control message")

const busWriteTimeout = 5 * time.Second

// ControlHandler processes a control message sent by a foreground client.
type ControlHandler func(ctx context.Context, msg ControlMessage) error

// ValidateControlMessage rejects unknown types and incomplete messages.
func ValidateControlMessage(msg ControlMessage) error {
	switch msg.Type {
	case MessageSkipWaiting:
		return nil
	case MessageCacheProduct:
		if msg.ProductURL == "" {
			return fmt.Errorf("%s without productUrl", msg.Type)
		}
		return nil
	default:
		return fmt.Errorf("%q: %w", msg.Type, ErrUnknownMessage)
	}
}

type busConn struct {
	id         string
	conn       *websocket.Conn
	controlled bool
}

// Bus connects the worker with its foreground clients. Clients attach over
// a websocket; in-process subscribers receive the same broadcasts.
type Bus struct {
	log            logrus.FieldLogger
	originPatterns []string

	mu          sync.RWMutex
	clients     map[string]*busConn
	subscribers map[string]func(BroadcastMessage)
	onControl   ControlHandler
}

// NewBus creates an empty bus. originPatterns restricts which foreground
// origins may connect; empty allows only same-host connections.
func NewBus(log logrus.FieldLogger, originPatterns ...string) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{
		log:            log.WithField("component", "bus"),
		originPatterns: originPatterns,
		clients:        make(map[string]*busConn),
		subscribers:    make(map[string]func(BroadcastMessage)),
	}
}

// OnControl sets the handler for inbound control messages.
func (b *Bus) OnControl(h ControlHandler) {
	b.mu.Lock()
	b.onControl = h
	b.mu.Unlock()
}

// Subscribe registers an in-process listener. The returned func removes it.
func (b *Bus) Subscribe(fn func(BroadcastMessage)) func() {
	id := uuid.NewString()
	b.mu.Lock()
	b.subscribers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Clients returns the number of connected websocket clients.
func (b *Bus) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Receive validates and handles one control message.
func (b *Bus) Receive(ctx context.Context, msg ControlMessage) error {
	if err := ValidateControlMessage(msg); err != nil {
		return err
	}
	b.mu.RLock()
	h := b.onControl
	b.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("no control handler for %s", msg.Type)
	}
	return h(ctx, msg)
}

// Broadcast sends msg to every client and subscriber and returns how many
// received it. Clients that cannot be written to are dropped.
func (b *Bus) Broadcast(ctx context.Context, msg BroadcastMessage) int {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.WithError(err).Error("broadcast not encoded")
		return 0
	}

	b.mu.RLock()
	conns := make([]*busConn, 0, len(b.clients))
	for _, c := range b.clients {
		conns = append(conns, c)
	}
	subs := make([]func(BroadcastMessage), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, busWriteTimeout)
		err := c.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			b.log.WithError(err).WithField("client", c.id).Debug("client dropped")
			b.remove(c.id)
			c.conn.Close(websocket.StatusGoingAway, "write failed")
			continue
		}
		delivered++
	}
	for _, fn := range subs {
		func() {
			defer func() { recover() }()
			fn(msg)
		}()
		delivered++
	}

	b.log.WithFields(logrus.Fields{"type": msg.Type, "delivered": delivered}).Debug("broadcast")
	return delivered
}

// Claim takes control of every connected client and tells them so. It
// returns how many clients were not controlled before.
func (b *Bus) Claim(ctx context.Context) int {
	b.mu.Lock()
	claimed := 0
	for _, c := range b.clients {
		if !c.controlled {
			c.controlled = true
			claimed++
		}
	}
	b.mu.Unlock()
	b.Broadcast(ctx, BroadcastMessage{Type: MessageClaimed})
	return claimed
}

// Show implements Notifier by forwarding the notification to clients.
func (b *Bus) Show(ctx context.Context, n Notification) error {
	b.Broadcast(ctx, BroadcastMessage{Type: MessageNotification, Notification: &n})
	return nil
}

// Dismiss implements Notifier.
func (b *Bus) Dismiss(ctx context.Context, tag string) error {
	b.Broadcast(ctx, BroadcastMessage{Type: MessageNotificationClose, Message: tag})
	return nil
}

// OpenWindow implements WindowOpener by asking clients to navigate.
func (b *Bus) OpenWindow(ctx context.Context, url string) error {
	if b.Broadcast(ctx, BroadcastMessage{Type: MessageNavigate, URL: url}) == 0 {
		b.log.WithField("url", url).Debug("no client to navigate")
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket and serves the client until
// it disconnects.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.originPatterns})
	if err != nil {
		b.log.WithError(err).Debug("websocket accept failed")
		return
	}
	c := &busConn{id: uuid.NewString(), conn: conn}
	b.mu.Lock()
	b.clients[c.id] = c
	b.mu.Unlock()
	b.log.WithField("client", c.id).Debug("client connected")

	defer func() {
		b.remove(c.id)
		conn.Close(websocket.StatusNormalClosure, "")
		b.log.WithField("client", c.id).Debug("client disconnected")
	}()
	b.readLoop(r.Context(), c)
}

func (b *Bus) readLoop(ctx context.Context, c *busConn) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.WithError(err).WithField("client", c.id).Debug("control message ignored")
			continue
		}
		if err := b.Receive(ctx, msg); err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{
				"client": c.id,
				"type":   msg.Type,
			}).Warn("control message failed")
		}
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

// Close disconnects every client.
func (b *Bus) Close() error {
	b.mu.Lock()
	conns := b.clients
	b.clients = make(map[string]*busConn)
	b.mu.Unlock()
	for _, c := range conns {
		c.conn.Close(websocket.StatusGoingAway, "worker shutting down")
	}
	return nil
}

var (
	_ Broadcaster  = (*Bus)(nil)
	_ Claimer      = (*Bus)(nil)
	_ Notifier     = (*Bus)(nil)
	_ WindowOpener = (*Bus)(nil)
)
