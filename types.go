package storefront

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotFound is returned by a Store when the key is absent. It is never
	// used for storage failures.
	ErrNotFound = errors.New("storefront: key not found")

	// ErrUnsupportedMethod is returned when a non-GET request is written to a
	// cache partition.
	ErrUnsupportedMethod = errors.New("storefront: only GET requests can be cached")

	// ErrInvalidTransition is returned for an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("storefront: invalid lifecycle transition")

	// ErrUnknownSyncTag is returned when a sync event carries a tag nothing replays.
	ErrUnknownSyncTag = errors.New("storefront: unknown sync tag")
)

// ============================================================================
// Requests and responses
// ============================================================================

// Destination is the resource kind a request is fetching.
type Destination string

const (
	DestinationNone     Destination = ""
	DestinationDocument Destination = "document"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
	DestinationFont     Destination = "font"
	DestinationImage    Destination = "image"
)

// RequestMode mirrors the fetch mode of an intercepted request.
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeCORS       RequestMode = "cors"
	ModeNoCORS     RequestMode = "no-cors"
)

// Request is an intercepted outgoing request.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Destination Destination
	Mode        RequestMode
}

// NewRequest builds a GET-style request with an empty header set.
func NewRequest(method, rawURL string) *Request {
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: strings.ToUpper(method), URL: rawURL, Header: http.Header{}}
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// Path returns the URL path of the request, or "/" when it cannot be parsed.
func (r *Request) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// IsNavigation reports whether the request loads a top-level document.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// Key returns the normalized cache key of the request.
func (r *Request) Key() string {
	return RequestKey(r.Method, r.URL)
}

// RequestKey normalizes method and URL into a cache key. Scheme and host are
// lower-cased and the fragment is dropped; the query is kept as sent.
func RequestKey(method, rawURL string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodGet
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return m + " " + rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return m + " " + u.String()
}

// Response is a response returned to the foreground, from any source.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy so callers can annotate without touching the source.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	return &Response{
		Status: r.Status,
		Header: h,
		Body:   append([]byte(nil), r.Body...),
	}
}

// CachedResponse is an immutable snapshot stored in a cache partition.
type CachedResponse struct {
	Status     int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
	CapturedAt time.Time   `json:"capturedAt"`
}

// Snapshot captures resp at the given instant.
func Snapshot(resp *Response, at time.Time) *CachedResponse {
	c := resp.Clone()
	return &CachedResponse{Status: c.Status, Header: c.Header, Body: c.Body, CapturedAt: at.UTC()}
}

// Response returns a fresh copy of the snapshot suitable for serving.
func (c *CachedResponse) Response() *Response {
	return (&Response{Status: c.Status, Header: c.Header, Body: c.Body}).Clone()
}

// ============================================================================
// Pending actions
// ============================================================================

// ActionKind names the replay routine a pending action belongs to.
type ActionKind string

const (
	KindCartSync  ActionKind = "cart-sync"
	KindOrderSync ActionKind = "order-sync"
)

// Persistent store keys.
const (
	PendingCartKey   = "pending-cart-actions"
	PendingOrdersKey = "pending-orders"
)

// PendingAction is a queued offline mutation.
type PendingAction struct {
	ID         string          `json:"id"`
	Kind       ActionKind      `json:"kind"`
	Endpoint   string          `json:"endpoint,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationAction is one (action-id, label) button on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationPayload is the resolved content of a push signal.
type NotificationPayload struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
	Data    map[string]any       `json:"data,omitempty"`
}

// ============================================================================
// Control messages
// ============================================================================

// Message types exchanged between the foreground and the worker.
const (
	MessageSkipWaiting  = "SKIP_WAITING"
	MessageCacheProduct = "CACHE_PRODUCT"
	MessageCartSynced   = "CART_SYNCED"
	MessageNotification = "NOTIFICATION"
	MessageNavigate     = "NAVIGATE"
	MessageClaimed      = "CLAIMED"
)

// ControlMessage is a foreground to worker message.
type ControlMessage struct {
	Type       string `json:"type"`
	ProductURL string `json:"productUrl,omitempty"`
}

// BroadcastMessage is a worker to foreground message.
type BroadcastMessage struct {
	Type         string        `json:"type"`
	Message      string        `json:"message,omitempty"`
	URL          string        `json:"url,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}
