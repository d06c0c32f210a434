package storefront

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Notification click actions.
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

var defaultVibrate = []int{100, 50, 100}

// DefaultNotificationActions are shown when a push payload carries none.
var DefaultNotificationActions = []NotificationAction{
	{Action: ActionExplore, Title: "Ver ofertas"},
	{Action: ActionClose, Title: "Cerrar"},
}

// Notification is what gets displayed for a push signal.
type Notification struct {
	Tag     string               `json:"tag"`
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Vibrate []int                `json:"vibrate,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
	Data    map[string]any       `json:"data"`
}

// NotificationClick is a click on a displayed notification. Action is empty
// for a click on the notification body.
type NotificationClick struct {
	Tag    string `json:"tag"`
	Action string `json:"action,omitempty"`
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Dismiss(ctx context.Context, tag string) error
}

// WindowOpener opens a foreground window at a URL.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) error
}

// PushHandler renders push signals and routes notification clicks.
type PushHandler struct {
	cfg      Config
	notifier Notifier
	opener   WindowOpener
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewPushHandler creates a handler. log may be nil.
func NewPushHandler(cfg Config, notifier Notifier, opener WindowOpener, log logrus.FieldLogger) *PushHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PushHandler{
		cfg:      cfg.clone(),
		notifier: notifier,
		opener:   opener,
		log:      log.WithField("component", "push"),
		now:      time.Now,
	}
}

// ParsePayload resolves a raw push payload. Anything malformed or missing
// falls back to the configured defaults; parsing never fails.
func (h *PushHandler) ParsePayload(data []byte) NotificationPayload {
	p := NotificationPayload{
		Title:   h.cfg.DefaultTitle,
		Body:    h.cfg.DefaultBody,
		Icon:    h.cfg.NotificationIcon,
		Badge:   h.cfg.NotificationBadge,
		Actions: append([]NotificationAction(nil), DefaultNotificationActions...),
	}
	if len(data) == 0 {
		return p
	}
	if !gjson.ValidBytes(data) {
		h.log.Debug("push payload is not JSON, using defaults")
		return p
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		h.log.Debug("push payload is not an object, using defaults")
		return p
	}

	setString(&p.Title, root.Get("title"))
	setString(&p.Body, root.Get("body"))
	setString(&p.Icon, root.Get("icon"))
	setString(&p.Badge, root.Get("badge"))

	if actions := root.Get("actions"); actions.IsArray() {
		var parsed []NotificationAction
		actions.ForEach(func(_, v gjson.Result) bool {
			id := v.Get("action")
			if id.Type != gjson.String || id.Str == "" {
				return true
			}
			label := v.Get("title").String()
			if label == "" {
				label = id.Str
			}
			parsed = append(parsed, NotificationAction{Action: id.Str, Title: label})
			return true
		})
		if len(parsed) > 0 {
			p.Actions = parsed
		}
	}
	if d := root.Get("data"); d.IsObject() {
		if m, ok := d.Value().(map[string]any); ok {
			p.Data = m
		}
	}
	return p
}

func setString(dst *string, r gjson.Result) {
	if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
		*dst = r.Str
	}
}

// HandlePush displays the notification for a push signal.
func (h *PushHandler) HandlePush(ctx context.Context, data []byte) (Notification, error) {
	p := h.ParsePayload(data)
	key := uuid.NewString()

	meta := make(map[string]any, len(p.Data)+2)
	for k, v := range p.Data {
		meta[k] = v
	}
	meta["dateOfArrival"] = h.now().UnixMilli()
	meta["primaryKey"] = key

	n := Notification{
		Tag:     key,
		Title:   p.Title,
		Body:    p.Body,
		Icon:    p.Icon,
		Badge:   p.Badge,
		Vibrate: append([]int(nil), defaultVibrate...),
		Actions: p.Actions,
		Data:    meta,
	}
	if h.notifier == nil {
		return n, nil
	}
	if err := h.notifier.Show(ctx, n); err != nil {
		h.log.WithError(err).Warn("notification not shown")
		return n, err
	}
	h.log.WithField("title", n.Title).Debug("notification shown")
	return n, nil
}

// HandleClick closes the clicked notification and opens the destination for
// its action. It returns the URL opened, or "" when nothing was.
func (h *PushHandler) HandleClick(ctx context.Context, click NotificationClick) (string, error) {
	if h.notifier != nil && click.Tag != "" {
		if err := h.notifier.Dismiss(ctx, click.Tag); err != nil {
			h.log.WithError(err).Debug("notification not dismissed")
		}
	}

	var dest string
	switch click.Action {
	case ActionClose:
		return "", nil
	case ActionExplore:
		dest = h.cfg.Resolve(h.cfg.PromoURL)
	default:
		dest = h.cfg.Resolve(h.cfg.AppRoot)
	}
	if h.opener == nil {
		return dest, nil
	}
	if err := h.opener.OpenWindow(ctx, dest); err != nil {
		return dest, err
	}
	return dest, nil
}
