package storefront

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShell records what would be shown and opened in the foreground.
type fakeShell struct {
	mu        sync.Mutex
	shown     []Notification
	dismissed []string
	opened    []string
	showErr   error
}

func (s *fakeShell) Show(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.showErr != nil {
		return s.showErr
	}
	s.shown = append(s.shown, n)
	return nil
}

func (s *fakeShell) Dismiss(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed = append(s.dismissed, tag)
	return nil
}

func (s *fakeShell) OpenWindow(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, url)
	return nil
}

func newTestPushHandler(t *testing.T, shell *fakeShell) *PushHandler {
	t.Helper()
	h := NewPushHandler(testConfig(t), shell, shell, testLogger())
	h.now = func() time.Time { return time.UnixMilli(1767225600000) }
	return h
}

func TestParsePayload(t *testing.T) {
	h := newTestPushHandler(t, nil)

	defaults := func(t *testing.T, p NotificationPayload) {
		t.Helper()
		assert.Equal(t, "Mi Tienda", p.Title)
		assert.Equal(t, "Tienes una nueva notificación", p.Body)
		assert.Equal(t, "/icons/icon-192x192.png", p.Icon)
		assert.Equal(t, "/icons/badge-72x72.png", p.Badge)
		assert.Equal(t, DefaultNotificationActions, p.Actions)
	}

	t.Run("empty", func(t *testing.T) { defaults(t, h.ParsePayload(nil)) })
	t.Run("malformed", func(t *testing.T) { defaults(t, h.ParsePayload([]byte(`{"title":`))) })
	t.Run("plain text", func(t *testing.T) { defaults(t, h.ParsePayload([]byte("hola"))) })
	t.Run("array", func(t *testing.T) { defaults(t, h.ParsePayload([]byte(`["Oferta"]`))) })
	t.Run("wrong field types", func(t *testing.T) {
		defaults(t, h.ParsePayload([]byte(`{"title":7,"body":null,"icon":"","actions":"x"}`)))
	})

	t.Run("title only", func(t *testing.T) {
		p := h.ParsePayload([]byte(`{"title":"Oferta"}`))
		assert.Equal(t, "Oferta", p.Title)
		assert.Equal(t, "Tienes una nueva notificación", p.Body)
		assert.Equal(t, DefaultNotificationActions, p.Actions)
	})

	t.Run("actions and data", func(t *testing.T) {
		p := h.ParsePayload([]byte(`{
			"body": "Nuevos productos",
			"actions": [{"action":"explore","title":"Ver"}, {"title":"no id"}, {"action":"later"}],
			"data": {"sku":"p-1","qty":2}
		}`))
		assert.Equal(t, "Nuevos productos", p.Body)
		assert.Equal(t, []NotificationAction{{Action: "explore", Title: "Ver"}, {Action: "later", Title: "later"}}, p.Actions)
		assert.Equal(t, "p-1", p.Data["sku"])
		assert.EqualValues(t, 2, p.Data["qty"])
	})

	t.Run("defaults are not shared", func(t *testing.T) {
		p := h.ParsePayload(nil)
		p.Actions[0].Title = "changed"
		assert.Equal(t, "Ver ofertas", DefaultNotificationActions[0].Title)
	})
}

func TestHandlePush(t *testing.T) {
	ctx := context.Background()

	t.Run("title only payload", func(t *testing.T) {
		shell := &fakeShell{}
		h := newTestPushHandler(t, shell)

		n, err := h.HandlePush(ctx, []byte(`{"title":"Oferta"}`))
		require.NoError(t, err)
		require.Len(t, shell.shown, 1)
		assert.Equal(t, n, shell.shown[0])

		assert.Equal(t, "Oferta", n.Title)
		assert.Equal(t, "Tienes una nueva notificación", n.Body)
		assert.Equal(t, []int{100, 50, 100}, n.Vibrate)
		assert.Equal(t, DefaultNotificationActions, n.Actions)
		assert.EqualValues(t, 1767225600000, n.Data["dateOfArrival"])

		key, ok := n.Data["primaryKey"].(string)
		require.True(t, ok)
		_, err = uuid.Parse(key)
		assert.NoError(t, err)
		assert.Equal(t, key, n.Tag)
	})

	t.Run("payload data is kept beside metadata", func(t *testing.T) {
		h := newTestPushHandler(t, &fakeShell{})
		n, err := h.HandlePush(ctx, []byte(`{"data":{"sku":"p-9","primaryKey":"spoofed"}}`))
		require.NoError(t, err)
		assert.Equal(t, "p-9", n.Data["sku"])
		assert.Equal(t, n.Tag, n.Data["primaryKey"])
	})

	t.Run("each push gets its own key", func(t *testing.T) {
		h := newTestPushHandler(t, &fakeShell{})
		a, _ := h.HandlePush(ctx, nil)
		b, _ := h.HandlePush(ctx, nil)
		assert.NotEqual(t, a.Tag, b.Tag)
	})

	t.Run("show failure is returned", func(t *testing.T) {
		boom := errors.New("no clients")
		h := newTestPushHandler(t, &fakeShell{showErr: boom})
		_, err := h.HandlePush(ctx, nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestHandleClick(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		action string
		want   string
	}{
		{"explore", ActionExplore, "https://shop.test/products?featured=true"},
		{"body", "", "https://shop.test/"},
		{"unknown action", "later", "https://shop.test/"},
		{"close", ActionClose, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shell := &fakeShell{}
			h := newTestPushHandler(t, shell)

			got, err := h.HandleClick(ctx, NotificationClick{Tag: "n-1", Action: tt.action})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"n-1"}, shell.dismissed)
			if tt.want == "" {
				assert.Empty(t, shell.opened)
			} else {
				assert.Equal(t, []string{tt.want}, shell.opened)
			}
		})
	}
}
