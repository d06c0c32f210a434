package storefront

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("result is delivered", func(t *testing.T) {
		d := NewDispatcher(testLogger())
		d.Register(EventSync, func(_ context.Context, ev Event) (any, error) {
			return "replayed " + ev.Tag, nil
		})

		v, err := d.Dispatch(ctx, Event{Kind: EventSync, Tag: TagSyncCart}).Result()
		require.NoError(t, err)
		assert.Equal(t, "replayed sync-cart", v)
	})

	t.Run("dispatch does not block on the handler", func(t *testing.T) {
		d := NewDispatcher(testLogger())
		release := make(chan struct{})
		d.Register(EventPush, func(context.Context, Event) (any, error) {
			<-release
			return nil, nil
		})

		task := d.Dispatch(ctx, Event{Kind: EventPush})
		select {
		case <-task.Done():
			t.Fatal("task finished before the handler returned")
		default:
		}
		close(release)
		require.NoError(t, task.Wait())
	})

	t.Run("missing handler", func(t *testing.T) {
		d := NewDispatcher(testLogger())
		err := d.Dispatch(ctx, Event{Kind: EventMessage}).Wait()
		assert.ErrorIs(t, err, ErrNoHandler)
	})

	t.Run("handler error", func(t *testing.T) {
		d := NewDispatcher(testLogger())
		boom := errors.New("boom")
		d.Register(EventFetch, func(context.Context, Event) (any, error) { return nil, boom })
		assert.ErrorIs(t, d.Dispatch(ctx, Event{Kind: EventFetch}).Wait(), boom)
	})

	t.Run("panic is contained", func(t *testing.T) {
		d := NewDispatcher(testLogger())
		d.Register(EventActivate, func(context.Context, Event) (any, error) { panic("bad handler") })

		err := d.Dispatch(ctx, Event{Kind: EventActivate}).Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad handler")
	})

	t.Run("wait drains every task", func(t *testing.T) {
		d := NewDispatcher(testLogger())
		var n atomic.Int32
		d.Register(EventSync, func(context.Context, Event) (any, error) {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
			return nil, nil
		})
		for i := 0; i < 10; i++ {
			d.Dispatch(ctx, Event{Kind: EventSync})
		}
		d.Wait()
		assert.EqualValues(t, 10, n.Load())
	})
}
