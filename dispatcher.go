package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventKind names an event delivered to the worker.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventMessage           EventKind = "message"
)

// ErrNoHandler is returned by a task whose event kind has no handler.
var ErrNoHandler = errors.New("storefront: no handler registered")

// Event is one unit of work for the worker. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    EventKind
	Tag     string
	Request *Request
	Data    []byte
	Click   NotificationClick
	Message ControlMessage
}

// Handler processes an event and returns its result.
type Handler func(ctx context.Context, ev Event) (any, error)

// Task is the pending completion of a dispatched event.
type Task struct {
	kind  EventKind
	done  chan struct{}
	value any
	err   error
}

func (t *Task) finish(value any, err error) {
	t.value, t.err = value, err
	close(t.done)
}

// Done is closed once the handler has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the handler returns and yields its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Result blocks until the handler returns and yields its value and error.
func (t *Task) Result() (any, error) {
	<-t.done
	return t.value, t.err
}

// Dispatcher runs every event as its own goroutine and hands back a Task the
// host can wait on.
type Dispatcher struct {
	log logrus.FieldLogger

	mu       sync.RWMutex
	handlers map[EventKind]Handler
	tasks    sync.WaitGroup
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher(log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		log:      log.WithField("component", "dispatcher"),
		handlers: make(map[EventKind]Handler),
	}
}

// Register sets the handler for kind, replacing any previous one.
func (d *Dispatcher) Register(kind EventKind, h Handler) {
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
}

// Dispatch starts ev and returns its task. A panicking handler completes the
// task with an error instead of crashing the worker.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) *Task {
	t := &Task{kind: ev.Kind, done: make(chan struct{})}

	d.mu.RLock()
	h, ok := d.handlers[ev.Kind]
	d.mu.RUnlock()
	if !ok {
		t.finish(nil, fmt.Errorf("%s: %w", ev.Kind, ErrNoHandler))
		return t
	}

	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		var (
			value any
			err   error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s handler panicked: %v", ev.Kind, r)
					d.log.WithField("event", ev.Kind).Error(err)
				}
			}()
			value, err = h(ctx, ev)
		}()
		t.finish(value, err)
	}()
	return t
}

// Wait blocks until every dispatched task has finished.
func (d *Dispatcher) Wait() {
	d.tasks.Wait()
}
