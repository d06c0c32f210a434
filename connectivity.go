package storefront

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncFunc replays the work registered under a tag. A nil error means the
// tag is done and can be unregistered.
type SyncFunc func(ctx context.Context, tag string) error

// Connectivity tracks the online flag and the registered sync tags. Going
// online fires every registered tag; while online, tags that are still
// registered are retried every interval.
type Connectivity struct {
	fire     SyncFunc
	interval time.Duration
	log      logrus.FieldLogger

	mu       sync.Mutex
	online   bool
	tags     map[string]bool
	inflight map[string]bool
	rerun    map[string]bool
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// NewConnectivity creates a tracker that starts online.
func NewConnectivity(fire SyncFunc, interval time.Duration, log logrus.FieldLogger) *Connectivity {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Connectivity{
		fire:     fire,
		interval: interval,
		log:      log.WithField("component", "connectivity"),
		online:   true,
		tags:     make(map[string]bool),
		inflight: make(map[string]bool),
		rerun:    make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the retry loop until Stop.
func (c *Connectivity) Start() {
	c.wg.Add(1)
	go c.flushLoop()
}

// Stop ends the retry loop and waits for flushes it started.
func (c *Connectivity) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// IsOnline returns the current network state.
func (c *Connectivity) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline updates the network state. Coming back online flushes every
// registered tag in the background.
func (c *Connectivity) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	stopped := c.stopped
	c.mu.Unlock()

	if !online {
		c.log.Info("network offline")
		return
	}
	c.log.Info("network online")
	if stopped {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Flush(context.Background())
	}()
}

// Register records tag so it fires on the next flush. When online it is
// fired right away in the background. Registering a tag whose sync is
// already running makes that run go around once more before the tag can
// be unregistered.
func (c *Connectivity) Register(tag string) {
	c.mu.Lock()
	c.tags[tag] = true
	if c.inflight[tag] {
		c.rerun[tag] = true
	}
	fireNow := c.online && !c.stopped
	c.mu.Unlock()

	c.log.WithField("tag", tag).Debug("sync registered")
	if !fireNow {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.FireTag(context.Background(), tag)
	}()
}

// Registered returns the tags still waiting for a successful replay.
func (c *Connectivity) Registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tags))
	for tag := range c.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (c *Connectivity) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			_ = c.Flush(context.Background())
		}
	}
}

// Flush fires every registered tag while online and returns the joined
// failures.
func (c *Connectivity) Flush(ctx context.Context) error {
	if !c.IsOnline() {
		return nil
	}
	tags := c.Registered()
	errs := make([]error, len(tags))
	var wg sync.WaitGroup
	for i, tag := range tags {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			errs[i] = c.FireTag(ctx, tag)
		}(i, tag)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// FireTag runs the sync for one tag unless a run for it is already in
// flight. Success, or a tag nothing can replay, unregisters it, unless the
// tag was registered again while the run was going, in which case it runs
// again while online and otherwise stays registered.
func (c *Connectivity) FireTag(ctx context.Context, tag string) error {
	c.mu.Lock()
	if c.inflight[tag] {
		c.mu.Unlock()
		return nil
	}
	c.inflight[tag] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, tag)
		delete(c.rerun, tag)
		c.mu.Unlock()
	}()

	log := c.log.WithField("tag", tag)
	for {
		err := c.fire(ctx, tag)

		c.mu.Lock()
		again := c.rerun[tag]
		delete(c.rerun, tag)
		switch {
		case errors.Is(err, ErrUnknownSyncTag):
			delete(c.tags, tag)
			again = false
		case err == nil && !again:
			delete(c.tags, tag)
		}
		again = again && err == nil && c.online && !c.stopped
		c.mu.Unlock()

		switch {
		case errors.Is(err, ErrUnknownSyncTag):
			log.WithError(err).Warn("sync tag dropped")
		case err != nil:
			log.WithError(err).Warn("sync failed, will retry")
		default:
			log.Debug("sync completed")
		}
		if !again || ctx.Err() != nil {
			return err
		}
		log.Debug("sync registered during run, firing again")
	}
}
