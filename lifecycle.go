package storefront

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LifecycleState is the phase of a worker instance.
type LifecycleState string

const (
	StateInstalling LifecycleState = "installing"
	StateWaiting    LifecycleState = "waiting"
	StateActivating LifecycleState = "activating"
	StateActivated  LifecycleState = "activated"
	StateRedundant  LifecycleState = "redundant"
)

var lifecycleStates = []LifecycleState{StateInstalling, StateWaiting, StateActivating, StateActivated, StateRedundant}

// allowed transitions, from → to
var transitions = map[LifecycleState][]LifecycleState{
	StateInstalling: {StateWaiting, StateRedundant},
	StateWaiting:    {StateActivating, StateRedundant},
	StateActivating: {StateActivated, StateRedundant},
	StateActivated:  {StateRedundant},
}

// Claimer takes control of already-open foreground clients.
type Claimer interface {
	Claim(ctx context.Context) int
}

// InstallReport lists which shell assets were seeded into core.
type InstallReport struct {
	Seeded []string
	Failed map[string]error
}

// ActivateReport lists pruned partitions and claimed clients.
type ActivateReport struct {
	Pruned  []PartitionName
	Claimed int
}

// Lifecycle drives installing → waiting → activating → activated, and
// redundant from any state.
type Lifecycle struct {
	cfg        Config
	partitions *Partitions
	fetcher    Fetcher
	claimer    Claimer
	log        logrus.FieldLogger
	metrics    *Metrics

	mu                 sync.Mutex
	state              LifecycleState
	promotionRequested bool
	listeners          []func(from, to LifecycleState)
}

// NewLifecycle returns a controller in the installing state.
func NewLifecycle(cfg Config, partitions *Partitions, fetcher Fetcher, claimer Claimer, log logrus.FieldLogger, metrics *Metrics) *Lifecycle {
	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Lifecycle{
		cfg:        cfg.clone(),
		partitions: partitions,
		fetcher:    fetcher,
		claimer:    claimer,
		log:        log.WithField("component", "lifecycle"),
		metrics:    metrics,
		state:      StateInstalling,
	}
	metrics.observeState(StateInstalling)
	return l
}

// State returns the current state.
func (l *Lifecycle) State() LifecycleState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Controlling reports whether request interception is active.
func (l *Lifecycle) Controlling() bool {
	return l.State() == StateActivated
}

// OnTransition registers a listener called after every state change.
func (l *Lifecycle) OnTransition(h func(from, to LifecycleState)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, h)
	l.mu.Unlock()
}

// SkipWaiting requests promotion past waiting. It reports whether the
// instance is currently waiting and can be activated now.
func (l *Lifecycle) SkipWaiting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.promotionRequested = true
	return l.state == StateWaiting
}

// PromotionRequested reports whether SkipWaiting has been called.
func (l *Lifecycle) PromotionRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.promotionRequested
}

func (l *Lifecycle) transition(to LifecycleState) error {
	l.mu.Lock()
	from := l.state
	ok := false
	for _, next := range transitions[from] {
		if next == to {
			ok = true
			break
		}
	}
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	l.state = to
	listeners := append([]func(from, to LifecycleState){}, l.listeners...)
	l.mu.Unlock()

	l.metrics.observeState(to)
	l.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("lifecycle transition")
	for _, h := range listeners {
		func() {
			defer func() { recover() }()
			h(from, to)
		}()
	}
	return nil
}

// Install opens core and seeds it with the shell assets. A failing asset is
// logged and skipped; only a core that cannot be opened fails the install,
// which makes the instance redundant.
func (l *Lifecycle) Install(ctx context.Context) (InstallReport, error) {
	if s := l.State(); s != StateInstalling {
		return InstallReport{}, fmt.Errorf("install in state %s: %w", s, ErrInvalidTransition)
	}

	report := InstallReport{Failed: make(map[string]error)}
	if _, err := l.partitions.Open(ctx, PartitionCore); err != nil {
		_ = l.transition(StateRedundant)
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, asset := range l.cfg.ShellAssets {
		g.Go(func() error {
			err := l.seed(gctx, asset)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[asset] = err
				l.log.WithError(err).WithField("asset", asset).Warn("shell asset not cached")
				return nil
			}
			report.Seeded = append(report.Seeded, asset)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(report.Seeded)

	l.mu.Lock()
	l.promotionRequested = true
	l.mu.Unlock()
	if err := l.transition(StateWaiting); err != nil {
		return report, err
	}
	return report, nil
}

func (l *Lifecycle) seed(ctx context.Context, asset string) error {
	req := NewRequest(http.MethodGet, l.cfg.Resolve(asset))
	resp, err := l.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	return l.partitions.Store(ctx, PartitionCore, req, resp)
}

// Activate prunes partitions outside the recognized set and claims open
// clients. Calling it again once activated repeats pruning and claiming and
// changes nothing else.
func (l *Lifecycle) Activate(ctx context.Context) (ActivateReport, error) {
	rerun := false
	switch s := l.State(); s {
	case StateWaiting:
		if err := l.transition(StateActivating); err != nil {
			return ActivateReport{}, err
		}
	case StateActivated:
		rerun = true
	default:
		return ActivateReport{}, fmt.Errorf("activate in state %s: %w", s, ErrInvalidTransition)
	}

	var report ActivateReport
	pruned, err := l.partitions.Prune(ctx)
	report.Pruned = pruned
	l.metrics.observePruned(len(pruned))
	for _, name := range pruned {
		l.log.WithField("partition", name).Info("obsolete partition deleted")
	}
	if err != nil {
		l.log.WithError(err).Warn("partition pruning incomplete")
	}

	if l.claimer != nil {
		report.Claimed = l.claimer.Claim(ctx)
	}
	if !rerun {
		if terr := l.transition(StateActivated); terr != nil {
			return report, terr
		}
	}
	return report, err
}

// Redundant retires the instance.
func (l *Lifecycle) Redundant() error {
	if l.State() == StateRedundant {
		return nil
	}
	return l.transition(StateRedundant)
}
