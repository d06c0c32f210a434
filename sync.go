package storefront

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Broadcaster delivers worker messages to every connected foreground client.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg BroadcastMessage) int
}

// SyncReport summarizes one replay cycle.
type SyncReport struct {
	Tag       string
	Attempted int
	Replayed  int
	Remaining int
}

// SyncQueue replays pending actions persisted while offline.
//
// The cart is replayed as one batch: the first failure stops the cycle and
// leaves the whole list in place. Orders are replayed one by one and each
// success removes only that order.
type SyncQueue struct {
	cfg         Config
	store       Store
	fetcher     Fetcher
	broadcaster Broadcaster
	log         logrus.FieldLogger
	metrics     *Metrics
}

// NewSyncQueue builds a replay queue. broadcaster, log and metrics may be nil.
func NewSyncQueue(cfg Config, store Store, fetcher Fetcher, broadcaster Broadcaster, log logrus.FieldLogger, metrics *Metrics) *SyncQueue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SyncQueue{
		cfg:         cfg.clone(),
		store:       store,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		log:         log.WithField("component", "sync"),
		metrics:     metrics,
	}
}

// Run replays the routine registered under tag.
func (q *SyncQueue) Run(ctx context.Context, tag string) (SyncReport, error) {
	switch tag {
	case TagSyncCart:
		return q.SyncCart(ctx)
	case TagSyncOrders:
		return q.SyncOrders(ctx)
	default:
		return SyncReport{Tag: tag}, fmt.Errorf("%q: %w", tag, ErrUnknownSyncTag)
	}
}

// SyncCart replays every pending cart action in enqueue order. Any failure
// aborts the cycle without touching the store; the list is cleared and
// listeners notified only once every action has been accepted.
func (q *SyncQueue) SyncCart(ctx context.Context) (SyncReport, error) {
	report := SyncReport{Tag: TagSyncCart}
	log := q.log.WithField("tag", TagSyncCart)

	actions, err := LoadActions(ctx, q.store, PendingCartKey)
	if err != nil {
		log.WithError(err).Error("cart sync aborted: store unavailable")
		return report, err
	}
	report.Remaining = len(actions)
	if len(actions) == 0 {
		q.metrics.observePending(TagSyncCart, 0)
		return report, nil
	}

	for _, action := range actions {
		report.Attempted++
		if err := q.replay(ctx, q.cfg.CartEndpoint, action); err != nil {
			q.metrics.observeReplay(TagSyncCart, false)
			q.metrics.observePending(TagSyncCart, len(actions))
			log.WithError(err).WithField("action", action.ID).Warn("cart sync aborted")
			return report, err
		}
		q.metrics.observeReplay(TagSyncCart, true)
		report.Replayed++
	}

	if err := SaveActions(ctx, q.store, PendingCartKey, nil); err != nil {
		q.metrics.observePending(TagSyncCart, len(actions))
		log.WithError(err).Error("cart replayed but pending list not cleared")
		return report, err
	}
	report.Remaining = 0
	q.metrics.observePending(TagSyncCart, 0)
	log.WithField("actions", report.Replayed).Info("cart synchronized")

	if q.broadcaster != nil {
		q.broadcaster.Broadcast(ctx, BroadcastMessage{Type: MessageCartSynced, Message: q.cfg.CartSyncedMessage})
	}
	return report, nil
}

// SyncOrders replays each pending order on its own. A failed order stays
// queued and the cycle moves on; the returned error joins every failure.
func (q *SyncQueue) SyncOrders(ctx context.Context) (SyncReport, error) {
	report := SyncReport{Tag: TagSyncOrders}
	log := q.log.WithField("tag", TagSyncOrders)

	orders, err := LoadActions(ctx, q.store, PendingOrdersKey)
	if err != nil {
		log.WithError(err).Error("order sync aborted: store unavailable")
		return report, err
	}

	var errs []error
	for _, order := range orders {
		report.Attempted++
		olog := log.WithField("order", order.ID)
		if err := q.replay(ctx, q.cfg.OrdersEndpoint, order); err != nil {
			q.metrics.observeReplay(TagSyncOrders, false)
			olog.WithError(err).Warn("order replay failed")
			errs = append(errs, err)
			continue
		}
		q.metrics.observeReplay(TagSyncOrders, true)
		if err := q.removeOrder(ctx, order); err != nil {
			olog.WithError(err).Error("order replayed but not removed")
			errs = append(errs, err)
			continue
		}
		report.Replayed++
	}

	if remaining, err := LoadActions(ctx, q.store, PendingOrdersKey); err == nil {
		report.Remaining = len(remaining)
	} else {
		report.Remaining = len(orders) - report.Replayed
	}
	q.metrics.observePending(TagSyncOrders, report.Remaining)
	if len(errs) == 0 && report.Attempted > 0 {
		log.WithField("orders", report.Replayed).Info("orders synchronized")
	}
	return report, errors.Join(errs...)
}

// removeOrder re-reads the list so orders enqueued during the cycle survive,
// and drops only the first entry identical to the replayed order. Records
// written without an ID, or sharing one, are told apart by their content.
func (q *SyncQueue) removeOrder(ctx context.Context, order PendingAction) error {
	current, err := LoadActions(ctx, q.store, PendingOrdersKey)
	if err != nil {
		return err
	}
	for i, a := range current {
		if a.ID == order.ID && a.Endpoint == order.Endpoint && bytes.Equal(a.Payload, order.Payload) {
			current = append(current[:i], current[i+1:]...)
			return SaveActions(ctx, q.store, PendingOrdersKey, current)
		}
	}
	return nil
}

// replay POSTs one action. A transport error or a non-2xx status is a failure.
func (q *SyncQueue) replay(ctx context.Context, fallbackEndpoint string, action PendingAction) error {
	endpoint := action.Endpoint
	if endpoint == "" {
		endpoint = fallbackEndpoint
	}
	req := NewRequest(http.MethodPost, q.cfg.Resolve(endpoint))
	req.Header.Set("Content-Type", "application/json")
	req.Body = append([]byte(nil), action.Payload...)

	resp, err := q.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("replay %s: %w", action.ID, err)
	}
	if !resp.OK() {
		return fmt.Errorf("replay %s: unexpected status %d", action.ID, resp.Status)
	}
	return nil
}
