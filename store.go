package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the durable key/value store holding queued offline mutations.
// Get returns ErrNotFound for an absent key; any other error is a storage
// failure.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// LoadActions reads the pending-action list under key. An absent key is an
// empty list, not an error.
func LoadActions(ctx context.Context, store Store, key string) ([]PendingAction, error) {
	data, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var actions []PendingAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return actions, nil
}

// SaveActions replaces the pending-action list under key. An empty list
// deletes the key.
func SaveActions(ctx context.Context, store Store, key string, actions []PendingAction) error {
	if len(actions) == 0 {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
		return nil
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// EnqueueAction appends action to the list matching its kind, assigning an
// ID and timestamp when missing. It is what foreground code calls while
// offline. The append is a plain read-modify-write: a replay draining the
// same list concurrently may or may not see it.
func EnqueueAction(ctx context.Context, store Store, action PendingAction) (PendingAction, error) {
	key, err := keyForKind(action.Kind)
	if err != nil {
		return PendingAction{}, err
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.EnqueuedAt.IsZero() {
		action.EnqueuedAt = time.Now().UTC()
	}
	actions, err := LoadActions(ctx, store, key)
	if err != nil {
		return PendingAction{}, err
	}
	actions = append(actions, action)
	if err := SaveActions(ctx, store, key, actions); err != nil {
		return PendingAction{}, err
	}
	return action, nil
}

func keyForKind(kind ActionKind) (string, error) {
	switch kind {
	case KindCartSync:
		return PendingCartKey, nil
	case KindOrderSync:
		return PendingOrdersKey, nil
	default:
		return "", fmt.Errorf("unknown action kind %q", kind)
	}
}
