package storefront

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Partition is one named cache region mapping request keys to snapshots.
// Implementations must be safe for concurrent use; Put always replaces the
// whole entry for a key.
type Partition interface {
	Name() PartitionName
	Match(ctx context.Context, key string) (*CachedResponse, error)
	Put(ctx context.Context, key string, resp *CachedResponse) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// CacheStorage manages the set of partitions. Open creates a partition when
// it does not exist yet.
type CacheStorage interface {
	Open(ctx context.Context, name PartitionName) (Partition, error)
	Has(ctx context.Context, name PartitionName) (bool, error)
	Names(ctx context.Context) ([]PartitionName, error)
	Delete(ctx context.Context, name PartitionName) (bool, error)
	Close() error
}

// checkKey enforces the GET-only rule at the partition boundary.
func checkKey(key string) error {
	if !strings.HasPrefix(key, "GET ") {
		return fmt.Errorf("put %q: %w", key, ErrUnsupportedMethod)
	}
	return nil
}

type keyedSnapshot struct {
	key  string
	resp *CachedResponse
}

// orderedKeys returns keys in capture order, oldest first.
func orderedKeys(entries []keyedSnapshot) []string {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].resp.CapturedAt, entries[j].resp.CapturedAt
		if ti.Equal(tj) {
			return entries[i].key < entries[j].key
		}
		return ti.Before(tj)
	})
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.key)
	}
	return keys
}

// ============================================================================
// Partition manager
// ============================================================================

// Partitions opens and prunes the partitions of one worker.
type Partitions struct {
	storage CacheStorage
	cfg     Config
	now     func() time.Time
}

// NewPartitions wraps storage with the recognized partition set from cfg.
func NewPartitions(storage CacheStorage, cfg Config) *Partitions {
	return &Partitions{storage: storage, cfg: cfg.clone(), now: time.Now}
}

// Open opens a partition by name.
func (p *Partitions) Open(ctx context.Context, name PartitionName) (Partition, error) {
	part, err := p.storage.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	return part, nil
}

// Lookup returns the cached response for req in the named partition.
// A miss is reported as ErrNotFound.
func (p *Partitions) Lookup(ctx context.Context, name PartitionName, req *Request) (*Response, error) {
	return p.lookupKey(ctx, name, req.Key())
}

func (p *Partitions) lookupKey(ctx context.Context, name PartitionName, key string) (*Response, error) {
	part, err := p.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	snap, err := part.Match(ctx, key)
	if err != nil {
		return nil, err
	}
	return snap.Response(), nil
}

// Store snapshots resp under req's key in the named partition.
func (p *Partitions) Store(ctx context.Context, name PartitionName, req *Request, resp *Response) error {
	part, err := p.Open(ctx, name)
	if err != nil {
		return err
	}
	return part.Put(ctx, req.Key(), Snapshot(resp, p.now()))
}

// Prune deletes every partition outside the recognized set and returns the
// names it removed. Running it again removes nothing.
func (p *Partitions) Prune(ctx context.Context) ([]PartitionName, error) {
	names, err := p.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var removed []PartitionName
	var errs []error
	for _, name := range names {
		if p.cfg.Recognized(name) {
			continue
		}
		ok, err := p.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete partition %s: %w", name, err))
			continue
		}
		if ok {
			removed = append(removed, name)
		}
	}
	return removed, errors.Join(errs...)
}

// Names lists the existing partitions.
func (p *Partitions) Names(ctx context.Context) ([]PartitionName, error) {
	return p.storage.Names(ctx)
}
