package storefront

import (
	"context"
	"fmt"
	"sort"
	"sync"

	cache "github.com/patrickmn/go-cache"
)

// MemoryCacheStorage keeps partitions in process memory. Entries never
// expire; staleness is handled by overwrite and pruning only.
type MemoryCacheStorage struct {
	mu         sync.RWMutex
	partitions map[PartitionName]*memoryPartition
}

// NewMemoryCacheStorage creates an empty in-memory cache storage.
func NewMemoryCacheStorage() *MemoryCacheStorage {
	return &MemoryCacheStorage{partitions: make(map[PartitionName]*memoryPartition)}
}

func (s *MemoryCacheStorage) Open(_ context.Context, name PartitionName) (Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{
		name:    name,
		entries: cache.New(cache.NoExpiration, 0),
	}
	s.partitions[name] = p
	return p, nil
}

func (s *MemoryCacheStorage) Has(_ context.Context, name PartitionName) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[name]
	return ok, nil
}

func (s *MemoryCacheStorage) Names(_ context.Context) ([]PartitionName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]PartitionName, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

func (s *MemoryCacheStorage) Delete(_ context.Context, name PartitionName) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[name]
	if !ok {
		return false, nil
	}
	p.entries.Flush()
	delete(s.partitions, name)
	return true, nil
}

func (s *MemoryCacheStorage) Close() error { return nil }

type memoryPartition struct {
	name    PartitionName
	entries *cache.Cache
}

func (p *memoryPartition) Name() PartitionName { return p.name }

func (p *memoryPartition) Match(_ context.Context, key string) (*CachedResponse, error) {
	obj, found := p.entries.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	snap, ok := obj.(*CachedResponse)
	if !ok {
		return nil, fmt.Errorf("partition %s: unexpected entry type %T", p.name, obj)
	}
	return snap, nil
}

func (p *memoryPartition) Put(_ context.Context, key string, resp *CachedResponse) error {
	if err := checkKey(key); err != nil {
		return err
	}
	p.entries.Set(key, resp, cache.NoExpiration)
	return nil
}

func (p *memoryPartition) Delete(_ context.Context, key string) error {
	p.entries.Delete(key)
	return nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]string, error) {
	items := p.entries.Items()
	entries := make([]keyedSnapshot, 0, len(items))
	for k, item := range items {
		if snap, ok := item.Object.(*CachedResponse); ok {
			entries = append(entries, keyedSnapshot{key: k, resp: snap})
		}
	}
	return orderedKeys(entries), nil
}

var _ CacheStorage = (*MemoryCacheStorage)(nil)
