package storefront

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_errors "github.com/syndtr/goleveldb/leveldb/errors"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"
)

// key layout inside the database:
//
//	'N' name             partition marker (empty value)
//	'E' name 0x00 key    JSON encoded CachedResponse
const (
	prefixPartition byte = 'N'
	prefixEntry     byte = 'E'
)

// LevelDBCacheStorage keeps all partitions in one LevelDB database, each
// partition under its own key prefix.
type LevelDBCacheStorage struct {
	db *leveldb.DB
}

// OpenLevelDBCacheStorage opens (or creates) the database at path.
func OpenLevelDBCacheStorage(path string) (*LevelDBCacheStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if ldb_errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBCacheStorage{db: db}, nil
}

func partitionKey(name PartitionName) []byte {
	return append([]byte{prefixPartition}, name...)
}

func entryPrefix(name PartitionName) []byte {
	b := append([]byte{prefixEntry}, name...)
	return append(b, 0x00)
}

func (s *LevelDBCacheStorage) Open(ctx context.Context, name PartitionName) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsRune(string(name), 0x00) {
		return nil, fmt.Errorf("invalid partition name %q", name)
	}
	marker := partitionKey(name)
	ok, err := s.db.Has(marker, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.db.Put(marker, nil, nil); err != nil {
			return nil, err
		}
	}
	return &levelDBPartition{db: s.db, name: name, prefix: entryPrefix(name)}, nil
}

func (s *LevelDBCacheStorage) Has(ctx context.Context, name PartitionName) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.db.Has(partitionKey(name), nil)
}

func (s *LevelDBCacheStorage) Names(ctx context.Context) ([]PartitionName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := s.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixPartition}), nil)
	defer iter.Release()

	var names []PartitionName
	for iter.Next() {
		names = append(names, PartitionName(iter.Key()[1:]))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names, nil
}

func (s *LevelDBCacheStorage) Delete(ctx context.Context, name PartitionName) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	marker := partitionKey(name)
	ok, err := s.db.Has(marker, nil)
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(marker)
	iter := s.db.NewIterator(ldb_util.BytesPrefix(entryPrefix(name)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return false, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the database.
func (s *LevelDBCacheStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type levelDBPartition struct {
	db     *leveldb.DB
	name   PartitionName
	prefix []byte
}

func (p *levelDBPartition) Name() PartitionName { return p.name }

func (p *levelDBPartition) entryKey(key string) []byte {
	return append(append([]byte(nil), p.prefix...), key...)
}

func (p *levelDBPartition) Match(ctx context.Context, key string) (*CachedResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := p.db.Get(p.entryKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap CachedResponse
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s entry: %w", p.name, err)
	}
	return &snap, nil
}

func (p *levelDBPartition) Put(ctx context.Context, key string, resp *CachedResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", p.name, err)
	}
	return p.db.Put(p.entryKey(key), data, nil)
}

func (p *levelDBPartition) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Delete(p.entryKey(key), nil)
}

func (p *levelDBPartition) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	iter := p.db.NewIterator(ldb_util.BytesPrefix(p.prefix), nil)
	defer iter.Release()

	var entries []keyedSnapshot
	for iter.Next() {
		var snap CachedResponse
		if err := json.Unmarshal(iter.Value(), &snap); err != nil {
			return nil, fmt.Errorf("decode %s entry: %w", p.name, err)
		}
		entries = append(entries, keyedSnapshot{
			key:  string(iter.Key()[len(p.prefix):]),
			resp: &snap,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return orderedKeys(entries), nil
}

var _ CacheStorage = (*LevelDBCacheStorage)(nil)
