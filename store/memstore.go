package store

import (
	"bytes"

	"github.com/google/btree"
)

type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemStore is a btree-backed in-memory CacheableKVStore. It keeps keys in
// byte order, which the append-only history buckets rely on for chronological
// scans. Not safe for concurrent use on its own; the Vault Manager serializes
// writers per vault.
type MemStore struct {
	tree *btree.BTreeG[item]
}

var _ CacheableKVStore = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tree: btree.NewG(2, lessItem),
	}
}

// Get returns nil iff key doesn't exist.
func (s *MemStore) Get(key []byte) []byte {
	assertValidKey(key)
	it, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil
	}
	return it.value
}

// Has checks if a key exists.
func (s *MemStore) Has(key []byte) bool {
	assertValidKey(key)
	return s.tree.Has(item{key: key})
}

// Set stores a copy of the key/value pair.
func (s *MemStore) Set(key, value []byte) {
	assertValidKey(key)
	s.tree.ReplaceOrInsert(item{key: cp(key), value: cp(value)})
}

// Delete removes the key if present.
func (s *MemStore) Delete(key []byte) {
	assertValidKey(key)
	s.tree.Delete(item{key: key})
}

// Iterator over the [start, end) domain in ascending order.
func (s *MemStore) Iterator(start, end []byte) Iterator {
	var items []item
	collect := func(it item) bool {
		items = append(items, it)
		return true
	}
	switch {
	case start == nil && end == nil:
		s.tree.Ascend(collect)
	case start == nil:
		s.tree.AscendLessThan(item{key: end}, collect)
	case end == nil:
		s.tree.AscendGreaterOrEqual(item{key: start}, collect)
	default:
		s.tree.AscendRange(item{key: start}, item{key: end}, collect)
	}
	return newSliceIterator(items)
}

// ReverseIterator over the [start, end) domain in descending order.
func (s *MemStore) ReverseIterator(start, end []byte) Iterator {
	iter := s.Iterator(start, end)
	defer iter.Close()
	var items []item
	for ; iter.Valid(); iter.Next() {
		items = append(items, item{key: iter.Key(), value: iter.Value()})
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return newSliceIterator(items)
}

// CacheWrap returns an overlay that buffers writes until Write is called.
func (s *MemStore) CacheWrap() KVCacheWrap {
	return newCacheStore(s)
}

func assertValidKey(key []byte) {
	if key == nil {
		panic("nil key is not allowed")
	}
}

func cp(bz []byte) []byte {
	if bz == nil {
		return nil
	}
	out := make([]byte, len(bz))
	copy(out, bz)
	return out
}

// sliceIterator walks a materialized snapshot of items. Materializing keeps
// the iterator valid even when the store is mutated mid-scan.
type sliceIterator struct {
	items []item
	pos   int
}

var _ Iterator = (*sliceIterator)(nil)

func newSliceIterator(items []item) *sliceIterator {
	return &sliceIterator{items: items}
}

func (i *sliceIterator) Valid() bool {
	return i.pos < len(i.items)
}

func (i *sliceIterator) Next() {
	i.assertValid()
	i.pos++
}

func (i *sliceIterator) Key() []byte {
	i.assertValid()
	return i.items[i.pos].key
}

func (i *sliceIterator) Value() []byte {
	i.assertValid()
	return i.items[i.pos].value
}

func (i *sliceIterator) Close() {
	i.items = nil
	i.pos = 0
}

func (i *sliceIterator) assertValid() {
	if !i.Valid() {
		panic("iterator is invalid")
	}
}
