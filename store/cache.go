package store

import (
	"bytes"
	"sort"
)

// op is a single buffered write. A nil value with delete=true marks a
// tombstone that shadows the parent's value.
type op struct {
	value  []byte
	delete bool
}

// cacheStore buffers writes on top of a parent store. Reads see buffered
// writes first and fall through to the parent. Write flushes all buffered
// operations in key order; Discard drops them.
type cacheStore struct {
	parent KVStore
	ops    map[string]op
}

var _ KVCacheWrap = (*cacheStore)(nil)

func newCacheStore(parent KVStore) *cacheStore {
	return &cacheStore{
		parent: parent,
		ops:    make(map[string]op),
	}
}

func (c *cacheStore) Get(key []byte) []byte {
	assertValidKey(key)
	if o, ok := c.ops[string(key)]; ok {
		if o.delete {
			return nil
		}
		return o.value
	}
	return c.parent.Get(key)
}

func (c *cacheStore) Has(key []byte) bool {
	assertValidKey(key)
	if o, ok := c.ops[string(key)]; ok {
		return !o.delete
	}
	return c.parent.Has(key)
}

func (c *cacheStore) Set(key, value []byte) {
	assertValidKey(key)
	c.ops[string(key)] = op{value: cp(value)}
}

func (c *cacheStore) Delete(key []byte) {
	assertValidKey(key)
	c.ops[string(key)] = op{delete: true}
}

func (c *cacheStore) Iterator(start, end []byte) Iterator {
	return newSliceIterator(c.merged(start, end))
}

func (c *cacheStore) ReverseIterator(start, end []byte) Iterator {
	items := c.merged(start, end)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return newSliceIterator(items)
}

// merged materializes the [start, end) range with buffered writes applied on
// top of the parent view.
func (c *cacheStore) merged(start, end []byte) []item {
	view := make(map[string][]byte)

	iter := c.parent.Iterator(start, end)
	for ; iter.Valid(); iter.Next() {
		view[string(iter.Key())] = iter.Value()
	}
	iter.Close()

	for key, o := range c.ops {
		bz := []byte(key)
		if start != nil && bytes.Compare(bz, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(bz, end) >= 0 {
			continue
		}
		if o.delete {
			delete(view, key)
		} else {
			view[key] = o.value
		}
	}

	items := make([]item, 0, len(view))
	for key, value := range view {
		items = append(items, item{key: []byte(key), value: value})
	}
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].key, items[j].key) < 0
	})
	return items
}

// CacheWrap allows stacking scratch pads recursively.
func (c *cacheStore) CacheWrap() KVCacheWrap {
	return newCacheStore(c)
}

// Write flushes buffered operations to the parent in key order, so that
// repeated runs produce identical parent state.
func (c *cacheStore) Write() {
	keys := make([]string, 0, len(c.ops))
	for key := range c.ops {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		o := c.ops[key]
		if o.delete {
			c.parent.Delete([]byte(key))
		} else {
			c.parent.Set([]byte(key), o.value)
		}
	}
	c.Discard()
}

// Discard drops all buffered operations.
func (c *cacheStore) Discard() {
	c.ops = make(map[string]op)
}
