/*
Package store defines the key-value storage contracts used by the custody
core, along with an in-memory implementation.

All persisted state (vault registry, permission and lockout side tables, the
append-only histories) lives behind these interfaces. Mutating operations run
against a CacheWrap and Write only after every step succeeded, so a failed
operation never commits partial state.
*/
package store

// ReadOnlyKVStore is the read subset of KVStore. Read-only operations take
// this type so they can run concurrently without a vault lock.
type ReadOnlyKVStore interface {
	// Get returns nil iff key doesn't exist. Panics on nil key.
	Get(key []byte) []byte

	// Has checks if a key exists. Panics on nil key.
	Has(key []byte) bool

	// Iterator over a domain of keys in ascending order. End is exclusive.
	// Start must be less than end, or the Iterator is invalid.
	Iterator(start, end []byte) Iterator

	// ReverseIterator over a domain of keys in descending order. End is
	// exclusive. Start must be greater than end, or the Iterator is
	// invalid.
	ReverseIterator(start, end []byte) Iterator
}

// KVStore is a simple interface to get/set data.
type KVStore interface {
	ReadOnlyKVStore

	// Set sets the key. Panics on nil key.
	Set(key, value []byte)

	// Delete deletes the key. Panics on nil key.
	Delete(key []byte)
}

// Iterator allows us to access a set of items within a range of keys.
//
//   var itr Iterator = ...
//   defer itr.Close()
//
//   for ; itr.Valid(); itr.Next() {
//     k, v := itr.Key(), itr.Value()
//     // ...
//   }
type Iterator interface {
	// Valid returns whether the current position is valid. Once invalid,
	// an Iterator is forever invalid.
	Valid() bool

	// Next moves the iterator to the next sequential key in the database,
	// as defined by order of iteration. Panics if Valid returns false.
	Next()

	// Key returns the key of the cursor. Panics if Valid returns false.
	Key() []byte

	// Value returns the value of the cursor. Panics if Valid returns false.
	Value() []byte

	// Close releases the Iterator.
	Close()
}

// CacheableKVStore is a KVStore that supports CacheWrapping.
type CacheableKVStore interface {
	KVStore
	CacheWrap() KVCacheWrap
}

// KVCacheWrap is a scratch pad of uncommitted data visible to all queries on
// it. At the end, call Write to flush to the underlying store, or Discard to
// drop everything.
type KVCacheWrap interface {
	// CacheableKVStore allows using the cache recursively.
	CacheableKVStore

	// Write syncs with the underlying store.
	Write()

	// Discard invalidates this CacheWrap and releases all data.
	Discard()
}

// PrefixRange turns a prefix into a (start, end) range usable with Iterator
// to scan every key with that prefix. The end of a 0xff-saturated prefix is
// nil, meaning scan to the end of the keyspace.
func PrefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}

	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}
	}
	return prefix, nil
}
