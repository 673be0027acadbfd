/*
Package orm breaks the key-value state space into prefixed sections called
buckets. Each bucket stores one model type, CBOR-encoded, and validates every
model before persisting it. Sequences provide monotonic counters whose encoded
form sorts in issue order, which the append-only history buckets depend on.
*/
package orm

import (
	"fmt"
	"regexp"

	"github.com/fxamacker/cbor/v2"

	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

var isBucketName = regexp.MustCompile(`^[a-z_]{3,12}$`).MatchString

// Model is implemented by any entity that can be stored in a Bucket.
type Model interface {
	Validate() error
}

// Bucket is a prefixed subspace of the database holding a single model type.
// It is a generic building block meant to be embedded in a type-safe wrapper.
type Bucket struct {
	name   string
	prefix []byte
}

// NewBucket creates a bucket to store data under the given name prefix.
// Panics on an illegal bucket name; bucket names are static program
// constants, not runtime input.
func NewBucket(name string) Bucket {
	if !isBucketName(name) {
		panic(fmt.Sprintf("illegal bucket name: %q", name))
	}
	return Bucket{
		name:   name,
		prefix: append([]byte(name), ':'),
	}
}

// Name returns the bucket name.
func (b Bucket) Name() string {
	return b.name
}

// DBKey is the full key stored in the db, including the bucket prefix. A new
// array is allocated so consecutive calls never share backing memory.
func (b Bucket) DBKey(key []byte) []byte {
	l := len(b.prefix)
	out := make([]byte, l+len(key))
	copy(out, b.prefix)
	copy(out[l:], key)
	return out
}

// One loads a single model by its primary key into dest. Returns ErrNotFound
// when there is no value stored under the key.
func (b Bucket) One(db store.ReadOnlyKVStore, key []byte, dest Model) error {
	bz := db.Get(b.DBKey(key))
	if bz == nil {
		return errors.Wrapf(errors.ErrNotFound, "%s %q", b.name, key)
	}
	if err := cbor.Unmarshal(bz, dest); err != nil {
		return errors.Wrapf(errors.ErrType, "cannot decode %s: %s", b.name, err)
	}
	return nil
}

// Has returns true if a value is stored under the key.
func (b Bucket) Has(db store.ReadOnlyKVStore, key []byte) bool {
	return db.Has(b.DBKey(key))
}

// Put validates and persists the model under the key.
func (b Bucket) Put(db store.KVStore, key []byte, m Model) error {
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "invalid model")
	}
	bz, err := cbor.Marshal(m)
	if err != nil {
		return errors.Wrapf(errors.ErrType, "cannot encode %s: %s", b.name, err)
	}
	db.Set(b.DBKey(key), bz)
	return nil
}

// Delete removes the value stored under the key. Returns ErrNotFound if no
// value was stored.
func (b Bucket) Delete(db store.KVStore, key []byte) error {
	dbkey := b.DBKey(key)
	if !db.Has(dbkey) {
		return errors.Wrapf(errors.ErrNotFound, "%s %q", b.name, key)
	}
	db.Delete(dbkey)
	return nil
}

// Iterator returns an ascending iterator over all bucket entries that share
// the given key prefix. Pass nil to walk the whole bucket.
func (b Bucket) Iterator(db store.ReadOnlyKVStore, keyPrefix []byte) store.Iterator {
	start, end := store.PrefixRange(b.DBKey(keyPrefix))
	return db.Iterator(start, end)
}

// ReverseIterator is Iterator in descending key order.
func (b Bucket) ReverseIterator(db store.ReadOnlyKVStore, keyPrefix []byte) store.Iterator {
	start, end := store.PrefixRange(b.DBKey(keyPrefix))
	return db.ReverseIterator(start, end)
}

// Decode unmarshals a raw bucket value into dest. Use together with Iterator,
// which yields raw values.
func (b Bucket) Decode(raw []byte, dest Model) error {
	if err := cbor.Unmarshal(raw, dest); err != nil {
		return errors.Wrapf(errors.ErrType, "cannot decode %s: %s", b.name, err)
	}
	return nil
}
