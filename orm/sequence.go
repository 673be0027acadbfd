package orm

import (
	"encoding/binary"

	"github.com/V1C70RYG0D/Nen-sub008/store"
)

// Sequence maintains a counter and generates a series of keys. Each key is
// greater than the last, both as NextInt() and under bytes.Compare() on
// NextVal().
type Sequence struct {
	id []byte
}

// NewSequence returns a sequence counter. The counter state is stored under
//   _s.<bucket>:<name>
func NewSequence(bucket, name string) Sequence {
	return Sequence{
		id: []byte("_s." + bucket + ":" + name),
	}
}

// NewScopedSequence returns a sequence counter scoped to one entity, for
// per-vault counters:
//   _s.<bucket>:<name>:<scope>
func NewScopedSequence(bucket, name, scope string) Sequence {
	return Sequence{
		id: []byte("_s." + bucket + ":" + name + ":" + scope),
	}
}

// NextVal increments the sequence and returns its state as 8 bytes.
func (s Sequence) NextVal(db store.KVStore) []byte {
	_, bz := s.increment(db, 1)
	return bz
}

// NextInt increments the sequence and returns its state as int64.
func (s Sequence) NextInt(db store.KVStore) int64 {
	val, _ := s.increment(db, 1)
	return val
}

// Latest returns the most recently issued value of the sequence without
// modifying its state.
func (s Sequence) Latest(db store.ReadOnlyKVStore) int64 {
	return DecodeSequence(db.Get(s.id))
}

func (s Sequence) increment(db store.KVStore, inc int64) (int64, []byte) {
	val := DecodeSequence(db.Get(s.id)) + inc
	raw := EncodeSequence(val)
	db.Set(s.id, raw)
	return val, raw
}

// DecodeSequence converts the 8 byte sequence state into an int64. A nil
// state decodes to zero.
func DecodeSequence(bz []byte) int64 {
	if bz == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(bz))
}

// EncodeSequence converts an int64 into the 8 byte sequence state.
func EncodeSequence(val int64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, uint64(val))
	return bz
}
