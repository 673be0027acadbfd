package audit

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindBalanceChange Kind = "balance_change"
	KindAccessAttempt Kind = "access_attempt"
	KindAdminAction   Kind = "admin_action"
	KindEmergency     Kind = "emergency"
	KindRecovery      Kind = "recovery"
)

// Validate returns an error unless the kind is known.
func (k Kind) Validate() error {
	switch k {
	case KindBalanceChange, KindAccessAttempt, KindAdminAction, KindEmergency, KindRecovery:
		return nil
	default:
		return errors.Wrapf(errors.ErrInput, "unknown audit kind %q", k)
	}
}

// Entry is a single immutable audit record. Entries form a per-vault checksum
// chain: each checksum covers the entry fields and the previous entry's
// checksum, so any out-of-band edit breaks verification of everything after
// it.
type Entry struct {
	// Seq is the per-vault sequence number, starting at 1 with no gaps.
	Seq   int64           `cbor:"1,keyasint"`
	ID    string          `cbor:"2,keyasint"`
	Vault custody.VaultID `cbor:"3,keyasint"`
	Kind  Kind            `cbor:"4,keyasint"`

	// Actor is the signer (or admin) identity the entry is about.
	Actor  custody.SignerID `cbor:"5,keyasint"`
	Action string           `cbor:"6,keyasint"`

	// Granted records the outcome of access attempts. Always true for
	// non-access kinds.
	Granted bool `cbor:"7,keyasint"`

	// Amount is set on balance changes, as a decimal string delta.
	Amount string `cbor:"8,keyasint"`

	// Reference ties the entry to an external or cross-module identifier:
	// a ledger transaction, a recovery request, an emergency cycle.
	Reference   string `cbor:"9,keyasint"`
	Description string `cbor:"10,keyasint"`

	CreatedAt custody.UnixTime `cbor:"11,keyasint"`

	PrevChecksum []byte `cbor:"12,keyasint"`
	Checksum     []byte `cbor:"13,keyasint"`
}

// Validate ensures the entry is complete.
func (e *Entry) Validate() error {
	if e.Seq < 1 {
		return errors.Wrap(errors.ErrState, "sequence must be positive")
	}
	if e.ID == "" {
		return errors.Wrap(errors.ErrState, "entry id is required")
	}
	if e.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if e.Action == "" {
		return errors.Wrap(errors.ErrState, "action is required")
	}
	if err := e.CreatedAt.Validate(); err != nil {
		return errors.Wrap(err, "created at")
	}
	if len(e.Checksum) == 0 {
		return errors.Wrap(errors.ErrState, "checksum is required")
	}
	return nil
}

// computeChecksum hashes the entry fields chained with the previous checksum.
// The encoding is deterministic: fixed field order, length-prefixed strings.
func (e *Entry) computeChecksum() []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b only fails on an oversized key; nil never does.
		panic(err)
	}

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(e.Seq))
	h.Write(seq[:])

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.CreatedAt))
	h.Write(ts[:])

	granted := byte(0)
	if e.Granted {
		granted = 1
	}
	h.Write([]byte{granted})

	for _, field := range []string{
		e.ID, string(e.Vault), string(e.Kind), string(e.Actor),
		e.Action, e.Amount, e.Reference, e.Description,
	} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(field)))
		h.Write(l[:])
		h.Write([]byte(field))
	}

	h.Write(e.PrevChecksum)
	return h.Sum(nil)
}

// Policy is the per-vault audit retention policy.
type Policy struct {
	Vault              custody.VaultID `cbor:"1,keyasint"`
	RetentionDays      int             `cbor:"2,keyasint"`
	AutoCleanup        bool            `cbor:"3,keyasint"`
	CompressionEnabled bool            `cbor:"4,keyasint"`
}

// Validate ensures the retention policy is usable.
func (p *Policy) Validate() error {
	if p.Vault == "" {
		return errors.Wrap(errors.ErrConfiguration, "vault id is required")
	}
	if p.RetentionDays < 1 {
		return errors.Wrap(errors.ErrConfiguration, "retention must be at least one day")
	}
	return nil
}
