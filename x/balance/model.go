package balance

import (
	"encoding/binary"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// HistoryEntry is one immutable balance change. Entries are append-only and
// ordered by sequence; the running balance is the prefix sum of the deltas.
type HistoryEntry struct {
	Seq   int64           `cbor:"1,keyasint"`
	Vault custody.VaultID `cbor:"2,keyasint"`

	// Amount is the signed delta as a decimal string.
	Amount string                  `cbor:"3,keyasint"`
	Type   custody.TransactionType `cbor:"4,keyasint"`

	// TxRef is the ledger transaction behind this change, when one exists.
	// Reconciliation adjustments have none.
	TxRef       custody.TxRef    `cbor:"5,keyasint"`
	Description string           `cbor:"6,keyasint"`
	CreatedAt   custody.UnixTime `cbor:"7,keyasint"`
}

// Validate ensures the entry is complete and the amount parses.
func (e *HistoryEntry) Validate() error {
	if e.Seq < 1 {
		return errors.Wrap(errors.ErrState, "sequence must be positive")
	}
	if e.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if _, err := custody.ParseAmount(e.Amount); err != nil {
		return errors.Wrap(err, "amount")
	}
	return nil
}

// Anomaly records a cached-vs-ledger discrepancy beyond the reconciliation
// epsilon. A mismatch may indicate an unauthorized transfer, so anomalies are
// surfaced in vault details rather than silently corrected away.
type Anomaly struct {
	Seq   int64           `cbor:"1,keyasint"`
	Vault custody.VaultID `cbor:"2,keyasint"`

	Cached   string `cbor:"3,keyasint"`
	OnLedger string `cbor:"4,keyasint"`
	Delta    string `cbor:"5,keyasint"`

	DetectedAt custody.UnixTime `cbor:"6,keyasint"`
}

// Validate ensures the anomaly is complete.
func (a *Anomaly) Validate() error {
	if a.Seq < 1 {
		return errors.Wrap(errors.ErrState, "sequence must be positive")
	}
	if a.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	return nil
}

func entryKey(vaultID custody.VaultID, seq int64) []byte {
	prefix := vaultPrefix(vaultID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(seq))
	return key
}

func vaultPrefix(vaultID custody.VaultID) []byte {
	return append([]byte(vaultID), 0)
}
