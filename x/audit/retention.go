package audit

import (
	"encoding/binary"
	"time"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

// SetPolicy stores a vault-specific retention policy.
func (l *Ledger) SetPolicy(db store.KVStore, p Policy) error {
	return l.policies.Put(db, []byte(p.Vault), &p)
}

// RetentionPolicy returns the vault's retention policy, falling back to the
// configured defaults when none was set.
func (l *Ledger) RetentionPolicy(db store.ReadOnlyKVStore, vaultID custody.VaultID) (*Policy, error) {
	var p Policy
	switch err := l.policies.One(db, []byte(vaultID), &p); {
	case err == nil:
		return &p, nil
	case errors.ErrNotFound.Is(err):
		p = l.defaultPolicy
		p.Vault = vaultID
		return &p, nil
	default:
		return nil, err
	}
}

// Cleanup removes entries older than the retention period. It refuses to run
// unless the vault's history was exported after the newest entry eligible for
// removal, and unless the chain verifies clean, so data is never destroyed
// that was neither preserved nor checked.
//
// Removed entries are replaced by a chain anchor so VerifyIntegrity keeps
// working on the remaining suffix. Returns the number of removed entries.
func (l *Ledger) Cleanup(db store.KVStore, vaultID custody.VaultID) (int, error) {
	policy, err := l.RetentionPolicy(db, vaultID)
	if err != nil {
		return 0, err
	}

	cutoff := custody.AsUnixTime(l.now().Add(-time.Duration(policy.RetentionDays) * 24 * time.Hour))

	exported := l.lastExport(db, vaultID)
	if exported == 0 {
		return 0, errors.Wrap(errors.ErrState, "no successful export on record")
	}
	if exported < cutoff {
		return 0, errors.Wrap(errors.ErrState, "last export predates the retention cutoff")
	}

	report, err := l.VerifyIntegrity(db, vaultID)
	if err != nil {
		return 0, err
	}
	if !report.IsValid {
		return 0, errors.Wrapf(errors.ErrAuditIntegrity,
			"refusing cleanup: %d inconsistencies", len(report.Inconsistencies))
	}

	iter := l.bucket.Iterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var (
		removed    int
		anchorSeq  int64
		anchorHash []byte
	)
	for ; iter.Valid(); iter.Next() {
		var entry Entry
		if err := l.bucket.Decode(iter.Value(), &entry); err != nil {
			return removed, err
		}
		if entry.CreatedAt >= cutoff {
			break
		}
		db.Delete(l.bucket.DBKey(entryKey(vaultID, entry.Seq)))
		if entry.Reference != "" {
			db.Delete(refKey(entry.Reference, vaultID, entry.Seq))
		}
		anchorSeq = entry.Seq
		anchorHash = entry.Checksum
		removed++
	}

	if removed > 0 {
		anchor := make([]byte, 8+len(anchorHash))
		binary.BigEndian.PutUint64(anchor[:8], uint64(anchorSeq))
		copy(anchor[8:], anchorHash)
		db.Set(anchorKey(vaultID), anchor)

		l.logger.Info("audit entries cleaned up",
			"vault", string(vaultID),
			"removed", removed,
			"anchor_seq", anchorSeq,
		)
	}
	return removed, nil
}
