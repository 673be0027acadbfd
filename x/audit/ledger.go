/*
Package audit implements the append-only, checksum-verified audit ledger.

Every balance change and every access attempt, granted or denied, produces
exactly one entry. Entries are chained per vault with blake2b checksums;
VerifyIntegrity recomputes the chain and reports every inconsistency it finds
instead of stopping at the first one. Verification detects out-of-band edits
after the fact, it does not prevent them.
*/
package audit

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/orm"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

const bucketName = "audit"

// keySep separates the vault ID from the sequence in entry keys. Vault IDs
// are UUID strings and never contain a zero byte.
const keySep = byte(0)

// Ledger is the audit ledger. It is a leaf component: everything else writes
// through it, it depends on nothing but storage.
type Ledger struct {
	bucket   orm.Bucket
	policies orm.Bucket
	logger   *slog.Logger
	now      func() time.Time

	defaultPolicy Policy
}

// LedgerOptions configures a Ledger.
type LedgerOptions struct {
	Logger *slog.Logger
	// Now is the clock used for entry timestamps. Defaults to time.Now.
	Now func() time.Time
	// DefaultRetentionDays, DefaultAutoCleanup and DefaultCompression fill
	// the retention policy of vaults that never set one explicitly.
	DefaultRetentionDays int
	DefaultAutoCleanup   bool
	DefaultCompression   bool
}

// NewLedger returns an audit ledger.
func NewLedger(opts LedgerOptions) *Ledger {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultRetentionDays == 0 {
		opts.DefaultRetentionDays = 365
	}
	return &Ledger{
		bucket:   orm.NewBucket("audit"),
		policies: orm.NewBucket("auditpolicy"),
		logger:   opts.Logger,
		now:      opts.Now,
		defaultPolicy: Policy{
			RetentionDays:      opts.DefaultRetentionDays,
			AutoCleanup:        opts.DefaultAutoCleanup,
			CompressionEnabled: opts.DefaultCompression,
		},
	}
}

// Record is the input for appending a single audit entry.
type Record struct {
	Vault       custody.VaultID
	Kind        Kind
	Actor       custody.SignerID
	Action      string
	Granted     bool
	Amount      string
	Reference   string
	Description string
}

// Append writes one entry to the vault's chain and returns it. The entry is
// part of the same store write-set as the operation it documents: the caller
// commits both or neither.
func (l *Ledger) Append(db store.KVStore, rec Record) (*Entry, error) {
	if rec.Vault == "" {
		return nil, errors.Wrap(errors.ErrInput, "vault id is required")
	}
	if err := rec.Kind.Validate(); err != nil {
		return nil, err
	}

	seq := orm.NewScopedSequence(bucketName, "seq", string(rec.Vault)).NextInt(db)

	entry := &Entry{
		Seq:          seq,
		ID:           uuid.New().String(),
		Vault:        rec.Vault,
		Kind:         rec.Kind,
		Actor:        rec.Actor,
		Action:       rec.Action,
		Granted:      rec.Granted,
		Amount:       rec.Amount,
		Reference:    rec.Reference,
		Description:  rec.Description,
		CreatedAt:    custody.AsUnixTime(l.now()),
		PrevChecksum: db.Get(headKey(rec.Vault)),
	}
	entry.Checksum = entry.computeChecksum()

	if err := l.bucket.Put(db, entryKey(rec.Vault, seq), entry); err != nil {
		return nil, errors.Wrap(err, "cannot persist audit entry")
	}
	db.Set(headKey(rec.Vault), entry.Checksum)

	if rec.Reference != "" {
		// The index value is the full store key so Trail can db.Get it.
		db.Set(refKey(rec.Reference, rec.Vault, seq), l.bucket.DBKey(entryKey(rec.Vault, seq)))
	}
	return entry, nil
}

// Filters narrows a Search. Zero values match everything.
type Filters struct {
	Actor  custody.SignerID
	Action string
	Kind   Kind
	Since  custody.UnixTime
	Until  custody.UnixTime
	// Limit bounds the result size; zero means unbounded. Callers should
	// assume pagination is advisable for long-lived vaults.
	Limit int
}

// Search returns matching entries for a vault, newest first.
func (l *Ledger) Search(db store.ReadOnlyKVStore, vaultID custody.VaultID, f Filters) ([]*Entry, error) {
	iter := l.bucket.ReverseIterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var out []*Entry
	for ; iter.Valid(); iter.Next() {
		var entry Entry
		if err := l.bucket.Decode(iter.Value(), &entry); err != nil {
			return nil, err
		}
		if !f.matches(&entry) {
			continue
		}
		e := entry
		out = append(out, &e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (f Filters) matches(e *Entry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Since != 0 && e.CreatedAt < f.Since {
		return false
	}
	if f.Until != 0 && e.CreatedAt > f.Until {
		return false
	}
	return true
}

// Trail returns every entry that references the given identifier, oldest
// first, across all vaults. Use it to follow a ledger transaction or a
// recovery request through the log.
func (l *Ledger) Trail(db store.ReadOnlyKVStore, reference string) ([]*Entry, error) {
	if reference == "" {
		return nil, errors.Wrap(errors.ErrInput, "reference is required")
	}
	start, end := store.PrefixRange(refPrefix(reference))
	iter := db.Iterator(start, end)
	defer iter.Close()

	var out []*Entry
	for ; iter.Valid(); iter.Next() {
		var entry Entry
		raw := db.Get(iter.Value())
		if raw == nil {
			// Index without an entry: the entry was cleaned up.
			continue
		}
		if err := l.bucket.Decode(raw, &entry); err != nil {
			return nil, err
		}
		e := entry
		out = append(out, &e)
	}
	return out, nil
}

// IntegrityReport is the result of a VerifyIntegrity run.
type IntegrityReport struct {
	Vault           custody.VaultID
	IsValid         bool
	Entries         int
	Inconsistencies []string
	VerifiedAt      custody.UnixTime
}

// VerifyIntegrity recomputes the vault's checksum chain and compares it with
// the stored checksums and the stored head. Every detected inconsistency is
// listed; tampering is surfaced, never auto-corrected.
func (l *Ledger) VerifyIntegrity(db store.ReadOnlyKVStore, vaultID custody.VaultID) (*IntegrityReport, error) {
	report := &IntegrityReport{
		Vault:      vaultID,
		VerifiedAt: custody.AsUnixTime(l.now()),
	}

	prev, nextSeq := l.anchor(db, vaultID)

	iter := l.bucket.Iterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var last *Entry
	for ; iter.Valid(); iter.Next() {
		var entry Entry
		if err := l.bucket.Decode(iter.Value(), &entry); err != nil {
			return nil, err
		}
		report.Entries++

		if entry.Seq != nextSeq {
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("sequence gap: want %d, found %d", nextSeq, entry.Seq))
			nextSeq = entry.Seq
		}
		if !bytesEqual(entry.PrevChecksum, prev) {
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("entry %d: broken chain link", entry.Seq))
		}
		if want := entry.computeChecksum(); !bytesEqual(entry.Checksum, want) {
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("entry %d: checksum mismatch", entry.Seq))
		}

		prev = entry.Checksum
		nextSeq++
		e := entry
		last = &e
	}

	if head := db.Get(headKey(vaultID)); last != nil && !bytesEqual(head, last.Checksum) {
		report.Inconsistencies = append(report.Inconsistencies,
			"stored head checksum does not match the last entry")
	}

	report.IsValid = len(report.Inconsistencies) == 0
	if !report.IsValid {
		l.logger.Warn("audit integrity violation detected",
			"vault", string(vaultID),
			"inconsistencies", len(report.Inconsistencies),
		)
	}
	return report, nil
}

// anchor returns the chain anchor: the checksum preceding the first retained
// entry and the sequence number that entry must carry. Without a cleanup
// anchor the chain starts empty at sequence 1.
func (l *Ledger) anchor(db store.ReadOnlyKVStore, vaultID custody.VaultID) ([]byte, int64) {
	raw := db.Get(anchorKey(vaultID))
	if len(raw) < 8 {
		return nil, 1
	}
	seq := int64(binary.BigEndian.Uint64(raw[:8]))
	checksum := raw[8:]
	return checksum, seq + 1
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func entryKey(vaultID custody.VaultID, seq int64) []byte {
	prefix := vaultPrefix(vaultID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(seq))
	return key
}

func vaultPrefix(vaultID custody.VaultID) []byte {
	return append([]byte(vaultID), keySep)
}

func headKey(vaultID custody.VaultID) []byte {
	return []byte("_audit.head:" + string(vaultID))
}

func anchorKey(vaultID custody.VaultID) []byte {
	return []byte("_audit.anchor:" + string(vaultID))
}

func lastExportKey(vaultID custody.VaultID) []byte {
	return []byte("_audit.export:" + string(vaultID))
}

func refPrefix(reference string) []byte {
	return append([]byte("_audit.ref:"+reference), keySep)
}

func refKey(reference string, vaultID custody.VaultID, seq int64) []byte {
	prefix := refPrefix(reference)
	key := make([]byte, 0, len(prefix)+len(vaultID)+1+8)
	key = append(key, prefix...)
	key = append(key, []byte(vaultID)...)
	key = append(key, keySep)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], uint64(seq))
	return append(key, s[:]...)
}
