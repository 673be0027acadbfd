/*
Package emergency implements the per-vault circuit breaker.

Emergency mode is independent of normal access control: even signers with
full permissions cannot move funds while it is active, and only a fresh
quorum, possibly at a deliberately different threshold than normal
operations, can lift it. A vault has at most one open emergency cycle at a
time.
*/
package emergency

import (
	"encoding/binary"
	"log/slog"
	"strings"
	"time"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/orm"
	"github.com/V1C70RYG0D/Nen-sub008/store"
	"github.com/V1C70RYG0D/Nen-sub008/x/access"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
)

const bucketName = "emerg"

// HistoryEntry documents one emergency activation cycle. An entry with a zero
// DeactivatedAt is open; the vault's emergency flag must match the latest
// unterminated entry.
type HistoryEntry struct {
	Seq   int64           `cbor:"1,keyasint"`
	Vault custody.VaultID `cbor:"2,keyasint"`

	Reason      string             `cbor:"3,keyasint"`
	ActivatedAt custody.UnixTime   `cbor:"4,keyasint"`
	ActivatedBy []custody.SignerID `cbor:"5,keyasint"`

	DeactivatedAt      custody.UnixTime   `cbor:"6,keyasint"`
	DeactivatedBy      []custody.SignerID `cbor:"7,keyasint"`
	DeactivationReason string             `cbor:"8,keyasint"`
}

// Validate ensures the cycle entry is complete.
func (e *HistoryEntry) Validate() error {
	if e.Seq < 1 {
		return errors.Wrap(errors.ErrState, "sequence must be positive")
	}
	if e.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	if e.Reason == "" {
		return errors.Wrap(errors.ErrState, "activation reason is required")
	}
	if len(e.ActivatedBy) == 0 {
		return errors.Wrap(errors.ErrState, "activating signer set is required")
	}
	return nil
}

// Open reports whether this cycle is still active.
func (e *HistoryEntry) Open() bool {
	return e.DeactivatedAt == 0
}

// Controller freezes and unfreezes a vault's spending authority.
type Controller struct {
	bucket orm.Bucket
	audit  *audit.Ledger
	access *access.Engine
	vaults custody.VaultStore
	logger *slog.Logger
	now    func() time.Time
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Audit  *audit.Ledger
	Access *access.Engine
	Vaults custody.VaultStore
	Logger *slog.Logger
	Now    func() time.Time
}

// NewController returns an emergency mode controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.Audit == nil {
		panic("emergency controller requires an audit ledger")
	}
	if opts.Access == nil {
		panic("emergency controller requires an access engine")
	}
	if opts.Vaults == nil {
		panic("emergency controller requires a vault store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		bucket: orm.NewBucket(bucketName),
		audit:  opts.Audit,
		access: opts.Access,
		vaults: opts.Vaults,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Activate freezes the vault. The signer set must contain at least the
// vault's emergency threshold of distinct, active, non-compromised signers.
func (c *Controller) Activate(db store.KVStore, vaultID custody.VaultID, reason string, signers []custody.SignerID) (*HistoryEntry, error) {
	if reason == "" {
		return nil, errors.Wrap(errors.ErrInput, "activation reason is required")
	}
	vault, err := c.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	if vault.EmergencyMode {
		return nil, errors.Wrapf(errors.ErrAlreadyInEmergency, "vault %s", vaultID)
	}

	valid, err := c.quorum(db, vault, signers, "activate_emergency")
	if err != nil {
		return nil, err
	}

	now := custody.AsUnixTime(c.now())
	seq := orm.NewScopedSequence(bucketName, "seq", string(vaultID)).NextInt(db)
	entry := &HistoryEntry{
		Seq:         seq,
		Vault:       vaultID,
		Reason:      reason,
		ActivatedAt: now,
		ActivatedBy: valid,
	}
	if err := c.bucket.Put(db, entryKey(vaultID, seq), entry); err != nil {
		return nil, err
	}

	vault.EmergencyMode = true
	vault.LastActivity = now
	if err := c.vaults.PutVault(db, vault); err != nil {
		return nil, err
	}

	c.logger.Warn("emergency mode activated",
		"vault", string(vaultID),
		"reason", reason,
		"signers", len(valid),
	)
	if _, err := c.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindEmergency,
		Action:      "activate_emergency",
		Granted:     true,
		Reference:   signerList(valid),
		Description: reason,
	}); err != nil {
		return nil, err
	}
	return entry, nil
}

// Deactivate lifts the freeze. It requires an open emergency cycle and the
// same quorum rule as activation.
func (c *Controller) Deactivate(db store.KVStore, vaultID custody.VaultID, signers []custody.SignerID, reason string) (*HistoryEntry, error) {
	vault, err := c.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	if !vault.EmergencyMode {
		return nil, errors.Wrapf(errors.ErrNotInEmergency, "vault %s", vaultID)
	}

	open, err := c.openEntry(db, vaultID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		// Flag and history disagree; surface it instead of patching over.
		return nil, errors.Wrap(errors.ErrState, "no open emergency cycle on record")
	}

	valid, err := c.quorum(db, vault, signers, "deactivate_emergency")
	if err != nil {
		return nil, err
	}

	now := custody.AsUnixTime(c.now())
	open.DeactivatedAt = now
	open.DeactivatedBy = valid
	open.DeactivationReason = reason
	if err := c.bucket.Put(db, entryKey(vaultID, open.Seq), open); err != nil {
		return nil, err
	}

	vault.EmergencyMode = false
	vault.LastActivity = now
	if err := c.vaults.PutVault(db, vault); err != nil {
		return nil, err
	}

	c.logger.Info("emergency mode deactivated",
		"vault", string(vaultID),
		"signers", len(valid),
	)
	if _, err := c.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindEmergency,
		Action:      "deactivate_emergency",
		Granted:     true,
		Reference:   signerList(valid),
		Description: reason,
	}); err != nil {
		return nil, err
	}
	return open, nil
}

// History returns all emergency cycles of a vault, oldest first.
func (c *Controller) History(db store.ReadOnlyKVStore, vaultID custody.VaultID) ([]*HistoryEntry, error) {
	iter := c.bucket.Iterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var out []*HistoryEntry
	for ; iter.Valid(); iter.Next() {
		var entry HistoryEntry
		if err := c.bucket.Decode(iter.Value(), &entry); err != nil {
			return nil, err
		}
		e := entry
		out = append(out, &e)
	}
	return out, nil
}

// quorum validates the signer set against the vault's emergency threshold
// and audit-logs a denial before returning ErrQuorumNotMet.
func (c *Controller) quorum(db store.KVStore, vault *custody.Vault, signers []custody.SignerID, action string) ([]custody.SignerID, error) {
	valid, err := c.access.ValidApprovers(db, vault, signers)
	if err != nil {
		return nil, err
	}
	threshold := vault.EffectiveEmergencyThreshold()
	if len(valid) < threshold {
		if _, aerr := c.audit.Append(db, audit.Record{
			Vault:       vault.ID,
			Kind:        audit.KindEmergency,
			Action:      action,
			Granted:     false,
			Description: "quorum not met",
		}); aerr != nil {
			return nil, aerr
		}
		return nil, errors.Wrapf(errors.ErrQuorumNotMet,
			"%d of %d required signers", len(valid), threshold)
	}
	return valid, nil
}

func (c *Controller) openEntry(db store.ReadOnlyKVStore, vaultID custody.VaultID) (*HistoryEntry, error) {
	iter := c.bucket.ReverseIterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	if !iter.Valid() {
		return nil, nil
	}
	var entry HistoryEntry
	if err := c.bucket.Decode(iter.Value(), &entry); err != nil {
		return nil, err
	}
	if !entry.Open() {
		return nil, nil
	}
	return &entry, nil
}

func signerList(signers []custody.SignerID) string {
	parts := make([]string, len(signers))
	for i, s := range signers {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
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
