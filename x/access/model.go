package access

import (
	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// Action names the kind of operation an access check is performed for.
type Action string

const (
	// ActionView covers read-only operations. View denials never count
	// toward lockout.
	ActionView Action = "view"
	// ActionPropose covers initiating recoveries and similar proposals.
	ActionPropose Action = "propose"
	// ActionSign covers fund movement and approvals.
	ActionSign Action = "sign"
	// ActionAdmin covers administrative authority: lockout override,
	// vault deactivation.
	ActionAdmin Action = "admin"
)

// countsTowardLockout reports whether a denial of this action increments the
// failed-attempt counter.
func (a Action) countsTowardLockout() bool {
	return a != ActionView
}

// Validate returns an error unless the action is known.
func (a Action) Validate() error {
	switch a {
	case ActionView, ActionPropose, ActionSign, ActionAdmin:
		return nil
	default:
		return errors.Wrapf(errors.ErrInput, "unknown action %q", a)
	}
}

// PermissionRecord is the per (vault, signer) permission state. Records live
// in a side table keyed by the composite key, not embedded in the vault, so
// there are no ownership cycles between vaults and signers.
type PermissionRecord struct {
	Vault  custody.VaultID  `cbor:"1,keyasint"`
	Signer custody.SignerID `cbor:"2,keyasint"`

	CanPropose bool `cbor:"3,keyasint"`
	CanSign    bool `cbor:"4,keyasint"`
	CanView    bool `cbor:"5,keyasint"`
	IsActive   bool `cbor:"6,keyasint"`

	// Admin marks administrative authority, distinct from signer
	// permission. Admins can override lockouts and deactivate the vault.
	Admin bool `cbor:"7,keyasint"`

	// Compromised signers are inactive and excluded from quorum counting
	// immediately. Removing them from the signer set requires a separate
	// RotateSigner with its own approval quorum.
	Compromised       bool   `cbor:"8,keyasint"`
	CompromisedReason string `cbor:"9,keyasint"`
}

// Validate ensures the record identifies its subject.
func (r *PermissionRecord) Validate() error {
	if r.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	if r.Signer == "" {
		return errors.Wrap(errors.ErrState, "signer id is required")
	}
	return nil
}

// allows reports whether this record permits the action, ignoring lockout
// state which is tracked separately.
func (r *PermissionRecord) allows(a Action) bool {
	if !r.IsActive || r.Compromised {
		return false
	}
	switch a {
	case ActionView:
		return r.CanView
	case ActionPropose:
		return r.CanPropose
	case ActionSign:
		return r.CanSign
	case ActionAdmin:
		return r.Admin
	default:
		return false
	}
}

// Permissions is the derived permission view returned to callers.
type Permissions struct {
	CanPropose bool
	CanSign    bool
	CanView    bool
	Admin      bool
	IsActive   bool
}

// LockoutStatus is the per (vault, signer) failed-attempt state. Lockout is
// scoped to the vault, not global.
type LockoutStatus struct {
	Vault  custody.VaultID  `cbor:"1,keyasint"`
	Signer custody.SignerID `cbor:"2,keyasint"`

	FailedAttempts int `cbor:"3,keyasint"`
	// WindowStart anchors the rolling window within which failures
	// accumulate.
	WindowStart custody.UnixTime `cbor:"4,keyasint"`
	// LockedUntil is zero when the signer is not locked.
	LockedUntil custody.UnixTime `cbor:"5,keyasint"`
	Reason      string           `cbor:"6,keyasint"`
}

// Validate ensures the status identifies its subject.
func (s *LockoutStatus) Validate() error {
	if s.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	if s.Signer == "" {
		return errors.Wrap(errors.ErrState, "signer id is required")
	}
	if s.FailedAttempts < 0 {
		return errors.Wrap(errors.ErrState, "negative failed attempts")
	}
	return nil
}

// LockedAt reports whether the signer is locked at the given moment.
func (s *LockoutStatus) LockedAt(t custody.UnixTime) bool {
	return s.LockedUntil != 0 && t < s.LockedUntil
}

func permKey(vaultID custody.VaultID, signer custody.SignerID) []byte {
	key := make([]byte, 0, len(vaultID)+1+len(signer))
	key = append(key, []byte(vaultID)...)
	key = append(key, 0)
	return append(key, []byte(signer)...)
}
