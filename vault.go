package custody

import (
	"github.com/shopspring/decimal"

	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

// Vault is the registry record of a single multi-signature vault. The Vault
// Manager exclusively owns this record for the vault's lifetime; every other
// module operates on a vault strictly through its ID and a VaultStore, never
// through a cached copy held across operations.
type Vault struct {
	ID      VaultID   `cbor:"1,keyasint"`
	Address Address   `cbor:"2,keyasint"`
	Type    VaultType `cbor:"3,keyasint"`

	// RequiredSignatures is the M in M-of-N. Signers is the ordered set of
	// the N authorized signer identities.
	RequiredSignatures int        `cbor:"4,keyasint"`
	Signers            []SignerID `cbor:"5,keyasint"`

	// Balance is the cached balance, reconciled against the external
	// ledger. Stored as a decimal string.
	Balance string `cbor:"6,keyasint"`

	// MaxBalance caps deposits when non-empty. Treasury vaults always
	// carry a cap.
	MaxBalance string `cbor:"7,keyasint"`

	IsActive      bool `cbor:"8,keyasint"`
	EmergencyMode bool `cbor:"9,keyasint"`

	// EmergencyThreshold may differ from RequiredSignatures. Zero means
	// unset and falls back to RequiredSignatures. It must never be weaker
	// than the base threshold.
	EmergencyThreshold int `cbor:"10,keyasint"`

	// TimelockSeconds delays execution of approved master recoveries.
	// Zero falls back to the configured default.
	TimelockSeconds int64 `cbor:"11,keyasint"`

	CreatedAt    UnixTime `cbor:"12,keyasint"`
	LastActivity UnixTime `cbor:"13,keyasint"`
}

// Validate ensures the vault record upholds the threshold invariants.
func (v *Vault) Validate() error {
	if v.ID == "" {
		return errors.Wrap(errors.ErrConfiguration, "vault id is required")
	}
	if v.Address == "" {
		return errors.Wrap(errors.ErrConfiguration, "vault address is required")
	}
	if err := v.Type.Validate(); err != nil {
		return err
	}
	if len(v.Signers) == 0 {
		return errors.Wrap(errors.ErrConfiguration, "no signers")
	}
	if v.RequiredSignatures < 1 {
		return errors.Wrap(errors.ErrConfiguration, "required signatures must be at least 1")
	}
	if v.RequiredSignatures > len(v.Signers) {
		return errors.Wrapf(errors.ErrConfiguration,
			"required signatures %d exceeds %d signers",
			v.RequiredSignatures, len(v.Signers))
	}
	seen := make(map[SignerID]struct{}, len(v.Signers))
	for _, s := range v.Signers {
		if s == "" {
			return errors.Wrap(errors.ErrConfiguration, "empty signer identity")
		}
		if _, ok := seen[s]; ok {
			return errors.Wrapf(errors.ErrConfiguration, "duplicate signer %q", s)
		}
		seen[s] = struct{}{}
	}
	if v.EmergencyThreshold != 0 && v.EmergencyThreshold < v.RequiredSignatures {
		return errors.Wrap(errors.ErrConfiguration,
			"emergency threshold must not be weaker than the signing threshold")
	}
	if v.EmergencyThreshold > len(v.Signers) {
		return errors.Wrap(errors.ErrConfiguration,
			"emergency threshold exceeds signer count")
	}
	if _, err := ParseAmount(v.Balance); err != nil {
		return errors.Wrap(err, "balance")
	}
	if _, err := ParseAmount(v.MaxBalance); err != nil {
		return errors.Wrap(err, "max balance")
	}
	if v.TimelockSeconds < 0 {
		return errors.Wrap(errors.ErrConfiguration, "negative timelock")
	}
	return nil
}

// HasSigner returns true if given identity is part of the vault signer set.
func (v *Vault) HasSigner(s SignerID) bool {
	for _, member := range v.Signers {
		if member == s {
			return true
		}
	}
	return false
}

// EffectiveEmergencyThreshold resolves the quorum needed to activate or lift
// emergency mode.
func (v *Vault) EffectiveEmergencyThreshold() int {
	if v.EmergencyThreshold > 0 {
		return v.EmergencyThreshold
	}
	return v.RequiredSignatures
}

// CachedBalance returns the cached balance as a decimal.
func (v *Vault) CachedBalance() (decimal.Decimal, error) {
	return ParseAmount(v.Balance)
}

// VaultStore gives modules access to the vault registry without owning it.
// Implementations must return a fresh copy on every call so that no module
// acts on stale authorization data.
type VaultStore interface {
	// Vault loads the registry record. Returns ErrNotFound when the vault
	// does not exist.
	Vault(db store.ReadOnlyKVStore, id VaultID) (*Vault, error)

	// PutVault persists an updated registry record.
	PutVault(db store.KVStore, v *Vault) error
}
