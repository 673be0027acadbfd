package recovery

import (
	"time"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// Type distinguishes who drives the recovery.
type Type string

const (
	// TypeSignerReplacement is a recovery initiated by a remaining signer
	// to replace signers whose keys were lost or compromised.
	TypeSignerReplacement Type = "signer_replacement"
	// TypeMasterRecovery is initiated by the configured master authority
	// and always carries a timelock.
	TypeMasterRecovery Type = "master_recovery"
)

// Validate returns an error unless the type is known.
func (t Type) Validate() error {
	switch t {
	case TypeSignerReplacement, TypeMasterRecovery:
		return nil
	default:
		return errors.Wrapf(errors.ErrInput, "unknown recovery type %q", t)
	}
}

// Status is the lifecycle state of a recovery request. Transitions are one
// way: pending to approved or rejected, approved to executed.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
)

// Approval is one signer's recorded approval of a recovery request.
type Approval struct {
	Approver   custody.SignerID `cbor:"1,keyasint"`
	ApprovedAt custody.UnixTime `cbor:"2,keyasint"`

	// Signature is the approver's signature material, stored opaque. The
	// custody core does not verify cryptographic signatures itself.
	Signature []byte `cbor:"3,keyasint"`
}

// Request is a pending or completed recovery of a vault's signer set.
type Request struct {
	ID    string          `cbor:"1,keyasint"`
	Vault custody.VaultID `cbor:"2,keyasint"`

	Initiator custody.SignerID `cbor:"3,keyasint"`
	Type      Type             `cbor:"4,keyasint"`
	Reason    string           `cbor:"5,keyasint"`

	// LostSigners are removed from the signer set on execution and may not
	// approve the request. ProposedSigners take their place.
	LostSigners     []custody.SignerID `cbor:"6,keyasint"`
	ProposedSigners []custody.SignerID `cbor:"7,keyasint"`

	Status            Status     `cbor:"8,keyasint"`
	RequiredApprovals int        `cbor:"9,keyasint"`
	Approvals         []Approval `cbor:"10,keyasint"`

	// RequiresTimelock delays execution until TimelockSeconds after the
	// approval threshold was reached. Master recoveries always set it.
	RequiresTimelock bool  `cbor:"11,keyasint"`
	TimelockSeconds  int64 `cbor:"12,keyasint"`

	CreatedAt  custody.UnixTime `cbor:"13,keyasint"`
	ApprovedAt custody.UnixTime `cbor:"14,keyasint"`
	ExecutedAt custody.UnixTime `cbor:"15,keyasint"`
}

// Validate ensures the request is internally consistent.
func (r *Request) Validate() error {
	if r.ID == "" {
		return errors.Wrap(errors.ErrState, "request id is required")
	}
	if r.Vault == "" {
		return errors.Wrap(errors.ErrState, "vault id is required")
	}
	if r.Initiator == "" {
		return errors.Wrap(errors.ErrState, "initiator is required")
	}
	if err := r.Type.Validate(); err != nil {
		return err
	}
	if len(r.LostSigners) == 0 {
		return errors.Wrap(errors.ErrState, "at least one lost signer is required")
	}
	if len(r.ProposedSigners) == 0 {
		return errors.Wrap(errors.ErrState, "at least one proposed signer is required")
	}
	if r.RequiredApprovals < 1 {
		return errors.Wrap(errors.ErrState, "required approvals must be positive")
	}
	if r.RequiresTimelock && r.TimelockSeconds < 1 {
		return errors.Wrap(errors.ErrState, "timelock duration must be positive")
	}
	return nil
}

// HasApproval reports whether the signer already approved this request.
func (r *Request) HasApproval(signer custody.SignerID) bool {
	for _, a := range r.Approvals {
		if a.Approver == signer {
			return true
		}
	}
	return false
}

// IsLostSigner reports whether the signer is slated for removal.
func (r *Request) IsLostSigner(signer custody.SignerID) bool {
	for _, s := range r.LostSigners {
		if s == signer {
			return true
		}
	}
	return false
}

// ExecutableAt returns the earliest moment Execute may succeed. Requests
// without a timelock are executable the moment they are approved.
func (r *Request) ExecutableAt() custody.UnixTime {
	if !r.RequiresTimelock {
		return r.ApprovedAt
	}
	return r.ApprovedAt.Add(time.Duration(r.TimelockSeconds) * time.Second)
}

func requestKey(vaultID custody.VaultID, requestID string) []byte {
	key := make([]byte, 0, len(vaultID)+1+len(requestID))
	key = append(key, []byte(vaultID)...)
	key = append(key, 0)
	return append(key, []byte(requestID)...)
}

func vaultPrefix(vaultID custody.VaultID) []byte {
	return append([]byte(vaultID), 0)
}
