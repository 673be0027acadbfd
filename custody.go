/*
Package custody defines the core data model and external boundaries of the
multi-signature vault authorization core.

Vault custody is guarded by an M-of-N signer threshold. This package holds the
identifiers, the Vault record shared by every module, and the LedgerClient
interface through which funds actually move. Policy enforcement lives in the
x/ packages; persistence primitives live in store/ and orm/.
*/
package custody

import (
	"github.com/shopspring/decimal"

	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// VaultID uniquely identifies a vault within the registry.
type VaultID string

// SignerID is an opaque signer identity. Signature validation happens in the
// signing layer before a SignerID ever reaches this core.
type SignerID string

// Address is a ledger account address as issued by the external ledger.
type Address string

// TxRef references a transfer submitted to the external ledger.
type TxRef string

// VaultType determines the policy profile applied to a vault.
type VaultType string

const (
	VaultTypeOperational VaultType = "operational"
	VaultTypeTreasury    VaultType = "treasury"
)

// Validate returns an error unless the vault type is one of the known values.
func (t VaultType) Validate() error {
	switch t {
	case VaultTypeOperational, VaultTypeTreasury:
		return nil
	default:
		return errors.Wrapf(errors.ErrConfiguration, "unknown vault type %q", t)
	}
}

// TransactionType classifies a balance change.
type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionFee        TransactionType = "fee"
)

// Validate returns an error unless the transaction type is known.
func (t TransactionType) Validate() error {
	switch t {
	case TransactionDeposit, TransactionWithdrawal, TransactionFee:
		return nil
	default:
		return errors.Wrapf(errors.ErrInput, "unknown transaction type %q", t)
	}
}

// ParseAmount parses a decimal amount stored in its string form. Amounts are
// persisted as strings so that serialization never loses precision.
func ParseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errors.ErrAmount, "malformed amount %q", raw)
	}
	return d, nil
}
