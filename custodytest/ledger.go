/*
Package custodytest provides test doubles and fixtures for the custody core.

The Ledger double counts every call and can be programmed to fail, so retry
and confirmation handling can be tested without a real ledger.
*/
package custodytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// Ledger is a configurable in-memory custody.LedgerClient double.
//
// The zero value is ready to use: account creation yields sequential
// addresses, transfers are accepted and immediately confirmed, and balances
// track confirmed transfers per address.
type Ledger struct {
	mu sync.Mutex

	// CreateAccountErr, BalanceErr, SubmitErr and ConfirmErr, when set, are
	// returned by the corresponding method. FailuresLeft lets the first N
	// calls of SubmitTransfer fail before succeeding, to exercise retries.
	CreateAccountErr error
	BalanceErr       error
	SubmitErr        error
	ConfirmErr       error
	FailuresLeft     int

	// Status overrides the confirmation result per transfer reference.
	// Unlisted references confirm immediately.
	Status map[custody.TxRef]custody.TxStatus

	balances map[custody.Address]decimal.Decimal

	CreateAccountCount int
	BalanceCount       int
	SubmitCount        int
	ConfirmCount       int
}

var _ custody.LedgerClient = (*Ledger)(nil)

// CreateAccount allocates the next sequential test address.
func (l *Ledger) CreateAccount(context.Context) (custody.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.CreateAccountCount++
	if l.CreateAccountErr != nil {
		return "", l.CreateAccountErr
	}
	addr := custody.Address(fmt.Sprintf("acct-%d", l.CreateAccountCount))
	l.setBalance(addr, decimal.Zero)
	return addr, nil
}

// Balance returns the tracked balance of the address.
func (l *Ledger) Balance(_ context.Context, addr custody.Address) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.BalanceCount++
	if l.BalanceErr != nil {
		return decimal.Zero, l.BalanceErr
	}
	if l.balances == nil {
		return decimal.Zero, nil
	}
	return l.balances[addr], nil
}

// SubmitTransfer accepts the transfer and returns a sequential reference.
func (l *Ledger) SubmitTransfer(_ context.Context, from, to custody.Address, amount decimal.Decimal, _ [][]byte) (custody.TxRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.SubmitCount++
	if l.FailuresLeft > 0 {
		l.FailuresLeft--
		return "", errors.Wrap(errors.ErrLedgerUnavailable, "transient test failure")
	}
	if l.SubmitErr != nil {
		return "", l.SubmitErr
	}

	ref := custody.TxRef(fmt.Sprintf("tx-%d", l.SubmitCount))
	if l.status(ref) == custody.TxConfirmed {
		if from != "" {
			l.setBalance(from, l.balance(from).Sub(amount))
		}
		l.setBalance(to, l.balance(to).Add(amount))
	}
	return ref, nil
}

// ConfirmTransaction reports the programmed status, confirming by default.
func (l *Ledger) ConfirmTransaction(_ context.Context, ref custody.TxRef) (custody.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ConfirmCount++
	if l.ConfirmErr != nil {
		return "", l.ConfirmErr
	}
	return l.status(ref), nil
}

// SetBalance programs the ledger-side balance of an address.
func (l *Ledger) SetBalance(addr custody.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(addr, amount)
}

func (l *Ledger) status(ref custody.TxRef) custody.TxStatus {
	if s, ok := l.Status[ref]; ok {
		return s
	}
	return custody.TxConfirmed
}

func (l *Ledger) balance(addr custody.Address) decimal.Decimal {
	if l.balances == nil {
		return decimal.Zero
	}
	return l.balances[addr]
}

func (l *Ledger) setBalance(addr custody.Address, amount decimal.Decimal) {
	if l.balances == nil {
		l.balances = make(map[custody.Address]decimal.Decimal)
	}
	l.balances[addr] = amount
}
