package custody

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// TxStatus is the confirmation state of a submitted ledger transfer.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// LedgerClient is the external ledger boundary. The custody core treats it as
// at-least-once with idempotent confirmation polling and never assumes a
// submitted transfer is confirmed without an explicit confirmation response.
//
// Implementations live outside of this module. Test doubles are provided by
// the custodytest package.
type LedgerClient interface {
	// CreateAccount allocates a new ledger account and returns its address.
	CreateAccount(ctx context.Context) (Address, error)

	// Balance returns the confirmed balance of given account.
	Balance(ctx context.Context, addr Address) (decimal.Decimal, error)

	// SubmitTransfer submits a signed transfer and returns its reference.
	// Signatures are opaque artifacts produced by the signing layer.
	SubmitTransfer(ctx context.Context, from, to Address, amount decimal.Decimal, signatures [][]byte) (TxRef, error)

	// ConfirmTransaction polls the confirmation state of a transfer.
	ConfirmTransaction(ctx context.Context, ref TxRef) (TxStatus, error)
}

// RetryPolicy bounds retries of transient ledger failures. Balance-affecting
// operations are never retried beyond these bounds internally; exhaustion is
// surfaced as ErrLedgerUnavailable so the caller stays in control.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// BaseDelay is doubled after every failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth. Zero means no cap.
	MaxDelay time.Duration
}

// Retry runs fn until it succeeds, the context is cancelled, or the attempt
// budget is exhausted. The last error is wrapped as ErrLedgerUnavailable.
func (p RetryPolicy) Retry(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrLedgerUnavailable, err.Error())
		}
		if last = fn(ctx); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrap(errors.ErrLedgerUnavailable, ctx.Err().Error())
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return errors.Wrapf(errors.ErrLedgerUnavailable, "%d attempts failed: %s", attempts, last)
}

// AwaitConfirmation polls ConfirmTransaction until the transfer settles or
// the timeout elapses. A timeout does not mean the transfer failed; it may
// still confirm asynchronously and the caller must re-query balance.
func AwaitConfirmation(ctx context.Context, client LedgerClient, ref TxRef, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		status, err := client.ConfirmTransaction(ctx, ref)
		if err != nil {
			return errors.Wrapf(errors.ErrLedgerUnavailable, "confirm %s: %s", ref, err)
		}
		switch status {
		case TxConfirmed:
			return nil
		case TxFailed:
			return errors.Wrapf(errors.ErrLedgerUnavailable, "transfer %s failed on ledger", ref)
		}
		if timeout > 0 && time.Now().After(deadline) {
			return errors.Wrapf(errors.ErrConfirmationTimeout, "transfer %s not confirmed", ref)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return errors.Wrapf(errors.ErrConfirmationTimeout, "transfer %s: %s", ref, ctx.Err())
		}
	}
}
