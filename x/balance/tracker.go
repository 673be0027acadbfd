/*
Package balance maintains the cached balance and the chronological balance
history per vault, reconciled against the external ledger.

The cached balance is the source of truth for fast reads. Reconciliation
refreshes it from the ledger; any discrepancy beyond the configured epsilon is
recorded both as an external adjustment in the history and as an anomaly,
because a mismatch may indicate an unauthorized transfer.
*/
package balance

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/orm"
	"github.com/V1C70RYG0D/Nen-sub008/store"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
)

const bucketName = "balhist"

// Tracker maintains balances and their history.
type Tracker struct {
	entries   orm.Bucket
	anomalies orm.Bucket
	audit     *audit.Ledger
	vaults    custody.VaultStore
	client    custody.LedgerClient
	logger    *slog.Logger
	now       func() time.Time

	epsilon decimal.Decimal
	retry   custody.RetryPolicy
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	Audit  *audit.Ledger
	Vaults custody.VaultStore
	Client custody.LedgerClient
	Logger *slog.Logger
	Now    func() time.Time

	// Epsilon is the largest cached-vs-ledger difference that is not an
	// anomaly. Defaults to zero: every difference counts.
	Epsilon decimal.Decimal
	// Retry bounds transient ledger failures during reconciliation.
	Retry custody.RetryPolicy
}

// NewTracker returns a balance tracker.
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Audit == nil {
		panic("balance tracker requires an audit ledger")
	}
	if opts.Vaults == nil {
		panic("balance tracker requires a vault store")
	}
	if opts.Client == nil {
		panic("balance tracker requires a ledger client")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		entries:   orm.NewBucket(bucketName),
		anomalies: orm.NewBucket("balanom"),
		audit:     opts.Audit,
		vaults:    opts.Vaults,
		client:    opts.Client,
		logger:    opts.Logger,
		now:       opts.Now,
		epsilon:   opts.Epsilon,
		retry:     opts.Retry,
	}
}

// Record appends a balance change and updates the vault's cached balance.
// Deposits carry a positive delta, withdrawals and fees a negative one. The
// cached balance must never go negative.
func (t *Tracker) Record(db store.KVStore, vaultID custody.VaultID, delta decimal.Decimal, typ custody.TransactionType, txRef custody.TxRef, description string) (*HistoryEntry, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	vault, err := t.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	cached, err := vault.CachedBalance()
	if err != nil {
		return nil, err
	}

	next := cached.Add(delta)
	if next.IsNegative() {
		return nil, errors.Wrapf(errors.ErrAmount,
			"balance cannot go negative: %s %s %s", cached, typ, delta)
	}

	seq := orm.NewScopedSequence(bucketName, "seq", string(vaultID)).NextInt(db)
	entry := &HistoryEntry{
		Seq:         seq,
		Vault:       vaultID,
		Amount:      delta.String(),
		Type:        typ,
		TxRef:       txRef,
		Description: description,
		CreatedAt:   custody.AsUnixTime(t.now()),
	}
	if err := t.entries.Put(db, entryKey(vaultID, seq), entry); err != nil {
		return nil, err
	}

	vault.Balance = next.String()
	vault.LastActivity = entry.CreatedAt
	if err := t.vaults.PutVault(db, vault); err != nil {
		return nil, err
	}

	if _, err := t.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindBalanceChange,
		Action:      string(typ),
		Granted:     true,
		Amount:      delta.String(),
		Reference:   string(txRef),
		Description: description,
	}); err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns balance changes newest first, bounded by limit. Zero means
// unbounded, though callers should assume pagination is advisable for
// long-lived vaults.
func (t *Tracker) History(db store.ReadOnlyKVStore, vaultID custody.VaultID, limit int) ([]*HistoryEntry, error) {
	iter := t.entries.ReverseIterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var out []*HistoryEntry
	for ; iter.Valid(); iter.Next() {
		var entry HistoryEntry
		if err := t.entries.Decode(iter.Value(), &entry); err != nil {
			return nil, err
		}
		e := entry
		out = append(out, &e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Sum returns the prefix sum of all history deltas. After any successful
// funding operation it equals the cached balance.
func (t *Tracker) Sum(db store.ReadOnlyKVStore, vaultID custody.VaultID) (decimal.Decimal, error) {
	iter := t.entries.Iterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	sum := decimal.Zero
	for ; iter.Valid(); iter.Next() {
		var entry HistoryEntry
		if err := t.entries.Decode(iter.Value(), &entry); err != nil {
			return decimal.Zero, err
		}
		delta, err := custody.ParseAmount(entry.Amount)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(delta)
	}
	return sum, nil
}

// Reconcile refreshes the cached balance from the ledger. A discrepancy
// beyond epsilon is treated as an external deposit or fee event: it is
// appended to the history, recorded as an anomaly and audit-logged, and the
// cache is updated to the on-ledger value. Returns the vault with its
// current balance.
func (t *Tracker) Reconcile(ctx context.Context, db store.KVStore, vaultID custody.VaultID) (*custody.Vault, error) {
	vault, err := t.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}

	var onLedger decimal.Decimal
	err = t.retry.Retry(ctx, func(ctx context.Context) error {
		var err error
		onLedger, err = t.client.Balance(ctx, vault.Address)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot query ledger balance")
	}

	cached, err := vault.CachedBalance()
	if err != nil {
		return nil, err
	}

	diff := onLedger.Sub(cached)
	if diff.Abs().Cmp(t.epsilon) <= 0 {
		return vault, nil
	}

	t.logger.Warn("balance discrepancy detected",
		"vault", string(vaultID),
		"cached", cached.String(),
		"on_ledger", onLedger.String(),
		"delta", diff.String(),
	)

	typ := custody.TransactionDeposit
	if diff.IsNegative() {
		typ = custody.TransactionFee
	}
	if _, err := t.Record(db, vaultID, diff, typ, "", "ledger reconciliation adjustment"); err != nil {
		return nil, err
	}

	seq := orm.NewScopedSequence("balanom", "seq", string(vaultID)).NextInt(db)
	anomaly := &Anomaly{
		Seq:        seq,
		Vault:      vaultID,
		Cached:     cached.String(),
		OnLedger:   onLedger.String(),
		Delta:      diff.String(),
		DetectedAt: custody.AsUnixTime(t.now()),
	}
	if err := t.anomalies.Put(db, entryKey(vaultID, seq), anomaly); err != nil {
		return nil, err
	}

	return t.vaults.Vault(db, vaultID)
}

// Anomalies returns all recorded discrepancies for a vault, oldest first.
func (t *Tracker) Anomalies(db store.ReadOnlyKVStore, vaultID custody.VaultID) ([]*Anomaly, error) {
	iter := t.anomalies.Iterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var out []*Anomaly
	for ; iter.Valid(); iter.Next() {
		var a Anomaly
		if err := t.anomalies.Decode(iter.Value(), &a); err != nil {
			return nil, err
		}
		entry := a
		out = append(out, &entry)
	}
	return out, nil
}
