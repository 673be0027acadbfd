package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/store"
)

type fixture struct {
	ledger *Ledger
	db     *store.MemStore
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:  store.NewMemStore(),
		now: time.Unix(1700000000, 0).UTC(),
	}
	f.ledger = NewLedger(LedgerOptions{
		Now:                  func() time.Time { return f.now },
		DefaultRetentionDays: 30,
	})
	return f
}

func (f *fixture) append(t *testing.T, rec Record) *Entry {
	t.Helper()
	if rec.Vault == "" {
		rec.Vault = "vault-1"
	}
	if rec.Kind == "" {
		rec.Kind = KindAdminAction
	}
	entry, err := f.ledger.Append(f.db, rec)
	require.NoError(t, err)
	return entry
}

func TestAppendChainsEntries(t *testing.T) {
	f := newFixture(t)

	first := f.append(t, Record{Action: "one", Granted: true})
	second := f.append(t, Record{Action: "two", Granted: true})
	third := f.append(t, Record{Action: "three", Granted: false})

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, int64(3), third.Seq)

	assert.Empty(t, first.PrevChecksum)
	assert.Equal(t, first.Checksum, second.PrevChecksum)
	assert.Equal(t, second.Checksum, third.PrevChecksum)
	assert.NotEqual(t, second.Checksum, third.Checksum)
}

func TestAppendRequiresVaultAndKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Append(f.db, Record{Kind: KindAdminAction, Action: "x"})
	assert.True(t, errors.ErrInput.Is(err))

	_, err = f.ledger.Append(f.db, Record{Vault: "vault-1", Kind: "gossip", Action: "x"})
	assert.Error(t, err)
}

func TestSearchFilters(t *testing.T) {
	f := newFixture(t)

	f.append(t, Record{Kind: KindAccessAttempt, Actor: "alice", Action: "sign", Granted: true})
	f.now = f.now.Add(time.Minute)
	f.append(t, Record{Kind: KindAccessAttempt, Actor: "bob", Action: "sign", Granted: false})
	f.now = f.now.Add(time.Minute)
	f.append(t, Record{Kind: KindBalanceChange, Actor: "alice", Action: "deposit", Granted: true})

	all, err := f.ledger.Search(f.db, "vault-1", Filters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "deposit", all[0].Action)
	assert.Equal(t, "sign", all[2].Action)

	byActor, err := f.ledger.Search(f.db, "vault-1", Filters{Actor: "alice"})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	byKind, err := f.ledger.Search(f.db, "vault-1", Filters{Kind: KindBalanceChange})
	require.NoError(t, err)
	assert.Len(t, byKind, 1)

	since, err := f.ledger.Search(f.db, "vault-1", Filters{Since: custody.AsUnixTime(f.now)})
	require.NoError(t, err)
	assert.Len(t, since, 1)

	limited, err := f.ledger.Search(f.db, "vault-1", Filters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTrailFollowsReferenceAcrossVaults(t *testing.T) {
	f := newFixture(t)

	f.append(t, Record{Vault: "vault-1", Action: "fund", Reference: "tx-9", Granted: true})
	f.append(t, Record{Vault: "vault-2", Action: "fund", Reference: "tx-9", Granted: true})
	f.append(t, Record{Vault: "vault-1", Action: "fund", Reference: "tx-other", Granted: true})

	trail, err := f.ledger.Trail(f.db, "tx-9")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	for _, e := range trail {
		assert.Equal(t, "tx-9", e.Reference)
	}

	_, err = f.ledger.Trail(f.db, "")
	assert.True(t, errors.ErrInput.Is(err))
}

func TestVerifyIntegrityCleanLog(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.append(t, Record{Action: "op", Granted: true})
	}

	report, err := f.ledger.VerifyIntegrity(f.db, "vault-1")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 5, report.Entries)
	assert.Empty(t, report.Inconsistencies)
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	f := newFixture(t)
	f.append(t, Record{Action: "op", Granted: true})
	tampered := f.append(t, Record{Action: "op", Amount: "10", Granted: true})
	f.append(t, Record{Action: "op", Granted: true})

	// Out-of-band mutation of a stored entry, keeping its stale checksum.
	tampered.Amount = "10000"
	require.NoError(t, f.ledger.bucket.Put(f.db, entryKey("vault-1", tampered.Seq), tampered))

	report, err := f.ledger.VerifyIntegrity(f.db, "vault-1")
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.NotEmpty(t, report.Inconsistencies)
}

func TestVerifyIntegrityDetectsRemovedEntry(t *testing.T) {
	f := newFixture(t)
	f.append(t, Record{Action: "op", Granted: true})
	victim := f.append(t, Record{Action: "op", Granted: true})
	f.append(t, Record{Action: "op", Granted: true})

	f.db.Delete(f.ledger.bucket.DBKey(entryKey("vault-1", victim.Seq)))

	report, err := f.ledger.VerifyIntegrity(f.db, "vault-1")
	require.NoError(t, err)
	assert.False(t, report.IsValid)
}

func TestExportChronologicalJSON(t *testing.T) {
	f := newFixture(t)
	f.append(t, Record{Action: "first", Granted: true})
	f.now = f.now.Add(time.Minute)
	f.append(t, Record{Action: "second", Granted: true})

	exp, err := f.ledger.ExportData(f.db, "vault-1", ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, exp.RecordCount)
	assert.Equal(t, FormatJSON, exp.Format)
	assert.False(t, exp.Compressed)
	assert.NotEmpty(t, exp.Checksum)

	var entries []*Entry
	require.NoError(t, json.Unmarshal(exp.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Action)
	assert.Equal(t, "second", entries[1].Action)
}

func TestExportCompressed(t *testing.T) {
	f := newFixture(t)
	f.append(t, Record{Action: "op", Granted: true})

	exp, err := f.ledger.ExportData(f.db, "vault-1", ExportOptions{Compress: true})
	require.NoError(t, err)
	assert.True(t, exp.Compressed)
	// Gzip magic bytes.
	require.True(t, len(exp.Data) > 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, exp.Data[:2])
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.ExportData(f.db, "vault-1", ExportOptions{Format: "xml"})
	assert.True(t, errors.ErrInput.Is(err))
}

func TestCleanupRequiresExport(t *testing.T) {
	f := newFixture(t)
	f.append(t, Record{Action: "old", Granted: true})
	f.now = f.now.Add(40 * 24 * time.Hour)

	_, err := f.ledger.Cleanup(f.db, "vault-1")
	assert.True(t, errors.ErrState.Is(err))
}

func TestCleanupRemovesExpiredAndKeepsChainVerifiable(t *testing.T) {
	f := newFixture(t)
	f.append(t, Record{Action: "old-1", Granted: true})
	f.append(t, Record{Action: "old-2", Reference: "tx-1", Granted: true})

	f.now = f.now.Add(40 * 24 * time.Hour)
	f.append(t, Record{Action: "recent", Granted: true})

	_, err := f.ledger.ExportData(f.db, "vault-1", ExportOptions{})
	require.NoError(t, err)

	removed, err := f.ledger.Cleanup(f.db, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	report, err := f.ledger.VerifyIntegrity(f.db, "vault-1")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 1, report.Entries)

	// The reference index of removed entries is gone too.
	trail, err := f.ledger.Trail(f.db, "tx-1")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestCleanupRefusesTamperedLog(t *testing.T) {
	f := newFixture(t)
	tampered := f.append(t, Record{Action: "old", Granted: true})
	f.now = f.now.Add(40 * 24 * time.Hour)
	f.append(t, Record{Action: "recent", Granted: true})

	_, err := f.ledger.ExportData(f.db, "vault-1", ExportOptions{})
	require.NoError(t, err)

	tampered.Description = "rewritten"
	require.NoError(t, f.ledger.bucket.Put(f.db, entryKey("vault-1", tampered.Seq), tampered))

	_, err = f.ledger.Cleanup(f.db, "vault-1")
	assert.True(t, errors.ErrAuditIntegrity.Is(err))
}

func TestRetentionPolicyFallback(t *testing.T) {
	f := newFixture(t)

	p, err := f.ledger.RetentionPolicy(f.db, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, 30, p.RetentionDays)
	assert.Equal(t, custody.VaultID("vault-1"), p.Vault)

	require.NoError(t, f.ledger.SetPolicy(f.db, Policy{Vault: "vault-1", RetentionDays: 7}))
	p, err = f.ledger.RetentionPolicy(f.db, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.RetentionDays)
}
