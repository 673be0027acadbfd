package vault_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/custodytest"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
	"github.com/V1C70RYG0D/Nen-sub008/x/vault"
)

func operationalConfig() vault.VaultConfig {
	return vault.VaultConfig{
		ID:                 "vault-1",
		Type:               custody.VaultTypeOperational,
		RequiredSignatures: 3,
		Signers:            custodytest.Signers(5),
	}
}

func createVault(t *testing.T, core *custodytest.Core) *custody.Vault {
	t.Helper()
	v, err := core.Manager.CreateVault(context.Background(), operationalConfig(), "signer-1")
	require.NoError(t, err)
	return v
}

func fund(t *testing.T, core *custodytest.Core, amount int64) {
	t.Helper()
	_, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(amount),
		Funder: "signer-1",
	})
	require.NoError(t, err)
}

func TestCreateVault(t *testing.T) {
	core := custodytest.NewCore()

	v := createVault(t, core)
	assert.Equal(t, custody.Address("acct-1"), v.Address)
	assert.Equal(t, "0", v.Balance)
	assert.True(t, v.IsActive)

	// Creation is audited and the creator holds administrative authority.
	entries, err := core.Audit.Search(core.DB, "vault-1", audit.Filters{Kind: audit.KindAdminAction})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "create_vault", entries[0].Action)

	perms, err := core.Manager.SignerPermissions("vault-1", "signer-1")
	require.NoError(t, err)
	assert.True(t, perms.Admin)
}

func TestCreateVaultAssignsID(t *testing.T) {
	core := custodytest.NewCore()

	cfg := operationalConfig()
	cfg.ID = ""
	v, err := core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	require.NoError(t, err)
	assert.NotEmpty(t, v.ID)
}

func TestCreateVaultValidation(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*vault.VaultConfig)
		creator custody.SignerID
		wantErr *errors.Error
	}{
		"creator is required": {
			mutate:  func(cfg *vault.VaultConfig) {},
			creator: "",
			wantErr: errors.ErrInput,
		},
		"threshold above signer count": {
			mutate:  func(cfg *vault.VaultConfig) { cfg.RequiredSignatures = 6 },
			creator: "signer-1",
			wantErr: errors.ErrConfiguration,
		},
		"zero threshold": {
			mutate:  func(cfg *vault.VaultConfig) { cfg.RequiredSignatures = 0 },
			creator: "signer-1",
			wantErr: errors.ErrConfiguration,
		},
		"duplicate signers": {
			mutate: func(cfg *vault.VaultConfig) {
				cfg.Signers = []custody.SignerID{"signer-1", "signer-1", "signer-2"}
			},
			creator: "signer-1",
			wantErr: errors.ErrConfiguration,
		},
		"malformed initial balance": {
			mutate:  func(cfg *vault.VaultConfig) { cfg.InitialBalance = "ten" },
			creator: "signer-1",
			wantErr: errors.ErrConfiguration,
		},
		"negative initial balance": {
			mutate:  func(cfg *vault.VaultConfig) { cfg.InitialBalance = "-1" },
			creator: "signer-1",
			wantErr: errors.ErrConfiguration,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			core := custodytest.NewCore()
			cfg := operationalConfig()
			tc.mutate(&cfg)

			_, err := core.Manager.CreateVault(context.Background(), cfg, tc.creator)
			assert.True(t, tc.wantErr.Is(err), "unexpected error: %v", err)
			assert.False(t, core.Registry.Has(core.DB, "vault-1"))
			// Caller errors must never consume a ledger account.
			assert.Equal(t, 0, core.Ledger.CreateAccountCount)
		})
	}
}

func TestCreateTreasuryVaultPolicy(t *testing.T) {
	core := custodytest.NewCore()

	// A 3-of-5 treasury is below the configured signature floor.
	cfg := operationalConfig()
	cfg.Type = custody.VaultTypeTreasury
	_, err := core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	assert.True(t, errors.ErrConfiguration.Is(err))

	// 5-of-10 meets the floor but is not a strict majority.
	cfg.RequiredSignatures = 5
	cfg.Signers = custodytest.Signers(10)
	_, err = core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	assert.True(t, errors.ErrConfiguration.Is(err))

	// 5-of-9 satisfies both rules and picks up the default balance cap.
	cfg.Signers = custodytest.Signers(9)
	v, err := core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	require.NoError(t, err)
	assert.Equal(t, "1000000", v.MaxBalance)

	// Only the successful attempt allocated a ledger account.
	assert.Equal(t, 1, core.Ledger.CreateAccountCount)
}

func TestCreateVaultDuplicateID(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)

	_, err := core.Manager.CreateVault(context.Background(), operationalConfig(), "signer-1")
	assert.True(t, errors.ErrDuplicate.Is(err))
	// The duplicate is caught before any ledger call.
	assert.Equal(t, 1, core.Ledger.CreateAccountCount)
}

func TestCreateVaultLedgerDown(t *testing.T) {
	core := custodytest.NewCore()
	core.Ledger.CreateAccountErr = errors.ErrLedgerUnavailable.New("down")

	_, err := core.Manager.CreateVault(context.Background(), operationalConfig(), "signer-1")
	assert.True(t, errors.ErrLedgerUnavailable.Is(err))
	assert.False(t, core.Registry.Has(core.DB, "vault-1"))
}

func TestCreateVaultWithInitialBalance(t *testing.T) {
	core := custodytest.NewCore()

	cfg := operationalConfig()
	cfg.InitialBalance = "10"
	v, err := core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	require.NoError(t, err)
	assert.Equal(t, "10", v.Balance)

	history, err := core.Manager.BalanceHistory("vault-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "10", history[0].Amount)
	assert.Equal(t, "initial funding", history[0].Description)
}

func TestCreateVaultFailedFundingDiscardsEverything(t *testing.T) {
	core := custodytest.NewCore()
	core.Ledger.Status = map[custody.TxRef]custody.TxStatus{"tx-1": custody.TxFailed}

	cfg := operationalConfig()
	cfg.InitialBalance = "10"
	_, err := core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	assert.True(t, errors.ErrLedgerUnavailable.Is(err))

	// Not the record, not the permissions, not the audit entry.
	assert.False(t, core.Registry.Has(core.DB, "vault-1"))
	entries, serr := core.Audit.Search(core.DB, "vault-1", audit.Filters{})
	require.NoError(t, serr)
	assert.Empty(t, entries)
}

func TestGetVaultDetails(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)
	fund(t, core, 10)

	// An unexplained 2 units appear on the ledger.
	core.Ledger.SetBalance("acct-1", decimal.NewFromInt(12))
	bal, err := core.Manager.GetVaultBalance(context.Background(), "vault-1")
	require.NoError(t, err)
	assert.Equal(t, "12", bal.String())

	d, err := core.Manager.GetVaultDetails("vault-1")
	require.NoError(t, err)
	assert.Equal(t, "12", d.Vault.Balance)
	require.Len(t, d.Anomalies, 1)
	assert.Equal(t, "2", d.Anomalies[0].Delta)

	_, err = core.Manager.GetVaultDetails("nope")
	assert.True(t, errors.ErrNotFound.Is(err))
}

func TestFundVault(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)

	entry, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount:      decimal.NewFromInt(10),
		Funder:      "signer-2",
		Description: "quarterly top up",
	})
	require.NoError(t, err)
	assert.Equal(t, "10", entry.Amount)
	assert.NotEmpty(t, entry.TxRef)

	v, err := core.Registry.Vault(core.DB, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, "10", v.Balance)
}

func TestFundVaultRejectsNonPositiveAmount(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)

	_, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.Zero,
		Funder: "signer-1",
	})
	assert.True(t, errors.ErrAmount.Is(err))
	assert.Equal(t, 0, core.Ledger.SubmitCount)
}

func TestFundVaultUnauthorizedFunderIsAudited(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)

	_, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(10),
		Funder: "stranger",
	})
	assert.True(t, errors.ErrUnauthorized.Is(err))

	// The denial survives the failed call.
	entries, err := core.Audit.Search(core.DB, "vault-1", audit.Filters{
		Actor: "stranger",
		Kind:  audit.KindAccessAttempt,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Granted)
}

func TestFundVaultHonorsBalanceCap(t *testing.T) {
	core := custodytest.NewCore()
	cfg := operationalConfig()
	cfg.MaxBalance = "15"
	_, err := core.Manager.CreateVault(context.Background(), cfg, "signer-1")
	require.NoError(t, err)

	fund(t, core, 10)

	_, err = core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(6),
		Funder: "signer-1",
	})
	assert.True(t, errors.ErrAmount.Is(err))

	// Exactly at the cap is fine.
	fund(t, core, 5)
}

func TestFundVaultRetriesTransientFailures(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)
	core.Ledger.FailuresLeft = 2

	entry, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(10),
		Funder: "signer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, custody.TxRef("tx-3"), entry.TxRef)
	assert.Equal(t, 3, core.Ledger.SubmitCount)
}

func TestFundVaultFailedConfirmationLeavesNoHistory(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)
	core.Ledger.Status = map[custody.TxRef]custody.TxStatus{"tx-1": custody.TxFailed}

	_, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(10),
		Funder: "signer-1",
	})
	assert.True(t, errors.ErrLedgerUnavailable.Is(err))

	history, herr := core.Manager.BalanceHistory("vault-1", 0)
	require.NoError(t, herr)
	assert.Empty(t, history)

	v, verr := core.Registry.Vault(core.DB, "vault-1")
	require.NoError(t, verr)
	assert.Equal(t, "0", v.Balance)
}

func TestDeactivateVault(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)

	// Only administrators may deactivate.
	err := core.Manager.DeactivateVault("vault-1", "signer-2")
	assert.True(t, errors.ErrUnauthorized.Is(err))

	require.NoError(t, core.Manager.DeactivateVault("vault-1", "signer-1"))
	v, err := core.Registry.Vault(core.DB, "vault-1")
	require.NoError(t, err)
	assert.False(t, v.IsActive)

	// Repeating is a no-op regardless of who asks.
	assert.NoError(t, core.Manager.DeactivateVault("vault-1", "stranger"))

	// Every further operation on the vault is denied.
	_, err = core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(1),
		Funder: "signer-1",
	})
	assert.True(t, errors.ErrState.Is(err))
}

// TestVaultLifecycle walks a vault through funding, an emergency freeze and
// back to normal operation.
func TestVaultLifecycle(t *testing.T) {
	core := custodytest.NewCore()
	ctx := context.Background()
	createVault(t, core)

	fund(t, core, 10)
	bal, err := core.Manager.GetVaultBalance(ctx, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, "10", bal.String())

	// Three of five signers freeze the vault.
	_, err = core.Manager.ActivateEmergency("vault-1", "suspicious withdrawal pattern", custodytest.Signers(3))
	require.NoError(t, err)

	_, err = core.Manager.FundVault(ctx, "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(1),
		Funder: "signer-1",
	})
	assert.True(t, errors.ErrEmergencyActive.Is(err))

	_, err = core.Manager.DeactivateEmergency("vault-1", custodytest.Signers(3), "false alarm")
	require.NoError(t, err)

	fund(t, core, 1)
	bal, err = core.Manager.GetVaultBalance(ctx, "vault-1")
	require.NoError(t, err)
	assert.Equal(t, "11", bal.String())

	cycles, err := core.Manager.EmergencyHistory("vault-1")
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.False(t, cycles[0].Open())

	// The full trail verifies end to end.
	report, err := core.Manager.VerifyAuditIntegrity("vault-1")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
}

func TestAuditTrailAcrossOperations(t *testing.T) {
	core := custodytest.NewCore()
	createVault(t, core)

	entry, err := core.Manager.FundVault(context.Background(), "vault-1", vault.FundRequest{
		Amount: decimal.NewFromInt(10),
		Funder: "signer-1",
	})
	require.NoError(t, err)

	trail, err := core.Manager.AuditTrail(string(entry.TxRef))
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.KindBalanceChange, trail[0].Kind)
}

func TestMetricsRegister(t *testing.T) {
	m := vault.NewMetrics()

	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	err := m.Register(reg)
	assert.True(t, errors.ErrConfiguration.Is(err), "double registration must fail")
}
