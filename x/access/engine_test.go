package access_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/custodytest"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/x/access"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
)

// newVault persists an active n-signer vault with threshold m and initializes
// permissions, with the first signer as admin.
func newVault(t *testing.T, core *custodytest.Core, m, n int) *custody.Vault {
	t.Helper()
	signers := custodytest.Signers(n)
	v := &custody.Vault{
		ID:                 "vault-1",
		Address:            "acct-1",
		Type:               custody.VaultTypeOperational,
		RequiredSignatures: m,
		Signers:            signers,
		Balance:            "0",
		IsActive:           true,
		CreatedAt:          custody.AsUnixTime(core.Clock.Now()),
	}
	require.NoError(t, core.Registry.PutVault(core.DB, v))
	require.NoError(t, core.Access.InitSigners(core.DB, v, signers[0]))
	return v
}

func TestCheckGrantsAndAudits(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	require.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign))

	entries, err := core.Audit.Search(core.DB, "vault-1", audit.Filters{Kind: audit.KindAccessAttempt})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Granted)
	assert.Equal(t, custody.SignerID("signer-2"), entries[0].Actor)
}

func TestCheckDenials(t *testing.T) {
	cases := map[string]struct {
		prepare func(t *testing.T, core *custodytest.Core)
		signer  custody.SignerID
		action  access.Action
		wantErr *errors.Error
	}{
		"stranger cannot sign": {
			prepare: func(*testing.T, *custodytest.Core) {},
			signer:  "stranger",
			action:  access.ActionSign,
			wantErr: errors.ErrUnauthorized,
		},
		"signer without admin authority": {
			prepare: func(*testing.T, *custodytest.Core) {},
			signer:  "signer-2",
			action:  access.ActionAdmin,
			wantErr: errors.ErrUnauthorized,
		},
		"inactive vault denies everyone": {
			prepare: func(t *testing.T, core *custodytest.Core) {
				v, err := core.Registry.Vault(core.DB, "vault-1")
				require.NoError(t, err)
				v.IsActive = false
				require.NoError(t, core.Registry.PutVault(core.DB, v))
			},
			signer:  "signer-1",
			action:  access.ActionSign,
			wantErr: errors.ErrState,
		},
		"compromised signer": {
			prepare: func(t *testing.T, core *custodytest.Core) {
				require.NoError(t, core.Access.MarkSignerCompromised(core.DB, "vault-1", "signer-3", "key leaked"))
			},
			signer:  "signer-3",
			action:  access.ActionSign,
			wantErr: errors.ErrUnauthorized,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			core := custodytest.NewCore()
			newVault(t, core, 3, 5)
			tc.prepare(t, core)

			err := core.Access.Check(core.DB, "vault-1", tc.signer, tc.action)
			assert.True(t, tc.wantErr.Is(err), "unexpected error: %v", err)

			// The denial is audited.
			entries, serr := core.Audit.Search(core.DB, "vault-1", audit.Filters{
				Kind:  audit.KindAccessAttempt,
				Actor: tc.signer,
			})
			require.NoError(t, serr)
			require.NotEmpty(t, entries)
			assert.False(t, entries[0].Granted)
		})
	}
}

func TestLockoutAtThreshold(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	// signer-2 holds no admin authority; each denied admin attempt is a
	// signing-class failure.
	for i := 0; i < core.Config.LockoutThreshold-1; i++ {
		err := core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)
		assert.True(t, errors.ErrUnauthorized.Is(err))
	}

	status, err := core.Access.LockoutStatus(core.DB, "vault-1", "signer-2")
	require.NoError(t, err)
	assert.Equal(t, core.Config.LockoutThreshold-1, status.FailedAttempts)
	assert.Zero(t, status.LockedUntil)

	// One below threshold: signing still allowed.
	require.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign))

	// The threshold-crossing failure locks.
	err = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)
	assert.True(t, errors.ErrUnauthorized.Is(err))

	status, err = core.Access.LockoutStatus(core.DB, "vault-1", "signer-2")
	require.NoError(t, err)
	assert.NotZero(t, status.LockedUntil)

	// Locked: even a permitted signing action is denied.
	err = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign)
	assert.True(t, errors.ErrLockedOut.Is(err))

	// View is still allowed while locked.
	assert.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionView))
}

func TestViewDenialsDoNotCountTowardLockout(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	for i := 0; i < core.Config.LockoutThreshold+2; i++ {
		err := core.Access.Check(core.DB, "vault-1", "stranger", access.ActionView)
		assert.True(t, errors.ErrUnauthorized.Is(err))
	}

	status, err := core.Access.LockoutStatus(core.DB, "vault-1", "stranger")
	require.NoError(t, err)
	assert.Zero(t, status.FailedAttempts)
	assert.Zero(t, status.LockedUntil)
}

func TestLockoutWindowResets(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	for i := 0; i < core.Config.LockoutThreshold-1; i++ {
		_ = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)
	}
	core.Clock.Advance(core.Config.LockoutWindow() + time.Second)
	_ = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)

	status, err := core.Access.LockoutStatus(core.DB, "vault-1", "signer-2")
	require.NoError(t, err)
	assert.Equal(t, 1, status.FailedAttempts)
	assert.Zero(t, status.LockedUntil)
}

func TestLockoutExpiresAndCanRelock(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	lock := func() {
		for i := 0; i < core.Config.LockoutThreshold; i++ {
			_ = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)
		}
		err := core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign)
		assert.True(t, errors.ErrLockedOut.Is(err))
	}
	lock()

	core.Clock.Advance(core.Config.LockoutDuration() + time.Second)
	require.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign))

	// A fresh failure streak locks again.
	lock()
}

func TestOverrideLockout(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	for i := 0; i < core.Config.LockoutThreshold; i++ {
		_ = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)
	}

	// Non-admin cannot override.
	err := core.Access.OverrideLockout(core.DB, "vault-1", "signer-2", "signer-3", "please")
	assert.True(t, errors.ErrUnauthorized.Is(err))

	// signer-1 is the vault admin.
	require.NoError(t, core.Access.OverrideLockout(core.DB, "vault-1", "signer-2", "signer-1", "verified with signer by phone"))

	status, err := core.Access.LockoutStatus(core.DB, "vault-1", "signer-2")
	require.NoError(t, err)
	assert.Zero(t, status.FailedAttempts)
	assert.Zero(t, status.LockedUntil)
	require.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign))
}

func TestOverrideLockoutRequiresReason(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	err := core.Access.OverrideLockout(core.DB, "vault-1", "signer-2", "signer-1", "")
	assert.True(t, errors.ErrInput.Is(err))
}

func TestPermissionsOfLockedSigner(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	for i := 0; i < core.Config.LockoutThreshold; i++ {
		_ = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionAdmin)
	}

	p, err := core.Access.Permissions(core.DB, "vault-1", "signer-2")
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.True(t, p.CanView)
	assert.False(t, p.CanSign)
	assert.False(t, p.CanPropose)
	assert.False(t, p.Admin)
}

func TestPermissionsExposeAdminFlag(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	p, err := core.Access.Permissions(core.DB, "vault-1", "signer-1")
	require.NoError(t, err)
	assert.True(t, p.Admin)

	p, err = core.Access.Permissions(core.DB, "vault-1", "signer-2")
	require.NoError(t, err)
	assert.False(t, p.Admin)

	// A locked out admin loses administrative authority until the lockout
	// clears. Revoking the sign permission lets the denials accumulate.
	require.NoError(t, core.Access.UpdateSignerPermissions(core.DB, "vault-1", "signer-1", "signer-1",
		access.Permissions{CanView: true, IsActive: true}))
	for i := 0; i < core.Config.LockoutThreshold; i++ {
		_ = core.Access.Check(core.DB, "vault-1", "signer-1", access.ActionSign)
	}

	p, err = core.Access.Permissions(core.DB, "vault-1", "signer-1")
	require.NoError(t, err)
	assert.False(t, p.Admin)
}

func TestValidApprovers(t *testing.T) {
	core := custodytest.NewCore()
	v := newVault(t, core, 3, 5)

	require.NoError(t, core.Access.MarkSignerCompromised(core.DB, "vault-1", "signer-4", "stolen laptop"))

	valid, err := core.Access.ValidApprovers(core.DB, v, []custody.SignerID{
		"signer-1",
		"signer-1", // duplicate
		"signer-2",
		"signer-4", // compromised
		"stranger", // not a member
	})
	require.NoError(t, err)
	assert.Equal(t, []custody.SignerID{"signer-1", "signer-2"}, valid)
}

func TestUpdateSignerPermissions(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	err := core.Access.UpdateSignerPermissions(core.DB, "vault-1", "signer-2", "signer-3", access.Permissions{})
	assert.True(t, errors.ErrUnauthorized.Is(err), "non-admin must not update permissions")

	require.NoError(t, core.Access.UpdateSignerPermissions(core.DB, "vault-1", "signer-2", "signer-1", access.Permissions{
		CanView:  true,
		IsActive: true,
	}))

	err = core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionSign)
	assert.True(t, errors.ErrUnauthorized.Is(err))
	assert.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-2", access.ActionView))
}

func TestRotateSigner(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	// Two approvers is below the 3-of-5 threshold.
	err := core.Access.RotateSigner(core.DB, "vault-1", "signer-5", "signer-6",
		[]custody.SignerID{"signer-1", "signer-2"}, "key rollover")
	assert.True(t, errors.ErrQuorumNotMet.Is(err))

	require.NoError(t, core.Access.RotateSigner(core.DB, "vault-1", "signer-5", "signer-6",
		[]custody.SignerID{"signer-1", "signer-2", "signer-3"}, "key rollover"))

	v, err := core.Registry.Vault(core.DB, "vault-1")
	require.NoError(t, err)
	assert.False(t, v.HasSigner("signer-5"))
	assert.True(t, v.HasSigner("signer-6"))

	assert.NoError(t, core.Access.Check(core.DB, "vault-1", "signer-6", access.ActionSign))
	err = core.Access.Check(core.DB, "vault-1", "signer-5", access.ActionSign)
	assert.True(t, errors.ErrUnauthorized.Is(err))
}

func TestRotateSignerCompromisedApproverDoesNotCount(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	require.NoError(t, core.Access.MarkSignerCompromised(core.DB, "vault-1", "signer-3", "phished"))

	err := core.Access.RotateSigner(core.DB, "vault-1", "signer-3", "signer-6",
		[]custody.SignerID{"signer-1", "signer-2", "signer-3"}, "replace compromised key")
	assert.True(t, errors.ErrQuorumNotMet.Is(err))

	require.NoError(t, core.Access.RotateSigner(core.DB, "vault-1", "signer-3", "signer-6",
		[]custody.SignerID{"signer-1", "signer-2", "signer-4"}, "replace compromised key"))
}

func TestCheckSignerAccess(t *testing.T) {
	core := custodytest.NewCore()
	newVault(t, core, 3, 5)

	ok, err := core.Access.CheckSignerAccess(core.DB, "vault-1", "signer-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = core.Access.CheckSignerAccess(core.DB, "vault-1", "stranger")
	require.NoError(t, err)
	assert.False(t, ok)
}
