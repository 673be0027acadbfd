/*
Package access implements the access control engine: per-signer permission
evaluation, failed-attempt lockout, signer compromise and rotation.

Every access check writes exactly one audit entry, granted or denied. Denials
of signing-class actions count toward the per (vault, signer) lockout; view
denials do not. The engine never caches vault state across operations.
*/
package access

import (
	"log/slog"
	"time"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/orm"
	"github.com/V1C70RYG0D/Nen-sub008/store"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
)

// Engine evaluates whether a signer identity may perform an action against a
// vault and tracks failed attempts and lockout state.
type Engine struct {
	perms    orm.Bucket
	lockouts orm.Bucket
	audit    *audit.Ledger
	vaults   custody.VaultStore
	logger   *slog.Logger
	now      func() time.Time

	lockoutThreshold int
	lockoutWindow    time.Duration
	lockoutDuration  time.Duration
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Audit  *audit.Ledger
	Vaults custody.VaultStore
	Logger *slog.Logger
	Now    func() time.Time

	// LockoutThreshold failed signing attempts within LockoutWindow lock
	// the signer for LockoutDuration.
	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutDuration  time.Duration
}

// NewEngine returns an access control engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Audit == nil {
		panic("access engine requires an audit ledger")
	}
	if opts.Vaults == nil {
		panic("access engine requires a vault store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockoutThreshold == 0 {
		opts.LockoutThreshold = 5
	}
	if opts.LockoutWindow == 0 {
		opts.LockoutWindow = 5 * time.Minute
	}
	if opts.LockoutDuration == 0 {
		opts.LockoutDuration = 30 * time.Minute
	}
	return &Engine{
		perms:            orm.NewBucket("sigperm"),
		lockouts:         orm.NewBucket("lockout"),
		audit:            opts.Audit,
		vaults:           opts.Vaults,
		logger:           opts.Logger,
		now:              opts.Now,
		lockoutThreshold: opts.LockoutThreshold,
		lockoutWindow:    opts.LockoutWindow,
		lockoutDuration:  opts.LockoutDuration,
	}
}

// InitSigners creates active permission records for every vault signer and an
// administrative record for the creator. Called by the vault manager during
// vault creation.
func (e *Engine) InitSigners(db store.KVStore, vault *custody.Vault, creator custody.SignerID) error {
	for _, signer := range vault.Signers {
		rec := &PermissionRecord{
			Vault:      vault.ID,
			Signer:     signer,
			CanPropose: true,
			CanSign:    true,
			CanView:    true,
			IsActive:   true,
			Admin:      signer == creator,
		}
		if err := e.perms.Put(db, permKey(vault.ID, signer), rec); err != nil {
			return errors.Wrapf(err, "signer %q", signer)
		}
	}
	if !vault.HasSigner(creator) {
		rec := &PermissionRecord{
			Vault:    vault.ID,
			Signer:   creator,
			CanView:  true,
			IsActive: true,
			Admin:    true,
		}
		if err := e.perms.Put(db, permKey(vault.ID, creator), rec); err != nil {
			return errors.Wrap(err, "creator record")
		}
	}
	return nil
}

// Check evaluates whether the signer may perform the action. A nil return
// grants access. Every call writes one audit entry; denied signing attempts
// advance the lockout counter. Writes go directly to db and are meant to be
// committed even when the operation being checked subsequently fails.
func (e *Engine) Check(db store.KVStore, vaultID custody.VaultID, signer custody.SignerID, action Action) error {
	if err := action.Validate(); err != nil {
		return err
	}

	vault, err := e.vaults.Vault(db, vaultID)
	if err != nil {
		return err
	}

	deny := func(reason string, kind *errors.Error) error {
		if action.countsTowardLockout() {
			if err := e.registerFailure(db, vaultID, signer, reason); err != nil {
				return err
			}
		}
		if _, err := e.audit.Append(db, audit.Record{
			Vault:       vaultID,
			Kind:        audit.KindAccessAttempt,
			Actor:       signer,
			Action:      string(action),
			Granted:     false,
			Description: reason,
		}); err != nil {
			return err
		}
		e.logger.Info("access denied",
			"vault", string(vaultID),
			"signer", string(signer),
			"action", string(action),
			"reason", reason,
		)
		return errors.Wrapf(kind, "%s: %s", signer, reason)
	}

	rec, err := e.permissionRecord(db, vaultID, signer)
	if err != nil {
		return err
	}

	switch {
	case !vault.IsActive:
		return deny("vault is not active", errors.ErrState)
	case rec == nil:
		return deny("not a vault signer", errors.ErrUnauthorized)
	case rec.Compromised:
		return deny("signer marked compromised", errors.ErrUnauthorized)
	case !rec.IsActive:
		return deny("signer is not active", errors.ErrUnauthorized)
	}

	status, err := e.lockoutStatus(db, vaultID, signer)
	if err != nil {
		return err
	}
	if status.LockedAt(custody.AsUnixTime(e.now())) && action != ActionView {
		return deny("signer is locked out", errors.ErrLockedOut)
	}

	if !rec.allows(action) {
		return deny("permission denied for "+string(action), errors.ErrUnauthorized)
	}

	_, err = e.audit.Append(db, audit.Record{
		Vault:   vaultID,
		Kind:    audit.KindAccessAttempt,
		Actor:   signer,
		Action:  string(action),
		Granted: true,
	})
	return err
}

// CheckSignerAccess is the boolean form of Check for callers that only need
// the verdict. The audit side effect happens either way.
func (e *Engine) CheckSignerAccess(db store.KVStore, vaultID custody.VaultID, signer custody.SignerID) (bool, error) {
	switch err := e.Check(db, vaultID, signer, ActionSign); {
	case err == nil:
		return true, nil
	case errors.ErrUnauthorized.Is(err), errors.ErrLockedOut.Is(err), errors.ErrState.Is(err):
		return false, nil
	default:
		return false, err
	}
}

// Permissions derives the effective permission view for a signer. A locked
// out signer retains CanView but loses CanPropose, CanSign and Admin until
// the lockout elapses or is overridden.
func (e *Engine) Permissions(db store.ReadOnlyKVStore, vaultID custody.VaultID, signer custody.SignerID) (*Permissions, error) {
	rec, err := e.permissionRecord(db, vaultID, signer)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "no permission record for %q", signer)
	}

	status, err := e.lockoutStatus(db, vaultID, signer)
	if err != nil {
		return nil, err
	}

	p := &Permissions{
		CanPropose: rec.allows(ActionPropose),
		CanSign:    rec.allows(ActionSign),
		CanView:    rec.allows(ActionView),
		Admin:      rec.allows(ActionAdmin),
		IsActive:   rec.IsActive && !rec.Compromised,
	}
	if status.LockedAt(custody.AsUnixTime(e.now())) {
		p.CanPropose = false
		p.CanSign = false
		p.Admin = false
	}
	return p, nil
}

// LockoutStatus returns the current lockout state for a signer. Signers with
// no failures get a zero status.
func (e *Engine) LockoutStatus(db store.ReadOnlyKVStore, vaultID custody.VaultID, signer custody.SignerID) (*LockoutStatus, error) {
	return e.lockoutStatus(db, vaultID, signer)
}

// OverrideLockout clears a signer's failed attempts and lockout. The admin
// must hold administrative authority on the vault; the override reason is
// logged permanently.
func (e *Engine) OverrideLockout(db store.KVStore, vaultID custody.VaultID, signer custody.SignerID, admin custody.SignerID, reason string) error {
	if reason == "" {
		return errors.Wrap(errors.ErrInput, "override reason is required")
	}
	if err := e.Check(db, vaultID, admin, ActionAdmin); err != nil {
		return err
	}

	status, err := e.lockoutStatus(db, vaultID, signer)
	if err != nil {
		return err
	}
	status.FailedAttempts = 0
	status.LockedUntil = 0
	status.WindowStart = 0
	status.Reason = ""
	if err := e.lockouts.Put(db, permKey(vaultID, signer), status); err != nil {
		return err
	}

	_, err = e.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindAdminAction,
		Actor:       admin,
		Action:      "override_lockout",
		Granted:     true,
		Reference:   string(signer),
		Description: reason,
	})
	return err
}

// MarkSignerCompromised sets the signer inactive immediately and excludes
// them from quorum counting. The signer stays in the vault's signer set;
// formally replacing them requires RotateSigner with its own quorum, so that
// "stop trusting now" and "formally replace" stay independent, auditable
// actions.
func (e *Engine) MarkSignerCompromised(db store.KVStore, vaultID custody.VaultID, signer custody.SignerID, reason string) error {
	if reason == "" {
		return errors.Wrap(errors.ErrInput, "compromise reason is required")
	}
	rec, err := e.permissionRecord(db, vaultID, signer)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Wrapf(errors.ErrNotFound, "no permission record for %q", signer)
	}

	rec.IsActive = false
	rec.Compromised = true
	rec.CompromisedReason = reason
	if err := e.perms.Put(db, permKey(vaultID, signer), rec); err != nil {
		return err
	}

	e.logger.Warn("signer marked compromised",
		"vault", string(vaultID),
		"signer", string(signer),
		"reason", reason,
	)
	_, err = e.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindAdminAction,
		Action:      "mark_compromised",
		Granted:     true,
		Reference:   string(signer),
		Description: reason,
	})
	return err
}

// UpdateSignerPermissions adjusts the propose/sign/view flags of a signer.
// Requires administrative authority. The admin flag itself is not adjustable
// through this path.
func (e *Engine) UpdateSignerPermissions(db store.KVStore, vaultID custody.VaultID, signer custody.SignerID, admin custody.SignerID, p Permissions) error {
	if err := e.Check(db, vaultID, admin, ActionAdmin); err != nil {
		return err
	}
	rec, err := e.permissionRecord(db, vaultID, signer)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Wrapf(errors.ErrNotFound, "no permission record for %q", signer)
	}
	if rec.Compromised {
		return errors.Wrap(errors.ErrState, "cannot update a compromised signer")
	}

	rec.CanPropose = p.CanPropose
	rec.CanSign = p.CanSign
	rec.CanView = p.CanView
	rec.IsActive = p.IsActive
	if err := e.perms.Put(db, permKey(vaultID, signer), rec); err != nil {
		return err
	}

	_, err = e.audit.Append(db, audit.Record{
		Vault:     vaultID,
		Kind:      audit.KindAdminAction,
		Actor:     admin,
		Action:    "update_permissions",
		Granted:   true,
		Reference: string(signer),
	})
	return err
}

// RotateSigner atomically replaces oldSigner with newSigner in the vault
// signer set. The approver set must contain at least the vault's signing
// threshold of distinct, active, non-compromised signers.
func (e *Engine) RotateSigner(db store.KVStore, vaultID custody.VaultID, oldSigner, newSigner custody.SignerID, approvers []custody.SignerID, reason string) error {
	vault, err := e.vaults.Vault(db, vaultID)
	if err != nil {
		return err
	}
	if !vault.HasSigner(oldSigner) {
		return errors.Wrapf(errors.ErrNotFound, "%q is not a vault signer", oldSigner)
	}
	if vault.HasSigner(newSigner) {
		return errors.Wrapf(errors.ErrDuplicate, "%q is already a vault signer", newSigner)
	}
	if newSigner == "" {
		return errors.Wrap(errors.ErrInput, "new signer identity is required")
	}

	valid, err := e.ValidApprovers(db, vault, approvers)
	if err != nil {
		return err
	}
	if len(valid) < vault.RequiredSignatures {
		if _, aerr := e.audit.Append(db, audit.Record{
			Vault:       vaultID,
			Kind:        audit.KindAdminAction,
			Action:      "rotate_signer",
			Granted:     false,
			Reference:   string(oldSigner),
			Description: "quorum not met",
		}); aerr != nil {
			return aerr
		}
		return errors.Wrapf(errors.ErrQuorumNotMet,
			"%d of %d required approvals", len(valid), vault.RequiredSignatures)
	}

	for i, s := range vault.Signers {
		if s == oldSigner {
			vault.Signers[i] = newSigner
			break
		}
	}
	if err := e.vaults.PutVault(db, vault); err != nil {
		return err
	}

	oldRec, err := e.permissionRecord(db, vaultID, oldSigner)
	if err != nil {
		return err
	}
	oldRec.IsActive = false
	if err := e.perms.Put(db, permKey(vaultID, oldSigner), oldRec); err != nil {
		return err
	}

	newRec := &PermissionRecord{
		Vault:      vaultID,
		Signer:     newSigner,
		CanPropose: true,
		CanSign:    true,
		CanView:    true,
		IsActive:   true,
	}
	if err := e.perms.Put(db, permKey(vaultID, newSigner), newRec); err != nil {
		return err
	}

	_, err = e.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindAdminAction,
		Action:      "rotate_signer",
		Granted:     true,
		Reference:   string(oldSigner) + "->" + string(newSigner),
		Description: reason,
	})
	return err
}

// ApplySignerReplacement deactivates the removed signers' permission records
// and creates fresh full-permission records for the added signers. Records of
// surviving signers are left untouched. Quorum validation is the caller's
// responsibility; this only applies the permission side of an already
// authorized replacement.
func (e *Engine) ApplySignerReplacement(db store.KVStore, vaultID custody.VaultID, removed, added []custody.SignerID) error {
	for _, signer := range removed {
		rec, err := e.permissionRecord(db, vaultID, signer)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		rec.IsActive = false
		if err := e.perms.Put(db, permKey(vaultID, signer), rec); err != nil {
			return errors.Wrapf(err, "removed signer %q", signer)
		}
	}
	for _, signer := range added {
		rec := &PermissionRecord{
			Vault:      vaultID,
			Signer:     signer,
			CanPropose: true,
			CanSign:    true,
			CanView:    true,
			IsActive:   true,
		}
		if err := e.perms.Put(db, permKey(vaultID, signer), rec); err != nil {
			return errors.Wrapf(err, "added signer %q", signer)
		}
	}
	return nil
}

// ValidApprovers deduplicates the given identities and keeps only current
// vault signers that are active, not compromised and allowed to sign. A
// compromised signer drops out of every quorum immediately, even if their
// record allowed signing moments before.
func (e *Engine) ValidApprovers(db store.ReadOnlyKVStore, vault *custody.Vault, signers []custody.SignerID) ([]custody.SignerID, error) {
	now := custody.AsUnixTime(e.now())
	seen := make(map[custody.SignerID]struct{}, len(signers))
	var valid []custody.SignerID

	for _, signer := range signers {
		if _, ok := seen[signer]; ok {
			continue
		}
		seen[signer] = struct{}{}

		if !vault.HasSigner(signer) {
			continue
		}
		rec, err := e.permissionRecord(db, vault.ID, signer)
		if err != nil {
			return nil, err
		}
		if rec == nil || !rec.allows(ActionSign) {
			continue
		}
		status, err := e.lockoutStatus(db, vault.ID, signer)
		if err != nil {
			return nil, err
		}
		if status.LockedAt(now) {
			continue
		}
		valid = append(valid, signer)
	}
	return valid, nil
}

// registerFailure advances the failed-attempt counter within the rolling
// window and locks the signer when the threshold is crossed.
func (e *Engine) registerFailure(db store.KVStore, vaultID custody.VaultID, signer custody.SignerID, reason string) error {
	status, err := e.lockoutStatus(db, vaultID, signer)
	if err != nil {
		return err
	}

	now := custody.AsUnixTime(e.now())
	if status.LockedUntil != 0 && now >= status.LockedUntil {
		// The previous lockout elapsed; start a fresh cycle.
		status.LockedUntil = 0
		status.Reason = ""
		status.FailedAttempts = 0
		status.WindowStart = 0
	}
	if status.WindowStart == 0 || now.Time().Sub(status.WindowStart.Time()) > e.lockoutWindow {
		status.WindowStart = now
		status.FailedAttempts = 0
	}
	status.FailedAttempts++

	if status.FailedAttempts >= e.lockoutThreshold && status.LockedUntil == 0 {
		status.LockedUntil = now.Add(e.lockoutDuration)
		status.Reason = reason
		e.logger.Warn("signer locked out",
			"vault", string(vaultID),
			"signer", string(signer),
			"failed_attempts", status.FailedAttempts,
		)
	}
	return e.lockouts.Put(db, permKey(vaultID, signer), status)
}

func (e *Engine) permissionRecord(db store.ReadOnlyKVStore, vaultID custody.VaultID, signer custody.SignerID) (*PermissionRecord, error) {
	var rec PermissionRecord
	switch err := e.perms.One(db, permKey(vaultID, signer), &rec); {
	case err == nil:
		return &rec, nil
	case errors.ErrNotFound.Is(err):
		return nil, nil
	default:
		return nil, err
	}
}

func (e *Engine) lockoutStatus(db store.ReadOnlyKVStore, vaultID custody.VaultID, signer custody.SignerID) (*LockoutStatus, error) {
	var status LockoutStatus
	switch err := e.lockouts.One(db, permKey(vaultID, signer), &status); {
	case err == nil:
		return &status, nil
	case errors.ErrNotFound.Is(err):
		return &LockoutStatus{Vault: vaultID, Signer: signer}, nil
	default:
		return nil, err
	}
}
