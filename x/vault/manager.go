/*
Package vault implements the top-level orchestrator of the custody core.

The Manager owns the vault registry and the per-vault operation lock. Callers
address the Manager; it delegates permission checks to the access engine,
balance bookkeeping to the tracker, and state transitions to the emergency
and recovery controllers. Every mutating operation takes the vault lock for
its full read-modify-write; read paths take no lock.

Ordering rules the Manager enforces:

  - A vault record is persisted only after its ledger account exists, so a
    ledger failure never leaves an orphaned off-ledger record.
  - Funding appends the balance history entry only after the ledger transfer
    is confirmed, so a failed confirmation never produces a false entry.
  - Authorization denials and lockout bookkeeping are written to the base
    store before the operation fails, so they survive the failed call.
*/
package vault

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/config"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/store"
	"github.com/V1C70RYG0D/Nen-sub008/x/access"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
	"github.com/V1C70RYG0D/Nen-sub008/x/balance"
	"github.com/V1C70RYG0D/Nen-sub008/x/emergency"
	"github.com/V1C70RYG0D/Nen-sub008/x/recovery"
)

// Manager is the vault orchestrator.
type Manager struct {
	db        store.CacheableKVStore
	registry  *Registry
	audit     *audit.Ledger
	access    *access.Engine
	tracker   *balance.Tracker
	emergency *emergency.Controller
	recovery  *recovery.Coordinator
	client    custody.LedgerClient
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	metrics   *Metrics

	treasuryMinSignatures int
	treasuryMaxBalance    string
	operationalMaxBalance string
	retry                 custody.RetryPolicy
	confirmTimeout        time.Duration
	confirmPoll           time.Duration

	mu    sync.Mutex
	locks map[custody.VaultID]*sync.Mutex
}

// ManagerOptions configures a Manager. All component references are required
// except Logger, Now and Metrics.
type ManagerOptions struct {
	DB        store.CacheableKVStore
	Registry  *Registry
	Audit     *audit.Ledger
	Access    *access.Engine
	Tracker   *balance.Tracker
	Emergency *emergency.Controller
	Recovery  *recovery.Coordinator
	Client    custody.LedgerClient
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time
	Metrics   *Metrics
}

// NewManager returns a vault manager.
func NewManager(opts ManagerOptions) *Manager {
	switch {
	case opts.DB == nil:
		panic("vault manager requires a store")
	case opts.Registry == nil:
		panic("vault manager requires a registry")
	case opts.Audit == nil:
		panic("vault manager requires an audit ledger")
	case opts.Access == nil:
		panic("vault manager requires an access engine")
	case opts.Tracker == nil:
		panic("vault manager requires a balance tracker")
	case opts.Emergency == nil:
		panic("vault manager requires an emergency controller")
	case opts.Recovery == nil:
		panic("vault manager requires a recovery coordinator")
	case opts.Client == nil:
		panic("vault manager requires a ledger client")
	case opts.Config == nil:
		panic("vault manager requires a configuration")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	attempts, base, max := opts.Config.RetryPolicy()
	return &Manager{
		db:                    opts.DB,
		registry:              opts.Registry,
		audit:                 opts.Audit,
		access:                opts.Access,
		tracker:               opts.Tracker,
		emergency:             opts.Emergency,
		recovery:              opts.Recovery,
		client:                opts.Client,
		logger:                opts.Logger,
		now:                   opts.Now,
		newID:                 uuid.NewString,
		metrics:               opts.Metrics,
		treasuryMinSignatures: opts.Config.TreasuryMinSignatures,
		treasuryMaxBalance:    opts.Config.TreasuryMaxBalance,
		operationalMaxBalance: opts.Config.OperationalMaxBalance,
		retry:                 custody.RetryPolicy{Attempts: attempts, BaseDelay: base, MaxDelay: max},
		confirmTimeout:        opts.Config.ConfirmationTimeout(),
		confirmPoll:           opts.Config.ConfirmationPoll(),
		locks:                 make(map[custody.VaultID]*sync.Mutex),
	}
}

// lockVault serializes mutating operations per vault. Returns the unlock
// function.
func (m *Manager) lockVault(id custody.VaultID) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// VaultConfig is the caller-supplied configuration of a new vault.
type VaultConfig struct {
	// ID is optional; a UUID is assigned when empty.
	ID                 custody.VaultID
	Type               custody.VaultType
	RequiredSignatures int
	Signers            []custody.SignerID

	// EmergencyThreshold of zero falls back to RequiredSignatures.
	EmergencyThreshold int
	TimelockSeconds    int64

	// MaxBalance of empty falls back to the configured cap for the vault
	// type. Treasury vaults always end up with a cap.
	MaxBalance string

	// InitialBalance funds the vault through the ledger client right after
	// creation when positive.
	InitialBalance string
}

// CreateVault allocates a ledger account, persists the vault record,
// initializes signer permissions and optionally funds the vault. The record
// is written only after ledger account creation succeeded.
func (m *Manager) CreateVault(ctx context.Context, cfg VaultConfig, creator custody.SignerID) (v *custody.Vault, err error) {
	defer func() { m.metrics.observe("create_vault", err) }()

	if creator == "" {
		return nil, errors.Wrap(errors.ErrInput, "creator identity is required")
	}
	initial, err := custody.ParseAmount(cfg.InitialBalance)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "initial balance: "+err.Error())
	}
	if initial.IsNegative() {
		return nil, errors.Wrap(errors.ErrConfiguration, "initial balance must not be negative")
	}

	id := cfg.ID
	if id == "" {
		id = custody.VaultID(m.newID())
	}
	unlock := m.lockVault(id)
	defer unlock()

	if m.registry.Has(m.db, id) {
		return nil, errors.Wrapf(errors.ErrDuplicate, "vault %s", id)
	}

	now := custody.AsUnixTime(m.now())
	v = &custody.Vault{
		ID:                 id,
		Type:               cfg.Type,
		RequiredSignatures: cfg.RequiredSignatures,
		Signers:            cfg.Signers,
		Balance:            "0",
		MaxBalance:         cfg.MaxBalance,
		IsActive:           true,
		EmergencyThreshold: cfg.EmergencyThreshold,
		TimelockSeconds:    cfg.TimelockSeconds,
		CreatedAt:          now,
		LastActivity:       now,
	}
	if err := m.applyTypePolicy(v); err != nil {
		return nil, err
	}
	// Validate everything except the address before a ledger account is
	// consumed, so caller errors never allocate external resources.
	draft := *v
	draft.Address = "unassigned"
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	start := m.now()
	err = m.retry.Retry(ctx, func(ctx context.Context) error {
		addr, aerr := m.client.CreateAccount(ctx)
		if aerr == nil {
			v.Address = addr
		}
		return aerr
	})
	m.observeLedger(start)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create ledger account")
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}

	cache := m.db.CacheWrap()
	if err := m.provision(ctx, cache, v, creator, initial); err != nil {
		cache.Discard()
		return nil, err
	}
	cache.Write()

	if m.metrics != nil {
		m.metrics.VaultsCreated.Inc()
	}
	m.logger.Info("vault created",
		"vault", string(id),
		"type", string(v.Type),
		"threshold", v.RequiredSignatures,
		"signers", len(v.Signers),
	)
	return m.registry.Vault(m.db, id)
}

func (m *Manager) provision(ctx context.Context, db store.KVStore, v *custody.Vault, creator custody.SignerID, initial decimal.Decimal) error {
	if err := m.registry.PutVault(db, v); err != nil {
		return err
	}
	if err := m.access.InitSigners(db, v, creator); err != nil {
		return err
	}
	if _, err := m.audit.Append(db, audit.Record{
		Vault:   v.ID,
		Kind:    audit.KindAdminAction,
		Actor:   creator,
		Action:  "create_vault",
		Granted: true,
	}); err != nil {
		return err
	}
	if !initial.IsPositive() {
		return nil
	}

	var ref custody.TxRef
	start := m.now()
	err := m.retry.Retry(ctx, func(ctx context.Context) error {
		var serr error
		ref, serr = m.client.SubmitTransfer(ctx, "", v.Address, initial, nil)
		return serr
	})
	if err == nil {
		err = custody.AwaitConfirmation(ctx, m.client, ref, m.confirmPoll, m.confirmTimeout)
	}
	m.observeLedger(start)
	if err != nil {
		return errors.Wrap(err, "initial funding")
	}
	_, err = m.tracker.Record(db, v.ID, initial, custody.TransactionDeposit, ref, "initial funding")
	return err
}

// applyTypePolicy enforces the per-type vault policy and fills the default
// balance cap.
func (m *Manager) applyTypePolicy(v *custody.Vault) error {
	switch v.Type {
	case custody.VaultTypeTreasury:
		if v.RequiredSignatures < m.treasuryMinSignatures {
			return errors.Wrapf(errors.ErrConfiguration,
				"treasury vaults require at least %d signatures", m.treasuryMinSignatures)
		}
		if 2*v.RequiredSignatures <= len(v.Signers) {
			return errors.Wrap(errors.ErrConfiguration,
				"treasury threshold must be a strict majority of the signer set")
		}
		if v.MaxBalance == "" {
			v.MaxBalance = m.treasuryMaxBalance
		}
	case custody.VaultTypeOperational:
		if v.MaxBalance == "" {
			v.MaxBalance = m.operationalMaxBalance
		}
	}
	return nil
}

// Details is the full read view of a vault, including unresolved balance
// anomalies.
type Details struct {
	Vault     *custody.Vault
	Anomalies []*balance.Anomaly
}

// GetVaultDetails returns the vault record together with recorded balance
// anomalies. Read-only, takes no vault lock.
func (m *Manager) GetVaultDetails(vaultID custody.VaultID) (d *Details, err error) {
	defer func() { m.metrics.observe("get_vault_details", err) }()

	v, err := m.registry.Vault(m.db, vaultID)
	if err != nil {
		return nil, err
	}
	anomalies, err := m.tracker.Anomalies(m.db, vaultID)
	if err != nil {
		return nil, err
	}
	return &Details{Vault: v, Anomalies: anomalies}, nil
}

// GetVaultBalance reconciles the cached balance against the ledger and
// returns the current balance.
func (m *Manager) GetVaultBalance(ctx context.Context, vaultID custody.VaultID) (bal decimal.Decimal, err error) {
	defer func() { m.metrics.observe("get_vault_balance", err) }()

	unlock := m.lockVault(vaultID)
	defer unlock()

	cache := m.db.CacheWrap()
	v, err := m.tracker.Reconcile(ctx, cache, vaultID)
	if err != nil {
		cache.Discard()
		return decimal.Zero, err
	}
	cache.Write()
	return v.CachedBalance()
}

// FundRequest describes one funding operation.
type FundRequest struct {
	Amount decimal.Decimal
	Funder custody.SignerID

	// Source is the ledger account the funds come from; empty means the
	// ledger's external funding source.
	Source custody.Address

	// Signatures are opaque artifacts forwarded to the ledger client.
	Signatures [][]byte

	Description string
}

// FundVault deposits into the vault. The transfer is submitted and confirmed
// on the ledger before the balance history entry is appended, so a failed
// confirmation never produces a false entry. Denied attempts count toward
// the funder's lockout.
func (m *Manager) FundVault(ctx context.Context, vaultID custody.VaultID, req FundRequest) (entry *balance.HistoryEntry, err error) {
	defer func() { m.metrics.observe("fund_vault", err) }()

	unlock := m.lockVault(vaultID)
	defer unlock()

	if !req.Amount.IsPositive() {
		return nil, errors.Wrapf(errors.ErrAmount, "funding amount must be positive, got %s", req.Amount)
	}
	// Denial bookkeeping goes to the base store so it survives the failed
	// call. Vault-inactive, unauthorized and locked-out all fail here.
	if err := m.access.Check(m.db, vaultID, req.Funder, access.ActionSign); err != nil {
		return nil, err
	}

	v, err := m.registry.Vault(m.db, vaultID)
	if err != nil {
		return nil, err
	}
	if v.EmergencyMode {
		if _, aerr := m.audit.Append(m.db, audit.Record{
			Vault:       vaultID,
			Kind:        audit.KindAccessAttempt,
			Actor:       req.Funder,
			Action:      "fund_vault",
			Granted:     false,
			Amount:      req.Amount.String(),
			Description: "emergency mode active",
		}); aerr != nil {
			return nil, aerr
		}
		return nil, errors.Wrapf(errors.ErrEmergencyActive, "vault %s", vaultID)
	}

	cached, err := v.CachedBalance()
	if err != nil {
		return nil, err
	}
	if v.MaxBalance != "" {
		limit, err := custody.ParseAmount(v.MaxBalance)
		if err != nil {
			return nil, err
		}
		if limit.IsPositive() && cached.Add(req.Amount).GreaterThan(limit) {
			return nil, errors.Wrapf(errors.ErrAmount,
				"funding %s would exceed the %s balance cap", req.Amount, v.MaxBalance)
		}
	}

	var ref custody.TxRef
	start := m.now()
	err = m.retry.Retry(ctx, func(ctx context.Context) error {
		var serr error
		ref, serr = m.client.SubmitTransfer(ctx, req.Source, v.Address, req.Amount, req.Signatures)
		return serr
	})
	if err == nil {
		err = custody.AwaitConfirmation(ctx, m.client, ref, m.confirmPoll, m.confirmTimeout)
	}
	m.observeLedger(start)
	if err != nil {
		return nil, err
	}

	cache := m.db.CacheWrap()
	entry, err = m.tracker.Record(cache, vaultID, req.Amount, custody.TransactionDeposit, ref, req.Description)
	if err != nil {
		cache.Discard()
		return nil, err
	}
	cache.Write()
	return entry, nil
}

// DeactivateVault sets the vault inactive. Requires administrative authority
// and is idempotent.
func (m *Manager) DeactivateVault(vaultID custody.VaultID, authority custody.SignerID) (err error) {
	defer func() { m.metrics.observe("deactivate_vault", err) }()

	unlock := m.lockVault(vaultID)
	defer unlock()

	v, err := m.registry.Vault(m.db, vaultID)
	if err != nil {
		return err
	}
	if !v.IsActive {
		return nil
	}
	// The admin check must run while the vault is still active; the access
	// engine denies every action on inactive vaults.
	if err := m.access.Check(m.db, vaultID, authority, access.ActionAdmin); err != nil {
		return err
	}

	cache := m.db.CacheWrap()
	v.IsActive = false
	v.LastActivity = custody.AsUnixTime(m.now())
	if err := m.registry.PutVault(cache, v); err != nil {
		cache.Discard()
		return err
	}
	if _, err := m.audit.Append(cache, audit.Record{
		Vault:   vaultID,
		Kind:    audit.KindAdminAction,
		Actor:   authority,
		Action:  "deactivate_vault",
		Granted: true,
	}); err != nil {
		cache.Discard()
		return err
	}
	cache.Write()

	m.logger.Info("vault deactivated", "vault", string(vaultID), "authority", string(authority))
	return nil
}

// BalanceHistory returns balance changes newest first, bounded by limit.
func (m *Manager) BalanceHistory(vaultID custody.VaultID, limit int) (entries []*balance.HistoryEntry, err error) {
	defer func() { m.metrics.observe("balance_history", err) }()
	return m.tracker.History(m.db, vaultID, limit)
}

// CheckSignerAccess reports whether the signer may currently sign for the
// vault. The audit entry and lockout bookkeeping are written either way.
func (m *Manager) CheckSignerAccess(vaultID custody.VaultID, signer custody.SignerID) (ok bool, err error) {
	defer func() { m.metrics.observe("check_signer_access", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.access.CheckSignerAccess(m.db, vaultID, signer)
}

// SignerPermissions returns the effective permissions of a signer.
func (m *Manager) SignerPermissions(vaultID custody.VaultID, signer custody.SignerID) (*access.Permissions, error) {
	return m.access.Permissions(m.db, vaultID, signer)
}

// SignerLockout returns the lockout state of a signer.
func (m *Manager) SignerLockout(vaultID custody.VaultID, signer custody.SignerID) (*access.LockoutStatus, error) {
	return m.access.LockoutStatus(m.db, vaultID, signer)
}

// OverrideLockout clears a signer's lockout. Requires administrative
// authority; the reason is logged permanently.
func (m *Manager) OverrideLockout(vaultID custody.VaultID, signer, admin custody.SignerID, reason string) (err error) {
	defer func() { m.metrics.observe("override_lockout", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.access.OverrideLockout(m.db, vaultID, signer, admin, reason)
}

// UpdateSignerPermissions adjusts a signer's permission flags. Requires
// administrative authority.
func (m *Manager) UpdateSignerPermissions(vaultID custody.VaultID, signer, admin custody.SignerID, p access.Permissions) (err error) {
	defer func() { m.metrics.observe("update_signer_permissions", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.access.UpdateSignerPermissions(m.db, vaultID, signer, admin, p)
}

// MarkSignerCompromised excludes the signer from all quorums immediately.
func (m *Manager) MarkSignerCompromised(vaultID custody.VaultID, signer custody.SignerID, reason string) (err error) {
	defer func() { m.metrics.observe("mark_signer_compromised", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.access.MarkSignerCompromised(m.db, vaultID, signer, reason)
}

// RotateSigner atomically replaces one signer with another, given a signing
// quorum of approvers.
func (m *Manager) RotateSigner(vaultID custody.VaultID, oldSigner, newSigner custody.SignerID, approvers []custody.SignerID, reason string) (err error) {
	defer func() { m.metrics.observe("rotate_signer", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.access.RotateSigner(m.db, vaultID, oldSigner, newSigner, approvers, reason)
}

// ActivateEmergency freezes the vault given an emergency quorum.
func (m *Manager) ActivateEmergency(vaultID custody.VaultID, reason string, signers []custody.SignerID) (e *emergency.HistoryEntry, err error) {
	defer func() { m.metrics.observe("activate_emergency", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.emergency.Activate(m.db, vaultID, reason, signers)
}

// DeactivateEmergency lifts the freeze given an emergency quorum.
func (m *Manager) DeactivateEmergency(vaultID custody.VaultID, signers []custody.SignerID, reason string) (e *emergency.HistoryEntry, err error) {
	defer func() { m.metrics.observe("deactivate_emergency", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.emergency.Deactivate(m.db, vaultID, signers, reason)
}

// EmergencyHistory returns all emergency cycles of the vault.
func (m *Manager) EmergencyHistory(vaultID custody.VaultID) ([]*emergency.HistoryEntry, error) {
	return m.emergency.History(m.db, vaultID)
}

// InitiateRecovery opens a signer replacement recovery.
func (m *Manager) InitiateRecovery(vaultID custody.VaultID, initiator custody.SignerID, lost, proposed []custody.SignerID, reason string) (req *recovery.Request, err error) {
	defer func() { m.metrics.observe("initiate_recovery", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.recovery.Initiate(m.db, vaultID, initiator, lost, proposed, reason)
}

// InitiateMasterRecovery opens a master authority driven recovery.
func (m *Manager) InitiateMasterRecovery(vaultID custody.VaultID, initiator custody.SignerID, lost, proposed []custody.SignerID, reason string) (req *recovery.Request, err error) {
	defer func() { m.metrics.observe("initiate_master_recovery", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.recovery.InitiateMasterRecovery(m.db, vaultID, initiator, lost, proposed, reason)
}

// ApproveRecovery records one signer's approval of a recovery request.
func (m *Manager) ApproveRecovery(vaultID custody.VaultID, requestID string, approver custody.SignerID, signature []byte) (req *recovery.Request, err error) {
	defer func() { m.metrics.observe("approve_recovery", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.recovery.Approve(m.db, vaultID, requestID, approver, signature)
}

// RejectRecovery closes a pending recovery request.
func (m *Manager) RejectRecovery(vaultID custody.VaultID, requestID string, rejector custody.SignerID, reason string) (req *recovery.Request, err error) {
	defer func() { m.metrics.observe("reject_recovery", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.recovery.Reject(m.db, vaultID, requestID, rejector, reason)
}

// ExecuteRecovery replaces the vault's signer set per an approved request.
func (m *Manager) ExecuteRecovery(vaultID custody.VaultID, requestID string) (req *recovery.Request, err error) {
	defer func() { m.metrics.observe("execute_recovery", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.recovery.Execute(m.db, vaultID, requestID)
}

// GetRecoveryRequest loads one recovery request.
func (m *Manager) GetRecoveryRequest(vaultID custody.VaultID, requestID string) (*recovery.Request, error) {
	return m.recovery.Request(m.db, vaultID, requestID)
}

// SearchAudit returns audit entries newest first, filtered.
func (m *Manager) SearchAudit(vaultID custody.VaultID, f audit.Filters) ([]*audit.Entry, error) {
	return m.audit.Search(m.db, vaultID, f)
}

// AuditTrail returns all audit entries sharing a transaction reference,
// across vaults.
func (m *Manager) AuditTrail(reference string) ([]*audit.Entry, error) {
	return m.audit.Trail(m.db, reference)
}

// VerifyAuditIntegrity walks the vault's audit chain and reports every
// inconsistency found.
func (m *Manager) VerifyAuditIntegrity(vaultID custody.VaultID) (rep *audit.IntegrityReport, err error) {
	defer func() { m.metrics.observe("verify_audit_integrity", err) }()
	return m.audit.VerifyIntegrity(m.db, vaultID)
}

// ExportAudit serializes the vault's audit entries and records the export
// timestamp retention cleanup depends on.
func (m *Manager) ExportAudit(vaultID custody.VaultID, opts audit.ExportOptions) (exp *audit.Export, err error) {
	defer func() { m.metrics.observe("export_audit", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	return m.audit.ExportData(m.db, vaultID, opts)
}

// SetRetentionPolicy stores the vault's audit retention policy. Requires
// administrative authority.
func (m *Manager) SetRetentionPolicy(p audit.Policy, admin custody.SignerID) (err error) {
	defer func() { m.metrics.observe("set_retention_policy", err) }()
	unlock := m.lockVault(p.Vault)
	defer unlock()
	if err := m.access.Check(m.db, p.Vault, admin, access.ActionAdmin); err != nil {
		return err
	}
	return m.audit.SetPolicy(m.db, p)
}

// RetentionPolicy returns the vault's audit retention policy, falling back
// to the configured defaults.
func (m *Manager) RetentionPolicy(vaultID custody.VaultID) (*audit.Policy, error) {
	return m.audit.RetentionPolicy(m.db, vaultID)
}

// CleanupAudit removes audit entries past retention. Requires administrative
// authority, a prior export and a clean integrity check.
func (m *Manager) CleanupAudit(vaultID custody.VaultID, admin custody.SignerID) (removed int, err error) {
	defer func() { m.metrics.observe("cleanup_audit", err) }()
	unlock := m.lockVault(vaultID)
	defer unlock()
	if err := m.access.Check(m.db, vaultID, admin, access.ActionAdmin); err != nil {
		return 0, err
	}
	return m.audit.Cleanup(m.db, vaultID)
}

func (m *Manager) observeLedger(start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.LedgerSeconds.Observe(m.now().Sub(start).Seconds())
}
