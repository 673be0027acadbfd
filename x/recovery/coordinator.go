/*
Package recovery implements signer-set recovery for vaults whose keys were
lost or compromised.

A recovery is a multi-step protocol: a request names the lost signers and
their proposed replacements, remaining signers approve it, and once the
approval threshold is met (and any timelock has elapsed) the signer set is
replaced atomically. Master recovery is a separately gated entry point for
the case where too few signers remain to reach a normal quorum; it always
carries a timelock so the remaining signers have a window to object.
*/
package recovery

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/errors"
	"github.com/V1C70RYG0D/Nen-sub008/orm"
	"github.com/V1C70RYG0D/Nen-sub008/store"
	"github.com/V1C70RYG0D/Nen-sub008/x/access"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
)

const defaultMasterTimelockSeconds = 86400

// Coordinator drives the recovery protocol.
type Coordinator struct {
	requests orm.Bucket
	audit    *audit.Ledger
	access   *access.Engine
	vaults   custody.VaultStore
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	masterAuthority       custody.SignerID
	masterApprovals       int
	masterTimelockSeconds int64
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Audit  *audit.Ledger
	Access *access.Engine
	Vaults custody.VaultStore
	Logger *slog.Logger
	Now    func() time.Time

	// MasterAuthority is the only identity that may initiate a master
	// recovery. Empty disables the entry point.
	MasterAuthority custody.SignerID
	// MasterApprovals of zero falls back to the vault's signing threshold.
	// A value below the vault threshold is raised to it.
	MasterApprovals int
	// MasterTimelockSeconds of zero falls back to 24 hours.
	MasterTimelockSeconds int64
}

// NewCoordinator returns a recovery coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.Audit == nil {
		panic("recovery coordinator requires an audit ledger")
	}
	if opts.Access == nil {
		panic("recovery coordinator requires an access engine")
	}
	if opts.Vaults == nil {
		panic("recovery coordinator requires a vault store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MasterTimelockSeconds == 0 {
		opts.MasterTimelockSeconds = defaultMasterTimelockSeconds
	}
	return &Coordinator{
		requests:              orm.NewBucket("recovery"),
		audit:                 opts.Audit,
		access:                opts.Access,
		vaults:                opts.Vaults,
		logger:                opts.Logger,
		now:                   opts.Now,
		newID:                 uuid.NewString,
		masterAuthority:       opts.MasterAuthority,
		masterApprovals:       opts.MasterApprovals,
		masterTimelockSeconds: opts.MasterTimelockSeconds,
	}
}

// Initiate opens a signer replacement recovery. The initiator must be a
// remaining signer with propose permission, and enough signers must remain
// outside the lost set to reach the vault's signing threshold; otherwise only
// a master recovery can help.
func (c *Coordinator) Initiate(db store.KVStore, vaultID custody.VaultID, initiator custody.SignerID, lost, proposed []custody.SignerID, reason string) (*Request, error) {
	if err := c.access.Check(db, vaultID, initiator, access.ActionPropose); err != nil {
		return nil, err
	}
	vault, err := c.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	if err := c.validateReplacement(vault, lost, proposed); err != nil {
		return nil, err
	}
	for _, s := range lost {
		if s == initiator {
			return nil, errors.Wrap(errors.ErrInput, "initiator cannot be a lost signer")
		}
	}

	remaining := len(vault.Signers) - len(lost)
	if remaining < vault.RequiredSignatures {
		return nil, errors.Wrapf(errors.ErrQuorumNotMet,
			"%d remaining signers cannot meet threshold %d, master recovery is required",
			remaining, vault.RequiredSignatures)
	}

	req := &Request{
		ID:                c.newID(),
		Vault:             vaultID,
		Initiator:         initiator,
		Type:              TypeSignerReplacement,
		Reason:            reason,
		LostSigners:       lost,
		ProposedSigners:   proposed,
		Status:            StatusPending,
		RequiredApprovals: vault.RequiredSignatures,
		RequiresTimelock:  vault.TimelockSeconds > 0,
		TimelockSeconds:   vault.TimelockSeconds,
		CreatedAt:         custody.AsUnixTime(c.now()),
	}
	return c.open(db, req)
}

// InitiateMasterRecovery opens a recovery driven by the master authority, for
// vaults where too few signers remain for a normal quorum. It is always
// timelocked and never requires fewer approvals than the vault's signing
// threshold.
func (c *Coordinator) InitiateMasterRecovery(db store.KVStore, vaultID custody.VaultID, initiator custody.SignerID, lost, proposed []custody.SignerID, reason string) (*Request, error) {
	if c.masterAuthority == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "no master authority configured")
	}
	if initiator != c.masterAuthority {
		if _, err := c.audit.Append(db, audit.Record{
			Vault:       vaultID,
			Kind:        audit.KindRecovery,
			Actor:       initiator,
			Action:      "initiate_master_recovery",
			Granted:     false,
			Description: "not the master authority",
		}); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrUnauthorized, "%s is not the master authority", initiator)
	}
	vault, err := c.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	if err := c.validateReplacement(vault, lost, proposed); err != nil {
		return nil, err
	}

	approvals := c.masterApprovals
	if approvals < vault.RequiredSignatures {
		approvals = vault.RequiredSignatures
	}
	req := &Request{
		ID:                c.newID(),
		Vault:             vaultID,
		Initiator:         initiator,
		Type:              TypeMasterRecovery,
		Reason:            reason,
		LostSigners:       lost,
		ProposedSigners:   proposed,
		Status:            StatusPending,
		RequiredApprovals: approvals,
		RequiresTimelock:  true,
		TimelockSeconds:   c.masterTimelockSeconds,
		CreatedAt:         custody.AsUnixTime(c.now()),
	}
	return c.open(db, req)
}

func (c *Coordinator) open(db store.KVStore, req *Request) (*Request, error) {
	if err := c.requests.Put(db, requestKey(req.Vault, req.ID), req); err != nil {
		return nil, err
	}
	c.logger.Warn("recovery initiated",
		"vault", string(req.Vault),
		"request", req.ID,
		"type", string(req.Type),
		"lost_signers", len(req.LostSigners),
	)
	if _, err := c.audit.Append(db, audit.Record{
		Vault:       req.Vault,
		Kind:        audit.KindRecovery,
		Actor:       req.Initiator,
		Action:      "initiate_" + string(req.Type),
		Granted:     true,
		Reference:   req.ID,
		Description: req.Reason,
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// Approve records a signer's approval. Lost signers may not approve. The
// request transitions to approved exactly when the distinct valid approvals
// reach the threshold; later approvals are recorded but change nothing.
func (c *Coordinator) Approve(db store.KVStore, vaultID custody.VaultID, requestID string, approver custody.SignerID, signature []byte) (*Request, error) {
	req, err := c.Request(db, vaultID, requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case StatusPending, StatusApproved:
	default:
		return nil, errors.Wrapf(errors.ErrState, "request is %s", req.Status)
	}
	if req.IsLostSigner(approver) {
		return nil, errors.Wrapf(errors.ErrUnauthorized, "lost signer %s cannot approve", approver)
	}
	if req.HasApproval(approver) {
		return nil, errors.Wrapf(errors.ErrDuplicateApproval, "signer %s", approver)
	}

	vault, err := c.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	valid, err := c.access.ValidApprovers(db, vault, []custody.SignerID{approver})
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		if _, aerr := c.audit.Append(db, audit.Record{
			Vault:       vaultID,
			Kind:        audit.KindRecovery,
			Actor:       approver,
			Action:      "approve_recovery",
			Granted:     false,
			Reference:   requestID,
			Description: "not a valid approver",
		}); aerr != nil {
			return nil, aerr
		}
		return nil, errors.Wrapf(errors.ErrUnauthorized, "%s cannot approve recoveries", approver)
	}

	now := custody.AsUnixTime(c.now())
	req.Approvals = append(req.Approvals, Approval{
		Approver:   approver,
		ApprovedAt: now,
		Signature:  signature,
	})

	if req.Status == StatusPending {
		count, err := c.validApprovalCount(db, vault, req)
		if err != nil {
			return nil, err
		}
		if count >= req.RequiredApprovals {
			req.Status = StatusApproved
			req.ApprovedAt = now
			c.logger.Info("recovery approved",
				"vault", string(vaultID),
				"request", requestID,
				"approvals", count,
			)
		}
	}

	if err := c.requests.Put(db, requestKey(vaultID, requestID), req); err != nil {
		return nil, err
	}
	if _, err := c.audit.Append(db, audit.Record{
		Vault:     vaultID,
		Kind:      audit.KindRecovery,
		Actor:     approver,
		Action:    "approve_recovery",
		Granted:   true,
		Reference: requestID,
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// Reject closes a pending request. Requires administrative authority on the
// vault. Approved requests cannot be rejected; objections to an approved,
// timelocked master recovery go through compromising the proposed execution
// path, not through rejection.
func (c *Coordinator) Reject(db store.KVStore, vaultID custody.VaultID, requestID string, rejector custody.SignerID, reason string) (*Request, error) {
	if err := c.access.Check(db, vaultID, rejector, access.ActionAdmin); err != nil {
		return nil, err
	}
	req, err := c.Request(db, vaultID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, errors.Wrapf(errors.ErrState, "only pending requests can be rejected, request is %s", req.Status)
	}

	req.Status = StatusRejected
	if err := c.requests.Put(db, requestKey(vaultID, requestID), req); err != nil {
		return nil, err
	}
	if _, err := c.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindRecovery,
		Actor:       rejector,
		Action:      "reject_recovery",
		Granted:     true,
		Reference:   requestID,
		Description: reason,
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// Execute replaces the vault's signer set per the approved request. The
// approval quorum is re-validated at execution time: approvers compromised
// since approving no longer count, and the execution fails if the quorum
// collapsed below the threshold.
func (c *Coordinator) Execute(db store.KVStore, vaultID custody.VaultID, requestID string) (*Request, error) {
	req, err := c.Request(db, vaultID, requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case StatusApproved:
	case StatusPending:
		return nil, errors.Wrapf(errors.ErrNotApproved,
			"%d of %d approvals", len(req.Approvals), req.RequiredApprovals)
	default:
		return nil, errors.Wrapf(errors.ErrState, "request is %s", req.Status)
	}

	now := custody.AsUnixTime(c.now())
	if at := req.ExecutableAt(); now < at {
		return nil, errors.Wrapf(errors.ErrTimelockNotElapsed,
			"executable at %s", at)
	}

	vault, err := c.vaults.Vault(db, vaultID)
	if err != nil {
		return nil, err
	}
	count, err := c.validApprovalCount(db, vault, req)
	if err != nil {
		return nil, err
	}
	if count < req.RequiredApprovals {
		if _, aerr := c.audit.Append(db, audit.Record{
			Vault:       vaultID,
			Kind:        audit.KindRecovery,
			Action:      "execute_recovery",
			Granted:     false,
			Reference:   requestID,
			Description: "approval quorum no longer valid",
		}); aerr != nil {
			return nil, aerr
		}
		return nil, errors.Wrapf(errors.ErrQuorumNotMet,
			"%d of %d approvals remain valid", count, req.RequiredApprovals)
	}

	next := make([]custody.SignerID, 0, len(vault.Signers)-len(req.LostSigners)+len(req.ProposedSigners))
	for _, s := range vault.Signers {
		if !req.IsLostSigner(s) {
			next = append(next, s)
		}
	}
	next = append(next, req.ProposedSigners...)
	vault.Signers = next
	vault.LastActivity = now
	if err := vault.Validate(); err != nil {
		return nil, errors.Wrap(err, "replacement signer set")
	}
	if err := c.vaults.PutVault(db, vault); err != nil {
		return nil, err
	}

	if err := c.access.ApplySignerReplacement(db, vaultID, req.LostSigners, req.ProposedSigners); err != nil {
		return nil, err
	}

	req.Status = StatusExecuted
	req.ExecutedAt = now
	if err := c.requests.Put(db, requestKey(vaultID, requestID), req); err != nil {
		return nil, err
	}

	c.logger.Warn("recovery executed",
		"vault", string(vaultID),
		"request", requestID,
		"signers", len(vault.Signers),
	)
	if _, err := c.audit.Append(db, audit.Record{
		Vault:       vaultID,
		Kind:        audit.KindRecovery,
		Actor:       req.Initiator,
		Action:      "execute_recovery",
		Granted:     true,
		Reference:   requestID,
		Description: req.Reason,
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// Request loads one recovery request.
func (c *Coordinator) Request(db store.ReadOnlyKVStore, vaultID custody.VaultID, requestID string) (*Request, error) {
	var req Request
	if err := c.requests.One(db, requestKey(vaultID, requestID), &req); err != nil {
		return nil, errors.Wrapf(err, "recovery request %s", requestID)
	}
	return &req, nil
}

// Requests returns all recovery requests of a vault.
func (c *Coordinator) Requests(db store.ReadOnlyKVStore, vaultID custody.VaultID) ([]*Request, error) {
	iter := c.requests.Iterator(db, vaultPrefix(vaultID))
	defer iter.Close()

	var out []*Request
	for ; iter.Valid(); iter.Next() {
		var req Request
		if err := c.requests.Decode(iter.Value(), &req); err != nil {
			return nil, err
		}
		r := req
		out = append(out, &r)
	}
	return out, nil
}

// validApprovalCount re-filters recorded approvals through the current
// permission state, excluding lost signers.
func (c *Coordinator) validApprovalCount(db store.ReadOnlyKVStore, vault *custody.Vault, req *Request) (int, error) {
	approvers := make([]custody.SignerID, 0, len(req.Approvals))
	for _, a := range req.Approvals {
		if !req.IsLostSigner(a.Approver) {
			approvers = append(approvers, a.Approver)
		}
	}
	valid, err := c.access.ValidApprovers(db, vault, approvers)
	if err != nil {
		return 0, err
	}
	return len(valid), nil
}

// validateReplacement checks the lost and proposed signer sets against the
// vault's current signer set.
func (c *Coordinator) validateReplacement(vault *custody.Vault, lost, proposed []custody.SignerID) error {
	if len(lost) == 0 {
		return errors.Wrap(errors.ErrInput, "at least one lost signer is required")
	}
	if len(proposed) == 0 {
		return errors.Wrap(errors.ErrInput, "at least one proposed signer is required")
	}
	seen := make(map[custody.SignerID]struct{}, len(lost))
	for _, s := range lost {
		if !vault.HasSigner(s) {
			return errors.Wrapf(errors.ErrNotFound, "%q is not a vault signer", s)
		}
		if _, ok := seen[s]; ok {
			return errors.Wrapf(errors.ErrDuplicate, "lost signer %q listed twice", s)
		}
		seen[s] = struct{}{}
	}
	seenProposed := make(map[custody.SignerID]struct{}, len(proposed))
	for _, s := range proposed {
		if s == "" {
			return errors.Wrap(errors.ErrInput, "proposed signer identity is required")
		}
		if vault.HasSigner(s) {
			return errors.Wrapf(errors.ErrDuplicate, "%q is already a vault signer", s)
		}
		if _, ok := seenProposed[s]; ok {
			return errors.Wrapf(errors.ErrDuplicate, "proposed signer %q listed twice", s)
		}
		seenProposed[s] = struct{}{}
	}
	return nil
}
