package custodytest

import (
	"fmt"
	"sync"
	"time"

	custody "github.com/V1C70RYG0D/Nen-sub008"
	"github.com/V1C70RYG0D/Nen-sub008/config"
	"github.com/V1C70RYG0D/Nen-sub008/store"
	"github.com/V1C70RYG0D/Nen-sub008/x/access"
	"github.com/V1C70RYG0D/Nen-sub008/x/audit"
	"github.com/V1C70RYG0D/Nen-sub008/x/balance"
	"github.com/V1C70RYG0D/Nen-sub008/x/emergency"
	"github.com/V1C70RYG0D/Nen-sub008/x/recovery"
	"github.com/V1C70RYG0D/Nen-sub008/x/vault"
)

// Signers returns n deterministic signer identities.
func Signers(n int) []custody.SignerID {
	out := make([]custody.SignerID, n)
	for i := range out {
		out[i] = custody.SignerID(fmt.Sprintf("signer-%d", i+1))
	}
	return out
}

// Clock is a controllable time source for tests that depend on windows,
// lockout durations or timelocks.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock frozen at the given moment.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current test time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Core is a fully wired custody core over an in-memory store and a test
// ledger, for end-to-end tests.
type Core struct {
	DB        *store.MemStore
	Ledger    *Ledger
	Clock     *Clock
	Config    *config.Config
	Registry  *vault.Registry
	Audit     *audit.Ledger
	Access    *access.Engine
	Tracker   *balance.Tracker
	Emergency *emergency.Controller
	Recovery  *recovery.Coordinator
	Manager   *vault.Manager
}

// NewCore wires every component with default configuration. The mutate
// callbacks may adjust the configuration before the components are built.
func NewCore(mutate ...func(*config.Config)) *Core {
	cfg := config.Default()
	// No backoff sleeps and tight polling, to keep tests fast.
	cfg.LedgerRetryBaseMillis = 0
	cfg.LedgerRetryMaxMillis = 0
	cfg.ConfirmationPollMillis = 1
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := NewClock(time.Unix(1700000000, 0).UTC())
	db := store.NewMemStore()
	ledger := &Ledger{}
	registry := vault.NewRegistry()

	auditLedger := audit.NewLedger(audit.LedgerOptions{
		Now:                  clock.Now,
		DefaultRetentionDays: cfg.RetentionDays,
		DefaultAutoCleanup:   cfg.AutoCleanup,
		DefaultCompression:   cfg.CompressionEnabled,
	})
	engine := access.NewEngine(access.EngineOptions{
		Audit:            auditLedger,
		Vaults:           registry,
		Now:              clock.Now,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutWindow:    cfg.LockoutWindow(),
		LockoutDuration:  cfg.LockoutDuration(),
	})
	attempts, base, max := cfg.RetryPolicy()
	tracker := balance.NewTracker(balance.TrackerOptions{
		Audit:   auditLedger,
		Vaults:  registry,
		Client:  ledger,
		Now:     clock.Now,
		Epsilon: cfg.Epsilon(),
		Retry:   custody.RetryPolicy{Attempts: attempts, BaseDelay: base, MaxDelay: max},
	})
	controller := emergency.NewController(emergency.ControllerOptions{
		Audit:  auditLedger,
		Access: engine,
		Vaults: registry,
		Now:    clock.Now,
	})
	coordinator := recovery.NewCoordinator(recovery.CoordinatorOptions{
		Audit:                 auditLedger,
		Access:                engine,
		Vaults:                registry,
		Now:                   clock.Now,
		MasterAuthority:       custody.SignerID(cfg.MasterAuthority),
		MasterApprovals:       cfg.MasterRecoveryApprovals,
		MasterTimelockSeconds: cfg.MasterRecoveryTimelockSeconds,
	})
	manager := vault.NewManager(vault.ManagerOptions{
		DB:        db,
		Registry:  registry,
		Audit:     auditLedger,
		Access:    engine,
		Tracker:   tracker,
		Emergency: controller,
		Recovery:  coordinator,
		Client:    ledger,
		Config:    &cfg,
		Now:       clock.Now,
		Metrics:   vault.NewMetrics(),
	})

	return &Core{
		DB:        db,
		Ledger:    ledger,
		Clock:     clock,
		Config:    &cfg,
		Registry:  registry,
		Audit:     auditLedger,
		Access:    engine,
		Tracker:   tracker,
		Emergency: controller,
		Recovery:  coordinator,
		Manager:   manager,
	}
}
