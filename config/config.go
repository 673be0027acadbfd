// Package config loads and validates the runtime policy of the custody core.
// It uses koanf to merge an optional YAML file over built-in defaults, with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/V1C70RYG0D/Nen-sub008/errors"
)

// Config holds all policy knobs of the custody core. Zero values are filled
// by Default; a Config that does not pass Validate must not be used to build
// components.
type Config struct {
	// Lockout policy, scoped per (vault, signer).
	LockoutThreshold       int   `koanf:"lockout_threshold"`
	LockoutWindowSeconds   int64 `koanf:"lockout_window_seconds"`
	LockoutDurationSeconds int64 `koanf:"lockout_duration_seconds"`

	// Treasury vaults require strictly stronger thresholds than
	// operational vaults and always carry a balance cap.
	TreasuryMinSignatures int    `koanf:"treasury_min_signatures"`
	TreasuryMaxBalance    string `koanf:"treasury_max_balance"`

	// OperationalMaxBalance is optional; empty means uncapped.
	OperationalMaxBalance string `koanf:"operational_max_balance"`

	// Master recovery policy. MasterAuthority is the single identity that
	// may initiate a master recovery; empty disables the entry point.
	// MasterRecoveryApprovals of zero falls back to the vault's signing
	// threshold.
	MasterAuthority               string `koanf:"master_authority"`
	MasterRecoveryApprovals       int    `koanf:"master_recovery_approvals"`
	MasterRecoveryTimelockSeconds int64  `koanf:"master_recovery_timelock_seconds"`

	// Audit retention defaults, overridable per vault.
	RetentionDays      int  `koanf:"retention_days"`
	AutoCleanup        bool `koanf:"auto_cleanup"`
	CompressionEnabled bool `koanf:"compression_enabled"`

	// ReconcileEpsilon is the largest cached-vs-ledger difference that is
	// not reported as an anomaly.
	ReconcileEpsilon string `koanf:"reconcile_epsilon"`

	// External ledger call policy.
	LedgerRetryAttempts        int   `koanf:"ledger_retry_attempts"`
	LedgerRetryBaseMillis      int64 `koanf:"ledger_retry_base_millis"`
	LedgerRetryMaxMillis       int64 `koanf:"ledger_retry_max_millis"`
	ConfirmationTimeoutSeconds int64 `koanf:"confirmation_timeout_seconds"`
	ConfirmationPollMillis     int64 `koanf:"confirmation_poll_millis"`
}

// Default returns the built-in policy defaults.
func Default() Config {
	return Config{
		LockoutThreshold:              5,
		LockoutWindowSeconds:          300,
		LockoutDurationSeconds:        1800,
		TreasuryMinSignatures:         5,
		TreasuryMaxBalance:            "1000000",
		MasterRecoveryTimelockSeconds: 86400,
		RetentionDays:                 365,
		AutoCleanup:                   false,
		CompressionEnabled:            false,
		ReconcileEpsilon:              "0.000001",
		LedgerRetryAttempts:           3,
		LedgerRetryBaseMillis:         100,
		LedgerRetryMaxMillis:          2000,
		ConfirmationTimeoutSeconds:    30,
		ConfirmationPollMillis:        100,
	}
}

// Load reads configuration from an optional YAML file merged over defaults,
// then applies environment overrides. Returns the config together with all
// validation errors found, so operators see every problem at once.
func Load(configFilePath string) (*Config, []error) {
	cfg := Default()

	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{errors.Wrapf(errors.ErrConfiguration,
				"cannot load config file %s: %s", configFilePath, err)}
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, []error{errors.Wrapf(errors.ErrConfiguration,
			"cannot unmarshal configuration: %s", err)}
	}

	var loadErrs []error
	if val := os.Getenv("CUSTODY_MASTER_AUTHORITY"); val != "" {
		cfg.MasterAuthority = val
	}
	if val := os.Getenv("CUSTODY_LOCKOUT_THRESHOLD"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			loadErrs = append(loadErrs, errors.Wrapf(errors.ErrConfiguration,
				"CUSTODY_LOCKOUT_THRESHOLD must be an integer: %s", err))
		} else {
			cfg.LockoutThreshold = n
		}
	}

	errs := append(loadErrs, cfg.Validate()...)
	return &cfg, errs
}

// Validate checks every policy value, collecting all violations.
func (c *Config) Validate() []error {
	var errs []error

	if c.LockoutThreshold < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "lockout_threshold must be at least 1"))
	}
	if c.LockoutWindowSeconds < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "lockout_window_seconds must be positive"))
	}
	if c.LockoutDurationSeconds < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "lockout_duration_seconds must be positive"))
	}
	if c.TreasuryMinSignatures < 2 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "treasury_min_signatures must be at least 2"))
	}
	if _, err := decimal.NewFromString(c.TreasuryMaxBalance); err != nil {
		errs = append(errs, errors.Wrapf(errors.ErrConfiguration, "treasury_max_balance: %s", err))
	}
	if c.OperationalMaxBalance != "" {
		if _, err := decimal.NewFromString(c.OperationalMaxBalance); err != nil {
			errs = append(errs, errors.Wrapf(errors.ErrConfiguration, "operational_max_balance: %s", err))
		}
	}
	if c.MasterRecoveryApprovals < 0 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "master_recovery_approvals must not be negative"))
	}
	if c.MasterRecoveryTimelockSeconds < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "master_recovery_timelock_seconds must be positive"))
	}
	if c.RetentionDays < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "retention_days must be at least 1"))
	}
	if eps, err := decimal.NewFromString(c.ReconcileEpsilon); err != nil {
		errs = append(errs, errors.Wrapf(errors.ErrConfiguration, "reconcile_epsilon: %s", err))
	} else if eps.IsNegative() {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "reconcile_epsilon must not be negative"))
	}
	if c.LedgerRetryAttempts < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "ledger_retry_attempts must be at least 1"))
	}
	if c.ConfirmationTimeoutSeconds < 1 {
		errs = append(errs, errors.Wrap(errors.ErrConfiguration, "confirmation_timeout_seconds must be positive"))
	}

	return errs
}

// Epsilon returns the parsed reconciliation epsilon. Call only on a
// validated config.
func (c *Config) Epsilon() decimal.Decimal {
	eps, err := decimal.NewFromString(c.ReconcileEpsilon)
	if err != nil {
		panic(fmt.Sprintf("unvalidated config: %s", err))
	}
	return eps
}

// LockoutWindow returns the rolling window within which failed attempts
// accumulate.
func (c *Config) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutWindowSeconds) * time.Second
}

// LockoutDuration returns how long a locked signer stays locked.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutDurationSeconds) * time.Second
}

// ConfirmationTimeout returns the maximum wait for a ledger confirmation.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// ConfirmationPoll returns the confirmation polling interval.
func (c *Config) ConfirmationPoll() time.Duration {
	return time.Duration(c.ConfirmationPollMillis) * time.Millisecond
}

// LogSummary returns the configuration as loggable key/value pairs. The
// master authority identity is masked.
func (c *Config) LogSummary() map[string]string {
	masked := "<not set>"
	if c.MasterAuthority != "" {
		masked = "****"
	}
	return map[string]string{
		"lockout_threshold":                fmt.Sprintf("%d", c.LockoutThreshold),
		"lockout_window_seconds":           fmt.Sprintf("%d", c.LockoutWindowSeconds),
		"lockout_duration_seconds":         fmt.Sprintf("%d", c.LockoutDurationSeconds),
		"treasury_min_signatures":          fmt.Sprintf("%d", c.TreasuryMinSignatures),
		"treasury_max_balance":             c.TreasuryMaxBalance,
		"operational_max_balance":          c.OperationalMaxBalance,
		"master_authority":                 masked,
		"master_recovery_approvals":        fmt.Sprintf("%d", c.MasterRecoveryApprovals),
		"master_recovery_timelock_seconds": fmt.Sprintf("%d", c.MasterRecoveryTimelockSeconds),
		"retention_days":                   fmt.Sprintf("%d", c.RetentionDays),
		"auto_cleanup":                     fmt.Sprintf("%t", c.AutoCleanup),
		"compression_enabled":              fmt.Sprintf("%t", c.CompressionEnabled),
		"reconcile_epsilon":                c.ReconcileEpsilon,
		"ledger_retry_attempts":            fmt.Sprintf("%d", c.LedgerRetryAttempts),
		"confirmation_timeout_seconds":     fmt.Sprintf("%d", c.ConfirmationTimeoutSeconds),
	}
}

// RetryPolicy returns the ledger retry policy derived from this config.
func (c *Config) RetryPolicy() (attempts int, base, max time.Duration) {
	return c.LedgerRetryAttempts,
		time.Duration(c.LedgerRetryBaseMillis) * time.Millisecond,
		time.Duration(c.LedgerRetryMaxMillis) * time.Millisecond
}
