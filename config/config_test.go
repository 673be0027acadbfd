package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.LockoutThreshold = 0
	cfg.TreasuryMaxBalance = "lots"
	cfg.RetentionDays = 0

	errs := cfg.Validate()
	assert.Len(t, errs, 3)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.yaml")
	content := []byte("lockout_threshold: 7\ntreasury_min_signatures: 6\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, errs := Load(path)
	require.Empty(t, errs)
	assert.Equal(t, 7, cfg.LockoutThreshold)
	assert.Equal(t, 6, cfg.TreasuryMinSignatures)
	// Untouched values keep their defaults.
	assert.Equal(t, 365, cfg.RetentionDays)
}

func TestLoadMissingFile(t *testing.T) {
	_, errs := Load("/does/not/exist.yaml")
	require.Len(t, errs, 1)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CUSTODY_MASTER_AUTHORITY", "authority-1")
	t.Setenv("CUSTODY_LOCKOUT_THRESHOLD", "9")

	cfg, errs := Load("")
	require.Empty(t, errs)
	assert.Equal(t, "authority-1", cfg.MasterAuthority)
	assert.Equal(t, 9, cfg.LockoutThreshold)
}

func TestLoadEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("CUSTODY_LOCKOUT_THRESHOLD", "many")

	_, errs := Load("")
	require.NotEmpty(t, errs)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Minute, cfg.LockoutWindow())
	assert.Equal(t, 30*time.Minute, cfg.LockoutDuration())
	assert.Equal(t, 30*time.Second, cfg.ConfirmationTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.ConfirmationPoll())
}

func TestLogSummaryMasksMasterAuthority(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "<not set>", cfg.LogSummary()["master_authority"])

	cfg.MasterAuthority = "authority-1"
	summary := cfg.LogSummary()
	assert.Equal(t, "****", summary["master_authority"])
	assert.NotContains(t, summary["master_authority"], "authority-1")
}
