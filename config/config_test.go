package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gigchain/native/fees"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8546", cfg.ListenAddress)
	require.Equal(t, fees.DefaultPlatformBps, cfg.FeeBps)

	// The generated addresses must decode and yield a usable fee policy.
	_, err = cfg.OwnerAddress()
	require.NoError(t, err)
	_, err = cfg.EscrowVaultAddress()
	require.NoError(t, err)
	policy, err := cfg.FeePolicy()
	require.NoError(t, err)
	require.True(t, policy.Valid())

	// Reloading parses the file written on first run.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Owner, reloaded.Owner)
	require.Equal(t, cfg.EscrowVault, reloaded.EscrowVault)
}

func TestLoadRejectsInvalidAddresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
ListenAddress = ":9000"
Owner = "not-an-address"
FeeCollector = "also-bad"
EscrowVault = "still-bad"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsExcessiveFeeRate(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.toml")
	cfg, err := Load(seed)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
FeeBps = 1001
Owner = "` + cfg.Owner + `"
FeeCollector = "` + cfg.FeeCollector + `"
EscrowVault = "` + cfg.EscrowVault + `"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err = Load(path)
	require.Error(t, err)
}
