package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"gigchain/crypto"
	"gigchain/native/fees"
)

// Config carries the process-wide marketplace settings: where to listen and
// store data, and the fee/owner accounts that used to live in ambient globals.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	FeeBps        uint32 `toml:"FeeBps"`
	FeeCollector  string `toml:"FeeCollector"`
	EscrowVault   string `toml:"EscrowVault"`
	Owner         string `toml:"Owner"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8546"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./gigdata"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = fees.DefaultPlatformBps
	}
}

func createDefault(path string) (*Config, error) {
	ownerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	collectorKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	vaultKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Owner:        ownerKey.PubKey().Address().String(),
		FeeCollector: collectorKey.PubKey().Address().String(),
		EscrowVault:  vaultKey.PubKey().Address().String(),
	}
	applyDefaults(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fee rate and the configured account addresses.
func (c *Config) Validate() error {
	if c.FeeBps > fees.BpsDenominator {
		return fmt.Errorf("config: FeeBps %d exceeds denominator %d", c.FeeBps, fees.BpsDenominator)
	}
	for name, value := range map[string]string{
		"Owner":        c.Owner,
		"FeeCollector": c.FeeCollector,
		"EscrowVault":  c.EscrowVault,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("config: %s address required", name)
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s address: %w", name, err)
		}
	}
	return nil
}

func (c *Config) address(value string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(value)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// OwnerAddress decodes the configured owner account.
func (c *Config) OwnerAddress() ([20]byte, error) { return c.address(c.Owner) }

// EscrowVaultAddress decodes the configured escrow holding account.
func (c *Config) EscrowVaultAddress() ([20]byte, error) { return c.address(c.EscrowVault) }

// FeePolicy builds the payout fee policy from the configured rate and
// collector account.
func (c *Config) FeePolicy() (fees.Policy, error) {
	collector, err := c.address(c.FeeCollector)
	if err != nil {
		return fees.Policy{}, err
	}
	policy := fees.Policy{Bps: c.FeeBps, Collector: collector}
	if !policy.Valid() {
		return fees.Policy{}, fmt.Errorf("config: fee policy out of range")
	}
	return policy, nil
}
