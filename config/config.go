// Package config loads the protocol configuration: the assets and gardens the
// node serves, the whitelisted integrations and keepers, and the bounds every
// strategy is checked against.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	NetworkName  string        `toml:"NetworkName"`
	DataDir      string        `toml:"DataDir"`
	Treasury     string        `toml:"Treasury"`
	Keepers      []string      `toml:"Keepers"`
	Bounds       Bounds        `toml:"bounds"`
	Slippage     Slippage      `toml:"slippage"`
	Oracle       Oracle        `toml:"oracle"`
	Pauses       Pauses        `toml:"pauses"`
	Assets       []Asset       `toml:"assets"`
	Gardens      []Garden      `toml:"gardens"`
	Integrations []Integration `toml:"integrations"`
}

// Load loads the configuration from the given path. A missing file is
// created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "garden-local"
	}
	if cfg.Keepers == nil {
		cfg.Keepers = []string{}
	}
	if len(cfg.Oracle.Priority) == 0 {
		cfg.Oracle.Priority = []string{"manual"}
	}
	for i := range cfg.Oracle.Priority {
		cfg.Oracle.Priority[i] = strings.ToLower(strings.TrimSpace(cfg.Oracle.Priority[i]))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the protocol defaults with no assets, gardens or
// integrations configured.
func Default() *Config {
	return &Config{
		NetworkName: "garden-local",
		DataDir:     "./garden-data",
		Keepers:     []string{},
		Bounds: Bounds{
			MinDurationHours:     24,
			MaxDurationHours:     365 * 24,
			MinStake:             "0",
			VotingWindowHours:    7 * 24,
			CooldownHours:        24,
			CandidatePeriodHours: 7 * 24,
			MinVoters:            1,
			MinVotesQuorumBps:    1_000,
			MaxGasFeeBps:         500,
			StrategistProfitBps:  1_000,
			VotersProfitBps:      500,
			ProtocolProfitBps:    500,
			DissenterSlashBps:    5_000,
			UnwindBufferBps:      500,
		},
		Slippage: Slippage{Lend: 50, Trade: 300, Pool: 500, Passive: 100},
		Oracle: Oracle{
			Priority:      []string{"manual"},
			MaxAgeSeconds: 3600,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
