package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for strategyd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	Protocol      string       `yaml:"protocol"`
	DataDir       string       `yaml:"data_dir"`
	SyncWrites    bool         `yaml:"sync_writes"`
	Audit         AuditConfig  `yaml:"audit"`
	Auth          AuthConfig   `yaml:"auth"`
	RateLimit     RateConfig   `yaml:"rate_limit"`
	Keeper        KeeperConfig `yaml:"keeper"`
	Events        EventsConfig `yaml:"events"`
	Log           LogConfig    `yaml:"log"`
}

// AuditConfig selects the audit database.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig validates the HMAC bearer tokens presented to mutating routes.
type AuthConfig struct {
	HMACSecret  string   `yaml:"hmac_secret"`
	Issuer      string   `yaml:"issuer"`
	Audience    string   `yaml:"audience"`
	KeeperScope string   `yaml:"keeper_scope"`
	AdminScope  string   `yaml:"admin_scope"`
	ClockSkew   Duration `yaml:"clock_skew"`
}

// RateConfig bounds requests per client.
type RateConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeeperConfig drives the scheduled keeper sweeps.
type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Schedule string `yaml:"schedule"`
	// Fee is the keeper fee requested per call, in base units.
	Fee   string      `yaml:"fee"`
	Quota QuotaConfig `yaml:"quota"`
}

// QuotaConfig caps keeper calls and fees per epoch.
type QuotaConfig struct {
	MaxRequestsPerEpoch uint32 `yaml:"max_requests_per_epoch"`
	MaxFeePerEpoch      string `yaml:"max_fee_per_epoch"`
	EpochSeconds        uint32 `yaml:"epoch_seconds"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// LogConfig mirrors logs into a rotating file when File is set.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "services/strategyd/garden.toml"
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = "file:strategyd-audit.sqlite"
	}
	if cfg.Auth.KeeperScope == "" {
		cfg.Auth.KeeperScope = "strategy:keeper"
	}
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = "strategy:admin"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Keeper.Schedule == "" {
		cfg.Keeper.Schedule = "@every 1m"
	}
	if cfg.Keeper.Fee == "" {
		cfg.Keeper.Fee = "0"
	}
	if cfg.Keeper.Quota.EpochSeconds == 0 {
		cfg.Keeper.Quota.EpochSeconds = 3600
	}
	if cfg.Events.Buffer <= 0 {
		cfg.Events.Buffer = 256
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit: unsupported driver %q", cfg.Audit.Driver)
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit: dsn required")
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth: hmac_secret required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Keeper.Enabled && !common.IsHexAddress(cfg.Keeper.Address) {
		return fmt.Errorf("keeper: address %q invalid", cfg.Keeper.Address)
	}
	if _, err := cfg.Keeper.FeeAmount(); err != nil {
		return err
	}
	if _, err := cfg.Keeper.Quota.MaxFee(); err != nil {
		return err
	}
	return nil
}

// FeeAmount parses the configured keeper fee.
func (k KeeperConfig) FeeAmount() (*big.Int, error) {
	return parseBaseUnits("keeper: fee", k.Fee)
}

// MaxFee parses the per-epoch fee cap. Zero means unbounded.
func (q QuotaConfig) MaxFee() (*big.Int, error) {
	return parseBaseUnits("keeper: quota.max_fee_per_epoch", q.MaxFeePerEpoch)
}

func parseBaseUnits(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return value, nil
}
