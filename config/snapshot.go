package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/precise"
	"gardenchain/native/controller"
	"gardenchain/native/oracle"
)

// Snapshot converts the configuration into the controller view the strategy
// engine reads its bounds and whitelists from.
func (c *Config) Snapshot() (controller.Snapshot, error) {
	snap := controller.DefaultSnapshot()
	b := c.Bounds
	minStake, err := parseAmount(b.MinStake)
	if err != nil {
		return snap, fmt.Errorf("bounds: MinStake: %w", err)
	}
	snap.MinDuration = hours(b.MinDurationHours)
	snap.MaxDuration = hours(b.MaxDurationHours)
	snap.MinStake = minStake
	snap.VotingWindow = hours(b.VotingWindowHours)
	snap.Cooldown = hours(b.CooldownHours)
	snap.CandidatePeriod = hours(b.CandidatePeriodHours)
	snap.MinVoters = b.MinVoters
	snap.MinVotesQuorum = precise.FromBps(b.MinVotesQuorumBps)
	snap.MaxGasFeePercentage = precise.FromBps(b.MaxGasFeeBps)
	snap.StrategistProfitPercentage = precise.FromBps(b.StrategistProfitBps)
	snap.VotersProfitPercentage = precise.FromBps(b.VotersProfitBps)
	snap.ProtocolProfitPercentage = precise.FromBps(b.ProtocolProfitBps)
	snap.DissenterSlashPercentage = precise.FromBps(b.DissenterSlashBps)
	snap.UnwindBuffer = precise.FromBps(b.UnwindBufferBps)
	snap.SlippageBps = map[controller.Kind]uint64{
		controller.KindLend:              c.Slippage.Lend,
		controller.KindTrade:             c.Slippage.Trade,
		controller.KindPool:              c.Slippage.Pool,
		controller.KindPassiveInvestment: c.Slippage.Passive,
	}
	if c.Treasury != "" {
		snap.Treasury = common.HexToAddress(c.Treasury)
	}
	for _, keeper := range c.Keepers {
		snap.Keepers[common.HexToAddress(keeper)] = struct{}{}
	}
	for _, in := range c.Integrations {
		kind, err := controller.ParseKind(strings.ToLower(strings.TrimSpace(in.Kind)))
		if err != nil {
			return snap, fmt.Errorf("integrations: %s: %w", in.Name, err)
		}
		addr := common.HexToAddress(in.Address)
		set, ok := snap.Integrations[kind]
		if !ok {
			set = make(map[common.Address]struct{})
			snap.Integrations[kind] = set
		}
		set[addr] = struct{}{}
		if in.Default {
			snap.DefaultTrade = addr
		}
	}
	if err := snap.Validate(); err != nil {
		return snap, err
	}
	return snap, nil
}

// AssetAddress resolves a configured asset symbol.
func (c *Config) AssetAddress(symbol string) (common.Address, error) {
	want := strings.ToUpper(strings.TrimSpace(symbol))
	for _, asset := range c.Assets {
		if strings.ToUpper(strings.TrimSpace(asset.Symbol)) == want {
			return common.HexToAddress(asset.Address), nil
		}
	}
	return common.Address{}, fmt.Errorf("config: unknown asset %q", symbol)
}

// SeedPrices stores every configured asset price in feed, stamped with now.
func (c *Config) SeedPrices(feed *oracle.ManualFeed, now time.Time) error {
	for _, asset := range c.Assets {
		if asset.Price == "" {
			continue
		}
		if err := feed.SetDecimal(common.HexToAddress(asset.Address), asset.Price, now); err != nil {
			return fmt.Errorf("assets: %s: %w", asset.Symbol, err)
		}
	}
	return nil
}

// CoinGeckoIDs maps asset addresses to their CoinGecko identifiers.
func (c *Config) CoinGeckoIDs() map[common.Address]string {
	ids := make(map[common.Address]string)
	for _, asset := range c.Assets {
		if asset.CoinGeckoID != "" {
			ids[common.HexToAddress(asset.Address)] = asset.CoinGeckoID
		}
	}
	return ids
}

// MaxPriceAge returns the oracle staleness bound.
func (c *Config) MaxPriceAge() time.Duration {
	return time.Duration(c.Oracle.MaxAgeSeconds) * time.Second
}

func hours(n uint64) time.Duration { return time.Duration(n) * time.Hour }

// parseAmount converts a non-negative decimal token amount into base units.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return precise.Zero(), nil
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(precise.Unit()))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
