package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/native/controller"
	"gardenchain/native/oracle"
)

var (
	MaxBps     = uint64(10_000)
	knownFeeds = map[string]struct{}{"manual": {}, "coingecko": {}}
)

// Validate checks that the configuration describes a usable protocol.
func (c *Config) Validate() error {
	if c.Treasury != "" && !common.IsHexAddress(c.Treasury) {
		return fmt.Errorf("treasury: invalid address %q", c.Treasury)
	}
	for _, keeper := range c.Keepers {
		if !common.IsHexAddress(keeper) {
			return fmt.Errorf("keepers: invalid address %q", keeper)
		}
	}
	if err := c.Bounds.validate(); err != nil {
		return err
	}
	for name, bps := range map[string]uint64{"lend": c.Slippage.Lend, "trade": c.Slippage.Trade, "pool": c.Slippage.Pool, "passive": c.Slippage.Passive} {
		if bps > MaxBps {
			return fmt.Errorf("slippage: %s above %d bps", name, MaxBps)
		}
	}
	if c.Oracle.MaxAgeSeconds == 0 {
		return fmt.Errorf("oracle: MaxAgeSeconds must be positive")
	}
	for _, name := range c.Oracle.Priority {
		if _, ok := knownFeeds[name]; !ok {
			return fmt.Errorf("oracle: unknown feed %q", name)
		}
	}

	symbols := make(map[string]struct{}, len(c.Assets))
	addresses := make(map[common.Address]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("assets: symbol required")
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("assets: duplicate symbol %s", symbol)
		}
		symbols[symbol] = struct{}{}
		if !common.IsHexAddress(asset.Address) {
			return fmt.Errorf("assets: %s has invalid address %q", symbol, asset.Address)
		}
		addr := common.HexToAddress(asset.Address)
		if _, dup := addresses[addr]; dup {
			return fmt.Errorf("assets: %s reuses address %s", symbol, addr.Hex())
		}
		addresses[addr] = struct{}{}
		if asset.Price != "" {
			if _, err := oracle.ParseDecimal(asset.Price); err != nil {
				return fmt.Errorf("assets: %s: %w", symbol, err)
			}
		}
	}

	gardens := make(map[common.Address]struct{}, len(c.Gardens))
	for _, g := range c.Gardens {
		if !common.IsHexAddress(g.Address) {
			return fmt.Errorf("gardens: %s has invalid address %q", g.Name, g.Address)
		}
		addr := common.HexToAddress(g.Address)
		if _, dup := gardens[addr]; dup {
			return fmt.Errorf("gardens: duplicate address %s", addr.Hex())
		}
		gardens[addr] = struct{}{}
		if _, ok := symbols[strings.ToUpper(strings.TrimSpace(g.Reserve))]; !ok {
			return fmt.Errorf("gardens: %s reserve %q is not a configured asset", g.Name, g.Reserve)
		}
	}

	defaults := 0
	for _, in := range c.Integrations {
		kind, err := controller.ParseKind(strings.ToLower(strings.TrimSpace(in.Kind)))
		if err != nil {
			return fmt.Errorf("integrations: %s: %w", in.Name, err)
		}
		if !common.IsHexAddress(in.Address) {
			return fmt.Errorf("integrations: %s has invalid address %q", in.Name, in.Address)
		}
		if in.FeeBps > MaxBps {
			return fmt.Errorf("integrations: %s fee above %d bps", in.Name, MaxBps)
		}
		for _, pair := range in.Pools {
			if len(pair) != 2 {
				return fmt.Errorf("integrations: %s: pool pairs need two assets", in.Name)
			}
			for _, symbol := range pair {
				if _, ok := symbols[strings.ToUpper(strings.TrimSpace(symbol))]; !ok {
					return fmt.Errorf("integrations: %s: pool asset %q is not configured", in.Name, symbol)
				}
			}
		}
		for _, symbol := range in.Vaults {
			if _, ok := symbols[strings.ToUpper(strings.TrimSpace(symbol))]; !ok {
				return fmt.Errorf("integrations: %s: vault asset %q is not configured", in.Name, symbol)
			}
		}
		if in.Default {
			if kind != controller.KindTrade {
				return fmt.Errorf("integrations: %s: only trade integrations can be the default", in.Name)
			}
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("integrations: %d default trade integrations, want at most one", defaults)
	}
	return nil
}

func (b Bounds) validate() error {
	if b.MinDurationHours == 0 {
		return fmt.Errorf("bounds: MinDurationHours must be positive")
	}
	if b.MinDurationHours > b.MaxDurationHours {
		return fmt.Errorf("bounds: MinDurationHours > MaxDurationHours")
	}
	if b.VotingWindowHours == 0 || b.CandidatePeriodHours == 0 {
		return fmt.Errorf("bounds: voting window and candidate period must be positive")
	}
	if b.MinVoters < 1 {
		return fmt.Errorf("bounds: MinVoters must be at least 1")
	}
	if _, err := parseAmount(b.MinStake); err != nil {
		return fmt.Errorf("bounds: MinStake: %w", err)
	}
	for name, bps := range map[string]uint64{
		"MinVotesQuorumBps": b.MinVotesQuorumBps,
		"MaxGasFeeBps":      b.MaxGasFeeBps,
		"DissenterSlashBps": b.DissenterSlashBps,
		"UnwindBufferBps":   b.UnwindBufferBps,
	} {
		if bps > MaxBps {
			return fmt.Errorf("bounds: %s above %d", name, MaxBps)
		}
	}
	if b.StrategistProfitBps+b.VotersProfitBps+b.ProtocolProfitBps > MaxBps {
		return fmt.Errorf("bounds: profit shares exceed %d bps", MaxBps)
	}
	return nil
}
