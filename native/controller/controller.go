// Package controller holds the protocol registry consulted by the strategy
// engine: keeper and integration whitelists plus global bounds. Callers work
// against immutable snapshots so a parameter change never lands mid-call.
package controller

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/precise"
)

// Kind enumerates the operation families an integration can serve.
type Kind uint8

const (
	KindLend Kind = iota
	KindTrade
	KindPool
	KindPassiveInvestment
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{KindLend, KindTrade, KindPool, KindPassiveInvestment}

func (k Kind) String() string {
	switch k {
	case KindLend:
		return "lend"
	case KindTrade:
		return "trade"
	case KindPool:
		return "pool"
	case KindPassiveInvestment:
		return "passive"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name onto a Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("controller: unknown operation kind %q", name)
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	Keepers      map[common.Address]struct{}
	Integrations map[Kind]map[common.Address]struct{}
	// DefaultTrade routes the conversion legs of non-trade operations.
	DefaultTrade common.Address
	Treasury     common.Address

	MinDuration     time.Duration
	MaxDuration     time.Duration
	MinStake        *big.Int
	VotingWindow    time.Duration
	Cooldown        time.Duration
	CandidatePeriod time.Duration
	MinVoters       int
	// MinVotesQuorum is the share of total voting power the net tally must
	// reach, 1e18 scaled.
	MinVotesQuorum *big.Int

	MaxGasFeePercentage        *big.Int
	StrategistProfitPercentage *big.Int
	VotersProfitPercentage     *big.Int
	ProtocolProfitPercentage   *big.Int
	DissenterSlashPercentage   *big.Int
	// UnwindBuffer is the slippage headroom demanded on top of an unwind
	// request.
	UnwindBuffer *big.Int

	SlippageBps map[Kind]uint64
}

// DefaultSnapshot returns the protocol defaults with empty whitelists.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Keepers:                    make(map[common.Address]struct{}),
		Integrations:               make(map[Kind]map[common.Address]struct{}),
		MinDuration:                24 * time.Hour,
		MaxDuration:                365 * 24 * time.Hour,
		MinStake:                   precise.Zero(),
		VotingWindow:               7 * 24 * time.Hour,
		Cooldown:                   24 * time.Hour,
		CandidatePeriod:            7 * 24 * time.Hour,
		MinVoters:                  1,
		MinVotesQuorum:             precise.FromBps(1_000),
		MaxGasFeePercentage:        precise.FromBps(500),
		StrategistProfitPercentage: precise.FromBps(1_000),
		VotersProfitPercentage:     precise.FromBps(500),
		ProtocolProfitPercentage:   precise.FromBps(500),
		DissenterSlashPercentage:   precise.FromBps(5_000),
		UnwindBuffer:               precise.FromBps(500),
		SlippageBps: map[Kind]uint64{
			KindLend:              50,
			KindTrade:             300,
			KindPool:              500,
			KindPassiveInvestment: 100,
		},
	}
}

// IsValidKeeper reports whether addr may trigger keeper-gated transitions.
func (s Snapshot) IsValidKeeper(addr common.Address) bool {
	_, ok := s.Keepers[addr]
	return ok
}

// IsValidIntegration reports whether addr is whitelisted for kind.
func (s Snapshot) IsValidIntegration(kind Kind, addr common.Address) bool {
	set, ok := s.Integrations[kind]
	if !ok {
		return false
	}
	_, ok = set[addr]
	return ok
}

// Slippage returns the default slippage tolerance for kind as a precise
// percentage.
func (s Snapshot) Slippage(kind Kind) *big.Int {
	return precise.FromBps(s.SlippageBps[kind])
}

// Validate checks the bounds are internally consistent.
func (s Snapshot) Validate() error {
	if s.MinDuration <= 0 || s.MaxDuration < s.MinDuration {
		return fmt.Errorf("controller: duration bounds invalid (min %s max %s)", s.MinDuration, s.MaxDuration)
	}
	if s.VotingWindow <= 0 {
		return fmt.Errorf("controller: voting window must be positive")
	}
	if s.Cooldown < 0 || s.CandidatePeriod <= 0 {
		return fmt.Errorf("controller: cooldown and candidate period must be non-negative and positive")
	}
	if s.MinVoters < 0 {
		return fmt.Errorf("controller: min voters must not be negative")
	}
	if s.MinStake == nil || s.MinStake.Sign() < 0 {
		return fmt.Errorf("controller: min stake must not be negative")
	}
	percentages := map[string]*big.Int{
		"minVotesQuorum":             s.MinVotesQuorum,
		"maxGasFeePercentage":        s.MaxGasFeePercentage,
		"strategistProfitPercentage": s.StrategistProfitPercentage,
		"votersProfitPercentage":     s.VotersProfitPercentage,
		"protocolProfitPercentage":   s.ProtocolProfitPercentage,
		"dissenterSlashPercentage":   s.DissenterSlashPercentage,
		"unwindBuffer":               s.UnwindBuffer,
	}
	for name, value := range percentages {
		if !precise.Percent(value) {
			return fmt.Errorf("controller: %s must be within [0, 100%%]", name)
		}
	}
	shares := new(big.Int).Add(s.StrategistProfitPercentage, s.VotersProfitPercentage)
	shares.Add(shares, s.ProtocolProfitPercentage)
	if !precise.Percent(shares) {
		return fmt.Errorf("controller: profit shares exceed 100%%")
	}
	for kind, bps := range s.SlippageBps {
		if bps > 10_000 {
			return fmt.Errorf("controller: slippage for %s exceeds 100%%", kind)
		}
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Keepers = make(map[common.Address]struct{}, len(s.Keepers))
	for k := range s.Keepers {
		out.Keepers[k] = struct{}{}
	}
	out.Integrations = make(map[Kind]map[common.Address]struct{}, len(s.Integrations))
	for kind, set := range s.Integrations {
		copySet := make(map[common.Address]struct{}, len(set))
		for addr := range set {
			copySet[addr] = struct{}{}
		}
		out.Integrations[kind] = copySet
	}
	out.SlippageBps = make(map[Kind]uint64, len(s.SlippageBps))
	for kind, bps := range s.SlippageBps {
		out.SlippageBps[kind] = bps
	}
	out.MinStake = precise.Copy(s.MinStake)
	out.MinVotesQuorum = precise.Copy(s.MinVotesQuorum)
	out.MaxGasFeePercentage = precise.Copy(s.MaxGasFeePercentage)
	out.StrategistProfitPercentage = precise.Copy(s.StrategistProfitPercentage)
	out.VotersProfitPercentage = precise.Copy(s.VotersProfitPercentage)
	out.ProtocolProfitPercentage = precise.Copy(s.ProtocolProfitPercentage)
	out.DissenterSlashPercentage = precise.Copy(s.DissenterSlashPercentage)
	out.UnwindBuffer = precise.Copy(s.UnwindBuffer)
	return out
}

// Provider hands out the current registry snapshot.
type Provider interface {
	Snapshot() Snapshot
}

// Registry is the mutable, concurrency-safe registry backing snapshots. It
// also tracks module pauses.
type Registry struct {
	mu     sync.RWMutex
	snap   Snapshot
	paused map[string]bool
}

// NewRegistry validates and installs the initial snapshot.
func NewRegistry(initial Snapshot) (*Registry, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Registry{snap: initial.Clone(), paused: make(map[string]bool)}, nil
}

// Snapshot satisfies Provider.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Clone()
}

// Update replaces the bounds after validation.
func (r *Registry) Update(next Snapshot) error {
	if err := next.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.snap = next.Clone()
	r.mu.Unlock()
	return nil
}

// AddKeeper whitelists a keeper.
func (r *Registry) AddKeeper(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Keepers == nil {
		r.snap.Keepers = make(map[common.Address]struct{})
	}
	r.snap.Keepers[addr] = struct{}{}
}

// RemoveKeeper revokes a keeper.
func (r *Registry) RemoveKeeper(addr common.Address) {
	r.mu.Lock()
	delete(r.snap.Keepers, addr)
	r.mu.Unlock()
}

// AddIntegration whitelists addr for kind.
func (r *Registry) AddIntegration(kind Kind, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Integrations == nil {
		r.snap.Integrations = make(map[Kind]map[common.Address]struct{})
	}
	set, ok := r.snap.Integrations[kind]
	if !ok {
		set = make(map[common.Address]struct{})
		r.snap.Integrations[kind] = set
	}
	set[addr] = struct{}{}
}

// SetPaused toggles the pause flag of a module.
func (r *Registry) SetPaused(module string, paused bool) {
	r.mu.Lock()
	r.paused[module] = paused
	r.mu.Unlock()
}

// IsPaused satisfies common.PauseView.
func (r *Registry) IsPaused(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused[module]
}
