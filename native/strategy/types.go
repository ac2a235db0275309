package strategy

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/native/operations"
)

// State is the lifecycle phase of a strategy.
type State uint8

const (
	StateProposed State = iota
	StateResolved
	StateActive
	StateFinalized
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateResolved:
		return "resolved"
	case StateActive:
		return "active"
	case StateFinalized:
		return "finalized"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Params are the economic terms a strategist proposes. They are immutable
// once the strategy is admitted.
type Params struct {
	Stake                   *big.Int
	MaxCapitalRequested     *big.Int
	ExpectedReturn          *big.Int
	Duration                time.Duration
	MaxAllocationPercentage *big.Int
	// MaxGasFeePercentage caps keeper fees relative to capital. Zero selects
	// the controller bound.
	MaxGasFeePercentage *big.Int
	// MaxTradeSlippagePercentage overrides the default trade tolerance when
	// non-zero.
	MaxTradeSlippagePercentage *big.Int
}

// TradeRecord is one intermediate conversion captured by the capital ledger.
// Slippage is the reserve-denominated value lost in the trade and may be
// negative when the trade beat the oracle.
type TradeRecord struct {
	FromAsset  common.Address
	FromAmount *big.Int
	ToAsset    common.Address
	ToAmount   *big.Int
	Slippage   *big.Int
	At         time.Time
}

// Strategy is a single investment thesis drawing capital from a garden.
type Strategy struct {
	Address    common.Address
	Strategist common.Address
	Garden     common.Address

	Stake                      *big.Int
	MaxCapitalRequested        *big.Int
	ExpectedReturn             *big.Int
	Duration                   time.Duration
	MaxAllocationPercentage    *big.Int
	MaxGasFeePercentage        *big.Int
	MaxTradeSlippagePercentage *big.Int

	Operations []operations.Step

	Voters             []common.Address
	Votes              map[common.Address]*big.Int
	AbsoluteTotalVotes *big.Int
	TotalVotes         *big.Int
	Resolved           bool

	EnteredAt  time.Time
	ResolvedAt time.Time
	ExecutedAt time.Time
	ExitedAt   time.Time
	ExpiredAt  time.Time

	CapitalAllocated *big.Int
	CapitalReturned  *big.Int
	CapitalUnwound   *big.Int
	Trades           []TradeRecord
	Legs             []operations.Position

	Active    bool
	Finalized bool
	Expired   bool

	Settlement *Settlement
}

// State derives the lifecycle phase from the monotonic flags.
func (s *Strategy) State() State {
	switch {
	case s.Expired:
		return StateExpired
	case s.Finalized:
		return StateFinalized
	case s.Active:
		return StateActive
	case s.Resolved:
		return StateResolved
	default:
		return StateProposed
	}
}

// UserVotes returns the signed power voter committed, or zero.
func (s *Strategy) UserVotes(voter common.Address) *big.Int {
	if v, ok := s.Votes[voter]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Clone returns a deep copy safe to hand to callers.
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	out := *s
	out.Stake = cloneBig(s.Stake)
	out.MaxCapitalRequested = cloneBig(s.MaxCapitalRequested)
	out.ExpectedReturn = cloneBig(s.ExpectedReturn)
	out.MaxAllocationPercentage = cloneBig(s.MaxAllocationPercentage)
	out.MaxGasFeePercentage = cloneBig(s.MaxGasFeePercentage)
	out.MaxTradeSlippagePercentage = cloneBig(s.MaxTradeSlippagePercentage)
	out.Operations = make([]operations.Step, len(s.Operations))
	for i, step := range s.Operations {
		out.Operations[i] = operations.Step{Kind: step.Kind, Integration: step.Integration, Data: append([]byte(nil), step.Data...)}
	}
	out.Voters = append([]common.Address(nil), s.Voters...)
	out.Votes = make(map[common.Address]*big.Int, len(s.Votes))
	for voter, power := range s.Votes {
		out.Votes[voter] = cloneBig(power)
	}
	out.AbsoluteTotalVotes = cloneBig(s.AbsoluteTotalVotes)
	out.TotalVotes = cloneBig(s.TotalVotes)
	out.CapitalAllocated = cloneBig(s.CapitalAllocated)
	out.CapitalReturned = cloneBig(s.CapitalReturned)
	out.CapitalUnwound = cloneBig(s.CapitalUnwound)
	out.Trades = make([]TradeRecord, len(s.Trades))
	for i, tr := range s.Trades {
		out.Trades[i] = TradeRecord{
			FromAsset:  tr.FromAsset,
			FromAmount: cloneBig(tr.FromAmount),
			ToAsset:    tr.ToAsset,
			ToAmount:   cloneBig(tr.ToAmount),
			Slippage:   cloneBig(tr.Slippage),
			At:         tr.At,
		}
	}
	out.Legs = make([]operations.Position, len(s.Legs))
	for i, leg := range s.Legs {
		out.Legs[i] = operations.Position{Asset: leg.Asset, Amount: cloneBig(leg.Amount), Status: leg.Status}
	}
	out.Settlement = s.Settlement.Clone()
	return &out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
