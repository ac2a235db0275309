package strategies

import (
	"bytes"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/native/controller"
	"gardenchain/native/operations"
	"gardenchain/native/strategy"
)

// signedAmount carries a signed integer through RLP, which only encodes
// non-negative big integers.
type signedAmount struct {
	Magnitude *big.Int
	Negative  bool
}

type storedStep struct {
	Kind        uint8
	Integration common.Address
	Data        []byte
}

type storedVote struct {
	Voter common.Address
	Power signedAmount
}

type storedTrade struct {
	FromAsset  common.Address
	FromAmount *big.Int
	ToAsset    common.Address
	ToAmount   *big.Int
	Slippage   signedAmount
	At         uint64
}

type storedLeg struct {
	Asset  common.Address
	Amount *big.Int
	Status uint8
}

type storedReward struct {
	Account common.Address
	Amount  *big.Int
}

type storedSettlement struct {
	CapitalAllocated *big.Int
	CapitalReturned  *big.Int
	ReserveDelta     signedAmount
	Profit           *big.Int
	ProtocolFee      *big.Int
	StrategistReward *big.Int
	VoterRewards     []storedReward
	StakeReturned    *big.Int
	StakeSlashed     *big.Int
	DissenterRewards []storedReward
	GardenShare      *big.Int
}

type storedStrategy struct {
	Address    common.Address
	Strategist common.Address
	Garden     common.Address

	Stake                      *big.Int
	MaxCapitalRequested        *big.Int
	ExpectedReturn             *big.Int
	Duration                   uint64
	MaxAllocationPercentage    *big.Int
	MaxGasFeePercentage        *big.Int
	MaxTradeSlippagePercentage *big.Int

	Operations []storedStep

	Votes              []storedVote
	AbsoluteTotalVotes *big.Int
	TotalVotes         signedAmount
	Resolved           bool

	EnteredAt  uint64
	ResolvedAt uint64
	ExecutedAt uint64
	ExitedAt   uint64
	ExpiredAt  uint64

	CapitalAllocated *big.Int
	CapitalReturned  *big.Int
	CapitalUnwound   *big.Int
	Trades           []storedTrade
	Legs             []storedLeg

	Active    bool
	Finalized bool
	Expired   bool

	Settlement *storedSettlement `rlp:"nil"`
}

func toSigned(v *big.Int) signedAmount {
	if v == nil {
		return signedAmount{Magnitude: new(big.Int)}
	}
	return signedAmount{Magnitude: new(big.Int).Abs(v), Negative: v.Sign() < 0}
}

func (s signedAmount) value() *big.Int {
	out := orZero(s.Magnitude)
	if s.Negative {
		out.Neg(out)
	}
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func toUnix(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

func fromUnix(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

func toRewards(in map[common.Address]*big.Int) []storedReward {
	out := make([]storedReward, 0, len(in))
	for account, amount := range in {
		out = append(out, storedReward{Account: account, Amount: orZero(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0 })
	return out
}

func fromRewards(in []storedReward) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for _, r := range in {
		out[r.Account] = orZero(r.Amount)
	}
	return out
}

func encodeStrategy(s *strategy.Strategy) *storedStrategy {
	out := &storedStrategy{
		Address:                    s.Address,
		Strategist:                 s.Strategist,
		Garden:                     s.Garden,
		Stake:                      orZero(s.Stake),
		MaxCapitalRequested:        orZero(s.MaxCapitalRequested),
		ExpectedReturn:             orZero(s.ExpectedReturn),
		Duration:                   uint64(s.Duration),
		MaxAllocationPercentage:    orZero(s.MaxAllocationPercentage),
		MaxGasFeePercentage:        orZero(s.MaxGasFeePercentage),
		MaxTradeSlippagePercentage: orZero(s.MaxTradeSlippagePercentage),
		Operations:                 make([]storedStep, 0, len(s.Operations)),
		Votes:                      make([]storedVote, 0, len(s.Voters)),
		AbsoluteTotalVotes:         orZero(s.AbsoluteTotalVotes),
		TotalVotes:                 toSigned(s.TotalVotes),
		Resolved:                   s.Resolved,
		EnteredAt:                  toUnix(s.EnteredAt),
		ResolvedAt:                 toUnix(s.ResolvedAt),
		ExecutedAt:                 toUnix(s.ExecutedAt),
		ExitedAt:                   toUnix(s.ExitedAt),
		ExpiredAt:                  toUnix(s.ExpiredAt),
		CapitalAllocated:           orZero(s.CapitalAllocated),
		CapitalReturned:            orZero(s.CapitalReturned),
		CapitalUnwound:             orZero(s.CapitalUnwound),
		Trades:                     make([]storedTrade, 0, len(s.Trades)),
		Legs:                       make([]storedLeg, 0, len(s.Legs)),
		Active:                     s.Active,
		Finalized:                  s.Finalized,
		Expired:                    s.Expired,
	}
	for _, step := range s.Operations {
		out.Operations = append(out.Operations, storedStep{Kind: uint8(step.Kind), Integration: step.Integration, Data: append([]byte{}, step.Data...)})
	}
	// Voter order is preserved so reward dust lands deterministically.
	for _, voter := range s.Voters {
		out.Votes = append(out.Votes, storedVote{Voter: voter, Power: toSigned(s.Votes[voter])})
	}
	for _, tr := range s.Trades {
		out.Trades = append(out.Trades, storedTrade{
			FromAsset:  tr.FromAsset,
			FromAmount: orZero(tr.FromAmount),
			ToAsset:    tr.ToAsset,
			ToAmount:   orZero(tr.ToAmount),
			Slippage:   toSigned(tr.Slippage),
			At:         toUnix(tr.At),
		})
	}
	for _, leg := range s.Legs {
		out.Legs = append(out.Legs, storedLeg{Asset: leg.Asset, Amount: orZero(leg.Amount), Status: uint8(leg.Status)})
	}
	if st := s.Settlement; st != nil {
		out.Settlement = &storedSettlement{
			CapitalAllocated: orZero(st.CapitalAllocated),
			CapitalReturned:  orZero(st.CapitalReturned),
			ReserveDelta:     toSigned(st.ReserveDelta),
			Profit:           orZero(st.Profit),
			ProtocolFee:      orZero(st.ProtocolFee),
			StrategistReward: orZero(st.StrategistReward),
			VoterRewards:     toRewards(st.VoterRewards),
			StakeReturned:    orZero(st.StakeReturned),
			StakeSlashed:     orZero(st.StakeSlashed),
			DissenterRewards: toRewards(st.DissenterRewards),
			GardenShare:      orZero(st.GardenShare),
		}
	}
	return out
}

func decodeStrategy(in *storedStrategy) *strategy.Strategy {
	out := &strategy.Strategy{
		Address:                    in.Address,
		Strategist:                 in.Strategist,
		Garden:                     in.Garden,
		Stake:                      orZero(in.Stake),
		MaxCapitalRequested:        orZero(in.MaxCapitalRequested),
		ExpectedReturn:             orZero(in.ExpectedReturn),
		Duration:                   time.Duration(in.Duration),
		MaxAllocationPercentage:    orZero(in.MaxAllocationPercentage),
		MaxGasFeePercentage:        orZero(in.MaxGasFeePercentage),
		MaxTradeSlippagePercentage: orZero(in.MaxTradeSlippagePercentage),
		Operations:                 make([]operations.Step, 0, len(in.Operations)),
		Voters:                     make([]common.Address, 0, len(in.Votes)),
		Votes:                      make(map[common.Address]*big.Int, len(in.Votes)),
		AbsoluteTotalVotes:         orZero(in.AbsoluteTotalVotes),
		TotalVotes:                 in.TotalVotes.value(),
		Resolved:                   in.Resolved,
		EnteredAt:                  fromUnix(in.EnteredAt),
		ResolvedAt:                 fromUnix(in.ResolvedAt),
		ExecutedAt:                 fromUnix(in.ExecutedAt),
		ExitedAt:                   fromUnix(in.ExitedAt),
		ExpiredAt:                  fromUnix(in.ExpiredAt),
		CapitalAllocated:           orZero(in.CapitalAllocated),
		CapitalReturned:            orZero(in.CapitalReturned),
		CapitalUnwound:             orZero(in.CapitalUnwound),
		Trades:                     make([]strategy.TradeRecord, 0, len(in.Trades)),
		Legs:                       make([]operations.Position, 0, len(in.Legs)),
		Active:                     in.Active,
		Finalized:                  in.Finalized,
		Expired:                    in.Expired,
	}
	for _, step := range in.Operations {
		out.Operations = append(out.Operations, operations.Step{Kind: controller.Kind(step.Kind), Integration: step.Integration, Data: step.Data})
	}
	for _, v := range in.Votes {
		out.Voters = append(out.Voters, v.Voter)
		out.Votes[v.Voter] = v.Power.value()
	}
	for _, tr := range in.Trades {
		out.Trades = append(out.Trades, strategy.TradeRecord{
			FromAsset:  tr.FromAsset,
			FromAmount: orZero(tr.FromAmount),
			ToAsset:    tr.ToAsset,
			ToAmount:   orZero(tr.ToAmount),
			Slippage:   tr.Slippage.value(),
			At:         fromUnix(tr.At),
		})
	}
	for _, leg := range in.Legs {
		out.Legs = append(out.Legs, operations.Position{Asset: leg.Asset, Amount: orZero(leg.Amount), Status: operations.Status(leg.Status)})
	}
	if st := in.Settlement; st != nil {
		out.Settlement = &strategy.Settlement{
			CapitalAllocated: orZero(st.CapitalAllocated),
			CapitalReturned:  orZero(st.CapitalReturned),
			ReserveDelta:     st.ReserveDelta.value(),
			Profit:           orZero(st.Profit),
			ProtocolFee:      orZero(st.ProtocolFee),
			StrategistReward: orZero(st.StrategistReward),
			VoterRewards:     fromRewards(st.VoterRewards),
			StakeReturned:    orZero(st.StakeReturned),
			StakeSlashed:     orZero(st.StakeSlashed),
			DissenterRewards: fromRewards(st.DissenterRewards),
			GardenShare:      orZero(st.GardenShare),
		}
	}
	return out
}
