package server

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/native/garden"
	"gardenchain/native/operations"
	"gardenchain/native/strategy"
)

type stepView struct {
	Kind        string `json:"kind"`
	Integration string `json:"integration"`
	Target      string `json:"target,omitempty"`
	SlippageBps uint64 `json:"slippage_bps,omitempty"`
}

type voteView struct {
	Voter string `json:"voter"`
	Power string `json:"power"`
}

type legView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Status string `json:"status"`
}

type tradeView struct {
	FromAsset  string `json:"from_asset"`
	FromAmount string `json:"from_amount"`
	ToAsset    string `json:"to_asset"`
	ToAmount   string `json:"to_amount"`
	Slippage   string `json:"slippage"`
	At         int64  `json:"at"`
}

type settlementView struct {
	CapitalAllocated string            `json:"capital_allocated"`
	CapitalReturned  string            `json:"capital_returned"`
	ReserveDelta     string            `json:"reserve_delta"`
	Profit           string            `json:"profit"`
	ProtocolFee      string            `json:"protocol_fee"`
	StrategistReward string            `json:"strategist_reward"`
	VoterRewards     map[string]string `json:"voter_rewards"`
	StakeReturned    string            `json:"stake_returned"`
	StakeSlashed     string            `json:"stake_slashed"`
	DissenterRewards map[string]string `json:"dissenter_rewards"`
	GardenShare      string            `json:"garden_share"`
}

type strategyView struct {
	Address    string `json:"address"`
	Garden     string `json:"garden"`
	Strategist string `json:"strategist"`
	State      string `json:"state"`

	Stake                      string `json:"stake"`
	MaxCapitalRequested        string `json:"max_capital_requested"`
	ExpectedReturn             string `json:"expected_return"`
	DurationSeconds            int64  `json:"duration_seconds"`
	MaxAllocationPercentage    string `json:"max_allocation_percentage"`
	MaxGasFeePercentage        string `json:"max_gas_fee_percentage"`
	MaxTradeSlippagePercentage string `json:"max_trade_slippage_percentage"`

	Operations         []stepView `json:"operations"`
	Votes              []voteView `json:"votes"`
	AbsoluteTotalVotes string     `json:"absolute_total_votes"`
	TotalVotes         string     `json:"total_votes"`

	EnteredAt  int64 `json:"entered_at"`
	ResolvedAt int64 `json:"resolved_at,omitempty"`
	ExecutedAt int64 `json:"executed_at,omitempty"`
	ExitedAt   int64 `json:"exited_at,omitempty"`
	ExpiredAt  int64 `json:"expired_at,omitempty"`

	CapitalAllocated string          `json:"capital_allocated"`
	CapitalReturned  string          `json:"capital_returned"`
	CapitalUnwound   string          `json:"capital_unwound"`
	Legs             []legView       `json:"legs"`
	Trades           []tradeView     `json:"trades"`
	Settlement       *settlementView `json:"settlement,omitempty"`
}

type gardenView struct {
	Address          string   `json:"address"`
	Reserve          string   `json:"reserve"`
	LiquidReserve    string   `json:"liquid_reserve"`
	TotalCapital     string   `json:"total_capital"`
	TotalVotingPower string   `json:"total_voting_power"`
	PendingRewards   string   `json:"pending_rewards"`
	Candidates       []string `json:"candidates"`
	Active           []string `json:"active"`
	Finalized        []string `json:"finalized"`
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func hexList(list []common.Address) []string {
	out := make([]string, len(list))
	for i, addr := range list {
		out[i] = addr.Hex()
	}
	return out
}

func amountMap(in map[common.Address]*big.Int) map[string]string {
	out := make(map[string]string, len(in))
	for addr, v := range in {
		out[addr.Hex()] = amount(v)
	}
	return out
}

func newStrategyView(s *strategy.Strategy) strategyView {
	view := strategyView{
		Address:                    s.Address.Hex(),
		Garden:                     s.Garden.Hex(),
		Strategist:                 s.Strategist.Hex(),
		State:                      s.State().String(),
		Stake:                      amount(s.Stake),
		MaxCapitalRequested:        amount(s.MaxCapitalRequested),
		ExpectedReturn:             amount(s.ExpectedReturn),
		DurationSeconds:            int64(s.Duration / time.Second),
		MaxAllocationPercentage:    amount(s.MaxAllocationPercentage),
		MaxGasFeePercentage:        amount(s.MaxGasFeePercentage),
		MaxTradeSlippagePercentage: amount(s.MaxTradeSlippagePercentage),
		AbsoluteTotalVotes:         amount(s.AbsoluteTotalVotes),
		TotalVotes:                 amount(s.TotalVotes),
		EnteredAt:                  unix(s.EnteredAt),
		ResolvedAt:                 unix(s.ResolvedAt),
		ExecutedAt:                 unix(s.ExecutedAt),
		ExitedAt:                   unix(s.ExitedAt),
		ExpiredAt:                  unix(s.ExpiredAt),
		CapitalAllocated:           amount(s.CapitalAllocated),
		CapitalReturned:            amount(s.CapitalReturned),
		CapitalUnwound:             amount(s.CapitalUnwound),
		Operations:                 make([]stepView, 0, len(s.Operations)),
		Votes:                      make([]voteView, 0, len(s.Voters)),
		Legs:                       make([]legView, 0, len(s.Legs)),
		Trades:                     make([]tradeView, 0, len(s.Trades)),
	}
	for _, step := range s.Operations {
		sv := stepView{Kind: step.Kind.String(), Integration: step.Integration.Hex()}
		if p, err := operations.DecodeParams(step.Data); err == nil {
			sv.Target = p.Target.Hex()
			sv.SlippageBps = p.SlippageBps
		}
		view.Operations = append(view.Operations, sv)
	}
	for _, voter := range s.Voters {
		view.Votes = append(view.Votes, voteView{Voter: voter.Hex(), Power: amount(s.UserVotes(voter))})
	}
	for _, leg := range s.Legs {
		view.Legs = append(view.Legs, legView{Asset: leg.Asset.Hex(), Amount: amount(leg.Amount), Status: leg.Status.String()})
	}
	for _, tr := range s.Trades {
		view.Trades = append(view.Trades, tradeView{
			FromAsset:  tr.FromAsset.Hex(),
			FromAmount: amount(tr.FromAmount),
			ToAsset:    tr.ToAsset.Hex(),
			ToAmount:   amount(tr.ToAmount),
			Slippage:   amount(tr.Slippage),
			At:         unix(tr.At),
		})
	}
	if st := s.Settlement; st != nil {
		view.Settlement = &settlementView{
			CapitalAllocated: amount(st.CapitalAllocated),
			CapitalReturned:  amount(st.CapitalReturned),
			ReserveDelta:     amount(st.ReserveDelta),
			Profit:           amount(st.Profit),
			ProtocolFee:      amount(st.ProtocolFee),
			StrategistReward: amount(st.StrategistReward),
			VoterRewards:     amountMap(st.VoterRewards),
			StakeReturned:    amount(st.StakeReturned),
			StakeSlashed:     amount(st.StakeSlashed),
			DissenterRewards: amountMap(st.DissenterRewards),
			GardenShare:      amount(st.GardenShare),
		}
	}
	return view
}

func newGardenView(g *garden.Garden) gardenView {
	return gardenView{
		Address:          g.Address().Hex(),
		Reserve:          g.ReserveAsset().Hex(),
		LiquidReserve:    amount(g.LiquidReserve()),
		TotalCapital:     amount(g.TotalCapital()),
		TotalVotingPower: amount(g.TotalVotingPower()),
		PendingRewards:   amount(g.PendingRewards()),
		Candidates:       hexList(g.Candidates()),
		Active:           hexList(g.ActiveStrategies()),
		Finalized:        hexList(g.FinalizedStrategies()),
	}
}
