package strategy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
)

// Settlement is the profit and loss distribution computed at finalization.
// It is kept on the strategy as the audit trail for reward claims.
type Settlement struct {
	CapitalAllocated *big.Int
	CapitalReturned  *big.Int
	// ReserveDelta is returned minus allocated and is negative on a loss.
	ReserveDelta *big.Int
	Profit       *big.Int

	ProtocolFee      *big.Int
	StrategistReward *big.Int
	VoterRewards     map[common.Address]*big.Int

	StakeReturned    *big.Int
	StakeSlashed     *big.Int
	DissenterRewards map[common.Address]*big.Int

	// GardenShare is what the garden keeps beyond the returned capital
	// principal: the undistributed profit or the undistributed slash.
	GardenShare *big.Int
}

// SettleInput gathers everything RewardSettlement consumes.
type SettleInput struct {
	Strategist       common.Address
	CapitalAllocated *big.Int
	CapitalReturned  *big.Int
	Stake            *big.Int
	Voters           []common.Address
	Votes            map[common.Address]*big.Int

	StrategistProfitPercentage *big.Int
	VotersProfitPercentage     *big.Int
	ProtocolProfitPercentage   *big.Int
	DissenterSlashPercentage   *big.Int
}

// Settle computes the distribution. It is a pure function of its input.
func Settle(in SettleInput) (*Settlement, error) {
	for name, v := range map[string]*big.Int{
		"allocated": in.CapitalAllocated,
		"returned":  in.CapitalReturned,
		"stake":     in.Stake,
	} {
		if v == nil || v.Sign() < 0 {
			return nil, fmt.Errorf("settle %s: %w", name, strategyerrors.ErrInvalidAmount)
		}
	}
	out := &Settlement{
		CapitalAllocated: new(big.Int).Set(in.CapitalAllocated),
		CapitalReturned:  new(big.Int).Set(in.CapitalReturned),
		ReserveDelta:     new(big.Int).Sub(in.CapitalReturned, in.CapitalAllocated),
		Profit:           new(big.Int),
		ProtocolFee:      new(big.Int),
		StrategistReward: new(big.Int),
		VoterRewards:     make(map[common.Address]*big.Int),
		StakeReturned:    new(big.Int).Set(in.Stake),
		StakeSlashed:     new(big.Int),
		DissenterRewards: make(map[common.Address]*big.Int),
		GardenShare:      new(big.Int),
	}

	if out.ReserveDelta.Sign() > 0 {
		profit := new(big.Int).Set(out.ReserveDelta)
		out.Profit.Set(profit)
		out.ProtocolFee = precise.Mul(profit, in.ProtocolProfitPercentage)
		out.StrategistReward = precise.Mul(profit, in.StrategistProfitPercentage)
		pool := precise.Mul(profit, in.VotersProfitPercentage)
		distributed := splitProRata(pool, in.Voters, in.Votes, 1, out.VoterRewards)
		out.GardenShare.Sub(profit, out.ProtocolFee)
		out.GardenShare.Sub(out.GardenShare, out.StrategistReward)
		out.GardenShare.Sub(out.GardenShare, distributed)
		return out, nil
	}

	shortfall := new(big.Int).Neg(out.ReserveDelta)
	out.StakeSlashed = precise.Min(in.Stake, shortfall)
	out.StakeReturned.Sub(in.Stake, out.StakeSlashed)
	pool := precise.Mul(out.StakeSlashed, in.DissenterSlashPercentage)
	distributed := splitProRata(pool, in.Voters, in.Votes, -1, out.DissenterRewards)
	out.GardenShare.Sub(out.StakeSlashed, distributed)
	return out, nil
}

// splitProRata divides pool among the voters whose power has the given sign,
// weighted by the magnitude of their power. Rounding dust stays undistributed.
func splitProRata(pool *big.Int, voters []common.Address, votes map[common.Address]*big.Int, sign int, dst map[common.Address]*big.Int) *big.Int {
	distributed := new(big.Int)
	if pool.Sign() == 0 {
		return distributed
	}
	weight := new(big.Int)
	for _, voter := range voters {
		if power := votes[voter]; power != nil && power.Sign() == sign {
			weight.Add(weight, new(big.Int).Abs(power))
		}
	}
	if weight.Sign() == 0 {
		return distributed
	}
	for _, voter := range voters {
		power := votes[voter]
		if power == nil || power.Sign() != sign {
			continue
		}
		share := new(big.Int).Mul(pool, new(big.Int).Abs(power))
		share.Quo(share, weight)
		if share.Sign() == 0 {
			continue
		}
		dst[voter] = share
		distributed.Add(distributed, share)
	}
	return distributed
}

// Rewards merges every claimable reward of the settlement keyed by account.
func (s *Settlement) Rewards(strategist common.Address) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int)
	add := func(account common.Address, amount *big.Int) {
		if amount == nil || amount.Sign() == 0 {
			return
		}
		if cur, ok := out[account]; ok {
			cur.Add(cur, amount)
			return
		}
		out[account] = new(big.Int).Set(amount)
	}
	add(strategist, s.StrategistReward)
	for voter, amount := range s.VoterRewards {
		add(voter, amount)
	}
	for voter, amount := range s.DissenterRewards {
		add(voter, amount)
	}
	return out
}

// Clone returns a deep copy.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	out := &Settlement{
		CapitalAllocated: cloneBig(s.CapitalAllocated),
		CapitalReturned:  cloneBig(s.CapitalReturned),
		ReserveDelta:     cloneBig(s.ReserveDelta),
		Profit:           cloneBig(s.Profit),
		ProtocolFee:      cloneBig(s.ProtocolFee),
		StrategistReward: cloneBig(s.StrategistReward),
		VoterRewards:     make(map[common.Address]*big.Int, len(s.VoterRewards)),
		StakeReturned:    cloneBig(s.StakeReturned),
		StakeSlashed:     cloneBig(s.StakeSlashed),
		DissenterRewards: make(map[common.Address]*big.Int, len(s.DissenterRewards)),
		GardenShare:      cloneBig(s.GardenShare),
	}
	for k, v := range s.VoterRewards {
		out.VoterRewards[k] = cloneBig(v)
	}
	for k, v := range s.DissenterRewards {
		out.DissenterRewards[k] = cloneBig(v)
	}
	return out
}
