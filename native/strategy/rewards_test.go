package strategy

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
)

func settleInput(allocated, returned *big.Int) SettleInput {
	return SettleInput{
		Strategist:                 strategist,
		CapitalAllocated:           allocated,
		CapitalReturned:            returned,
		Stake:                      units(1),
		Voters:                     []common.Address{voterA, voterB, voterC},
		Votes:                      map[common.Address]*big.Int{voterA: units(5), voterB: units(3), voterC: new(big.Int).Neg(units(2))},
		StrategistProfitPercentage: precise.FromBps(1_000),
		VotersProfitPercentage:     precise.FromBps(500),
		ProtocolProfitPercentage:   precise.FromBps(500),
		DissenterSlashPercentage:   precise.FromBps(5_000),
	}
}

func TestSettleBreakEven(t *testing.T) {
	out, err := Settle(settleInput(units(2), units(2)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.ReserveDelta.Sign() != 0 || out.Profit.Sign() != 0 || out.StakeSlashed.Sign() != 0 {
		t.Fatalf("break even must not move value: %+v", out)
	}
	if out.StakeReturned.Cmp(units(1)) != 0 {
		t.Fatalf("stake returned = %s", out.StakeReturned)
	}
	if len(out.Rewards(strategist)) != 0 {
		t.Fatalf("no rewards expected")
	}
}

func TestSettleLossBeyondStake(t *testing.T) {
	out, err := Settle(settleInput(units(5), units(2)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.StakeSlashed.Cmp(units(1)) != 0 || out.StakeReturned.Sign() != 0 {
		t.Fatalf("slash = %s returned = %s", out.StakeSlashed, out.StakeReturned)
	}
	if out.ReserveDelta.Cmp(big.NewInt(0).Neg(units(3))) != 0 {
		t.Fatalf("reserve delta = %s", out.ReserveDelta)
	}
	if got := out.DissenterRewards[voterC]; got == nil || got.Cmp(milli(500)) != 0 {
		t.Fatalf("dissenter reward = %v", got)
	}
	if out.GardenShare.Cmp(milli(500)) != 0 {
		t.Fatalf("garden share = %s", out.GardenShare)
	}
}

func TestSettleProfitSplitsBySupport(t *testing.T) {
	out, err := Settle(settleInput(units(2), milli(2_200)))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.ProtocolFee.Cmp(milli(10)) != 0 || out.StrategistReward.Cmp(milli(20)) != 0 {
		t.Fatalf("fee %s strategist %s", out.ProtocolFee, out.StrategistReward)
	}
	if _, ok := out.VoterRewards[voterC]; ok {
		t.Fatalf("dissenters take no profit")
	}
	total := new(big.Int).Add(out.ProtocolFee, out.StrategistReward)
	for _, amount := range out.VoterRewards {
		total.Add(total, amount)
	}
	total.Add(total, out.GardenShare)
	if total.Cmp(out.Profit) != 0 {
		t.Fatalf("shares %s do not add up to profit %s", total, out.Profit)
	}
	rewards := out.Rewards(strategist)
	if rewards[strategist].Cmp(milli(20)) != 0 || len(rewards) != 3 {
		t.Fatalf("merged rewards = %v", rewards)
	}
}

func TestSettleRoundingDustStays(t *testing.T) {
	in := settleInput(big.NewInt(100), big.NewInt(103))
	in.Votes = map[common.Address]*big.Int{voterA: big.NewInt(1), voterB: big.NewInt(1), voterC: big.NewInt(1)}
	in.VotersProfitPercentage = precise.Unit()
	in.StrategistProfitPercentage = precise.Zero()
	in.ProtocolProfitPercentage = precise.Zero()
	out, err := Settle(in)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	for _, voter := range in.Voters {
		if out.VoterRewards[voter].Cmp(big.NewInt(1)) != 0 {
			t.Fatalf("voter %s reward = %s", voter.Hex(), out.VoterRewards[voter])
		}
	}
	if out.GardenShare.Sign() != 0 {
		t.Fatalf("exact split leaves no dust, got %s", out.GardenShare)
	}
	in.CapitalReturned = big.NewInt(104)
	out, err = Settle(in)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.GardenShare.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("dust = %s, want 1", out.GardenShare)
	}
}

func TestSettleRejectsNegativeInputs(t *testing.T) {
	if _, err := Settle(settleInput(big.NewInt(-1), units(1))); !errors.Is(err, strategyerrors.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
