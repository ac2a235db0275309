package strategy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/precise"
	"gardenchain/native/operations"
)

// ExecuteStrategy allocates capital from the garden and runs the operation
// plan in order, chaining each output into the next step. The first call
// activates the strategy; later calls top up capital without moving
// ExecutedAt.
func (e *Engine) ExecuteStrategy(caller, addr common.Address, capital, fee *big.Int) error {
	return e.run("execute", func(c *call) error {
		snap := e.snapshot()
		if !snap.IsValidKeeper(caller) {
			return fmt.Errorf("execute: %w", strategyerrors.ErrOnlyKeeper)
		}
		s, g, err := e.load(addr)
		if err != nil {
			return err
		}
		switch {
		case s.Expired:
			return strategyerrors.ErrExpired
		case s.Finalized:
			return strategyerrors.ErrAlreadyFinalized
		case !s.Resolved:
			return strategyerrors.ErrNotResolved
		}
		now := e.now()
		if now.Before(s.ResolvedAt.Add(snap.Cooldown)) {
			return strategyerrors.ErrCooldownNotElapsed
		}
		if capital == nil || capital.Sign() <= 0 || fee == nil || fee.Sign() < 0 {
			return strategyerrors.ErrInvalidAmount
		}
		ceiling := precise.Mul(maxGasFee(s, snap), capital)
		if fee.Cmp(ceiling) > 0 {
			return fmt.Errorf("fee %s above %s: %w", fee, ceiling, strategyerrors.ErrFeeTooHigh)
		}
		limit := precise.Mul(s.MaxAllocationPercentage, g.TotalCapital())
		if capital.Cmp(limit) > 0 {
			return fmt.Errorf("capital %s above garden allocation limit %s: %w", capital, limit, strategyerrors.ErrMaxDepositExceeded)
		}
		required := new(big.Int).Add(capital, fee)
		if g.LiquidReserve().Cmp(required) < 0 {
			return fmt.Errorf("garden liquidity below %s: %w", required, strategyerrors.ErrInsufficientLiquidity)
		}

		env, ledger := e.env(s, g, snap, c, now)
		if err := ledger.RecordAllocation(capital); err != nil {
			return err
		}
		if err := g.AllocateCapitalToStrategy(s.Address, capital); err != nil {
			return err
		}
		first := !s.Active
		if first {
			s.Active = true
			s.ExecutedAt = now
			env.Active = true
		}
		in := operations.Position{Asset: g.ReserveAsset(), Amount: new(big.Int).Set(capital), Status: operations.StatusLiquid}
		legs, err := e.ops().ExecutePlan(env, s.Operations, in)
		if err != nil {
			return err
		}
		if len(s.Legs) == 0 {
			s.Legs = legs
		}
		e.refreshLegs(s)
		if first {
			g.Activate(s.Address)
		}
		if err := e.payKeeper(c, g, "execute", caller, fee); err != nil {
			return err
		}
		if err := e.save(s); err != nil {
			return err
		}
		allocated := cloneBig(s.CapitalAllocated)
		c.onCommit(func() { e.telemetry.SetCapitalAllocated(s.Address.Hex(), allocated) })
		c.emit(events.StrategyExecuted{
			Strategy:         s.Address,
			Keeper:           caller,
			Capital:          cloneBig(capital),
			CapitalAllocated: cloneBig(s.CapitalAllocated),
			Fee:              cloneBig(fee),
			ExecutedAt:       s.ExecutedAt.Unix(),
			TopUp:            !first,
		})
		return nil
	})
}

// UnwindStrategy exits part of an active strategy early and hands the
// recovered reserve back to the garden. The live NAV must cover the request
// plus the unwind buffer; only amount is exited, so the cost basis released
// matches what leaves the position.
func (e *Engine) UnwindStrategy(caller, addr common.Address, amount *big.Int) error {
	return e.run("unwind", func(c *call) error {
		s, g, err := e.load(addr)
		if err != nil {
			return err
		}
		if caller != s.Garden && caller != s.Strategist {
			return fmt.Errorf("unwind: %w", strategyerrors.ErrUnauthorized)
		}
		switch {
		case s.Finalized:
			return strategyerrors.ErrAlreadyFinalized
		case !s.Active:
			return strategyerrors.ErrNotActive
		}
		if amount == nil || amount.Sign() <= 0 {
			return strategyerrors.ErrInvalidAmount
		}
		snap := e.snapshot()
		now := e.now()
		env, ledger := e.env(s, g, snap, c, now)
		nav, err := e.ops().NAV(env, s.Operations)
		if err != nil {
			return err
		}
		needed := precise.MulCeil(amount, new(big.Int).Add(precise.Unit(), snap.UnwindBuffer))
		if amount.Cmp(s.CapitalAllocated) > 0 || nav.Sign() == 0 || needed.Cmp(nav) > 0 {
			return fmt.Errorf("unwind %s (with buffer %s) against nav %s: %w", amount, needed, nav, strategyerrors.ErrInsufficientCapitalToUnwind)
		}
		pct := precise.Min(precise.DivCeil(amount, nav), precise.Unit())
		recovered, err := e.ops().ExitPlan(env, s.Operations, pct)
		if err != nil {
			return err
		}
		if err := ledger.RecordUnwind(amount); err != nil {
			return err
		}
		if err := g.ReceiveUnwind(s.Address, amount, recovered); err != nil {
			return err
		}
		e.refreshLegs(s)
		if err := e.save(s); err != nil {
			return err
		}
		allocated := cloneBig(s.CapitalAllocated)
		c.onCommit(func() {
			e.telemetry.IncUnwind()
			e.telemetry.SetCapitalAllocated(s.Address.Hex(), allocated)
		})
		c.emit(events.StrategyUnwound{
			Strategy:  s.Address,
			Caller:    caller,
			Requested: cloneBig(amount),
			Recovered: cloneBig(recovered),
			NAV:       nav,
		})
		return nil
	})
}

// FinalizeStrategy exits every operation in reverse order, sweeps residual
// balances into the reserve asset, settles profit or loss and returns the
// capital to the garden.
func (e *Engine) FinalizeStrategy(caller, addr common.Address, fee *big.Int) error {
	return e.run("finalize", func(c *call) error {
		snap := e.snapshot()
		if !snap.IsValidKeeper(caller) {
			return fmt.Errorf("finalize: %w", strategyerrors.ErrOnlyKeeper)
		}
		s, g, err := e.load(addr)
		if err != nil {
			return err
		}
		switch {
		case s.Finalized:
			return strategyerrors.ErrAlreadyFinalized
		case s.Expired:
			return strategyerrors.ErrExpired
		case !s.Active:
			return strategyerrors.ErrNotActive
		}
		now := e.now()
		if now.Before(s.ExecutedAt.Add(s.Duration)) {
			return strategyerrors.ErrDurationNotElapsed
		}
		if fee == nil || fee.Sign() < 0 {
			return strategyerrors.ErrInvalidAmount
		}
		ceiling := precise.Mul(maxGasFee(s, snap), s.CapitalAllocated)
		if fee.Cmp(ceiling) > 0 {
			return fmt.Errorf("fee %s above %s: %w", fee, ceiling, strategyerrors.ErrFeeTooHigh)
		}

		env, ledger := e.env(s, g, snap, c, now)
		if _, err := e.ops().ExitPlan(env, s.Operations, precise.Unit()); err != nil {
			return err
		}
		if err := e.ops().Sweep(env); err != nil {
			return err
		}
		returned := e.book.BalanceOf(env.Reserve, s.Address)
		ledger.RecordReturn(returned)

		settlement, err := Settle(SettleInput{
			Strategist:                 s.Strategist,
			CapitalAllocated:           s.CapitalAllocated,
			CapitalReturned:            returned,
			Stake:                      s.Stake,
			Voters:                     s.Voters,
			Votes:                      s.Votes,
			StrategistProfitPercentage: snap.StrategistProfitPercentage,
			VotersProfitPercentage:     snap.VotersProfitPercentage,
			ProtocolProfitPercentage:   snap.ProtocolProfitPercentage,
			DissenterSlashPercentage:   snap.DissenterSlashPercentage,
		})
		if err != nil {
			return err
		}
		if err := g.StartWithdrawalWindow(s.Address, returned); err != nil {
			return err
		}
		if err := g.SlashStake(s.Address, settlement.StakeSlashed); err != nil {
			return err
		}
		if _, err := g.UnlockStake(s.Address); err != nil {
			return err
		}
		if snap.Treasury != (common.Address{}) {
			if err := g.PayProtocolFee(snap.Treasury, settlement.ProtocolFee); err != nil {
				return err
			}
		} else {
			settlement.GardenShare.Add(settlement.GardenShare, settlement.ProtocolFee)
			settlement.ProtocolFee = new(big.Int)
		}
		if err := g.RecordRewards(s.Address, settlement.Rewards(s.Strategist)); err != nil {
			return err
		}
		g.UnlockVotingPower(s.Address)

		s.Finalized = true
		s.ExitedAt = now
		s.Settlement = settlement
		e.refreshLegs(s)
		if err := e.payKeeper(c, g, "finalize", caller, fee); err != nil {
			return err
		}
		if err := e.save(s); err != nil {
			return err
		}
		allocated := cloneBig(s.CapitalAllocated)
		c.onCommit(func() {
			e.telemetry.ObserveSettlement(allocated, returned)
			e.telemetry.SetCapitalAllocated(s.Address.Hex(), new(big.Int))
			e.telemetry.SetNAV(s.Address.Hex(), new(big.Int))
		})
		rewards := new(big.Int)
		for _, amount := range settlement.Rewards(s.Strategist) {
			rewards.Add(rewards, amount)
		}
		c.emit(events.StrategyFinalized{
			Strategy:         s.Address,
			Keeper:           caller,
			CapitalAllocated: cloneBig(s.CapitalAllocated),
			CapitalReturned:  cloneBig(returned),
			ReserveDelta:     cloneBig(settlement.ReserveDelta),
			StakeSlashed:     cloneBig(settlement.StakeSlashed),
			Rewards:          rewards,
			ExitedAt:         now.Unix(),
		})
		return nil
	})
}
