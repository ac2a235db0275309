package strategy

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/precise"
	"gardenchain/native/controller"
	"gardenchain/native/operations"
)

func validateParams(p Params, snap controller.Snapshot) error {
	if p.Stake == nil || p.Stake.Sign() < 0 || !precise.FitsUint256(p.Stake) {
		return fmt.Errorf("%w: stake", strategyerrors.ErrInvalidParams)
	}
	if snap.MinStake != nil && p.Stake.Cmp(snap.MinStake) < 0 {
		return fmt.Errorf("stake %s below minimum %s: %w", p.Stake, snap.MinStake, strategyerrors.ErrInsufficientStake)
	}
	if p.MaxCapitalRequested == nil || p.MaxCapitalRequested.Sign() <= 0 || !precise.FitsUint256(p.MaxCapitalRequested) {
		return fmt.Errorf("%w: max capital requested must be positive", strategyerrors.ErrInvalidParams)
	}
	if p.ExpectedReturn != nil && (p.ExpectedReturn.Sign() < 0 || !precise.FitsUint256(p.ExpectedReturn)) {
		return fmt.Errorf("%w: expected return", strategyerrors.ErrInvalidParams)
	}
	if p.Duration < snap.MinDuration || p.Duration > snap.MaxDuration {
		return fmt.Errorf("%w: duration %s outside [%s, %s]", strategyerrors.ErrInvalidParams, p.Duration, snap.MinDuration, snap.MaxDuration)
	}
	if p.MaxAllocationPercentage == nil || p.MaxAllocationPercentage.Sign() <= 0 || !precise.Percent(p.MaxAllocationPercentage) {
		return fmt.Errorf("%w: max allocation percentage must be within (0, 100%%]", strategyerrors.ErrInvalidParams)
	}
	if p.MaxGasFeePercentage != nil {
		if !precise.Percent(p.MaxGasFeePercentage) || p.MaxGasFeePercentage.Cmp(snap.MaxGasFeePercentage) > 0 {
			return fmt.Errorf("%w: max gas fee percentage above protocol bound", strategyerrors.ErrInvalidParams)
		}
	}
	if p.MaxTradeSlippagePercentage != nil && !precise.Percent(p.MaxTradeSlippagePercentage) {
		return fmt.Errorf("%w: max trade slippage percentage", strategyerrors.ErrInvalidParams)
	}
	return nil
}

// Propose admits a strategist's proposal into garden: the parameters and
// operation plan are validated, the stake is escrowed and the strategy
// becomes a voting candidate.
func (e *Engine) Propose(strategist, gardenAddr common.Address, p Params, steps []operations.Step) (*Strategy, error) {
	var created *Strategy
	err := e.run("propose", func(c *call) error {
		g, err := e.garden(gardenAddr)
		if err != nil {
			return err
		}
		snap := e.snapshot()
		if err := validateParams(p, snap); err != nil {
			return err
		}
		now := e.now()
		s := &Strategy{
			Strategist:                 strategist,
			Garden:                     gardenAddr,
			Stake:                      cloneBig(p.Stake),
			MaxCapitalRequested:        cloneBig(p.MaxCapitalRequested),
			ExpectedReturn:             cloneBig(p.ExpectedReturn),
			Duration:                   p.Duration,
			MaxAllocationPercentage:    cloneBig(p.MaxAllocationPercentage),
			MaxGasFeePercentage:        cloneBig(p.MaxGasFeePercentage),
			MaxTradeSlippagePercentage: cloneBig(p.MaxTradeSlippagePercentage),
			Votes:                      make(map[common.Address]*big.Int),
			AbsoluteTotalVotes:         new(big.Int),
			TotalVotes:                 new(big.Int),
			EnteredAt:                  now,
			CapitalAllocated:           new(big.Int),
			CapitalReturned:            new(big.Int),
			CapitalUnwound:             new(big.Int),
		}
		s.Operations = make([]operations.Step, len(steps))
		for i, step := range steps {
			s.Operations[i] = operations.Step{Kind: step.Kind, Integration: step.Integration, Data: append([]byte(nil), step.Data...)}
		}
		env, _ := e.env(s, g, snap, c, now)
		if err := e.ops().ValidatePlan(env, s.Operations); err != nil {
			return err
		}
		s.Address = ethcrypto.CreateAddress(gardenAddr, g.NextStrategyNonce())
		if err := g.LockStake(s.Address, strategist, s.Stake); err != nil {
			return err
		}
		g.AddCandidate(s.Address)
		if err := e.save(s); err != nil {
			return err
		}
		c.emit(events.StrategyProposed{
			Strategy:   s.Address,
			Garden:     gardenAddr,
			Strategist: strategist,
			Stake:      cloneBig(s.Stake),
			MaxCapital: cloneBig(s.MaxCapitalRequested),
			Duration:   uint64(s.Duration.Seconds()),
			Operations: len(s.Operations),
			EnteredAt:  now.Unix(),
		})
		created = s.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CandidateDeadline returns the moment an unexecuted strategy may be
// expired under the bounds in snap.
func (s *Strategy) CandidateDeadline(snap controller.Snapshot) time.Time {
	if s.Resolved {
		return s.ResolvedAt.Add(snap.Cooldown).Add(snap.CandidatePeriod)
	}
	return s.EnteredAt.Add(snap.CandidatePeriod)
}

// ExpireCandidateStrategy retires a candidate that never reached execution.
// Anyone may call it once the candidate deadline has passed. The stake and
// every vote lock are released.
func (e *Engine) ExpireCandidateStrategy(caller, addr common.Address) error {
	return e.run("expire", func(c *call) error {
		s, g, err := e.load(addr)
		if err != nil {
			return err
		}
		switch {
		case s.Expired:
			return strategyerrors.ErrExpired
		case s.Finalized:
			return strategyerrors.ErrAlreadyFinalized
		case s.Active:
			return strategyerrors.ErrAlreadyActive
		}
		now := e.now()
		if now.Before(s.CandidateDeadline(e.snapshot())) {
			return strategyerrors.ErrCandidateNotExpired
		}
		if _, err := g.UnlockStake(s.Address); err != nil {
			return err
		}
		g.UnlockVotingPower(s.Address)
		g.RemoveCandidate(s.Address)
		s.Expired = true
		s.ExpiredAt = now
		if err := e.save(s); err != nil {
			return err
		}
		c.emit(events.StrategyExpired{Strategy: s.Address, Caller: caller, ExpiredAt: now.Unix()})
		return nil
	})
}
