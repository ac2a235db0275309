package strategy

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/precise"
)

// ResolveVoting records the keeper-aggregated tally of a candidate. Votes are
// pushed once: the resolved flag is a latch. The submitted totals must match
// the individual powers, and each voter's power is locked in the garden until
// the strategy settles or expires.
func (e *Engine) ResolveVoting(caller, addr common.Address, voters []common.Address, powers []*big.Int, absoluteTotal, netTotal, keeperFee *big.Int) error {
	return e.run("resolve", func(c *call) error {
		snap := e.snapshot()
		if !snap.IsValidKeeper(caller) {
			return fmt.Errorf("resolve voting: %w", strategyerrors.ErrUnauthorized)
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
		case s.Resolved:
			return strategyerrors.ErrVotingAlreadyResolved
		}
		now := e.now()
		if !now.Before(s.EnteredAt.Add(snap.VotingWindow)) {
			return strategyerrors.ErrVotingWindowClosed
		}
		if len(voters) == 0 || len(voters) != len(powers) {
			return fmt.Errorf("%w: %d voters for %d powers", strategyerrors.ErrInvalidVotes, len(voters), len(powers))
		}
		if absoluteTotal == nil || netTotal == nil {
			return fmt.Errorf("%w: missing totals", strategyerrors.ErrInvalidVotes)
		}
		if keeperFee == nil || keeperFee.Sign() < 0 {
			return fmt.Errorf("keeper fee: %w", strategyerrors.ErrInvalidAmount)
		}

		votes := make(map[common.Address]*big.Int, len(voters))
		abs, net := new(big.Int), new(big.Int)
		for i, voter := range voters {
			power := powers[i]
			if power == nil {
				return fmt.Errorf("%w: missing power for %s", strategyerrors.ErrInvalidVotes, voter.Hex())
			}
			if _, dup := votes[voter]; dup {
				return fmt.Errorf("%w: duplicate voter %s", strategyerrors.ErrInvalidVotes, voter.Hex())
			}
			votes[voter] = new(big.Int).Set(power)
			abs.Add(abs, new(big.Int).Abs(power))
			net.Add(net, power)
		}
		if abs.Cmp(absoluteTotal) != 0 || net.Cmp(netTotal) != 0 {
			return fmt.Errorf("%w: absolute %s/%s net %s/%s", strategyerrors.ErrTallyMismatch, absoluteTotal, abs, netTotal, net)
		}

		quorum := precise.Mul(g.TotalVotingPower(), snap.MinVotesQuorum)
		if len(voters) < snap.MinVoters || net.Sign() <= 0 || net.Cmp(quorum) < 0 {
			return fmt.Errorf("%w: net %s with %d voters, need %s and %d", strategyerrors.ErrQuorumNotReached, net, len(voters), quorum, snap.MinVoters)
		}
		ceiling := precise.Mul(maxGasFee(s, snap), s.MaxCapitalRequested)
		if keeperFee.Cmp(ceiling) > 0 {
			return fmt.Errorf("fee %s above %s: %w", keeperFee, ceiling, strategyerrors.ErrFeeTooHigh)
		}

		for _, voter := range voters {
			power := new(big.Int).Abs(votes[voter])
			if err := g.LockVotingPower(voter, s.Address, power); err != nil {
				return err
			}
		}
		s.Voters = append([]common.Address(nil), voters...)
		s.Votes = votes
		s.AbsoluteTotalVotes = abs
		s.TotalVotes = net
		s.Resolved = true
		s.ResolvedAt = now
		if err := e.payKeeper(c, g, "resolve", caller, keeperFee); err != nil {
			return err
		}
		if err := e.save(s); err != nil {
			return err
		}
		c.emit(events.StrategyVotingResolved{
			Strategy:      s.Address,
			Keeper:        caller,
			Voters:        len(voters),
			AbsoluteTotal: cloneBig(abs),
			NetTotal:      cloneBig(net),
			KeeperFee:     cloneBig(keeperFee),
			ResolvedAt:    now.Unix(),
		})
		return nil
	})
}
