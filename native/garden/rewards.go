package garden

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
)

// RewardEntry is one settled reward credited by a finalized strategy.
type RewardEntry struct {
	Strategy common.Address
	Account  common.Address
	Amount   *big.Int
}

// RecordRewards credits settled rewards for later claim. The reserve backing
// them is earmarked and no longer counts as liquid.
func (g *Garden) RecordRewards(strategy common.Address, rewards map[common.Address]*big.Int) error {
	if len(rewards) == 0 {
		return nil
	}
	accounts := make([]common.Address, 0, len(rewards))
	total := new(big.Int)
	for account, amount := range rewards {
		if amount == nil || amount.Sign() < 0 {
			return fmt.Errorf("reward for %s: %w", account.Hex(), strategyerrors.ErrInvalidAmount)
		}
		if amount.Sign() == 0 {
			continue
		}
		accounts = append(accounts, account)
		total.Add(total, amount)
	}
	sortAddresses(accounts)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liquidLocked().Cmp(total) < 0 {
		return fmt.Errorf("record rewards: %w", strategyerrors.ErrInsufficientLiquidity)
	}
	for _, account := range accounts {
		amount := rewards[account]
		addTo(g.claimable, account, amount)
		g.ledger = append(g.ledger, RewardEntry{Strategy: strategy, Account: account, Amount: new(big.Int).Set(amount)})
	}
	g.pending.Add(g.pending, total)
	return nil
}

// ClaimableRewards returns the unclaimed rewards of account.
func (g *Garden) ClaimableRewards(account common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyOrZero(g.claimable[account])
}

// PendingRewards returns the reserve earmarked for unclaimed rewards.
func (g *Garden) PendingRewards() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.pending)
}

// ClaimRewards pays out everything owed to account.
func (g *Garden) ClaimRewards(account common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	owed := copyOrZero(g.claimable[account])
	if owed.Sign() == 0 {
		return owed, nil
	}
	if err := g.book.Transfer(g.reserve, g.address, account, owed); err != nil {
		return nil, fmt.Errorf("claim rewards: %w", err)
	}
	delete(g.claimable, account)
	g.pending.Sub(g.pending, owed)
	g.emit(events.RewardsClaimed{Garden: g.address, Account: account, Amount: new(big.Int).Set(owed)})
	return owed, nil
}

// RewardHistory returns the reward entries credited by strategy, or every
// entry when strategy is the zero address.
func (g *Garden) RewardHistory(strategy common.Address) []RewardEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RewardEntry, 0, len(g.ledger))
	for _, entry := range g.ledger {
		if strategy != (common.Address{}) && entry.Strategy != strategy {
			continue
		}
		out = append(out, RewardEntry{Strategy: entry.Strategy, Account: entry.Account, Amount: new(big.Int).Set(entry.Amount)})
	}
	return out
}
