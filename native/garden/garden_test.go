package garden

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/journal"
	"gardenchain/state/bank"
	"gardenchain/storage"
)

var (
	dai        = common.HexToAddress("0x00000000000000000000000000000000000000da")
	gardenAddr = common.HexToAddress("0x0000000000000000000000000000000000009a7d")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	keeper     = common.HexToAddress("0x000000000000000000000000000000000000ee77")
	strat1     = common.HexToAddress("0x0000000000000000000000000000000000005701")
	strat2     = common.HexToAddress("0x0000000000000000000000000000000000005702")
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func newFunded(t *testing.T, deposits map[common.Address]int64) (*Garden, *bank.Book) {
	t.Helper()
	book := bank.NewBook()
	g := New(gardenAddr, dai, book)
	for who, amount := range deposits {
		if err := book.Mint(dai, who, big.NewInt(amount)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := g.Deposit(who, big.NewInt(amount)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return g, book
}

func TestDepositWithdrawTracksPower(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 100, bob: 50})
	if got := g.TotalVotingPower(); got.Int64() != 150 {
		t.Fatalf("total power = %s, want 150", got)
	}
	if err := g.LockVotingPower(alice, strat1, big.NewInt(80)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := g.Withdraw(alice, big.NewInt(30)); !errors.Is(err, strategyerrors.ErrInsufficientVotingPower) {
		t.Fatalf("expected locked power to block withdrawal, got %v", err)
	}
	if err := g.Withdraw(alice, big.NewInt(20)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := book.BalanceOf(dai, alice); got.Int64() != 20 {
		t.Fatalf("alice wallet = %s, want 20", got)
	}
	if got := g.VotingPower(alice); got.Int64() != 80 {
		t.Fatalf("alice power = %s, want 80", got)
	}
}

func TestLockVotingPowerAcrossStrategies(t *testing.T) {
	g, _ := newFunded(t, map[common.Address]int64{alice: 10})
	if err := g.LockVotingPower(alice, strat1, big.NewInt(6)); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if err := g.LockVotingPower(alice, strat2, big.NewInt(5)); !errors.Is(err, strategyerrors.ErrInsufficientVotingPower) {
		t.Fatalf("expected cross-strategy overcommit to fail, got %v", err)
	}
	g.UnlockVotingPower(strat1)
	if err := g.LockVotingPower(alice, strat2, big.NewInt(10)); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	if got := g.LockedVotingPower(alice); got.Int64() != 10 {
		t.Fatalf("locked = %s, want 10", got)
	}
}

func TestStakeLockSlashUnlock(t *testing.T) {
	g, book := newFunded(t, nil)
	if err := book.Mint(dai, bob, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := g.LockStake(strat1, bob, big.NewInt(11)); !errors.Is(err, strategyerrors.ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
	if err := g.LockStake(strat1, bob, big.NewInt(10)); err != nil {
		t.Fatalf("lock stake: %v", err)
	}
	if got := book.BalanceOf(dai, g.StakeEscrow()); got.Int64() != 10 {
		t.Fatalf("escrow = %s, want 10", got)
	}
	if err := g.SlashStake(strat1, big.NewInt(4)); err != nil {
		t.Fatalf("slash: %v", err)
	}
	if got := g.PositionBalance(dai); got.Int64() != 4 {
		t.Fatalf("garden reserve = %s, want 4", got)
	}
	returned, err := g.UnlockStake(strat1)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if returned.Int64() != 6 || book.BalanceOf(dai, bob).Int64() != 6 {
		t.Fatalf("unexpected stake refund %s / wallet %s", returned, book.BalanceOf(dai, bob))
	}
	if g.Stake(strat1).Sign() != 0 {
		t.Fatalf("stake should be cleared")
	}
}

func TestAllocateChecksLiquidity(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 100})
	if err := g.AllocateCapitalToStrategy(strat1, big.NewInt(101)); !errors.Is(err, strategyerrors.ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if err := g.AllocateCapitalToStrategy(strat1, big.NewInt(60)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got := book.BalanceOf(dai, strat1); got.Int64() != 60 {
		t.Fatalf("strategy balance = %s, want 60", got)
	}
	if got := g.TotalCapital(); got.Int64() != 100 {
		t.Fatalf("total capital = %s, want 100", got)
	}
	if got := g.LiquidReserve(); got.Int64() != 40 {
		t.Fatalf("liquid = %s, want 40", got)
	}
}

func TestConcurrentAllocationNeverOverspends(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 1000})
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			strategy := common.BigToAddress(big.NewInt(int64(0x7000 + i)))
			if err := g.AllocateCapitalToStrategy(strategy, big.NewInt(30)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if succeeded != 33 {
		t.Fatalf("succeeded = %d, want 33", succeeded)
	}
	if got := book.BalanceOf(dai, gardenAddr); got.Int64() != 10 {
		t.Fatalf("garden remainder = %s, want 10", got)
	}
}

func TestPayKeeperAccruesDebtAndSettlesOnReturn(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 100})
	em := &recordingEmitter{}
	g.SetEmitter(em)
	if err := g.AllocateCapitalToStrategy(strat1, big.NewInt(100)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	paid, err := g.PayKeeper(keeper, big.NewInt(5))
	if err != nil || paid {
		t.Fatalf("expected debt accrual, paid=%v err=%v", paid, err)
	}
	if got := g.KeeperDebt(keeper); got.Int64() != 5 {
		t.Fatalf("debt = %s, want 5", got)
	}
	g.AddCandidate(strat1)
	g.Activate(strat1)
	if err := g.StartWithdrawalWindow(strat1, big.NewInt(100)); err != nil {
		t.Fatalf("withdrawal window: %v", err)
	}
	if got := book.BalanceOf(dai, keeper); got.Int64() != 5 {
		t.Fatalf("keeper balance = %s, want 5", got)
	}
	if g.KeeperDebt(keeper).Sign() != 0 {
		t.Fatalf("debt should be settled")
	}
	if len(g.ActiveStrategies()) != 0 || len(g.FinalizedStrategies()) != 1 {
		t.Fatalf("strategy should move to finalized set")
	}
	if g.Allocation(strat1).Sign() != 0 {
		t.Fatalf("allocation should be cleared")
	}
	if len(em.events) != 2 {
		t.Fatalf("expected two keeper events, got %d", len(em.events))
	}
}

func TestRewardsEarmarkAndClaim(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 100})
	err := g.RecordRewards(strat1, map[common.Address]*big.Int{alice: big.NewInt(7), bob: big.NewInt(3)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := g.LiquidReserve(); got.Int64() != 90 {
		t.Fatalf("liquid = %s, want 90", got)
	}
	if err := g.AllocateCapitalToStrategy(strat2, big.NewInt(91)); !errors.Is(err, strategyerrors.ErrInsufficientLiquidity) {
		t.Fatalf("earmarked rewards must not be allocated, got %v", err)
	}
	claimed, err := g.ClaimRewards(bob)
	if err != nil || claimed.Int64() != 3 {
		t.Fatalf("claim = %v, %v", claimed, err)
	}
	if book.BalanceOf(dai, bob).Int64() != 3 || g.PendingRewards().Int64() != 7 {
		t.Fatalf("unexpected post-claim state")
	}
	if again, _ := g.ClaimRewards(bob); again.Sign() != 0 {
		t.Fatalf("second claim should be empty")
	}
	if history := g.RewardHistory(strat1); len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
}

func TestCheckpointRevertsAccounting(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 100})
	revertBook := book.Checkpoint()
	revert := g.Checkpoint()
	if err := g.AllocateCapitalToStrategy(strat1, big.NewInt(50)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	g.AddCandidate(strat1)
	_ = g.NextStrategyNonce()
	if err := g.RecordRewards(strat1, map[common.Address]*big.Int{alice: big.NewInt(1)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	revert()
	revertBook()
	if g.Allocation(strat1).Sign() != 0 || len(g.Candidates()) != 0 || g.PendingRewards().Sign() != 0 {
		t.Fatalf("checkpoint did not restore accounting")
	}
	if g.NextStrategyNonce() != 0 {
		t.Fatalf("nonce not restored")
	}
	if len(g.RewardHistory(common.Address{})) != 0 {
		t.Fatalf("reward ledger not truncated")
	}
}

func TestCommitAttachRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	g, book := newFunded(t, map[common.Address]int64{alice: 100})
	if err := g.Attach(db); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := book.Mint(dai, bob, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := g.LockStake(strat1, bob, big.NewInt(5)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := g.LockVotingPower(alice, strat1, big.NewInt(40)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := g.AllocateCapitalToStrategy(strat1, big.NewInt(20)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	g.AddCandidate(strat1)
	_ = g.NextStrategyNonce()
	if err := g.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	restored := New(gardenAddr, dai, book)
	if err := restored.Attach(db); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if restored.VotingPower(alice).Int64() != 100 || restored.TotalVotingPower().Int64() != 100 {
		t.Fatalf("contributions not restored")
	}
	if restored.Stake(strat1).Int64() != 5 || restored.LockedVotingPower(alice).Int64() != 40 {
		t.Fatalf("locks not restored")
	}
	if restored.Allocation(strat1).Int64() != 20 || !restored.IsCandidate(strat1) {
		t.Fatalf("strategy bookkeeping not restored")
	}
	if restored.NextStrategyNonce() != 1 {
		t.Fatalf("nonce not restored")
	}
	other := New(gardenAddr, common.HexToAddress("0x01"), book)
	if err := other.Attach(db); err == nil {
		t.Fatalf("expected reserve mismatch to fail")
	}
}

type failingCommit struct{ err error }

func (f *failingCommit) Checkpoint() func() { return func() {} }

func (f *failingCommit) Commit() error { return f.err }

func TestEventsWaitForCommittedTransition(t *testing.T) {
	g, book := newFunded(t, map[common.Address]int64{alice: 100})
	em := &recordingEmitter{}
	g.SetEmitter(em)
	store := &failingCommit{err: errors.New("disk full")}
	host := journal.NewHost(book, g, store)

	err := host.Atomic(func() error {
		if _, err := g.PayKeeper(keeper, big.NewInt(3)); err != nil {
			return err
		}
		if len(em.events) != 0 {
			t.Fatalf("event delivered before commit")
		}
		return nil
	})
	if err == nil {
		t.Fatalf("expected commit failure")
	}
	if len(em.events) != 0 {
		t.Fatalf("rolled back transition delivered %d events", len(em.events))
	}
	if got := book.BalanceOf(dai, keeper); got.Sign() != 0 {
		t.Fatalf("keeper payment not reverted: %s", got)
	}

	store.err = nil
	if err := host.Atomic(func() error {
		_, err := g.PayKeeper(keeper, big.NewInt(3))
		return err
	}); err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if len(em.events) != 1 || em.events[0].EventType() != events.TypeKeeperPaid {
		t.Fatalf("events = %v", em.events)
	}

	// Outside a transition events are delivered immediately.
	g.AddCandidate(strat1)
	if err := g.RecordRewards(strat1, map[common.Address]*big.Int{alice: big.NewInt(2)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := g.ClaimRewards(alice); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(em.events) != 2 {
		t.Fatalf("direct claim not delivered, events = %d", len(em.events))
	}
}
