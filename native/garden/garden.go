// Package garden implements the pooled-capital fund strategies draw from. The
// garden owns the reserve balance, contributor voting power, strategist stake
// escrow, keeper reimbursements and the reward ledger.
package garden

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/state/bank"
	"gardenchain/storage"
)

type stakeLock struct {
	owner  common.Address
	amount *big.Int
}

// Garden is a single fund. All methods are safe for concurrent use; the
// reserve is checked and debited under one lock.
type Garden struct {
	mu      sync.Mutex
	address common.Address
	reserve common.Address
	escrow  common.Address
	book    *bank.Book
	slasher bank.Slasher
	emitter events.Emitter
	db      storage.Database

	// While a transition is open events wait in outbox until Publish.
	deferring bool
	outbox    []events.Event

	contributions map[common.Address]*big.Int
	totalPower    *big.Int
	stakes        map[common.Address]*stakeLock
	voteLocks     map[common.Address]map[common.Address]*big.Int
	allocations   map[common.Address]*big.Int
	keeperDebt    map[common.Address]*big.Int
	claimable     map[common.Address]*big.Int
	pending       *big.Int
	ledger        []RewardEntry

	candidates []common.Address
	active     []common.Address
	finalized  []common.Address
	nonce      uint64
}

// New constructs a garden at address using reserve as its reserve asset.
func New(address, reserve common.Address, book *bank.Book) *Garden {
	escrow := common.BytesToAddress(ethcrypto.Keccak256(address.Bytes(), []byte("garden:stake-escrow")))
	return &Garden{
		address:       address,
		reserve:       reserve,
		escrow:        escrow,
		book:          book,
		slasher:       bank.NewTokenSlasher(book, reserve, address, true),
		emitter:       events.NoopEmitter{},
		contributions: make(map[common.Address]*big.Int),
		totalPower:    new(big.Int),
		stakes:        make(map[common.Address]*stakeLock),
		voteLocks:     make(map[common.Address]map[common.Address]*big.Int),
		allocations:   make(map[common.Address]*big.Int),
		keeperDebt:    make(map[common.Address]*big.Int),
		claimable:     make(map[common.Address]*big.Int),
		pending:       new(big.Int),
	}
}

// SetEmitter configures the event sink.
func (g *Garden) SetEmitter(emitter events.Emitter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

// emit must be called with g.mu held.
func (g *Garden) emit(evt events.Event) {
	if g.deferring {
		g.outbox = append(g.outbox, evt)
		return
	}
	g.emitter.Emit(evt)
}

// Publish delivers the events buffered since the last checkpoint.
func (g *Garden) Publish() {
	g.mu.Lock()
	pending := g.outbox
	g.outbox = nil
	g.deferring = false
	emitter := g.emitter
	g.mu.Unlock()
	for _, evt := range pending {
		emitter.Emit(evt)
	}
}

// SetSlasher overrides how slashed stake leaves the escrow.
func (g *Garden) SetSlasher(slasher bank.Slasher) {
	g.mu.Lock()
	g.slasher = slasher
	g.mu.Unlock()
}

// Address returns the garden identity.
func (g *Garden) Address() common.Address { return g.address }

// ReserveAsset returns the asset capital is denominated in.
func (g *Garden) ReserveAsset() common.Address { return g.reserve }

// StakeEscrow returns the account holding strategist stakes.
func (g *Garden) StakeEscrow() common.Address { return g.escrow }

// PositionBalance returns the garden's own balance of asset.
func (g *Garden) PositionBalance(asset common.Address) *big.Int {
	return g.book.BalanceOf(asset, g.address)
}

// LiquidReserve returns the reserve available for allocation: the held
// balance less rewards owed to claimants.
func (g *Garden) LiquidReserve() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liquidLocked()
}

func (g *Garden) liquidLocked() *big.Int {
	out := g.book.BalanceOf(g.reserve, g.address)
	out.Sub(out, g.pending)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// TotalCapital is the liquid reserve plus capital currently allocated to
// strategies.
func (g *Garden) TotalCapital() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.liquidLocked()
	for _, amount := range g.allocations {
		out.Add(out, amount)
	}
	return out
}

// Allocation returns the capital currently out with strategy.
func (g *Garden) Allocation(strategy common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyOrZero(g.allocations[strategy])
}

// Deposit moves reserve from a contributor into the garden and credits the
// same amount of voting power.
func (g *Garden) Deposit(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return strategyerrors.ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.book.Transfer(g.reserve, from, g.address, amount); err != nil {
		return fmt.Errorf("garden deposit: %w", err)
	}
	addTo(g.contributions, from, amount)
	g.totalPower.Add(g.totalPower, amount)
	return nil
}

// Withdraw returns reserve to a contributor. Power locked in votes cannot be
// withdrawn and only liquid reserve is paid out.
func (g *Garden) Withdraw(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return strategyerrors.ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	free := new(big.Int).Sub(copyOrZero(g.contributions[to]), g.lockedPowerLocked(to))
	if free.Cmp(amount) < 0 {
		return fmt.Errorf("garden withdraw: %w", strategyerrors.ErrInsufficientVotingPower)
	}
	if g.liquidLocked().Cmp(amount) < 0 {
		return fmt.Errorf("garden withdraw: %w", strategyerrors.ErrInsufficientLiquidity)
	}
	if err := g.book.Transfer(g.reserve, g.address, to, amount); err != nil {
		return fmt.Errorf("garden withdraw: %w", err)
	}
	subFrom(g.contributions, to, amount)
	g.totalPower.Sub(g.totalPower, amount)
	return nil
}

// VotingPower returns a contributor's power.
func (g *Garden) VotingPower(voter common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyOrZero(g.contributions[voter])
}

// TotalVotingPower returns the power of every contributor combined.
func (g *Garden) TotalVotingPower() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.totalPower)
}

// LockedVotingPower returns the power a voter has committed across
// strategies.
func (g *Garden) LockedVotingPower(voter common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockedPowerLocked(voter)
}

func (g *Garden) lockedPowerLocked(voter common.Address) *big.Int {
	total := new(big.Int)
	for _, amount := range g.voteLocks[voter] {
		total.Add(total, amount)
	}
	return total
}

// LockVotingPower commits power of voter to strategy. The voter's commitments
// across all strategies may never exceed their power.
func (g *Garden) LockVotingPower(voter, strategy common.Address, power *big.Int) error {
	if power == nil || power.Sign() <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	committed := g.lockedPowerLocked(voter)
	committed.Add(committed, power)
	if committed.Cmp(copyOrZero(g.contributions[voter])) > 0 {
		return fmt.Errorf("voter %s: %w", voter.Hex(), strategyerrors.ErrInsufficientVotingPower)
	}
	locks, ok := g.voteLocks[voter]
	if !ok {
		locks = make(map[common.Address]*big.Int)
		g.voteLocks[voter] = locks
	}
	addTo(locks, strategy, power)
	return nil
}

// UnlockVotingPower releases every voter's commitment to strategy.
func (g *Garden) UnlockVotingPower(strategy common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for voter, locks := range g.voteLocks {
		delete(locks, strategy)
		if len(locks) == 0 {
			delete(g.voteLocks, voter)
		}
	}
}

// LockStake moves amount of reserve from the strategist into the stake escrow
// on behalf of strategy.
func (g *Garden) LockStake(strategy, strategist common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return strategyerrors.ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.stakes[strategy]; exists {
		return fmt.Errorf("garden: stake for %s already locked: %w", strategy.Hex(), strategyerrors.ErrInvalidParams)
	}
	if amount.Sign() > 0 {
		if g.book.BalanceOf(g.reserve, strategist).Cmp(amount) < 0 {
			return fmt.Errorf("strategist %s: %w", strategist.Hex(), strategyerrors.ErrInsufficientStake)
		}
		if err := g.book.Transfer(g.reserve, strategist, g.escrow, amount); err != nil {
			return fmt.Errorf("garden lock stake: %w", err)
		}
	}
	g.stakes[strategy] = &stakeLock{owner: strategist, amount: new(big.Int).Set(amount)}
	return nil
}

// Stake returns the stake still escrowed for strategy.
func (g *Garden) Stake(strategy common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lock, ok := g.stakes[strategy]; ok {
		return new(big.Int).Set(lock.amount)
	}
	return new(big.Int)
}

// SlashStake confiscates amount of the strategy's stake into the reserve.
func (g *Garden) SlashStake(strategy common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.stakes[strategy]
	if !ok || lock.amount.Cmp(amount) < 0 {
		return fmt.Errorf("garden slash %s: %w", strategy.Hex(), strategyerrors.ErrInsufficientStake)
	}
	if err := g.slasher.Slash(g.escrow, amount); err != nil {
		return fmt.Errorf("garden slash: %w", err)
	}
	lock.amount.Sub(lock.amount, amount)
	return nil
}

// UnlockStake returns the remaining stake to the strategist and forgets the
// lock.
func (g *Garden) UnlockStake(strategy common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.stakes[strategy]
	if !ok {
		return new(big.Int), nil
	}
	if err := g.book.Transfer(g.reserve, g.escrow, lock.owner, lock.amount); err != nil {
		return nil, fmt.Errorf("garden unlock stake: %w", err)
	}
	delete(g.stakes, strategy)
	return new(big.Int).Set(lock.amount), nil
}

// AllocateCapitalToStrategy checks liquidity and transfers amount to strategy
// in one step.
func (g *Garden) AllocateCapitalToStrategy(strategy common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return strategyerrors.ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liquidLocked().Cmp(amount) < 0 {
		return fmt.Errorf("allocate %s: %w", amount, strategyerrors.ErrInsufficientLiquidity)
	}
	if err := g.book.Transfer(g.reserve, g.address, strategy, amount); err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	addTo(g.allocations, strategy, amount)
	return nil
}

// PayKeeper reimburses a keeper from liquid reserve. When the reserve cannot
// cover the fee it is recorded as debt and paid from later returns.
func (g *Garden) PayKeeper(keeper common.Address, fee *big.Int) (paid bool, err error) {
	if fee == nil || fee.Sign() == 0 {
		return true, nil
	}
	if fee.Sign() < 0 {
		return false, strategyerrors.ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liquidLocked().Cmp(fee) < 0 {
		addTo(g.keeperDebt, keeper, fee)
		g.emit(events.KeeperPaid{Garden: g.address, Keeper: keeper, Fee: new(big.Int), Debt: new(big.Int).Set(fee)})
		return false, nil
	}
	if err := g.book.Transfer(g.reserve, g.address, keeper, fee); err != nil {
		return false, fmt.Errorf("pay keeper: %w", err)
	}
	g.emit(events.KeeperPaid{Garden: g.address, Keeper: keeper, Fee: new(big.Int).Set(fee), Debt: new(big.Int)})
	return true, nil
}

// KeeperDebt returns the unpaid fees owed to keeper.
func (g *Garden) KeeperDebt(keeper common.Address) *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyOrZero(g.keeperDebt[keeper])
}

// ReceiveUnwind takes back reserve recovered by a partial unwind and lowers
// the strategy's allocation by the unwound amount.
func (g *Garden) ReceiveUnwind(strategy common.Address, unwound, recovered *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if recovered != nil && recovered.Sign() > 0 {
		if err := g.book.Transfer(g.reserve, strategy, g.address, recovered); err != nil {
			return fmt.Errorf("receive unwind: %w", err)
		}
	}
	subFrom(g.allocations, strategy, unwound)
	g.settleDebtsLocked()
	return nil
}

// StartWithdrawalWindow takes back the reserve a finalized strategy returned,
// clears its allocation and moves it to the finalized set. Outstanding keeper
// debt is paid first from the returned liquidity.
func (g *Garden) StartWithdrawalWindow(strategy common.Address, returned *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if returned != nil && returned.Sign() > 0 {
		if err := g.book.Transfer(g.reserve, strategy, g.address, returned); err != nil {
			return fmt.Errorf("withdrawal window: %w", err)
		}
	}
	delete(g.allocations, strategy)
	g.active = without(g.active, strategy)
	g.candidates = without(g.candidates, strategy)
	if !contains(g.finalized, strategy) {
		g.finalized = append(g.finalized, strategy)
	}
	g.settleDebtsLocked()
	return nil
}

// PayProtocolFee transfers a performance fee out of the reserve.
func (g *Garden) PayProtocolFee(treasury common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liquidLocked().Cmp(amount) < 0 {
		return fmt.Errorf("protocol fee: %w", strategyerrors.ErrInsufficientLiquidity)
	}
	if err := g.book.Transfer(g.reserve, g.address, treasury, amount); err != nil {
		return fmt.Errorf("protocol fee: %w", err)
	}
	return nil
}

func (g *Garden) settleDebtsLocked() {
	if len(g.keeperDebt) == 0 {
		return
	}
	keepers := make([]common.Address, 0, len(g.keeperDebt))
	for keeper := range g.keeperDebt {
		keepers = append(keepers, keeper)
	}
	sortAddresses(keepers)
	for _, keeper := range keepers {
		debt := g.keeperDebt[keeper]
		if g.liquidLocked().Cmp(debt) < 0 {
			return
		}
		if err := g.book.Transfer(g.reserve, g.address, keeper, debt); err != nil {
			return
		}
		g.emit(events.KeeperPaid{Garden: g.address, Keeper: keeper, Fee: new(big.Int).Set(debt), Debt: new(big.Int)})
		delete(g.keeperDebt, keeper)
	}
}

// NextStrategyNonce returns the nonce used to derive the next strategy
// address and advances it.
func (g *Garden) NextStrategyNonce() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nonce
	g.nonce++
	return n
}

// AddCandidate records a newly proposed strategy.
func (g *Garden) AddCandidate(strategy common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !contains(g.candidates, strategy) {
		g.candidates = append(g.candidates, strategy)
	}
}

// RemoveCandidate drops an expired candidate.
func (g *Garden) RemoveCandidate(strategy common.Address) {
	g.mu.Lock()
	g.candidates = without(g.candidates, strategy)
	g.mu.Unlock()
}

// Activate moves a candidate into the active set.
func (g *Garden) Activate(strategy common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candidates = without(g.candidates, strategy)
	if !contains(g.active, strategy) {
		g.active = append(g.active, strategy)
	}
}

// IsCandidate reports whether strategy awaits execution.
func (g *Garden) IsCandidate(strategy common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return contains(g.candidates, strategy)
}

func (g *Garden) Candidates() []common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.Address(nil), g.candidates...)
}

func (g *Garden) ActiveStrategies() []common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.Address(nil), g.active...)
}

func (g *Garden) FinalizedStrategies() []common.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]common.Address(nil), g.finalized...)
}

func copyOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

func addTo(m map[common.Address]*big.Int, key common.Address, amount *big.Int) {
	if cur, ok := m[key]; ok {
		cur.Add(cur, amount)
		return
	}
	m[key] = new(big.Int).Set(amount)
}

func subFrom(m map[common.Address]*big.Int, key common.Address, amount *big.Int) {
	cur, ok := m[key]
	if !ok || amount == nil {
		return
	}
	cur.Sub(cur, amount)
	if cur.Sign() <= 0 {
		delete(m, key)
	}
}

func contains(list []common.Address, addr common.Address) bool {
	for _, entry := range list {
		if entry == addr {
			return true
		}
	}
	return false
}

func without(list []common.Address, addr common.Address) []common.Address {
	out := list[:0:0]
	for _, entry := range list {
		if entry != addr {
			out = append(out, entry)
		}
	}
	return out
}

func sortAddresses(list []common.Address) {
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i][:], list[j][:]) < 0 })
}
