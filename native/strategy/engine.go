// Package strategy implements the strategy lifecycle: proposal, vote
// resolution, keeper-driven execution, partial unwinds, finalization and the
// reward settlement that follows.
package strategy

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/journal"
	"gardenchain/core/precise"
	nativecommon "gardenchain/native/common"
	"gardenchain/native/controller"
	"gardenchain/native/operations"
	"gardenchain/native/oracle"
	"gardenchain/observability/metrics"
	"gardenchain/state/bank"
)

// Garden is the capital pool a strategy draws from. The engine only reaches
// the garden's accounting through these calls.
type Garden interface {
	Address() common.Address
	ReserveAsset() common.Address
	PositionBalance(asset common.Address) *big.Int
	LiquidReserve() *big.Int
	TotalCapital() *big.Int
	TotalVotingPower() *big.Int

	LockStake(strategy, strategist common.Address, amount *big.Int) error
	UnlockStake(strategy common.Address) (*big.Int, error)
	SlashStake(strategy common.Address, amount *big.Int) error
	LockVotingPower(voter, strategy common.Address, power *big.Int) error
	UnlockVotingPower(strategy common.Address)

	AllocateCapitalToStrategy(strategy common.Address, amount *big.Int) error
	PayKeeper(keeper common.Address, fee *big.Int) (bool, error)
	ReceiveUnwind(strategy common.Address, unwound, recovered *big.Int) error
	StartWithdrawalWindow(strategy common.Address, returned *big.Int) error
	RecordRewards(strategy common.Address, rewards map[common.Address]*big.Int) error
	PayProtocolFee(treasury common.Address, amount *big.Int) error

	NextStrategyNonce() uint64
	AddCandidate(strategy common.Address)
	RemoveCandidate(strategy common.Address)
	Activate(strategy common.Address)
}

type engineState interface {
	Put(s *Strategy) error
	Get(addr common.Address) (*Strategy, bool)
	List() []common.Address
}

type tradeNote struct {
	strategy common.Address
	record   TradeRecord
}

// call buffers the side effects of one transition until it commits.
type call struct {
	events []events.Event
	trades []tradeNote
	after  []func()
}

func (c *call) emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *call) onCommit(fn func()) { c.after = append(c.after, fn) }

// Engine drives every strategy of every registered garden. Mutating calls
// are serialised through the journal host and either apply in full or leave
// no trace.
type Engine struct {
	mu        sync.RWMutex
	state     engineState
	host      *journal.Host
	book      *bank.Book
	registry  controller.Provider
	pauses    nativecommon.PauseView
	executor  *operations.Executor
	directory *operations.Directory
	oracle    oracle.PriceOracle
	gardens   map[common.Address]Garden
	emitter   events.Emitter
	sink      LedgerSink
	telemetry *metrics.StrategyMetrics
	nowFn     func() time.Time
}

// NewEngine wires an engine over book. When host is nil a host journaling
// only the book is created; gardens and the state store registered later are
// added to whichever host is in use.
func NewEngine(host *journal.Host, book *bank.Book, registry controller.Provider, directory *operations.Directory, pricer oracle.PriceOracle) *Engine {
	if host == nil {
		host = journal.NewHost(book)
	}
	return &Engine{
		host:      host,
		book:      book,
		registry:  registry,
		executor:  operations.NewExecutor(),
		directory: directory,
		oracle:    pricer,
		gardens:   make(map[common.Address]Garden),
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Strategy(),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// SetState configures the strategy store. Stores that can checkpoint are
// journaled with the rest of the state.
func (e *Engine) SetState(state engineState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	if j, ok := state.(journal.Journaled); ok {
		e.host.Register(j)
	}
}

// RegisterGarden makes a garden available to strategies.
func (e *Engine) RegisterGarden(g Garden) {
	e.mu.Lock()
	e.gardens[g.Address()] = g
	e.mu.Unlock()
	if j, ok := g.(journal.Journaled); ok {
		e.host.Register(j)
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetLedgerSink receives every committed trade record.
func (e *Engine) SetLedgerSink(sink LedgerSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// SetPauses wires the module pause flags.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// SetExecutor overrides the operation dispatcher.
func (e *Engine) SetExecutor(x *operations.Executor) {
	if x == nil {
		return
	}
	e.mu.Lock()
	e.executor = x
	e.mu.Unlock()
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nowFn()
}

func (e *Engine) snapshot() controller.Snapshot {
	if e.registry == nil {
		return controller.DefaultSnapshot()
	}
	return e.registry.Snapshot().Clone()
}

// run executes fn as one atomic transition and publishes its buffered side
// effects only when it commits.
func (e *Engine) run(action string, fn func(c *call) error) error {
	e.mu.RLock()
	paused := nativecommon.Guard(e.pauses, nativecommon.ModuleStrategy)
	e.mu.RUnlock()
	if paused != nil {
		e.telemetry.ObserveRejection(action, strategyerrors.ClassStateConflict.String())
		return fmt.Errorf("%s: %w", action, strategyerrors.ErrModulePaused)
	}
	c := &call{}
	if err := e.host.Atomic(func() error { return fn(c) }); err != nil {
		e.telemetry.ObserveRejection(action, strategyerrors.Classify(err).String())
		return err
	}
	e.mu.RLock()
	emitter, sink := e.emitter, e.sink
	e.mu.RUnlock()
	for _, evt := range c.events {
		emitter.Emit(evt)
	}
	if sink != nil {
		for _, note := range c.trades {
			sink.RecordTrade(note.strategy, note.record)
		}
	}
	for _, fn := range c.after {
		fn()
	}
	e.telemetry.ObserveTransition(action)
	return nil
}

func (e *Engine) garden(addr common.Address) (Garden, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.gardens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: unknown garden %s", strategyerrors.ErrInvalidParams, addr.Hex())
	}
	return g, nil
}

func (e *Engine) store() (engineState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, fmt.Errorf("strategy engine: state not configured")
	}
	return e.state, nil
}

// load returns a working copy of the strategy and its garden.
func (e *Engine) load(addr common.Address) (*Strategy, Garden, error) {
	st, err := e.store()
	if err != nil {
		return nil, nil, err
	}
	s, ok := st.Get(addr)
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", addr.Hex(), strategyerrors.ErrStrategyNotFound)
	}
	g, err := e.garden(s.Garden)
	if err != nil {
		return nil, nil, err
	}
	return s.Clone(), g, nil
}

func (e *Engine) save(s *Strategy) error {
	st, err := e.store()
	if err != nil {
		return err
	}
	return st.Put(s)
}

func (e *Engine) env(s *Strategy, g Garden, snap controller.Snapshot, c *call, now time.Time) (*operations.Env, *CapitalLedger) {
	if s.MaxTradeSlippagePercentage != nil && s.MaxTradeSlippagePercentage.Sign() > 0 {
		bps := new(big.Int).Mul(s.MaxTradeSlippagePercentage, big.NewInt(10_000))
		bps.Quo(bps, precise.Unit())
		snap.SlippageBps[controller.KindTrade] = bps.Uint64()
	}
	reserve := g.ReserveAsset()
	ledger := newLedger(s, reserve, e.oracle, c, now)
	return &operations.Env{
		Strategy:  s.Address,
		Reserve:   reserve,
		Active:    s.Active && !s.Finalized,
		Book:      e.book,
		Oracle:    e.oracle,
		Directory: e.directory,
		Snapshot:  snap,
		Ledger:    ledger,
	}, ledger
}

func (e *Engine) ops() *operations.Executor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.executor
}

// refreshLegs marks every leg with what the strategy actually holds.
func (e *Engine) refreshLegs(s *Strategy) {
	for i := range s.Legs {
		s.Legs[i].Amount = e.book.BalanceOf(s.Legs[i].Asset, s.Address)
	}
}

func (e *Engine) payKeeper(c *call, g Garden, action string, keeper common.Address, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return nil
	}
	paid, err := g.PayKeeper(keeper, fee)
	if err != nil {
		return err
	}
	amount := new(big.Int).Set(fee)
	c.onCommit(func() {
		if paid {
			e.telemetry.ObserveKeeperFee(action, amount)
			return
		}
		e.telemetry.ObserveKeeperDebt(g.Address().Hex(), amount)
	})
	return nil
}

func maxGasFee(s *Strategy, snap controller.Snapshot) *big.Int {
	if s.MaxGasFeePercentage != nil && s.MaxGasFeePercentage.Sign() > 0 {
		return s.MaxGasFeePercentage
	}
	return snap.MaxGasFeePercentage
}

// KeeperFeeCeiling is the largest fee a keeper may claim for an action
// moving base units of capital.
func (s *Strategy) KeeperFeeCeiling(snap controller.Snapshot, base *big.Int) *big.Int {
	if base == nil {
		return new(big.Int)
	}
	return precise.Mul(maxGasFee(s, snap), base)
}

// GetStrategyDetails returns a copy of the strategy record.
func (e *Engine) GetStrategyDetails(addr common.Address) (*Strategy, error) {
	st, err := e.store()
	if err != nil {
		return nil, err
	}
	s, ok := st.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), strategyerrors.ErrStrategyNotFound)
	}
	return s.Clone(), nil
}

// GetStrategyState returns the lifecycle phase.
func (e *Engine) GetStrategyState(addr common.Address) (State, error) {
	s, err := e.GetStrategyDetails(addr)
	if err != nil {
		return 0, err
	}
	return s.State(), nil
}

// GetNAV marks the strategy's live positions to the reserve asset. Strategies
// that are not executing are worth nothing.
func (e *Engine) GetNAV(addr common.Address) (*big.Int, error) {
	s, g, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	if !s.Active || s.Finalized {
		return new(big.Int), nil
	}
	env, _ := e.env(s, g, e.snapshot(), nil, e.now())
	nav, err := e.ops().NAV(env, s.Operations)
	if err != nil {
		return nil, err
	}
	e.telemetry.SetNAV(addr.Hex(), nav)
	return nav, nil
}

// GetUserVotes returns the signed power voter recorded for the strategy.
func (e *Engine) GetUserVotes(addr, voter common.Address) (*big.Int, error) {
	s, err := e.GetStrategyDetails(addr)
	if err != nil {
		return nil, err
	}
	return s.UserVotes(voter), nil
}

// List returns every known strategy address in ascending order.
func (e *Engine) List() []common.Address {
	st, err := e.store()
	if err != nil {
		return nil
	}
	out := st.List()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
