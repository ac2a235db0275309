package operations

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
	"gardenchain/native/controller"
	"gardenchain/native/oracle"
	"gardenchain/state/bank"
)

// Directory resolves whitelisted integration addresses to implementations.
type Directory struct {
	mu      sync.RWMutex
	lend    map[common.Address]LendIntegration
	trade   map[common.Address]TradeIntegration
	pool    map[common.Address]PoolIntegration
	passive map[common.Address]PassiveIntegration
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		lend:    make(map[common.Address]LendIntegration),
		trade:   make(map[common.Address]TradeIntegration),
		pool:    make(map[common.Address]PoolIntegration),
		passive: make(map[common.Address]PassiveIntegration),
	}
}

func (d *Directory) RegisterLend(i LendIntegration) {
	d.mu.Lock()
	d.lend[i.Address()] = i
	d.mu.Unlock()
}

func (d *Directory) RegisterTrade(i TradeIntegration) {
	d.mu.Lock()
	d.trade[i.Address()] = i
	d.mu.Unlock()
}

func (d *Directory) RegisterPool(i PoolIntegration) {
	d.mu.Lock()
	d.pool[i.Address()] = i
	d.mu.Unlock()
}

func (d *Directory) RegisterPassive(i PassiveIntegration) {
	d.mu.Lock()
	d.passive[i.Address()] = i
	d.mu.Unlock()
}

func (d *Directory) Lend(addr common.Address) (LendIntegration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.lend[addr]
	return i, ok
}

func (d *Directory) Trade(addr common.Address) (TradeIntegration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.trade[addr]
	return i, ok
}

func (d *Directory) Pool(addr common.Address) (PoolIntegration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.pool[addr]
	return i, ok
}

func (d *Directory) Passive(addr common.Address) (PassiveIntegration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.passive[addr]
	return i, ok
}

// Env is everything an operation needs to act for one strategy. Funds always
// sit in the strategy's own balance in Book.
type Env struct {
	Strategy  common.Address
	Reserve   common.Address
	Active    bool
	Book      *bank.Book
	Oracle    oracle.PriceOracle
	Directory *Directory
	Snapshot  controller.Snapshot
	Ledger    TradeRecorder
}

// defaultTrader resolves the controller's default trade route.
func (env *Env) defaultTrader() (TradeIntegration, error) {
	if env.Directory == nil {
		return nil, fmt.Errorf("%w: no integration directory", strategyerrors.ErrInvalidOperation)
	}
	trader, ok := env.Directory.Trade(env.Snapshot.DefaultTrade)
	if !ok {
		return nil, fmt.Errorf("%w: default trade route %s unavailable", strategyerrors.ErrInvalidOperation, env.Snapshot.DefaultTrade.Hex())
	}
	return trader, nil
}

// slippage returns the tolerance for a step: the data override or the kind
// default.
func (env *Env) slippage(kind controller.Kind, p Params) *big.Int {
	if p.SlippageBps > 0 {
		return precise.FromBps(p.SlippageBps)
	}
	return env.Snapshot.Slippage(kind)
}

// value marks amount of asset to the reserve asset.
func (env *Env) value(asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return new(big.Int), nil
	}
	if asset == env.Reserve {
		return new(big.Int).Set(amount), nil
	}
	if env.Oracle == nil {
		return nil, fmt.Errorf("%w: no price oracle", strategyerrors.ErrNavComputationFailed)
	}
	price, err := env.Oracle.GetPrice(asset, env.Reserve)
	if err != nil {
		return nil, fmt.Errorf("%w: price %s: %v", strategyerrors.ErrNavComputationFailed, asset.Hex(), err)
	}
	out := precise.Mul(amount, price)
	if out.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s prices to zero", strategyerrors.ErrNavComputationFailed, asset.Hex())
	}
	return out, nil
}

// convert trades amount of from into to through trader, demanding at least
// the oracle-expected output less slippage. Same-asset conversions are free.
func (env *Env) convert(trader TradeIntegration, from, to common.Address, amount, slippage *big.Int) (*big.Int, error) {
	if from == to || amount == nil || amount.Sign() == 0 {
		return precise.Copy(amount), nil
	}
	if trader == nil {
		return nil, fmt.Errorf("%w: no trade route for %s", strategyerrors.ErrInvalidOperation, from.Hex())
	}
	if env.Oracle == nil {
		return nil, fmt.Errorf("%w: no price oracle", strategyerrors.ErrNavComputationFailed)
	}
	price, err := env.Oracle.GetPrice(from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: price %s/%s: %v", strategyerrors.ErrNavComputationFailed, from.Hex(), to.Hex(), err)
	}
	expected := precise.Mul(amount, price)
	minOut := precise.Mul(expected, new(big.Int).Sub(precise.Unit(), slippage))
	out, err := trader.Swap(env.Strategy, from, to, amount, minOut)
	if err != nil {
		return nil, err
	}
	if out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: received %s below %s", strategyerrors.ErrSlippageExceeded, out, minOut)
	}
	if env.Ledger != nil {
		env.Ledger.ReconcileTrade(from, amount, to, out)
	}
	return out, nil
}

// checkSlippage fails when valueOut falls more than slippage below valueIn.
func checkSlippage(valueIn, valueOut, slippage *big.Int) error {
	floor := precise.Mul(valueIn, new(big.Int).Sub(precise.Unit(), slippage))
	if valueOut.Cmp(floor) < 0 {
		return fmt.Errorf("%w: value %s below floor %s", strategyerrors.ErrSlippageExceeded, valueOut, floor)
	}
	return nil
}

// portion returns pct of held rounded down; a full percentage takes all.
func portion(held, pct *big.Int) *big.Int {
	if pct.Cmp(precise.Unit()) >= 0 {
		return new(big.Int).Set(held)
	}
	return precise.Mul(held, pct)
}

func requireLiquid(in Position) error {
	if in.Status != StatusLiquid {
		return fmt.Errorf("%w: input %s is %s, not liquid", strategyerrors.ErrInvalidOperation, in.Asset.Hex(), in.Status)
	}
	if in.Amount == nil || in.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: no capital for operation", strategyerrors.ErrInvalidAmount)
	}
	return nil
}

func whitelisted(env *Env, kind controller.Kind, integration common.Address) error {
	if !env.Snapshot.IsValidIntegration(kind, integration) {
		return fmt.Errorf("%w: %s for %s", strategyerrors.ErrIntegrationNotAllowed, integration.Hex(), kind)
	}
	return nil
}
