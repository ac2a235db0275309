package integrations

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
	"gardenchain/native/oracle"
	"gardenchain/state/bank"
)

// TradeRouter is an inventory-backed exchange quoting against the price
// oracle. FeeBps is charged on every swap; skews worsen the execution price
// of individual assets to model thin liquidity.
type TradeRouter struct {
	mu      sync.RWMutex
	address common.Address
	book    *bank.Book
	oracle  oracle.PriceOracle
	feeBps  uint64
	skewBps map[common.Address]uint64
}

// NewTradeRouter constructs a router holding its inventory at address.
func NewTradeRouter(address common.Address, book *bank.Book, prices oracle.PriceOracle, feeBps uint64) *TradeRouter {
	return &TradeRouter{
		address: address,
		book:    book,
		oracle:  prices,
		feeBps:  feeBps,
		skewBps: make(map[common.Address]uint64),
	}
}

// Address identifies the integration.
func (r *TradeRouter) Address() common.Address { return r.address }

// SetSkew worsens the price received when buying asset by bps.
func (r *TradeRouter) SetSkew(asset common.Address, bps uint64) {
	r.mu.Lock()
	r.skewBps[asset] = bps
	r.mu.Unlock()
}

// SupportsPair reports whether the oracle can price the pair.
func (r *TradeRouter) SupportsPair(from, to common.Address) bool {
	price, err := r.oracle.GetPrice(from, to)
	return err == nil && price.Sign() > 0
}

// Quote returns the output the router would pay for amountIn.
func (r *TradeRouter) Quote(from, to common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	price, err := r.oracle.GetPrice(from, to)
	if err != nil {
		return nil, fmt.Errorf("router quote: %w", err)
	}
	out := precise.Mul(amountIn, price)
	r.mu.RLock()
	haircut := r.feeBps + r.skewBps[to]
	r.mu.RUnlock()
	if haircut >= 10_000 {
		return big.NewInt(0), nil
	}
	return applyBps(out, 10_000-haircut), nil
}

// Swap exchanges amountIn of from for to on behalf of holder, failing when the
// output would fall below minOut.
func (r *TradeRouter) Swap(holder, from, to common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	if from == to {
		return new(big.Int).Set(amountIn), nil
	}
	out, err := r.Quote(from, to, amountIn)
	if err != nil {
		return nil, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("router: output %s below minimum %s: %w", out, minOut, strategyerrors.ErrSlippageExceeded)
	}
	if r.book.BalanceOf(to, r.address).Cmp(out) < 0 {
		return nil, fmt.Errorf("router: inventory of %s exhausted: %w", to.Hex(), strategyerrors.ErrInsufficientLiquidity)
	}
	if err := r.book.Transfer(from, holder, r.address, amountIn); err != nil {
		return nil, fmt.Errorf("router swap: %w", err)
	}
	if err := r.book.Transfer(to, r.address, holder, out); err != nil {
		return nil, fmt.Errorf("router swap: %w", err)
	}
	return out, nil
}
