package integrations

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/state/bank"
)

var (
	ErrUnsupportedAsset = errors.New("integrations: unsupported asset")
	ErrZeroAmount       = errors.New("integrations: amount must be positive")
	ErrMarketLiquidity  = errors.New("integrations: market liquidity exhausted")
)

type lendMarket struct {
	shareToken  common.Address
	supplyIndex *big.Int
	apr         *big.Rat
	lastAccrual int64
}

func (m *lendMarket) clone() *lendMarket {
	out := *m
	out.supplyIndex = new(big.Int).Set(m.supplyIndex)
	if m.apr != nil {
		out.apr = new(big.Rat).Set(m.apr)
	}
	return &out
}

// LendingMarket is a multi-asset supply market. Suppliers receive share tokens
// whose underlying claim grows with the supply index.
type LendingMarket struct {
	mu      sync.RWMutex
	address common.Address
	book    *bank.Book
	markets map[common.Address]*lendMarket
	nowFn   func() time.Time
}

// NewLendingMarket constructs an empty market registry at address.
func NewLendingMarket(address common.Address, book *bank.Book) *LendingMarket {
	return &LendingMarket{
		address: address,
		book:    book,
		markets: make(map[common.Address]*lendMarket),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for interest accrual.
func (l *LendingMarket) SetNowFunc(now func() time.Time) {
	if now != nil {
		l.nowFn = now
	}
}

// Address identifies the integration.
func (l *LendingMarket) Address() common.Address { return l.address }

// ListMarket opens a market for asset with the given supply APR.
func (l *LendingMarket) ListMarket(asset common.Address, apr *big.Rat) common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.markets[asset]; ok {
		m.apr = apr
		return m.shareToken
	}
	m := &lendMarket{
		shareToken:  deriveToken(l.address, "lend", asset),
		supplyIndex: new(big.Int).Set(ray),
		apr:         apr,
		lastAccrual: l.nowFn().Unix(),
	}
	l.markets[asset] = m
	return m.shareToken
}

// SupportsAsset reports whether a market is listed for asset.
func (l *LendingMarket) SupportsAsset(asset common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.markets[asset]
	return ok
}

// ShareToken returns the receipt token for asset.
func (l *LendingMarket) ShareToken(asset common.Address) (common.Address, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[asset]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return m.shareToken, nil
}

// ExchangeRate returns the underlying value of one share, 1e18 scaled.
func (l *LendingMarket) ExchangeRate(asset common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return new(big.Int).Quo(m.supplyIndex, rayToWad), nil
}

// Supply moves amount of asset from holder into the market and mints shares.
func (l *LendingMarket) Supply(holder, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.accrueLocked(asset)
	if err != nil {
		return nil, err
	}
	shares := rayDivDown(amount, m.supplyIndex)
	if shares.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := l.book.Transfer(asset, holder, l.address, amount); err != nil {
		return nil, fmt.Errorf("lend supply: %w", err)
	}
	if err := l.book.Mint(m.shareToken, holder, shares); err != nil {
		return nil, fmt.Errorf("lend supply: %w", err)
	}
	return shares, nil
}

// Redeem burns shares held by holder and returns the underlying amount.
func (l *LendingMarket) Redeem(holder, asset common.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.accrueLocked(asset)
	if err != nil {
		return nil, err
	}
	amount := rayMulDown(shares, m.supplyIndex)
	if l.book.BalanceOf(asset, l.address).Cmp(amount) < 0 {
		return nil, ErrMarketLiquidity
	}
	if err := l.book.Burn(m.shareToken, holder, shares); err != nil {
		return nil, fmt.Errorf("lend redeem: %w", err)
	}
	if err := l.book.Transfer(asset, l.address, holder, amount); err != nil {
		return nil, fmt.Errorf("lend redeem: %w", err)
	}
	return amount, nil
}

// UnderlyingValue converts a share amount into underlying asset units at the
// current index without accruing.
func (l *LendingMarket) UnderlyingValue(asset common.Address, shares *big.Int) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return rayMulDown(shares, m.supplyIndex), nil
}

// Accrue advances the supply index of every market to now. Interest owed by
// borrowers outside this model is minted into the market so redemptions stay
// fully backed.
func (l *LendingMarket) Accrue() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for asset := range l.markets {
		if _, err := l.accrueLocked(asset); err != nil {
			return err
		}
	}
	return nil
}

func (l *LendingMarket) accrueLocked(asset common.Address) (*lendMarket, error) {
	m, ok := l.markets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	now := l.nowFn().Unix()
	if now <= m.lastAccrual {
		return m, nil
	}
	factor := growthFactor(m.apr, uint64(now-m.lastAccrual))
	m.lastAccrual = now
	if factor.Cmp(ray) == 0 {
		return m, nil
	}
	supply := l.book.TotalSupply(m.shareToken)
	before := rayMulDown(supply, m.supplyIndex)
	m.supplyIndex = rayMul(m.supplyIndex, factor)
	after := rayMulDown(supply, m.supplyIndex)
	if interest := after.Sub(after, before); interest.Sign() > 0 {
		if err := l.book.Mint(asset, l.address, interest); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Checkpoint captures market indexes so failed transitions can restore them.
func (l *LendingMarket) Checkpoint() func() {
	l.mu.RLock()
	saved := make(map[common.Address]*lendMarket, len(l.markets))
	for asset, m := range l.markets {
		saved[asset] = m.clone()
	}
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		l.markets = saved
		l.mu.Unlock()
	}
}
