package integrations

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/state/bank"
)

// Pool describes a two-token constant-proportion liquidity pool.
type Pool struct {
	ID      common.Address
	Tokens  [2]common.Address
	LPToken common.Address
}

// PoolManager hosts pools whose reserves sit at the pool identifier in the
// book. LP supply is the book's total supply of the LP token.
type PoolManager struct {
	mu      sync.RWMutex
	address common.Address
	book    *bank.Book
	pools   map[common.Address]Pool
}

// NewPoolManager constructs a manager at address.
func NewPoolManager(address common.Address, book *bank.Book) *PoolManager {
	return &PoolManager{address: address, book: book, pools: make(map[common.Address]Pool)}
}

// Address identifies the integration.
func (m *PoolManager) Address() common.Address { return m.address }

// CreatePool registers a pool over the token pair and returns it.
func (m *PoolManager) CreatePool(token0, token1 common.Address) (Pool, error) {
	if token0 == token1 {
		return Pool{}, fmt.Errorf("pool: identical tokens")
	}
	id := deriveToken(m.address, "pool", common.BytesToAddress(append(token0.Bytes(), token1.Bytes()...)))
	pool := Pool{ID: id, Tokens: [2]common.Address{token0, token1}, LPToken: deriveToken(m.address, "lp", id)}
	m.mu.Lock()
	m.pools[id] = pool
	m.mu.Unlock()
	return pool, nil
}

// Pool returns the pool registered under id.
func (m *PoolManager) Pool(id common.Address) (Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[id]
	return pool, ok
}

// PoolTokens returns the pool's token pair and LP token.
func (m *PoolManager) PoolTokens(id common.Address) ([2]common.Address, common.Address, bool) {
	pool, ok := m.Pool(id)
	return pool.Tokens, pool.LPToken, ok
}

// Reserves returns the pool's token balances.
func (m *PoolManager) Reserves(id common.Address) ([2]*big.Int, error) {
	pool, ok := m.Pool(id)
	if !ok {
		return [2]*big.Int{}, fmt.Errorf("%w: pool %s", ErrUnsupportedAsset, id.Hex())
	}
	return [2]*big.Int{
		m.book.BalanceOf(pool.Tokens[0], pool.ID),
		m.book.BalanceOf(pool.Tokens[1], pool.ID),
	}, nil
}

// Join deposits up to amounts of the pool tokens and mints LP tokens. Only the
// proportional part of amounts is taken; the remainder stays with holder.
func (m *PoolManager) Join(holder, id common.Address, amounts [2]*big.Int) (*big.Int, error) {
	pool, ok := m.Pool(id)
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrUnsupportedAsset, id.Hex())
	}
	for _, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reserves := [2]*big.Int{m.book.BalanceOf(pool.Tokens[0], pool.ID), m.book.BalanceOf(pool.Tokens[1], pool.ID)}
	supply := m.book.TotalSupply(pool.LPToken)

	used := [2]*big.Int{new(big.Int).Set(amounts[0]), new(big.Int).Set(amounts[1])}
	var minted *big.Int
	if supply.Sign() == 0 || reserves[0].Sign() == 0 || reserves[1].Sign() == 0 {
		minted = new(big.Int).Sqrt(new(big.Int).Mul(amounts[0], amounts[1]))
	} else {
		lp0 := new(big.Int).Quo(new(big.Int).Mul(amounts[0], supply), reserves[0])
		lp1 := new(big.Int).Quo(new(big.Int).Mul(amounts[1], supply), reserves[1])
		minted = lp0
		if lp1.Cmp(lp0) < 0 {
			minted = lp1
		}
		for i := range used {
			take := new(big.Int).Mul(minted, reserves[i])
			take.Add(take, new(big.Int).Sub(supply, big.NewInt(1)))
			used[i] = take.Quo(take, supply)
			if used[i].Cmp(amounts[i]) > 0 {
				used[i].Set(amounts[i])
			}
		}
	}
	if minted.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	for i, token := range pool.Tokens {
		if err := m.book.Transfer(token, holder, pool.ID, used[i]); err != nil {
			return nil, fmt.Errorf("pool join: %w", err)
		}
	}
	if err := m.book.Mint(pool.LPToken, holder, minted); err != nil {
		return nil, fmt.Errorf("pool join: %w", err)
	}
	return minted, nil
}

// Exit burns lp tokens and returns the proportional reserves to holder.
func (m *PoolManager) Exit(holder, id common.Address, lp *big.Int) ([2]*big.Int, error) {
	pool, ok := m.Pool(id)
	if !ok {
		return [2]*big.Int{}, fmt.Errorf("%w: pool %s", ErrUnsupportedAsset, id.Hex())
	}
	if lp == nil || lp.Sign() <= 0 {
		return [2]*big.Int{}, ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	amounts, err := m.underlyingLocked(pool, lp)
	if err != nil {
		return [2]*big.Int{}, err
	}
	if err := m.book.Burn(pool.LPToken, holder, lp); err != nil {
		return [2]*big.Int{}, fmt.Errorf("pool exit: %w", err)
	}
	for i, token := range pool.Tokens {
		if err := m.book.Transfer(token, pool.ID, holder, amounts[i]); err != nil {
			return [2]*big.Int{}, fmt.Errorf("pool exit: %w", err)
		}
	}
	return amounts, nil
}

// Underlying returns the reserves claimable by lp tokens.
func (m *PoolManager) Underlying(id common.Address, lp *big.Int) ([2]*big.Int, error) {
	pool, ok := m.Pool(id)
	if !ok {
		return [2]*big.Int{}, fmt.Errorf("%w: pool %s", ErrUnsupportedAsset, id.Hex())
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.underlyingLocked(pool, lp)
}

func (m *PoolManager) underlyingLocked(pool Pool, lp *big.Int) ([2]*big.Int, error) {
	supply := m.book.TotalSupply(pool.LPToken)
	out := [2]*big.Int{new(big.Int), new(big.Int)}
	if supply.Sign() == 0 || lp == nil || lp.Sign() == 0 {
		return out, nil
	}
	if lp.Cmp(supply) > 0 {
		return out, fmt.Errorf("pool: lp amount exceeds supply")
	}
	for i, token := range pool.Tokens {
		reserve := m.book.BalanceOf(token, pool.ID)
		out[i] = reserve.Mul(reserve, lp)
		out[i].Quo(out[i], supply)
	}
	return out, nil
}
