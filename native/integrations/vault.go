package integrations

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/precise"
	"gardenchain/state/bank"
)

// Vault is a single-asset yield vault. Assets are held at the vault ID and the
// share token tracks claims on them.
type Vault struct {
	ID         common.Address
	Underlying common.Address
	ShareToken common.Address
}

// VaultManager hosts passive yield vaults.
type VaultManager struct {
	mu      sync.RWMutex
	address common.Address
	book    *bank.Book
	vaults  map[common.Address]Vault
}

// NewVaultManager constructs a manager at address.
func NewVaultManager(address common.Address, book *bank.Book) *VaultManager {
	return &VaultManager{address: address, book: book, vaults: make(map[common.Address]Vault)}
}

// Address identifies the integration.
func (m *VaultManager) Address() common.Address { return m.address }

// CreateVault registers a vault for underlying.
func (m *VaultManager) CreateVault(underlying common.Address) Vault {
	id := deriveToken(m.address, "vault", underlying)
	vault := Vault{ID: id, Underlying: underlying, ShareToken: deriveToken(m.address, "vault-share", id)}
	m.mu.Lock()
	m.vaults[id] = vault
	m.mu.Unlock()
	return vault
}

// Vault returns the vault registered under id.
func (m *VaultManager) Vault(id common.Address) (Vault, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vault, ok := m.vaults[id]
	return vault, ok
}

// VaultTokens returns the vault's underlying asset and share token.
func (m *VaultManager) VaultTokens(id common.Address) (common.Address, common.Address, bool) {
	vault, ok := m.Vault(id)
	return vault.Underlying, vault.ShareToken, ok
}

// TotalAssets returns the underlying held by the vault.
func (m *VaultManager) TotalAssets(id common.Address) *big.Int {
	vault, ok := m.Vault(id)
	if !ok {
		return new(big.Int)
	}
	return m.book.BalanceOf(vault.Underlying, vault.ID)
}

// PricePerShare returns the underlying value of one share, 1e18 scaled.
func (m *VaultManager) PricePerShare(id common.Address) (*big.Int, error) {
	vault, ok := m.Vault(id)
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", ErrUnsupportedAsset, id.Hex())
	}
	supply := m.book.TotalSupply(vault.ShareToken)
	if supply.Sign() == 0 {
		return precise.Unit(), nil
	}
	return precise.Div(m.book.BalanceOf(vault.Underlying, vault.ID), supply), nil
}

// Deposit moves amount of the underlying into the vault and mints shares as
// amount*totalShares/totalAssets.
func (m *VaultManager) Deposit(holder, id common.Address, amount *big.Int) (*big.Int, error) {
	vault, ok := m.Vault(id)
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", ErrUnsupportedAsset, id.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	totalAssets := m.book.BalanceOf(vault.Underlying, vault.ID)
	totalShares := m.book.TotalSupply(vault.ShareToken)
	shares := new(big.Int).Set(amount)
	if totalShares.Sign() > 0 && totalAssets.Sign() > 0 {
		shares.Mul(shares, totalShares)
		shares.Quo(shares, totalAssets)
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := m.book.Transfer(vault.Underlying, holder, vault.ID, amount); err != nil {
		return nil, fmt.Errorf("vault deposit: %w", err)
	}
	if err := m.book.Mint(vault.ShareToken, holder, shares); err != nil {
		return nil, fmt.Errorf("vault deposit: %w", err)
	}
	return shares, nil
}

// Withdraw burns shares and returns shares*totalAssets/totalShares.
func (m *VaultManager) Withdraw(holder, id common.Address, shares *big.Int) (*big.Int, error) {
	vault, ok := m.Vault(id)
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", ErrUnsupportedAsset, id.Hex())
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	amount := m.previewLocked(vault, shares)
	if err := m.book.Burn(vault.ShareToken, holder, shares); err != nil {
		return nil, fmt.Errorf("vault withdraw: %w", err)
	}
	if err := m.book.Transfer(vault.Underlying, vault.ID, holder, amount); err != nil {
		return nil, fmt.Errorf("vault withdraw: %w", err)
	}
	return amount, nil
}

// PreviewWithdraw returns the underlying redeemable for shares.
func (m *VaultManager) PreviewWithdraw(id common.Address, shares *big.Int) (*big.Int, error) {
	vault, ok := m.Vault(id)
	if !ok {
		return nil, fmt.Errorf("%w: vault %s", ErrUnsupportedAsset, id.Hex())
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previewLocked(vault, shares), nil
}

func (m *VaultManager) previewLocked(vault Vault, shares *big.Int) *big.Int {
	totalShares := m.book.TotalSupply(vault.ShareToken)
	if totalShares.Sign() == 0 || shares == nil {
		return new(big.Int)
	}
	out := m.book.BalanceOf(vault.Underlying, vault.ID)
	out.Mul(out, shares)
	return out.Quo(out, totalShares)
}

// Harvest credits externally earned yield to the vault, raising the price per
// share for every holder.
func (m *VaultManager) Harvest(id common.Address, yield *big.Int) error {
	vault, ok := m.Vault(id)
	if !ok {
		return fmt.Errorf("%w: vault %s", ErrUnsupportedAsset, id.Hex())
	}
	return m.book.Mint(vault.Underlying, vault.ID, yield)
}
