// Package bank maintains the token balance sheet every strategy, garden,
// integration and keeper settles against.
package bank

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"gardenchain/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("bank: amount must not be negative")
)

var bookKey = ethcrypto.Keccak256([]byte("bank:book"))

// Book tracks balances per (token, holder) and the total supply per token.
// Book implements journal.Journaled so failed transitions leave it untouched.
type Book struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
	supply   map[common.Address]*big.Int
	db       storage.Database
}

// NewBook returns an empty, unpersisted book.
func NewBook() *Book {
	return &Book{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		supply:   make(map[common.Address]*big.Int),
	}
}

// BalanceOf returns a copy of the holder's balance of token.
func (b *Book) BalanceOf(token, holder common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if holders, ok := b.balances[token]; ok {
		if bal, ok := holders[holder]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// TotalSupply returns a copy of the token's outstanding supply.
func (b *Book) TotalSupply(token common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.supply[token]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// Transfer moves amount of token between holders.
func (b *Book) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(token, from, amount); err != nil {
		return fmt.Errorf("transfer %s from %s: %w", token.Hex(), from.Hex(), err)
	}
	b.credit(token, to, amount)
	return nil
}

// Mint creates amount of token for the recipient.
func (b *Book) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token, to, amount)
	s := b.supplyOf(token)
	s.Add(s, amount)
	return nil
}

// Burn destroys amount of token held by from.
func (b *Book) Burn(token, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(token, from, amount); err != nil {
		return fmt.Errorf("burn %s from %s: %w", token.Hex(), from.Hex(), err)
	}
	s := b.supplyOf(token)
	s.Sub(s, amount)
	return nil
}

// Holdings lists every token the holder has a non-zero balance of, sorted by
// token address.
func (b *Book) Holdings(holder common.Address) []common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var tokens []common.Address
	for token, holders := range b.balances {
		if bal, ok := holders[holder]; ok && bal.Sign() > 0 {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return bytes.Compare(tokens[i][:], tokens[j][:]) < 0 })
	return tokens
}

func (b *Book) debit(token, from common.Address, amount *big.Int) error {
	holders := b.balances[token]
	bal, ok := holders[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(holders, from)
	}
	return nil
}

func (b *Book) credit(token, to common.Address, amount *big.Int) {
	holders, ok := b.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.balances[token] = holders
	}
	bal, ok := holders[to]
	if !ok {
		bal = new(big.Int)
		holders[to] = bal
	}
	bal.Add(bal, amount)
}

func (b *Book) supplyOf(token common.Address) *big.Int {
	s, ok := b.supply[token]
	if !ok {
		s = new(big.Int)
		b.supply[token] = s
	}
	return s
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Checkpoint captures a deep copy of the book and returns a function restoring
// it.
func (b *Book) Checkpoint() func() {
	b.mu.RLock()
	balances, supply := b.cloneLocked()
	b.mu.RUnlock()
	return func() {
		b.mu.Lock()
		b.balances = balances
		b.supply = supply
		b.mu.Unlock()
	}
}

func (b *Book) cloneLocked() (map[common.Address]map[common.Address]*big.Int, map[common.Address]*big.Int) {
	balances := make(map[common.Address]map[common.Address]*big.Int, len(b.balances))
	for token, holders := range b.balances {
		copyHolders := make(map[common.Address]*big.Int, len(holders))
		for holder, bal := range holders {
			copyHolders[holder] = new(big.Int).Set(bal)
		}
		balances[token] = copyHolders
	}
	supply := make(map[common.Address]*big.Int, len(b.supply))
	for token, s := range b.supply {
		supply[token] = new(big.Int).Set(s)
	}
	return balances, supply
}

type storedBalance struct {
	Token  common.Address
	Holder common.Address
	Amount *big.Int
}

// Attach binds the book to a database and loads any previously committed
// balances. Supplies are recomputed from the loaded balances.
func (b *Book) Attach(db storage.Database) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.db = db
	data, err := db.Get(bookKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bank: load book: %w", err)
	}
	var entries []storedBalance
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return fmt.Errorf("bank: decode book: %w", err)
	}
	b.balances = make(map[common.Address]map[common.Address]*big.Int)
	b.supply = make(map[common.Address]*big.Int)
	for _, entry := range entries {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		b.credit(entry.Token, entry.Holder, entry.Amount)
		s := b.supplyOf(entry.Token)
		s.Add(s, entry.Amount)
	}
	return nil
}

// Commit writes the full balance sheet to the attached database. Without a
// database Commit is a no-op.
func (b *Book) Commit() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil
	}
	entries := make([]storedBalance, 0)
	for token, holders := range b.balances {
		for holder, bal := range holders {
			entries = append(entries, storedBalance{Token: token, Holder: holder, Amount: new(big.Int).Set(bal)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Token[:], entries[j].Token[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(entries[i].Holder[:], entries[j].Holder[:]) < 0
	})
	encoded, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return fmt.Errorf("bank: encode book: %w", err)
	}
	return b.db.Put(bookKey, encoded)
}
