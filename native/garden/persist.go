package garden

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"gardenchain/storage"
)

type storedAmount struct {
	Account common.Address
	Amount  *big.Int
}

type storedStake struct {
	Strategy common.Address
	Owner    common.Address
	Amount   *big.Int
}

type storedVoteLock struct {
	Voter    common.Address
	Strategy common.Address
	Amount   *big.Int
}

type storedGarden struct {
	Reserve       common.Address
	Contributions []storedAmount
	Stakes        []storedStake
	VoteLocks     []storedVoteLock
	Allocations   []storedAmount
	KeeperDebt    []storedAmount
	Claimable     []storedAmount
	Pending       *big.Int
	Ledger        []RewardEntry
	Candidates    []common.Address
	Active        []common.Address
	Finalized     []common.Address
	Nonce         uint64
}

func gardenKey(addr common.Address) []byte {
	return ethcrypto.Keccak256(append([]byte("garden:"), addr.Bytes()...))
}

type snapshot struct {
	contributions map[common.Address]*big.Int
	totalPower    *big.Int
	stakes        map[common.Address]*stakeLock
	voteLocks     map[common.Address]map[common.Address]*big.Int
	allocations   map[common.Address]*big.Int
	keeperDebt    map[common.Address]*big.Int
	claimable     map[common.Address]*big.Int
	pending       *big.Int
	ledgerLen     int
	candidates    []common.Address
	active        []common.Address
	finalized     []common.Address
	nonce         uint64
	outboxLen     int
	deferring     bool
}

// Checkpoint captures the garden's accounting and returns a function that
// restores it. The reward ledger is append-only so only its length is kept.
// Events emitted after a checkpoint are held until Publish and dropped on
// revert.
func (g *Garden) Checkpoint() func() {
	g.mu.Lock()
	snap := snapshot{
		contributions: cloneAmounts(g.contributions),
		totalPower:    new(big.Int).Set(g.totalPower),
		stakes:        make(map[common.Address]*stakeLock, len(g.stakes)),
		voteLocks:     make(map[common.Address]map[common.Address]*big.Int, len(g.voteLocks)),
		allocations:   cloneAmounts(g.allocations),
		keeperDebt:    cloneAmounts(g.keeperDebt),
		claimable:     cloneAmounts(g.claimable),
		pending:       new(big.Int).Set(g.pending),
		ledgerLen:     len(g.ledger),
		candidates:    append([]common.Address(nil), g.candidates...),
		active:        append([]common.Address(nil), g.active...),
		finalized:     append([]common.Address(nil), g.finalized...),
		nonce:         g.nonce,
		outboxLen:     len(g.outbox),
		deferring:     g.deferring,
	}
	for strategy, lock := range g.stakes {
		snap.stakes[strategy] = &stakeLock{owner: lock.owner, amount: new(big.Int).Set(lock.amount)}
	}
	for voter, locks := range g.voteLocks {
		snap.voteLocks[voter] = cloneAmounts(locks)
	}
	g.deferring = true
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.contributions = snap.contributions
		g.totalPower = snap.totalPower
		g.stakes = snap.stakes
		g.voteLocks = snap.voteLocks
		g.allocations = snap.allocations
		g.keeperDebt = snap.keeperDebt
		g.claimable = snap.claimable
		g.pending = snap.pending
		if len(g.ledger) > snap.ledgerLen {
			g.ledger = g.ledger[:snap.ledgerLen]
		}
		if len(g.outbox) > snap.outboxLen {
			g.outbox = g.outbox[:snap.outboxLen]
		}
		g.deferring = snap.deferring
		g.candidates = snap.candidates
		g.active = snap.active
		g.finalized = snap.finalized
		g.nonce = snap.nonce
	}
}

// Attach binds the garden to db and loads previously committed state.
func (g *Garden) Attach(db storage.Database) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.db = db
	data, err := db.Get(gardenKey(g.address))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("garden: load %s: %w", g.address.Hex(), err)
	}
	var stored storedGarden
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return fmt.Errorf("garden: decode %s: %w", g.address.Hex(), err)
	}
	if stored.Reserve != g.reserve {
		return fmt.Errorf("garden: stored reserve %s does not match %s", stored.Reserve.Hex(), g.reserve.Hex())
	}
	g.contributions = fromStored(stored.Contributions)
	g.totalPower = new(big.Int)
	for _, amount := range g.contributions {
		g.totalPower.Add(g.totalPower, amount)
	}
	g.stakes = make(map[common.Address]*stakeLock, len(stored.Stakes))
	for _, s := range stored.Stakes {
		g.stakes[s.Strategy] = &stakeLock{owner: s.Owner, amount: s.Amount}
	}
	g.voteLocks = make(map[common.Address]map[common.Address]*big.Int)
	for _, l := range stored.VoteLocks {
		locks, ok := g.voteLocks[l.Voter]
		if !ok {
			locks = make(map[common.Address]*big.Int)
			g.voteLocks[l.Voter] = locks
		}
		locks[l.Strategy] = l.Amount
	}
	g.allocations = fromStored(stored.Allocations)
	g.keeperDebt = fromStored(stored.KeeperDebt)
	g.claimable = fromStored(stored.Claimable)
	g.pending = stored.Pending
	if g.pending == nil {
		g.pending = new(big.Int)
	}
	g.ledger = stored.Ledger
	g.candidates = stored.Candidates
	g.active = stored.Active
	g.finalized = stored.Finalized
	g.nonce = stored.Nonce
	return nil
}

// Commit persists the garden to the attached database. Without a database
// Commit is a no-op.
func (g *Garden) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	stored := storedGarden{
		Reserve:       g.reserve,
		Contributions: toStored(g.contributions),
		Allocations:   toStored(g.allocations),
		KeeperDebt:    toStored(g.keeperDebt),
		Claimable:     toStored(g.claimable),
		Pending:       new(big.Int).Set(g.pending),
		Ledger:        append([]RewardEntry{}, g.ledger...),
		Candidates:    append([]common.Address{}, g.candidates...),
		Active:        append([]common.Address{}, g.active...),
		Finalized:     append([]common.Address{}, g.finalized...),
		Nonce:         g.nonce,
	}
	strategies := make([]common.Address, 0, len(g.stakes))
	for strategy := range g.stakes {
		strategies = append(strategies, strategy)
	}
	sortAddresses(strategies)
	stored.Stakes = make([]storedStake, 0, len(strategies))
	for _, strategy := range strategies {
		lock := g.stakes[strategy]
		stored.Stakes = append(stored.Stakes, storedStake{Strategy: strategy, Owner: lock.owner, Amount: new(big.Int).Set(lock.amount)})
	}
	voters := make([]common.Address, 0, len(g.voteLocks))
	for voter := range g.voteLocks {
		voters = append(voters, voter)
	}
	sortAddresses(voters)
	stored.VoteLocks = make([]storedVoteLock, 0)
	for _, voter := range voters {
		for _, entry := range toStored(g.voteLocks[voter]) {
			stored.VoteLocks = append(stored.VoteLocks, storedVoteLock{Voter: voter, Strategy: entry.Account, Amount: entry.Amount})
		}
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("garden: encode %s: %w", g.address.Hex(), err)
	}
	return g.db.Put(gardenKey(g.address), encoded)
}

func cloneAmounts(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func toStored(in map[common.Address]*big.Int) []storedAmount {
	keys := make([]common.Address, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sortAddresses(keys)
	out := make([]storedAmount, 0, len(keys))
	for _, k := range keys {
		out = append(out, storedAmount{Account: k, Amount: new(big.Int).Set(in[k])})
	}
	return out
}

func fromStored(in []storedAmount) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for _, entry := range in {
		if entry.Amount == nil {
			continue
		}
		out[entry.Account] = entry.Amount
	}
	return out
}
