// Package node assembles the strategy runtime from the protocol file: the
// balance book, gardens, integrations, price oracle and the engine that drives
// them, all journaled under one execution lane.
package node

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/config"
	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/journal"
	nativecommon "gardenchain/native/common"
	"gardenchain/native/controller"
	"gardenchain/native/garden"
	"gardenchain/native/integrations"
	"gardenchain/native/operations"
	"gardenchain/native/oracle"
	"gardenchain/native/strategy"
	"gardenchain/observability"
	"gardenchain/state/bank"
	"gardenchain/state/strategies"
	"gardenchain/storage"
)

// ErrUnknownGarden is returned for addresses no configured garden lives at.
var ErrUnknownGarden = errors.New("node: unknown garden")

// Options carries the runtime collaborators that do not come from the
// protocol file.
type Options struct {
	DB         storage.Database
	Emitters   []events.Emitter
	Sink       strategy.LedgerSink
	HTTPClient oracle.HTTPDoer
	Now        func() time.Time
	BusBuffer  int
}

// Node is a fully wired strategy runtime.
type Node struct {
	Protocol *config.Config
	DB       storage.Database
	Book     *bank.Book
	Host     *journal.Host
	Registry *controller.Registry
	Oracle   *oracle.Aggregator
	Manual   *oracle.ManualFeed
	Engine   *strategy.Engine
	Store    *strategies.Store
	Bus      *events.Bus

	mu      sync.RWMutex
	gardens map[common.Address]*garden.Garden
	now     func() time.Time
}

// New builds a node from proto. Balances, gardens and strategies previously
// committed to opts.DB are restored.
func New(proto *config.Config, opts Options) (*Node, error) {
	if proto == nil {
		return nil, fmt.Errorf("node: protocol config required")
	}
	db := opts.DB
	if db == nil {
		db = storage.NewMemDB()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	n := &Node{
		Protocol: proto,
		DB:       db,
		Book:     bank.NewBook(),
		Bus:      events.NewBus(opts.BusBuffer),
		gardens:  make(map[common.Address]*garden.Garden),
		now:      now,
	}
	n.Bus.SetDropHook(observability.Events().RecordDrop)
	if err := n.Book.Attach(db); err != nil {
		return nil, err
	}

	snap, err := proto.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	n.Registry, err = controller.NewRegistry(snap)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	n.Registry.SetPaused(nativecommon.ModuleStrategy, proto.Pauses.Strategy)
	n.Registry.SetPaused(nativecommon.ModuleGarden, proto.Pauses.Garden)

	if err := n.buildOracle(opts.HTTPClient); err != nil {
		return nil, err
	}
	directory, markets, err := n.buildIntegrations()
	if err != nil {
		return nil, err
	}

	members := []journal.Journaled{n.Book}
	for _, m := range markets {
		members = append(members, m)
	}
	n.Host = journal.NewHost(members...)

	n.Store, err = strategies.NewStore(db)
	if err != nil {
		return nil, err
	}
	emitter := events.MultiEmitter{n.Bus, meteredEmitter{}}
	for _, e := range opts.Emitters {
		emitter = append(emitter, e)
	}

	n.Engine = strategy.NewEngine(n.Host, n.Book, n.Registry, directory, n.Oracle)
	n.Engine.SetState(n.Store)
	n.Engine.SetPauses(n.Registry)
	n.Engine.SetNowFunc(now)
	n.Engine.SetEmitter(emitter)
	if opts.Sink != nil {
		n.Engine.SetLedgerSink(opts.Sink)
	}

	for _, gc := range proto.Gardens {
		reserve, err := proto.AssetAddress(gc.Reserve)
		if err != nil {
			return nil, fmt.Errorf("node: garden %s: %w", gc.Name, err)
		}
		g := garden.New(common.HexToAddress(gc.Address), reserve, n.Book)
		if err := g.Attach(db); err != nil {
			return nil, fmt.Errorf("node: garden %s: %w", gc.Name, err)
		}
		g.SetEmitter(emitter)
		n.Engine.RegisterGarden(g)
		n.gardens[g.Address()] = g
	}
	return n, nil
}

func (n *Node) buildOracle(client oracle.HTTPDoer) error {
	n.Manual = oracle.NewManualFeed()
	if err := n.Protocol.SeedPrices(n.Manual, n.now()); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.Oracle = oracle.NewAggregator(n.Protocol.Oracle.Priority, n.Protocol.MaxPriceAge())
	n.Oracle.SetNowFunc(n.now)
	n.Oracle.Register("manual", n.Manual)
	if ids := n.Protocol.CoinGeckoIDs(); len(ids) > 0 {
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		n.Oracle.Register("coingecko", oracle.NewCoinGeckoFeed(client, n.Protocol.Oracle.CoinGeckoEndpoint, ids))
	}
	return nil
}

func (n *Node) buildIntegrations() (*operations.Directory, []*integrations.LendingMarket, error) {
	directory := operations.NewDirectory()
	var markets []*integrations.LendingMarket
	for _, in := range n.Protocol.Integrations {
		kind, err := controller.ParseKind(strings.ToLower(strings.TrimSpace(in.Kind)))
		if err != nil {
			return nil, nil, fmt.Errorf("node: integration %s: %w", in.Name, err)
		}
		addr := common.HexToAddress(in.Address)
		switch kind {
		case controller.KindTrade:
			directory.RegisterTrade(integrations.NewTradeRouter(addr, n.Book, n.Oracle, in.FeeBps))
		case controller.KindLend:
			market := integrations.NewLendingMarket(addr, n.Book)
			market.SetNowFunc(n.now)
			apr := new(big.Rat).SetFrac64(int64(in.AprBps), 10_000)
			for _, asset := range n.Protocol.Assets {
				market.ListMarket(common.HexToAddress(asset.Address), apr)
			}
			directory.RegisterLend(market)
			markets = append(markets, market)
		case controller.KindPool:
			manager := integrations.NewPoolManager(addr, n.Book)
			for _, pair := range in.Pools {
				token0, err := n.Protocol.AssetAddress(pair[0])
				if err != nil {
					return nil, nil, fmt.Errorf("node: integration %s: %w", in.Name, err)
				}
				token1, err := n.Protocol.AssetAddress(pair[1])
				if err != nil {
					return nil, nil, fmt.Errorf("node: integration %s: %w", in.Name, err)
				}
				if _, err := manager.CreatePool(token0, token1); err != nil {
					return nil, nil, fmt.Errorf("node: integration %s: %w", in.Name, err)
				}
			}
			directory.RegisterPool(manager)
		case controller.KindPassiveInvestment:
			manager := integrations.NewVaultManager(addr, n.Book)
			for _, symbol := range in.Vaults {
				underlying, err := n.Protocol.AssetAddress(symbol)
				if err != nil {
					return nil, nil, fmt.Errorf("node: integration %s: %w", in.Name, err)
				}
				manager.CreateVault(underlying)
			}
			directory.RegisterPassive(manager)
		}
	}
	return directory, markets, nil
}

// Now reports the clock the engine and oracle run on.
func (n *Node) Now() time.Time { return n.now() }

// Garden returns the registered garden at addr.
func (n *Node) Garden(addr common.Address) (*garden.Garden, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	g, ok := n.gardens[addr]
	return g, ok
}

// Gardens lists every registered garden sorted by address.
func (n *Node) Gardens() []*garden.Garden {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*garden.Garden, 0, len(n.gardens))
	for _, g := range n.gardens {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Address().Hex(), out[j].Address().Hex()) < 0
	})
	return out
}

func (n *Node) lookup(addr common.Address) (*garden.Garden, error) {
	if n.Registry.IsPaused(nativecommon.ModuleGarden) {
		return nil, fmt.Errorf("garden: %w", strategyerrors.ErrModulePaused)
	}
	g, ok := n.Garden(addr)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownGarden, addr.Hex())
	}
	return g, nil
}

// Deposit moves amount of the garden's reserve from the contributor into the
// garden and grants matching voting power.
func (n *Node) Deposit(gardenAddr, from common.Address, amount *big.Int) error {
	g, err := n.lookup(gardenAddr)
	if err != nil {
		return err
	}
	return n.Host.Atomic(func() error { return g.Deposit(from, amount) })
}

// Withdraw returns unlocked contributed capital to the contributor.
func (n *Node) Withdraw(gardenAddr, to common.Address, amount *big.Int) error {
	g, err := n.lookup(gardenAddr)
	if err != nil {
		return err
	}
	return n.Host.Atomic(func() error { return g.Withdraw(to, amount) })
}

// ClaimRewards pays out every settled reward owed to account.
func (n *Node) ClaimRewards(gardenAddr, account common.Address) (*big.Int, error) {
	g, err := n.lookup(gardenAddr)
	if err != nil {
		return nil, err
	}
	var claimed *big.Int
	err = n.Host.Atomic(func() error {
		amount, err := g.ClaimRewards(account)
		claimed = amount
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Mint credits amount of token to the recipient. Used to fund devnet
// accounts and integration inventories.
func (n *Node) Mint(token, to common.Address, amount *big.Int) error {
	return n.Host.Atomic(func() error { return n.Book.Mint(token, to, amount) })
}

// Close releases the underlying database.
func (n *Node) Close() {
	if n.DB != nil {
		n.DB.Close()
	}
}

type meteredEmitter struct{}

func (meteredEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
}
