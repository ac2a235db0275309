package operations

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
	"gardenchain/native/controller"
	"gardenchain/native/integrations"
	"gardenchain/native/oracle"
	"gardenchain/state/bank"
)

var (
	dai      = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	strategy = common.HexToAddress("0x0000000000000000000000000000000000005701")
)

func units(n int64) *big.Int { return precise.FromUnits(n) }

type recordedTrade struct {
	from, to             common.Address
	fromAmount, toAmount *big.Int
}

type tradeLog struct{ trades []recordedTrade }

func (l *tradeLog) ReconcileTrade(from common.Address, fromAmount *big.Int, to common.Address, toAmount *big.Int) {
	l.trades = append(l.trades, recordedTrade{from: from, to: to, fromAmount: fromAmount, toAmount: toAmount})
}

type fixture struct {
	env    *Env
	book   *bank.Book
	router *integrations.TradeRouter
	market *integrations.LendingMarket
	pools  *integrations.PoolManager
	pool   integrations.Pool
	vaults *integrations.VaultManager
	vault  integrations.Vault
	agg    *oracle.Aggregator
	log    *tradeLog
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{book: bank.NewBook(), log: &tradeLog{}, now: time.Unix(1_700_000_000, 0).UTC()}
	feed := oracle.NewManualFeed()
	feed.Set(dai, units(1), f.now)
	feed.Set(weth, units(2000), f.now)
	f.agg = oracle.NewAggregator([]string{"manual"}, time.Hour)
	f.agg.SetNowFunc(func() time.Time { return f.now })
	f.agg.Register("manual", feed)

	f.router = integrations.NewTradeRouter(common.HexToAddress("0x7e"), f.book, f.agg, 30)
	f.market = integrations.NewLendingMarket(common.HexToAddress("0x1e"), f.book)
	f.market.SetNowFunc(func() time.Time { return f.now })
	f.market.ListMarket(dai, big.NewRat(0, 1))
	f.market.ListMarket(weth, big.NewRat(0, 1))
	f.pools = integrations.NewPoolManager(common.HexToAddress("0x9e"), f.book)
	pool, err := f.pools.CreatePool(dai, weth)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	f.pool = pool
	f.vaults = integrations.NewVaultManager(common.HexToAddress("0xae"), f.book)
	f.vault = f.vaults.CreateVault(weth)

	mustMint(t, f.book, dai, f.router.Address(), units(1_000_000))
	mustMint(t, f.book, weth, f.router.Address(), units(1_000))
	seeder := common.HexToAddress("0x5eed")
	mustMint(t, f.book, dai, seeder, units(20_000))
	mustMint(t, f.book, weth, seeder, units(10))
	if _, err := f.pools.Join(seeder, pool.ID, [2]*big.Int{units(20_000), units(10)}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	mustMint(t, f.book, dai, strategy, units(10_000))

	dir := NewDirectory()
	dir.RegisterTrade(f.router)
	dir.RegisterLend(f.market)
	dir.RegisterPool(f.pools)
	dir.RegisterPassive(f.vaults)

	snap := controller.DefaultSnapshot()
	snap.DefaultTrade = f.router.Address()
	snap.Integrations[controller.KindTrade] = map[common.Address]struct{}{f.router.Address(): {}}
	snap.Integrations[controller.KindLend] = map[common.Address]struct{}{f.market.Address(): {}}
	snap.Integrations[controller.KindPool] = map[common.Address]struct{}{f.pools.Address(): {}}
	snap.Integrations[controller.KindPassiveInvestment] = map[common.Address]struct{}{f.vaults.Address(): {}}

	f.env = &Env{
		Strategy:  strategy,
		Reserve:   dai,
		Active:    true,
		Book:      f.book,
		Oracle:    f.agg,
		Directory: dir,
		Snapshot:  snap,
		Ledger:    f.log,
	}
	return f
}

func mustMint(t *testing.T, book *bank.Book, token, to common.Address, amount *big.Int) {
	t.Helper()
	if err := book.Mint(token, to, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func liquid(asset common.Address, amount *big.Int) Position {
	return Position{Asset: asset, Amount: amount, Status: StatusLiquid}
}

func TestParamsRoundTrip(t *testing.T) {
	data := MustEncodeParams(weth, 125)
	p, err := DecodeParams(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Target != weth || p.SlippageBps != 125 {
		t.Fatalf("unexpected params %+v", p)
	}
	if _, err := DecodeParams([]byte{0x01, 0x02}); !errors.Is(err, strategyerrors.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for malformed data, got %v", err)
	}
	if _, err := DecodeParams(MustEncodeParams(common.Address{}, 0)); !errors.Is(err, strategyerrors.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for zero target, got %v", err)
	}
}

func TestLendRoundTripWithinTolerance(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	steps := []Step{{Kind: controller.KindLend, Integration: f.market.Address(), Data: MustEncodeParams(dai, 0)}}
	capital := units(100)

	legs, err := exec.ExecutePlan(f.env, steps, liquid(dai, capital))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(legs) != 1 || legs[0].Status != StatusCollateral {
		t.Fatalf("unexpected legs %+v", legs)
	}
	recovered, err := exec.ExitPlan(f.env, steps, precise.Unit())
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	floor := precise.Mul(capital, precise.FromBps(9_950))
	if recovered.Cmp(floor) < 0 || recovered.Cmp(capital) > 0 {
		t.Fatalf("round trip returned %s, want within 0.5%% of %s", recovered, capital)
	}
}

func TestTradeThenLendChainsCapital(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	steps := []Step{
		{Kind: controller.KindTrade, Integration: f.router.Address(), Data: MustEncodeParams(weth, 0)},
		{Kind: controller.KindLend, Integration: f.market.Address(), Data: MustEncodeParams(weth, 0)},
	}
	if err := exec.ValidatePlan(f.env, steps); err != nil {
		t.Fatalf("validate: %v", err)
	}
	legs, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(2_000)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if legs[0].Asset != weth || legs[0].Status != StatusLiquid {
		t.Fatalf("trade leg should hold liquid weth: %+v", legs[0])
	}
	if len(f.log.trades) != 1 || f.log.trades[0].to != weth {
		t.Fatalf("expected one reconciled trade, got %+v", f.log.trades)
	}
	nav, err := exec.NAV(f.env, steps)
	if err != nil {
		t.Fatalf("nav: %v", err)
	}
	// 2000 DAI less the 30 bps router fee, now lent as weth.
	if nav.Cmp(units(1_994)) != 0 {
		t.Fatalf("unexpected nav %s", nav)
	}
}

func TestTradeSlippageExceededLeavesBalances(t *testing.T) {
	f := newFixture(t)
	f.router.SetSkew(weth, 500)
	exec := NewExecutor()
	steps := []Step{{Kind: controller.KindTrade, Integration: f.router.Address(), Data: MustEncodeParams(weth, 0)}}
	before := f.book.BalanceOf(dai, strategy)
	_, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(1_000)))
	if !errors.Is(err, strategyerrors.ErrSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if f.book.BalanceOf(dai, strategy).Cmp(before) != 0 {
		t.Fatalf("failed trade must not move funds")
	}
	// An explicit wider tolerance accepts the same route.
	steps[0].Data = MustEncodeParams(weth, 800)
	if _, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(1_000))); err != nil {
		t.Fatalf("execute with wider tolerance: %v", err)
	}
}

func TestPoolExecuteNAVAndExit(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	steps := []Step{{Kind: controller.KindPool, Integration: f.pools.Address(), Data: MustEncodeParams(f.pool.ID, 0)}}
	legs, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(1_000)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if legs[0].Asset != f.pool.LPToken || legs[0].Status != StatusInvested {
		t.Fatalf("unexpected pool leg %+v", legs[0])
	}
	nav, err := exec.NAV(f.env, steps)
	if err != nil {
		t.Fatalf("nav: %v", err)
	}
	if nav.Cmp(units(990)) < 0 || nav.Cmp(units(1_000)) > 0 {
		t.Fatalf("pool nav %s outside expected band", nav)
	}
	recovered, err := exec.ExitPlan(f.env, steps, precise.Unit())
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if recovered.Cmp(units(990)) < 0 {
		t.Fatalf("pool exit recovered only %s", recovered)
	}
	if f.book.BalanceOf(f.pool.LPToken, strategy).Sign() != 0 {
		t.Fatalf("lp tokens should be fully redeemed")
	}
}

func TestPassiveNAVTracksHarvest(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	steps := []Step{{Kind: controller.KindPassiveInvestment, Integration: f.vaults.Address(), Data: MustEncodeParams(f.vault.ID, 0)}}
	if _, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(2_000))); err != nil {
		t.Fatalf("execute: %v", err)
	}
	before, err := exec.NAV(f.env, steps)
	if err != nil {
		t.Fatalf("nav: %v", err)
	}
	if err := f.vaults.Harvest(f.vault.ID, precise.FromBps(1_000)); err != nil {
		t.Fatalf("harvest: %v", err)
	}
	after, err := exec.NAV(f.env, steps)
	if err != nil {
		t.Fatalf("nav: %v", err)
	}
	if after.Cmp(before) <= 0 {
		t.Fatalf("nav should rise after harvest: %s -> %s", before, after)
	}
}

func TestLendNAVZeroWhenInactive(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	steps := []Step{{Kind: controller.KindLend, Integration: f.market.Address(), Data: MustEncodeParams(dai, 0)}}
	if _, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(10))); err != nil {
		t.Fatalf("execute: %v", err)
	}
	f.env.Active = false
	nav, err := exec.NAV(f.env, steps)
	if err != nil {
		t.Fatalf("nav: %v", err)
	}
	if nav.Sign() != 0 {
		t.Fatalf("inactive lend nav should be zero, got %s", nav)
	}
}

func TestTradeNAVFailsOnStalePrice(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	steps := []Step{{Kind: controller.KindTrade, Integration: f.router.Address(), Data: MustEncodeParams(weth, 0)}}
	if _, err := exec.ExecutePlan(f.env, steps, liquid(dai, units(10))); err != nil {
		t.Fatalf("execute: %v", err)
	}
	f.now = f.now.Add(2 * time.Hour)
	if _, err := exec.NAV(f.env, steps); !errors.Is(err, strategyerrors.ErrNavComputationFailed) {
		t.Fatalf("expected nav failure on stale price, got %v", err)
	}
}

func TestValidatePlan(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor()
	cases := []struct {
		name  string
		steps []Step
		want  error
	}{
		{"empty", nil, strategyerrors.ErrInvalidOperation},
		{"not whitelisted", []Step{{Kind: controller.KindLend, Integration: f.router.Address(), Data: MustEncodeParams(dai, 0)}}, strategyerrors.ErrIntegrationNotAllowed},
		{"bad data", []Step{{Kind: controller.KindLend, Integration: f.market.Address(), Data: []byte{1}}}, strategyerrors.ErrInvalidOperation},
		{"unlisted asset", []Step{{Kind: controller.KindLend, Integration: f.market.Address(), Data: MustEncodeParams(common.HexToAddress("0xbad"), 0)}}, strategyerrors.ErrInvalidOperation},
		{"chained after lend", []Step{
			{Kind: controller.KindLend, Integration: f.market.Address(), Data: MustEncodeParams(dai, 0)},
			{Kind: controller.KindTrade, Integration: f.router.Address(), Data: MustEncodeParams(weth, 0)},
		}, strategyerrors.ErrInvalidOperation},
		{"trade to reserve", []Step{{Kind: controller.KindTrade, Integration: f.router.Address(), Data: MustEncodeParams(dai, 0)}}, strategyerrors.ErrInvalidOperation},
	}
	for _, tc := range cases {
		if err := exec.ValidatePlan(f.env, tc.steps); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestSweepConvertsResiduals(t *testing.T) {
	f := newFixture(t)
	mustMint(t, f.book, weth, strategy, units(1))
	before := f.book.BalanceOf(dai, strategy)
	if err := NewExecutor().Sweep(f.env); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if f.book.BalanceOf(weth, strategy).Sign() != 0 {
		t.Fatalf("weth should be swept")
	}
	gained := new(big.Int).Sub(f.book.BalanceOf(dai, strategy), before)
	if gained.Cmp(units(1_994)) != 0 {
		t.Fatalf("unexpected sweep proceeds %s", gained)
	}
}

func TestSweepFailsOnUnconvertibleResiduals(t *testing.T) {
	unpriced := common.HexToAddress("0xbad")
	cases := []struct {
		name  string
		setup func(f *fixture)
		want  error
	}{
		{"slippage", func(f *fixture) {
			mustMint(t, f.book, weth, strategy, units(1))
			f.env.Snapshot.SlippageBps[controller.KindTrade] = 10
		}, strategyerrors.ErrSlippageExceeded},
		{"no default route", func(f *fixture) {
			mustMint(t, f.book, weth, strategy, units(1))
			f.env.Snapshot.DefaultTrade = common.HexToAddress("0xdead")
		}, strategyerrors.ErrInvalidOperation},
		{"no oracle", func(f *fixture) {
			mustMint(t, f.book, weth, strategy, units(1))
			f.env.Oracle = nil
		}, strategyerrors.ErrNavComputationFailed},
		{"unpriced token", func(f *fixture) {
			mustMint(t, f.book, unpriced, strategy, units(1))
		}, strategyerrors.ErrNavComputationFailed},
	}
	for _, tc := range cases {
		f := newFixture(t)
		tc.setup(f)
		before := f.book.BalanceOf(dai, strategy)
		err := NewExecutor().Sweep(f.env)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if f.book.BalanceOf(dai, strategy).Cmp(before) != 0 {
			t.Fatalf("%s: failed sweep moved reserve", tc.name)
		}
	}
}
