package node

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"gardenchain/config"
	"gardenchain/core/events"
	"gardenchain/core/precise"
	"gardenchain/native/controller"
	"gardenchain/native/operations"
	"gardenchain/native/strategy"
	"gardenchain/storage"
)

var (
	dai        = common.HexToAddress("0xd1")
	weth       = common.HexToAddress("0xe1")
	gardenAddr = common.HexToAddress("0x9a7d")
	routerAddr = common.HexToAddress("0x7e")
	marketAddr = common.HexToAddress("0x1e")
	keeper     = common.HexToAddress("0xee77")
	strategist = common.HexToAddress("0xb0b")
	alice      = common.HexToAddress("0xa1")
)

func testProtocol() *config.Config {
	cfg := config.Default()
	cfg.Treasury = "0x000000000000000000000000000000000000f33d"
	cfg.Keepers = []string{keeper.Hex()}
	cfg.Assets = []config.Asset{
		{Symbol: "DAI", Address: dai.Hex(), Price: "1"},
		{Symbol: "WETH", Address: weth.Hex(), Price: "2000"},
	}
	cfg.Gardens = []config.Garden{{Name: "stable", Address: gardenAddr.Hex(), Reserve: "DAI"}}
	cfg.Integrations = []config.Integration{
		{Name: "router", Kind: "trade", Address: routerAddr.Hex(), Default: true},
		{Name: "market", Kind: "lend", Address: marketAddr.Hex(), AprBps: 500},
	}
	return cfg
}

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	now := time.Unix(1_700_000_000, 0).UTC()
	n, err := New(testProtocol(), Options{DB: db, Now: func() time.Time { return now }})
	require.NoError(t, err)
	return n
}

func TestNewWiresGardensAndIntegrations(t *testing.T) {
	n := newTestNode(t, nil)

	g, ok := n.Garden(gardenAddr)
	require.True(t, ok)
	require.Equal(t, dai, g.ReserveAsset())
	require.Len(t, n.Gardens(), 1)

	snap := n.Registry.Snapshot()
	require.True(t, snap.IsValidKeeper(keeper))
	require.True(t, snap.IsValidIntegration(controller.KindLend, marketAddr))
	require.Equal(t, routerAddr, snap.DefaultTrade)

	price, err := n.Oracle.GetPrice(weth, dai)
	require.NoError(t, err)
	require.Equal(t, precise.FromUnits(2_000), price)
}

func TestGardenFlowsAreJournaled(t *testing.T) {
	n := newTestNode(t, nil)
	require.NoError(t, n.Mint(dai, alice, precise.FromUnits(10)))
	require.NoError(t, n.Deposit(gardenAddr, alice, precise.FromUnits(4)))

	g, _ := n.Garden(gardenAddr)
	require.Equal(t, precise.FromUnits(4), g.VotingPower(alice))
	require.Equal(t, precise.FromUnits(6), n.Book.BalanceOf(dai, alice))

	height := n.Host.Height()
	err := n.Withdraw(gardenAddr, alice, precise.FromUnits(5))
	require.Error(t, err)
	require.Equal(t, height, n.Host.Height())
	require.Equal(t, precise.FromUnits(4), g.VotingPower(alice))

	require.NoError(t, n.Withdraw(gardenAddr, alice, precise.FromUnits(1)))
	require.Equal(t, precise.FromUnits(3), g.VotingPower(alice))

	_, err = n.ClaimRewards(common.HexToAddress("0xdead"), alice)
	require.ErrorContains(t, err, "unknown garden")
}

func TestPausedGardenRejectsDeposits(t *testing.T) {
	cfg := testProtocol()
	cfg.Pauses.Garden = true
	n, err := New(cfg, Options{})
	require.NoError(t, err)
	require.NoError(t, n.Mint(dai, alice, big.NewInt(1)))
	require.ErrorContains(t, n.Deposit(gardenAddr, alice, big.NewInt(1)), "paused")
}

func TestStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	n := newTestNode(t, db)
	sub, cancel := n.Bus.Subscribe()
	defer cancel()

	require.NoError(t, n.Mint(dai, alice, precise.FromUnits(20)))
	require.NoError(t, n.Mint(dai, strategist, precise.FromUnits(1)))
	require.NoError(t, n.Deposit(gardenAddr, alice, precise.FromUnits(20)))

	plan := []operations.Step{{Kind: controller.KindLend, Integration: marketAddr, Data: operations.MustEncodeParams(dai, 0)}}
	s, err := n.Engine.Propose(strategist, gardenAddr, strategy.Params{
		Stake:                   precise.FromUnits(1),
		MaxCapitalRequested:     precise.FromUnits(5),
		ExpectedReturn:          precise.FromUnits(1),
		Duration:                30 * 24 * time.Hour,
		MaxAllocationPercentage: precise.Unit(),
	}, plan)
	require.NoError(t, err)

	var proposed events.Event
	for proposed == nil {
		evt := <-sub
		if evt.EventType() == events.TypeStrategyProposed {
			proposed = evt
		}
	}

	restarted := newTestNode(t, db)
	restored, err := restarted.Engine.GetStrategyDetails(s.Address)
	require.NoError(t, err)
	require.Equal(t, strategist, restored.Strategist)
	require.Equal(t, strategy.StateProposed, restored.State())

	g, ok := restarted.Garden(gardenAddr)
	require.True(t, ok)
	require.Equal(t, precise.FromUnits(20), g.VotingPower(alice))
	require.True(t, g.IsCandidate(s.Address))
	require.Equal(t, precise.FromUnits(1), g.Stake(s.Address))
	require.Equal(t, n.Book.BalanceOf(dai, gardenAddr), restarted.Book.BalanceOf(dai, gardenAddr))
}
