package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/precise"
	"gardenchain/native/controller"
	"gardenchain/native/oracle"
)

const sampleConfig = `NetworkName = "garden-test"
DataDir = "./data"
Treasury = "0x000000000000000000000000000000000000f33d"
Keepers = ["0x000000000000000000000000000000000000ee77"]

[bounds]
MinDurationHours = 48
MaxDurationHours = 2160
MinStake = "0.5"
VotingWindowHours = 72
CooldownHours = 12
CandidatePeriodHours = 96
MinVoters = 3
MinVotesQuorumBps = 1500
MaxGasFeeBps = 250
StrategistProfitBps = 1000
VotersProfitBps = 500
ProtocolProfitBps = 500
DissenterSlashBps = 5000
UnwindBufferBps = 300

[slippage]
Lend = 40
Trade = 200
Pool = 400
Passive = 80

[oracle]
Priority = ["CoinGecko", "manual"]
MaxAgeSeconds = 600

[[assets]]
Symbol = "DAI"
Address = "0x00000000000000000000000000000000000000d1"
Price = "1"

[[assets]]
Symbol = "WETH"
Address = "0x00000000000000000000000000000000000000e1"
Price = "2000.5"
CoinGeckoID = "weth"

[[gardens]]
Name = "stable"
Address = "0x0000000000000000000000000000000000009a7d"
Reserve = "dai"

[[integrations]]
Name = "router"
Kind = "trade"
Address = "0x000000000000000000000000000000000000007e"
Default = true

[[integrations]]
Name = "market"
Kind = "lend"
Address = "0x000000000000000000000000000000000000001e"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "garden.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesProtocolSettings(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NetworkName != "garden-test" || len(cfg.Assets) != 2 || len(cfg.Gardens) != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if got := cfg.Oracle.Priority; len(got) != 2 || got[0] != "coingecko" {
		t.Fatalf("oracle priority not normalised: %v", got)
	}

	snap, err := cfg.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.MinDuration != 48*time.Hour || snap.Cooldown != 12*time.Hour || snap.MinVoters != 3 {
		t.Fatalf("bounds not applied: %+v", snap)
	}
	if snap.MinStake.Cmp(precise.FromBps(5_000)) != 0 {
		t.Fatalf("min stake = %s", snap.MinStake)
	}
	if snap.MaxGasFeePercentage.Cmp(precise.FromBps(250)) != 0 {
		t.Fatalf("max gas fee = %s", snap.MaxGasFeePercentage)
	}
	router := common.HexToAddress("0x7e")
	if !snap.IsValidIntegration(controller.KindTrade, router) || snap.DefaultTrade != router {
		t.Fatalf("router not whitelisted as default trade")
	}
	if !snap.IsValidIntegration(controller.KindLend, common.HexToAddress("0x1e")) {
		t.Fatalf("lending market not whitelisted")
	}
	if !snap.IsValidKeeper(common.HexToAddress("0xee77")) {
		t.Fatalf("keeper not whitelisted")
	}
	if snap.SlippageBps[controller.KindTrade] != 200 {
		t.Fatalf("trade slippage = %d", snap.SlippageBps[controller.KindTrade])
	}

	dai, err := cfg.AssetAddress("dai")
	if err != nil || dai != common.HexToAddress("0xd1") {
		t.Fatalf("asset lookup = %s, %v", dai.Hex(), err)
	}
	if ids := cfg.CoinGeckoIDs(); ids[common.HexToAddress("0xe1")] != "weth" || len(ids) != 1 {
		t.Fatalf("coingecko ids = %v", ids)
	}
	if cfg.MaxPriceAge() != 10*time.Minute {
		t.Fatalf("max price age = %s", cfg.MaxPriceAge())
	}
}

func TestSeedPrices(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	feed := oracle.NewManualFeed()
	now := time.Unix(1_700_000_000, 0)
	if err := cfg.SeedPrices(feed, now); err != nil {
		t.Fatalf("seed: %v", err)
	}
	quote, err := feed.Quote(common.HexToAddress("0xe1"))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want, _ := oracle.ParseDecimal("2000.5")
	if quote.Price.Cmp(want) != 0 || !quote.Timestamp.Equal(now) {
		t.Fatalf("quote = %s at %s", quote.Price, quote.Timestamp)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "garden.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	snap, err := cfg.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	def := controller.DefaultSnapshot()
	if snap.MinDuration != def.MinDuration || snap.UnwindBuffer.Cmp(def.UnwindBuffer) != 0 {
		t.Fatalf("defaults drifted from the controller defaults")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Bounds != cfg.Bounds {
		t.Fatalf("round trip changed bounds: %+v", reloaded.Bounds)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		replace [2]string
		want    string
	}{
		{"unknown key", [2]string{`NetworkName = "garden-test"`, `NetworkName = "garden-test"` + "\nBogus = 1"}, "unknown key"},
		{"bad keeper", [2]string{`Keepers = ["0x000000000000000000000000000000000000ee77"]`, `Keepers = ["nope"]`}, "keepers"},
		{"durations", [2]string{"MinDurationHours = 48", "MinDurationHours = 5000"}, "MinDurationHours"},
		{"profit shares", [2]string{"VotersProfitBps = 500", "VotersProfitBps = 9000"}, "profit shares"},
		{"negative stake", [2]string{`MinStake = "0.5"`, `MinStake = "-1"`}, "MinStake"},
		{"unknown reserve", [2]string{`Reserve = "dai"`, `Reserve = "usdc"`}, "reserve"},
		{"unknown kind", [2]string{`Kind = "lend"`, `Kind = "borrow"`}, "unknown operation kind"},
		{"default lend", [2]string{"Kind = \"lend\"\nAddress", "Kind = \"lend\"\nDefault = true\nAddress"}, "only trade"},
		{"bad price", [2]string{`Price = "1"`, `Price = "zero"`}, "DAI"},
		{"pool asset", [2]string{`Name = "market"`, "Name = \"market\"\nPools = [[\"DAI\", \"USDC\"]]"}, "pool asset"},
		{"unknown feed", [2]string{`Priority = ["CoinGecko", "manual"]`, `Priority = ["chainlink"]`}, "unknown feed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			contents := strings.Replace(sampleConfig, tc.replace[0], tc.replace[1], 1)
			if contents == sampleConfig {
				t.Fatalf("replacement %q not applied", tc.replace[0])
			}
			_, err := Load(writeConfig(t, contents))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
