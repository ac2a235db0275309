package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/precise"
)

var (
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

type feedFunc func(asset common.Address) (Quote, error)

func (f feedFunc) Quote(asset common.Address) (Quote, error) { return f(asset) }

func TestManualFeedCrossRate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	manual := NewManualFeed()
	if err := manual.SetDecimal(usdc, "1", now); err != nil {
		t.Fatalf("set usdc: %v", err)
	}
	if err := manual.SetDecimal(weth, "2000", now); err != nil {
		t.Fatalf("set weth: %v", err)
	}
	agg := NewAggregator([]string{"manual"}, time.Minute)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("manual", manual)

	price, err := agg.GetPrice(weth, usdc)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(precise.FromUnits(2000)) != 0 {
		t.Fatalf("unexpected weth/usdc price %s", price)
	}
	inverse, err := agg.GetPrice(usdc, weth)
	if err != nil {
		t.Fatalf("get inverse: %v", err)
	}
	want := new(big.Int).Quo(precise.Unit(), big.NewInt(2000))
	if inverse.Cmp(want) != 0 {
		t.Fatalf("unexpected usdc/weth price %s want %s", inverse, want)
	}
	same, err := agg.GetPrice(weth, weth)
	if err != nil || same.Cmp(precise.Unit()) != 0 {
		t.Fatalf("identity pair should price at one: %v %v", same, err)
	}
}

func TestAggregatorStaleQuote(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	manual := NewManualFeed()
	manual.Set(weth, precise.FromUnits(1), now.Add(-2*time.Minute))
	agg := NewAggregator([]string{"manual"}, time.Minute)
	agg.SetNowFunc(func() time.Time { return now })
	agg.Register("manual", manual)
	if _, err := agg.Quote(weth); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestAggregatorPriorityFallback(t *testing.T) {
	now := time.Now().UTC()
	manual := NewManualFeed()
	manual.Set(weth, precise.FromUnits(3), now)
	agg := NewAggregator([]string{"primary", "manual"}, 5*time.Minute)
	agg.Register("primary", feedFunc(func(common.Address) (Quote, error) {
		return Quote{}, fmt.Errorf("primary down")
	}))
	agg.Register("manual", manual)
	quote, err := agg.Quote(weth)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Source != "manual" {
		t.Fatalf("expected manual source, got %s", quote.Source)
	}
}

func TestParseDecimal(t *testing.T) {
	got, err := ParseDecimal("0.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Cmp(new(big.Int).Quo(precise.Unit(), big.NewInt(2))) != 0 {
		t.Fatalf("unexpected value %s", got)
	}
	if _, err := ParseDecimal("-1"); err == nil {
		t.Fatalf("expected error for negative price")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatalf("expected error for malformed price")
	}
}

func TestCoinGeckoFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "weth" {
			t.Errorf("expected ids=weth, got %s", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("expected vs_currencies=usd, got %s", got)
		}
		_, _ = w.Write([]byte(`{"weth":{"usd":2500.25,"last_updated_at":1700000000}}`))
	}))
	defer server.Close()

	feed := NewCoinGeckoFeed(server.Client(), server.URL, map[common.Address]string{weth: "weth"})
	quote, err := feed.Quote(weth)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	want, _ := ParseDecimal("2500.25")
	if quote.Price.Cmp(want) != 0 {
		t.Fatalf("unexpected price %s", quote.Price)
	}
	if quote.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %v", quote.Timestamp)
	}
	if _, err := feed.Quote(usdc); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}
