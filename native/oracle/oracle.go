// Package oracle prices strategy holdings. Every feed reports asset prices in
// a shared numeraire (USD, 18 decimals) and the aggregator derives cross rates
// between any two assets from them.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/precise"
)

var (
	// ErrNoFreshQuote indicates no registered feed returned a quote inside the
	// freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrUnknownAsset is returned by feeds that do not track the asset.
	ErrUnknownAsset = errors.New("oracle: unknown asset")
)

// Quote is a numeraire price for one whole unit of an asset.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	return Quote{Price: precise.Copy(q.Price), Timestamp: q.Timestamp, Source: q.Source}
}

// Feed reports the numeraire price of an asset.
type Feed interface {
	Quote(asset common.Address) (Quote, error)
}

// PriceOracle resolves the exchange rate between two assets: the number of
// quote units one base unit is worth, scaled by 1e18.
type PriceOracle interface {
	GetPrice(base, quote common.Address) (*big.Int, error)
}

// Aggregator consults registered feeds in priority order until a fresh quote
// is obtained for each side of the pair.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority order and
// freshness window. A zero maxAge disables staleness checks.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := normaliseName(name); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for freshness checks.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// SetMaxAge updates the freshness window.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a feed. Feeds not named in the priority list are
// appended at the lowest priority.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil || feed == nil {
		return
	}
	trimmed := normaliseName(name)
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// Quote returns the freshest acceptable numeraire quote for asset.
func (a *Aggregator) Quote(asset common.Address) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	feeds := make([]Feed, 0, len(priority))
	for _, name := range priority {
		feeds = append(feeds, a.feeds[name])
	}
	maxAge := a.maxAge
	now := a.nowFn()
	a.mu.RUnlock()

	var lastErr error
	for i, feed := range feeds {
		if feed == nil {
			continue
		}
		quote, err := feed.Quote(asset)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle %s returned invalid price", priority[i])
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(now.Add(-maxAge)) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = priority[i]
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

// GetPrice returns how many quote units one base unit is worth (1e18 scaled).
// Identical assets always price at exactly one.
func (a *Aggregator) GetPrice(base, quote common.Address) (*big.Int, error) {
	if base == quote {
		return precise.Unit(), nil
	}
	baseQuote, err := a.Quote(base)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", base.Hex(), err)
	}
	quoteQuote, err := a.Quote(quote)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", quote.Hex(), err)
	}
	return precise.Div(baseQuote.Price, quoteQuote.Price), nil
}

// ManualFeed is an in-memory feed used for tests, configuration-seeded prices
// and manual overrides during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[common.Address]Quote
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[common.Address]Quote)}
}

// Set stores the 1e18-scaled numeraire price for asset.
func (m *ManualFeed) Set(asset common.Address, price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	m.mu.Lock()
	m.quotes[asset] = Quote{Price: new(big.Int).Set(price), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal parses a decimal price such as "1.05" and stores it.
func (m *ManualFeed) SetDecimal(asset common.Address, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	scaled, err := ParseDecimal(price)
	if err != nil {
		return fmt.Errorf("manual feed: %w", err)
	}
	m.Set(asset, scaled, ts)
	return nil
}

// Quote satisfies Feed.
func (m *ManualFeed) Quote(asset common.Address) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[asset]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("manual feed: %w: %s", ErrUnknownAsset, asset.Hex())
	}
	return stored.Clone(), nil
}

// ParseDecimal converts a positive decimal string into a 1e18-scaled integer,
// rounding down past the eighteenth decimal.
func ParseDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(precise.Unit()))
	out := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if out.Sign() == 0 {
		return nil, fmt.Errorf("price %q below precision", value)
	}
	return out, nil
}

func normaliseName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
