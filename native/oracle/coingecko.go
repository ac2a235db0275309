package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoFeed adapts the public CoinGecko simple price API. Assets are
// mapped to CoinGecko identifiers and priced in USD.
type CoinGeckoFeed struct {
	client   HTTPDoer
	endpoint string
	ids      map[common.Address]string
}

// NewCoinGeckoFeed constructs a feed for the supplied asset mapping.
func NewCoinGeckoFeed(client HTTPDoer, endpoint string, ids map[common.Address]string) *CoinGeckoFeed {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[common.Address]string, len(ids))
	for asset, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			mapped[asset] = trimmed
		}
	}
	return &CoinGeckoFeed{client: client, endpoint: ep, ids: mapped}
}

// Quote satisfies Feed.
func (f *CoinGeckoFeed) Quote(asset common.Address) (Quote, error) {
	if f == nil {
		return Quote{}, fmt.Errorf("coingecko feed not configured")
	}
	id, ok := f.ids[asset]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko feed: %w: %s", ErrUnknownAsset, asset.Hex())
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko feed: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko feed: quote missing for %s", id)
	}
	price, err := ParseDecimal(entry["usd"].String())
	if err != nil {
		return Quote{}, fmt.Errorf("coingecko feed: %w", err)
	}
	ts := time.Now().UTC()
	if raw, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(raw.String(), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0).UTC()
		}
	}
	return Quote{Price: price, Timestamp: ts, Source: "coingecko"}, nil
}
