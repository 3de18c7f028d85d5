package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultDexScreenerEndpoint is the DexScreener token API base URL.
const DefaultDexScreenerEndpoint = "https://api.dexscreener.com/tokens/v1/solana"

// DexScreenerClient fetches spot prices from the DexScreener token API.
// It serves as a fallback when Jupiter does not know a token.
type DexScreenerClient struct {
	endpoint string
	client   *http.Client
}

// NewDexScreenerClient creates a DexScreener price source.
func NewDexScreenerClient(opts ...func(*DexScreenerClient)) *DexScreenerClient {
	c := &DexScreenerClient{
		endpoint: DefaultDexScreenerEndpoint,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithDexScreenerEndpoint overrides the API endpoint.
func WithDexScreenerEndpoint(endpoint string) func(*DexScreenerClient) {
	return func(c *DexScreenerClient) {
		c.endpoint = endpoint
	}
}

// WithDexScreenerHTTPClient sets a custom http.Client.
func WithDexScreenerHTTPClient(client *http.Client) func(*DexScreenerClient) {
	return func(c *DexScreenerClient) {
		c.client = client
	}
}

// Name implements PriceSource.
func (c *DexScreenerClient) Name() string { return "dexscreener" }

type dexScreenerPair struct {
	PriceUSD    string `json:"priceUsd"`
	PriceNative string `json:"priceNative"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// FetchPrice implements PriceSource. The API returns one entry per
// trading pair; the pair with the deepest liquidity wins.
func (c *DexScreenerClient) FetchPrice(ctx context.Context, mint string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+mint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode == http.StatusNotFound {
		return 0, ErrUnavailable
	}
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var pairs []dexScreenerPair
	if err := json.Unmarshal(respBody, &pairs); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(pairs) == 0 {
		return 0, ErrUnavailable
	}

	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	price := parseNumeric(best.PriceUSD)
	if price <= 0 {
		return 0, ErrUnavailable
	}
	return price, nil
}
