package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultJupiterEndpoint is the Jupiter price API base URL.
const DefaultJupiterEndpoint = "https://api.jup.ag/price/v2"

// JupiterClient fetches spot prices from the Jupiter price API. Jupiter
// is price-only; it has no historical candle endpoint.
type JupiterClient struct {
	endpoint string
	client   *http.Client
}

// NewJupiterClient creates a Jupiter price source.
func NewJupiterClient(opts ...func(*JupiterClient)) *JupiterClient {
	c := &JupiterClient{
		endpoint: DefaultJupiterEndpoint,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithJupiterEndpoint overrides the API endpoint.
func WithJupiterEndpoint(endpoint string) func(*JupiterClient) {
	return func(c *JupiterClient) {
		c.endpoint = endpoint
	}
}

// WithJupiterHTTPClient sets a custom http.Client.
func WithJupiterHTTPClient(client *http.Client) func(*JupiterClient) {
	return func(c *JupiterClient) {
		c.client = client
	}
}

// Name implements PriceSource.
func (c *JupiterClient) Name() string { return "jupiter" }

type jupiterResponse struct {
	Data map[string]*struct {
		Price json.Number `json:"price"`
	} `json:"data"`
}

// FetchPrice implements PriceSource.
func (c *JupiterClient) FetchPrice(ctx context.Context, mint string) (float64, error) {
	reqURL := c.endpoint + "?ids=" + url.QueryEscape(mint+","+wrappedSOLMint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
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
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp jupiterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}

	entry, ok := resp.Data[mint]
	if !ok || entry == nil {
		return 0, ErrUnavailable
	}
	price, err := entry.Price.Float64()
	if err != nil || price <= 0 {
		return 0, ErrUnavailable
	}
	return price, nil
}

// parseNumeric parses a provider numeric string, returning 0 on failure.
// Aggregation APIs frequently encode numbers as strings.
func parseNumeric(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
