package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"solana-wallet-lab/internal/domain"
)

// DefaultBitqueryEndpoint is the Bitquery early-access Solana endpoint.
const DefaultBitqueryEndpoint = "https://streaming.bitquery.io/eap"

// wrappedSOLMint is the quote currency used for all candle queries.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

// candleQuery aggregates DEX trades into 1-minute OHLCV buckets. Trades
// with price asymmetry above 10% are excluded as outliers.
const candleQuery = `{
  Solana(dataset: archive) {
    DEXTradeByTokens(
      orderBy: {ascendingByField: "Block_Time"}
      where: {
        Trade: {
          Currency: {MintAddress: {is: "%s"}}
          Side: {Currency: {MintAddress: {is: "%s"}}}
          PriceAsymmetry: {lt: 0.1}
        }
        Block: {Time: {since: "%s", till: "%s"}}
      }
    ) {
      Block {
        Time(interval: {in: minutes, count: 1})
      }
      volume: sum(of: Trade_Amount)
      Trade {
        high: Price(maximum: Trade_Price)
        low: Price(minimum: Trade_Price)
        open: Price(minimum: Block_Slot)
        close: Price(maximum: Block_Slot)
      }
      count
    }
  }
}`

// BitqueryClient fetches 1-minute OHLCV candles from the Bitquery
// GraphQL API. It also serves spot prices using the close of the most
// recent candle.
type BitqueryClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// BitqueryOption configures BitqueryClient.
type BitqueryOption func(*BitqueryClient)

// WithBitqueryEndpoint overrides the API endpoint.
func WithBitqueryEndpoint(endpoint string) BitqueryOption {
	return func(c *BitqueryClient) {
		c.endpoint = endpoint
	}
}

// WithBitqueryHTTPClient sets a custom http.Client.
func WithBitqueryHTTPClient(client *http.Client) BitqueryOption {
	return func(c *BitqueryClient) {
		c.client = client
	}
}

// NewBitqueryClient creates a Bitquery candle source.
func NewBitqueryClient(apiKey string, opts ...BitqueryOption) *BitqueryClient {
	c := &BitqueryClient{
		endpoint: DefaultBitqueryEndpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements CandleSource.
func (c *BitqueryClient) Name() string { return "bitquery" }

type graphqlRequest struct {
	Query     string `json:"query"`
	Variables string `json:"variables"`
}

type bitqueryResponse struct {
	Data struct {
		Solana struct {
			DEXTradeByTokens []bitqueryBucket `json:"DEXTradeByTokens"`
		} `json:"Solana"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type bitqueryBucket struct {
	Block struct {
		Time string `json:"Time"`
	} `json:"Block"`
	Volume string `json:"volume"`
	Trade  struct {
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"Trade"`
	Count string `json:"count"`
}

// FetchCandles implements CandleSource.
func (c *BitqueryClient) FetchCandles(ctx context.Context, mint string, startMs, endMs int64) ([]*domain.Candle, error) {
	since := time.UnixMilli(startMs).UTC().Format(time.RFC3339)
	till := time.UnixMilli(endMs).UTC().Format(time.RFC3339)
	query := fmt.Sprintf(candleQuery, mint, wrappedSOLMint, since, till)

	resp, err := c.execute(ctx, query)
	if err != nil {
		return nil, err
	}

	buckets := resp.Data.Solana.DEXTradeByTokens
	candles := make([]*domain.Candle, 0, len(buckets))
	for _, b := range buckets {
		ts, err := time.Parse(time.RFC3339, b.Block.Time)
		if err != nil {
			continue
		}
		if b.Trade.Open <= 0 && b.Trade.Close <= 0 {
			continue
		}
		candles = append(candles, &domain.Candle{
			TimestampMs: ts.UnixMilli(),
			Open:        b.Trade.Open,
			High:        b.Trade.High,
			Low:         b.Trade.Low,
			Close:       b.Trade.Close,
			Volume:      parseNumeric(b.Volume),
			TradeCount:  int(parseNumeric(b.Count)),
		})
	}
	return candles, nil
}

// FetchPrice implements PriceSource using the close of the latest candle
// in a short trailing window.
func (c *BitqueryClient) FetchPrice(ctx context.Context, mint string) (float64, error) {
	endMs := time.Now().UnixMilli()
	startMs := endMs - 10*time.Minute.Milliseconds()

	candles, err := c.FetchCandles(ctx, mint, startMs, endMs)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, ErrUnavailable
	}
	normalized := domain.NormalizeCandles(candles)
	return normalized[len(normalized)-1].Close, nil
}

func (c *BitqueryClient) execute(ctx context.Context, query string) (*bitqueryResponse, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: "{}"})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp bitqueryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}
	return &resp, nil
}
