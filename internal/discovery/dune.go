package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"solana-wallet-lab/internal/domain"
)

// Default Dune client configuration.
const (
	DefaultDuneEndpoint    = "https://api.dune.com/api/v1"
	DefaultDunePollDelay   = 10 * time.Second
	DefaultDuneMaxPolls    = 30
	DefaultDuneResultLimit = 200
)

// DuneSource fetches candidate wallets from a saved Dune Analytics
// query ranking wallets by realized PnL. The flow is execute, then poll
// the query results until the fresh execution lands.
type DuneSource struct {
	endpoint    string
	apiKey      string
	queryID     string
	client      *http.Client
	pollDelay   time.Duration
	maxPolls    int
	resultLimit int
	minROI      float64
}

// DuneOption configures DuneSource.
type DuneOption func(*DuneSource)

// WithDuneEndpoint overrides the API base URL.
func WithDuneEndpoint(endpoint string) DuneOption {
	return func(s *DuneSource) {
		s.endpoint = endpoint
	}
}

// WithDuneHTTPClient sets a custom http.Client.
func WithDuneHTTPClient(client *http.Client) DuneOption {
	return func(s *DuneSource) {
		s.client = client
	}
}

// WithDunePolling tunes the execute-then-poll cadence.
func WithDunePolling(delay time.Duration, maxPolls int) DuneOption {
	return func(s *DuneSource) {
		s.pollDelay = delay
		s.maxPolls = maxPolls
	}
}

// WithMinROI drops candidates whose reported ROI is below the floor.
func WithMinROI(minROI float64) DuneOption {
	return func(s *DuneSource) {
		s.minROI = minROI
	}
}

// NewDuneSource creates a candidate source backed by a Dune query.
func NewDuneSource(apiKey, queryID string, opts ...DuneOption) *DuneSource {
	s := &DuneSource{
		endpoint:    DefaultDuneEndpoint,
		apiKey:      apiKey,
		queryID:     queryID,
		client:      &http.Client{Timeout: 30 * time.Second},
		pollDelay:   DefaultDunePollDelay,
		maxPolls:    DefaultDuneMaxPolls,
		resultLimit: DefaultDuneResultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ CandidateSource = (*DuneSource)(nil)

type duneExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
}

type duneResultsResponse struct {
	State  string `json:"state"`
	Result struct {
		Rows []map[string]json.RawMessage `json:"rows"`
	} `json:"result"`
}

// FetchCandidates implements CandidateSource.
func (s *DuneSource) FetchCandidates(ctx context.Context) ([]*domain.CandidateWallet, error) {
	if _, err := s.execute(ctx); err != nil {
		return nil, fmt.Errorf("execute dune query %s: %w", s.queryID, err)
	}

	var rows []map[string]json.RawMessage
	for i := 0; i < s.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollDelay):
		}

		res, err := s.results(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch dune results: %w", err)
		}
		if res.State == "QUERY_STATE_PENDING" || res.State == "QUERY_STATE_EXECUTING" {
			continue
		}
		rows = res.Result.Rows
		break
	}

	out := make([]*domain.CandidateWallet, 0, len(rows))
	for _, row := range rows {
		wallet := extractWallet(row)
		if wallet == "" {
			continue
		}
		roi := extractROI(row)
		if roi < s.minROI {
			continue
		}
		out = append(out, &domain.CandidateWallet{
			WalletID:      wallet,
			ExternalScore: roi,
		})
	}
	return out, nil
}

func (s *DuneSource) execute(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/query/%s/execute", s.endpoint, s.queryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-DUNE-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var exec duneExecuteResponse
	if err := json.Unmarshal(body, &exec); err != nil {
		return "", err
	}
	return exec.ExecutionID, nil
}

func (s *DuneSource) results(ctx context.Context) (*duneResultsResponse, error) {
	url := fmt.Sprintf("%s/query/%s/results?limit=%d&offset=0", s.endpoint, s.queryID, s.resultLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-DUNE-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var res duneResultsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// extractWallet pulls the wallet address column. Saved queries are not
// uniform; userAddress is the common name, otherwise any address-like
// column that is not a URL wins.
func extractWallet(row map[string]json.RawMessage) string {
	if v, ok := row["userAddress"]; ok {
		return rawString(v)
	}
	for _, key := range []string{"wallet_address", "wallet", "address", "user"} {
		if v, ok := row[key]; ok {
			return rawString(v)
		}
	}
	return ""
}

// extractROI pulls the realized-PnL column, 0 when absent.
func extractROI(row map[string]json.RawMessage) float64 {
	for _, key := range []string{"PNL", "pnl", "roi", "profit", "return"} {
		if v, ok := row[key]; ok {
			return rawFloat(v)
		}
	}
	return 0
}

func rawString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func rawFloat(v json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f
	}
	// Some queries format numbers as strings.
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0
	}
	var out float64
	if _, err := fmt.Sscanf(s, "%g", &out); err != nil {
		return 0
	}
	return out
}
