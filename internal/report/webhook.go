package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/decision"
	"solana-wallet-lab/internal/domain"
)

// Embed colors.
const (
	colorGreen = 65280
	colorRed   = 16711680
)

// maxContentLen is the Discord message content limit.
const maxContentLen = 2000

// PriceQuoter answers current spot-price lookups for a mint.
type PriceQuoter interface {
	FetchPrice(ctx context.Context, tokenMint string) (float64, error)
}

// Webhook posts reports to a Discord-compatible webhook URL.
type Webhook struct {
	measurementURL string
	verdictURL     string
	client         *http.Client
	logger         zerolog.Logger
	quoter         PriceQuoter
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithLivePrices adds a "Live" field to measurement embeds quoting the
// token's spot price at post time.
func WithLivePrices(q PriceQuoter) WebhookOption {
	return func(w *Webhook) {
		w.quoter = q
	}
}

// NewWebhook creates a webhook notifier. Either URL may be empty, which
// disables that report kind.
func NewWebhook(measurementURL, verdictURL string, logger zerolog.Logger, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		measurementURL: measurementURL,
		verdictURL:     verdictURL,
		client:         &http.Client{Timeout: 15 * time.Second},
		logger:         logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var _ Notifier = (*Webhook)(nil)

type webhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []webhookField `json:"fields"`
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// RecordMeasured implements Notifier with one embed per measurement:
// peak, trough, and close PnL for the window.
func (w *Webhook) RecordMeasured(ctx context.Context, event *domain.BuyEvent, rec *domain.PerformanceRecord) {
	if w.measurementURL == "" {
		return
	}

	symbol := event.TokenSymbol
	if symbol == "" {
		symbol = event.TokenMint
	}

	color := colorRed
	if rec.HighestPnlPct != nil && *rec.HighestPnlPct >= 0 {
		color = colorGreen
	}

	fields := []webhookField{
		{Name: "Wallet", Value: event.WalletID, Inline: true},
		{Name: "Entry", Value: fmt.Sprintf("%.10g", rec.EntryPrice), Inline: true},
		{Name: "Quality", Value: rec.DataQuality.String(), Inline: true},
		{Name: "Performance", Value: performanceValue(rec), Inline: false},
	}
	if live, ok := w.livePrice(ctx, event.TokenMint, rec.EntryPrice); ok {
		fields = append(fields, live)
	}

	payload := webhookPayload{
		Embeds: []webhookEmbed{{
			Title:  fmt.Sprintf("PNL Report: %s", symbol),
			Color:  color,
			Fields: fields,
		}},
	}
	w.post(ctx, w.measurementURL, payload)
}

// RunCompleted implements Notifier by posting the run's Markdown report.
func (w *Webhook) RunCompleted(ctx context.Context, result *decision.RunResult) {
	if w.verdictURL == "" {
		return
	}

	content := decision.RenderMarkdown(result)
	if len(content) > maxContentLen {
		content = content[:maxContentLen-3] + "..."
	}
	w.post(ctx, w.verdictURL, webhookPayload{Content: content})
}

// livePrice builds the spot-price field for a measurement embed. A
// missing quoter or an unanswerable quote drops the field silently.
func (w *Webhook) livePrice(ctx context.Context, tokenMint string, entryPrice float64) (webhookField, bool) {
	if w.quoter == nil {
		return webhookField{}, false
	}
	price, err := w.quoter.FetchPrice(ctx, tokenMint)
	if err != nil || price <= 0 {
		return webhookField{}, false
	}

	value := fmt.Sprintf("%.10g", price)
	if entryPrice > 0 {
		value += fmt.Sprintf(" (%+.2f%% vs entry)", (price-entryPrice)/entryPrice*100)
	}
	return webhookField{Name: "Live", Value: value, Inline: true}, true
}

// performanceValue formats the Max/Min/Current block of the embed.
func performanceValue(rec *domain.PerformanceRecord) string {
	if rec.HighestPnlPct == nil {
		return "no market data for window"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "**Max %%:** %.2f%%", *rec.HighestPnlPct)
	if rec.HighestAtMs != nil {
		fmt.Fprintf(&buf, " (at %s)", time.UnixMilli(*rec.HighestAtMs).UTC().Format("15:04:05"))
	}
	if rec.LowestPnlPct != nil {
		fmt.Fprintf(&buf, "\n**Min %%:** %.2f%%", *rec.LowestPnlPct)
	}
	if rec.CurrentPnlPct != nil {
		fmt.Fprintf(&buf, "\n**Current %%:** %.2f%%", *rec.CurrentPnlPct)
	}
	return buf.String()
}

func (w *Webhook) post(ctx context.Context, url string, payload webhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error().Err(err).Msg("create webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn().Err(err).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn().Int("status", resp.StatusCode).Msg("webhook rejected")
	}
}
