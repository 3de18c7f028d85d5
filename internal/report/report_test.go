package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/decision"
	"solana-wallet-lab/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func sampleRecord() *domain.PerformanceRecord {
	return &domain.PerformanceRecord{
		TaskID:        "task-1",
		TxSignature:   "sig-1",
		WalletID:      "walletA",
		TokenMint:     "mintA",
		EntryPrice:    1.0,
		HighestPrice:  ptr(1.5),
		HighestAtMs:   ptr(int64(3_600_000)),
		HighestPnlPct: ptr(50.0),
		LowestPrice:   ptr(0.8),
		LowestPnlPct:  ptr(-20.0),
		ClosePrice:    ptr(1.2),
		CurrentPnlPct: ptr(20.0),
		WindowStartMs: 0,
		WindowEndMs:   14_400_000,
		DataQuality:   domain.QualityComplete,
		MeasuredAtMs:  14_500_000,
	}
}

func TestRenderRecordsCSV(t *testing.T) {
	unavailable := &domain.PerformanceRecord{
		TaskID:      "task-2",
		TxSignature: "sig-2",
		WalletID:    "walletA",
		TokenMint:   "mintB",
		EntryPrice:  2.0,
		DataQuality: domain.QualityUnavailable,
	}

	out := RenderRecordsCSV([]*domain.PerformanceRecord{sampleRecord(), unavailable})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "task_id,tx_signature") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "50,") || !strings.Contains(lines[1], "COMPLETE") {
		t.Errorf("row missing PnL/quality: %s", lines[1])
	}
	// Nil PnL fields render as empty cells, never as zero.
	if strings.Contains(lines[2], ",0,") && strings.Contains(lines[2], "UNAVAILABLE") {
		t.Errorf("unavailable row must use empty cells: %s", lines[2])
	}
}

func TestRenderStatsCSVInsufficientScoreEmpty(t *testing.T) {
	out := RenderStatsCSV([]*domain.WalletStats{
		{WalletID: "walletA", SampleCount: 2, DerivedScore: domain.ScoreInsufficientData},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(lines))
	}
	if strings.Contains(lines[1], "-1") {
		t.Errorf("sentinel score must not leak into CSV: %s", lines[1])
	}
}

func TestWebhookRecordMeasuredPostsEmbed(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	wh := NewWebhook(server.URL, "", zerolog.Nop())
	event := &domain.BuyEvent{WalletID: "walletA", TokenMint: "mintA", TokenSymbol: "TEST"}
	wh.RecordMeasured(context.Background(), event, sampleRecord())

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Color != colorGreen {
		t.Errorf("positive peak PnL must be green, got %d", embed.Color)
	}
	var perf string
	for _, f := range embed.Fields {
		if f.Name == "Performance" {
			perf = f.Value
		}
	}
	for _, want := range []string{"Max %:", "Min %:", "Current %:", "50.00%", "-20.00%", "20.00%"} {
		if !strings.Contains(perf, want) {
			t.Errorf("performance field missing %q: %s", want, perf)
		}
	}
}

type fixedQuoter struct {
	price float64
}

func (q fixedQuoter) FetchPrice(context.Context, string) (float64, error) {
	return q.price, nil
}

func TestWebhookRecordMeasuredIncludesLivePrice(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	wh := NewWebhook(server.URL, "", zerolog.Nop(), WithLivePrices(fixedQuoter{price: 1.5}))
	event := &domain.BuyEvent{WalletID: "walletA", TokenMint: "mintA", TokenSymbol: "TEST"}
	wh.RecordMeasured(context.Background(), event, sampleRecord())

	var live string
	for _, f := range payload.Embeds[0].Fields {
		if f.Name == "Live" {
			live = f.Value
		}
	}
	if live == "" {
		t.Fatal("expected a Live field in the embed")
	}
	// Entry is 1.0, quote is 1.5: +50% vs entry.
	for _, want := range []string{"1.5", "+50.00% vs entry"} {
		if !strings.Contains(live, want) {
			t.Errorf("live field missing %q: %s", want, live)
		}
	}
}

func TestWebhookRecordMeasuredNoQuoterNoLiveField(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	wh := NewWebhook(server.URL, "", zerolog.Nop())
	event := &domain.BuyEvent{WalletID: "walletA", TokenMint: "mintA"}
	wh.RecordMeasured(context.Background(), event, sampleRecord())

	for _, f := range payload.Embeds[0].Fields {
		if f.Name == "Live" {
			t.Errorf("unexpected Live field: %s", f.Value)
		}
	}
}

func TestWebhookRunCompletedTruncates(t *testing.T) {
	var payload webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer server.Close()

	// Enough verdicts to overflow the content limit.
	var verdicts []*domain.WalletVerdict
	for i := 0; i < 100; i++ {
		verdicts = append(verdicts, &domain.WalletVerdict{
			WalletID: strings.Repeat("w", 40),
			Action:   domain.ActionReplace,
			Reason:   "inactive: no buys since 0",
		})
	}
	result := decision.NewRunResult(0, nil, verdicts)

	wh := NewWebhook("", server.URL, zerolog.Nop())
	wh.RunCompleted(context.Background(), result)

	if len(payload.Content) == 0 || len(payload.Content) > maxContentLen {
		t.Errorf("expected truncated non-empty content, got %d bytes", len(payload.Content))
	}
}

func TestWebhookDisabledURLsDoNotPost(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer server.Close()

	wh := NewWebhook("", "", zerolog.Nop())
	wh.RecordMeasured(context.Background(), &domain.BuyEvent{}, sampleRecord())
	wh.RunCompleted(context.Background(), decision.NewRunResult(0, nil, nil))

	if called {
		t.Error("disabled webhook must not post")
	}
}

func TestMultiFansOut(t *testing.T) {
	var recA, recB int
	nA := notifierFunc{onRecord: func() { recA++ }}
	nB := notifierFunc{onRecord: func() { recB++ }}

	m := Multi{nA, nB}
	m.RecordMeasured(context.Background(), &domain.BuyEvent{}, sampleRecord())

	if recA != 1 || recB != 1 {
		t.Errorf("expected fan-out to both notifiers, got %d/%d", recA, recB)
	}
}

type notifierFunc struct {
	onRecord func()
}

func (n notifierFunc) RecordMeasured(context.Context, *domain.BuyEvent, *domain.PerformanceRecord) {
	if n.onRecord != nil {
		n.onRecord()
	}
}
func (n notifierFunc) RunCompleted(context.Context, *decision.RunResult) {}
