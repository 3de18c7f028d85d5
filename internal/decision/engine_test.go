package decision

import (
	"reflect"
	"strings"
	"testing"

	"solana-wallet-lab/internal/domain"
)

const nowMs = int64(100 * 24 * 3600 * 1000)

func activeAt(daysAgo int) int64 {
	return nowMs - int64(daysAgo)*24*3600*1000
}

func stats(id string, score float64, samples int, lastActive int64) *domain.WalletStats {
	return &domain.WalletStats{
		WalletID:       id,
		SampleCount:    samples,
		DerivedScore:   score,
		LastActiveAtMs: lastActive,
	}
}

func candidate(id string, score float64, validated bool) *domain.CandidateWallet {
	return &domain.CandidateWallet{WalletID: id, ExternalScore: score, Validated: validated}
}

func TestDecideKeepsHealthyWallet(t *testing.T) {
	e := New(Config{})

	verdicts := e.Decide([]*domain.WalletStats{
		stats("walletA", 0.8, 10, activeAt(1)),
	}, nil, nowMs)

	if len(verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(verdicts))
	}
	if verdicts[0].Action != domain.ActionKeep {
		t.Errorf("expected KEEP, got %s", verdicts[0].Action)
	}
}

func TestDecideReplacesInactiveWallet(t *testing.T) {
	e := New(Config{})

	verdicts := e.Decide([]*domain.WalletStats{
		stats("walletA", 0.9, 10, activeAt(30)),
	}, nil, nowMs)

	if verdicts[0].Action != domain.ActionReplace {
		t.Fatalf("expected REPLACE for inactive wallet, got %s", verdicts[0].Action)
	}
	if verdicts[0].CandidateReplacement != nil {
		t.Error("expected no replacement without candidates")
	}
	if !strings.Contains(verdicts[0].Reason, "inactive") {
		t.Errorf("expected inactivity reason, got %q", verdicts[0].Reason)
	}
}

func TestDecideReplacesPoorScoreOnlyWithEnoughSamples(t *testing.T) {
	e := New(Config{PoorScoreThreshold: 0.35})

	verdicts := e.Decide([]*domain.WalletStats{
		stats("poor", 0.1, 5, activeAt(1)),
		stats("thin", domain.ScoreInsufficientData, 2, activeAt(1)),
	}, nil, nowMs)

	byID := map[string]*domain.WalletVerdict{}
	for _, v := range verdicts {
		byID[v.WalletID] = v
	}

	if byID["poor"].Action != domain.ActionReplace {
		t.Errorf("expected poor scorer replaced, got %s", byID["poor"].Action)
	}
	if byID["thin"].Action != domain.ActionKeep {
		t.Errorf("insufficient data alone must never replace, got %s", byID["thin"].Action)
	}
}

func TestDecidePairsValidatedCandidatesBestFirst(t *testing.T) {
	e := New(Config{})

	tracked := []*domain.WalletStats{
		stats("walletB", 0.1, 5, activeAt(1)),
		stats("walletA", 0.1, 5, activeAt(1)),
	}
	candidates := []*domain.CandidateWallet{
		candidate("cand-low", 0.5, true),
		candidate("cand-high", 0.9, true),
		candidate("cand-unvalidated", 1.0, false),
	}

	verdicts := e.Decide(tracked, candidates, nowMs)

	// Verdicts ordered by wallet id; best candidate goes to the first.
	if verdicts[0].WalletID != "walletA" || verdicts[1].WalletID != "walletB" {
		t.Fatalf("expected verdicts ordered by wallet id, got %s, %s",
			verdicts[0].WalletID, verdicts[1].WalletID)
	}
	if verdicts[0].CandidateReplacement == nil || *verdicts[0].CandidateReplacement != "cand-high" {
		t.Errorf("expected cand-high first, got %v", verdicts[0].CandidateReplacement)
	}
	if verdicts[1].CandidateReplacement == nil || *verdicts[1].CandidateReplacement != "cand-low" {
		t.Errorf("expected cand-low second, got %v", verdicts[1].CandidateReplacement)
	}
}

func TestDecideCandidateTieBreaksOnWalletID(t *testing.T) {
	e := New(Config{})

	verdicts := e.Decide(
		[]*domain.WalletStats{stats("walletA", 0.1, 5, activeAt(1))},
		[]*domain.CandidateWallet{
			candidate("cand-z", 0.7, true),
			candidate("cand-a", 0.7, true),
		}, nowMs)

	if *verdicts[0].CandidateReplacement != "cand-a" {
		t.Errorf("expected tie broken by wallet id, got %s", *verdicts[0].CandidateReplacement)
	}
}

func TestDecideNeverSuggestsTrackedWallet(t *testing.T) {
	e := New(Config{})

	verdicts := e.Decide(
		[]*domain.WalletStats{
			stats("walletA", 0.1, 5, activeAt(1)),
			stats("walletB", 0.9, 5, activeAt(1)),
		},
		[]*domain.CandidateWallet{candidate("walletB", 1.0, true)}, nowMs)

	for _, v := range verdicts {
		if v.CandidateReplacement != nil && *v.CandidateReplacement == "walletB" {
			t.Error("tracked wallet suggested as replacement")
		}
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	e := New(Config{})

	tracked := []*domain.WalletStats{
		stats("walletC", 0.1, 5, activeAt(1)),
		stats("walletA", 0.9, 10, activeAt(30)),
		stats("walletB", 0.1, 5, activeAt(1)),
	}
	candidates := []*domain.CandidateWallet{
		candidate("cand-b", 0.8, true),
		candidate("cand-a", 0.8, true),
		candidate("cand-c", 0.2, true),
	}

	first := e.Decide(tracked, candidates, nowMs)
	for i := 0; i < 10; i++ {
		again := e.Decide(tracked, candidates, nowMs)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differed from first run", i)
		}
	}
}

func TestRenderMarkdownListsReplacements(t *testing.T) {
	e := New(Config{})

	tracked := []*domain.WalletStats{
		stats("walletA", 0.1, 5, activeAt(1)),
		stats("walletB", 0.9, 10, activeAt(1)),
	}
	verdicts := e.Decide(tracked, []*domain.CandidateWallet{candidate("cand-a", 0.9, true)}, nowMs)
	result := NewRunResult(nowMs, tracked, verdicts)

	if result.RunID == "" {
		t.Fatal("expected run id")
	}
	if result.ReplaceCount() != 1 {
		t.Fatalf("expected 1 replacement, got %d", result.ReplaceCount())
	}

	md := RenderMarkdown(result)
	for _, want := range []string{"walletA", "walletB", "cand-a", "REPLACE", "KEEP"} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
