// Package decision ranks tracked wallets against externally discovered
// candidates and emits keep/replace verdicts. The engine never mutates
// wallet state; applying a verdict is the caller's business.
package decision

import (
	"fmt"
	"sort"

	"solana-wallet-lab/internal/domain"
)

// Default policy thresholds.
const (
	DefaultInactivityThresholdMs = 14 * 24 * 3600 * 1000 // 14 days
	DefaultPoorScoreThreshold    = 0.35
)

// Config tunes the replace policy. Zero values fall back to defaults.
type Config struct {
	// InactivityThresholdMs flags wallets whose last observed buy is
	// older than this.
	InactivityThresholdMs int64
	// PoorScoreThreshold flags wallets scoring below this. Wallets with
	// the insufficient-data sentinel are never flagged on score; thin
	// evidence is not poor performance.
	PoorScoreThreshold float64
}

func (c Config) withDefaults() Config {
	if c.InactivityThresholdMs <= 0 {
		c.InactivityThresholdMs = DefaultInactivityThresholdMs
	}
	if c.PoorScoreThreshold <= 0 {
		c.PoorScoreThreshold = DefaultPoorScoreThreshold
	}
	return c
}

// Engine applies the keep/replace policy.
type Engine struct {
	config Config
}

// New creates an Engine.
func New(config Config) *Engine {
	return &Engine{config: config.withDefaults()}
}

// Decide produces one verdict per tracked wallet, sorted by wallet id
// so identical inputs always yield identical output. Each validated
// candidate is suggested at most once, best external score first; ties
// break on wallet id ascending. A wallet already tracked is never
// suggested as its own or anyone else's replacement.
func (e *Engine) Decide(tracked []*domain.WalletStats, candidates []*domain.CandidateWallet, nowMs int64) []*domain.WalletVerdict {
	trackedIDs := make(map[string]struct{}, len(tracked))
	for _, w := range tracked {
		trackedIDs[w.WalletID] = struct{}{}
	}

	pool := make([]*domain.CandidateWallet, 0, len(candidates))
	for _, c := range candidates {
		if !c.Validated {
			continue
		}
		if _, ok := trackedIDs[c.WalletID]; ok {
			continue
		}
		pool = append(pool, c)
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].ExternalScore != pool[j].ExternalScore {
			return pool[i].ExternalScore > pool[j].ExternalScore
		}
		return pool[i].WalletID < pool[j].WalletID
	})

	ordered := make([]*domain.WalletStats, len(tracked))
	copy(ordered, tracked)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].WalletID < ordered[j].WalletID
	})

	next := 0
	verdicts := make([]*domain.WalletVerdict, 0, len(ordered))
	for _, w := range ordered {
		reason, replace := e.flag(w, nowMs)
		v := &domain.WalletVerdict{
			WalletID: w.WalletID,
			Action:   domain.ActionKeep,
			Reason:   reason,
		}
		if replace {
			v.Action = domain.ActionReplace
			if next < len(pool) {
				id := pool[next].WalletID
				v.CandidateReplacement = &id
				next++
			}
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

// flag applies the policy to one wallet and explains the outcome.
func (e *Engine) flag(w *domain.WalletStats, nowMs int64) (string, bool) {
	inactive := w.LastActiveAtMs > 0 && nowMs-w.LastActiveAtMs > e.config.InactivityThresholdMs
	neverSeen := w.LastActiveAtMs == 0

	if inactive || neverSeen {
		return fmt.Sprintf("inactive: no buys since %d", w.LastActiveAtMs), true
	}
	if w.Sufficient() && w.DerivedScore < e.config.PoorScoreThreshold {
		return fmt.Sprintf("poor performance: score %.3f below %.3f over %d samples",
			w.DerivedScore, e.config.PoorScoreThreshold, w.SampleCount), true
	}
	if !w.Sufficient() {
		return fmt.Sprintf("insufficient data: %d samples", w.SampleCount), false
	}
	return fmt.Sprintf("score %.3f", w.DerivedScore), false
}
