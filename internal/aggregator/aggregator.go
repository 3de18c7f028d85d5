// Package aggregator rolls performance records up into per-wallet
// statistics and a composite score used by the decision engine.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// Default scoring weights and bounds.
const (
	DefaultWinRateWeight = 0.5
	DefaultPnlWeight     = 0.3
	DefaultSampleWeight  = 0.2
	DefaultPnlScale      = 100.0 // mean PnL (%) mapped to [-scale, scale]
	DefaultSampleSat     = 20    // samples at which the volume term saturates
	DefaultMinSamples    = 3
)

// Config tunes the composite score. Zero values fall back to defaults.
type Config struct {
	// WinRateWeight, PnlWeight and SampleWeight blend the three score
	// terms. They should sum to 1; the score is clamped regardless.
	WinRateWeight float64
	PnlWeight     float64
	SampleWeight  float64
	// PnlScale bounds the mean PnL normalization: means at or beyond
	// ±PnlScale map to 1 and 0 respectively.
	PnlScale float64
	// SampleSaturation is the sample count treated as full volume.
	SampleSaturation int
	// MinSamples is the floor below which a wallet gets the
	// insufficient-data sentinel instead of a score.
	MinSamples int
}

func (c Config) withDefaults() Config {
	if c.WinRateWeight == 0 && c.PnlWeight == 0 && c.SampleWeight == 0 {
		c.WinRateWeight = DefaultWinRateWeight
		c.PnlWeight = DefaultPnlWeight
		c.SampleWeight = DefaultSampleWeight
	}
	if c.PnlScale <= 0 {
		c.PnlScale = DefaultPnlScale
	}
	if c.SampleSaturation <= 0 {
		c.SampleSaturation = DefaultSampleSat
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	return c
}

// Aggregator recomputes wallet statistics from stored records.
type Aggregator struct {
	config  Config
	events  storage.EventStore
	records storage.RecordStore
}

// New creates an Aggregator.
func New(config Config, events storage.EventStore, records storage.RecordStore) *Aggregator {
	return &Aggregator{
		config:  config.withDefaults(),
		events:  events,
		records: records,
	}
}

// Recompute builds fresh statistics for one wallet. A wallet with no
// usable records still gets a stats row, carrying the sentinel score.
func (a *Aggregator) Recompute(ctx context.Context, walletID string) (*domain.WalletStats, error) {
	if walletID == "" {
		return nil, fmt.Errorf("%w: empty wallet id", storage.ErrInvalidInput)
	}

	recs, err := a.records.GetByWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", walletID, err)
	}

	lastActive, err := a.events.LastObservedAt(ctx, walletID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("last observed for %s: %w", walletID, err)
	}

	stats := &domain.WalletStats{
		WalletID:       walletID,
		LastActiveAtMs: lastActive,
		DerivedScore:   domain.ScoreInsufficientData,
	}

	var pnls []float64
	wins := 0
	for _, r := range recs {
		if !r.Usable() {
			continue
		}
		pnl := *r.CurrentPnlPct
		pnls = append(pnls, pnl)
		if pnl > 0 {
			wins++
		}
	}

	stats.SampleCount = len(pnls)
	if stats.SampleCount == 0 {
		return stats, nil
	}

	stats.WinRate = float64(wins) / float64(stats.SampleCount)
	stats.MeanPnlPct = mean(pnls)
	stats.MedianPnlPct = median(pnls)

	if stats.SampleCount >= a.config.MinSamples {
		stats.DerivedScore = a.score(stats)
	}
	return stats, nil
}

// RecomputeAll rebuilds statistics for every wallet that has at least
// one buy event, sorted by wallet id for deterministic output.
func (a *Aggregator) RecomputeAll(ctx context.Context) ([]*domain.WalletStats, error) {
	events, err := a.events.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	seen := make(map[string]struct{})
	var walletIDs []string
	for _, e := range events {
		if _, ok := seen[e.WalletID]; !ok {
			seen[e.WalletID] = struct{}{}
			walletIDs = append(walletIDs, e.WalletID)
		}
	}
	sort.Strings(walletIDs)

	out := make([]*domain.WalletStats, 0, len(walletIDs))
	for _, id := range walletIDs {
		stats, err := a.Recompute(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, stats)
	}
	return out, nil
}

// score blends win rate, normalized mean PnL, and sample volume into
// [0, 1].
func (a *Aggregator) score(stats *domain.WalletStats) float64 {
	pnlTerm := (clamp(stats.MeanPnlPct, -a.config.PnlScale, a.config.PnlScale) + a.config.PnlScale) / (2 * a.config.PnlScale)

	volume := float64(stats.SampleCount) / float64(a.config.SampleSaturation)
	if volume > 1 {
		volume = 1
	}

	s := a.config.WinRateWeight*stats.WinRate + a.config.PnlWeight*pnlTerm + a.config.SampleWeight*volume
	return clamp(s, 0, 1)
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median averages the two middle values for even counts. The input is
// copied so caller slices keep their order.
func median(xs []float64) float64 {
	cp := make([]float64, len(xs))
	copy(cp, xs)
	sort.Float64s(cp)

	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
