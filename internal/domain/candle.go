package domain

import "sort"

// Candle is one OHLCV point of a token price series.
type Candle struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	TradeCount  int
}

// NormalizeCandles sorts candles by timestamp ascending and drops duplicate
// timestamps, keeping the first occurrence. Providers occasionally return
// unordered or overlapping pages; evaluation assumes a clean series.
func NormalizeCandles(candles []*Candle) []*Candle {
	if len(candles) == 0 {
		return candles
	}

	out := make([]*Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimestampMs < out[j].TimestampMs
	})

	deduped := out[:1]
	for _, c := range out[1:] {
		if c.TimestampMs != deduped[len(deduped)-1].TimestampMs {
			deduped = append(deduped, c)
		}
	}
	return deduped
}

// HighestHigh returns the candle with the maximum high. Ties are broken by
// the earlier timestamp so the peak time is deterministic.
func HighestHigh(candles []*Candle) (*Candle, bool) {
	var best *Candle
	for _, c := range candles {
		if best == nil || c.High > best.High {
			best = c
		}
	}
	return best, best != nil
}

// LowestLow returns the candle with the minimum low, earliest on ties.
func LowestLow(candles []*Candle) (*Candle, bool) {
	var best *Candle
	for _, c := range candles {
		if best == nil || c.Low < best.Low {
			best = c
		}
	}
	return best, best != nil
}

// CloseAtOrBefore returns the latest candle whose timestamp is at or before
// target. Returns false if every candle is after target.
func CloseAtOrBefore(target int64, candles []*Candle) (*Candle, bool) {
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].TimestampMs <= target {
			return candles[i], true
		}
	}
	return nil, false
}
