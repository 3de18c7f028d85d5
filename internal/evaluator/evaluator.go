// Package evaluator turns a fetched candle series into a performance
// record for a single buy event: peak PnL, trough PnL, and PnL at the
// end of the measurement window.
package evaluator

import (
	"errors"
	"fmt"

	"solana-wallet-lab/internal/domain"
)

// ErrInvalidEntryPrice indicates the buy event carries a non-positive
// entry price, which makes every percentage undefined. This is a
// terminal validation failure, not a fetch problem.
var ErrInvalidEntryPrice = errors.New("entry price must be positive")

// CandleIntervalMs is the bucket size providers aggregate trades into.
const CandleIntervalMs = 60_000

// coverageGraceMs allows a series to stop slightly short of the window
// end and still count as complete. Providers bucket by minute, so the
// final bucket can trail the window edge by up to two intervals.
const coverageGraceMs = 2 * CandleIntervalMs

// Evaluate computes a performance record from the candle series fetched
// for the measurement window [windowStartMs, windowEndMs]. The series
// may be sparse or empty; the data quality field records how much of
// the window it actually covers.
//
// PnL percentages are relative to the event entry price:
//
//	pnl = (price - entry) / entry * 100
func Evaluate(task *domain.MeasurementTask, event *domain.BuyEvent, candles []*domain.Candle, windowStartMs, windowEndMs, nowMs int64) (*domain.PerformanceRecord, error) {
	if task == nil || event == nil {
		return nil, fmt.Errorf("nil task or event")
	}
	if event.EntryPrice <= 0 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidEntryPrice, event.EntryPrice)
	}
	if windowEndMs < windowStartMs {
		return nil, fmt.Errorf("window end %d before start %d", windowEndMs, windowStartMs)
	}

	rec := &domain.PerformanceRecord{
		TaskID:        task.TaskID,
		TxSignature:   task.TxSignature,
		WalletID:      task.WalletID,
		TokenMint:     task.TokenMint,
		EntryPrice:    event.EntryPrice,
		WindowStartMs: windowStartMs,
		WindowEndMs:   windowEndMs,
		DataQuality:   domain.QualityUnavailable,
		MeasuredAtMs:  nowMs,
	}

	series := domain.NormalizeCandles(candles)
	series = clipToWindow(series, windowStartMs, windowEndMs)
	if len(series) == 0 {
		return rec, nil
	}

	entry := event.EntryPrice

	if high, ok := domain.HighestHigh(series); ok && high.High > 0 {
		price := high.High
		at := high.TimestampMs
		pnl := (price - entry) / entry * 100
		rec.HighestPrice = &price
		rec.HighestAtMs = &at
		rec.HighestPnlPct = &pnl
	}

	if low, ok := domain.LowestLow(series); ok && low.Low > 0 {
		price := low.Low
		pnl := (price - entry) / entry * 100
		rec.LowestPrice = &price
		rec.LowestPnlPct = &pnl
	}

	if closeCandle, ok := domain.CloseAtOrBefore(windowEndMs, series); ok && closeCandle.Close > 0 {
		price := closeCandle.Close
		pnl := (price - entry) / entry * 100
		rec.ClosePrice = &price
		rec.CurrentPnlPct = &pnl
	}

	rec.DataQuality = classifyCoverage(series, windowStartMs, windowEndMs)
	return rec, nil
}

// clipToWindow drops candles outside [startMs, endMs]. The series is
// already sorted ascending.
func clipToWindow(candles []*domain.Candle, startMs, endMs int64) []*domain.Candle {
	out := candles[:0:0]
	for _, c := range candles {
		if c.TimestampMs >= startMs && c.TimestampMs <= endMs {
			out = append(out, c)
		}
	}
	return out
}

// classifyCoverage decides whether the series spans the whole window.
// The series counts as complete when its first candle sits within one
// interval of the window start and its last within the grace of the
// window end. Tokens created mid-window legitimately have no earlier
// trades, so a late first candle only degrades quality to PARTIAL.
func classifyCoverage(series []*domain.Candle, startMs, endMs int64) domain.DataQuality {
	if len(series) == 0 {
		return domain.QualityUnavailable
	}
	first := series[0].TimestampMs
	last := series[len(series)-1].TimestampMs

	if first <= startMs+CandleIntervalMs && last >= endMs-coverageGraceMs {
		return domain.QualityComplete
	}
	return domain.QualityPartial
}
