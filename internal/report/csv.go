package report

import (
	"fmt"
	"strings"
	"time"

	"solana-wallet-lab/internal/domain"
)

// RenderRecordsCSV renders performance records as a CSV string, one row
// per measurement.
func RenderRecordsCSV(records []*domain.PerformanceRecord) string {
	var sb strings.Builder

	sb.WriteString("task_id,tx_signature,wallet_id,token_mint,entry_price,")
	sb.WriteString("highest_price,highest_pnl_pct,highest_at,lowest_price,lowest_pnl_pct,")
	sb.WriteString("close_price,current_pnl_pct,data_quality,window_start,window_end,measured_at\n")

	for _, r := range records {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%.10g,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			r.TaskID,
			r.TxSignature,
			r.WalletID,
			r.TokenMint,
			r.EntryPrice,
			floatField(r.HighestPrice),
			floatField(r.HighestPnlPct),
			timeField(r.HighestAtMs),
			floatField(r.LowestPrice),
			floatField(r.LowestPnlPct),
			floatField(r.ClosePrice),
			floatField(r.CurrentPnlPct),
			r.DataQuality,
			formatMs(r.WindowStartMs),
			formatMs(r.WindowEndMs),
			formatMs(r.MeasuredAtMs),
		))
	}

	return sb.String()
}

// RenderStatsCSV renders wallet statistics as a CSV string.
func RenderStatsCSV(stats []*domain.WalletStats) string {
	var sb strings.Builder

	sb.WriteString("wallet_id,sample_count,win_rate,mean_pnl_pct,median_pnl_pct,last_active_at,derived_score\n")

	for _, s := range stats {
		score := ""
		if s.Sufficient() {
			score = fmt.Sprintf("%.6f", s.DerivedScore)
		}
		lastActive := ""
		if s.LastActiveAtMs > 0 {
			lastActive = formatMs(s.LastActiveAtMs)
		}
		sb.WriteString(fmt.Sprintf("%s,%d,%.6f,%.6f,%.6f,%s,%s\n",
			s.WalletID,
			s.SampleCount,
			s.WinRate,
			s.MeanPnlPct,
			s.MedianPnlPct,
			lastActive,
			score,
		))
	}

	return sb.String()
}

func floatField(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.10g", *v)
}

func timeField(ms *int64) string {
	if ms == nil {
		return ""
	}
	return formatMs(*ms)
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
