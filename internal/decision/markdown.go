package decision

import (
	"fmt"
	"strings"
	"time"

	"solana-wallet-lab/internal/domain"
)

// RenderMarkdown renders a RunResult as a Markdown report.
func RenderMarkdown(result *RunResult) string {
	var sb strings.Builder

	sb.WriteString("# Wallet Decision Report\n\n")
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", result.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n",
		time.UnixMilli(result.GeneratedAtMs).UTC().Format(time.RFC3339)))

	// Wallet statistics table
	sb.WriteString("## Wallet Statistics\n\n")
	sb.WriteString("| Wallet | Samples | Win Rate | Mean PnL % | Median PnL % | Score |\n")
	sb.WriteString("|--------|---------|----------|------------|--------------|-------|\n")
	for _, s := range result.Stats {
		score := "insufficient data"
		if s.Sufficient() {
			score = fmt.Sprintf("%.3f", s.DerivedScore)
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %.2f | %.2f | %.2f | %s |\n",
			s.WalletID, s.SampleCount, s.WinRate, s.MeanPnlPct, s.MedianPnlPct, score))
	}
	sb.WriteString("\n")

	// Verdicts table
	sb.WriteString("## Verdicts\n\n")
	sb.WriteString("| Wallet | Action | Reason | Replacement |\n")
	sb.WriteString("|--------|--------|--------|-------------|\n")
	for _, v := range result.Verdicts {
		replacement := "-"
		if v.CandidateReplacement != nil {
			replacement = *v.CandidateReplacement
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			v.WalletID, v.Action, v.Reason, replacement))
	}
	sb.WriteString("\n")

	// Summary
	sb.WriteString("## Summary\n\n")
	replaced := result.ReplaceCount()
	if replaced == 0 {
		sb.WriteString("All tracked wallets kept.\n")
	} else {
		sb.WriteString(fmt.Sprintf("%d of %d tracked wallets flagged for replacement:\n",
			replaced, len(result.Verdicts)))
		for _, v := range result.Verdicts {
			if v.Action != domain.ActionReplace {
				continue
			}
			if v.CandidateReplacement != nil {
				sb.WriteString(fmt.Sprintf("- %s (%s), suggested replacement %s\n",
					v.WalletID, v.Reason, *v.CandidateReplacement))
			} else {
				sb.WriteString(fmt.Sprintf("- %s (%s), no validated candidate available\n",
					v.WalletID, v.Reason))
			}
		}
	}

	return sb.String()
}
