// Package discovery pulls externally ranked candidate wallets and runs
// them through a validation signal before the decision engine sees them.
package discovery

import (
	"context"
	"sort"

	"solana-wallet-lab/internal/domain"
)

// CandidateSource produces a ranked list of candidate wallets from an
// external analytics platform.
type CandidateSource interface {
	FetchCandidates(ctx context.Context) ([]*domain.CandidateWallet, error)
}

// Validator decides whether a candidate wallet passes the external
// validation signal. The mechanism behind the signal is opaque here.
type Validator interface {
	Validate(ctx context.Context, walletID string) (bool, error)
}

// FetchValidated pulls candidates from the source and marks each with
// its validation result. A validator error leaves the candidate
// unvalidated rather than failing the whole pull. Output is sorted by
// external score descending, wallet id ascending on ties.
func FetchValidated(ctx context.Context, source CandidateSource, validator Validator) ([]*domain.CandidateWallet, error) {
	if source == nil {
		return nil, nil
	}
	candidates, err := source.FetchCandidates(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		if validator == nil {
			continue
		}
		ok, err := validator.Validate(ctx, c.WalletID)
		if err != nil {
			c.Validated = false
			continue
		}
		c.Validated = ok
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ExternalScore != candidates[j].ExternalScore {
			return candidates[i].ExternalScore > candidates[j].ExternalScore
		}
		return candidates[i].WalletID < candidates[j].WalletID
	})
	return candidates, nil
}
