package discovery

import (
	"context"

	"solana-wallet-lab/internal/domain"
)

// StaticSource serves a fixed candidate list. Used when candidates come
// from configuration instead of an analytics platform, and in tests.
type StaticSource struct {
	candidates []*domain.CandidateWallet
}

// NewStaticSource creates a source over a fixed list.
func NewStaticSource(candidates []*domain.CandidateWallet) *StaticSource {
	return &StaticSource{candidates: candidates}
}

var _ CandidateSource = (*StaticSource)(nil)

// FetchCandidates implements CandidateSource. Returns copies so callers
// cannot mutate the source list.
func (s *StaticSource) FetchCandidates(_ context.Context) ([]*domain.CandidateWallet, error) {
	out := make([]*domain.CandidateWallet, len(s.candidates))
	for i, c := range s.candidates {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

// AllowlistValidator validates candidates against a fixed set of wallet
// ids that passed the external check.
type AllowlistValidator struct {
	allowed map[string]struct{}
}

// NewAllowlistValidator creates a validator from the allowed ids.
func NewAllowlistValidator(walletIDs []string) *AllowlistValidator {
	allowed := make(map[string]struct{}, len(walletIDs))
	for _, id := range walletIDs {
		allowed[id] = struct{}{}
	}
	return &AllowlistValidator{allowed: allowed}
}

var _ Validator = (*AllowlistValidator)(nil)

// Validate implements Validator.
func (v *AllowlistValidator) Validate(_ context.Context, walletID string) (bool, error) {
	_, ok := v.allowed[walletID]
	return ok, nil
}
