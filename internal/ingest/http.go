package ingest

import (
	"encoding/json"
	"errors"
	"net/http"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
)

// eventRequest is the inbound JSON shape for POST /events.
type eventRequest struct {
	TxSignature  string   `json:"tx_signature"`
	WalletID     string   `json:"wallet_id"`
	TokenMint    string   `json:"token_mint"`
	TokenSymbol  string   `json:"token_symbol,omitempty"`
	ObservedAtMs int64    `json:"observed_at_ms"`
	EntryPrice   float64  `json:"entry_price"`
	MarketCap    *float64 `json:"market_cap,omitempty"`
}

// Handler returns the ingest HTTP mux: POST /events and GET /healthz.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	event := &domain.BuyEvent{
		TxSignature:  req.TxSignature,
		WalletID:     req.WalletID,
		TokenMint:    req.TokenMint,
		TokenSymbol:  req.TokenSymbol,
		ObservedAtMs: req.ObservedAtMs,
		EntryPrice:   req.EntryPrice,
		MarketCap:    req.MarketCap,
	}

	if err := s.RecordBuyEvent(r.Context(), event); err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error().Err(err).Msg("record buy event failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
