// Package ingest is the inbound edge of the pipeline: it validates buy
// events from the external collaborator, appends them to the event
// store, and enqueues their measurement tasks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/observability"
	"solana-wallet-lab/internal/scheduler"
	"solana-wallet-lab/internal/storage"
)

// solanaAddressLen is the decoded byte length of a Solana public key.
const solanaAddressLen = 32

// PriceQuoter answers spot-price lookups for a mint. The gateway
// satisfies this.
type PriceQuoter interface {
	FetchPrice(ctx context.Context, tokenMint string) (float64, error)
}

// MintSubscriber is notified of every mint the pipeline starts
// tracking, so push-based price feeds can begin caching quotes.
type MintSubscriber interface {
	Subscribe(mints ...string) error
}

// Service records buy events idempotently.
type Service struct {
	events  storage.EventStore
	sched   *scheduler.Scheduler
	logger  zerolog.Logger
	metrics *observability.Metrics
	quoter  PriceQuoter
	stream  MintSubscriber

	nowMs func() int64
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics enables intake instrumentation.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPriceQuoter enables entry-price backfill: events arriving with a
// zero entry price get the quoter's current spot price instead of
// terminal-failing later in the evaluator.
func WithPriceQuoter(q PriceQuoter) ServiceOption {
	return func(s *Service) {
		s.quoter = q
	}
}

// WithMintSubscriber registers every recorded event's mint with sub.
func WithMintSubscriber(sub MintSubscriber) ServiceOption {
	return func(s *Service) {
		s.stream = sub
	}
}

// NewService creates an ingest service.
func NewService(events storage.EventStore, sched *scheduler.Scheduler, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		events: events,
		sched:  sched,
		logger: logger,
		nowMs:  nowMillis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordBuyEvent validates and persists one buy event, then enqueues
// its measurement task. Re-sending an already recorded tx signature is
// a no-op, never an error, so the collaborator can retry freely.
func (s *Service) RecordBuyEvent(ctx context.Context, event *domain.BuyEvent) error {
	if reason, err := validateEvent(event); err != nil {
		if s.metrics != nil {
			s.metrics.EventsRejected.WithLabelValues(reason).Inc()
		}
		return err
	}
	if event.RecordedAtMs == 0 {
		event.RecordedAtMs = s.nowMs()
	}
	if event.EntryPrice == 0 {
		s.backfillEntryPrice(ctx, event)
	}
	if s.stream != nil {
		if err := s.stream.Subscribe(event.TokenMint); err != nil {
			s.logger.Warn().Err(err).
				Str("token_mint", event.TokenMint).
				Msg("mint subscription failed")
		}
	}

	if err := s.events.Append(ctx, event); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			if s.metrics != nil {
				s.metrics.EventsDuplicate.Inc()
			}
			s.logger.Debug().
				Str("tx_signature", event.TxSignature).
				Msg("duplicate buy event ignored")
			// The task may still be missing if a prior attempt crashed
			// between append and enqueue; Enqueue is itself idempotent.
			if _, err := s.sched.Enqueue(ctx, event); err != nil {
				return fmt.Errorf("enqueue for existing event: %w", err)
			}
			return nil
		}
		return fmt.Errorf("append event: %w", err)
	}

	if _, err := s.sched.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	if s.metrics != nil {
		s.metrics.EventsRecorded.Inc()
	}
	s.logger.Info().
		Str("tx_signature", event.TxSignature).
		Str("wallet_id", event.WalletID).
		Str("token_mint", event.TokenMint).
		Msg("buy event recorded")
	return nil
}

// validateEvent rejects structurally malformed events before they reach
// storage. Price validity beyond positivity is the evaluator's concern.
// The first return value labels the rejection for metrics.
func validateEvent(event *domain.BuyEvent) (string, error) {
	if event == nil {
		return "nil_event", fmt.Errorf("%w: nil event", storage.ErrInvalidInput)
	}
	if event.TxSignature == "" {
		return "tx_signature", fmt.Errorf("%w: empty tx signature", storage.ErrInvalidInput)
	}
	if err := validateAddress(event.WalletID); err != nil {
		return "wallet_id", fmt.Errorf("%w: wallet id: %v", storage.ErrInvalidInput, err)
	}
	if err := validateAddress(event.TokenMint); err != nil {
		return "token_mint", fmt.Errorf("%w: token mint: %v", storage.ErrInvalidInput, err)
	}
	if event.ObservedAtMs <= 0 {
		return "observed_at", fmt.Errorf("%w: missing observed_at", storage.ErrInvalidInput)
	}
	if event.EntryPrice < 0 {
		return "entry_price", fmt.Errorf("%w: negative entry price", storage.ErrInvalidInput)
	}
	return "", nil
}

// backfillEntryPrice fills a missing entry price from the quoter's
// current spot price. A failed quote leaves the price at zero; the
// evaluator fails that task terminally, which is still the right
// outcome for an event with no usable baseline.
func (s *Service) backfillEntryPrice(ctx context.Context, event *domain.BuyEvent) {
	if s.quoter == nil {
		return
	}
	price, err := s.quoter.FetchPrice(ctx, event.TokenMint)
	if err != nil || price <= 0 {
		s.logger.Warn().Err(err).
			Str("token_mint", event.TokenMint).
			Msg("entry price backfill failed")
		return
	}
	event.EntryPrice = price
	s.logger.Debug().
		Str("token_mint", event.TokenMint).
		Float64("entry_price", price).
		Msg("entry price backfilled from spot quote")
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// validateAddress checks that s is a base58-encoded 32-byte key.
func validateAddress(s string) error {
	if s == "" {
		return fmt.Errorf("empty address")
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("not base58: %w", err)
	}
	if len(decoded) != solanaAddressLen {
		return fmt.Errorf("decoded length %d, want %d", len(decoded), solanaAddressLen)
	}
	return nil
}
