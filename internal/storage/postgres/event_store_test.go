package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/storage"
	"solana-wallet-lab/internal/storage/postgres"
)

func ptr[T any](v T) *T { return &v }

func createTestEvent(sig, wallet string, observedAt int64) *domain.BuyEvent {
	return &domain.BuyEvent{
		TxSignature:  sig,
		WalletID:     wallet,
		TokenMint:    "So11111111111111111111111111111111111111112",
		TokenSymbol:  "TEST",
		ObservedAtMs: observedAt,
		EntryPrice:   0.0005,
		MarketCap:    ptr(125000.0),
		RecordedAtMs: observedAt + 10,
	}
}

func TestEventStore_AppendAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewEventStore(pool)

	event := createTestEvent("sig-001", "walletA", 1000)
	require.NoError(t, store.Append(ctx, event))

	retrieved, err := store.GetBySignature(ctx, "sig-001")
	require.NoError(t, err)

	assert.Equal(t, event.TxSignature, retrieved.TxSignature)
	assert.Equal(t, event.WalletID, retrieved.WalletID)
	assert.Equal(t, event.TokenMint, retrieved.TokenMint)
	assert.Equal(t, event.ObservedAtMs, retrieved.ObservedAtMs)
	assert.InDelta(t, event.EntryPrice, retrieved.EntryPrice, 1e-9)
	require.NotNil(t, retrieved.MarketCap)
	assert.InDelta(t, *event.MarketCap, *retrieved.MarketCap, 0.01)
}

func TestEventStore_DuplicateSignature(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewEventStore(pool)

	require.NoError(t, store.Append(ctx, createTestEvent("sig-001", "walletA", 1000)))

	err := store.Append(ctx, createTestEvent("sig-001", "walletB", 2000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestEventStore_GetByWalletAndLastObservedAt(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewEventStore(pool)

	require.NoError(t, store.Append(ctx, createTestEvent("sig-002", "walletA", 3000)))
	require.NoError(t, store.Append(ctx, createTestEvent("sig-001", "walletA", 1000)))
	require.NoError(t, store.Append(ctx, createTestEvent("sig-003", "walletB", 2000)))

	events, err := store.GetByWallet(ctx, "walletA")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sig-001", events[0].TxSignature)
	assert.Equal(t, "sig-002", events[1].TxSignature)

	last, err := store.LastObservedAt(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), last)

	_, err = store.LastObservedAt(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEventStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewEventStore(pool)

	_, err := store.GetBySignature(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
