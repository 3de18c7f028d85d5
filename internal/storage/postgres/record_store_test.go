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

func createTestRecord(taskID string, measuredAt int64) *domain.PerformanceRecord {
	return &domain.PerformanceRecord{
		TaskID:        taskID,
		TxSignature:   "sig-" + taskID,
		WalletID:      "walletA",
		TokenMint:     "So11111111111111111111111111111111111111112",
		EntryPrice:    1.0,
		HighestPrice:  ptr(1.5),
		HighestAtMs:   ptr(measuredAt - 60_000),
		HighestPnlPct: ptr(50.0),
		LowestPrice:   ptr(0.8),
		LowestPnlPct:  ptr(-20.0),
		ClosePrice:    ptr(1.2),
		CurrentPnlPct: ptr(20.0),
		WindowStartMs: measuredAt - 14_400_000,
		WindowEndMs:   measuredAt,
		DataQuality:   domain.QualityComplete,
		MeasuredAtMs:  measuredAt,
	}
}

func TestRecordStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewRecordStore(pool)

	insertTestTask(t, ctx, pool, "task-1", 1000)
	rec := createTestRecord("task-1", 5000)
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.GetByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, rec.TaskID, got.TaskID)
	assert.Equal(t, rec.WalletID, got.WalletID)
	require.NotNil(t, got.HighestPnlPct)
	assert.InDelta(t, 50.0, *got.HighestPnlPct, 1e-9)
	require.NotNil(t, got.HighestAtMs)
	assert.Equal(t, int64(5000-60_000), *got.HighestAtMs)
	assert.Equal(t, domain.QualityComplete, got.DataQuality)
}

func TestRecordStore_OneRecordPerTask(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewRecordStore(pool)

	insertTestTask(t, ctx, pool, "task-1", 1000)
	require.NoError(t, store.Insert(ctx, createTestRecord("task-1", 5000)))

	err := store.Insert(ctx, createTestRecord("task-1", 6000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRecordStore_NullableFieldsRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewRecordStore(pool)

	insertTestTask(t, ctx, pool, "task-1", 1000)
	rec := &domain.PerformanceRecord{
		TaskID:        "task-1",
		TxSignature:   "sig-task-1",
		WalletID:      "walletA",
		TokenMint:     "So11111111111111111111111111111111111111112",
		EntryPrice:    1.0,
		WindowStartMs: 1000,
		WindowEndMs:   5000,
		DataQuality:   domain.QualityUnavailable,
		MeasuredAtMs:  5000,
	}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.GetByTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Nil(t, got.HighestPrice)
	assert.Nil(t, got.HighestAtMs)
	assert.Nil(t, got.HighestPnlPct)
	assert.Nil(t, got.LowestPrice)
	assert.Nil(t, got.LowestPnlPct)
	assert.Nil(t, got.ClosePrice)
	assert.Nil(t, got.CurrentPnlPct)
	assert.Equal(t, domain.QualityUnavailable, got.DataQuality)
	assert.False(t, got.Usable())
}

func TestRecordStore_GetByWalletOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewRecordStore(pool)

	insertTestTask(t, ctx, pool, "task-1", 1000)
	insertTestTask(t, ctx, pool, "task-2", 1000)
	insertTestTask(t, ctx, pool, "task-3", 1000)

	require.NoError(t, store.Insert(ctx, createTestRecord("task-2", 7000)))
	require.NoError(t, store.Insert(ctx, createTestRecord("task-1", 5000)))
	require.NoError(t, store.Insert(ctx, createTestRecord("task-3", 9000)))

	got, err := store.GetByWallet(ctx, "walletA")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "task-1", got[0].TaskID)
	assert.Equal(t, "task-2", got[1].TaskID)
	assert.Equal(t, "task-3", got[2].TaskID)

	got, err = store.GetByWallet(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.GetByTask(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
