package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateScope/internal/model"
)

func TestStoreWriteAndLatest(t *testing.T) {
	dsn := os.Getenv("RATES_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RATES_TEST_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(ctx))

	pool := "0x3333333333333333333333333333333333333333"
	base := model.ExchangeRateRecord{
		ChainID:        1,
		Pool:           pool,
		Token0:         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Token1:         "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Reserve0:       "1606938044258990275541962092341162602522202993782792835301377",
		Reserve1:       "2000000000000000000000",
		VReserve0:      "1000000000000000000000",
		VReserve1:      "2000000000000000000000",
		FeeInPrecision: "3000000000000000",
		CollectedAt:    "2024-01-01T00:00:00Z",
	}

	older := base
	older.BlockNumber = 100
	older.BestSell0Buy1 = &model.TradeQuote{SellAmount: "5", BuyAmount: "10", ExchangeRate: "2"}
	newer := base
	newer.BlockNumber = 101
	newer.BestSell1Buy0 = &model.TradeQuote{SellAmount: "2", BuyAmount: "1", ExchangeRate: "0.5"}

	require.NoError(t, store.Write(ctx, older))
	require.NoError(t, store.Write(ctx, newer))
	// Rewriting the same block and pool replaces the row.
	require.NoError(t, store.Write(ctx, newer))

	got, ok, err := store.LatestRate(ctx, 1, pool)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer, got)

	_, ok, err = store.LatestRate(ctx, 1, "0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
}
