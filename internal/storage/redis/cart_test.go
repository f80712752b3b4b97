package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
)

// setupTestRedis creates a miniredis server and a CartStore pointing at it.
func setupTestRedis(t *testing.T, ttl time.Duration) (*CartStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartStore(client, ttl), mr
}

func TestLoad_Missing(t *testing.T) {
	s, _ := setupTestRedis(t, 0)

	snap, err := s.Load(context.Background(), "device")
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestRedis(t, 0)

	snap := cart.Snapshot{
		Version: 1,
		Lines:   []cart.Line{{ID: "p1", Name: "Tea", Price: decimal.RequireFromString("4.20"), Quantity: 3}},
	}
	require.NoError(t, s.Save(ctx, "device", snap, 0))
	assert.True(t, mr.Exists("storefront:cart:device"))

	got, err := s.Load(ctx, "device")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, 3, got.TotalItems())
	assert.True(t, decimal.RequireFromString("12.6").Equal(got.TotalPrice()))
}

func TestSave_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestRedis(t, 0)

	require.NoError(t, s.Save(ctx, "device", cart.Snapshot{Version: 1}, 0))

	err := s.Save(ctx, "device", cart.Snapshot{Version: 1}, 0)
	require.ErrorIs(t, err, cart.ErrVersionConflict)
}

func TestSave_TTL(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestRedis(t, time.Hour)

	require.NoError(t, s.Save(ctx, "device", cart.Snapshot{Version: 1}, 0))
	assert.Equal(t, time.Hour, mr.TTL("storefront:cart:device"))

	mr.FastForward(2 * time.Hour)
	snap, err := s.Load(ctx, "device")
	require.NoError(t, err)
	assert.Zero(t, snap.Version)
}

func TestLoad_Corrupt(t *testing.T) {
	s, mr := setupTestRedis(t, 0)
	require.NoError(t, mr.Set("storefront:cart:device", "not json"))

	_, err := s.Load(context.Background(), "device")
	require.Error(t, err)
}

func TestLoad_ServerDown(t *testing.T) {
	s, mr := setupTestRedis(t, 0)
	mr.Close()

	_, err := s.Load(context.Background(), "device")
	require.Error(t, err)
	require.Error(t, s.Ping(context.Background()))
}

func TestCartOverRedis(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestRedis(t, 0)

	c, err := cart.Open(ctx, s, "device")
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, cart.Line{ID: "p1", Name: "Tea", Price: decimal.NewFromInt(100), Quantity: 2}))
	require.NoError(t, c.UpdateQuantity(ctx, "p1", 5))

	reopened, err := cart.Open(ctx, s, "device")
	require.NoError(t, err)
	assert.Equal(t, 5, reopened.TotalItems())
	assert.Equal(t, uint64(2), reopened.Snapshot().Version)
}
