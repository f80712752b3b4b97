// Package redis stores cart snapshots in a Redis instance local to the device.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store with one string value per cart. Version
// preconditions are enforced with WATCH/MULTI.
type CartStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartStore returns a CartStore. A zero ttl keeps carts until cleared.
func NewCartStore(client *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{client: client, ttl: ttl}
}

// Load returns the snapshot stored under key.
func (s *CartStore) Load(ctx context.Context, key string) (cart.Snapshot, error) {
	data, err := s.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.Snapshot{}, nil
	}
	if err != nil {
		return cart.Snapshot{}, fmt.Errorf("redis get cart %q: %w", key, err)
	}
	return cart.UnmarshalSnapshot(data)
}

// Save writes snap when the stored version equals expected.
func (s *CartStore) Save(ctx context.Context, key string, snap cart.Snapshot, expected uint64) error {
	k := cacheKey(key)
	payload := cart.MarshalSnapshot(snap)

	txf := func(tx *redis.Tx) error {
		var current uint64
		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get cart %q: %w", key, err)
		default:
			stored, err := cart.UnmarshalSnapshot(data)
			if err != nil {
				return err
			}
			current = stored.Version
		}
		if current != expected {
			return cart.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, s.ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, k)
	if errors.Is(err, redis.TxFailedErr) {
		return cart.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, cart.ErrVersionConflict) {
		return fmt.Errorf("redis save cart %q: %w", key, err)
	}
	return err
}

// Ping checks connectivity.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cacheKey(key string) string {
	return fmt.Sprintf("storefront:cart:%s", key)
}
