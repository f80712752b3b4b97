// Package memory provides an in-process cart store. State lives as encoded
// documents so every load goes through the same codec as the durable stores.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps cart snapshots in a map.
type CartStore struct {
	mu    sync.Mutex
	slots map[string][]byte
}

// NewCartStore returns an empty CartStore.
func NewCartStore() *CartStore {
	return &CartStore{slots: make(map[string][]byte)}
}

// Load returns the snapshot stored under key.
func (s *CartStore) Load(_ context.Context, key string) (cart.Snapshot, error) {
	s.mu.Lock()
	data, ok := s.slots[key]
	s.mu.Unlock()
	if !ok {
		return cart.Snapshot{}, nil
	}
	return cart.UnmarshalSnapshot(data)
}

// Save stores snap when the current version equals expected.
func (s *CartStore) Save(_ context.Context, key string, snap cart.Snapshot, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if data, ok := s.slots[key]; ok {
		stored, err := cart.UnmarshalSnapshot(data)
		if err != nil {
			return err
		}
		current = stored.Version
	}
	if current != expected {
		return cart.ErrVersionConflict
	}
	s.slots[key] = cart.MarshalSnapshot(snap)
	return nil
}
