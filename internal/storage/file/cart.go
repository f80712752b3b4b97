// Package file stores cart snapshots as JSON documents in a local directory,
// one file per cart key.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/gofrs/flock"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

const lockRetryDelay = 10 * time.Millisecond

// CartStore implements cart.Store on the local filesystem. Writers take an
// exclusive lock on a sidecar lock file, so two processes sharing the same
// directory see each other's versions.
type CartStore struct {
	dir string
}

// NewCartStore returns a CartStore rooted at dir, creating it if needed.
func NewCartStore(dir string) (*CartStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cart directory %q: %w", dir, err)
	}
	return &CartStore{dir: dir}, nil
}

// DefaultDir returns the per-user directory used when none is configured.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "user config dir")
	}
	return filepath.Join(base, "storefront"), nil
}

// Load reads the snapshot stored under key.
func (s *CartStore) Load(ctx context.Context, key string) (cart.Snapshot, error) {
	path, err := s.path(key)
	if err != nil {
		return cart.Snapshot{}, err
	}

	lock := flock.New(path + ".lock")
	if _, err := lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return cart.Snapshot{}, fmt.Errorf("locking cart %q: %w", key, err)
	}
	defer func() { _ = lock.Unlock() }()

	return readSnapshot(path)
}

// Save writes snap when the stored version equals expected. The document is
// written to a temporary file and renamed over the old one.
func (s *CartStore) Save(ctx context.Context, key string, snap cart.Snapshot, expected uint64) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if _, err := lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("locking cart %q: %w", key, err)
	}
	defer func() { _ = lock.Unlock() }()

	current, err := readSnapshot(path)
	if err != nil {
		return err
	}
	if current.Version != expected {
		return cart.ErrVersionConflict
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for cart %q: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(cart.MarshalSnapshot(snap)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing cart %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing cart %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cart %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing cart %q: %w", key, err)
	}
	return nil
}

// Ping checks that the directory is still writable.
func (s *CartStore) Ping(_ context.Context) error {
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return errors.Wrap(err, "cart directory not writable")
	}
	_ = f.Close()
	return os.Remove(f.Name())
}

func (s *CartStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", errors.Errorf("invalid cart key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func readSnapshot(path string) (cart.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cart.Snapshot{}, nil
		}
		return cart.Snapshot{}, fmt.Errorf("reading %q: %w", path, err)
	}
	snap, err := cart.UnmarshalSnapshot(data)
	if err != nil {
		return cart.Snapshot{}, fmt.Errorf("parsing %q: %w", path, err)
	}
	return snap, nil
}
