// Package cart implements the customer's shopping cart: a small collection of
// product lines persisted to device-local storage after every mutation and
// drained by checkout once an order is confirmed.
package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalidQuantity is returned by UpdateQuantity under PolicyReject when
	// the requested quantity is below one.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	// ErrVersionConflict is returned by a Store when the stored snapshot no
	// longer has the expected version.
	ErrVersionConflict = errors.New("cart version conflict")
)

// QuantityError describes a rejected quantity update.
type QuantityError struct {
	ProductID string
	Quantity  int
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("quantity %d for product %s: must be greater than 0", e.Quantity, e.ProductID)
}

// Is makes errors.Is(err, ErrInvalidQuantity) match.
func (e *QuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// ConflictError is returned when a mutation kept losing the race against
// another writer of the same storage slot.
type ConflictError struct {
	Key      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cart %q: gave up after %d conflicting writes", e.Key, e.Attempts)
}

// Unwrap returns ErrVersionConflict.
func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// QuantityPolicy decides what UpdateQuantity does with a quantity below one.
type QuantityPolicy int

const (
	// PolicyReject leaves the cart unchanged and returns a *QuantityError.
	PolicyReject QuantityPolicy = iota
	// PolicyRemove treats the update as a removal of the line.
	PolicyRemove
)

// String returns the config name of the policy.
func (p QuantityPolicy) String() string {
	switch p {
	case PolicyRemove:
		return "remove"
	default:
		return "reject"
	}
}

// ParseQuantityPolicy maps a config value to a QuantityPolicy.
func ParseQuantityPolicy(s string) (QuantityPolicy, error) {
	switch s {
	case "", "reject":
		return PolicyReject, nil
	case "remove":
		return PolicyRemove, nil
	default:
		return PolicyReject, errors.Errorf("unknown quantity policy %q", s)
	}
}

// Store persists cart snapshots under a key.
type Store interface {
	// Load returns the stored snapshot, or a zero Snapshot when the key has
	// never been written.
	Load(ctx context.Context, key string) (Snapshot, error)
	// Save writes snap if the stored version still equals expected, and
	// returns ErrVersionConflict otherwise.
	Save(ctx context.Context, key string, snap Snapshot, expected uint64) error
}

// Option configures a Cart.
type Option func(*Cart)

// WithQuantityPolicy sets how non-positive quantity updates are handled.
func WithQuantityPolicy(p QuantityPolicy) Option {
	return func(c *Cart) { c.policy = p }
}

// WithMaxRetries bounds how many times a mutation is replayed after losing a
// write race.
func WithMaxRetries(n int) Option {
	return func(c *Cart) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Cart) { c.now = now }
}

// WithLogger sets the logger used for conflict diagnostics.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Cart) { c.lg = lg }
}

// Cart is the aggregate owned by one customer session. Mutations are
// serialized by an internal lock; cross-process writers are detected through
// the snapshot version and resolved by replaying the mutation on fresh state.
type Cart struct {
	store      Store
	key        string
	policy     QuantityPolicy
	maxRetries int
	now        func() time.Time
	lg         *zap.Logger

	mu   sync.Mutex
	snap Snapshot
}

// Open loads the cart stored under key, or starts an empty one.
func Open(ctx context.Context, store Store, key string, opts ...Option) (*Cart, error) {
	c := &Cart{
		store:      store,
		key:        key,
		policy:     PolicyReject,
		maxRetries: 3,
		now:        time.Now,
		lg:         zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}

	snap, err := store.Load(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	c.snap = snap
	return c, nil
}

// Key returns the storage key of the cart.
func (c *Cart) Key() string {
	return c.key
}

// Add puts a line into the cart. A quantity below one counts as one. When a
// line with the same id exists its quantity grows and its snapshot of name,
// price and image is kept.
func (c *Cart) Add(ctx context.Context, l Line) error {
	return c.apply(ctx, "add", func(s *Snapshot) (bool, error) {
		s.add(l)
		return true, nil
	})
}

// Remove drops the line with the given id. Removing an absent id is a no-op.
func (c *Cart) Remove(ctx context.Context, id string) error {
	return c.apply(ctx, "remove", func(s *Snapshot) (bool, error) {
		return s.remove(id), nil
	})
}

// UpdateQuantity sets the quantity of an existing line. Unknown ids are
// ignored. Quantities below one follow the configured QuantityPolicy.
func (c *Cart) UpdateQuantity(ctx context.Context, id string, qty int) error {
	return c.apply(ctx, "update_quantity", func(s *Snapshot) (bool, error) {
		return s.setQuantity(id, qty, c.policy)
	})
}

// Clear empties the cart.
func (c *Cart) Clear(ctx context.Context) error {
	return c.apply(ctx, "clear", func(s *Snapshot) (bool, error) {
		s.Lines = nil
		return true, nil
	})
}

// Deduct takes the quantities of lines out of the cart and drops lines that
// reach zero. Checkout uses it with the lines it ordered, so lines another
// writer added since the order was priced stay in the cart.
func (c *Cart) Deduct(ctx context.Context, lines []Line) error {
	return c.apply(ctx, "deduct", func(s *Snapshot) (bool, error) {
		return s.deduct(lines), nil
	})
}

// Reload replaces the in-memory state with what is currently stored.
func (c *Cart) Reload(ctx context.Context) error {
	snap, err := c.store.Load(ctx, c.key)
	if err != nil {
		return errors.Wrap(err, "load cart")
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	return c.Snapshot().Lines
}

// TotalItems returns the sum of quantities across all lines.
func (c *Cart) TotalItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.TotalItems()
}

// TotalPrice returns the sum of price * quantity across all lines.
func (c *Cart) TotalPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.TotalPrice()
}

// apply runs mutate against a copy of the state and persists the result with
// the current version as precondition. The in-memory state only changes once
// the store accepted the write or a replay found nothing to change.
func (c *Cart) apply(ctx context.Context, op string, mutate func(*Snapshot) (bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.snap
	for attempt := 1; ; attempt++ {
		next := base.Clone()
		changed, err := mutate(&next)
		if err != nil {
			return err
		}
		if !changed {
			c.snap = base
			return nil
		}
		next.Version = base.Version + 1
		next.UpdatedAt = c.now().UTC()

		err = c.store.Save(ctx, c.key, next, base.Version)
		if err == nil {
			c.snap = next
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return errors.Wrapf(err, "save cart after %s", op)
		}

		c.lg.Warn("Cart changed by another writer, replaying",
			zap.String("cart_key", c.key),
			zap.String("op", op),
			zap.Uint64("version", base.Version),
			zap.Int("attempt", attempt),
		)
		if attempt >= c.maxRetries {
			return &ConflictError{Key: c.key, Attempts: attempt}
		}

		fresh, err := c.store.Load(ctx, c.key)
		if err != nil {
			return errors.Wrap(err, "reload cart")
		}
		base = fresh
	}
}
