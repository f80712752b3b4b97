package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/storage/memory"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu        sync.Mutex
	createErr error
	created   []*order.Order
	calls     int
}

func (m *mockOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, o)
	return nil
}

func (m *mockOrderRepo) Get(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m *mockOrderRepo) ListByCustomer(context.Context, string) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepo) UpdateStatus(context.Context, string, order.Status, order.Status) error {
	return nil
}

type stubValidator struct {
	amount decimal.Decimal
	err    error
	codes  []string
}

func (v *stubValidator) Validate(_ context.Context, code string, _ []coupon.Item) (*coupon.Discount, error) {
	v.codes = append(v.codes, code)
	if v.err != nil {
		return nil, v.err
	}
	return &coupon.Discount{Code: code, Amount: v.amount}, nil
}

// clearFailingStore accepts saves until failClear is set.
type clearFailingStore struct {
	*memory.CartStore
	failClear bool
}

func (s *clearFailingStore) Save(ctx context.Context, key string, snap cart.Snapshot, expected uint64) error {
	if s.failClear && snap.IsEmpty() {
		return errors.New("disk full")
	}
	return s.CartStore.Save(ctx, key, snap, expected)
}

// writingRepo runs onCreate before confirming, standing in for another
// writer that touches the cart while the order is in flight.
type writingRepo struct {
	*mockOrderRepo
	onCreate func(ctx context.Context)
}

func (r *writingRepo) Create(ctx context.Context, o *order.Order) error {
	r.onCreate(ctx)
	return r.mockOrderRepo.Create(ctx, o)
}

// --- Helpers ---

func newService(t *testing.T, orders order.Repository, coupons coupon.Validator, cfg Config) *Service {
	t.Helper()
	s, err := NewService(orders, coupons, cfg)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	s.newID = func() string { return "order-1" }
	return s
}

func filledCart(t *testing.T, store cart.Store) *cart.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := cart.Open(ctx, store, "device")
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, cart.Line{ID: "p1", Name: "Tea", Price: decimal.RequireFromString("4.50"), Quantity: 2}))
	require.NoError(t, c.Add(ctx, cart.Line{ID: "p2", Name: "Cake", Price: decimal.RequireFromString("12.25"), Quantity: 1}))
	return c
}

// --- Tests ---

func TestCheckout_Success(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepo{}
	svc := newService(t, repo, nil, Config{})
	c := filledCart(t, memory.NewCartStore())

	o, err := svc.Checkout(ctx, c, Request{CustomerID: "alice"})
	require.NoError(t, err)

	require.Len(t, repo.created, 1)
	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, "alice", o.CustomerID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, 3, o.ItemCount())
	assert.Equal(t, "21.25", o.Subtotal.StringFixed(2))
	assert.True(t, o.Discounts.IsZero())
	assert.Equal(t, "21.25", o.Total.StringFixed(2))
	assert.Equal(t, "p1", o.Items[0].ProductID)
	assert.Equal(t, "Tea", o.Items[0].Name)

	assert.Empty(t, c.Lines())
	assert.Zero(t, c.TotalItems())
}

func TestCheckout_EmptyCart(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepo{}
	svc := newService(t, repo, nil, Config{})

	c, err := cart.Open(ctx, memory.NewCartStore(), "device")
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, c, Request{})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, repo.calls)
}

func TestCheckout_SubmitFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepo{createErr: errors.New("connection refused")}
	svc := newService(t, repo, nil, Config{})
	c := filledCart(t, memory.NewCartStore())
	before := c.Snapshot()

	o, err := svc.Checkout(ctx, c, Request{CustomerID: "alice"})
	require.Error(t, err)
	assert.Nil(t, o)

	var subErr *SubmitError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "order-1", subErr.OrderID)
	assert.Contains(t, err.Error(), "connection refused")

	after := c.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 3, c.TotalItems())
	assert.Equal(t, "21.25", c.TotalPrice().StringFixed(2))
}

func TestCheckout_Coupon(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepo{}
	v := &stubValidator{amount: decimal.RequireFromString("5")}
	svc := newService(t, repo, v, Config{})
	c := filledCart(t, memory.NewCartStore())

	o, err := svc.Checkout(ctx, c, Request{CouponCode: " save5 "})
	require.NoError(t, err)

	assert.Equal(t, []string{"SAVE5"}, v.codes)
	assert.Equal(t, "SAVE5", o.CouponCode)
	assert.Equal(t, "5.00", o.Discounts.StringFixed(2))
	assert.Equal(t, "16.25", o.Total.StringFixed(2))
}

func TestCheckout_TotalNeverNegative(t *testing.T) {
	ctx := context.Background()
	v := &stubValidator{amount: decimal.NewFromInt(100)}
	svc := newService(t, &mockOrderRepo{}, v, Config{})
	c := filledCart(t, memory.NewCartStore())

	o, err := svc.Checkout(ctx, c, Request{CouponCode: "BIG"})
	require.NoError(t, err)
	assert.True(t, o.Total.IsZero())
}

func TestCheckout_InvalidCouponKeepsCart(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepo{}
	v := &stubValidator{err: coupon.ErrCouponExpired}
	svc := newService(t, repo, v, Config{})
	c := filledCart(t, memory.NewCartStore())

	_, err := svc.Checkout(ctx, c, Request{CouponCode: "OLD"})
	require.ErrorIs(t, err, coupon.ErrCouponExpired)
	assert.Zero(t, repo.calls)
	assert.Equal(t, 3, c.TotalItems())
}

func TestCheckout_CouponWithoutValidator(t *testing.T) {
	svc := newService(t, &mockOrderRepo{}, nil, Config{})
	c := filledCart(t, memory.NewCartStore())

	_, err := svc.Checkout(context.Background(), c, Request{CouponCode: "ANY"})
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
}

func TestCheckout_ClearFailureReturnsOrder(t *testing.T) {
	ctx := context.Background()
	store := &clearFailingStore{CartStore: memory.NewCartStore()}
	repo := &mockOrderRepo{}
	svc := newService(t, repo, nil, Config{})
	c := filledCart(t, store)
	store.failClear = true

	o, err := svc.Checkout(ctx, c, Request{})
	require.Error(t, err)
	require.NotNil(t, o)
	assert.Contains(t, err.Error(), "clear cart after checkout")
	assert.Len(t, repo.created, 1)
	assert.Equal(t, 3, c.TotalItems())
}

func TestCheckout_BreakerOpens(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepo{createErr: errors.New("timeout")}
	svc := newService(t, repo, nil, Config{
		Breaker: BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute},
	})
	c := filledCart(t, memory.NewCartStore())

	for range 2 {
		_, err := svc.Checkout(ctx, c, Request{})
		require.Error(t, err)
	}
	require.Equal(t, 2, repo.calls)

	_, err := svc.Checkout(ctx, c, Request{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, repo.calls, "open breaker must not reach the store")
	assert.Equal(t, 3, c.TotalItems())
}

func TestCheckout_SubmitTimeout(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, slowRepo{&mockOrderRepo{}}, nil, Config{SubmitTimeout: 10 * time.Millisecond})
	c := filledCart(t, memory.NewCartStore())

	_, err := svc.Checkout(ctx, c, Request{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, c.TotalItems())
}

type slowRepo struct{ *mockOrderRepo }

func (slowRepo) Create(ctx context.Context, _ *order.Order) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCheckout_KeepsLinesAddedDuringSubmit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCartStore()
	c := filledCart(t, store)

	repo := &writingRepo{
		mockOrderRepo: &mockOrderRepo{},
		onCreate: func(ctx context.Context) {
			other, err := cart.Open(ctx, store, "device")
			require.NoError(t, err)
			require.NoError(t, other.Add(ctx, cart.Line{ID: "p9", Name: "Scone", Price: decimal.RequireFromString("3.00"), Quantity: 1}))
			require.NoError(t, other.Add(ctx, cart.Line{ID: "p1", Quantity: 1}))
		},
	}
	svc := newService(t, repo, nil, Config{})

	o, err := svc.Checkout(ctx, c, Request{CustomerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, o.ItemCount())

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.TotalItems())
	_, ok := snap.Line("p2")
	assert.False(t, ok, "ordered line must be removed")
	p1, ok := snap.Line("p1")
	require.True(t, ok)
	assert.Equal(t, 1, p1.Quantity, "only the unordered unit stays")
	p9, ok := snap.Line("p9")
	require.True(t, ok)
	assert.Equal(t, "Scone", p9.Name)

	stored, err := store.Load(ctx, "device")
	require.NoError(t, err)
	assert.Equal(t, snap.Version, stored.Version)
	assert.Equal(t, 2, stored.TotalItems())
}
