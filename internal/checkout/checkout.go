// Package checkout turns the current cart into a placed order.
//
// The cart is read once, priced from the snapshot it holds and submitted to
// the order store. The ordered lines are removed only after the store
// confirmed the order. Any
// failure before that point leaves the cart as it was so the customer can
// retry without selecting products again.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

// ErrEmptyCart is returned when checkout is attempted with no lines.
var ErrEmptyCart = errors.New("cart is empty")

// SubmitError indicates the order store did not confirm the order. The cart
// is unchanged.
type SubmitError struct {
	OrderID string
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit order %s: %v", e.OrderID, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Request holds the customer input of a checkout.
type Request struct {
	CustomerID string
	CouponCode string
}

// BreakerConfig controls the circuit breaker around order submission.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Config holds non-dependency configuration for the Service.
type Config struct {
	SubmitTimeout  time.Duration
	Breaker        BreakerConfig
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service places orders from carts.
type Service struct {
	orders        order.Repository
	coupons       coupon.Validator
	breaker       *gobreaker.CircuitBreaker[struct{}]
	submitTimeout time.Duration
	now           func() time.Time
	newID         func() string

	tracer   trace.Tracer
	placed   metric.Int64Counter
	failures metric.Int64Counter
}

// NewService creates a checkout Service. coupons may be nil, in which case
// coupon codes are rejected.
func NewService(orders order.Repository, coupons coupon.Validator, cfg Config) (*Service, error) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 5
	}

	meter := cfg.MeterProvider.Meter("github.com/xenking/storefront/internal/checkout")
	placed, err := meter.Int64Counter("storefront.checkout.orders",
		metric.WithDescription("Orders confirmed by the order store"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	failures, err := meter.Int64Counter("storefront.checkout.failures",
		metric.WithDescription("Checkouts that did not produce an order"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create failures counter")
	}

	maxFailures := cfg.Breaker.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "order-submit",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Cancellation by the caller says nothing about the order store.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Service{
		orders:        orders,
		coupons:       coupons,
		breaker:       breaker,
		submitTimeout: cfg.SubmitTimeout,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
		tracer:        cfg.TracerProvider.Tracer("github.com/xenking/storefront/internal/checkout"),
		placed:        placed,
		failures:      failures,
	}, nil
}

// Checkout places an order for the current contents of c and takes the
// ordered lines out of c once the order store confirmed it. If that fails
// after a confirmed order, the placed order is returned together with the
// error.
func (s *Service) Checkout(ctx context.Context, c *cart.Cart, req Request) (*order.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("cart.key", c.Key())),
	)
	defer span.End()

	snap := c.Snapshot()
	if snap.IsEmpty() {
		s.fail(ctx, span, "empty", ErrEmptyCart)
		return nil, ErrEmptyCart
	}

	o, err := s.buildOrder(ctx, snap, req)
	if err != nil {
		s.fail(ctx, span, "pricing", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.Int("order.items", o.ItemCount()),
		attribute.String("order.total", o.Total.StringFixed(2)),
	)

	if err := s.submit(ctx, o); err != nil {
		err = &SubmitError{OrderID: o.ID, Err: err}
		s.fail(ctx, span, "submit", err)
		return nil, err
	}
	s.placed.Add(ctx, 1)

	lg := zctx.From(ctx)
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Int("items", o.ItemCount()),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Uint64("cart_version", snap.Version),
	)

	// Only the ordered quantities leave the cart. Lines added by another
	// writer after the snapshot was taken survive.
	if err := c.Deduct(ctx, snap.Lines); err != nil {
		lg.Warn("Order placed but cart not cleared", zap.String("order_id", o.ID), zap.Error(err))
		span.RecordError(err)
		return o, errors.Wrap(err, "clear cart after checkout")
	}
	return o, nil
}

// buildOrder prices the snapshot and applies the coupon, if any.
func (s *Service) buildOrder(ctx context.Context, snap cart.Snapshot, req Request) (*order.Order, error) {
	items := make([]order.Item, len(snap.Lines))
	couponItems := make([]coupon.Item, len(snap.Lines))
	for i, l := range snap.Lines {
		items[i] = order.Item{
			ProductID: l.ID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Price,
		}
		couponItems[i] = coupon.Item{
			ProductID: l.ID,
			Price:     l.Price,
			Quantity:  l.Quantity,
		}
	}
	subtotal := snap.TotalPrice()

	discount := decimal.Zero
	code := coupon.NormalizeCode(req.CouponCode)
	if code != "" {
		if s.coupons == nil {
			return nil, coupon.ErrInvalidCoupon
		}
		d, err := s.coupons.Validate(ctx, code, couponItems)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		discount = d.Amount
	}

	// Total = subtotal - discount, floored at zero and rounded to cents.
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	now := s.now().UTC()
	return &order.Order{
		ID:         s.newID(),
		CustomerID: req.CustomerID,
		Items:      items,
		Subtotal:   subtotal.Round(2),
		Discounts:  discount.Round(2),
		Total:      total.Round(2),
		CouponCode: code,
		Status:     order.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) submit(ctx context.Context, o *order.Order) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		submitCtx := ctx
		if s.submitTimeout > 0 {
			var cancel context.CancelFunc
			submitCtx, cancel = context.WithTimeout(ctx, s.submitTimeout)
			defer cancel()
		}
		return struct{}{}, s.orders.Create(submitCtx, o)
	})
	return err
}

func (s *Service) fail(ctx context.Context, span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	zctx.From(ctx).Warn("Checkout failed", zap.String("stage", stage), zap.Error(err))
}
