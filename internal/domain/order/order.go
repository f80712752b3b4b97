package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order id is unknown.
	ErrNotFound = errors.New("order not found")
	// ErrStatusChanged is returned by UpdateStatus when the stored status is
	// no longer the expected one.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// Order is a placed customer order as kept by the order store.
type Order struct {
	ID         string
	CustomerID string
	Items      []Item
	Subtotal   decimal.Decimal
	Discounts  decimal.Decimal
	Total      decimal.Decimal
	CouponCode string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ItemCount returns the number of units across all items.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Item is a single order line. UnitPrice is the price the customer saw when
// the product went into the cart.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	// UpdateStatus moves the order from one status to another and fails with
	// ErrStatusChanged if it is no longer in from.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}
