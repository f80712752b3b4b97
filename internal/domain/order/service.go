package order

import (
	"context"
	"fmt"
	"time"
)

// Service applies status workflow changes to stored orders.
type Service struct {
	orders Repository
	now    func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository) *Service {
	return &Service{orders: orders, now: time.Now}
}

// Transition moves order id to status to if the workflow allows it.
func (s *Service) Transition(ctx context.Context, id string, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !CanTransition(o.Status, to) {
		return nil, &TransitionError{OrderID: id, From: o.Status, To: to}
	}

	if err := s.orders.UpdateStatus(ctx, id, o.Status, to); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	o.Status = to
	o.UpdatedAt = s.now()
	return o, nil
}

// RequestReturn asks for a delivered order to be returned.
func (s *Service) RequestReturn(ctx context.Context, id string) (*Order, error) {
	return s.Transition(ctx, id, StatusReturnRequested)
}

// History lists the orders placed by a customer, newest first.
func (s *Service) History(ctx context.Context, customerID string) ([]Order, error) {
	orders, err := s.orders.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
