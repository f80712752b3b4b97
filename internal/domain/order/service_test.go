package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID      map[string]*Order
	updateErr error
	updates   []string
}

func newOrderRepo(orders ...Order) *mockOrderRepo {
	m := &mockOrderRepo{byID: make(map[string]*Order)}
	for i := range orders {
		m.byID[orders[i].ID] = &orders[i]
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.byID[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) ListByCustomer(_ context.Context, customerID string) ([]Order, error) {
	var out []Order
	for _, o := range m.byID {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	o := m.byID[id]
	if o.Status != from {
		return ErrStatusChanged
	}
	o.Status = to
	m.updates = append(m.updates, string(from)+"->"+string(to))
	return nil
}

// --- Tests ---

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusPaid, StatusShipped, true},
		{StatusPaid, StatusCancelled, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, false},
		{StatusDelivered, StatusReturnRequested, true},
		{StatusReturnRequested, StatusReturned, true},
		{StatusReturnRequested, StatusDelivered, true},
		{StatusReturned, StatusDelivered, false},
		{StatusCancelled, StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Final(t *testing.T) {
	assert.True(t, StatusCancelled.Final())
	assert.True(t, StatusReturned.Final())
	assert.False(t, StatusPending.Final())
	assert.False(t, StatusReturnRequested.Final())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("return_requested")
	require.NoError(t, err)
	assert.Equal(t, StatusReturnRequested, st)

	_, err = ParseStatus("lost")
	require.Error(t, err)
}

func TestService_Transition(t *testing.T) {
	repo := newOrderRepo(Order{ID: "o1", Status: StatusPending})
	svc := NewService(repo)

	o, err := svc.Transition(context.Background(), "o1", StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, []string{"pending->paid"}, repo.updates)
}

func TestService_TransitionNotAllowed(t *testing.T) {
	repo := newOrderRepo(Order{ID: "o1", Status: StatusShipped})
	svc := NewService(repo)

	_, err := svc.Transition(context.Background(), "o1", StatusCancelled)

	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, StatusShipped, tErr.From)
	assert.Equal(t, StatusCancelled, tErr.To)
	assert.Empty(t, repo.updates)
}

func TestService_TransitionUnknownOrder(t *testing.T) {
	svc := NewService(newOrderRepo())

	_, err := svc.Transition(context.Background(), "missing", StatusPaid)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_TransitionUpdateError(t *testing.T) {
	repo := newOrderRepo(Order{ID: "o1", Status: StatusPending})
	repo.updateErr = errors.New("db write failed")
	svc := NewService(repo)

	_, err := svc.Transition(context.Background(), "o1", StatusPaid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update order status")
}

func TestService_RequestReturn(t *testing.T) {
	repo := newOrderRepo(
		Order{ID: "delivered", Status: StatusDelivered},
		Order{ID: "pending", Status: StatusPending},
	)
	svc := NewService(repo)

	o, err := svc.RequestReturn(context.Background(), "delivered")
	require.NoError(t, err)
	assert.Equal(t, StatusReturnRequested, o.Status)

	_, err = svc.RequestReturn(context.Background(), "pending")
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
}

func TestService_History(t *testing.T) {
	repo := newOrderRepo(
		Order{ID: "o1", CustomerID: "alice"},
		Order{ID: "o2", CustomerID: "bob"},
		Order{ID: "o3", CustomerID: "alice"},
	)

	orders, err := NewService(repo).History(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestOrder_ItemCount(t *testing.T) {
	o := Order{Items: []Item{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 3}}}
	assert.Equal(t, 5, o.ItemCount())
}
