package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
)

type memUsers map[string]*customer.User

func (m memUsers) GetUser(_ context.Context, id string) (*customer.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return u, nil
}

type captureSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

var testUsers = memUsers{
	"u1": {ID: "u1", FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"},
}

func testOrder() *order.Order {
	return &order.Order{
		ID:              "o1",
		MerchantOrderID: "ORDID42",
		UserID:          "u1",
		Status:          order.StatusProcessing,
		Amount:          decimal.NewFromInt(250),
		DeliveryCharge:  decimal.NewFromInt(50),
		TotalTax:        decimal.RequireFromString("30.51"),
		Discount:        decimal.Zero,
		Items: []order.Item{
			{Name: "Kurta", Quantity: 2},
			{Name: "Scarf", Quantity: 1},
		},
	}
}

func TestDispatcher_OrderPlaced(t *testing.T) {
	s := &captureSender{}
	d := NewDispatcher(testUsers, s, 0)

	d.OrderPlaced(context.Background(), testOrder())
	d.Wait()

	require.Len(t, s.msgs, 1)
	m := s.msgs[0]
	assert.Equal(t, "asha@example.com", m.To)
	assert.Equal(t, "Asha Rao", m.Name)
	assert.Contains(t, m.Subject, "ORDID42")
	assert.Contains(t, m.Body, "Kurta + more")
	assert.Contains(t, m.Body, "Amount: 250.00")
	assert.Contains(t, m.Body, "Delivery charge: 50.00")
	assert.Contains(t, m.Body, "Tax included: 30.51")
}

func TestDispatcher_StatusChanged(t *testing.T) {
	tests := []struct {
		status order.Status
		phrase string
	}{
		{order.StatusProcessing, "is being processed."},
		{order.StatusBilled, "has been billed."},
		{order.StatusPacked, "has been packed."},
		{order.StatusShipped, "has been shipped."},
		{order.StatusDelivered, "has been delivered."},
		{order.StatusCancelled, "has been cancelled."},
		{order.StatusReturned, "has been returned."},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			s := &captureSender{}
			d := NewDispatcher(testUsers, s, 0)
			o := testOrder()
			o.Status = tt.status

			d.StatusChanged(context.Background(), o)
			d.Wait()

			require.Len(t, s.msgs, 1)
			assert.Contains(t, s.msgs[0].Body, "ORDID42 "+tt.phrase)
		})
	}
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	s := &captureSender{err: errors.New("smtp down")}
	d := NewDispatcher(testUsers, s, 0)

	assert.NotPanics(t, func() {
		d.OrderPlaced(context.Background(), testOrder())
		o := testOrder()
		o.UserID = "ghost"
		d.StatusChanged(context.Background(), o)
		d.Wait()
	})
	assert.Empty(t, s.msgs)
}

func TestDispatcher_CancelledRequestContext(t *testing.T) {
	s := &captureSender{}
	d := NewDispatcher(testUsers, s, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.StatusChanged(ctx, testOrder())
	d.Wait()

	assert.Len(t, s.msgs, 1)
}

func TestDispatcher_SnapshotsOrder(t *testing.T) {
	s := &captureSender{}
	d := NewDispatcher(testUsers, s, 0)

	o := testOrder()
	o.Status = order.StatusShipped
	d.StatusChanged(context.Background(), o)
	o.Status = order.StatusCancelled
	d.Wait()

	require.Len(t, s.msgs, 1)
	assert.Contains(t, s.msgs[0].Body, "has been shipped.")
}
