package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
)

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*Order

	listQuery   ListQuery
	countFilter Filter
	listResult  []Order
	countResult int64
	listErr     error

	refundUpdates []RefundUpdate
	statusCounts  map[Status]int64
	sales         map[string]decimal.Decimal
	counts        map[string]int64
}

func newMockOrderRepo(orders ...*Order) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[string]*Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) GetByMerchantRefundID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.MerchantRefundID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, from, to Status) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != from {
		return nil, ErrStatusConflict
	}
	o.Status = to
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) MarkPaid(_ context.Context, id, tx string) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.PayStatus != PayPending {
		return "", false, nil
	}
	o.PayStatus = PayCompleted
	o.TransactionID = tx
	return o.Status, true, nil
}

func (m *mockOrderRepo) ReserveRefund(_ context.Context, id, merchantRefundID string, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	if o.PayStatus != PayCompleted || !Refundable(o.RefundStatus) {
		return false, nil
	}
	o.MerchantRefundID = merchantRefundID
	o.RefundID = ""
	o.RefundAmount = decimal.NewNullDecimal(amount)
	o.RefundStatus = RefundRequested
	return true, nil
}

func (m *mockOrderRepo) SetPayStatus(_ context.Context, id string, st PayStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id].PayStatus = st
	return nil
}

func (m *mockOrderRepo) UpdateRefund(_ context.Context, id string, u RefundUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refundUpdates = append(m.refundUpdates, u)
	o := m.orders[id]
	if u.MerchantRefundID != nil {
		o.MerchantRefundID = *u.MerchantRefundID
	}
	if u.RefundID != nil {
		o.RefundID = *u.RefundID
	}
	if u.PayStatus != nil {
		o.PayStatus = *u.PayStatus
	}
	o.RefundStatus = u.RefundStatus
	return nil
}

func (m *mockOrderRepo) List(_ context.Context, q ListQuery) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listQuery = q
	return m.listResult, m.listErr
}

func (m *mockOrderRepo) Count(_ context.Context, f Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countFilter = f
	return m.countResult, nil
}

func (m *mockOrderRepo) StatusCounts(context.Context) (map[Status]int64, error) {
	return m.statusCounts, nil
}

func (m *mockOrderRepo) SalesBetween(_ context.Context, _ Status, from, _ time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sales[from.Format(time.DateOnly)], nil
}

func (m *mockOrderRepo) CountBetween(_ context.Context, from, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[from.Format(time.DateOnly)], nil
}

type mockNotifier struct {
	mu      sync.Mutex
	changed []Status
}

func (n *mockNotifier) StatusChanged(_ context.Context, o *Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, o.Status)
}

type mockRefunder struct {
	calls      int
	refund     payment.Refund
	refundErr  error
	status     payment.Refund
	lastAmount decimal.Decimal
	lastOrigID string
}

func (r *mockRefunder) Refund(_ context.Context, merchantRefundID, orig string, amount decimal.Decimal) (payment.Refund, error) {
	r.calls++
	r.lastAmount = amount
	r.lastOrigID = orig
	res := r.refund
	res.MerchantRefundID = merchantRefundID
	return res, r.refundErr
}

func (r *mockRefunder) RefundStatus(context.Context, string) (payment.Refund, error) {
	return r.status, nil
}

type mockStock struct {
	restocked []inventory.Item
}

func (s *mockStock) Restock(_ context.Context, items []inventory.Item) error {
	s.restocked = append(s.restocked, items...)
	return nil
}

type fixedIDs struct{}

func (fixedIDs) RefundID() string { return "RFDID1" }

func newTestService(repo *mockOrderRepo) (*Service, *mockNotifier, *mockRefunder, *mockStock) {
	n := &mockNotifier{}
	r := &mockRefunder{}
	st := &mockStock{}
	return NewService(repo, n, r, st, fixedIDs{}, time.UTC), n, r, st
}

func testOrder(status Status) *Order {
	return &Order{
		ID:              "o1",
		MerchantOrderID: "ORDID1",
		UserID:          "u1",
		PayMode:         PayModeCOD,
		PayStatus:       PayPending,
		Status:          status,
		Amount:          decimal.NewFromInt(250),
		Items:           []Item{{ProductID: "p1", Quantity: 2}},
	}
}

var (
	owner    = auth.Identity{UserID: "u1", Role: auth.RoleUser}
	stranger = auth.Identity{UserID: "u2", Role: auth.RoleUser}
	admin    = auth.Identity{UserID: "a1", Role: auth.RoleAdmin}
)

func TestService_Cancel(t *testing.T) {
	tests := []struct {
		from    Status
		wantErr error
	}{
		{StatusProcessing, nil},
		{StatusBilled, nil},
		{StatusPacked, nil},
		{StatusShipped, nil},
		{StatusDelivered, ErrCannotCancel},
		{StatusCancelled, ErrCannotCancel},
		{StatusReturned, ErrCannotCancel},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			repo := newMockOrderRepo(testOrder(tt.from))
			svc, n, _, st := newTestService(repo)

			o, err := svc.Cancel(context.Background(), owner, "o1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, n.changed)
				assert.Equal(t, tt.from, repo.orders["o1"].Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, o.Status)
			assert.Equal(t, []Status{StatusCancelled}, n.changed)
			assert.Equal(t, []inventory.Item{{ProductID: "p1", Quantity: 2}}, st.restocked, "COD stock returns on cancel")
		})
	}
}

func TestService_CancelUnpaidOnlineDoesNotRestock(t *testing.T) {
	o := testOrder(StatusProcessing)
	o.PayMode = PayModeOnline
	repo := newMockOrderRepo(o)
	svc, _, _, st := newTestService(repo)

	_, err := svc.Cancel(context.Background(), owner, "o1")
	require.NoError(t, err)
	assert.Empty(t, st.restocked)
}

func TestService_CancelRestocksFromUpdatedRow(t *testing.T) {
	o := testOrder(StatusProcessing)
	o.PayMode = PayModeOnline
	repo := newMockOrderRepo(o)
	svc, _, _, st := newTestService(repo)

	// Payment landed between the read and the cancel.
	stale := *o
	repo.orders["o1"].PayStatus = PayCompleted
	_, err := svc.transition(context.Background(), &stale, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, []inventory.Item{{ProductID: "p1", Quantity: 2}}, st.restocked)
}

func TestService_Return(t *testing.T) {
	for _, from := range Statuses {
		t.Run(string(from), func(t *testing.T) {
			repo := newMockOrderRepo(testOrder(from))
			svc, n, _, st := newTestService(repo)

			o, err := svc.Return(context.Background(), owner, "o1")
			if from != StatusDelivered {
				require.ErrorIs(t, err, ErrCannotReturn)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusReturned, o.Status)
			assert.Equal(t, []Status{StatusReturned}, n.changed)
			assert.Empty(t, st.restocked)
		})
	}
}

func TestService_Ownership(t *testing.T) {
	repo := newMockOrderRepo(testOrder(StatusProcessing))
	svc, _, _, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Cancel(ctx, stranger, "o1")
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Get(ctx, stranger, "o1")
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Get(ctx, admin, "o1")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, admin, "o1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, owner, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestService_ConcurrentCancelConflict(t *testing.T) {
	repo := newMockOrderRepo(testOrder(StatusProcessing))
	svc, _, _, _ := newTestService(repo)

	// Status moved on after the read: the conditional update must refuse.
	stale := testOrder(StatusProcessing)
	repo.orders["o1"].Status = StatusPacked
	_, err := svc.transition(context.Background(), stale, StatusCancelled)
	require.ErrorIs(t, err, ErrStatusConflict)
	assert.Equal(t, StatusPacked, repo.orders["o1"].Status)
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		wantErr  error
	}{
		{StatusProcessing, StatusBilled, nil},
		{StatusProcessing, StatusShipped, nil},
		{StatusShipped, StatusDelivered, nil},
		{StatusBilled, StatusProcessing, ErrInvalidTransition},
		{StatusProcessing, StatusProcessing, ErrInvalidTransition},
		{StatusDelivered, StatusShipped, ErrInvalidTransition},
		{StatusCancelled, StatusBilled, ErrInvalidTransition},
		{StatusReturned, StatusDelivered, ErrInvalidTransition},
		{StatusShipped, StatusCancelled, nil},
		{StatusDelivered, StatusCancelled, ErrCannotCancel},
		{StatusDelivered, StatusReturned, nil},
		{StatusShipped, StatusReturned, ErrCannotReturn},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_UpdateStatusNotifies(t *testing.T) {
	repo := newMockOrderRepo(testOrder(StatusProcessing))
	svc, n, _, _ := newTestService(repo)

	o, err := svc.UpdateStatus(context.Background(), "o1", StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, []Status{StatusShipped}, n.changed)
}

func TestService_ListUsesSameFilterForCount(t *testing.T) {
	repo := newMockOrderRepo()
	repo.listResult = []Order{*testOrder(StatusDelivered)}
	repo.countResult = 1
	svc, _, _, _ := newTestService(repo)
	svc.loc = time.FixedZone("IST", 5*3600+1800)

	page, err := svc.List(context.Background(), ListRequest{
		Status:    "delivered",
		FromDate:  "2025-06-01",
		ToDate:    "2025-06-30",
		SortBy:    "total",
		SortOrder: "asc",
		Page:      2,
		Entries:   10,
	})
	require.NoError(t, err)

	assert.Equal(t, repo.listQuery.Filter, repo.countFilter)
	assert.Equal(t, int64(1), page.TotalEntries)
	assert.Len(t, page.Orders, 1)
	assert.Equal(t, 2, page.Page)

	f := repo.countFilter
	assert.Equal(t, StatusDelivered, f.Status)
	assert.Equal(t, time.Date(2025, 5, 31, 18, 30, 0, 0, time.UTC), f.From.UTC())
	assert.Equal(t, time.Date(2025, 6, 30, 18, 29, 59, 999999999, time.UTC), f.To.UTC())
	assert.Equal(t, SortTotal, repo.listQuery.SortBy)
	assert.True(t, repo.listQuery.Asc)
}

func TestService_ListValidation(t *testing.T) {
	svc, _, _, _ := newTestService(newMockOrderRepo())
	ctx := context.Background()

	for name, req := range map[string]ListRequest{
		"status":        {Status: "lost"},
		"pay mode":      {PayMode: "CARD"},
		"pay status":    {PayStatus: "maybe"},
		"delivery type": {DeliveryType: "Drone"},
		"from date":     {FromDate: "01/06/2025"},
		"sort by":       {SortBy: "price"},
		"sort order":    {SortOrder: "up"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.List(ctx, req)
			require.Error(t, err)
		})
	}
}

func TestService_ListPropagatesError(t *testing.T) {
	repo := newMockOrderRepo()
	repo.listErr = errors.New("db down")
	svc, _, _, _ := newTestService(repo)

	_, err := svc.List(context.Background(), ListRequest{})
	require.Error(t, err)
}

func TestService_RequestRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("unpaid order", func(t *testing.T) {
		repo := newMockOrderRepo(testOrder(StatusDelivered))
		svc, _, _, _ := newTestService(repo)

		_, _, err := svc.RequestRefund(ctx, "o1", decimal.NullDecimal{})
		require.ErrorIs(t, err, ErrNotRefundable)
	})

	t.Run("amount above order amount", func(t *testing.T) {
		o := testOrder(StatusDelivered)
		o.PayStatus = PayCompleted
		svc, _, _, _ := newTestService(newMockOrderRepo(o))

		_, _, err := svc.RequestRefund(ctx, "o1", decimal.NewNullDecimal(decimal.NewFromInt(300)))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("full refund by default", func(t *testing.T) {
		o := testOrder(StatusReturned)
		o.PayStatus = PayCompleted
		repo := newMockOrderRepo(o)
		svc, _, gw, _ := newTestService(repo)
		gw.refund = payment.Refund{RefundID: "R1", State: payment.StatePending}

		got, refund, err := svc.RequestRefund(ctx, "o1", decimal.NullDecimal{})
		require.NoError(t, err)
		assert.Equal(t, "R1", refund.RefundID)
		assert.True(t, gw.lastAmount.Equal(decimal.NewFromInt(250)))
		assert.Equal(t, "ORDID1", gw.lastOrigID)
		assert.Equal(t, "RFDID1", got.MerchantRefundID)
		assert.Equal(t, RefundRequested, got.RefundStatus)
		require.Len(t, repo.refundUpdates, 1)
		assert.Equal(t, "R1", *repo.refundUpdates[0].RefundID)
	})

	t.Run("gateway failure releases the refund", func(t *testing.T) {
		o := testOrder(StatusReturned)
		o.PayStatus = PayCompleted
		repo := newMockOrderRepo(o)
		svc, _, gw, _ := newTestService(repo)
		gw.refundErr = payment.ErrGatewayUnavailable

		_, _, err := svc.RequestRefund(ctx, "o1", decimal.NewNullDecimal(decimal.NewFromInt(100)))
		require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
		assert.Equal(t, RefundFailed, repo.orders["o1"].RefundStatus)

		gw.refundErr = nil
		gw.refund = payment.Refund{RefundID: "R2", State: payment.StatePending}
		_, _, err = svc.RequestRefund(ctx, "o1", decimal.NewNullDecimal(decimal.NewFromInt(100)))
		require.NoError(t, err)
		assert.Equal(t, 2, gw.calls)
		assert.Equal(t, RefundRequested, repo.orders["o1"].RefundStatus)
	})
}

func TestService_RequestRefundOnlyOnce(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		pending RefundStatus
	}{
		{name: "requested", pending: RefundRequested},
		{name: "in process", pending: RefundInProcess},
		{name: "accepted", pending: RefundAccepted},
		{name: "completed", pending: RefundCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder(StatusReturned)
			o.PayStatus = PayCompleted
			o.RefundStatus = tt.pending
			o.MerchantRefundID = "RFDID0"
			repo := newMockOrderRepo(o)
			svc, _, gw, _ := newTestService(repo)

			_, _, err := svc.RequestRefund(ctx, "o1", decimal.NewNullDecimal(decimal.NewFromInt(10)))
			require.ErrorIs(t, err, ErrNotRefundable)
			assert.Zero(t, gw.calls)
			assert.Equal(t, "RFDID0", repo.orders["o1"].MerchantRefundID)
		})
	}

	t.Run("second request after the first", func(t *testing.T) {
		o := testOrder(StatusReturned)
		o.PayStatus = PayCompleted
		repo := newMockOrderRepo(o)
		svc, _, gw, _ := newTestService(repo)
		gw.refund = payment.Refund{RefundID: "R1", State: payment.StatePending}

		_, _, err := svc.RequestRefund(ctx, "o1", decimal.NewNullDecimal(decimal.NewFromInt(200)))
		require.NoError(t, err)
		_, _, err = svc.RequestRefund(ctx, "o1", decimal.NewNullDecimal(decimal.NewFromInt(200)))
		require.ErrorIs(t, err, ErrNotRefundable)
		assert.Equal(t, 1, gw.calls)

		got, err := svc.orders.GetByMerchantRefundID(ctx, "RFDID1")
		require.NoError(t, err)
		assert.Equal(t, "R1", got.RefundID)
	})
}

func TestService_RefundStatus(t *testing.T) {
	tests := []struct {
		state         payment.State
		wantRefund    RefundStatus
		wantPayStatus PayStatus
	}{
		{payment.StatePending, RefundInProcess, PayCompleted},
		{payment.StateConfirmed, RefundAccepted, PayCompleted},
		{payment.StateCompleted, RefundCompleted, PayRefunded},
		{payment.StateFailed, RefundFailed, PayCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			o := testOrder(StatusReturned)
			o.PayStatus = PayCompleted
			o.MerchantRefundID = "RFDID1"
			repo := newMockOrderRepo(o)
			svc, _, gw, _ := newTestService(repo)
			gw.status = payment.Refund{State: tt.state}

			got, _, err := svc.RefundStatus(context.Background(), "RFDID1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRefund, got.RefundStatus)
			assert.Equal(t, tt.wantPayStatus, repo.orders["o1"].PayStatus)
		})
	}

	svc, _, _, _ := newTestService(newMockOrderRepo())
	_, _, err := svc.RefundStatus(context.Background(), " ")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestPercentChange(t *testing.T) {
	assert.Nil(t, PercentChange(decimal.Zero, decimal.NewFromInt(5)))

	zero := PercentChange(decimal.Zero, decimal.Zero)
	require.NotNil(t, zero)
	assert.Equal(t, 0.0, *zero)

	up := PercentChange(decimal.NewFromInt(200), decimal.NewFromInt(250))
	require.NotNil(t, up)
	assert.Equal(t, 25.0, *up)

	down := PercentChange(decimal.NewFromInt(3), decimal.NewFromInt(2))
	require.NotNil(t, down)
	assert.Equal(t, -33.33, *down)
}

func TestService_Stats(t *testing.T) {
	now := time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC) // Wednesday
	repo := newMockOrderRepo()
	repo.statusCounts = map[Status]int64{StatusProcessing: 3, StatusDelivered: 2}
	repo.sales = map[string]decimal.Decimal{
		"2025-05-01": decimal.NewFromInt(1000),
		"2025-06-01": decimal.NewFromInt(1500),
	}
	repo.counts = map[string]int64{
		"2025-06-16": 4,
	}
	svc, _, _, _ := newTestService(repo)
	svc.now = func() time.Time { return now }

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)

	require.Len(t, st.StatusCounts, len(Statuses))
	assert.Equal(t, StatusCount{Status: StatusProcessing, Count: 3}, st.StatusCounts[0])
	assert.Equal(t, StatusCount{Status: StatusBilled, Count: 0}, st.StatusCounts[1])

	assert.True(t, st.MonthlySales.Current.Equal(decimal.NewFromInt(1500)))
	require.NotNil(t, st.MonthlySales.PercentChange)
	assert.Equal(t, 50.0, *st.MonthlySales.PercentChange)

	assert.Equal(t, int64(4), st.WeeklyOrders.Current)
	assert.Equal(t, int64(0), st.WeeklyOrders.Previous)
	assert.Nil(t, st.WeeklyOrders.PercentChange)
}

func TestStartOfISOWeek(t *testing.T) {
	sunday := time.Date(2025, 6, 22, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), startOfISOWeek(sunday))

	monday := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, startOfISOWeek(monday))
}
