package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// Notifier delivers best-effort order notifications.
type Notifier interface {
	StatusChanged(ctx context.Context, o *Order)
}

// Refunder is the part of the payment gateway used for refunds.
type Refunder interface {
	Refund(ctx context.Context, merchantRefundID, originalMerchantOrderID string, amount decimal.Decimal) (payment.Refund, error)
	RefundStatus(ctx context.Context, merchantRefundID string) (payment.Refund, error)
}

// Stock returns units to inventory.
type Stock interface {
	Restock(ctx context.Context, items []inventory.Item) error
}

// RefundIDs issues merchant refund ids.
type RefundIDs interface {
	RefundID() string
}

// Service implements order reads, lifecycle transitions and refunds.
type Service struct {
	orders   Repository
	notifier Notifier
	gateway  Refunder
	stock    Stock
	ids      RefundIDs
	loc      *time.Location
	now      func() time.Time
}

// NewService creates an order Service. Date filters and reporting periods
// are evaluated in loc.
func NewService(
	orders Repository,
	notifier Notifier,
	gateway Refunder,
	stock Stock,
	ids RefundIDs,
	loc *time.Location,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		orders:   orders,
		notifier: notifier,
		gateway:  gateway,
		stock:    stock,
		ids:      ids,
		loc:      loc,
		now:      time.Now,
	}
}

// Get returns an order the caller owns. Admins may read any order.
func (s *Service) Get(ctx context.Context, actor auth.Identity, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(o.UserID) {
		return nil, ErrNotOwner
	}
	return o, nil
}

// ListMine returns all orders of userID, newest first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.List(ctx, ListQuery{Filter: Filter{UserID: userID}, SortBy: SortDate})
}

// ListRequest is an admin listing request. Dates use the YYYY-MM-DD layout
// and cover whole days in the service location.
type ListRequest struct {
	Search       string
	PayMode      string
	PayStatus    string
	Status       string
	DeliveryType string
	FromDate     string
	ToDate       string
	MinAmount    decimal.NullDecimal
	MaxAmount    decimal.NullDecimal
	SortBy       string
	SortOrder    string
	Page         int
	Entries      int
}

// Page is one page of a listing with the total number of matches.
type Page struct {
	Orders       []Order
	TotalEntries int64
	Page         int
	Entries      int
}

// List returns a page of orders together with the number of orders that
// match the same filter. Both queries run concurrently.
func (s *Service) List(ctx context.Context, req ListRequest) (*Page, error) {
	q, err := s.buildQuery(req)
	if err != nil {
		return nil, err
	}

	var (
		orders []Order
		total  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if orders, err = s.orders.List(gctx, q); err != nil {
			return errors.Wrap(err, "list orders")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if total, err = s.orders.Count(gctx, q.Filter); err != nil {
			return errors.Wrap(err, "count orders")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Page{Orders: orders, TotalEntries: total, Page: q.Page, Entries: q.Entries}, nil
}

func (s *Service) buildQuery(req ListRequest) (ListQuery, error) {
	q := ListQuery{
		Filter: Filter{
			Search:    strings.TrimSpace(req.Search),
			MinAmount: req.MinAmount,
			MaxAmount: req.MaxAmount,
		},
		Page:    max(req.Page, 1),
		Entries: max(req.Entries, 0),
	}
	var err error
	if req.PayMode != "" {
		if q.Filter.PayMode, err = ParsePayMode(req.PayMode); err != nil {
			return q, err
		}
	}
	if req.PayStatus != "" {
		if q.Filter.PayStatus, err = ParsePayStatus(req.PayStatus); err != nil {
			return q, err
		}
	}
	if req.Status != "" {
		if q.Filter.Status, err = ParseStatus(req.Status); err != nil {
			return q, err
		}
	}
	if req.DeliveryType != "" {
		dt, err := shipping.ParseDeliveryType(req.DeliveryType)
		if err != nil {
			return q, err
		}
		q.Filter.DeliveryType = dt
	}
	if req.FromDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, req.FromDate, s.loc)
		if err != nil {
			return q, &ValidationError{Field: "fromDate", Value: req.FromDate}
		}
		q.Filter.From = d
	}
	if req.ToDate != "" {
		d, err := time.ParseInLocation(time.DateOnly, req.ToDate, s.loc)
		if err != nil {
			return q, &ValidationError{Field: "toDate", Value: req.ToDate}
		}
		q.Filter.To = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	switch f := SortField(req.SortBy); f {
	case "":
		q.SortBy = SortDate
	case SortDate, SortTotal, SortCustomer:
		q.SortBy = f
	default:
		return q, &ValidationError{Field: "sortBy", Value: req.SortBy}
	}
	switch req.SortOrder {
	case "", "desc":
	case "asc":
		q.Asc = true
	default:
		return q, &ValidationError{Field: "sortOrder", Value: req.SortOrder}
	}
	return q, nil
}

// Cancel cancels an order on behalf of its owner or an admin.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, id string) (*Order, error) {
	o, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanCancel(o.Status) {
		return nil, ErrCannotCancel
	}
	return s.transition(ctx, o, StatusCancelled)
}

// Return marks a delivered order as returned on behalf of its owner or an
// admin.
func (s *Service) Return(ctx context.Context, actor auth.Identity, id string) (*Order, error) {
	o, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !CanReturn(o.Status) {
		return nil, ErrCannotReturn
	}
	return s.transition(ctx, o, StatusReturned)
}

// UpdateStatus applies an admin status change.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(o.Status, to); err != nil {
		return nil, err
	}
	return s.transition(ctx, o, to)
}

func (s *Service) transition(ctx context.Context, o *Order, to Status) (*Order, error) {
	updated, err := s.orders.UpdateStatus(ctx, o.ID, o.Status, to)
	if err != nil {
		return nil, err
	}
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	lg.Info("Order status changed")

	if to == StatusCancelled && stockTaken(updated) {
		if err := s.stock.Restock(ctx, Reservation(updated)); err != nil {
			lg.Error("Restock after cancel failed", zap.Error(err))
		}
	}
	s.notifier.StatusChanged(ctx, updated)
	return updated, nil
}

// stockTaken reports whether inventory was decremented for o: on placement
// for COD orders, on confirmed payment for online ones. o must be the row as
// written by the status update, not an earlier read.
func stockTaken(o *Order) bool {
	return o.PayMode == PayModeCOD || o.PayStatus == PayCompleted
}

// Reservation lists the inventory movements an order stands for.
func Reservation(o *Order) []inventory.Item {
	items := make([]inventory.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, inventory.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return items
}

// RequestRefund asks the gateway to refund a paid order. A zero amount
// refunds the full order amount. Only one refund may be outstanding; a new
// one is allowed again once the previous one failed.
func (s *Service) RequestRefund(ctx context.Context, id string, amount decimal.NullDecimal) (*Order, payment.Refund, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, payment.Refund{}, err
	}
	if o.PayStatus != PayCompleted {
		return nil, payment.Refund{}, errors.Wrapf(ErrNotRefundable, "pay status %s", o.PayStatus)
	}
	if !Refundable(o.RefundStatus) {
		return nil, payment.Refund{}, errors.Wrapf(ErrNotRefundable, "refund %s", o.RefundStatus)
	}
	refundAmount := o.Amount
	if amount.Valid {
		if !amount.Decimal.IsPositive() || amount.Decimal.GreaterThan(o.Amount) {
			return nil, payment.Refund{}, &ValidationError{Field: "amount", Value: amount.Decimal.String()}
		}
		refundAmount = amount.Decimal.Round(2)
	}

	merchantRefundID := s.ids.RefundID()
	ok, err := s.orders.ReserveRefund(ctx, o.ID, merchantRefundID, refundAmount)
	if err != nil {
		return nil, payment.Refund{}, errors.Wrap(err, "reserve refund")
	}
	if !ok {
		return nil, payment.Refund{}, errors.Wrap(ErrNotRefundable, "refund already requested")
	}
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("merchant_refund_id", merchantRefundID),
	)

	refund, err := s.gateway.Refund(ctx, merchantRefundID, o.MerchantOrderID, refundAmount)
	if err != nil {
		if uerr := s.orders.UpdateRefund(ctx, o.ID, RefundUpdate{RefundStatus: RefundFailed}); uerr != nil {
			lg.Error("Release refund failed", zap.Error(uerr))
		}
		return nil, payment.Refund{}, errors.Wrap(err, "gateway refund")
	}

	if err := s.orders.UpdateRefund(ctx, o.ID, RefundUpdate{
		RefundID:     &refund.RefundID,
		RefundStatus: RefundRequested,
	}); err != nil {
		// The gateway already accepted the refund; the status poll can
		// still reconcile it by merchant refund id.
		lg.Error("Persist refund failed", zap.Error(err))
		return nil, payment.Refund{}, errors.Wrap(err, "persist refund")
	}
	o.MerchantRefundID = merchantRefundID
	o.RefundID = refund.RefundID
	o.RefundAmount = decimal.NewNullDecimal(refundAmount)
	o.RefundStatus = RefundRequested
	return o, refund, nil
}

// RefundStatus polls the gateway for a refund and records the result on the
// matching order.
func (s *Service) RefundStatus(ctx context.Context, merchantRefundID string) (*Order, payment.Refund, error) {
	merchantRefundID = strings.TrimSpace(merchantRefundID)
	if merchantRefundID == "" {
		return nil, payment.Refund{}, &ValidationError{Field: "merchantRefundId", Value: merchantRefundID}
	}
	o, err := s.orders.GetByMerchantRefundID(ctx, merchantRefundID)
	if err != nil {
		return nil, payment.Refund{}, err
	}
	refund, err := s.gateway.RefundStatus(ctx, merchantRefundID)
	if err != nil {
		return nil, payment.Refund{}, errors.Wrap(err, "gateway refund status")
	}

	u := RefundUpdate{RefundStatus: refundStatusFor(refund.State)}
	if u.RefundStatus == RefundCompleted {
		refunded := PayRefunded
		u.PayStatus = &refunded
		o.PayStatus = refunded
	}
	if err := s.orders.UpdateRefund(ctx, o.ID, u); err != nil {
		return nil, payment.Refund{}, errors.Wrap(err, "persist refund status")
	}
	o.RefundStatus = u.RefundStatus
	return o, refund, nil
}

func refundStatusFor(st payment.State) RefundStatus {
	switch st {
	case payment.StateConfirmed:
		return RefundAccepted
	case payment.StateCompleted:
		return RefundCompleted
	case payment.StateFailed:
		return RefundFailed
	default:
		return RefundInProcess
	}
}
