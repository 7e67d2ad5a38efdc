package order

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusBilled     Status = "billed"
	StatusPacked     Status = "packed"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusProcessing, StatusBilled, StatusPacked, StatusShipped,
	StatusDelivered, StatusCancelled, StatusReturned,
}

// PayMode is how the shopper pays.
type PayMode string

const (
	PayModeCOD    PayMode = "COD"
	PayModeOnline PayMode = "ONLINE"
)

// BuyMode selects the checkout source.
type BuyMode string

const (
	// BuyLater checks out the persisted cart.
	BuyLater BuyMode = "later"
	// BuyNow checks out a single ad-hoc item.
	BuyNow BuyMode = "now"
)

// PayStatus is the payment state of an order.
type PayStatus string

const (
	PayPending   PayStatus = "pending"
	PayCompleted PayStatus = "completed"
	PayFailed    PayStatus = "failed"
	PayRefunded  PayStatus = "refunded"
)

// RefundStatus tracks a refund through the gateway.
type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundRequested RefundStatus = "requested"
	RefundAccepted  RefundStatus = "accepted"
	RefundInProcess RefundStatus = "in_process"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrNotOwner          = errors.New("order belongs to another user")
	ErrCannotCancel      = errors.New("unable to cancel the order")
	ErrCannotReturn      = errors.New("order is not delivered")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrNotRefundable     = errors.New("order is not refundable")
)

// ValidationError reports an unacceptable query or command parameter.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	if slices.Contains(Statuses, Status(s)) {
		return Status(s), nil
	}
	return "", &ValidationError{Field: "status", Value: s}
}

// ParsePayMode validates a pay mode.
func ParsePayMode(s string) (PayMode, error) {
	switch m := PayMode(s); m {
	case PayModeCOD, PayModeOnline:
		return m, nil
	}
	return "", &ValidationError{Field: "payMode", Value: s}
}

// ParseBuyMode validates a buy mode, defaulting to later.
func ParseBuyMode(s string) (BuyMode, error) {
	switch m := BuyMode(s); m {
	case "":
		return BuyLater, nil
	case BuyLater, BuyNow:
		return m, nil
	}
	return "", &ValidationError{Field: "buyMode", Value: s}
}

// ParsePayStatus validates a pay status.
func ParsePayStatus(s string) (PayStatus, error) {
	switch p := PayStatus(s); p {
	case PayPending, PayCompleted, PayFailed, PayRefunded:
		return p, nil
	}
	return "", &ValidationError{Field: "payStatus", Value: s}
}

// Item is the frozen snapshot of a purchased line item. It never follows
// later catalog changes.
type Item struct {
	ProductID  string             `json:"productId"`
	Name       string             `json:"name"`
	Thumbnail  string             `json:"thumbnail,omitempty"`
	Quantity   int                `json:"quantity"`
	Price      decimal.Decimal    `json:"price"`
	ExtraPrice decimal.Decimal    `json:"extraPrice"`
	Tax        decimal.Decimal    `json:"tax"`
	TaxAmount  decimal.Decimal    `json:"taxAmount"`
	Specs      []product.SpecName `json:"specs"`
}

// Customer is the subset of user data shown alongside an order.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Mobile    string
}

// Order is a placed order.
type Order struct {
	ID               string
	MerchantOrderID  string
	UserID           string
	PayMode          PayMode
	BuyMode          BuyMode
	PayStatus        PayStatus
	RefundStatus     RefundStatus
	Status           Status
	CouponCode       string
	SubTotal         decimal.Decimal
	TotalTax         decimal.Decimal
	Discount         decimal.Decimal
	DeliveryCharge   decimal.Decimal
	Amount           decimal.Decimal
	Items            []Item
	BillAddress      string
	ShipAddress      string
	DeliveryType     shipping.DeliveryType
	TransactionID    string
	MerchantRefundID string
	RefundID         string
	RefundAmount     decimal.NullDecimal
	OrderDate        time.Time
	ExpectedDelivery time.Time
	UpdatedAt        time.Time

	// Customer is filled on reads only.
	Customer *Customer
}

// CanCancel reports whether an order in status s may be cancelled.
func CanCancel(s Status) bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned:
		return false
	}
	return true
}

// CanReturn reports whether an order in status s may be returned.
func CanReturn(s Status) bool {
	return s == StatusDelivered
}

// Closed reports whether an order in status s is withdrawn from fulfillment.
func Closed(s Status) bool {
	return s == StatusCancelled || s == StatusReturned
}

// Refundable reports whether a new refund may be requested while the last
// one is in state rs.
func Refundable(rs RefundStatus) bool {
	return rs == RefundNone || rs == RefundFailed
}

// forward is the fulfillment path; later entries are further along.
var forward = []Status{StatusProcessing, StatusBilled, StatusPacked, StatusShipped, StatusDelivered}

// CheckTransition validates an admin status change. Forward moves along the
// fulfillment path may skip steps; cancel and return follow their own rules.
func CheckTransition(from, to Status) error {
	switch to {
	case StatusCancelled:
		if !CanCancel(from) {
			return ErrCannotCancel
		}
		return nil
	case StatusReturned:
		if !CanReturn(from) {
			return ErrCannotReturn
		}
		return nil
	}
	fi, ti := slices.Index(forward, from), slices.Index(forward, to)
	if fi < 0 || ti < 0 || ti <= fi {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", from, to)
	}
	return nil
}

// SortField selects the ordering of list results.
type SortField string

const (
	SortDate     SortField = "date"
	SortTotal    SortField = "total"
	SortCustomer SortField = "customer"
)

// Filter narrows order queries. Zero values mean "any".
type Filter struct {
	UserID       string
	Search       string
	PayMode      PayMode
	PayStatus    PayStatus
	Status       Status
	DeliveryType shipping.DeliveryType
	From         time.Time
	To           time.Time
	MinAmount    decimal.NullDecimal
	MaxAmount    decimal.NullDecimal
}

// ListQuery is a filtered, sorted and paginated listing. Entries of zero
// returns every match.
type ListQuery struct {
	Filter  Filter
	SortBy  SortField
	Asc     bool
	Page    int
	Entries int
}

// RefundUpdate holds refund fields to persist. Nil pointers are left as is.
type RefundUpdate struct {
	MerchantRefundID *string
	RefundID         *string
	Amount           decimal.NullDecimal
	RefundStatus     RefundStatus
	PayStatus        *PayStatus
}

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByMerchantRefundID(ctx context.Context, merchantRefundID string) (*Order, error)
	// UpdateStatus moves the order from one status to another, returning
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error)
	// MarkPaid moves pay status from pending to completed and returns the
	// order status at that moment. It reports false when the order was not
	// pending.
	MarkPaid(ctx context.Context, id, transactionID string) (Status, bool, error)
	SetPayStatus(ctx context.Context, id string, status PayStatus) error
	// ReserveRefund records a new refund request on a paid order. It reports
	// false when another refund is requested, in process, accepted or
	// completed.
	ReserveRefund(ctx context.Context, id, merchantRefundID string, amount decimal.Decimal) (bool, error)
	UpdateRefund(ctx context.Context, id string, u RefundUpdate) error
	List(ctx context.Context, q ListQuery) ([]Order, error)
	Count(ctx context.Context, f Filter) (int64, error)
	StatusCounts(ctx context.Context) (map[Status]int64, error)
	SalesBetween(ctx context.Context, status Status, from, to time.Time) (decimal.Decimal, error)
	CountBetween(ctx context.Context, from, to time.Time) (int64, error)
}
