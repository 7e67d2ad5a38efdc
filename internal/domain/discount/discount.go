// Package discount evaluates automatic and coupon discounts.
package discount

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// Percentage takes a percentage of the base amount, optionally capped.
	Percentage Type = "percentage"
	// Fixed takes a flat amount, never more than the base amount.
	Fixed Type = "fixed"
)

var (
	ErrNotFound      = errors.New("discount not found")
	ErrDuplicateCode = errors.New("discount code already exists")
	ErrAlreadyUsed   = errors.New("coupon already used")
)

// ValidationError describes an invalid discount definition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid discount %s: %s", e.Field, e.Reason)
}

// Discount is an admin-authored discount rule. An empty Code marks a rule
// without a coupon code.
type Discount struct {
	ID                   int64
	Code                 string
	Description          string
	Type                 Type
	Value                decimal.Decimal
	MinOrderAmount       decimal.Decimal
	MaxDiscountAmount    decimal.NullDecimal
	StartDate            time.Time
	EndDate              time.Time
	IsActive             bool
	AppliesAutomatically bool
	ApplicableProducts   []string
	ApplicableCategories []string
	UsedBy               []string
}

// Validate checks the invariants of a discount definition.
func (d *Discount) Validate() error {
	switch d.Type {
	case Percentage, Fixed:
	default:
		return &ValidationError{Field: "discountType", Reason: fmt.Sprintf("unknown type %q", d.Type)}
	}
	if !d.Value.IsPositive() {
		return &ValidationError{Field: "discountValue", Reason: "must be greater than 0"}
	}
	if d.Type == Percentage && d.Value.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "discountValue", Reason: "percentage must not exceed 100"}
	}
	if d.MinOrderAmount.IsNegative() {
		return &ValidationError{Field: "minOrderAmount", Reason: "must not be negative"}
	}
	if d.MaxDiscountAmount.Valid && d.MaxDiscountAmount.Decimal.IsNegative() {
		return &ValidationError{Field: "maxDiscountAmount", Reason: "must not be negative"}
	}
	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return &ValidationError{Field: "startDate", Reason: "start and end dates are required"}
	}
	if d.EndDate.Before(d.StartDate) {
		return &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	if !d.AppliesAutomatically && d.Code == "" {
		return &ValidationError{Field: "code", Reason: "required unless the discount applies automatically"}
	}
	return nil
}

// ActiveAt reports whether the discount is enabled and inside its window.
func (d *Discount) ActiveAt(now time.Time) bool {
	return d.IsActive && !now.Before(d.StartDate) && !now.After(d.EndDate)
}

// Restricted reports whether the discount is limited to some products or
// categories.
func (d *Discount) Restricted() bool {
	return len(d.ApplicableProducts) > 0 || len(d.ApplicableCategories) > 0
}

// Matches reports whether item falls under the discount's restrictions.
func (d *Discount) Matches(item Item) bool {
	if !d.Restricted() {
		return true
	}
	if slices.Contains(d.ApplicableProducts, item.ProductID) {
		return true
	}
	for _, c := range item.CategoryIDs {
		if slices.Contains(d.ApplicableCategories, c) {
			return true
		}
	}
	return false
}

// AmountFor resolves the discount against base, rounded to 2 decimal places.
func (d *Discount) AmountFor(base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch d.Type {
	case Percentage:
		amount = base.Mul(d.Value).Div(decimal.NewFromInt(100))
		if d.MaxDiscountAmount.Valid && amount.GreaterThan(d.MaxDiscountAmount.Decimal) {
			amount = d.MaxDiscountAmount.Decimal
		}
	case Fixed:
		amount = decimal.Min(d.Value, base)
	}
	return amount.Round(2)
}

// UsedByUser reports whether userID already redeemed the discount.
func (d *Discount) UsedByUser(userID string) bool {
	return slices.Contains(d.UsedBy, userID)
}

// Item is a priced line item as seen by discount rules.
type Item struct {
	ProductID   string
	CategoryIDs []string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Total returns UnitPrice * Quantity.
func (i Item) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Result holds a computed discount amount and a human-readable message.
type Result struct {
	Amount  decimal.Decimal
	Message string
}

// Repository provides lookup and mutation of discount rules.
type Repository interface {
	ListAutomatic(ctx context.Context) ([]Discount, error)
	FindByCode(ctx context.Context, code string) (*Discount, error)
	// MarkUsed records a redemption, returning ErrAlreadyUsed when the user
	// already redeemed the discount.
	MarkUsed(ctx context.Context, discountID int64, userID string) error
	// UnmarkUsed removes a redemption recorded by MarkUsed.
	UnmarkUsed(ctx context.Context, discountID int64, userID string) error
	Create(ctx context.Context, d *Discount) error
	List(ctx context.Context) ([]Discount, error)
	SetActive(ctx context.Context, id int64, active bool) error
}
