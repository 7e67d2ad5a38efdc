// Package shipping resolves flat shipping costs per delivery type.
package shipping

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DeliveryType is the shipping speed selected at checkout.
type DeliveryType string

const (
	Standard      DeliveryType = "Standard"
	Express       DeliveryType = "Express"
	International DeliveryType = "International"
)

// DeliveryTypes lists all recognized delivery types.
var DeliveryTypes = []DeliveryType{Standard, Express, International}

// ParseDeliveryType validates s, defaulting to Standard when empty.
func ParseDeliveryType(s string) (DeliveryType, error) {
	if s == "" {
		return Standard, nil
	}
	for _, dt := range DeliveryTypes {
		if string(dt) == s {
			return dt, nil
		}
	}
	return "", &InvalidDeliveryTypeError{Value: s}
}

var (
	ErrNotFound      = errors.New("shipping cost not found")
	ErrAlreadyExists = errors.New("shipping cost for this delivery type already exists")
	ErrInvalidAmount = errors.New("shipping amount must not be negative")
)

// InvalidDeliveryTypeError reports an unknown delivery type.
type InvalidDeliveryTypeError struct {
	Value string
}

func (e *InvalidDeliveryTypeError) Error() string {
	return fmt.Sprintf("invalid delivery type %q", e.Value)
}

// Cost is a shipping cost record. Archived records are kept for history.
type Cost struct {
	ID           int64
	DeliveryType DeliveryType
	Amount       decimal.Decimal
	Duration     string
	IsArchived   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Query selects the cost to charge for a shipment.
type Query struct {
	DeliveryType   DeliveryType
	OriginPin      string
	DestinationPin string
}

// Repository persists shipping cost records. Implementations must keep at
// most one non-archived record per delivery type and report a violation as
// ErrAlreadyExists.
type Repository interface {
	FindActive(ctx context.Context, dt DeliveryType) (*Cost, error)
	Get(ctx context.Context, id int64) (*Cost, error)
	List(ctx context.Context, archived *bool) ([]Cost, error)
	Create(ctx context.Context, c *Cost) error
	Update(ctx context.Context, c *Cost) error
	SetArchived(ctx context.Context, id int64, archived bool) (*Cost, error)
	Delete(ctx context.Context, id int64) error
}
