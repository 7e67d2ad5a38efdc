// Package payment is a client for a PhonePe-style hosted checkout gateway.
package payment

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// State is a gateway-side payment or refund state.
type State string

const (
	StatePending   State = "PENDING"
	StateConfirmed State = "CONFIRMED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// ErrGatewayUnavailable is returned when the gateway cannot be reached or
// refuses to issue an access token.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// GatewayError is a non-2xx response from the gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: gateway returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: gateway returned %d %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
}

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return "payment gateway unavailable: " + e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrGatewayUnavailable }

func unavailable(err error) error {
	return &unavailableError{err: err}
}

// Payer identifies the shopper on the hosted checkout page.
type Payer struct {
	Name   string
	Mobile string
}

// Session is a created hosted checkout session.
type Session struct {
	GatewayOrderID string
	State          State
	RedirectURL    string
	ExpireAt       time.Time
}

// OrderStatus is the gateway view of a payment.
type OrderStatus struct {
	GatewayOrderID string
	State          State
	Amount         decimal.Decimal
	TransactionID  string
}

// Refund is the gateway view of a refund.
type Refund struct {
	RefundID         string
	MerchantRefundID string
	State            State
	Amount           decimal.Decimal
}

// toPaise converts a rupee amount to the integer minor units the gateway
// expects.
func toPaise(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromPaise(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
