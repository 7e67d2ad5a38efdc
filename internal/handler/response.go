package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// Error codes carried in the envelope error field.
const (
	CodeBadRequest              = "BAD_REQUEST"
	CodeNotFound                = "NOT_FOUND"
	CodeConflict                = "CONFLICT"
	CodeOutOfStock              = "OUT_OF_STOCK"
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeFailedPaymentInitiation = "FAILED_PAYMENT_INITIATION"
	CodeGatewayUnavailable      = "GATEWAY_UNAVAILABLE"
	CodeGatewayError            = "GATEWAY_ERROR"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
)

// Envelope wraps every API response.
type Envelope struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Data    any     `json:"data"`
	Error   *string `json:"error"`
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Envelope{Message: message, Error: &code})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, CodeBadRequest, message)
}

// apiError is the HTTP rendering of a domain error.
type apiError struct {
	status  int
	code    string
	message string
}

// mapError classifies err. Messages of gateway and internal errors are
// replaced so credentials and upstream details never reach the client.
func mapError(err error) apiError {
	var (
		outOfStock   *checkout.OutOfStockError
		insufficient *inventory.InsufficientStockError
		gatewayErr   *payment.GatewayError
		orderInput   *order.ValidationError
		discountRule *discount.ValidationError
		deliveryType *shipping.InvalidDeliveryTypeError
	)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return apiError{http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token"}
	case errors.Is(err, order.ErrNotOwner):
		return apiError{http.StatusForbidden, CodeForbidden, "not allowed to access this order"}

	case errors.As(err, &outOfStock):
		return apiError{http.StatusBadRequest, CodeOutOfStock, outOfStock.Error()}
	case errors.As(err, &insufficient), errors.Is(err, inventory.ErrInsufficientStock):
		return apiError{http.StatusBadRequest, CodeInsufficientStock, "insufficient stock, order cancelled"}

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, customer.ErrAddressNotFound),
		errors.Is(err, discount.ErrNotFound),
		errors.Is(err, shipping.ErrNotFound):
		return apiError{http.StatusNotFound, CodeNotFound, rootMessage(err)}

	case errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, discount.ErrDuplicateCode),
		errors.Is(err, discount.ErrAlreadyUsed),
		errors.Is(err, shipping.ErrAlreadyExists):
		return apiError{http.StatusConflict, CodeConflict, rootMessage(err)}

	case errors.As(err, &orderInput),
		errors.As(err, &discountRule),
		errors.As(err, &deliveryType),
		errors.Is(err, checkout.ErrInvalidProduct),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrVariantNotFound),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, order.ErrCannotCancel),
		errors.Is(err, order.ErrCannotReturn),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrNotRefundable),
		errors.Is(err, shipping.ErrInvalidAmount):
		return apiError{http.StatusBadRequest, CodeBadRequest, err.Error()}

	case errors.Is(err, checkout.ErrPaymentInitiation):
		return apiError{http.StatusBadGateway, CodeFailedPaymentInitiation, "failed to initiate payment, please retry checkout"}
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return apiError{http.StatusServiceUnavailable, CodeGatewayUnavailable, "payment gateway unavailable"}
	case errors.As(err, &gatewayErr):
		return apiError{http.StatusBadGateway, CodeGatewayError, "payment gateway error"}
	}
	return apiError{http.StatusInternalServerError, CodeInternal, "internal server error"}
}

// rootMessage is the message of the innermost error, without wrapping
// context.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// respondError writes err as an envelope. Server side failures are logged.
func respondError(c *gin.Context, err error) {
	e := mapError(err)
	if e.status >= http.StatusInternalServerError {
		zctx.From(c.Request.Context()).Error("Request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", e.code),
			zap.Error(err),
		)
	}
	fail(c, e.status, e.code, e.message)
}
