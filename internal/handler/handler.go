// Package handler exposes the storefront over HTTP with gin.
package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// CheckoutService prices, places and settles orders.
type CheckoutService interface {
	Preview(ctx context.Context, req checkout.Request) (*checkout.Quote, error)
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	ConfirmPayment(ctx context.Context, actor auth.Identity, orderID string) (*order.Order, error)
}

// OrderService reads orders and drives their lifecycle.
type OrderService interface {
	Get(ctx context.Context, actor auth.Identity, id string) (*order.Order, error)
	ListMine(ctx context.Context, userID string) ([]order.Order, error)
	List(ctx context.Context, req order.ListRequest) (*order.Page, error)
	Cancel(ctx context.Context, actor auth.Identity, id string) (*order.Order, error)
	Return(ctx context.Context, actor auth.Identity, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, to order.Status) (*order.Order, error)
	RequestRefund(ctx context.Context, id string, amount decimal.NullDecimal) (*order.Order, payment.Refund, error)
	RefundStatus(ctx context.Context, merchantRefundID string) (*order.Order, payment.Refund, error)
	Stats(ctx context.Context) (*order.Stats, error)
}

// DiscountAdmin manages discount rules.
type DiscountAdmin interface {
	Create(ctx context.Context, d *discount.Discount) error
	List(ctx context.Context) ([]discount.Discount, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// ShippingAdmin manages shipping cost records.
type ShippingAdmin interface {
	Create(ctx context.Context, c *shipping.Cost) error
	Update(ctx context.Context, c *shipping.Cost) error
	Archive(ctx context.Context, id int64) (*shipping.Cost, error)
	Restore(ctx context.Context, id int64) (*shipping.Cost, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*shipping.Cost, error)
	List(ctx context.Context, archived *bool) ([]shipping.Cost, error)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Handler serves the storefront API.
type Handler struct {
	checkout  CheckoutService
	orders    OrderService
	discounts DiscountAdmin
	shipping  ShippingAdmin
	verifier  TokenVerifier
}

// New creates a Handler.
func New(
	checkout CheckoutService,
	orders OrderService,
	discounts DiscountAdmin,
	shipping ShippingAdmin,
	verifier TokenVerifier,
) *Handler {
	return &Handler{
		checkout:  checkout,
		orders:    orders,
		discounts: discounts,
		shipping:  shipping,
		verifier:  verifier,
	}
}

// Register mounts every API route on r. All routes require a bearer token;
// admin routes additionally require the admin role.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("", h.Authenticate())
	admin := api.Group("", RequireAdmin())

	api.POST("/checkout", h.Checkout)
	api.POST("/fetch-checkout", h.FetchCheckout)

	api.GET("/orders/mine", h.MyOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.GET("/orders/:id/pay-status", h.PayStatus)
	api.PATCH("/orders/:id/cancel", h.CancelOrder)
	api.PATCH("/orders/:id/return", h.ReturnOrder)

	admin.GET("/orders", h.ListOrders)
	admin.GET("/orders/stats", h.OrderStats)
	admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	admin.POST("/orders/refund", h.Refund)
	admin.GET("/orders/refund-status/:id", h.RefundStatus)

	admin.POST("/discounts", h.CreateDiscount)
	admin.GET("/discounts", h.ListDiscounts)
	admin.PATCH("/discounts/:id/active", h.SetDiscountActive)

	admin.POST("/shipping-costs", h.CreateShippingCost)
	admin.GET("/shipping-costs", h.ListShippingCosts)
	admin.GET("/shipping-costs/:id", h.GetShippingCost)
	admin.PUT("/shipping-costs/:id", h.UpdateShippingCost)
	admin.PATCH("/shipping-costs/:id/archive", h.ArchiveShippingCost)
	admin.PATCH("/shipping-costs/:id/restore", h.RestoreShippingCost)
	admin.DELETE("/shipping-costs/:id", h.DeleteShippingCost)
}
