package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Checkout places an order. COD orders are returned with 201; online orders
// return the hosted payment page to redirect to.
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.checkout.Checkout(c.Request.Context(), req.domain(identity(c).UserID))
	if err != nil {
		respondError(c, err)
		return
	}
	if res.RedirectURL != "" {
		ok(c, http.StatusOK, "redirect to payment", redirectResponse{
			OrderID:         res.Order.ID,
			MerchantOrderID: res.Order.MerchantOrderID,
			RedirectURL:     res.RedirectURL,
		})
		return
	}
	ok(c, http.StatusCreated, "order placed", newOrderResponse(res.Order))
}

// FetchCheckout prices the cart or a buy-now item without placing an order.
func (h *Handler) FetchCheckout(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	q, err := h.checkout.Preview(c.Request.Context(), req.domain(identity(c).UserID))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "checkout data", newPreviewResponse(q))
}

// PayStatus reconciles an online order with the gateway.
func (h *Handler) PayStatus(c *gin.Context) {
	o, err := h.checkout.ConfirmPayment(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "payment status "+string(o.PayStatus), newOrderResponse(o))
}
