package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) GetOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "order", newOrderResponse(o))
}

func (h *Handler) MyOrders(c *gin.Context) {
	orders, err := h.orders.ListMine(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "orders", newOrderResponses(orders))
}

// ListOrders is the admin order listing. The page total comes from a count
// over the same filter.
func (h *Handler) ListOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	minAmount, err := parseAmount(q.MinAmount)
	if err != nil {
		badRequest(c, "invalid minAmount")
		return
	}
	maxAmount, err := parseAmount(q.MaxAmount)
	if err != nil {
		badRequest(c, "invalid maxAmount")
		return
	}

	page, err := h.orders.List(c.Request.Context(), order.ListRequest{
		Search:       q.Search,
		PayMode:      q.PayMode,
		PayStatus:    q.PayStatus,
		Status:       q.Status,
		DeliveryType: q.DeliveryType,
		FromDate:     q.FromDate,
		ToDate:       q.ToDate,
		MinAmount:    minAmount,
		MaxAmount:    maxAmount,
		SortBy:       q.SortBy,
		SortOrder:    q.SortOrder,
		Page:         q.Page,
		Entries:      q.Entries,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "orders", orderPageResponse{
		Orders:       newOrderResponses(page.Orders),
		TotalEntries: page.TotalEntries,
		Page:         page.Page,
		Entries:      page.Entries,
	})
}

func parseAmount(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func (h *Handler) CancelOrder(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "order cancelled", newOrderResponse(o))
}

func (h *Handler) ReturnOrder(c *gin.Context) {
	o, err := h.orders.Return(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "order returned", newOrderResponse(o))
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	o, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "order status updated", newOrderResponse(o))
}

func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	o, refund, err := h.orders.RequestRefund(c.Request.Context(), req.OrderID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "refund requested", newRefundResponse(o, refund))
}

func (h *Handler) RefundStatus(c *gin.Context) {
	o, refund, err := h.orders.RefundStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "refund "+string(o.RefundStatus), newRefundResponse(o, refund))
}

func (h *Handler) OrderStats(c *gin.Context) {
	st, err := h.orders.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "order stats", newStatsResponse(st))
}
