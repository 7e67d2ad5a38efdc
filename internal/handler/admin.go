package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ecodeclub/ekit/slice"
	"github.com/gin-gonic/gin"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/shipping"
)

func (h *Handler) CreateDiscount(c *gin.Context) {
	var req discountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d := req.domain()
	if err := h.discounts.Create(c.Request.Context(), d); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusCreated, "discount created", newDiscountResponse(*d))
}

func (h *Handler) ListDiscounts(c *gin.Context) {
	list, err := h.discounts.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "discounts", slice.Map(list, func(_ int, d discount.Discount) discountResponse {
		return newDiscountResponse(d)
	}))
}

func (h *Handler) SetDiscountActive(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.discounts.SetActive(c.Request.Context(), id, *req.IsActive); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "discount updated", gin.H{"id": id, "isActive": *req.IsActive})
}

func (h *Handler) CreateShippingCost(c *gin.Context) {
	var req shippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cost := req.domain()
	if err := h.shipping.Create(c.Request.Context(), cost); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusCreated, "shipping cost created", newShippingResponse(*cost))
}

func (h *Handler) ListShippingCosts(c *gin.Context) {
	var archived *bool
	if v := c.Query("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid archived flag")
			return
		}
		archived = &b
	}
	list, err := h.shipping.List(c.Request.Context(), archived)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "shipping costs", slice.Map(list, func(_ int, s shipping.Cost) shippingResponse {
		return newShippingResponse(s)
	}))
}

func (h *Handler) GetShippingCost(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	cost, err := h.shipping.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "shipping cost", newShippingResponse(*cost))
}

func (h *Handler) UpdateShippingCost(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req shippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cost := req.domain()
	cost.ID = id
	if err := h.shipping.Update(c.Request.Context(), cost); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "shipping cost updated", newShippingResponse(*cost))
}

func (h *Handler) ArchiveShippingCost(c *gin.Context) {
	h.setArchived(c, h.shipping.Archive, "shipping cost archived")
}

func (h *Handler) RestoreShippingCost(c *gin.Context) {
	h.setArchived(c, h.shipping.Restore, "shipping cost restored")
}

func (h *Handler) setArchived(c *gin.Context, op func(context.Context, int64) (*shipping.Cost, error), message string) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	cost, err := op(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, message, newShippingResponse(*cost))
}

func (h *Handler) DeleteShippingCost(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.shipping.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	ok(c, http.StatusOK, "shipping cost deleted", nil)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}
