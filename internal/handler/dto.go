package handler

import (
	"time"

	"github.com/ecodeclub/ekit/slice"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/shipping"
)

// Money leaves the API as JSON numbers rounded to paise.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func nullMoney(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := money(d.Decimal)
	return &v
}

type specRequest struct {
	VariationID string `json:"variationId" binding:"required"`
	OptionID    string `json:"optionId" binding:"required"`
}

func toSpecs(in []specRequest) []product.Spec {
	return slice.Map(in, func(_ int, s specRequest) product.Spec {
		return product.Spec{VariationID: s.VariationID, OptionID: s.OptionID}
	})
}

type checkoutRequest struct {
	BillAddress  string        `json:"billAddress"`
	ShipAddress  string        `json:"shipAddress" binding:"required"`
	PayMode      string        `json:"payMode" binding:"required,oneof=COD ONLINE"`
	DeliveryType string        `json:"deliveryType" binding:"omitempty,oneof=Standard Express International"`
	CouponCode   string        `json:"couponCode"`
	BuyMode      string        `json:"buyMode" binding:"omitempty,oneof=now later"`
	ProductID    string        `json:"productId" binding:"required_if=BuyMode now"`
	Quantity     int           `json:"quantity" binding:"required_if=BuyMode now,gte=0"`
	Specs        []specRequest `json:"specs" binding:"dive"`
	Pincode      string        `json:"pincode"`
}

func (r checkoutRequest) domain(userID string) checkout.Request {
	return checkout.Request{
		UserID:       userID,
		BuyMode:      r.BuyMode,
		PayMode:      r.PayMode,
		DeliveryType: r.DeliveryType,
		BillAddress:  r.BillAddress,
		ShipAddress:  r.ShipAddress,
		CouponCode:   r.CouponCode,
		ProductID:    r.ProductID,
		Quantity:     r.Quantity,
		Specs:        toSpecs(r.Specs),
		Pincode:      r.Pincode,
	}
}

type previewRequest struct {
	DeliveryType string        `json:"deliveryType" binding:"omitempty,oneof=Standard Express International"`
	BuyMode      string        `json:"buyMode" binding:"omitempty,oneof=now later"`
	ProductID    string        `json:"productId" binding:"required_if=BuyMode now"`
	Quantity     int           `json:"quantity" binding:"required_if=BuyMode now,gte=0"`
	Specs        []specRequest `json:"specs" binding:"dive"`
	Pincode      string        `json:"pincode"`
}

func (r previewRequest) domain(userID string) checkout.Request {
	return checkout.Request{
		UserID:       userID,
		BuyMode:      r.BuyMode,
		DeliveryType: r.DeliveryType,
		ProductID:    r.ProductID,
		Quantity:     r.Quantity,
		Specs:        toSpecs(r.Specs),
		Pincode:      r.Pincode,
	}
}

type cartItemResponse struct {
	ProductID   string         `json:"productId"`
	Name        string         `json:"name"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	Quantity    int            `json:"quantity"`
	Price       float64        `json:"price"`
	ExtraPrice  float64        `json:"extraPrice"`
	Tax         float64        `json:"tax"`
	TaxAmount   float64        `json:"taxAmount"`
	Total       float64        `json:"total"`
	Stock       int            `json:"stock"`
	StockStatus string         `json:"stockStatus"`
	Specs       []product.Spec `json:"specs"`
}

type previewResponse struct {
	Cart         []cartItemResponse `json:"cart"`
	Subtotal     float64            `json:"subtotal"`
	TotalTax     float64            `json:"totalTax"`
	ShippingCost float64            `json:"shippingCost"`
	Amount       float64            `json:"amount"`
}

func newPreviewResponse(q *checkout.Quote) previewResponse {
	return previewResponse{
		Cart: slice.Map(q.Items, func(_ int, it checkout.PricedItem) cartItemResponse {
			return cartItemResponse{
				ProductID:   it.ProductID,
				Name:        it.Name,
				Thumbnail:   it.Thumbnail,
				Quantity:    it.Quantity,
				Price:       money(it.Price),
				ExtraPrice:  money(it.ExtraPrice),
				Tax:         it.Tax.InexactFloat64(),
				TaxAmount:   money(it.TaxAmount()),
				Total:       money(it.Total()),
				Stock:       it.Stock,
				StockStatus: string(it.StockStatus),
				Specs:       it.Specs,
			}
		}),
		Subtotal:     money(q.SubTotal),
		TotalTax:     money(q.TotalTax),
		ShippingCost: money(q.ShippingCost),
		Amount:       money(q.Amount),
	}
}

type redirectResponse struct {
	OrderID         string `json:"orderId"`
	MerchantOrderID string `json:"merchantOrderId"`
	RedirectURL     string `json:"redirectUrl"`
}

type orderItemResponse struct {
	ProductID  string             `json:"productId"`
	Name       string             `json:"name"`
	Thumbnail  string             `json:"thumbnail,omitempty"`
	Quantity   int                `json:"quantity"`
	Price      float64            `json:"price"`
	ExtraPrice float64            `json:"extraPrice"`
	Tax        float64            `json:"tax"`
	TaxAmount  float64            `json:"taxAmount"`
	Specs      []product.SpecName `json:"specs"`
}

type customerResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	MerchantOrderID  string              `json:"merchantOrderId"`
	UserID           string              `json:"userId"`
	Customer         *customerResponse   `json:"customer,omitempty"`
	PayMode          string              `json:"payMode"`
	BuyMode          string              `json:"buyMode"`
	PayStatus        string              `json:"payStatus"`
	RefundStatus     string              `json:"refundStatus"`
	Status           string              `json:"status"`
	CouponCode       string              `json:"couponCode,omitempty"`
	SubTotal         float64             `json:"subTotal"`
	TotalTax         float64             `json:"totalTax"`
	Discount         float64             `json:"discount"`
	DeliveryCharge   float64             `json:"deliveryCharge"`
	Amount           float64             `json:"amount"`
	Items            []orderItemResponse `json:"items"`
	BillAddress      string              `json:"billAddress"`
	ShipAddress      string              `json:"shipAddress"`
	DeliveryType     string              `json:"deliveryType"`
	TransactionID    string              `json:"transactionId,omitempty"`
	MerchantRefundID string              `json:"merchantRefundId,omitempty"`
	RefundID         string              `json:"refundId,omitempty"`
	RefundAmount     *float64            `json:"refundAmount,omitempty"`
	OrderDate        time.Time           `json:"orderDate"`
	ExpectedDelivery time.Time           `json:"expectedDelivery"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

func newOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		MerchantOrderID: o.MerchantOrderID,
		UserID:          o.UserID,
		PayMode:         string(o.PayMode),
		BuyMode:         string(o.BuyMode),
		PayStatus:       string(o.PayStatus),
		RefundStatus:    string(o.RefundStatus),
		Status:          string(o.Status),
		CouponCode:      o.CouponCode,
		SubTotal:        money(o.SubTotal),
		TotalTax:        money(o.TotalTax),
		Discount:        money(o.Discount),
		DeliveryCharge:  money(o.DeliveryCharge),
		Amount:          money(o.Amount),
		Items: slice.Map(o.Items, func(_ int, it order.Item) orderItemResponse {
			return orderItemResponse{
				ProductID:  it.ProductID,
				Name:       it.Name,
				Thumbnail:  it.Thumbnail,
				Quantity:   it.Quantity,
				Price:      money(it.Price),
				ExtraPrice: money(it.ExtraPrice),
				Tax:        it.Tax.InexactFloat64(),
				TaxAmount:  money(it.TaxAmount),
				Specs:      it.Specs,
			}
		}),
		BillAddress:      o.BillAddress,
		ShipAddress:      o.ShipAddress,
		DeliveryType:     string(o.DeliveryType),
		TransactionID:    o.TransactionID,
		MerchantRefundID: o.MerchantRefundID,
		RefundID:         o.RefundID,
		RefundAmount:     nullMoney(o.RefundAmount),
		OrderDate:        o.OrderDate,
		ExpectedDelivery: o.ExpectedDelivery,
		UpdatedAt:        o.UpdatedAt,
	}
	if c := o.Customer; c != nil {
		resp.Customer = &customerResponse{
			ID:     c.ID,
			Name:   c.FirstName + " " + c.LastName,
			Email:  c.Email,
			Mobile: c.Mobile,
		}
	}
	return resp
}

func newOrderResponses(orders []order.Order) []orderResponse {
	return slice.Map(orders, func(_ int, o order.Order) orderResponse {
		return newOrderResponse(&o)
	})
}

type listOrdersQuery struct {
	Search       string `form:"search"`
	PayMode      string `form:"payMode"`
	PayStatus    string `form:"payStatus"`
	Status       string `form:"status"`
	DeliveryType string `form:"deliveryType"`
	FromDate     string `form:"fromDate"`
	ToDate       string `form:"toDate"`
	MinAmount    string `form:"minAmount"`
	MaxAmount    string `form:"maxAmount"`
	SortBy       string `form:"sortBy"`
	SortOrder    string `form:"sortOrder"`
	Page         int    `form:"page" binding:"gte=0"`
	Entries      int    `form:"entries" binding:"gte=0"`
}

type orderPageResponse struct {
	Orders       []orderResponse `json:"orders"`
	TotalEntries int64           `json:"totalEntries"`
	Page         int             `json:"page"`
	Entries      int             `json:"entries"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type refundRequest struct {
	OrderID string              `json:"orderId" binding:"required"`
	Amount  decimal.NullDecimal `json:"amount"`
}

type refundResponse struct {
	Order  orderResponse `json:"order"`
	Refund struct {
		RefundID         string  `json:"refundId"`
		MerchantRefundID string  `json:"merchantRefundId"`
		State            string  `json:"state"`
		Amount           float64 `json:"amount"`
	} `json:"refund"`
}

func newRefundResponse(o *order.Order, r payment.Refund) refundResponse {
	var resp refundResponse
	resp.Order = newOrderResponse(o)
	resp.Refund.RefundID = r.RefundID
	resp.Refund.MerchantRefundID = r.MerchantRefundID
	resp.Refund.State = string(r.State)
	resp.Refund.Amount = money(r.Amount)
	return resp
}

type statsResponse struct {
	StatusCounts map[string]int64 `json:"statusCounts"`
	MonthlySales struct {
		Previous      float64  `json:"previous"`
		Current       float64  `json:"current"`
		PercentChange *float64 `json:"percentChange"`
	} `json:"monthlySales"`
	WeeklyOrders struct {
		Previous      int64    `json:"previous"`
		Current       int64    `json:"current"`
		PercentChange *float64 `json:"percentChange"`
	} `json:"weeklyOrders"`
}

func newStatsResponse(st *order.Stats) statsResponse {
	var resp statsResponse
	resp.StatusCounts = make(map[string]int64, len(st.StatusCounts))
	for _, sc := range st.StatusCounts {
		resp.StatusCounts[string(sc.Status)] = sc.Count
	}
	resp.MonthlySales.Previous = money(st.MonthlySales.Previous)
	resp.MonthlySales.Current = money(st.MonthlySales.Current)
	resp.MonthlySales.PercentChange = st.MonthlySales.PercentChange
	resp.WeeklyOrders.Previous = st.WeeklyOrders.Previous
	resp.WeeklyOrders.Current = st.WeeklyOrders.Current
	resp.WeeklyOrders.PercentChange = st.WeeklyOrders.PercentChange
	return resp
}

type discountRequest struct {
	Code                 string              `json:"code"`
	Description          string              `json:"description"`
	DiscountType         string              `json:"discountType" binding:"required,oneof=percentage fixed"`
	DiscountValue        decimal.Decimal     `json:"discountValue"`
	MinOrderAmount       decimal.Decimal     `json:"minOrderAmount"`
	MaxDiscountAmount    decimal.NullDecimal `json:"maxDiscountAmount"`
	StartDate            time.Time           `json:"startDate" binding:"required"`
	EndDate              time.Time           `json:"endDate" binding:"required"`
	IsActive             *bool               `json:"isActive"`
	AppliesAutomatically bool                `json:"appliesAutomatically"`
	ApplicableProducts   []string            `json:"applicableProducts"`
	ApplicableCategories []string            `json:"applicableCategories"`
}

func (r discountRequest) domain() *discount.Discount {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &discount.Discount{
		Code:                 r.Code,
		Description:          r.Description,
		Type:                 discount.Type(r.DiscountType),
		Value:                r.DiscountValue,
		MinOrderAmount:       r.MinOrderAmount,
		MaxDiscountAmount:    r.MaxDiscountAmount,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		IsActive:             active,
		AppliesAutomatically: r.AppliesAutomatically,
		ApplicableProducts:   r.ApplicableProducts,
		ApplicableCategories: r.ApplicableCategories,
	}
}

type discountResponse struct {
	ID                   int64     `json:"id"`
	Code                 string    `json:"code,omitempty"`
	Description          string    `json:"description"`
	DiscountType         string    `json:"discountType"`
	DiscountValue        float64   `json:"discountValue"`
	MinOrderAmount       float64   `json:"minOrderAmount"`
	MaxDiscountAmount    *float64  `json:"maxDiscountAmount"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	IsActive             bool      `json:"isActive"`
	AppliesAutomatically bool      `json:"appliesAutomatically"`
	ApplicableProducts   []string  `json:"applicableProducts"`
	ApplicableCategories []string  `json:"applicableCategories"`
	UsedBy               []string  `json:"usedBy"`
}

func newDiscountResponse(d discount.Discount) discountResponse {
	return discountResponse{
		ID:                   d.ID,
		Code:                 d.Code,
		Description:          d.Description,
		DiscountType:         string(d.Type),
		DiscountValue:        money(d.Value),
		MinOrderAmount:       money(d.MinOrderAmount),
		MaxDiscountAmount:    nullMoney(d.MaxDiscountAmount),
		StartDate:            d.StartDate,
		EndDate:              d.EndDate,
		IsActive:             d.IsActive,
		AppliesAutomatically: d.AppliesAutomatically,
		ApplicableProducts:   d.ApplicableProducts,
		ApplicableCategories: d.ApplicableCategories,
		UsedBy:               d.UsedBy,
	}
}

type activeRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

type shippingRequest struct {
	DeliveryType string          `json:"deliveryType" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Duration     string          `json:"duration"`
}

func (r shippingRequest) domain() *shipping.Cost {
	return &shipping.Cost{
		DeliveryType: shipping.DeliveryType(r.DeliveryType),
		Amount:       r.Amount,
		Duration:     r.Duration,
	}
}

type shippingResponse struct {
	ID           int64     `json:"id"`
	DeliveryType string    `json:"deliveryType"`
	Amount       float64   `json:"amount"`
	Duration     string    `json:"duration"`
	IsArchived   bool      `json:"isArchived"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newShippingResponse(c shipping.Cost) shippingResponse {
	return shippingResponse{
		ID:           c.ID,
		DeliveryType: string(c.DeliveryType),
		Amount:       money(c.Amount),
		Duration:     c.Duration,
		IsArchived:   c.IsArchived,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
