package checkout

import (
	"context"
	"time"

	"github.com/ecodeclub/ekit/slice"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/shipping"
)

const defaultExpectedDelivery = 7 * 24 * time.Hour

// Deps are the collaborators of a Service.
type Deps struct {
	Products  product.Repository
	Customers customer.Repository
	Orders    order.Repository
	Inventory Inventory
	Discounts Discounts
	Shipping  ShippingCosts
	Gateway   Gateway
	Notifier  Notifier
	IDs       OrderIDs
}

// Option configures a Service.
type Option func(s *Service)

// WithMeterProvider sets the meter provider for checkout counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.meter = mp.Meter("storefront/checkout")
	}
}

// WithExpectedDelivery sets how far ahead of the order date delivery is
// promised.
func WithExpectedDelivery(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expectedDelivery = d
		}
	}
}

// Service assembles, prices and places orders.
type Service struct {
	Deps

	expectedDelivery time.Duration
	meter            metric.Meter
	placed           metric.Int64Counter
	rejected         metric.Int64Counter
	now              func() time.Time
}

// NewService creates a checkout Service.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	s := &Service{
		Deps:             deps,
		expectedDelivery: defaultExpectedDelivery,
		meter:            noop.NewMeterProvider().Meter("storefront/checkout"),
		now:              time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders placed by pay mode"),
	); err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	if s.rejected, err = s.meter.Int64Counter("checkout.rejected",
		metric.WithDescription("Checkout attempts rejected by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	return s, nil
}

// Preview prices the request without persisting anything. Items keep their
// requested quantity and report their stock status.
func (s *Service) Preview(ctx context.Context, req Request) (*Quote, error) {
	mode, err := order.ParseBuyMode(req.BuyMode)
	if err != nil {
		return nil, err
	}
	dt, err := shipping.ParseDeliveryType(req.DeliveryType)
	if err != nil {
		return nil, err
	}

	var (
		items []PricedItem
		pin   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		items, err = s.resolveItems(gctx, mode, req)
		return err
	})
	g.Go(func() error {
		pin = s.previewPin(gctx, req.UserID, req.Pincode)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	q := totals(items)
	q.ShippingCost = s.Shipping.Cost(ctx, shipping.Query{DeliveryType: dt, DestinationPin: pin})
	q.Amount = q.SubTotal.Add(q.ShippingCost)
	return q, nil
}

// Checkout validates stock, prices the request, persists the order and
// settles it according to its pay mode.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	mode, err := order.ParseBuyMode(req.BuyMode)
	if err != nil {
		return nil, err
	}
	payMode, err := order.ParsePayMode(req.PayMode)
	if err != nil {
		return nil, err
	}
	dt, err := shipping.ParseDeliveryType(req.DeliveryType)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveItems(ctx, mode, req)
	if err != nil {
		s.reject(ctx, "resolve")
		return nil, err
	}
	if err := s.ledgerStock(ctx, resolved); err != nil {
		s.reject(ctx, "stock")
		return nil, err
	}
	items, outOfStock := capToStock(resolved)
	if len(outOfStock) > 0 {
		s.reject(ctx, "out_of_stock")
		return nil, &OutOfStockError{Names: outOfStock}
	}

	pin := s.shipPin(ctx, req.UserID, req.ShipAddress, req.Pincode)
	q := totals(items)
	q.ShippingCost = s.Shipping.Cost(ctx, shipping.Query{DeliveryType: dt, DestinationPin: pin})
	s.applyDiscounts(ctx, req.UserID, req.CouponCode, q)
	s.reserveCoupon(ctx, req.UserID, q)

	o, err := s.newOrder(ctx, req, mode, payMode, dt, q)
	if err != nil {
		s.releaseCoupon(ctx, req.UserID, q.CouponCode)
		return nil, err
	}
	if err := s.Orders.Create(ctx, o); err != nil {
		s.releaseCoupon(ctx, o.UserID, o.CouponCode)
		return nil, errors.Wrap(err, "create order")
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("merchant_order_id", o.MerchantOrderID),
		zap.String("pay_mode", string(payMode)),
	)
	lg.Info("Order created", zap.String("amount", o.Amount.StringFixed(2)))

	if payMode == order.PayModeCOD {
		if err := s.fulfil(ctx, o); err != nil {
			s.reject(ctx, "insufficient_stock")
			return nil, err
		}
		s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("pay_mode", string(payMode))))
		return &Result{Order: o, Messages: q.Messages}, nil
	}

	var payer payment.Payer
	if u, err := s.Customers.GetUser(ctx, o.UserID); err == nil {
		payer = payment.Payer{Name: u.FullName(), Mobile: u.Mobile}
	} else {
		lg.Warn("Resolve payer failed", zap.Error(err))
	}
	sess, err := s.Gateway.Initiate(ctx, o.MerchantOrderID, payer, o.Amount)
	if err != nil {
		lg.Error("Payment initiation failed", zap.Error(err))
		if err := s.Orders.SetPayStatus(ctx, o.ID, order.PayFailed); err != nil {
			lg.Warn("Mark payment failed", zap.Error(err))
		}
		s.releaseCoupon(ctx, o.UserID, o.CouponCode)
		s.reject(ctx, "payment_initiation")
		return nil, errors.Wrapf(ErrPaymentInitiation, "order %s", o.MerchantOrderID)
	}
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("pay_mode", string(payMode))))
	return &Result{Order: o, RedirectURL: sess.RedirectURL, Messages: q.Messages}, nil
}

// ConfirmPayment reconciles an online order with the gateway. A completed
// payment takes stock and finalizes the order exactly once, unless the order
// was closed meanwhile, in which case only the payment is recorded. A failed
// payment is recorded and anything else leaves the order untouched.
func (s *Service) ConfirmPayment(ctx context.Context, actor auth.Identity, orderID string) (*order.Order, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(o.UserID) {
		return nil, order.ErrNotOwner
	}
	if o.PayMode != order.PayModeOnline || o.PayStatus != order.PayPending {
		return o, nil
	}

	st, err := s.Gateway.Status(ctx, o.MerchantOrderID)
	if err != nil {
		return nil, errors.Wrap(err, "payment status")
	}
	lg := zctx.From(ctx).With(
		zap.String("order_id", o.ID),
		zap.String("gateway_state", string(st.State)),
	)

	switch st.State {
	case payment.StateCompleted:
		status, ok, err := s.Orders.MarkPaid(ctx, o.ID, st.TransactionID)
		if err != nil {
			return nil, errors.Wrap(err, "mark paid")
		}
		if !ok {
			// Another request already settled the order.
			return s.Orders.Get(ctx, o.ID)
		}
		o.PayStatus = order.PayCompleted
		o.TransactionID = st.TransactionID
		o.Status = status
		if order.Closed(status) {
			lg.Error("Payment completed for a closed order, refund required",
				zap.String("status", string(status)),
				zap.String("transaction_id", st.TransactionID),
			)
			return o, nil
		}
		lg.Info("Payment completed")
		if err := s.fulfil(ctx, o); err != nil {
			lg.Error("Paid order could not be fulfilled, refund required", zap.Error(err))
			return nil, err
		}
	case payment.StateFailed:
		if err := s.Orders.SetPayStatus(ctx, o.ID, order.PayFailed); err != nil {
			return nil, errors.Wrap(err, "mark payment failed")
		}
		o.PayStatus = order.PayFailed
		s.releaseCoupon(ctx, o.UserID, o.CouponCode)
		lg.Info("Payment failed")
	}
	return o, nil
}

// fulfil takes stock for a placed order, clears the cart and sends the
// confirmation. When stock cannot be taken the order is cancelled, committed
// movements are reversed and the coupon is released.
func (s *Service) fulfil(ctx context.Context, o *order.Order) error {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("user_id", o.UserID))

	applied, err := s.Inventory.Decrement(ctx, order.Reservation(o))
	if err != nil {
		if len(applied) > 0 {
			if rerr := s.Inventory.Restock(ctx, applied); rerr != nil {
				lg.Error("Compensating restock failed", zap.Error(rerr))
			}
		}
		if _, cerr := s.Orders.UpdateStatus(ctx, o.ID, o.Status, order.StatusCancelled); cerr != nil {
			lg.Error("Cancel unfulfilled order failed", zap.Error(cerr))
		} else {
			o.Status = order.StatusCancelled
		}
		s.releaseCoupon(ctx, o.UserID, o.CouponCode)
		return errors.Wrap(err, "decrement stock")
	}

	if o.BuyMode == order.BuyLater {
		if err := s.Customers.ClearCart(ctx, o.UserID); err != nil {
			lg.Warn("Clear cart failed", zap.Error(err))
		}
	}
	s.Notifier.OrderPlaced(ctx, o)
	return nil
}

func (s *Service) reject(ctx context.Context, reason string) {
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// resolveItems loads the line items of the request and enriches them with
// live catalog data.
func (s *Service) resolveItems(ctx context.Context, mode order.BuyMode, req Request) ([]PricedItem, error) {
	if mode == order.BuyNow {
		it, err := s.buyNowItem(ctx, req)
		if err != nil {
			return nil, err
		}
		return []PricedItem{it}, nil
	}

	cart, err := s.Customers.Cart(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}
	ids := slice.Map(cart, func(_ int, c customer.CartItem) string { return c.ProductID })
	products, err := s.Products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	items := make([]PricedItem, 0, len(cart))
	for _, c := range cart {
		p, ok := byID[c.ProductID]
		if !ok {
			zctx.From(ctx).Warn("Cart references missing product", zap.String("product_id", c.ProductID))
			continue
		}
		extra := decimal.Zero
		if v, ok := p.FindVariant(c.Specs); ok {
			extra = v.ExtraPrice
		}
		items = append(items, priced(p, c.Quantity, c.Specs, extra))
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	return items, nil
}

func (s *Service) buyNowItem(ctx context.Context, req Request) (PricedItem, error) {
	if _, err := uuid.Parse(req.ProductID); err != nil {
		return PricedItem{}, ErrInvalidProduct
	}
	if req.Quantity <= 0 {
		return PricedItem{}, ErrInvalidQuantity
	}
	p, err := s.Products.GetByID(ctx, req.ProductID)
	if err != nil {
		return PricedItem{}, err
	}
	v, ok := p.FindVariant(req.Specs)
	if !ok {
		return PricedItem{}, ErrVariantNotFound
	}
	return priced(p, req.Quantity, req.Specs, v.ExtraPrice), nil
}

func priced(p *product.Product, qty int, specs []product.Spec, extra decimal.Decimal) PricedItem {
	stock := p.TotalStock()
	return PricedItem{
		ProductID:   p.ID,
		Name:        p.Name,
		Thumbnail:   p.Thumbnail,
		CategoryIDs: p.CategoryIDs,
		Quantity:    qty,
		Price:       p.Price,
		ExtraPrice:  extra,
		Tax:         p.Tax,
		Stock:       stock,
		StockStatus: inventory.StatusFor(stock, qty),
		Specs:       product.NormalizeSpecs(specs),
	}
}

// ledgerStock replaces the stock of each item with the ledger figure, the
// quantity Decrement will work against.
func (s *Service) ledgerStock(ctx context.Context, items []PricedItem) error {
	seen := make(map[string]int, len(items))
	for i := range items {
		id := items[i].ProductID
		n, ok := seen[id]
		if !ok {
			var err error
			if n, err = s.Inventory.AvailableStock(ctx, id); err != nil {
				return errors.Wrap(err, "available stock")
			}
			seen[id] = n
		}
		items[i].Stock = n
		items[i].StockStatus = inventory.StatusFor(n, items[i].Quantity)
	}
	return nil
}

// capToStock drops items without stock, returning their names, and caps the
// quantity of the rest to what is available.
func capToStock(items []PricedItem) ([]PricedItem, []string) {
	var (
		out        = make([]PricedItem, 0, len(items))
		outOfStock []string
	)
	for _, it := range items {
		if it.Stock <= 0 {
			outOfStock = append(outOfStock, it.Name)
			continue
		}
		if it.Quantity > it.Stock {
			it.Quantity = max(it.Stock, 1)
			it.StockStatus = inventory.StatusFor(it.Stock, it.Quantity)
		}
		out = append(out, it)
	}
	return out, outOfStock
}

// shipPin returns the postal code of the chosen ship address. When it cannot
// be resolved the lookup continues as in preview.
func (s *Service) shipPin(ctx context.Context, userID, shipAddressID, pincode string) string {
	if shipAddressID != "" {
		a, err := s.Customers.GetAddress(ctx, userID, shipAddressID)
		if err == nil {
			return a.Pincode
		}
		zctx.From(ctx).Warn("Resolve ship address failed",
			zap.String("user_id", userID),
			zap.String("address_id", shipAddressID),
			zap.Error(err),
		)
	}
	return s.previewPin(ctx, userID, pincode)
}

// previewPin returns the postal code used for a quote. An address on file
// wins over the request pincode, which only serves users without one.
func (s *Service) previewPin(ctx context.Context, userID, pincode string) string {
	addrs, err := s.Customers.Addresses(ctx, userID)
	if err != nil {
		zctx.From(ctx).Warn("List addresses failed", zap.String("user_id", userID), zap.Error(err))
		return pincode
	}
	if len(addrs) > 0 && addrs[0].Pincode != "" {
		return addrs[0].Pincode
	}
	return pincode
}

func totals(items []PricedItem) *Quote {
	q := &Quote{Items: items, SubTotal: decimal.Zero, TotalTax: decimal.Zero, Discount: decimal.Zero}
	for _, it := range items {
		q.SubTotal = q.SubTotal.Add(it.Total())
		q.TotalTax = q.TotalTax.Add(it.TaxAmount())
	}
	q.SubTotal = q.SubTotal.Round(2)
	q.TotalTax = q.TotalTax.Round(2)
	return q
}

// applyDiscounts fills the discount and amount of q. Automatic discounts see
// the items, the coupon sees subtotal plus tax. Evaluation failures count as
// no discount.
func (s *Service) applyDiscounts(ctx context.Context, userID, code string, q *Quote) {
	lg := zctx.From(ctx).With(zap.String("user_id", userID))

	auto, err := s.Discounts.ApplyAutomatic(ctx, slice.Map(q.Items, func(_ int, it PricedItem) discount.Item {
		return discount.Item{
			ProductID:   it.ProductID,
			CategoryIDs: it.CategoryIDs,
			UnitPrice:   it.UnitPrice(),
			Quantity:    it.Quantity,
		}
	}))
	if err != nil {
		lg.Error("Automatic discounts unavailable", zap.Error(err))
		auto = discount.Result{Amount: decimal.Zero}
	}
	if auto.Message != "" {
		q.Messages = append(q.Messages, auto.Message)
	}

	coupon := discount.Result{Amount: decimal.Zero}
	if code != "" {
		coupon, err = s.Discounts.ApplyCoupon(ctx, userID, code, q.SubTotal.Add(q.TotalTax))
		if err != nil {
			lg.Error("Coupon evaluation unavailable", zap.String("coupon", code), zap.Error(err))
			coupon = discount.Result{Amount: decimal.Zero}
		}
		if coupon.Message != "" {
			q.Messages = append(q.Messages, coupon.Message)
		}
		if coupon.Amount.IsPositive() {
			q.CouponCode = code
		}
	}

	ceiling := q.SubTotal.Add(q.ShippingCost)
	q.Discount = decimal.Min(s.Discounts.Policy().Combine(auto.Amount, coupon.Amount), ceiling).Round(2)
	q.Amount = ceiling.Sub(q.Discount)
}

// reserveCoupon redeems the quoted coupon before the order is persisted, so
// concurrent checkouts cannot both spend it. When the reservation fails the
// quote is repriced without the coupon.
func (s *Service) reserveCoupon(ctx context.Context, userID string, q *Quote) {
	if q.CouponCode == "" {
		return
	}
	err := s.Discounts.MarkUsed(ctx, q.CouponCode, userID)
	if err == nil {
		return
	}
	lg := zctx.From(ctx).With(zap.String("user_id", userID), zap.String("coupon", q.CouponCode))
	msg := "Coupon already used"
	if errors.Is(err, discount.ErrAlreadyUsed) {
		lg.Info("Coupon redeemed by a concurrent checkout")
	} else {
		lg.Error("Reserve coupon failed", zap.Error(err))
		msg = "Coupon could not be applied"
	}
	q.Messages = nil
	q.CouponCode = ""
	s.applyDiscounts(ctx, userID, "", q)
	q.Messages = append(q.Messages, msg)
}

func (s *Service) releaseCoupon(ctx context.Context, userID, code string) {
	if code == "" {
		return
	}
	if err := s.Discounts.Release(ctx, code, userID); err != nil {
		zctx.From(ctx).Warn("Release coupon failed",
			zap.String("user_id", userID),
			zap.String("coupon", code),
			zap.Error(err),
		)
	}
}

func (s *Service) newOrder(
	ctx context.Context,
	req Request,
	mode order.BuyMode,
	payMode order.PayMode,
	dt shipping.DeliveryType,
	q *Quote,
) (*order.Order, error) {
	var specs []product.Spec
	for _, it := range q.Items {
		specs = append(specs, it.Specs...)
	}
	names := map[product.Spec]product.SpecName{}
	if len(specs) > 0 {
		resolved, err := s.Products.SpecNames(ctx, specs)
		if err != nil {
			return nil, errors.Wrap(err, "resolve spec names")
		}
		for _, n := range resolved {
			names[product.Spec{VariationID: n.VariationID, OptionID: n.OptionID}] = n
		}
	}

	now := s.now()
	return &order.Order{
		ID:              uuid.NewString(),
		MerchantOrderID: s.IDs.OrderID(),
		UserID:          req.UserID,
		PayMode:         payMode,
		BuyMode:         mode,
		PayStatus:       order.PayPending,
		RefundStatus:    order.RefundNone,
		Status:          order.StatusProcessing,
		CouponCode:      q.CouponCode,
		SubTotal:        q.SubTotal,
		TotalTax:        q.TotalTax,
		Discount:        q.Discount,
		DeliveryCharge:  q.ShippingCost,
		Amount:          q.Amount,
		Items: slice.Map(q.Items, func(_ int, it PricedItem) order.Item {
			return order.Item{
				ProductID:  it.ProductID,
				Name:       it.Name,
				Thumbnail:  it.Thumbnail,
				Quantity:   it.Quantity,
				Price:      it.Price,
				ExtraPrice: it.ExtraPrice,
				Tax:        it.Tax,
				TaxAmount:  it.TaxAmount().Round(2),
				Specs: slice.Map(it.Specs, func(_ int, sp product.Spec) product.SpecName {
					if n, ok := names[sp]; ok {
						return n
					}
					return product.SpecName{VariationID: sp.VariationID, OptionID: sp.OptionID}
				}),
			}
		}),
		BillAddress:      req.BillAddress,
		ShipAddress:      req.ShipAddress,
		DeliveryType:     dt,
		OrderDate:        now,
		ExpectedDelivery: now.Add(s.expectedDelivery),
		UpdatedAt:        now,
	}, nil
}
