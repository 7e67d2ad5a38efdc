// Package checkout turns carts into priced orders and hands them to payment.
package checkout

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/shipping"
)

var (
	ErrInvalidProduct    = errors.New("invalid product id")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrVariantNotFound   = errors.New("requested variant does not exist")
	ErrEmptyCart         = errors.New("no items to checkout")
	ErrPaymentInitiation = errors.New("failed to initiate payment")
)

// OutOfStockError lists items that cannot be ordered at all.
type OutOfStockError struct {
	Names []string
}

func (e *OutOfStockError) Error() string {
	return "out of stock: " + strings.Join(e.Names, ", ")
}

// Request is a checkout or preview request. Empty BuyMode means later and
// empty DeliveryType means Standard.
type Request struct {
	UserID       string
	BuyMode      string
	PayMode      string
	DeliveryType string
	BillAddress  string
	ShipAddress  string
	CouponCode   string
	// ProductID, Quantity and Specs describe the item in buy-now mode.
	ProductID string
	Quantity  int
	Specs     []product.Spec
	Pincode   string
}

// PricedItem is a line item enriched with live catalog and stock data.
type PricedItem struct {
	ProductID   string
	Name        string
	Thumbnail   string
	CategoryIDs []string
	Quantity    int
	Price       decimal.Decimal
	ExtraPrice  decimal.Decimal
	Tax         decimal.Decimal
	Stock       int
	StockStatus inventory.StockStatus
	Specs       []product.Spec
}

// UnitPrice is the tax inclusive price of one unit.
func (i PricedItem) UnitPrice() decimal.Decimal {
	return i.Price.Add(i.ExtraPrice)
}

// Total is UnitPrice times Quantity.
func (i PricedItem) Total() decimal.Decimal {
	return i.UnitPrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TaxAmount extracts the tax already included in Total. The result is not
// rounded.
func (i PricedItem) TaxAmount() decimal.Decimal {
	if !i.Tax.IsPositive() {
		return decimal.Zero
	}
	return i.Total().Mul(i.Tax).Div(i.Tax.Add(decimal.NewFromInt(100)))
}

// Quote is the cost breakdown of a set of priced items.
type Quote struct {
	Items        []PricedItem
	SubTotal     decimal.Decimal
	TotalTax     decimal.Decimal
	ShippingCost decimal.Decimal
	Discount     decimal.Decimal
	Amount       decimal.Decimal
	// CouponCode is set only when the coupon contributed to Discount.
	CouponCode string
	Messages   []string
}

// Result is the outcome of a checkout. RedirectURL is set for online
// payment.
type Result struct {
	Order       *order.Order
	RedirectURL string
	Messages    []string
}

// Inventory is the stock ledger used by checkout.
type Inventory interface {
	AvailableStock(ctx context.Context, productID string) (int, error)
	Decrement(ctx context.Context, items []inventory.Item) ([]inventory.Item, error)
	Restock(ctx context.Context, items []inventory.Item) error
}

// Discounts evaluates and redeems discounts.
type Discounts interface {
	ApplyAutomatic(ctx context.Context, items []discount.Item) (discount.Result, error)
	ApplyCoupon(ctx context.Context, userID, code string, base decimal.Decimal) (discount.Result, error)
	MarkUsed(ctx context.Context, code, userID string) error
	Release(ctx context.Context, code, userID string) error
	Policy() discount.Policy
}

// ShippingCosts resolves the delivery charge.
type ShippingCosts interface {
	Cost(ctx context.Context, q shipping.Query) decimal.Decimal
}

// Gateway is the payment processor.
type Gateway interface {
	Initiate(ctx context.Context, merchantOrderID string, payer payment.Payer, amount decimal.Decimal) (payment.Session, error)
	Status(ctx context.Context, merchantOrderID string) (payment.OrderStatus, error)
}

// Notifier sends order confirmations.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *order.Order)
}

// OrderIDs issues merchant order ids.
type OrderIDs interface {
	OrderID() string
}
