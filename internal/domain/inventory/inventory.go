// Package inventory tracks per-product stock held in ordered variant buckets.
package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// StockStatus classifies a line item against the stock currently on hand.
type StockStatus string

const (
	Available    StockStatus = "AVAILABLE"
	Insufficient StockStatus = "INSUFFICIENT"
	OutOfStock   StockStatus = "OUT_OF_STOCK"
)

// StatusFor returns the stock status of a request for qty units when stock
// units are available.
func StatusFor(stock, qty int) StockStatus {
	switch {
	case stock <= 0:
		return OutOfStock
	case stock < qty:
		return Insufficient
	default:
		return Available
	}
}

// ErrInsufficientStock is returned when the buckets of a product cannot cover
// the requested quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

// Item is a quantity of a product to take from or return to stock.
type Item struct {
	ProductID string
	Quantity  int
}

// InsufficientStockError lists the products that could not be decremented.
type InsufficientStockError struct {
	ProductIDs []string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for products %s", strings.Join(e.ProductIDs, ", "))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Total returns the units available across stock buckets. Negative buckets
// count as empty, matching what PlanDecrement can take.
func Total(stocks []int) int {
	total := 0
	for _, s := range stocks {
		total += max(s, 0)
	}
	return total
}

// PlanDecrement walks stocks in order, taking as much as possible from each
// bucket before moving to the next. It returns the resulting bucket stocks or
// ErrInsufficientStock, in which case stocks is left untouched.
func PlanDecrement(stocks []int, qty int) ([]int, error) {
	if qty <= 0 {
		return nil, errors.Errorf("invalid quantity %d", qty)
	}
	next := make([]int, len(stocks))
	copy(next, stocks)

	remaining := qty
	for i := range next {
		if remaining == 0 {
			break
		}
		if next[i] <= 0 {
			continue
		}
		take := min(next[i], remaining)
		next[i] -= take
		remaining -= take
	}
	if remaining > 0 {
		return nil, ErrInsufficientStock
	}
	return next, nil
}

// Repository persists variant bucket stock. Decrement must be atomic per
// product: either every bucket change for the product is applied or none is.
type Repository interface {
	Stock(ctx context.Context, productID string) ([]int, error)
	Decrement(ctx context.Context, productID string, qty int) error
	Restock(ctx context.Context, productID string, qty int) error
}
