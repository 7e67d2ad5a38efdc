package inventory

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Ledger answers availability queries and applies stock movements.
type Ledger struct {
	repo Repository
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// AvailableStock returns the total stock of a product across its buckets.
func (l *Ledger) AvailableStock(ctx context.Context, productID string) (int, error) {
	stocks, err := l.repo.Stock(ctx, productID)
	if err != nil {
		return 0, errors.Wrapf(err, "stock of %s", productID)
	}
	return Total(stocks), nil
}

// Decrement takes items out of stock. Quantities for the same product are
// combined and every product is decremented on its own: a failure on one
// product does not undo another. The returned slice holds the movements that
// were committed so callers can compensate with Restock.
func (l *Ledger) Decrement(ctx context.Context, items []Item) ([]Item, error) {
	var (
		applied []Item
		short   []string
	)
	for _, it := range aggregate(items) {
		err := l.repo.Decrement(ctx, it.ProductID, it.Quantity)
		switch {
		case err == nil:
			applied = append(applied, it)
		case errors.Is(err, ErrInsufficientStock):
			short = append(short, it.ProductID)
		default:
			return applied, errors.Wrapf(err, "decrement %s", it.ProductID)
		}
	}
	if len(short) > 0 {
		return applied, &InsufficientStockError{ProductIDs: short}
	}
	return applied, nil
}

// Restock returns items to stock. It keeps going after a failure and reports
// the first error.
func (l *Ledger) Restock(ctx context.Context, items []Item) error {
	var firstErr error
	for _, it := range aggregate(items) {
		if err := l.repo.Restock(ctx, it.ProductID, it.Quantity); err != nil {
			zctx.From(ctx).Error("Restock failed",
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "restock %s", it.ProductID)
			}
		}
	}
	return firstErr
}

// aggregate merges items by product id, keeping first-seen order and
// dropping non-positive quantities.
func aggregate(items []Item) []Item {
	idx := make(map[string]int, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
