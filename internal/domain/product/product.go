package product

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/inventory"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Spec selects one option of one variation, e.g. size=XL.
type Spec struct {
	VariationID string `json:"variationId"`
	OptionID    string `json:"optionId"`
}

// SpecName is a Spec resolved to display names.
type SpecName struct {
	VariationID   string `json:"variationId"`
	OptionID      string `json:"optionId"`
	VariationName string `json:"variationName"`
	OptionValue   string `json:"optionValue"`
}

// Variant is a single stock bucket of a product.
type Variant struct {
	SKU        string
	Specs      []Spec
	Stock      int
	ExtraPrice decimal.Decimal
}

// Product represents a catalog item available for purchase. Price is tax
// inclusive, Tax is a percentage.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Tax         decimal.Decimal
	Thumbnail   string
	CategoryIDs []string
	Variants    []Variant
}

// TotalStock sums stock across all variant buckets, the same quantity the
// inventory ledger can decrement.
func (p *Product) TotalStock() int {
	stocks := make([]int, len(p.Variants))
	for i, v := range p.Variants {
		stocks[i] = v.Stock
	}
	return inventory.Total(stocks)
}

// FindVariant returns the variant whose spec set equals specs, ignoring order.
func (p *Product) FindVariant(specs []Spec) (*Variant, bool) {
	for i := range p.Variants {
		if SpecsEqual(p.Variants[i].Specs, specs) {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// NormalizeSpecs returns a copy of specs sorted by variation id.
func NormalizeSpecs(specs []Spec) []Spec {
	out := slices.Clone(specs)
	slices.SortStableFunc(out, func(a, b Spec) int {
		return strings.Compare(a.VariationID, b.VariationID)
	})
	return out
}

// SpecsEqual reports whether two spec sets select the same options.
func SpecsEqual(a, b []Spec) bool {
	if len(a) != len(b) {
		return false
	}
	return slices.Equal(NormalizeSpecs(a), NormalizeSpecs(b))
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// SpecNames resolves variation and option ids to display names.
	SpecNames(ctx context.Context, specs []Spec) ([]SpecName, error)
}
