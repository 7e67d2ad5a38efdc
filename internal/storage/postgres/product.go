package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, tax, thumbnail, category_ids
		FROM products WHERE id = ANY($1::uuid[])`

	listVariantsSQL = `SELECT product_id, sku, specs, stock, extra_price
		FROM product_variants WHERE product_id = ANY($1::uuid[])
		ORDER BY product_id, position`

	variantStockSQL = `SELECT stock FROM product_variants
		WHERE product_id = $1 ORDER BY position`

	lockVariantsSQL = `SELECT id, stock FROM product_variants
		WHERE product_id = $1 ORDER BY position FOR UPDATE`

	setVariantStockSQL = `UPDATE product_variants SET stock = $2 WHERE id = $1`

	restockSQL = `UPDATE product_variants SET stock = stock + $2
		WHERE id = (SELECT id FROM product_variants WHERE product_id = $1 ORDER BY position LIMIT 1)`

	specNamesSQL = `SELECT v.id::text, o.id::text, v.name, o.value
		FROM options o JOIN variations v ON v.id = o.variation_id
		WHERE o.id::text = ANY($1)`
)

var (
	_ product.Repository   = (*ProductRepository)(nil)
	_ inventory.Repository = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository and inventory.Repository
// backed by PostgreSQL. Variant buckets live in product_variants ordered by
// position.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product with its variants.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, product.ErrNotFound
	}
	products, err := r.GetByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, product.ErrNotFound
	}
	return &products[0], nil
}

// GetByIDs returns products matching any of the given IDs. Malformed ids are
// ignored.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, valid)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}

	rows, err = r.pool.Query(ctx, listVariantsSQL, valid)
	if err != nil {
		return nil, errors.Wrap(err, "list variants")
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, errors.Wrap(err, "list variants")
	}
	byProduct := make(map[string][]product.Variant, len(products))
	for _, v := range variants {
		byProduct[v.productID] = append(byProduct[v.productID], v.Variant)
	}
	for i := range products {
		products[i].Variants = byProduct[products[i].ID]
	}
	return products, nil
}

// SpecNames resolves option ids to variation and option names. Specs that
// cannot be resolved are returned with ids only.
func (r *ProductRepository) SpecNames(ctx context.Context, specs []product.Spec) ([]product.SpecName, error) {
	optionIDs := make([]string, 0, len(specs))
	for _, s := range specs {
		optionIDs = append(optionIDs, s.OptionID)
	}
	rows, err := r.pool.Query(ctx, specNamesSQL, optionIDs)
	if err != nil {
		return nil, errors.Wrap(err, "resolve spec names")
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.SpecName, error) {
		var n product.SpecName
		err := row.Scan(&n.VariationID, &n.OptionID, &n.VariationName, &n.OptionValue)
		return n, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "resolve spec names")
	}

	byKey := make(map[product.Spec]product.SpecName, len(found))
	for _, n := range found {
		byKey[product.Spec{VariationID: n.VariationID, OptionID: n.OptionID}] = n
	}
	out := make([]product.SpecName, 0, len(specs))
	for _, s := range specs {
		n, ok := byKey[s]
		if !ok {
			n = product.SpecName{VariationID: s.VariationID, OptionID: s.OptionID}
		}
		out = append(out, n)
	}
	return out, nil
}

// Stock returns the bucket stocks of a product in position order.
func (r *ProductRepository) Stock(ctx context.Context, productID string) ([]int, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return nil, product.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, variantStockSQL, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "stock of %s", productID)
	}
	stocks, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, errors.Wrapf(err, "stock of %s", productID)
	}
	return stocks, nil
}

// Decrement takes qty units from the product's buckets inside a single
// transaction. The bucket rows are locked so concurrent decrements of the
// same product serialize.
func (r *ProductRepository) Decrement(ctx context.Context, productID string, qty int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockVariantsSQL, productID)
		if err != nil {
			return errors.Wrap(err, "lock variants")
		}
		type bucket struct {
			id    int64
			stock int
		}
		buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (bucket, error) {
			var b bucket
			err := row.Scan(&b.id, &b.stock)
			return b, err
		})
		if err != nil {
			return errors.Wrap(err, "lock variants")
		}

		stocks := make([]int, len(buckets))
		for i, b := range buckets {
			stocks[i] = b.stock
		}
		next, err := inventory.PlanDecrement(stocks, qty)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, b := range buckets {
			if next[i] != b.stock {
				batch.Queue(setVariantStockSQL, b.id, next[i])
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "update variant stock")
		}
		return nil
	})
}

// Restock returns qty units to the first bucket of the product.
func (r *ProductRepository) Restock(ctx context.Context, productID string, qty int) error {
	tag, err := r.pool.Exec(ctx, restockSQL, productID, qty)
	if err != nil {
		return errors.Wrapf(err, "restock %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Tax, &p.Thumbnail, &p.CategoryIDs)
	return p, err
}

type variantRow struct {
	product.Variant
	productID string
}

func scanVariant(row pgx.CollectableRow) (variantRow, error) {
	var v variantRow
	err := row.Scan(&v.productID, &v.SKU, &v.Specs, &v.Stock, &v.ExtraPrice)
	return v, err
}
