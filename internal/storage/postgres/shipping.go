package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/shipping"
)

const shippingColumns = `id, delivery_type, amount, duration, is_archived, created_at, updated_at`

const (
	findActiveShippingSQL = `SELECT ` + shippingColumns + `
		FROM shipping_costs WHERE delivery_type = $1 AND NOT is_archived`

	getShippingSQL = `SELECT ` + shippingColumns + ` FROM shipping_costs WHERE id = $1`

	listShippingSQL = `SELECT ` + shippingColumns + `
		FROM shipping_costs WHERE ($1::boolean IS NULL OR is_archived = $1)
		ORDER BY delivery_type, id`

	createShippingSQL = `INSERT INTO shipping_costs (delivery_type, amount, duration)
		VALUES ($1, $2, $3) RETURNING ` + shippingColumns

	updateShippingSQL = `UPDATE shipping_costs
		SET delivery_type = $2, amount = $3, duration = $4, updated_at = now()
		WHERE id = $1 RETURNING ` + shippingColumns

	archiveShippingSQL = `UPDATE shipping_costs SET is_archived = $2, updated_at = now()
		WHERE id = $1 RETURNING ` + shippingColumns

	deleteShippingSQL = `DELETE FROM shipping_costs WHERE id = $1`
)

var _ shipping.Repository = (*ShippingRepository)(nil)

// ShippingRepository implements shipping.Repository backed by PostgreSQL. A
// partial unique index keeps one non-archived row per delivery type.
type ShippingRepository struct {
	pool *pgxpool.Pool
}

// NewShippingRepository returns a ShippingRepository that uses the given pool.
func NewShippingRepository(pool *pgxpool.Pool) *ShippingRepository {
	return &ShippingRepository{pool: pool}
}

func (r *ShippingRepository) FindActive(ctx context.Context, dt shipping.DeliveryType) (*shipping.Cost, error) {
	return r.one(ctx, "find active shipping cost", findActiveShippingSQL, string(dt))
}

func (r *ShippingRepository) Get(ctx context.Context, id int64) (*shipping.Cost, error) {
	return r.one(ctx, "get shipping cost", getShippingSQL, id)
}

func (r *ShippingRepository) List(ctx context.Context, archived *bool) ([]shipping.Cost, error) {
	rows, err := r.pool.Query(ctx, listShippingSQL, archived)
	if err != nil {
		return nil, errors.Wrap(err, "list shipping costs")
	}
	out, err := pgx.CollectRows(rows, scanShippingCost)
	if err != nil {
		return nil, errors.Wrap(err, "list shipping costs")
	}
	return out, nil
}

func (r *ShippingRepository) Create(ctx context.Context, c *shipping.Cost) error {
	created, err := r.one(ctx, "create shipping cost", createShippingSQL, string(c.DeliveryType), c.Amount, c.Duration)
	if err != nil {
		return err
	}
	*c = *created
	return nil
}

func (r *ShippingRepository) Update(ctx context.Context, c *shipping.Cost) error {
	updated, err := r.one(ctx, "update shipping cost", updateShippingSQL, c.ID, string(c.DeliveryType), c.Amount, c.Duration)
	if err != nil {
		return err
	}
	*c = *updated
	return nil
}

func (r *ShippingRepository) SetArchived(ctx context.Context, id int64, archived bool) (*shipping.Cost, error) {
	return r.one(ctx, "archive shipping cost", archiveShippingSQL, id, archived)
}

func (r *ShippingRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteShippingSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete shipping cost %d", id)
	}
	if tag.RowsAffected() == 0 {
		return shipping.ErrNotFound
	}
	return nil
}

func (r *ShippingRepository) one(ctx context.Context, op, sql string, args ...any) (*shipping.Cost, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanShippingCost)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, shipping.ErrNotFound
	case isUniqueViolation(err):
		return nil, shipping.ErrAlreadyExists
	case err != nil:
		return nil, errors.Wrap(err, op)
	}
	return &c, nil
}

func scanShippingCost(row pgx.CollectableRow) (shipping.Cost, error) {
	var (
		c  shipping.Cost
		dt string
	)
	err := row.Scan(&c.ID, &dt, &c.Amount, &c.Duration, &c.IsArchived, &c.CreatedAt, &c.UpdatedAt)
	c.DeliveryType = shipping.DeliveryType(dt)
	return c, err
}
