package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/discount"
)

const discountColumns = `d.id, COALESCE(d.code, ''), d.description, d.discount_type, d.discount_value,
		d.min_order_amount, d.max_discount_amount, d.start_date, d.end_date, d.is_active,
		d.applies_automatically, d.applicable_products, d.applicable_categories,
		ARRAY(SELECT u.user_id FROM discount_usages u WHERE u.discount_id = d.id ORDER BY u.used_at)`

const (
	listAutomaticDiscountsSQL = `SELECT ` + discountColumns + `
		FROM discounts d WHERE d.applies_automatically AND d.is_active ORDER BY d.id`

	findDiscountByCodeSQL = `SELECT ` + discountColumns + `
		FROM discounts d WHERE d.code = $1`

	listDiscountsSQL = `SELECT ` + discountColumns + `
		FROM discounts d ORDER BY d.id`

	markDiscountUsedSQL = `INSERT INTO discount_usages (discount_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`

	unmarkDiscountUsedSQL = `DELETE FROM discount_usages WHERE discount_id = $1 AND user_id = $2`

	createDiscountSQL = `INSERT INTO discounts (code, description, discount_type, discount_value,
			min_order_amount, max_discount_amount, start_date, end_date, is_active,
			applies_automatically, applicable_products, applicable_categories)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	setDiscountActiveSQL = `UPDATE discounts SET is_active = $2 WHERE id = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
// Redemptions are rows of discount_usages keyed by discount and user.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

func (r *DiscountRepository) ListAutomatic(ctx context.Context) ([]discount.Discount, error) {
	return r.list(ctx, listAutomaticDiscountsSQL)
}

func (r *DiscountRepository) List(ctx context.Context) ([]discount.Discount, error) {
	return r.list(ctx, listDiscountsSQL)
}

func (r *DiscountRepository) list(ctx context.Context, sql string) ([]discount.Discount, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	out, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, errors.Wrap(err, "list discounts")
	}
	return out, nil
}

// FindByCode looks up a discount by its exact code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, findDiscountByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find discount %q", code)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find discount %q", code)
	}
	return &d, nil
}

// MarkUsed records a redemption. The primary key on (discount_id, user_id)
// makes a second redemption by the same user a no-op reported as
// discount.ErrAlreadyUsed.
func (r *DiscountRepository) MarkUsed(ctx context.Context, discountID int64, userID string) error {
	tag, err := r.pool.Exec(ctx, markDiscountUsedSQL, discountID, userID)
	if err != nil {
		return errors.Wrap(err, "mark discount used")
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrAlreadyUsed
	}
	return nil
}

func (r *DiscountRepository) UnmarkUsed(ctx context.Context, discountID int64, userID string) error {
	if _, err := r.pool.Exec(ctx, unmarkDiscountUsedSQL, discountID, userID); err != nil {
		return errors.Wrap(err, "unmark discount used")
	}
	return nil
}

func (r *DiscountRepository) Create(ctx context.Context, d *discount.Discount) error {
	products, categories := d.ApplicableProducts, d.ApplicableCategories
	if products == nil {
		products = []string{}
	}
	if categories == nil {
		categories = []string{}
	}
	err := r.pool.QueryRow(ctx, createDiscountSQL,
		d.Code, d.Description, string(d.Type), d.Value,
		d.MinOrderAmount, d.MaxDiscountAmount, d.StartDate, d.EndDate, d.IsActive,
		d.AppliesAutomatically, products, categories,
	).Scan(&d.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return discount.ErrDuplicateCode
		}
		return errors.Wrap(err, "create discount")
	}
	return nil
}

func (r *DiscountRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, setDiscountActiveSQL, id, active)
	if err != nil {
		return errors.Wrapf(err, "set discount %d active", id)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d   discount.Discount
		typ string
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Description, &typ, &d.Value,
		&d.MinOrderAmount, &d.MaxDiscountAmount, &d.StartDate, &d.EndDate, &d.IsActive,
		&d.AppliesAutomatically, &d.ApplicableProducts, &d.ApplicableCategories,
		&d.UsedBy,
	)
	d.Type = discount.Type(typ)
	return d, err
}
