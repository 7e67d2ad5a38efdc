package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/customer"
)

const (
	getUserSQL = `SELECT id, first_name, last_name, email, mobile, created_at
		FROM users WHERE id = $1`

	listAddressesSQL = `SELECT id, user_id, line1, city, state, pincode
		FROM addresses WHERE user_id = $1 ORDER BY created_at, id`

	getAddressSQL = `SELECT id, user_id, line1, city, state, pincode
		FROM addresses WHERE id = $1 AND user_id = $2`

	listCartSQL = `SELECT id, product_id, quantity, specs
		FROM cart_items WHERE user_id = $1 ORDER BY id`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) GetUser(ctx context.Context, id string) (*customer.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, customer.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, getUserSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (customer.User, error) {
		var u customer.User
		err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Mobile, &u.CreatedAt)
		return u, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	return &u, nil
}

func (r *CustomerRepository) Addresses(ctx context.Context, userID string) ([]customer.Address, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, listAddressesSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	addrs, err := pgx.CollectRows(rows, scanAddress)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return addrs, nil
}

func (r *CustomerRepository) GetAddress(ctx context.Context, userID, id string) (*customer.Address, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, customer.ErrAddressNotFound
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, customer.ErrAddressNotFound
	}
	rows, err := r.pool.Query(ctx, getAddressSQL, id, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get address %s", id)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrAddressNotFound
		}
		return nil, errors.Wrapf(err, "get address %s", id)
	}
	return &a, nil
}

func (r *CustomerRepository) Cart(ctx context.Context, userID string) ([]customer.CartItem, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (customer.CartItem, error) {
		var c customer.CartItem
		err := row.Scan(&c.ID, &c.ProductID, &c.Quantity, &c.Specs)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	return items, nil
}

func (r *CustomerRepository) ClearCart(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func scanAddress(row pgx.CollectableRow) (customer.Address, error) {
	var a customer.Address
	err := row.Scan(&a.ID, &a.UserID, &a.Line1, &a.City, &a.State, &a.Pincode)
	return a, err
}
