package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/shipping"
)

const orderColumns = `o.id, o.merchant_order_id, o.user_id, o.pay_mode, o.buy_mode, o.pay_status,
		o.refund_status, o.status, o.coupon_code, o.sub_total, o.total_tax, o.discount,
		o.delivery_charge, o.amount, o.items, o.bill_address, o.ship_address, o.delivery_type,
		o.transaction_id, o.merchant_refund_id, o.refund_id, o.refund_amount, o.order_date,
		o.expected_delivery, o.updated_at, u.first_name, u.last_name, u.email, u.mobile`

const ordersFrom = ` FROM orders o JOIN users u ON u.id = o.user_id`

const (
	createOrderSQL = `INSERT INTO orders (id, merchant_order_id, user_id, pay_mode, buy_mode,
			pay_status, refund_status, status, coupon_code, sub_total, total_tax, discount,
			delivery_charge, amount, items, bill_address, ship_address, delivery_type,
			order_date, expected_delivery, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	getOrderSQL = `SELECT ` + orderColumns + ordersFrom + ` WHERE o.id = $1`

	getOrderByRefundSQL = `SELECT ` + orderColumns + ordersFrom + `
		WHERE o.merchant_refund_id = $1 AND o.merchant_refund_id <> ''`

	updateOrderStatusSQL = `WITH o AS (
			UPDATE orders SET status = $3, updated_at = now()
			WHERE id = $1 AND status = $2
			RETURNING *
		)
		SELECT ` + orderColumns + ` FROM o JOIN users u ON u.id = o.user_id`

	markOrderPaidSQL = `UPDATE orders SET pay_status = 'completed', transaction_id = $2, updated_at = now()
		WHERE id = $1 AND pay_status = 'pending'
		RETURNING status`

	reserveRefundSQL = `UPDATE orders SET
			merchant_refund_id = $2,
			refund_id = '',
			refund_amount = $3,
			refund_status = 'requested',
			updated_at = now()
		WHERE id = $1 AND pay_status = 'completed' AND refund_status IN ('none', 'failed')`

	setPayStatusSQL = `UPDATE orders SET pay_status = $2, updated_at = now() WHERE id = $1`

	updateRefundSQL = `UPDATE orders SET
			merchant_refund_id = COALESCE($2::text, merchant_refund_id),
			refund_id = COALESCE($3::text, refund_id),
			refund_amount = COALESCE($4::numeric, refund_amount),
			refund_status = $5,
			pay_status = COALESCE($6::text, pay_status),
			updated_at = now()
		WHERE id = $1`

	statusCountsSQL = `SELECT status, count(*) FROM orders GROUP BY status`

	salesBetweenSQL = `SELECT COALESCE(sum(amount), 0) FROM orders
		WHERE status = $1 AND order_date >= $2 AND order_date < $3`

	countBetweenSQL = `SELECT count(*) FROM orders WHERE order_date >= $1 AND order_date < $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// are stored as a JSONB snapshot.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.MerchantOrderID, o.UserID, string(o.PayMode), string(o.BuyMode),
		string(o.PayStatus), string(o.RefundStatus), string(o.Status), o.CouponCode,
		o.SubTotal, o.TotalTax, o.Discount, o.DeliveryCharge, o.Amount, o.Items,
		o.BillAddress, o.ShipAddress, string(o.DeliveryType),
		o.OrderDate, o.ExpectedDelivery, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create order %s", o.MerchantOrderID)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.one(ctx, getOrderSQL, id)
}

func (r *OrderRepository) GetByMerchantRefundID(ctx context.Context, merchantRefundID string) (*order.Order, error) {
	return r.one(ctx, getOrderByRefundSQL, merchantRefundID)
}

func (r *OrderRepository) one(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return &o, nil
}

// UpdateStatus changes the status only if it still equals from and returns
// the row as the update wrote it.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	o, err := r.one(ctx, updateOrderStatusSQL, id, string(from), string(to))
	switch {
	case err == nil:
		return o, nil
	case !errors.Is(err, order.ErrNotFound):
		return nil, errors.Wrapf(err, "update order %s status", id)
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(order.ErrStatusConflict, "order is %s", cur.Status)
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id, transactionID string) (order.Status, bool, error) {
	var status string
	err := r.pool.QueryRow(ctx, markOrderPaidSQL, id, transactionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "mark order %s paid", id)
	}
	return order.Status(status), true, nil
}

func (r *OrderRepository) ReserveRefund(ctx context.Context, id, merchantRefundID string, amount decimal.Decimal) (bool, error) {
	tag, err := r.pool.Exec(ctx, reserveRefundSQL, id, merchantRefundID, amount)
	if err != nil {
		return false, errors.Wrapf(err, "reserve order %s refund", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) SetPayStatus(ctx context.Context, id string, status order.PayStatus) error {
	tag, err := r.pool.Exec(ctx, setPayStatusSQL, id, string(status))
	if err != nil {
		return errors.Wrapf(err, "set order %s pay status", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) UpdateRefund(ctx context.Context, id string, u order.RefundUpdate) error {
	var payStatus *string
	if u.PayStatus != nil {
		s := string(*u.PayStatus)
		payStatus = &s
	}
	tag, err := r.pool.Exec(ctx, updateRefundSQL,
		id, u.MerchantRefundID, u.RefundID, u.Amount, string(u.RefundStatus), payStatus,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %s refund", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// List returns a sorted page of orders matching q.Filter.
func (r *OrderRepository) List(ctx context.Context, q order.ListQuery) ([]order.Order, error) {
	w := buildOrderFilter(q.Filter)
	var sb strings.Builder
	sb.WriteString(`SELECT ` + orderColumns + ordersFrom)
	sb.WriteString(w.sql())
	sb.WriteString(orderBy(q.SortBy, q.Asc))
	args := w.args
	if q.Entries > 0 {
		args = append(args, q.Entries, (max(q.Page, 1)-1)*q.Entries)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args)))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return out, nil
}

// Count returns the number of orders matching f. It shares the predicate
// builder with List.
func (r *OrderRepository) Count(ctx context.Context, f order.Filter) (int64, error) {
	w := buildOrderFilter(f)
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*)`+ordersFrom+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count orders")
	}
	return n, nil
}

func (r *OrderRepository) StatusCounts(ctx context.Context) (map[order.Status]int64, error) {
	rows, err := r.pool.Query(ctx, statusCountsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "status counts")
	}
	type statusCount struct {
		status string
		count  int64
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (statusCount, error) {
		var c statusCount
		err := row.Scan(&c.status, &c.count)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "status counts")
	}
	out := make(map[order.Status]int64, len(counts))
	for _, c := range counts {
		out[order.Status(c.status)] = c.count
	}
	return out, nil
}

func (r *OrderRepository) SalesBetween(ctx context.Context, status order.Status, from, to time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.pool.QueryRow(ctx, salesBetweenSQL, string(status), from, to).Scan(&sum); err != nil {
		return decimal.Zero, errors.Wrap(err, "sales between")
	}
	return sum, nil
}

func (r *OrderRepository) CountBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countBetweenSQL, from, to).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count between")
	}
	return n, nil
}

// whereClause accumulates AND-ed conditions. A "?" in a condition is
// replaced by the placeholder of its argument.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereClause) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func buildOrderFilter(f order.Filter) *whereClause {
	w := &whereClause{}
	if f.UserID != "" {
		w.add("o.user_id::text = ?", f.UserID)
	}
	if f.Search != "" {
		w.add("(o.merchant_order_id ILIKE ? OR o.status ILIKE ? OR (u.first_name || ' ' || u.last_name) ILIKE ?)",
			"%"+escapeLike(f.Search)+"%")
	}
	if f.PayMode != "" {
		w.add("o.pay_mode = ?", string(f.PayMode))
	}
	if f.PayStatus != "" {
		w.add("o.pay_status = ?", string(f.PayStatus))
	}
	if f.Status != "" {
		w.add("o.status = ?", string(f.Status))
	}
	if f.DeliveryType != "" {
		w.add("o.delivery_type = ?", string(f.DeliveryType))
	}
	if !f.From.IsZero() {
		w.add("o.order_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("o.order_date <= ?", f.To)
	}
	if f.MinAmount.Valid {
		w.add("o.amount >= ?", f.MinAmount.Decimal)
	}
	if f.MaxAmount.Valid {
		w.add("o.amount <= ?", f.MaxAmount.Decimal)
	}
	return w
}

func orderBy(field order.SortField, asc bool) string {
	dir := " DESC"
	if asc {
		dir = " ASC"
	}
	switch field {
	case order.SortTotal:
		return " ORDER BY o.amount" + dir + ", o.id"
	case order.SortCustomer:
		return " ORDER BY u.first_name" + dir + ", u.last_name" + dir + ", o.id"
	default:
		return " ORDER BY o.order_date" + dir + ", o.id"
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                               order.Order
		c                                               order.Customer
		payMode, buyMode, payStatus, refundStatus, stat string
		deliveryType                                    string
	)
	err := row.Scan(
		&o.ID, &o.MerchantOrderID, &o.UserID, &payMode, &buyMode, &payStatus,
		&refundStatus, &stat, &o.CouponCode, &o.SubTotal, &o.TotalTax, &o.Discount,
		&o.DeliveryCharge, &o.Amount, &o.Items, &o.BillAddress, &o.ShipAddress, &deliveryType,
		&o.TransactionID, &o.MerchantRefundID, &o.RefundID, &o.RefundAmount, &o.OrderDate,
		&o.ExpectedDelivery, &o.UpdatedAt, &c.FirstName, &c.LastName, &c.Email, &c.Mobile,
	)
	o.PayMode = order.PayMode(payMode)
	o.BuyMode = order.BuyMode(buyMode)
	o.PayStatus = order.PayStatus(payStatus)
	o.RefundStatus = order.RefundStatus(refundStatus)
	o.Status = order.Status(stat)
	o.DeliveryType = shipping.DeliveryType(deliveryType)
	c.ID = o.UserID
	o.Customer = &c
	return o, err
}
