package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// StatusCount is the number of orders currently in a status.
type StatusCount struct {
	Status Status
	Count  int64
}

// SalesChange compares delivered sales of the current and previous month.
type SalesChange struct {
	Previous      decimal.Decimal
	Current       decimal.Decimal
	PercentChange *float64
}

// OrdersChange compares order counts of the current and previous ISO week.
type OrdersChange struct {
	Previous      int64
	Current       int64
	PercentChange *float64
}

// Stats is the admin dashboard summary.
type Stats struct {
	StatusCounts []StatusCount
	MonthlySales SalesChange
	WeeklyOrders OrdersChange
}

// Stats computes the dashboard summary. Periods are calendar months and ISO
// weeks in the service location.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.now().In(s.loc)
	curMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	prevMonth := curMonth.AddDate(0, -1, 0)
	nextMonth := curMonth.AddDate(0, 1, 0)

	curWeek := startOfISOWeek(now)
	prevWeek := curWeek.AddDate(0, 0, -7)
	nextWeek := curWeek.AddDate(0, 0, 7)

	var (
		counts                map[Status]int64
		prevSales, curSales   decimal.Decimal
		prevOrders, curOrders int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if counts, err = s.orders.StatusCounts(gctx); err != nil {
			return errors.Wrap(err, "status counts")
		}
		return nil
	})
	g.Go(func() (err error) {
		if prevSales, err = s.orders.SalesBetween(gctx, StatusDelivered, prevMonth, curMonth); err != nil {
			return errors.Wrap(err, "previous month sales")
		}
		return nil
	})
	g.Go(func() (err error) {
		if curSales, err = s.orders.SalesBetween(gctx, StatusDelivered, curMonth, nextMonth); err != nil {
			return errors.Wrap(err, "current month sales")
		}
		return nil
	})
	g.Go(func() (err error) {
		if prevOrders, err = s.orders.CountBetween(gctx, prevWeek, curWeek); err != nil {
			return errors.Wrap(err, "previous week orders")
		}
		return nil
	})
	g.Go(func() (err error) {
		if curOrders, err = s.orders.CountBetween(gctx, curWeek, nextWeek); err != nil {
			return errors.Wrap(err, "current week orders")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st := &Stats{
		MonthlySales: SalesChange{
			Previous:      prevSales,
			Current:       curSales,
			PercentChange: PercentChange(prevSales, curSales),
		},
		WeeklyOrders: OrdersChange{
			Previous:      prevOrders,
			Current:       curOrders,
			PercentChange: PercentChange(decimal.NewFromInt(prevOrders), decimal.NewFromInt(curOrders)),
		},
	}
	for _, status := range Statuses {
		st.StatusCounts = append(st.StatusCounts, StatusCount{Status: status, Count: counts[status]})
	}
	return st, nil
}

// PercentChange returns (cur-prev)/prev*100 rounded to 2 places. It is nil
// when prev is zero and cur is not, and zero when both are zero.
func PercentChange(prev, cur decimal.Decimal) *float64 {
	if prev.IsZero() {
		if cur.IsZero() {
			v := 0.0
			return &v
		}
		return nil
	}
	v := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	return &v
}

func startOfISOWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}
