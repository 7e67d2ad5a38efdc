package discount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Policy decides how several discount amounts combine.
type Policy string

const (
	// PolicySum adds all amounts.
	PolicySum Policy = "sum"
	// PolicyBest keeps only the largest amount.
	PolicyBest Policy = "best"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicySum, PolicyBest:
		return p, nil
	case "":
		return PolicySum, nil
	default:
		return "", errors.Errorf("unknown discount policy %q", s)
	}
}

// Combine merges amounts according to the policy.
func (p Policy) Combine(amounts ...decimal.Decimal) decimal.Decimal {
	out := decimal.Zero
	for _, a := range amounts {
		if p == PolicyBest {
			out = decimal.Max(out, a)
			continue
		}
		out = out.Add(a)
	}
	return out
}

// Engine evaluates discounts. It never records redemptions on its own;
// callers invoke MarkUsed to reserve a coupon for an order and Release when
// that order does not go through.
type Engine struct {
	repo   Repository
	policy Policy
	now    func() time.Time
}

// NewEngine creates an Engine backed by repo.
func NewEngine(repo Repository, policy Policy) *Engine {
	if policy == "" {
		policy = PolicySum
	}
	return &Engine{repo: repo, policy: policy, now: time.Now}
}

// Policy returns the configured stacking policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ApplyAutomatic resolves every eligible automatic discount against the
// items it covers and combines them with the engine policy.
func (e *Engine) ApplyAutomatic(ctx context.Context, items []Item) (Result, error) {
	discounts, err := e.repo.ListAutomatic(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "list automatic discounts")
	}

	now := e.now()
	var (
		amounts []decimal.Decimal
		applied []string
	)
	for i := range discounts {
		d := &discounts[i]
		if !d.AppliesAutomatically || !d.ActiveAt(now) {
			continue
		}
		base := decimal.Zero
		for _, it := range items {
			if d.Matches(it) {
				base = base.Add(it.Total())
			}
		}
		if !base.IsPositive() || base.LessThan(d.MinOrderAmount) {
			continue
		}
		amount := d.AmountFor(base)
		if !amount.IsPositive() {
			continue
		}
		amounts = append(amounts, amount)
		applied = append(applied, label(d))
	}
	if len(amounts) == 0 {
		return Result{Amount: decimal.Zero}, nil
	}
	return Result{
		Amount:  e.policy.Combine(amounts...).Round(2),
		Message: "Automatic discounts applied: " + strings.Join(applied, ", "),
	}, nil
}

// ApplyCoupon resolves a coupon against base. Business-rule failures yield
// a zero amount with an explanatory message; only infrastructure failures
// are returned as errors.
func (e *Engine) ApplyCoupon(ctx context.Context, userID, code string, base decimal.Decimal) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{Amount: decimal.Zero}, nil
	}
	d, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject("Invalid coupon code"), nil
		}
		return Result{}, errors.Wrap(err, "find coupon")
	}

	now := e.now()
	switch {
	case !d.IsActive:
		return reject("Coupon is not active"), nil
	case now.Before(d.StartDate):
		return reject("Coupon is not yet valid"), nil
	case now.After(d.EndDate):
		return reject("Coupon has expired"), nil
	case d.UsedByUser(userID):
		return reject("Coupon already used"), nil
	case base.LessThan(d.MinOrderAmount):
		return reject(fmt.Sprintf("Minimum order amount of %s required", d.MinOrderAmount.StringFixed(2))), nil
	}

	amount := d.AmountFor(base)
	if !amount.IsPositive() {
		return reject("Coupon is not applicable"), nil
	}
	return Result{Amount: amount, Message: "Coupon applied successfully"}, nil
}

// MarkUsed records that userID redeemed code.
func (e *Engine) MarkUsed(ctx context.Context, code, userID string) error {
	d, err := e.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return errors.Wrap(err, "find coupon")
	}
	if err := e.repo.MarkUsed(ctx, d.ID, userID); err != nil {
		return errors.Wrap(err, "mark coupon used")
	}
	return nil
}

// Release undoes MarkUsed so the user may redeem code again.
func (e *Engine) Release(ctx context.Context, code, userID string) error {
	d, err := e.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return errors.Wrap(err, "find coupon")
	}
	if err := e.repo.UnmarkUsed(ctx, d.ID, userID); err != nil {
		return errors.Wrap(err, "release coupon")
	}
	return nil
}

// Create validates and stores a new discount.
func (e *Engine) Create(ctx context.Context, d *Discount) error {
	d.Code = strings.TrimSpace(d.Code)
	if err := d.Validate(); err != nil {
		return err
	}
	return e.repo.Create(ctx, d)
}

// List returns all discounts.
func (e *Engine) List(ctx context.Context) ([]Discount, error) {
	return e.repo.List(ctx)
}

// SetActive enables or disables a discount.
func (e *Engine) SetActive(ctx context.Context, id int64, active bool) error {
	return e.repo.SetActive(ctx, id, active)
}

func reject(msg string) Result {
	return Result{Amount: decimal.Zero, Message: msg}
}

func label(d *Discount) string {
	if d.Description != "" {
		return d.Description
	}
	if d.Type == Percentage {
		return d.Value.String() + "% off"
	}
	return d.Value.StringFixed(2) + " off"
}
