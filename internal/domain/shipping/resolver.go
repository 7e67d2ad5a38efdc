package shipping

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultDuration = "3-5 days"

// Resolver answers shipping cost lookups and manages cost records.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Cost returns the active flat cost for q.DeliveryType. A missing record or a
// lookup failure yields zero so checkout is never blocked on shipping config.
func (r *Resolver) Cost(ctx context.Context, q Query) decimal.Decimal {
	lg := zctx.From(ctx).With(
		zap.String("delivery_type", string(q.DeliveryType)),
		zap.String("destination_pin", q.DestinationPin),
	)
	c, err := r.repo.FindActive(ctx, q.DeliveryType)
	switch {
	case errors.Is(err, ErrNotFound):
		lg.Warn("No active shipping cost, charging zero")
		return decimal.Zero
	case err != nil:
		lg.Error("Shipping cost lookup failed, charging zero", zap.Error(err))
		return decimal.Zero
	}
	return c.Amount
}

// Create stores a new active cost record, rejecting a second active record
// for the same delivery type.
func (r *Resolver) Create(ctx context.Context, c *Cost) error {
	if err := validate(c); err != nil {
		return err
	}
	if _, err := r.repo.FindActive(ctx, c.DeliveryType); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return errors.Wrap(err, "find active cost")
	}
	c.IsArchived = false
	return r.repo.Create(ctx, c)
}

// Update replaces amount, duration and delivery type of a record.
func (r *Resolver) Update(ctx context.Context, c *Cost) error {
	if err := validate(c); err != nil {
		return err
	}
	existing, err := r.repo.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if !existing.IsArchived && existing.DeliveryType != c.DeliveryType {
		if err := r.ensureNoActive(ctx, c.DeliveryType, c.ID); err != nil {
			return err
		}
	}
	c.IsArchived = existing.IsArchived
	return r.repo.Update(ctx, c)
}

// Archive soft-deletes a record.
func (r *Resolver) Archive(ctx context.Context, id int64) (*Cost, error) {
	return r.repo.SetArchived(ctx, id, true)
}

// Restore reactivates an archived record unless another active record holds
// the same delivery type.
func (r *Resolver) Restore(ctx context.Context, id int64) (*Cost, error) {
	existing, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.ensureNoActive(ctx, existing.DeliveryType, id); err != nil {
		return nil, err
	}
	return r.repo.SetArchived(ctx, id, false)
}

// Delete removes a record permanently, archived or not.
func (r *Resolver) Delete(ctx context.Context, id int64) error {
	return r.repo.Delete(ctx, id)
}

// Get returns a record by id.
func (r *Resolver) Get(ctx context.Context, id int64) (*Cost, error) {
	return r.repo.Get(ctx, id)
}

// List returns records, optionally filtered by archive state.
func (r *Resolver) List(ctx context.Context, archived *bool) ([]Cost, error) {
	return r.repo.List(ctx, archived)
}

func (r *Resolver) ensureNoActive(ctx context.Context, dt DeliveryType, exceptID int64) error {
	active, err := r.repo.FindActive(ctx, dt)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return errors.Wrap(err, "find active cost")
	case active.ID != exceptID:
		return ErrAlreadyExists
	}
	return nil
}

func validate(c *Cost) error {
	if _, err := ParseDeliveryType(string(c.DeliveryType)); err != nil || c.DeliveryType == "" {
		return &InvalidDeliveryTypeError{Value: string(c.DeliveryType)}
	}
	if c.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if c.Duration == "" {
		c.Duration = defaultDuration
	}
	return nil
}
