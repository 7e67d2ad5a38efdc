// Package notify sends best-effort order notifications.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
)

const defaultTimeout = 10 * time.Second

// Message is a rendered notification.
type Message struct {
	To      string
	Name    string
	Subject string
	Body    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Recipients resolves the user an order belongs to.
type Recipients interface {
	GetUser(ctx context.Context, id string) (*customer.User, error)
}

// LogSender writes messages to the context logger instead of delivering them.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(ctx context.Context, m Message) error {
	zctx.From(ctx).Info("Notification",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Body),
	)
	return nil
}

// Dispatcher renders and sends order notifications in the background. Every
// failure is logged and dropped.
type Dispatcher struct {
	users   Recipients
	sender  Sender
	timeout time.Duration
	wg      sync.WaitGroup
}

var _ order.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. A zero timeout uses 10s.
func NewDispatcher(users Recipients, sender Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{users: users, sender: sender, timeout: timeout}
}

// OrderPlaced sends the order confirmation.
func (d *Dispatcher) OrderPlaced(ctx context.Context, o *order.Order) {
	d.dispatch(ctx, o, "confirmation", confirmation)
}

// StatusChanged sends a status update.
func (d *Dispatcher) StatusChanged(ctx context.Context, o *order.Order) {
	d.dispatch(ctx, o, "status", statusUpdate)
}

// Wait blocks until queued notifications are done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, o *order.Order, kind string, render func(*customer.User, *order.Order) Message) {
	snapshot := *o
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(
		zap.String("notification", kind),
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		u, err := d.users.GetUser(ctx, snapshot.UserID)
		if err != nil {
			lg.Warn("Resolve recipient failed", zap.Error(err))
			return
		}
		if err := d.sender.Send(ctx, render(u, &snapshot)); err != nil {
			lg.Warn("Send notification failed", zap.Error(err))
		}
	}()
}

var statusPhrases = map[order.Status]string{
	order.StatusProcessing: "is being processed.",
	order.StatusBilled:     "has been billed.",
	order.StatusPacked:     "has been packed.",
	order.StatusShipped:    "has been shipped.",
	order.StatusDelivered:  "has been delivered.",
	order.StatusCancelled:  "has been cancelled.",
	order.StatusReturned:   "has been returned.",
}

func confirmation(u *customer.User, o *order.Order) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThank you for your order %s.\n\n", u.FirstName, o.MerchantOrderID)
	if len(o.Items) > 0 {
		name := o.Items[0].Name
		if len(o.Items) > 1 {
			name += " + more"
		}
		fmt.Fprintf(&b, "Items: %s\n", name)
	}
	fmt.Fprintf(&b, "Delivery charge: %s\n", o.DeliveryCharge.StringFixed(2))
	fmt.Fprintf(&b, "Discount: %s\n", o.Discount.StringFixed(2))
	fmt.Fprintf(&b, "Tax included: %s\n", o.TotalTax.StringFixed(2))
	fmt.Fprintf(&b, "Amount: %s\n", o.Amount.StringFixed(2))
	if !o.ExpectedDelivery.IsZero() {
		fmt.Fprintf(&b, "Expected delivery: %s\n", o.ExpectedDelivery.Format(time.DateOnly))
	}
	return Message{
		To:      u.Email,
		Name:    u.FullName(),
		Subject: "Order confirmed: " + o.MerchantOrderID,
		Body:    b.String(),
	}
}

func statusUpdate(u *customer.User, o *order.Order) Message {
	phrase, ok := statusPhrases[o.Status]
	if !ok {
		phrase = "has been updated."
	}
	return Message{
		To:      u.Email,
		Name:    u.FullName(),
		Subject: "Order update: " + o.MerchantOrderID,
		Body:    fmt.Sprintf("Hi %s,\n\nYour order %s %s\n", u.FirstName, o.MerchantOrderID, phrase),
	}
}
