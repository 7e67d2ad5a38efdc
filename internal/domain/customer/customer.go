package customer

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
)

var (
	ErrNotFound        = errors.New("user not found")
	ErrAddressNotFound = errors.New("address not found")
)

// User is a registered shopper.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Mobile    string
	CreatedAt time.Time
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Address is a postal address on file for a user.
type Address struct {
	ID      string
	UserID  string
	Line1   string
	City    string
	State   string
	Pincode string
}

// CartItem is a line of the persisted cart.
type CartItem struct {
	ID        int64
	ProductID string
	Quantity  int
	Specs     []product.Spec
}

// Repository reads shopper data and clears carts after checkout.
type Repository interface {
	GetUser(ctx context.Context, id string) (*User, error)
	// Addresses returns addresses of userID, oldest first.
	Addresses(ctx context.Context, userID string) ([]Address, error)
	GetAddress(ctx context.Context, userID, id string) (*Address, error)
	Cart(ctx context.Context, userID string) ([]CartItem, error)
	ClearCart(ctx context.Context, userID string) error
}
