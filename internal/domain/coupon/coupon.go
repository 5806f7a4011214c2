package coupon

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCode is returned when an empty coupon code is applied.
	ErrEmptyCode = errors.New("coupon code is required")
	// ErrNoBenefit is returned when the server reports a coupon as eligible
	// without a money discount or a free-item grant.
	ErrNoBenefit = errors.New("coupon carries no discount")
)

// IneligibleError is returned when the server rejects a coupon for the cart.
type IneligibleError struct {
	Code   string
	Reason string
}

func (e *IneligibleError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("coupon %s is not eligible for this cart", e.Code)
	}
	return e.Reason
}

// Item is a normalized cart line sent for eligibility checks.
type Item struct {
	ProductID string
	VariantID string
	Quantity  int
	Price     decimal.Decimal
}

// FreeItem is a complimentary variant granted by a coupon.
type FreeItem struct {
	ProductID   string
	VariantID   string
	Quantity    int
	ProductName string
	VariantName string
}

// MoneyDiscount is a server-computed money discount.
type MoneyDiscount struct {
	Type    string
	Amount  decimal.Decimal
	Applied decimal.Decimal
}

// Eligibility is the server verdict for a coupon code against a cart.
type Eligibility struct {
	Eligible bool
	Reason   string
	FreeItem *FreeItem
	Money    *MoneyDiscount
}

// Checker validates coupon codes remotely.
type Checker interface {
	CheckEligibility(ctx context.Context, code string, items []Item) (*Eligibility, error)
}

// ImageLookup finds a display image for a product variant.
type ImageLookup interface {
	VariantImage(ctx context.Context, productID, variantID string) (string, error)
}
