// Package cart models the storefront cart as seen by checkout: ordered line
// items plus the active coupon. The cart itself is owned by an external store;
// checkout reads it through snapshots and mutates it only through Actions.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// LineItem is a single cart line.
type LineItem struct {
	ProductID  string          `json:"product_id"`
	VariantID  string          `json:"variant_id,omitempty"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	MRP        decimal.Decimal `json:"mrp"`
	IsFreeItem bool            `json:"is_free_item,omitempty"`
	Image      string          `json:"image,omitempty"`
}

// Total returns the line total. Free lines always contribute zero.
func (l LineItem) Total() decimal.Decimal {
	if l.IsFreeItem {
		return decimal.Zero
	}
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// matches reports whether the line is for the given product variant. An empty
// variantID matches lines of the product that carry no variant.
func (l LineItem) matches(productID, variantID string) bool {
	if variantID != "" {
		return l.VariantID == variantID
	}
	return l.ProductID == productID && l.VariantID == ""
}

// CouponMode enumerates coupon kinds.
type CouponMode string

const (
	// CouponNone means no coupon is applied.
	CouponNone CouponMode = ""
	// CouponMoney subtracts a server-computed amount from the subtotal.
	CouponMoney CouponMode = "money"
	// CouponFreeItem grants a complimentary product variant.
	CouponFreeItem CouponMode = "free_item"
)

// MoneyCoupon is the server-authoritative state of a money-mode coupon.
type MoneyCoupon struct {
	Code            string          `json:"code"`
	DiscountType    string          `json:"discount_type"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	DiscountApplied decimal.Decimal `json:"discount_applied"`
}

// FreeItemCoupon describes a free-item grant.
type FreeItemCoupon struct {
	Code        string `json:"code"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	Quantity    int    `json:"quantity"`
	ProductName string `json:"product_name,omitempty"`
	VariantName string `json:"variant_name,omitempty"`
}

// Coupon is the coupon slot of the cart. Exactly one of Money and FreeItem is
// set according to Mode.
type Coupon struct {
	Mode     CouponMode      `json:"mode,omitempty"`
	Money    *MoneyCoupon    `json:"money,omitempty"`
	FreeItem *FreeItemCoupon `json:"free_item,omitempty"`
}

// Code returns the applied coupon code, or "" when no coupon is applied.
func (c Coupon) Code() string {
	switch c.Mode {
	case CouponMoney:
		if c.Money != nil {
			return c.Money.Code
		}
	case CouponFreeItem:
		if c.FreeItem != nil {
			return c.FreeItem.Code
		}
	}
	return ""
}

// Snapshot is a point-in-time copy of the cart.
type Snapshot struct {
	Lines  []LineItem `json:"lines"`
	Coupon Coupon     `json:"coupon"`
}

// Empty reports whether the cart has no lines.
func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Subtotal sums line totals.
func (s Snapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range s.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// HasLine reports whether any line, paid or free, is for the product variant.
func (s Snapshot) HasLine(productID, variantID string) bool {
	for _, l := range s.Lines {
		if l.matches(productID, variantID) {
			return true
		}
	}
	return false
}

// FreeItemActive reports whether a free-item coupon is applied and its granted
// variant is currently among the cart lines. It is derived on every call and
// never stored.
func (s Snapshot) FreeItemActive() bool {
	if s.Coupon.Mode != CouponFreeItem || s.Coupon.FreeItem == nil {
		return false
	}
	return s.HasLine(s.Coupon.FreeItem.ProductID, s.Coupon.FreeItem.VariantID)
}

// Clone returns a deep copy safe to hand out to readers.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Coupon: s.Coupon}
	if s.Lines != nil {
		out.Lines = make([]LineItem, len(s.Lines))
		copy(out.Lines, s.Lines)
	}
	if s.Coupon.Money != nil {
		m := *s.Coupon.Money
		out.Coupon.Money = &m
	}
	if s.Coupon.FreeItem != nil {
		f := *s.Coupon.FreeItem
		out.Coupon.FreeItem = &f
	}
	return out
}

// Store is the narrow interface to a single externally owned cart.
// Snapshot returns an independent copy; Dispatch applies an Action atomically
// so readers never observe a partially applied write.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Dispatch(ctx context.Context, a Action) error
}

// Provider opens the Store of a cart by its identifier.
type Provider interface {
	Cart(id string) Store
}
