// Package pricing computes the checkout total from the cart, the payment
// method and the courier shipping quote.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

// Method is a payment method.
type Method string

const (
	// MethodCOD is cash on delivery.
	MethodCOD Method = "cod"
	// MethodKhalti is the Khalti hosted-redirect wallet.
	MethodKhalti Method = "khalti"
	// MethodQR is a manual QR transfer verified by an uploaded proof.
	MethodQR Method = "qr"
)

// ErrUnknownMethod is returned by ParseMethod for unsupported values.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod validates a payment method string.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCOD, MethodKhalti, MethodQR:
		return m, nil
	}
	return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
}

// CODFee is the flat cash-on-delivery handling surcharge.
var CODFee = decimal.NewFromInt(50)

// Quote is the courier shipping quote for the selected address.
type Quote struct {
	Price   decimal.Decimal
	Loading bool
	Err     string
}

// Ready reports whether the quote can be charged.
func (q Quote) Ready() bool {
	return !q.Loading && q.Err == ""
}

// Summary is the pricing breakdown shown to the customer and persisted with
// the order.
type Summary struct {
	Method          Method
	Subtotal        decimal.Decimal
	DiscountApplied decimal.Decimal
	FreeItemActive  bool
	ShippingCost    decimal.Decimal
	CODFee          decimal.Decimal
	BaseTotal       decimal.Decimal
	Total           decimal.Decimal
}

// Calculate derives the pricing summary. The money discount reported by the
// server is only clamped to the subtotal, never recomputed. Shipping and the
// COD fee apply to cash on delivery only.
func Calculate(snap cart.Snapshot, method Method, quote Quote) Summary {
	subtotal := snap.Subtotal()

	discount := decimal.Zero
	if snap.Coupon.Mode == cart.CouponMoney && snap.Coupon.Money != nil {
		discount = decimal.Min(subtotal, snap.Coupon.Money.DiscountApplied)
		if discount.IsNegative() {
			discount = decimal.Zero
		}
	}

	shipping, fee := decimal.Zero, decimal.Zero
	if method == MethodCOD {
		shipping = quote.Price
		fee = CODFee
	}

	base := subtotal.Sub(discount)
	if base.IsNegative() {
		base = decimal.Zero
	}

	return Summary{
		Method:          method,
		Subtotal:        subtotal.Round(2),
		DiscountApplied: discount.Round(2),
		FreeItemActive:  snap.FreeItemActive(),
		ShippingCost:    shipping.Round(2),
		CODFee:          fee,
		BaseTotal:       base.Round(2),
		Total:           base.Add(shipping).Add(fee).Round(2),
	}
}
