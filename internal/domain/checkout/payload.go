package checkout

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// FormValues are the customer-entered checkout fields.
type FormValues struct {
	UserID string
	Name   string
	Phone  string
	Email  string
	Note   string
}

// OrderPayload is the canonical order document sent to the order API. It is
// built fresh for every submission attempt.
type OrderPayload struct {
	AttemptID     string
	UserID        string
	Customer      Customer
	Address       Address
	Items         []cart.LineItem
	Amounts       Amounts
	PaymentMethod pricing.Method
	Coupon        *CouponSnapshot
	Pricing       *PricingAudit
	Note          string
}

// Customer is the contact block of an order.
type Customer struct {
	Name  string
	Phone string
	Email string
}

// Address is the delivery address with ids and display labels.
type Address struct {
	CityID   string
	CityName string
	ZoneID   string
	ZoneName string
	AreaID   string
	AreaName string
	Landmark string
}

// Amounts is the pricing breakdown of an order.
type Amounts struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	CODFee   decimal.Decimal
	Total    decimal.Decimal
}

// CouponSnapshot records the coupon as it was at submission.
type CouponSnapshot struct {
	Code            string
	Mode            cart.CouponMode
	DiscountType    string
	DiscountAmount  decimal.Decimal
	DiscountApplied decimal.Decimal
	FreeItem        *cart.FreeItemCoupon
	FreeItemActive  bool
}

// PricingAudit is the raw courier price-plan call behind the shipping charge.
type PricingAudit struct {
	Key          string
	ItemType     int
	DeliveryType int
	ItemWeight   decimal.Decimal
	Rule         string
	Raw          []byte
}

// BuildPayload assembles the order document from the current cart, address
// state and pricing summary.
func BuildPayload(attemptID string, form FormValues, snap cart.Snapshot, st address.State, s pricing.Summary) *OrderPayload {
	sel := st.Selection
	p := &OrderPayload{
		AttemptID: attemptID,
		UserID:    form.UserID,
		Customer: Customer{
			Name:  strings.TrimSpace(form.Name),
			Phone: strings.TrimSpace(form.Phone),
			Email: strings.TrimSpace(form.Email),
		},
		Address: Address{
			CityID:   sel.CityID,
			CityName: sel.CityName,
			ZoneID:   sel.ZoneID,
			ZoneName: sel.ZoneName,
			AreaID:   sel.AreaID,
			AreaName: sel.AreaName,
			Landmark: strings.TrimSpace(sel.Landmark),
		},
		Items: snap.Clone().Lines,
		Amounts: Amounts{
			Subtotal: s.Subtotal,
			Discount: s.DiscountApplied,
			Shipping: s.ShippingCost,
			CODFee:   s.CODFee,
			Total:    s.Total,
		},
		PaymentMethod: s.Method,
		Note:          strings.TrimSpace(form.Note),
	}

	switch c := snap.Coupon; {
	case c.Mode == cart.CouponMoney && c.Money != nil:
		p.Coupon = &CouponSnapshot{
			Code:            c.Money.Code,
			Mode:            c.Mode,
			DiscountType:    c.Money.DiscountType,
			DiscountAmount:  c.Money.DiscountAmount,
			DiscountApplied: s.DiscountApplied,
		}
	case c.Mode == cart.CouponFreeItem && c.FreeItem != nil:
		grant := *c.FreeItem
		p.Coupon = &CouponSnapshot{
			Code:           grant.Code,
			Mode:           c.Mode,
			FreeItem:       &grant,
			FreeItemActive: s.FreeItemActive,
		}
	}

	if s.Method == pricing.MethodCOD && st.Audit != nil {
		p.Pricing = &PricingAudit{
			Key:          st.Audit.Key,
			ItemType:     st.Audit.Request.ItemType,
			DeliveryType: st.Audit.Request.DeliveryType,
			ItemWeight:   st.Audit.Request.ItemWeight,
			Rule:         st.Audit.Rule,
			Raw:          st.Audit.Raw,
		}
	}
	return p
}
