package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func field(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func encodeSession(e *jx.Encoder, s *checkout.Session, ov *checkout.Overview) {
	e.ObjStart()
	field(e, "id", s.ID)
	field(e, "cart_id", s.CartID)

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range ov.Cart.Lines {
		encodeLine(e, l)
	}
	e.ArrEnd()

	e.FieldStart("coupon")
	encodeCoupon(e, ov.Cart)

	e.FieldStart("address")
	encodeSelection(e, ov.Address.Selection)

	field(e, "method", string(ov.Address.Method))

	e.FieldStart("shipping")
	encodeQuote(e, ov.Address.Method, ov.Address.Quote)

	e.FieldStart("summary")
	encodeSummary(e, ov.Summary)

	e.FieldStart("guard")
	e.ObjStart()
	e.FieldStart("placing")
	e.Bool(ov.Guard.Placing)
	field(e, "phase", string(ov.Guard.Phase))
	if ov.Guard.Step != checkout.StepNone {
		field(e, "step", string(ov.Guard.Step))
	}
	e.ObjEnd()

	if ov.QR != nil {
		e.FieldStart("qr")
		encodeQR(e, ov.QR)
	}
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, l cart.LineItem) {
	e.ObjStart()
	field(e, "product_id", l.ProductID)
	if l.VariantID != "" {
		field(e, "variant_id", l.VariantID)
	}
	field(e, "name", l.Name)
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	e.FieldStart("unit_price")
	money(e, l.UnitPrice)
	e.FieldStart("mrp")
	money(e, l.MRP)
	e.FieldStart("total")
	money(e, l.Total())
	e.FieldStart("is_free_item")
	e.Bool(l.IsFreeItem)
	if l.Image != "" {
		field(e, "image", l.Image)
	}
	e.ObjEnd()
}

// encodeCoupon writes the coupon badge, or null when no coupon is applied.
func encodeCoupon(e *jx.Encoder, snap cart.Snapshot) {
	c := snap.Coupon
	if c.Code() == "" {
		e.Null()
		return
	}
	e.ObjStart()
	field(e, "code", c.Code())
	field(e, "mode", string(c.Mode))
	switch c.Mode {
	case cart.CouponMoney:
		field(e, "discount_type", c.Money.DiscountType)
		e.FieldStart("discount_amount")
		money(e, c.Money.DiscountAmount)
		e.FieldStart("discount_applied")
		money(e, c.Money.DiscountApplied)
	case cart.CouponFreeItem:
		fi := c.FreeItem
		e.FieldStart("free_item")
		e.ObjStart()
		field(e, "product_id", fi.ProductID)
		if fi.VariantID != "" {
			field(e, "variant_id", fi.VariantID)
		}
		e.FieldStart("quantity")
		e.Int(fi.Quantity)
		if fi.ProductName != "" {
			field(e, "product_name", fi.ProductName)
		}
		if fi.VariantName != "" {
			field(e, "variant_name", fi.VariantName)
		}
		e.ObjEnd()
		e.FieldStart("active")
		e.Bool(snap.FreeItemActive())
	}
	e.ObjEnd()
}

func encodeSelection(e *jx.Encoder, s address.Selection) {
	e.ObjStart()
	field(e, "city_id", s.CityID)
	field(e, "city_name", s.CityName)
	field(e, "zone_id", s.ZoneID)
	field(e, "zone_name", s.ZoneName)
	field(e, "area_id", s.AreaID)
	field(e, "area_name", s.AreaName)
	field(e, "landmark", s.Landmark)
	e.FieldStart("complete")
	e.Bool(s.Complete())
	e.ObjEnd()
}

func encodeQuote(e *jx.Encoder, m pricing.Method, q pricing.Quote) {
	e.ObjStart()
	e.FieldStart("applies")
	e.Bool(m == pricing.MethodCOD)
	e.FieldStart("loading")
	e.Bool(q.Loading)
	e.FieldStart("price")
	money(e, q.Price)
	if q.Err != "" {
		field(e, "error", q.Err)
	}
	e.ObjEnd()
}

func encodeSummary(e *jx.Encoder, s pricing.Summary) {
	e.ObjStart()
	field(e, "method", string(s.Method))
	e.FieldStart("subtotal")
	money(e, s.Subtotal)
	e.FieldStart("discount")
	money(e, s.DiscountApplied)
	e.FieldStart("free_item_active")
	e.Bool(s.FreeItemActive)
	e.FieldStart("shipping")
	money(e, s.ShippingCost)
	e.FieldStart("cod_fee")
	money(e, s.CODFee)
	e.FieldStart("base_total")
	money(e, s.BaseTotal)
	e.FieldStart("total")
	money(e, s.Total)
	e.ObjEnd()
}

func encodeQR(e *jx.Encoder, q *checkout.QRPrompt) {
	e.ObjStart()
	field(e, "display_name", q.DisplayName)
	field(e, "image", q.Image)
	e.FieldStart("amount")
	money(e, q.Amount)
	e.ObjEnd()
}

func encodeResult(e *jx.Encoder, r checkout.Result) {
	e.ObjStart()
	field(e, "outcome", string(r.Outcome))
	e.FieldStart("notice")
	e.ObjStart()
	field(e, "level", string(r.Notice.Level))
	field(e, "message", r.Notice.Message)
	e.ObjEnd()
	if n := r.Navigate; n != nil {
		e.FieldStart("navigate")
		e.ObjStart()
		field(e, "kind", string(n.Kind))
		field(e, "target", n.Target)
		e.ObjEnd()
	}
	if o := r.Order; o != nil {
		e.FieldStart("order")
		encodeOrder(e, o)
	}
	if r.QR != nil {
		e.FieldStart("qr")
		encodeQR(e, r.QR)
	}
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *checkout.CreatedOrder) {
	e.ObjStart()
	field(e, "id", o.ID)
	field(e, "display_order_id", o.DisplayOrderID)
	e.FieldStart("total")
	money(e, o.Total)
	e.ObjEnd()
}

func encodeCouponResult(e *jx.Encoder, r *coupon.Result) {
	e.ObjStart()
	field(e, "code", r.Coupon.Code())
	field(e, "mode", string(r.Coupon.Mode))
	if l := r.AddedLine; l != nil {
		e.FieldStart("added_line")
		encodeLine(e, *l)
	}
	e.ObjEnd()
}

func encodeOptions(e *jx.Encoder, level address.Level, opts []address.Option) {
	e.ObjStart()
	field(e, "level", string(level))
	e.FieldStart("options")
	e.ArrStart()
	for _, o := range opts {
		e.ObjStart()
		field(e, "id", o.ID)
		field(e, "name", o.Name)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeAttempts(e *jx.Encoder, attempts []checkout.Attempt) {
	e.ObjStart()
	e.FieldStart("attempts")
	e.ArrStart()
	for _, a := range attempts {
		e.ObjStart()
		field(e, "id", a.ID)
		field(e, "cart_id", a.CartID)
		field(e, "method", string(a.Method))
		field(e, "outcome", string(a.Outcome))
		if a.OrderID != "" {
			field(e, "order_id", a.OrderID)
			field(e, "display_order_id", a.DisplayOrderID)
		}
		e.FieldStart("total")
		money(e, a.Total)
		if a.Error != "" {
			field(e, "error", a.Error)
		}
		field(e, "created_at", a.CreatedAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
