package storefront

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// CreateOrder implements checkout.OrderAPI.
func (c *Client) CreateOrder(ctx context.Context, p *checkout.OrderPayload) (*checkout.CreatedOrder, error) {
	var e jx.Encoder
	encodeOrder(&e, p)

	data, err := c.postJSON(ctx, "create order", pathOrder, &e)
	if err != nil {
		return nil, err
	}
	raw, ok := lookup(data, "data")
	if !ok {
		return nil, errors.New("create order: response has no data")
	}

	var out checkout.CreatedOrder
	if err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "_id", "id":
			out.ID, err = decodeID(d)
		case "display_order_id":
			out.DisplayOrderID, err = decodeID(d)
		case "amounts":
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "total" {
					return d.Skip()
				}
				v, err := decodeDecimal(d)
				out.Total = v
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "create order: decode")
	}
	if out.ID == "" {
		return nil, errors.New("create order: response has no order id")
	}
	if out.DisplayOrderID == "" {
		out.DisplayOrderID = out.ID
	}
	return &out, nil
}

// CancelOrder implements checkout.OrderAPI.
func (c *Client) CancelOrder(ctx context.Context, orderID, reason string) error {
	_, err := c.do(ctx, request{
		op:     "cancel order",
		method: http.MethodDelete,
		path:   pathOrder + "/" + url.PathEscape(orderID),
		query:  url.Values{"reason": {reason}},
	})
	return err
}

// InitiateKhalti implements checkout.KhaltiGateway.
func (c *Client) InitiateKhalti(ctx context.Context, displayOrderID string) (string, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("display_order_id")
	e.Str(displayOrderID)
	e.ObjEnd()

	data, err := c.postJSON(ctx, "initiate khalti", pathKhalti, &e)
	if err != nil {
		return "", err
	}
	for _, path := range [][]string{{"payment_url"}, {"data", "payment_url"}} {
		raw, ok := lookup(data, path...)
		if !ok {
			continue
		}
		d := jx.DecodeBytes(raw)
		if d.Next() != jx.String {
			continue
		}
		if s, err := d.Str(); err == nil && s != "" {
			return s, nil
		}
	}
	return "", errors.New("initiate khalti: response has no payment_url")
}

func encodeOrder(e *jx.Encoder, p *checkout.OrderPayload) {
	e.ObjStart()
	e.FieldStart("attempt_id")
	e.Str(p.AttemptID)
	if p.UserID != "" {
		e.FieldStart("user_id")
		e.Str(p.UserID)
	}

	e.FieldStart("customer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(p.Customer.Name)
	e.FieldStart("phone")
	e.Str(p.Customer.Phone)
	if p.Customer.Email != "" {
		e.FieldStart("email")
		e.Str(p.Customer.Email)
	}
	e.ObjEnd()

	a := p.Address
	e.FieldStart("shipping_address")
	e.ObjStart()
	for _, f := range [][2]string{
		{"city_id", a.CityID}, {"city_name", a.CityName},
		{"zone_id", a.ZoneID}, {"zone_name", a.ZoneName},
		{"area_id", a.AreaID}, {"area_name", a.AreaName},
		{"landmark", a.Landmark},
	} {
		e.FieldStart(f[0])
		e.Str(f[1])
	}
	e.ObjEnd()

	e.FieldStart("items")
	e.ArrStart()
	for _, l := range p.Items {
		encodeLine(e, l)
	}
	e.ArrEnd()

	e.FieldStart("amounts")
	e.ObjStart()
	e.FieldStart("subtotal")
	encodeDecimal(e, p.Amounts.Subtotal)
	e.FieldStart("discount")
	encodeDecimal(e, p.Amounts.Discount)
	e.FieldStart("shipping")
	encodeDecimal(e, p.Amounts.Shipping)
	e.FieldStart("cod_fee")
	encodeDecimal(e, p.Amounts.CODFee)
	e.FieldStart("total")
	encodeDecimal(e, p.Amounts.Total)
	e.ObjEnd()

	e.FieldStart("payment_method")
	e.Str(string(p.PaymentMethod))

	if c := p.Coupon; c != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(c.Code)
		e.FieldStart("mode")
		e.Str(string(c.Mode))
		switch c.Mode {
		case cart.CouponMoney:
			e.FieldStart("discount_type")
			e.Str(c.DiscountType)
			e.FieldStart("discount_amount")
			encodeDecimal(e, c.DiscountAmount)
			e.FieldStart("discount_applied")
			encodeDecimal(e, c.DiscountApplied)
		case cart.CouponFreeItem:
			if fi := c.FreeItem; fi != nil {
				e.FieldStart("free_item")
				e.ObjStart()
				e.FieldStart("product_id")
				e.Str(fi.ProductID)
				e.FieldStart("variant_id")
				e.Str(fi.VariantID)
				e.FieldStart("quantity")
				e.Int(fi.Quantity)
				e.ObjEnd()
			}
			e.FieldStart("free_item_active")
			e.Bool(c.FreeItemActive)
		}
		e.ObjEnd()
	}

	if pa := p.Pricing; pa != nil {
		e.FieldStart("pricing_audit")
		e.ObjStart()
		e.FieldStart("key")
		e.Str(pa.Key)
		e.FieldStart("item_type")
		e.Int(pa.ItemType)
		e.FieldStart("delivery_type")
		e.Int(pa.DeliveryType)
		e.FieldStart("item_weight")
		encodeDecimal(e, pa.ItemWeight)
		e.FieldStart("rule")
		e.Str(pa.Rule)
		if len(pa.Raw) > 0 && jx.Valid(pa.Raw) {
			e.FieldStart("response")
			e.Raw(pa.Raw)
		}
		e.ObjEnd()
	}

	if p.Note != "" {
		e.FieldStart("note")
		e.Str(p.Note)
	}
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, l cart.LineItem) {
	e.ObjStart()
	e.FieldStart("product_id")
	e.Str(l.ProductID)
	if l.VariantID != "" {
		e.FieldStart("variant_id")
		e.Str(l.VariantID)
	}
	e.FieldStart("name")
	e.Str(l.Name)
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	e.FieldStart("unit_price")
	encodeDecimal(e, l.UnitPrice)
	e.FieldStart("mrp")
	encodeDecimal(e, l.MRP)
	e.FieldStart("is_free_item")
	e.Bool(l.IsFreeItem)
	if l.Image != "" {
		e.FieldStart("image")
		e.Str(l.Image)
	}
	e.ObjEnd()
}
