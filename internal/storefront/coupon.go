package storefront

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// CheckEligibility implements coupon.Checker.
func (c *Client) CheckEligibility(ctx context.Context, code string, items []coupon.Item) (*coupon.Eligibility, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("variantId")
		e.Str(it.VariantID)
		e.FieldStart("qty")
		e.Int(it.Quantity)
		e.FieldStart("price")
		encodeDecimal(&e, it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	data, err := c.postJSON(ctx, "check coupon", pathEligibility, &e)
	if err != nil {
		return nil, err
	}
	raw, ok := lookup(data, "data")
	if !ok {
		return nil, errors.New("check coupon: response has no data")
	}
	elig, err := decodeEligibility(jx.DecodeBytes(raw))
	if err != nil {
		return nil, errors.Wrap(err, "check coupon: decode")
	}
	return elig, nil
}

func decodeEligibility(d *jx.Decoder) (*coupon.Eligibility, error) {
	var out coupon.Eligibility
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		switch string(key) {
		case "eligible":
			v, err := d.Bool()
			out.Eligible = v
			return err
		case "reason":
			v, err := d.Str()
			out.Reason = v
			return err
		case "freeItem":
			fi, err := decodeFreeItem(d)
			out.FreeItem = fi
			return err
		case "moneyDiscount":
			md, err := decodeMoneyDiscount(d)
			out.Money = md
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeFreeItem(d *jx.Decoder) (*coupon.FreeItem, error) {
	fi := coupon.FreeItem{Quantity: 1}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			fi.ProductID, err = decodeID(d)
		case "variantId":
			fi.VariantID, err = decodeID(d)
		case "qty", "quantity":
			fi.Quantity, err = decodeInt(d)
		case "productName":
			fi.ProductName, err = decodeString(d)
		case "variantName":
			fi.VariantName, err = decodeString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if fi.ProductID == "" {
		return nil, errors.New("free item without product id")
	}
	return &fi, nil
}

func decodeMoneyDiscount(d *jx.Decoder) (*coupon.MoneyDiscount, error) {
	var md coupon.MoneyDiscount
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "type":
			md.Type, err = decodeString(d)
		case "amount":
			md.Amount, err = decodeDecimal(d)
		case "applied":
			md.Applied, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// VariantImage implements coupon.ImageLookup. It reads the product and
// returns the image of the variant, falling back to the product image.
func (c *Client) VariantImage(ctx context.Context, productID, variantID string) (string, error) {
	data, err := c.get(ctx, "fetch product", pathProduct+"/"+url.PathEscape(productID), nil)
	if err != nil {
		return "", err
	}
	product, ok := lookup(data, "data")
	if !ok {
		product = data
	}

	if variants, ok := lookup(product, "variants"); ok && variantID != "" {
		var found string
		_ = jx.DecodeBytes(variants).Arr(func(d *jx.Decoder) error {
			raw, err := d.Raw()
			if err != nil || found != "" {
				return err
			}
			if id := stringAt(raw, "_id", "id"); id == variantID {
				found = image(raw)
			}
			return nil
		})
		if found != "" {
			return found, nil
		}
	}
	if img := image(product); img != "" {
		return img, nil
	}
	return "", errors.Errorf("no image for product %s", productID)
}

// image returns "image", or the first entry of "images", of an object. Image
// entries may be plain URLs or objects with a "url".
func image(obj []byte) string {
	if s := stringAt(obj, "image"); s != "" {
		return s
	}
	raw, ok := lookup(obj, "images")
	if !ok {
		return ""
	}
	var first string
	_ = jx.DecodeBytes(raw).Arr(func(d *jx.Decoder) error {
		if first != "" {
			return d.Skip()
		}
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			first = s
			return err
		case jx.Object:
			v, err := d.Raw()
			if err != nil {
				return err
			}
			first = stringAt(v, "url")
			return nil
		default:
			return d.Skip()
		}
	})
	return first
}

// stringAt returns the first non-empty string or numeric field among keys.
func stringAt(obj []byte, keys ...string) string {
	for _, k := range keys {
		raw, ok := lookup(obj, k)
		if !ok {
			continue
		}
		if s, err := decodeID(jx.DecodeBytes(raw)); err == nil && s != "" {
			return s
		}
	}
	return ""
}
