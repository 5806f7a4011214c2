package storefront

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/address"
)

// priceRules are the response paths a courier price may be found at, tried
// in order. Upstream shape changes are handled by editing this list.
var priceRules = [][]string{
	{"data", "final_price"},
	{"data", "price"},
	{"data", "data", "final_price"},
	{"data", "data", "price"},
	{"data", "total_price"},
	{"data", "delivery_charge"},
	{"final_price"},
	{"price"},
	{"total_price"},
	{"delivery_charge"},
}

// Cities implements address.Courier.
func (c *Client) Cities(ctx context.Context) ([]address.Option, error) {
	return c.options(ctx, "fetch cities", pathCities, nil)
}

// Zones implements address.Courier.
func (c *Client) Zones(ctx context.Context, cityID string) ([]address.Option, error) {
	return c.options(ctx, "fetch zones", pathZones, url.Values{"cityId": {cityID}})
}

// Areas implements address.Courier.
func (c *Client) Areas(ctx context.Context, zoneID string) ([]address.Option, error) {
	return c.options(ctx, "fetch areas", pathAreas, url.Values{"zoneId": {zoneID}})
}

func (c *Client) options(ctx context.Context, op, path string, q url.Values) ([]address.Option, error) {
	data, err := c.get(ctx, op, path, q)
	if err != nil {
		return nil, err
	}
	raw, ok := lookup(data, "data")
	if !ok {
		return nil, errors.Errorf("%s: response has no data", op)
	}
	opts, err := decodeOptions(jx.DecodeBytes(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decode", op)
	}
	return opts, nil
}

func decodeOptions(d *jx.Decoder) ([]address.Option, error) {
	opts := make([]address.Option, 0, 16)
	err := d.Arr(func(d *jx.Decoder) error {
		var o address.Option
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id", "_id":
				o.ID, err = decodeID(d)
			case "name":
				o.Name, err = decodeString(d)
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		if o.ID != "" {
			opts = append(opts, o)
		}
		return nil
	})
	return opts, err
}

// PricePlan implements address.Courier. The price is taken from the first
// rule in priceRules that yields a positive value; a response without one is
// address.ErrPriceUnavailable.
func (c *Client) PricePlan(ctx context.Context, req address.PlanRequest) (*address.Plan, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("item_type")
	e.Int(req.ItemType)
	e.FieldStart("delivery_type")
	e.Int(req.DeliveryType)
	e.FieldStart("item_weight")
	encodeDecimal(&e, req.ItemWeight)
	e.FieldStart("recipient_city")
	e.Str(req.CityID)
	e.FieldStart("recipient_zone")
	e.Str(req.ZoneID)
	if req.AreaID != "" {
		e.FieldStart("recipient_area")
		e.Str(req.AreaID)
	}
	e.ObjEnd()

	data, err := c.postJSON(ctx, "fetch price plan", pathPricePlan, &e)
	if err != nil {
		return nil, err
	}

	for _, rule := range priceRules {
		raw, ok := lookup(data, rule...)
		if !ok {
			continue
		}
		price, err := decodeDecimal(jx.DecodeBytes(raw))
		if err != nil || !price.IsPositive() {
			continue
		}
		return &address.Plan{
			Price: price.Round(2),
			Rule:  strings.Join(rule, "."),
			Raw:   data,
		}, nil
	}
	return nil, address.ErrPriceUnavailable
}
