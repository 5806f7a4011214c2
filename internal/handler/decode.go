package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const maxBodySize = 64 << 10

// decodeBody reads a JSON object body field by field. An empty body is an
// empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return malformed("read body: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		var bad *badRequest
		if errors.As(err, &bad) {
			return err
		}
		return malformed("invalid json: %v", err)
	}
	return nil
}

// str decodes a string, treating null as empty.
func str(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeOpen(w http.ResponseWriter, r *http.Request) (checkout.OpenParams, error) {
	var p checkout.OpenParams
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "cart_id":
			p.CartID, err = str(d)
		case "user_id":
			p.UserID, err = str(d)
		case "method":
			var s string
			if s, err = str(d); err == nil && s != "" {
				p.Method, err = pricing.ParseMethod(s)
				if err != nil {
					return malformed("unknown payment method %q", s)
				}
			}
		case "address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				s := &p.Saved
				switch string(key) {
				case "city_id":
					s.CityID, err = str(d)
				case "zone_id":
					s.ZoneID, err = str(d)
				case "area_id":
					s.AreaID, err = str(d)
				case "landmark":
					s.Landmark, err = str(d)
				case "city_name":
					s.CityName, err = str(d)
				case "zone_name":
					s.ZoneName, err = str(d)
				case "area_name":
					s.AreaName, err = str(d)
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.CartID == "" {
		return p, malformed("cart_id is required")
	}
	return p, nil
}

// decodeString reads the single string field name of the body.
func decodeString(w http.ResponseWriter, r *http.Request, name string) (string, error) {
	var v string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != name {
			return d.Skip()
		}
		s, err := str(d)
		v = s
		return err
	})
	return v, err
}

func decodeForm(w http.ResponseWriter, r *http.Request) (checkout.FormValues, error) {
	var f checkout.FormValues
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			f.Name, err = str(d)
		case "phone":
			f.Phone, err = str(d)
		case "email":
			f.Email, err = str(d)
		case "note":
			f.Note, err = str(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return f, err
}
