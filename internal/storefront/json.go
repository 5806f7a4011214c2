package storefront

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// success reports the value of the top-level "success" field and whether it
// is present.
func success(data []byte) (ok, present bool) {
	raw, found := lookup(data, "success")
	if !found {
		return false, false
	}
	v, err := jx.DecodeBytes(raw).Bool()
	if err != nil {
		return false, false
	}
	return v, true
}

// message extracts a customer-facing message from an error body: "message",
// a string "error", or "error.message".
func message(data []byte) string {
	for _, path := range [][]string{{"message"}, {"error"}, {"error", "message"}, {"data", "message"}} {
		raw, ok := lookup(data, path...)
		if !ok {
			continue
		}
		d := jx.DecodeBytes(raw)
		if d.Next() != jx.String {
			continue
		}
		if s, err := d.Str(); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// lookup walks object keys along path and returns the raw value found. It
// reports false when any step is missing or not an object.
func lookup(data []byte, path ...string) (jx.Raw, bool) {
	cur := jx.Raw(data)
	for _, key := range path {
		d := jx.DecodeBytes(cur)
		if d.Next() != jx.Object {
			return nil, false
		}
		var next jx.Raw
		err := d.ObjBytes(func(d *jx.Decoder, k []byte) error {
			if next != nil || string(k) != key {
				return d.Skip()
			}
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			next = raw
			return nil
		})
		if err != nil || next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// decodeDecimal reads a number that may be encoded as a JSON number or a
// numeric string. Null reads as zero.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for number", d.Next())
	}
}

// decodeID reads an identifier encoded as a string or a number.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("unexpected %s for id", d.Next())
	}
}

// decodeString reads a string. Null reads as empty.
func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeInt reads an integer encoded as a number or a numeric string.
func decodeInt(d *jx.Decoder) (int, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(s)
	}
	return d.Int()
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}
