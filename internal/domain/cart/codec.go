package cart

import (
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// MarshalSnapshot encodes s as the JSON document kept in device storage.
// Prices are written as decimal strings so no precision is lost.
func MarshalSnapshot(s Snapshot) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("version", func(e *jx.Encoder) { e.UInt64(s.Version) })
		if !s.UpdatedAt.IsZero() {
			e.Field("updated_at", func(e *jx.Encoder) { e.Str(s.UpdatedAt.UTC().Format(time.RFC3339Nano)) })
		}
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range s.Lines {
					encodeLine(e, l)
				}
			})
		})
	})
	return e.Bytes()
}

func encodeLine(e *jx.Encoder, l Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(l.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
		e.Field("price", func(e *jx.Encoder) { e.Str(l.Price.String()) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		if l.Image != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(l.Image) })
		}
		if len(l.Attributes) > 0 {
			e.Field("attributes", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, k := range slices.Sorted(maps.Keys(l.Attributes)) {
						e.Field(k, func(e *jx.Encoder) { e.Str(l.Attributes[k]) })
					}
				})
			})
		}
	})
}

// UnmarshalSnapshot decodes a document written by MarshalSnapshot. Unknown
// fields are skipped and prices may be either strings or numbers.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "version":
			v, err := d.UInt64()
			if err != nil {
				return errors.Wrap(err, "version")
			}
			s.Version = v
		case "updated_at":
			raw, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "updated_at")
			}
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return errors.Wrap(err, "updated_at")
			}
			s.UpdatedAt = t
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return errors.Wrapf(err, "line %d", len(s.Lines))
				}
				s.Lines = append(s.Lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "decode cart snapshot")
	}
	return s, nil
}

func decodeLine(d *jx.Decoder) (Line, error) {
	var l Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			l.ID, err = d.Str()
		case "name":
			l.Name, err = d.Str()
		case "price":
			l.Price, err = decodeDecimal(d)
		case "quantity":
			l.Quantity, err = d.Int()
		case "image":
			l.Image, err = d.Str()
		case "attributes":
			l.Attributes = make(map[string]string)
			err = d.Obj(func(d *jx.Decoder, k string) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				l.Attributes[k] = v
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return Line{}, err
	}
	switch {
	case l.ID == "":
		return Line{}, errors.New("missing id")
	case l.Quantity < 1:
		return Line{}, errors.Errorf("line %s: quantity %d must be greater than 0", l.ID, l.Quantity)
	case l.Price.IsNegative():
		return Line{}, errors.Errorf("line %s: negative price %s", l.ID, l.Price)
	}
	return l, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
	return decimal.NewFromString(raw)
}
