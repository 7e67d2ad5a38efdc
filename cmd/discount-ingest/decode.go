package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
)

// decodeDiscount parses one JSON line of an export. Dates are RFC 3339;
// amounts may be JSON strings or numbers. A missing isActive means active.
func decodeDiscount(line []byte) (*discount.Discount, error) {
	d := &discount.Discount{IsActive: true}
	err := jx.DecodeBytes(line).Obj(func(dec *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			d.Code, err = dec.Str()
		case "description":
			d.Description, err = dec.Str()
		case "discountType", "type":
			var v string
			v, err = dec.Str()
			d.Type = discount.Type(v)
		case "discountValue", "value":
			d.Value, err = decodeDecimal(dec)
		case "minOrderAmount":
			d.MinOrderAmount, err = decodeDecimal(dec)
		case "maxDiscountAmount":
			if dec.Next() == jx.Null {
				return dec.Null()
			}
			var v decimal.Decimal
			v, err = decodeDecimal(dec)
			d.MaxDiscountAmount = decimal.NewNullDecimal(v)
		case "startDate":
			d.StartDate, err = decodeTime(dec)
		case "endDate":
			d.EndDate, err = decodeTime(dec)
		case "isActive":
			d.IsActive, err = dec.Bool()
		case "appliesAutomatically":
			d.AppliesAutomatically, err = dec.Bool()
		case "applicableProducts":
			d.ApplicableProducts, err = decodeStrings(dec)
		case "applicableCategories":
			d.ApplicableCategories, err = decodeStrings(dec)
		default:
			err = dec.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode discount")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for amount", d.Next())
	}
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", s)
	}
	return t, nil
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}
