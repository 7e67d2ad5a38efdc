package payment

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

type payRequest struct {
	MerchantOrderID string
	Amount          decimal.Decimal
	ExpireAfter     time.Duration
	Payer           Payer
	RedirectURL     string
}

func (r payRequest) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("merchantOrderId", func(e *jx.Encoder) { e.Str(r.MerchantOrderID) })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(toPaise(r.Amount)) })
		e.Field("expireAfter", func(e *jx.Encoder) { e.Int64(int64(r.ExpireAfter / time.Second)) })
		e.Field("metaInfo", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(r.Payer.Name) })
				e.Field("amount", func(e *jx.Encoder) { e.Str(r.Amount.StringFixed(2)) })
				e.Field("number", func(e *jx.Encoder) { e.Str(r.Payer.Mobile) })
			})
		})
		e.Field("paymentFlow", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("type", func(e *jx.Encoder) { e.Str("PG_CHECKOUT") })
				e.Field("message", func(e *jx.Encoder) { e.Str("Payment for order " + r.MerchantOrderID) })
				e.Field("merchantUrls", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("redirectUrl", func(e *jx.Encoder) { e.Str(r.RedirectURL) })
					})
				})
			})
		})
	})
}

type refundRequest struct {
	MerchantRefundID        string
	OriginalMerchantOrderID string
	Amount                  decimal.Decimal
}

func (r refundRequest) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("merchantRefundId", func(e *jx.Encoder) { e.Str(r.MerchantRefundID) })
		e.Field("originalMerchantOrderId", func(e *jx.Encoder) { e.Str(r.OriginalMerchantOrderID) })
		e.Field("amount", func(e *jx.Encoder) { e.Int64(toPaise(r.Amount)) })
	})
}

func decodeToken(data []byte, now time.Time) (Token, error) {
	var (
		tok       Token
		expiresIn int64 = 3600
		expiresAt int64
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "access_token":
			tok.Value, err = d.Str()
		case "expires_in":
			expiresIn, err = decodeInt(d)
		case "expires_at":
			expiresAt, err = decodeInt(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Token{}, errors.Wrap(err, "decode token")
	}
	if tok.Value == "" {
		return Token{}, errors.New("token response has no access_token")
	}
	tok.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	if expiresAt > 0 {
		tok.ExpiresAt = time.Unix(expiresAt, 0)
	}
	return tok, nil
}

func decodeSession(data []byte) (Session, error) {
	var s Session
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderId":
			v, err := d.Str()
			s.GatewayOrderID = v
			return err
		case "state":
			v, err := d.Str()
			s.State = State(v)
			return err
		case "redirectUrl":
			v, err := d.Str()
			s.RedirectURL = v
			return err
		case "expireAt":
			v, err := decodeInt(d)
			if v > 0 {
				s.ExpireAt = time.UnixMilli(v)
			}
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "decode session")
	}
	if s.RedirectURL == "" {
		return Session{}, errors.New("session response has no redirectUrl")
	}
	return s, nil
}

func decodeOrderStatus(data []byte) (OrderStatus, error) {
	var s OrderStatus
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderId":
			v, err := d.Str()
			s.GatewayOrderID = v
			return err
		case "state":
			v, err := d.Str()
			s.State = State(v)
			return err
		case "amount":
			v, err := decodeInt(d)
			s.Amount = fromPaise(v)
			return err
		case "paymentDetails":
			return d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "transactionId" || s.TransactionID != "" {
						return d.Skip()
					}
					v, err := d.Str()
					s.TransactionID = v
					return err
				})
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return OrderStatus{}, errors.Wrap(err, "decode order status")
	}
	return s, nil
}

func decodeRefund(data []byte) (Refund, error) {
	var r Refund
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "refundId":
			v, err := d.Str()
			r.RefundID = v
			return err
		case "merchantRefundId":
			v, err := d.Str()
			r.MerchantRefundID = v
			return err
		case "state":
			v, err := d.Str()
			r.State = State(v)
			return err
		case "amount":
			v, err := decodeInt(d)
			r.Amount = fromPaise(v)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Refund{}, errors.Wrap(err, "decode refund")
	}
	return r, nil
}

// decodeErrorBody extracts code and message from an error response. Bodies
// that are not JSON objects are ignored.
func decodeErrorBody(data []byte, gErr *GatewayError) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return
	}
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code", "errorCode":
			v, err := d.Str()
			gErr.Code = v
			return err
		case "message":
			v, err := d.Str()
			gErr.Message = v
			return err
		default:
			return d.Skip()
		}
	})
}

// decodeInt accepts both JSON numbers and numeric strings.
func decodeInt(d *jx.Decoder) (int64, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, err
		}
		if n.IsInt() {
			return n.Int64()
		}
		f, err := n.Float64()
		return int64(f), err
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return 0, err
		}
		return v.IntPart(), nil
	case jx.Null:
		return 0, d.Null()
	default:
		return 0, errors.Errorf("unexpected %s", d.Next())
	}
}
