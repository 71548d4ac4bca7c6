package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/homedeco-fulfillment/internal/domain/payment"
)

// ValidatePayment runs the offline card checks. No payment is taken.
func (h *Handler) ValidatePayment(w http.ResponseWriter, r *http.Request) {
	var c payment.Card
	err := decode(w, r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "cardNumber":
				c.Number, err = d.Str()
			case "expiry":
				c.Expiry, err = d.Str()
			case "cvc":
				c.CVC, err = d.Str()
			case "name":
				c.Name, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	if err := payment.Validate(c, h.now()); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(true)
		e.ObjEnd()
	})
}
