package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
)

var errInvalidAddress = errors.New("addressLine1, city and country are required")

// CreateAddress stores a new address for the caller. Setting a default flag
// demotes the previous default of that kind.
func (h *Handler) CreateAddress(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	a := address.Address{UserID: uid}
	err = decode(w, r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "label":
				a.Label, err = d.Str()
			case "addressLine1":
				a.AddressLine1, err = d.Str()
			case "addressLine2":
				a.AddressLine2, err = d.Str()
			case "city":
				a.City, err = d.Str()
			case "postalCode":
				a.PostalCode, err = d.Str()
			case "country":
				a.Country, err = d.Str()
			case "phone":
				a.Phone, err = d.Str()
			case "isDefaultShipping":
				a.IsDefaultShipping, err = d.Bool()
			case "isDefaultBilling":
				a.IsDefaultBilling, err = d.Bool()
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
	for _, required := range []string{a.AddressLine1, a.City, a.Country} {
		if strings.TrimSpace(required) == "" {
			fail(w, r, errInvalidAddress)
			return
		}
	}

	if err := h.addresses.Create(r.Context(), &a); err != nil {
		fail(w, r, errors.Wrap(err, "create address"))
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeAddress(e, a)
	})
}

// ListAddresses returns the caller's addresses.
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	addrs, err := h.addresses.ListByUser(r.Context(), uid)
	if err != nil {
		fail(w, r, errors.Wrap(err, "list addresses"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, a := range addrs {
			encodeAddress(e, a)
		}
		e.ArrEnd()
	})
}

func encodeAddress(e *jx.Encoder, a address.Address) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(a.ID)
	e.FieldStart("label")
	e.Str(a.Label)
	e.FieldStart("addressLine1")
	e.Str(a.AddressLine1)
	e.FieldStart("addressLine2")
	e.Str(a.AddressLine2)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.FieldStart("phone")
	e.Str(a.Phone)
	e.FieldStart("isDefaultShipping")
	e.Bool(a.IsDefaultShipping)
	e.FieldStart("isDefaultBilling")
	e.Bool(a.IsDefaultBilling)
	e.ObjEnd()
}
