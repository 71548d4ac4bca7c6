package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/auth"
	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/payment"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// fail maps a domain error to its HTTP status. Unknown errors are logged and
// answered with a generic 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		tooLate       *delivery.TooLateError
		notReturnable *delivery.NotReturnableError
		badQty        *order.InvalidQuantityError
		noProduct     *order.ProductNotFoundError
		badCard       *payment.ValidationError
	)
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &tooLate), errors.As(err, &notReturnable),
		errors.Is(err, delivery.ErrAlreadyCancelled), errors.Is(err, delivery.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &badQty), errors.As(err, &noProduct), errors.As(err, &badCard),
		errors.Is(err, address.ErrNotFound), errors.Is(err, errInvalidAddress):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, delivery.ErrNoWarehouses):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decode reads a JSON request body with fn.
func decode(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 4096)
	if err := fn(d); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

// userID returns the caller set by the authentication middleware.
func userID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", auth.ErrUnauthorized
	}
	return id, nil
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.Format(time.RFC3339))
}

func encodeOptTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	encodeTime(e, *t)
}

func encodeOptInt64(e *jx.Encoder, v *int64) {
	if v == nil {
		e.Null()
		return
	}
	e.Int64(*v)
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func decodeOptInt64(d *jx.Decoder) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}
