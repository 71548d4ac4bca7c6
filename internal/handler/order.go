package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/product"
)

// PlaceOrder creates a pending order for the caller.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	req := order.PlaceOrderRequest{UserID: uid}
	if err := decode(w, r, func(d *jx.Decoder) error { return decodePlaceOrder(d, &req) }); err != nil {
		fail(w, r, err)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		encodeOrderFields(e, res.Order, delivery.StatusPending)
		e.FieldStart("products")
		e.ArrStart()
		for _, p := range uniqueProducts(res.Products) {
			encodeProduct(e, p)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func decodePlaceOrder(d *jx.Decoder, req *order.PlaceOrderRequest) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var line order.LineRequest
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "productId":
						line.ProductID, err = d.Int64()
					case "quantity":
						line.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, line)
				return nil
			})
		case "shippingAddressId":
			req.ShippingAddressID, err = decodeOptInt64(d)
		case "billingAddressId":
			req.BillingAddressID, err = decodeOptInt64(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

// GetOrder returns one of the caller's orders with its derived status.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		fail(w, r, err)
		return
	}
	statuses, err := h.deliveries.Statuses(r.Context(), uid, []order.Order{*o})
	if err != nil {
		fail(w, r, errors.Wrap(err, "derive status"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, statuses[0])
	})
}

// ListOrders returns the caller's orders, newest first, with derived statuses.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	orders, err := h.orders.List(r.Context(), uid)
	if err != nil {
		fail(w, r, err)
		return
	}
	statuses, err := h.deliveries.Statuses(r.Context(), uid, orders)
	if err != nil {
		fail(w, r, errors.Wrap(err, "derive statuses"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i], statuses[i])
		}
		e.ArrEnd()
	})
}

// CancelOrder cancels an order while it is still Pending or Preparing.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.deliveries.Cancel)
}

// ReturnOrder returns a Delivered or Completed order.
func (h *Handler) ReturnOrder(w http.ResponseWriter, r *http.Request) {
	h.close(w, r, h.deliveries.Return)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID, userID string) (*order.Order, error)) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	o, err := fn(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o, delivery.Derive(o.Status, delivery.Milestones{}, h.now()))
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order, status delivery.Status) {
	e.ObjStart()
	encodeOrderFields(e, o, status)
	e.ObjEnd()
}

func encodeOrderFields(e *jx.Encoder, o *order.Order, status delivery.Status) {
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(status))
	e.FieldStart("total")
	encodeMoney(e, o.Total)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		encodeMoney(e, it.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("shippingAddressId")
	encodeOptInt64(e, o.ShippingAddressID)
	e.FieldStart("billingAddressId")
	encodeOptInt64(e, o.BillingAddressID)
	e.FieldStart("hubWarehouseId")
	encodeOptInt64(e, o.HubWarehouseID)
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("closedAt")
	encodeOptTime(e, o.ClosedAt)
}

// uniqueProducts drops repeated products of an order with duplicate lines.
func uniqueProducts(products []product.Product) []product.Product {
	seen := make(map[int64]bool, len(products))
	out := products[:0:0]
	for _, p := range products {
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}
