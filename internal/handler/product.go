package handler

import (
	"net/http"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/homedeco-fulfillment/internal/domain/product"
	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// ListWarehouses returns every warehouse with its current stock.
func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	stocked, err := h.warehouses.ListStocked(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list warehouses"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, s := range stocked {
			e.ObjStart()
			encodeWarehouseFields(e, s.Warehouse)
			e.FieldStart("stock")
			encodeStock(e, s)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.ObjEnd()
}

func encodeWarehouse(e *jx.Encoder, wh warehouse.Warehouse) {
	e.ObjStart()
	encodeWarehouseFields(e, wh)
	e.ObjEnd()
}

func encodeWarehouseFields(e *jx.Encoder, wh warehouse.Warehouse) {
	e.FieldStart("id")
	e.Int64(wh.ID)
	e.FieldStart("name")
	e.Str(wh.Name)
	e.FieldStart("city")
	e.Str(wh.City)
	e.FieldStart("country")
	e.Str(wh.Country)
	e.FieldStart("location")
	e.Str(wh.Location())
}

func encodeStock(e *jx.Encoder, s warehouse.Stocked) {
	ids := make([]int64, 0, len(s.Stock))
	for id := range s.Stock {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	e.ArrStart()
	for _, id := range ids {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(id)
		e.FieldStart("quantity")
		e.Int(s.Stock[id])
		e.ObjEnd()
	}
	e.ArrEnd()
}
