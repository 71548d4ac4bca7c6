package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
)

// GetDelivery returns the delivery plan of one of the caller's orders. The
// first request for a pending order reserves its stock.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	p, err := h.deliveries.Plan(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodePlan(e, p)
	})
}

func encodePlan(e *jx.Encoder, p *delivery.Plan) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(p.OrderID)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.FieldStart("fulfillmentStatus")
	e.Str(string(p.Fulfillment))

	// Flat fields kept for clients that read a single route.
	e.FieldStart("origin")
	e.Str(p.Hub.Location())
	e.FieldStart("destination")
	e.Str(p.Destination.Address)
	e.FieldStart("destinationLabel")
	e.Str(p.Destination.Label)
	e.FieldStart("distanceText")
	e.Str(p.Route.DistanceText)
	e.FieldStart("durationText")
	e.Str(p.Route.DurationText)
	e.FieldStart("departureTime")
	encodeTime(e, p.Milestones.HubReady)
	e.FieldStart("estimatedArrival")
	encodeTime(e, p.Milestones.Arrival)
	e.FieldStart("windowStart")
	encodeTime(e, p.WindowStart)
	e.FieldStart("windowEnd")
	encodeTime(e, p.WindowEnd)

	e.FieldStart("allocations")
	e.ArrStart()
	for _, l := range p.Allocations {
		encodeLeg(e, l)
	}
	e.ArrEnd()

	e.FieldStart("consolidation")
	encodeConsolidation(e, p.Consolidation)

	e.FieldStart("unfulfilled")
	encodeLines(e, p.Unfulfilled)

	e.FieldStart("timeline")
	e.ArrStart()
	for _, ev := range p.Timeline {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(ev.Status)
		e.FieldStart("location")
		e.Str(ev.Location)
		e.FieldStart("description")
		e.Str(ev.Description)
		e.FieldStart("time")
		encodeTime(e, ev.Time)
		e.FieldStart("isCompleted")
		e.Bool(ev.Completed)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("milestones")
	encodeMilestones(e, p.Milestones)
	e.ObjEnd()
}

func encodeLeg(e *jx.Encoder, l delivery.Leg) {
	e.ObjStart()
	e.FieldStart("warehouse")
	encodeWarehouse(e, l.Warehouse)
	e.FieldStart("destination")
	e.Str(l.Destination.Address)
	e.FieldStart("departureTime")
	encodeTime(e, l.Departure)
	e.FieldStart("eta")
	encodeTime(e, l.ETA)
	encodeRoute(e, l.Route)
	e.FieldStart("items")
	encodeLines(e, l.Items)
	e.ObjEnd()
}

func encodeConsolidation(e *jx.Encoder, c delivery.Consolidation) {
	e.ObjStart()
	e.FieldStart("isConsolidating")
	e.Bool(c.IsConsolidating)
	e.FieldStart("hub")
	encodeWarehouse(e, c.Hub)
	e.FieldStart("hubReadyTime")
	encodeTime(e, c.HubReady)
	e.FieldStart("transfers")
	e.ArrStart()
	for _, t := range c.Transfers {
		e.ObjStart()
		e.FieldStart("from")
		encodeWarehouse(e, t.From)
		e.FieldStart("to")
		encodeWarehouse(e, t.To)
		e.FieldStart("status")
		e.Str(string(t.Status))
		e.FieldStart("departureTime")
		encodeTime(e, t.Departure)
		e.FieldStart("arrivalTime")
		encodeTime(e, t.Arrival)
		encodeRoute(e, t.Route)
		e.FieldStart("items")
		encodeLines(e, t.Items)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// encodeRoute writes route fields into the enclosing object.
func encodeRoute(e *jx.Encoder, r delivery.Route) {
	e.FieldStart("distanceMeters")
	e.Int(r.DistanceMeters)
	e.FieldStart("distanceText")
	e.Str(r.DistanceText)
	e.FieldStart("durationSeconds")
	e.Int64(int64(r.Duration.Seconds()))
	e.FieldStart("durationText")
	e.Str(r.DurationText)
}

func encodeLines(e *jx.Encoder, lines []delivery.Line) {
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Int64(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeMilestones(e *jx.Encoder, m delivery.Milestones) {
	e.ObjStart()
	e.FieldStart("prepStart")
	encodeTime(e, m.PrepStart)
	e.FieldStart("prepFinish")
	encodeTime(e, m.PrepFinish)
	e.FieldStart("hubReady")
	encodeTime(e, m.HubReady)
	e.FieldStart("arrival")
	encodeTime(e, m.Arrival)
	e.FieldStart("completion")
	encodeTime(e, m.Completion)
	e.ObjEnd()
}
