package delivery

import (
	"fmt"
	"time"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
)

// Destination is where the final leg ends.
type Destination struct {
	// Label is the customer's name for the address, used in timeline copy.
	Label   string
	Address string
}

const defaultDestinationLabel = "Delivery Location"

// ResolveDestination picks the destination of an order from the user's
// addresses, falling back to a fixed city when none is on file.
func ResolveDestination(addrs []address.Address, shippingID *int64) Destination {
	a, ok := address.Resolve(addrs, shippingID)
	if !ok || a.Line() == "" {
		return Destination{Label: defaultDestinationLabel, Address: address.FallbackDestination}
	}
	label := a.Label
	if label == "" {
		label = defaultDestinationLabel
	}
	return Destination{Label: label, Address: a.Line()}
}

// Leg is the customer-facing delivery leg from the hub.
type Leg struct {
	Warehouse   warehouse.Warehouse
	Destination Destination
	Route       Route
	Departure   time.Time
	ETA         time.Time
	Items       []Line
}

// TransferStatus is the state of a hub transfer at read time.
type TransferStatus string

const (
	TransferScheduled TransferStatus = "Scheduled"
	TransferInTransit TransferStatus = "In Transit"
	TransferArrived   TransferStatus = "Arrived"
)

// TransferLeg is a transfer with its timing resolved.
type TransferLeg struct {
	Transfer
	Departure time.Time
	Arrival   time.Time
	Status    TransferStatus
}

// Consolidation describes how stock reaches the hub.
type Consolidation struct {
	IsConsolidating bool
	Hub             warehouse.Warehouse
	Transfers       []TransferLeg
	HubReady        time.Time
}

// Event is one timeline entry. Completed means the event time has passed.
type Event struct {
	Status      string
	Location    string
	Description string
	Time        time.Time
	Completed   bool
}

// Plan is the full delivery view of an order at one instant.
type Plan struct {
	OrderID       string
	Status        Status
	Fulfillment   FulfillmentStatus
	Hub           warehouse.Warehouse
	Destination   Destination
	Route         Route
	Allocations   []Leg
	Consolidation Consolidation
	Unfulfilled   []Line
	Timeline      []Event
	Milestones    Milestones
	WindowStart   time.Time
	WindowEnd     time.Time
}

// Assemble builds the delivery plan of o from its allocation as seen at now.
// It is a pure function of its arguments.
func Assemble(c Clock, o *order.Order, alloc *Allocation, dest Destination, now time.Time) *Plan {
	m := c.Milestones(o.CreatedAt, o.TotalQuantity(), alloc.MaxTransfer, alloc.Hub.Route.Duration)
	status := Derive(o.Status, m, now)
	hub := alloc.Hub.Warehouse.Warehouse
	windowStart, windowEnd := c.SnapWindow(m.Arrival)

	transfers := make([]TransferLeg, 0, len(alloc.Transfers))
	for _, t := range alloc.Transfers {
		leg := TransferLeg{
			Transfer:  t,
			Departure: m.PrepFinish,
			Arrival:   m.PrepFinish.Add(t.Route.Duration),
		}
		switch {
		case !now.Before(leg.Arrival):
			leg.Status = TransferArrived
		case !now.Before(leg.Departure):
			leg.Status = TransferInTransit
		default:
			leg.Status = TransferScheduled
		}
		transfers = append(transfers, leg)
	}

	return &Plan{
		OrderID:     o.ID,
		Status:      status,
		Fulfillment: alloc.Status(),
		Hub:         hub,
		Destination: dest,
		Route:       alloc.Hub.Route,
		Allocations: []Leg{{
			Warehouse:   hub,
			Destination: dest,
			Route:       alloc.Hub.Route,
			Departure:   m.HubReady,
			ETA:         m.Arrival,
			Items:       alloc.Fulfilled(),
		}},
		Consolidation: Consolidation{
			IsConsolidating: alloc.Consolidating(),
			Hub:             hub,
			Transfers:       transfers,
			HubReady:        m.HubReady,
		},
		Unfulfilled: alloc.Unfulfilled,
		Timeline:    timeline(o, hub, dest, m, now),
		Milestones:  m,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
}

func timeline(o *order.Order, hub warehouse.Warehouse, dest Destination, m Milestones, now time.Time) []Event {
	shipped := !now.Before(m.HubReady)
	delivered := !now.Before(m.Arrival)

	events := []Event{
		{
			Status:      "Order Placed",
			Location:    "Online",
			Description: "Order confirmed and payment received.",
			Time:        o.CreatedAt,
		},
		{
			Status:      fmt.Sprintf("Pending at %s Warehouse", hubCity(hub)),
			Location:    hub.Location(),
			Description: pick(shipped, "Package processed and ready for departure.", "Processing order and consolidating items."),
			Time:        m.PrepStart,
		},
		{
			Status:      "En Route",
			Location:    "In transit",
			Description: pick(shipped, "On the way to "+dest.Label, "Scheduled departure"),
			Time:        m.HubReady,
		},
		{
			Status:      "Delivered",
			Location:    dest.Address,
			Description: pick(delivered, "Package delivered to "+dest.Label, "Estimated Arrival"),
			Time:        m.Arrival,
		},
	}

	// A closed order stops at its closing instant, which keeps times ordered.
	if o.Status.Terminal() && o.ClosedAt != nil {
		closed := *o.ClosedAt
		kept := events[:0]
		for _, e := range events {
			if !e.Time.After(closed) {
				kept = append(kept, e)
			}
		}
		events = append(kept, closingEvent(o.Status, closed))
	}

	for i := range events {
		events[i].Completed = !now.Before(events[i].Time)
	}
	return events
}

func closingEvent(s order.Status, at time.Time) Event {
	if s == order.StatusReturned {
		return Event{
			Status:      "Returned",
			Location:    "Online",
			Description: "Return registered.",
			Time:        at,
		}
	}
	return Event{
		Status:      "Cancelled",
		Location:    "Online",
		Description: "Order cancelled and items restocked.",
		Time:        at,
	}
}

func hubCity(w warehouse.Warehouse) string {
	if w.City != "" {
		return w.City
	}
	if w.Name != "" {
		return w.Name
	}
	return "Central"
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
