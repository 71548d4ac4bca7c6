package delivery

import (
	"time"

	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
)

// Status is the customer-facing delivery status. It is derived from elapsed
// time on every read and never stored, except for the terminal states.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusPreparing Status = "Preparing"
	StatusEnRoute   Status = "En Route"
	StatusDelivered Status = "Delivered"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusReturned  Status = "Returned"
)

// Cancellable reports whether an order in status s may still be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusPreparing
}

// Returnable reports whether an order in status s may be returned.
func (s Status) Returnable() bool {
	return s == StatusDelivered || s == StatusCompleted
}

// Milestones are the instants that drive status derivation. They are always
// ordered PrepStart <= HubReady <= Arrival <= Completion.
type Milestones struct {
	PrepStart time.Time
	// PrepFinish is when the order is picked and packed, before any transfer.
	PrepFinish time.Time
	// HubReady is when all items are at the hub; the final leg departs then.
	HubReady   time.Time
	Arrival    time.Time
	Completion time.Time
}

const (
	demoPrep       = time.Minute
	demoCompletion = time.Minute
	completionHold = time.Hour
)

// prepDuration returns the picking time for totalQty items.
func (c Clock) prepDuration(totalQty int) time.Duration {
	if c.mode == ModeDemo {
		return demoPrep
	}
	switch {
	case totalQty <= 5:
		return 2 * time.Hour
	case totalQty <= 10:
		return 3 * time.Hour
	default:
		return 4 * time.Hour
	}
}

func (c Clock) completionBuffer() time.Duration {
	if c.mode == ModeDemo {
		return demoCompletion
	}
	return completionHold
}

// Milestones computes the delivery milestones of an order created at
// createdAt with totalQty items, whose slowest transfer takes maxTransfer and
// whose final leg takes finalLeg.
func (c Clock) Milestones(createdAt time.Time, totalQty int, maxTransfer, finalLeg time.Duration) Milestones {
	prepStart := c.PrepStart(createdAt)
	prepFinish := c.AddWarehouseHours(createdAt, c.prepDuration(totalQty), prepStart)
	hubReady := prepFinish.Add(maxTransfer)
	arrival := hubReady.Add(finalLeg)
	return Milestones{
		PrepStart:  prepStart,
		PrepFinish: prepFinish,
		HubReady:   hubReady,
		Arrival:    arrival,
		Completion: arrival.Add(c.completionBuffer()),
	}
}

// StatusAt derives the in-flight status at now. Boundaries are inclusive:
// at exactly HubReady the order is already En Route.
func (m Milestones) StatusAt(now time.Time) Status {
	switch {
	case !now.Before(m.Completion):
		return StatusCompleted
	case !now.Before(m.Arrival):
		return StatusDelivered
	case !now.Before(m.HubReady):
		return StatusEnRoute
	case !now.Before(m.PrepStart):
		return StatusPreparing
	default:
		return StatusPending
	}
}

// Derive returns the status of an order whose persisted status is persisted.
// Terminal persisted states win over anything time would say.
func Derive(persisted order.Status, m Milestones, now time.Time) Status {
	switch persisted {
	case order.StatusCancelled:
		return StatusCancelled
	case order.StatusReturned:
		return StatusReturned
	default:
		return m.StatusAt(now)
	}
}
