package delivery

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Mode selects real-world or accelerated timing.
type Mode int

const (
	// ModeRealistic applies warehouse hours, tiered preparation and seeded
	// 40-75 minute routes.
	ModeRealistic Mode = iota
	// ModeDemo starts preparation immediately and uses fixed second-scale
	// durations so a full lifecycle plays out in a few minutes.
	ModeDemo
)

// ParseMode parses "realistic" or "demo".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "realistic", "real":
		return ModeRealistic, nil
	case "demo", "accelerated":
		return ModeDemo, nil
	default:
		return 0, errors.Errorf("unknown timing mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeDemo {
		return "demo"
	}
	return "realistic"
}

const (
	warehouseOpenHour  = 8
	warehouseCloseHour = 19

	windowOpenHour  = 8
	windowCloseHour = 16
	windowSlot      = 30 * time.Minute
	minWindowSlack  = 15 * time.Minute
)

// Clock performs business-hours aware time arithmetic in a fixed location.
type Clock struct {
	mode Mode
	loc  *time.Location
}

// NewClock returns a Clock for mode. A nil location means UTC.
func NewClock(mode Mode, loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return Clock{mode: mode, loc: loc}
}

// Mode returns the timing mode of the clock.
func (c Clock) Mode() Mode { return c.mode }

// PrepStart returns the instant warehouse preparation of an order created at
// createdAt begins: the next opening instant when created outside 08:00-19:00,
// createdAt itself otherwise. In demo mode preparation starts immediately.
func (c Clock) PrepStart(createdAt time.Time) time.Time {
	if c.mode == ModeDemo {
		return createdAt
	}
	return c.openAtOrAfter(createdAt.In(c.loc))
}

// AddWarehouseHours adds d to start counting only warehouse hours: whatever
// does not fit before 19:00 carries over to 08:00 the next day. Starts before
// prepStart are aligned to it first. Durations under an hour are added as raw
// wall-clock time.
func (c Clock) AddWarehouseHours(start time.Time, d time.Duration, prepStart time.Time) time.Time {
	if c.mode == ModeDemo {
		return start.Add(d)
	}

	cur := start.In(c.loc)
	if cur.Before(prepStart) {
		cur = prepStart.In(c.loc)
	}
	if d < time.Hour {
		return cur.Add(d)
	}

	remaining := d
	for remaining > 0 {
		cur = c.openAtOrAfter(cur)
		untilClose := atHour(cur, warehouseCloseHour).Sub(cur)
		if untilClose >= remaining {
			return cur.Add(remaining)
		}
		remaining -= untilClose
		cur = atHour(cur.AddDate(0, 0, 1), warehouseOpenHour)
	}
	return cur
}

// SnapWindow turns a physical arrival instant into the customer-facing ETA
// window. The start is the next 30 minute boundary leaving at least 15 minutes
// of slack, moved into 08:00-16:00 on a weekday. Both modes snap: the window
// is what the customer sees, status keeps following the raw arrival.
func (c Clock) SnapWindow(arrival time.Time) (start, end time.Time) {
	t := arrival.In(c.loc)
	b := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()/30*30, 0, 0, c.loc)
	if b.Before(t) {
		b = b.Add(windowSlot)
	}
	if b.Sub(t) < minWindowSlack {
		b = b.Add(windowSlot)
	}
	b = businessSlot(b)
	return b, b.Add(windowSlot)
}

func businessSlot(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return businessSlot(atHour(t.AddDate(0, 0, 2), windowOpenHour))
	case time.Sunday:
		return businessSlot(atHour(t.AddDate(0, 0, 1), windowOpenHour))
	}
	if t.Hour() < windowOpenHour {
		return atHour(t, windowOpenHour)
	}
	if t.Hour() >= windowCloseHour {
		return businessSlot(atHour(t.AddDate(0, 0, 1), windowOpenHour))
	}
	return t
}

func (c Clock) openAtOrAfter(t time.Time) time.Time {
	switch {
	case t.Hour() < warehouseOpenHour:
		return atHour(t, warehouseOpenHour)
	case t.Hour() >= warehouseCloseHour:
		return atHour(t.AddDate(0, 0, 1), warehouseOpenHour)
	default:
		return t
	}
}

// atHour returns hour:00 on t's calendar day in t's location.
func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}
