package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-02 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":          ModeRealistic,
		"realistic": ModeRealistic,
		"DEMO":      ModeDemo,
		" demo ":    ModeDemo,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("turbo")
	require.Error(t, err)
}

func TestClock_PrepStart(t *testing.T) {
	c := NewClock(ModeRealistic, time.UTC)

	tests := []struct {
		name    string
		created time.Time
		want    time.Time
	}{
		{name: "before opening", created: at(2, 6, 40), want: at(2, 8, 0)},
		{name: "during hours", created: at(2, 10, 15), want: at(2, 10, 15)},
		{name: "exactly at opening", created: at(2, 8, 0), want: at(2, 8, 0)},
		{name: "exactly at closing", created: at(2, 19, 0), want: at(3, 8, 0)},
		{name: "after closing", created: at(2, 22, 30), want: at(3, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.PrepStart(tt.created))
		})
	}

	demo := NewClock(ModeDemo, time.UTC)
	assert.Equal(t, at(2, 22, 30), demo.PrepStart(at(2, 22, 30)))
}

func TestClock_PrepStartUsesLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("tzdata not available")
	}
	c := NewClock(ModeRealistic, paris)

	// 06:30 UTC is 07:30 in Paris during winter time.
	got := c.PrepStart(time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC))
	assert.True(t, got.Equal(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)), got)
}

func TestClock_AddWarehouseHours(t *testing.T) {
	c := NewClock(ModeRealistic, time.UTC)

	tests := []struct {
		name      string
		start     time.Time
		d         time.Duration
		prepStart time.Time
		want      time.Time
	}{
		{name: "fits in the day", start: at(2, 10, 0), d: 2 * time.Hour, prepStart: at(2, 10, 0), want: at(2, 12, 0)},
		{name: "ends exactly at closing", start: at(2, 16, 0), d: 3 * time.Hour, prepStart: at(2, 16, 0), want: at(2, 19, 0)},
		{name: "carries over to next morning", start: at(2, 17, 0), d: 3 * time.Hour, prepStart: at(2, 17, 0), want: at(3, 9, 0)},
		{name: "spans more than a day", start: at(2, 18, 0), d: 13 * time.Hour, prepStart: at(2, 18, 0), want: at(4, 9, 0)},
		{name: "aligned to prep start", start: at(2, 6, 0), d: 2 * time.Hour, prepStart: at(2, 8, 0), want: at(2, 10, 0)},
		{name: "created after closing", start: at(2, 21, 0), d: 4 * time.Hour, prepStart: at(3, 8, 0), want: at(3, 12, 0)},
		{name: "short duration is raw", start: at(2, 18, 50), d: 30 * time.Minute, prepStart: at(2, 18, 50), want: at(2, 19, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.AddWarehouseHours(tt.start, tt.d, tt.prepStart)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.Before(tt.start))
		})
	}
}

func TestClock_AddWarehouseHoursDemo(t *testing.T) {
	c := NewClock(ModeDemo, time.UTC)
	assert.Equal(t, at(2, 23, 0), c.AddWarehouseHours(at(2, 22, 0), time.Hour, at(2, 22, 0)))
}

func TestClock_SnapWindow(t *testing.T) {
	c := NewClock(ModeRealistic, time.UTC)

	tests := []struct {
		name    string
		arrival time.Time
		want    time.Time
	}{
		{name: "enough slack", arrival: at(2, 10, 5), want: at(2, 10, 30)},
		{name: "too little slack", arrival: at(2, 10, 20), want: at(2, 11, 0)},
		{name: "exactly on boundary", arrival: at(2, 10, 0), want: at(2, 10, 30)},
		{name: "exactly fifteen minutes slack", arrival: at(2, 10, 15), want: at(2, 10, 30)},
		{name: "before window opens", arrival: at(2, 6, 10), want: at(2, 8, 0)},
		{name: "last slot of the day", arrival: at(2, 15, 10), want: at(2, 15, 30)},
		{name: "past last slot", arrival: at(2, 15, 50), want: at(3, 8, 0)},
		{name: "friday evening skips weekend", arrival: at(6, 15, 50), want: at(9, 8, 0)},
		{name: "saturday", arrival: at(7, 11, 0), want: at(9, 8, 0)},
		{name: "sunday", arrival: at(8, 11, 0), want: at(9, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := c.SnapWindow(tt.arrival)
			assert.Equal(t, tt.want, start)
			assert.Equal(t, 30*time.Minute, end.Sub(start))
			assert.GreaterOrEqual(t, start.Sub(tt.arrival), 15*time.Minute)
		})
	}
}

func TestClock_SnapWindowDemo(t *testing.T) {
	demo := NewClock(ModeDemo, time.UTC)
	realistic := NewClock(ModeRealistic, time.UTC)
	for _, arrival := range []time.Time{at(2, 10, 0).Add(40 * time.Second), at(6, 15, 50), at(7, 23, 59)} {
		start, end := demo.SnapWindow(arrival)
		wantStart, wantEnd := realistic.SnapWindow(arrival)
		assert.Equal(t, wantStart, start, "arrival %s", arrival)
		assert.Equal(t, wantEnd, end)
	}
	start, _ := demo.SnapWindow(at(7, 23, 59))
	assert.Equal(t, at(9, 8, 0), start)
}
