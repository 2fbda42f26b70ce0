package engine

import (
	"fmt"
	"time"
)

// Clock yields the current time in the deployment's canonical time zone.
// Every day-boundary and withdrawal-window decision goes through a Clock so
// that client clocks never gate money movement.
type Clock interface {
	Now() time.Time
}

// ZoneClock is the production Clock, pinned to a single location.
type ZoneClock struct {
	loc *time.Location
}

// NewZoneClock builds a clock for the named IANA zone, e.g. "Asia/Kolkata".
func NewZoneClock(zone string) (*ZoneClock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid canonical timezone %q: %w", zone, err)
	}
	return &ZoneClock{loc: loc}, nil
}

func (c *ZoneClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day, evaluated in
// a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// DayKey formats t as the date key used in idempotency reference ids.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
