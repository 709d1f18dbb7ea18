// Package schedule classifies wall-clock instants into business hours or
// an on-call shift window. Classification is a pure function of the
// timestamp; it performs no I/O and is total over all instants.
package schedule

import (
	"fmt"
	"time"
)

// TimeOfDay is a clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// String formats the time of day as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Hours defines the business-hours boundaries.
type Hours struct {
	// Start is when business hours begin on weekdays.
	Start TimeOfDay
	// End is when business hours end Monday through Thursday.
	End TimeOfDay
	// FridayEnd is when business hours end on Friday.
	FridayEnd TimeOfDay
}

// DefaultHours returns the standard 08:00-17:00 schedule with a 14:00
// Friday close.
func DefaultHours() Hours {
	return Hours{
		Start:     8 * 60,
		End:       17 * 60,
		FridayEnd: 14 * 60,
	}
}

// Validate checks that the boundaries are ordered sensibly.
func (h Hours) Validate() error {
	if h.Start >= h.End {
		return fmt.Errorf("hours start %s must be before end %s", h.Start, h.End)
	}
	if h.Start >= h.FridayEnd {
		return fmt.Errorf("hours start %s must be before friday end %s", h.Start, h.FridayEnd)
	}
	return nil
}

// Window is the classification of an instant: either business hours, or
// off hours together with the calendar date whose shift record covers it.
type Window struct {
	business  bool
	shiftDate time.Time
}

// Business reports whether the instant falls inside business hours.
// During business hours the responsible party comes from the incident's
// assignee tag, not from the shift calendar.
func (w Window) Business() bool {
	return w.business
}

// ShiftDate returns the calendar date (midnight, local) whose shift record
// must be consulted. Only meaningful when Business is false.
func (w Window) ShiftDate() time.Time {
	return w.shiftDate
}

// String returns a readable description of the window.
func (w Window) String() string {
	if w.business {
		return "business hours"
	}
	return fmt.Sprintf("off hours (shift %s)", w.shiftDate.Format("2006-01-02"))
}

// businessWindow is the single business-hours value.
func businessWindow() Window {
	return Window{business: true}
}

// offHours builds an off-hours window for the given shift date.
func offHours(date time.Time) Window {
	return Window{shiftDate: date}
}

// Classify maps an instant to its window. Weekdays are numbered
// Monday=0 through Sunday=6. Rules, in priority order:
//
//  1. Saturday or Sunday: shift of that same date.
//  2. Monday before Start: shift of the previous day (the Sunday shift
//     runs until Monday morning).
//  3. Tuesday-Friday before Start: shift of the previous day.
//  4. Friday at or after FridayEnd: shift of that Friday.
//  5. Monday-Thursday at or after End: shift of that same date.
//  6. Otherwise: business hours.
func Classify(now time.Time, hours Hours) Window {
	weekday := mondayWeekday(now)
	clock := TimeOfDay(now.Hour()*60 + now.Minute())
	today := dateOf(now)

	switch {
	case weekday == 5 || weekday == 6:
		return offHours(today)
	case weekday == 0 && clock < hours.Start:
		return offHours(today.AddDate(0, 0, -1))
	case weekday >= 1 && weekday <= 4 && clock < hours.Start:
		return offHours(today.AddDate(0, 0, -1))
	case weekday == 4 && clock >= hours.FridayEnd:
		return offHours(today)
	case weekday <= 3 && clock >= hours.End:
		return offHours(today)
	default:
		return businessWindow()
	}
}

// mondayWeekday converts Go's Sunday=0 numbering to Monday=0.
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// dateOf truncates an instant to midnight in its own location.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
