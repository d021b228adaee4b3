// Package model defines the domain entities shared across the excavation
// coordination engine: projects, moratoriums, exceptions, and time windows.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// dateLayout is the wire format for calendar dates.
const dateLayout = "2006-01-02"

// Window is a closed calendar-date interval. Start and End are UTC
// midnights; Start <= End always holds for windows built via NewWindow or
// ParseWindow.
type Window struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// NewWindow builds a Window, truncating both dates to UTC midnight.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: truncateToDate(start), End: truncateToDate(end)}
	if w.End.Before(w.Start) {
		return Window{}, eris.New("model: window end date precedes start date")
	}
	return w, nil
}

// ParseWindow parses ISO-8601 date strings into a Window.
func ParseWindow(start, end string) (Window, error) {
	s, err := time.ParseInLocation(dateLayout, start, time.UTC)
	if err != nil {
		return Window{}, eris.Wrapf(err, "model: parse start date %q", start)
	}
	e, err := time.ParseInLocation(dateLayout, end, time.UTC)
	if err != nil {
		return Window{}, eris.Wrapf(err, "model: parse end date %q", end)
	}
	return NewWindow(s, e)
}

// MustParseWindow is ParseWindow for static literals; it panics on error.
func MustParseWindow(start, end string) Window {
	w, err := ParseWindow(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

// Overlaps reports whether two windows share at least one day. Closed
// intervals: touching boundary days count as overlap. Symmetric and total.
func (w Window) Overlaps(o Window) bool {
	return !w.Start.After(o.End) && !o.Start.After(w.End)
}

// Contains reports whether the given date falls inside the window.
func (w Window) Contains(t time.Time) bool {
	d := truncateToDate(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
