// Package window resolves control period parameters into concrete
// half-open date intervals.
package window

import (
	"fmt"
	"time"
)

// PeriodType selects the unit of a control window.
type PeriodType string

const (
	// Day windows are whole calendar days.
	Day PeriodType = "D"

	// Week windows are 7-day spans anchored to day boundaries.
	Week PeriodType = "W"

	// Month windows are whole calendar months.
	Month PeriodType = "M"
)

// Valid reports whether the period type is one of D, W, M.
func (p PeriodType) Valid() bool {
	switch p {
	case Day, Week, Month:
		return true
	}
	return false
}

// Window is a half-open interval [From, To) that bounds the records a
// control run fetches from its data sources.
type Window struct {
	From time.Time
	To   time.Time
}

// Params are the catalogue parameters a window is resolved from.
//
// PeriodBack counts units back from the current unit, PeriodNumber is
// the window length in units. PeriodBack=1, PeriodNumber=1, Type=D is
// "yesterday"; PeriodBack=0, PeriodNumber=1, Type=M is the current
// calendar month.
type Params struct {
	PeriodBack   int
	PeriodNumber int
	PeriodType   PeriodType
}

// Resolve turns window parameters and a clock reading into a concrete
// half-open interval. The reading is truncated to its day boundary
// first, so the same parameters resolve identically anywhere within a
// day.
func Resolve(now time.Time, p Params) (Window, error) {
	if !p.PeriodType.Valid() {
		return Window{}, fmt.Errorf("unknown period type %q", p.PeriodType)
	}
	if p.PeriodNumber < 1 {
		return Window{}, fmt.Errorf("period number must be positive, got %d", p.PeriodNumber)
	}
	if p.PeriodBack < 0 {
		return Window{}, fmt.Errorf("period back must not be negative, got %d", p.PeriodBack)
	}
	day := truncateDay(now)
	switch p.PeriodType {
	case Day:
		from := day.AddDate(0, 0, -p.PeriodBack)
		to := from.AddDate(0, 0, p.PeriodNumber)
		return Window{From: from, To: to}, nil
	case Week:
		from := day.AddDate(0, 0, -7*p.PeriodBack)
		to := from.AddDate(0, 0, 7*p.PeriodNumber)
		return Window{From: from, To: to}, nil
	case Month:
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		from := first.AddDate(0, -p.PeriodBack, 0)
		to := from.AddDate(0, p.PeriodNumber, 0)
		return Window{From: from, To: to}, nil
	}
	return Window{}, fmt.Errorf("unknown period type %q", p.PeriodType)
}

// truncateDay drops the time-of-day part, keeping the location.
func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Contains reports whether the timestamp falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// String renders the window bounds for logs.
func (w Window) String() string {
	const layout = "2006-01-02 15:04:05"
	return fmt.Sprintf("[%s, %s)", w.From.Format(layout), w.To.Format(layout))
}
