package model

import "time"

// Window is the inclusive rolling span of dates [Start, End] for which
// materialized events are kept. Both bounds are midnight in the configured
// location.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow computes [today - past weeks, today + future weeks] relative to now.
func NewWindow(now time.Time, loc *time.Location, pastWeeks, futureWeeks int) Window {
	if loc == nil {
		loc = time.Local
	}
	today := Midnight(now.In(loc))
	return Window{
		Start: today.AddDate(0, 0, -7*pastWeeks),
		End:   today.AddDate(0, 0, 7*futureWeeks),
	}
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Contains reports whether the calendar day of t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	d := Midnight(t.In(w.Start.Location()))
	return !d.Before(w.Start) && !d.After(w.End)
}

// StartDate and EndDate format the bounds as DateLayout strings.
func (w Window) StartDate() string { return w.Start.Format(DateLayout) }
func (w Window) EndDate() string   { return w.End.Format(DateLayout) }

// Days returns every date in the window in order.
func (w Window) Days() []time.Time {
	var out []time.Time
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Clamp intersects [from, to] with the window. ok is false when they do not
// overlap.
func (w Window) Clamp(from, to time.Time) (Window, bool) {
	loc := w.Start.Location()
	f := Midnight(from.In(loc))
	t := Midnight(to.In(loc))
	if f.Before(w.Start) {
		f = w.Start
	}
	if t.After(w.End) {
		t = w.End
	}
	if t.Before(f) {
		return Window{}, false
	}
	return Window{Start: f, End: t}, true
}
