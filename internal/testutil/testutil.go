// Package testutil holds deterministic fakes shared by package tests.
package testutil

import (
	"time"

	"minyancal/internal/zmanim"
)

// FixedZmanim answers every date with the same wall-clock instants.
// Sunrise is 06:30 and sunset 18:45; the other instants sit between them.
type FixedZmanim struct {
	Location *time.Location
}

func (f FixedZmanim) Times(date time.Time) (zmanim.Times, error) {
	loc := f.Location
	if loc == nil {
		loc = date.Location()
	}
	d := date.In(loc)
	at := func(h, m int) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
	}
	return zmanim.Times{
		Date:          at(0, 0),
		Alos:          at(5, 10),
		Sunrise:       at(6, 30),
		SofZmanShma:   at(9, 33),
		SofZmanTefila: at(10, 34),
		Chatzos:       at(12, 37),
		MinchaGedola:  at(13, 8),
		MinchaKetana:  at(16, 11),
		Plag:          at(17, 27),
		Sunset:        at(18, 45),
		Tzais:         at(19, 27),
	}, nil
}

// Clock returns a now function frozen at t.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Date returns midnight of y-m-d in loc.
func Date(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
