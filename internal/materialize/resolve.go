package materialize

import (
	"errors"
	"fmt"
	"time"

	"minyancal/internal/model"
	"minyancal/internal/zmanim"
)

// ErrNoLookup is returned for dynamic times when no solar lookup is set.
var ErrNoLookup = errors.New("materialize: no solar lookup configured")

// Resolve turns a schedule time into a clock time on date. Dynamic times
// add Offset minutes to the named instant and then floor to a multiple of
// Round minutes.
func Resolve(st model.ScheduleTime, date time.Time, lookup zmanim.Lookup) (model.Clock, error) {
	if !st.IsDynamic() {
		return model.ParseClock(st.Fixed)
	}
	if lookup == nil {
		return model.Clock{}, ErrNoLookup
	}

	times, err := lookup.Times(date)
	if err != nil {
		return model.Clock{}, fmt.Errorf("resolve %s: %w", st.Ref, err)
	}
	at, ok := times.Get(st.Ref)
	if !ok {
		return model.Clock{}, fmt.Errorf("resolve %s: %w", st.Ref, zmanim.ErrNoEvent)
	}

	at = at.Add(time.Duration(st.Offset) * time.Minute)
	c := model.ClockOf(at)
	if st.Round > 1 {
		mins := c.Hour*60 + c.Minute
		mins -= mins % st.Round
		c = model.Clock{Hour: mins / 60, Minute: mins % 60}
	}
	return c, nil
}
