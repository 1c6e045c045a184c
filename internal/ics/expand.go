package ics

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "minyancal/internal/log"
	"minyancal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Window bounds the dates of produced entries (inclusive). Its location
	// is the display location.
	Window model.Window

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means the default.
	MaxOccurrencesPerEvent int

	// SourceURL is copied onto every entry.
	SourceURL string
}

// ExpandResult holds the expanded entries, ordered by start.
type ExpandResult struct {
	Entries []model.RawEntry
	// Truncated lists UIDs that hit MaxOccurrencesPerEvent.
	Truncated []string
}

type occurrence struct {
	start time.Time
	entry model.RawEntry
}

// Expand turns events into one raw entry per occurrence inside the window.
// EXDATEs remove instances, RECURRENCE-ID overrides replace them and
// cancelled instances are dropped.
func Expand(events []Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.Window.End.Before(cfg.Window.Start) {
		return result, errors.New("expand: window end is before start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]Event)
	overridesByUID := make(map[string][]Event)
	var uids []string
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	var all []occurrence
	for _, uid := range uids {
		ov := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				result.Truncated = append(result.Truncated, uid)
				appLog.Warn("ics: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			all = append(all, occ...)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].start.Before(all[j].start) })
	result.Entries = make([]model.RawEntry, 0, len(all))
	for _, o := range all {
		result.Entries = append(result.Entries, o.entry)
	}
	return result, nil
}

// Entries parses body and expands it in one step.
func Entries(body []byte, cfg ExpandConfig) ([]model.RawEntry, error) {
	events, err := Parse(body, cfg.Window.Start.Location())
	if err != nil {
		return nil, err
	}
	res, err := Expand(events, cfg)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

func expandEvent(ev Event, overrides []Event, cfg ExpandConfig) ([]occurrence, bool) {
	if ev.RawRRule == "" {
		if o, ok := findOverride(overrides, ev.Start); ok {
			ev = o
		}
		if ev.Cancelled || !cfg.Window.Contains(ev.Start) {
			return nil, false
		}
		return []occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg)}, false
	}
	if ev.Cancelled {
		return nil, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	from := cfg.Window.Start.In(loc)
	to := cfg.Window.End.AddDate(0, 0, 1).Add(-time.Second).In(loc)
	starts := set.Between(from, to, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]occurrence, 0, len(starts))
	for _, start := range starts {
		inst := ev
		end := start.Add(dur)
		if o, ok := findOverride(overrides, start); ok {
			inst, start, end = o, o.Start, o.End
		}
		if inst.Cancelled || !cfg.Window.Contains(start) {
			continue
		}
		out = append(out, makeOccurrence(inst, start, end, cfg))
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []Event, start time.Time) (Event, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return Event{}, false
}

func makeOccurrence(ev Event, start, end time.Time, cfg ExpandConfig) occurrence {
	loc := cfg.Window.Start.Location()
	local := start.In(loc)
	if ev.AllDay {
		// All-day dates are calendar dates, not instants.
		local = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	}

	entry := model.RawEntry{
		Date:        model.Midnight(local),
		Title:       ev.Summary,
		Type:        ev.Categories,
		Location:    ev.Location,
		Description: ev.Description,
		SourceURL:   cfg.SourceURL,
	}
	if !ev.AllDay {
		entry.TimeText = local.Format("3:04 PM")
		if end.After(start) {
			entry.EndText = end.In(loc).Format("3:04 PM")
		}
	}

	var raw []string
	for _, v := range []string{ev.Summary, entry.TimeText, ev.Location, ev.Description} {
		if v = strings.TrimSpace(v); v != "" {
			raw = append(raw, v)
		}
	}
	entry.RawText = strings.Join(raw, " | ")

	return occurrence{start: start, entry: entry}
}
