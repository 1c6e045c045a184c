// Package ics reads iCalendar feeds published by organizations and expands
// them into raw calendar entries.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "minyancal/internal/log"
)

// ErrEmptyBody is returned for a zero-length payload.
var ErrEmptyBody = errors.New("ics: empty body")

// Event is one VEVENT. Recurrences are kept unexpanded; see Expand.
type Event struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Categories  string
	Cancelled   bool

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, when this VEVENT overrides one instance
}

// IsOverride reports whether ev replaces a single instance of a recurring event.
func (ev Event) IsOverride() bool {
	return ev.Recurrence != nil
}

// Parse reads an ICS payload. Floating and all-day times are read in loc.
// A VEVENT that cannot be read is logged and skipped.
func Parse(body []byte, loc *time.Location) ([]Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]Event, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			appLog.Warn("ics: skipping vevent", "err", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics: parsed", "events", len(events))
	return events, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (Event, error) {
	var out Event

	out.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.UID == "" {
		return out, errors.New("missing UID")
	}
	if n, err := strconv.Atoi(propValue(ve, ical.ComponentPropertySequence)); err == nil {
		out.Seq = n
	}

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Categories = propValue(ve, ical.ComponentPropertyCategories)
	out.Cancelled = strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED")

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	start, allDay, err := propTime(dtStart, loc)
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	out.Start, out.AllDay = start, allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := propTime(ve.GetProperty(ical.ComponentPropertyDtEnd), loc)
		if err != nil {
			return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
		}
		out.End = end
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseICSTime(part, tzid(p.ICalParameters), loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, _, err := propTime(rid, loc); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

func tzid(params map[string][]string) string {
	if vs, ok := params["TZID"]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, allDay, err := parseICSTime(p.Value, tzid(p.ICalParameters), loc)
	if err != nil {
		return t, allDay, err
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	return t, allDay, nil
}

// parseICSTime reads DATE, floating DATE-TIME, UTC DATE-TIME and TZID
// DATE-TIME forms. Unknown TZIDs fall back to loc.
func parseICSTime(v, tz string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	in := loc
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			in = l
		} else {
			appLog.Debug("ics: unknown TZID, using default location", "tzid", tz)
		}
	}

	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, in)
		return t, false, err
	}
	t, err := time.ParseInLocation("20060102", v, loc)
	return t, true, err
}
