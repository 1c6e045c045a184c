// Package schedule is the read path over materialized events. On any date
// with an enabled imported row, rule-derived rows are hidden.
package schedule

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"minyancal/internal/model"
	"minyancal/internal/store"
)

// Config sizes the window reads are clamped to.
type Config struct {
	Location    *time.Location
	PastWeeks   int
	FutureWeeks int
	Now         func() time.Time
}

// Service answers schedule reads. It never writes.
type Service struct {
	store *store.Store
	cfg   Config
}

func New(st *store.Store, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: st, cfg: cfg}
}

// Window is the rolling window as of now.
func (s *Service) Window() model.Window {
	return model.NewWindow(s.cfg.Now(), s.cfg.Location, s.cfg.PastWeeks, s.cfg.FutureWeeks)
}

// Effective returns the enabled events of [from, to] after day-level
// precedence, sorted by date then start time. Dates outside the window
// yield nothing.
func (s *Service) Effective(ctx context.Context, orgID int64, from, to time.Time) ([]model.CalendarEvent, error) {
	w, ok := s.Window().Clamp(from, to)
	if !ok {
		return []model.CalendarEvent{}, nil
	}
	rows, err := s.store.ListEvents(ctx, orgID, w.StartDate(), w.EndDate(), true)
	if err != nil {
		return nil, err
	}
	return Merge(rows), nil
}

// Admin returns every stored row of [from, to], both sources, enabled or not.
func (s *Service) Admin(ctx context.Context, orgID int64, from, to time.Time) ([]model.CalendarEvent, error) {
	rows, err := s.store.ListEvents(ctx, orgID, from.Format(model.DateLayout), to.Format(model.DateLayout), false)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.CalendarEvent{}
	}
	return rows, nil
}

// Merge applies day-level precedence to rows sorted by date: a date with an
// enabled imported row drops its rule-derived rows. Manual rows are always
// kept. Disabled rows are dropped.
func Merge(rows []model.CalendarEvent) []model.CalendarEvent {
	imported := make(map[string]bool)
	for _, r := range rows {
		if r.Enabled && r.Source == model.SourceImport {
			imported[r.Date] = true
		}
	}

	out := make([]model.CalendarEvent, 0, len(rows))
	for _, r := range rows {
		if !r.Enabled {
			continue
		}
		if r.Source == model.SourceRule && imported[r.Date] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ICS encodes the effective events of [from, to] as an iCalendar feed.
func (s *Service) ICS(ctx context.Context, org model.Organization, from, to time.Time) ([]byte, error) {
	events, err := s.Effective(ctx, org.ID, from, to)
	if err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//minyancal//schedule//EN")
	for name, value := range map[string]string{"X-WR-CALNAME": org.Name, "X-WR-TIMEZONE": s.cfg.Location.String()} {
		p := ical.NewProp(name)
		p.Value = value
		cal.Props.Set(p)
	}

	stamp := s.cfg.Now().UTC()
	for _, ev := range events {
		start, err := eventStart(ev, s.cfg.Location)
		if err != nil {
			return nil, err
		}
		e := ical.NewEvent()
		e.Props.SetText(ical.PropUID, eventUID(org, ev))
		e.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		e.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		e.Props.SetText(ical.PropSummary, summary(ev))
		if ev.LocationName != "" {
			e.Props.SetText(ical.PropLocation, ev.LocationName)
		}
		if desc := description(ev); desc != "" {
			e.Props.SetText(ical.PropDescription, desc)
		}
		cal.Children = append(cal.Children, e.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func eventStart(ev model.CalendarEvent, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, ev.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	c, err := model.ParseClock(ev.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	return c.On(day), nil
}

// eventUID stays stable across materialization cycles, unlike row ids of
// rule-derived events.
func eventUID(org model.Organization, ev model.CalendarEvent) string {
	return fmt.Sprintf("%s-%s@%s.minyancal", ev.SourceRef, ev.Date, org.Slug)
}

func summary(ev model.CalendarEvent) string {
	if ev.Rite != "" {
		return ev.ServiceType.Label() + " (" + ev.Rite + ")"
	}
	return ev.ServiceType.Label()
}

func description(ev model.CalendarEvent) string {
	var parts []string
	if ev.DynamicDisplay != "" {
		parts = append(parts, ev.DynamicDisplay)
	}
	if ev.Notes != "" {
		parts = append(parts, ev.Notes)
	}
	return strings.Join(parts, "\n")
}
