// Package materialize turns recurring rules and imported entries into the
// calendar_events table for a rolling window of dates.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "minyancal/internal/log"
	"minyancal/internal/model"
	"minyancal/internal/store"
	"minyancal/internal/zmanim"
)

// DayInfoer flags the special-day categories of a date. hebcal.Calendar
// implements it.
type DayInfoer interface {
	DayInfo(t time.Time) model.DayInfo
}

// Config sizes the window.
type Config struct {
	Location    *time.Location
	PastWeeks   int
	FutureWeeks int
	// RetentionWeeks keeps imported entries this long before the window
	// start; Cleanup deletes older ones.
	RetentionWeeks int
	Now            func() time.Time
}

// Service materializes events.
type Service struct {
	store  *store.Store
	zmanim zmanim.Lookup
	days   DayInfoer
	cfg    Config
}

func New(st *store.Store, lookup zmanim.Lookup, days DayInfoer, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: st, zmanim: lookup, days: days, cfg: cfg}
}

// Window is the rolling window as of now.
func (s *Service) Window() model.Window {
	return model.NewWindow(s.cfg.Now(), s.cfg.Location, s.cfg.PastWeeks, s.cfg.FutureWeeks)
}

// Summary reports one organization's materialization.
type Summary struct {
	OrganizationID int64  `json:"organization_id"`
	WindowStart    string `json:"window_start"`
	WindowEnd      string `json:"window_end"`
	RuleDeleted    int64  `json:"rule_deleted"`
	RuleInserted   int    `json:"rule_inserted"`
	ImportInserted int    `json:"import_inserted"`
	ImportUpdated  int    `json:"import_updated"`
	Unresolved     int    `json:"unresolved"`
	Purged         int64  `json:"purged"`
	Error          string `json:"error,omitempty"`
}

// MaterializeOrganization regenerates rule-derived rows, carries imported
// entries forward and purges rows before the window, all in one transaction.
func (s *Service) MaterializeOrganization(ctx context.Context, orgID int64) (Summary, error) {
	w := s.Window()
	sum := Summary{OrganizationID: orgID, WindowStart: w.StartDate(), WindowEnd: w.EndDate()}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return sum, err
	}

	err = s.store.InTx(ctx, func(q *store.Queries) error {
		n, err := q.DeleteRuleEvents(ctx, orgID, w.StartDate(), w.EndDate())
		if err != nil {
			return err
		}
		sum.RuleDeleted = n

		if err := s.materializeRules(ctx, q, org, w, &sum); err != nil {
			return err
		}
		if err := s.materializeImports(ctx, q, org, w, &sum); err != nil {
			return err
		}

		sum.Purged, err = q.PurgeEventsBefore(ctx, orgID, w.StartDate())
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("materialize org %d: %w", orgID, err)
	}

	appLog.Info("materialize: organization done",
		"org", orgID,
		"window", w.StartDate()+".."+w.EndDate(),
		"rule_rows", sum.RuleInserted,
		"import_new", sum.ImportInserted,
		"import_updated", sum.ImportUpdated,
		"purged", sum.Purged,
	)
	return sum, nil
}

func (s *Service) materializeRules(ctx context.Context, q *store.Queries, org model.Organization, w model.Window, sum *Summary) error {
	rules, err := q.ListRules(ctx, org.ID, true)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return nil
	}

	days := w.Days()
	infos := make([]model.DayInfo, len(days))
	for i, d := range days {
		infos[i] = s.dayInfo(d)
	}

	for _, r := range rules {
		rite := r.Rite
		if rite == "" {
			rite = org.DefaultRite
		}
		for _, day := range infos {
			st, _ := r.Schedule.For(day)
			if st == nil {
				continue
			}
			clock, err := Resolve(*st, day.Date, s.zmanim)
			if err != nil {
				sum.Unresolved++
				appLog.Debug("materialize: time did not resolve", "rule", r.ID, "date", day.Date.Format(model.DateLayout), "err", err)
				continue
			}
			_, err = q.InsertEvent(ctx, model.CalendarEvent{
				OrganizationID: org.ID,
				Date:           day.Date.Format(model.DateLayout),
				ServiceType:    r.ServiceType,
				StartTime:      clock.String(),
				Source:         model.SourceRule,
				SourceRef:      model.RuleRef(r.ID),
				LocationName:   r.LocationName,
				Notes:          r.Notes,
				Rite:           rite,
				DynamicDisplay: st.Display(),
				Enabled:        true,
			})
			if err != nil {
				return err
			}
			sum.RuleInserted++
		}
	}
	return nil
}

func (s *Service) dayInfo(d time.Time) model.DayInfo {
	if s.days == nil {
		return model.DayInfo{Date: d}
	}
	info := s.days.DayInfo(d)
	info.Date = d
	return info
}

// materializeImports inserts a row for every service entry not yet
// materialized and refreshes rows that were not manually edited. Entries
// reclassified as non-service switch their existing row off.
func (s *Service) materializeImports(ctx context.Context, q *store.Queries, org model.Organization, w model.Window, sum *Summary) error {
	entries, err := q.ListEntries(ctx, org.ID, w.StartDate(), w.EndDate())
	if err != nil {
		return err
	}

	for _, e := range entries {
		ref := e.SourceRef()
		existing, err := q.GetImportEvent(ctx, org.ID, ref)
		found := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if !e.ServiceType.IsService() {
			if found && existing.Enabled {
				existing.Enabled = false
				changed, err := q.RefreshImportEvent(ctx, existing)
				if err != nil {
					return err
				}
				if changed {
					sum.ImportUpdated++
				}
			}
			continue
		}

		ev := importEvent(org, e)
		if !found {
			if ev.StartTime == "" {
				sum.Unresolved++
				continue
			}
			if _, err := q.InsertEvent(ctx, ev); err != nil {
				return err
			}
			sum.ImportInserted++
			continue
		}

		if ev.StartTime == "" {
			ev.StartTime = existing.StartTime
		}
		ev.ID = existing.ID
		changed, err := q.RefreshImportEvent(ctx, ev)
		if err != nil {
			return err
		}
		if changed {
			sum.ImportUpdated++
		}
	}
	return nil
}

func importEvent(org model.Organization, e model.ImportedEntry) model.CalendarEvent {
	return model.CalendarEvent{
		OrganizationID: org.ID,
		Date:           e.Date,
		ServiceType:    e.ServiceType,
		StartTime:      e.StartTime,
		Source:         model.SourceImport,
		SourceRef:      e.SourceRef(),
		LocationName:   e.Location,
		Notes:          e.Note,
		Rite:           org.DefaultRite,
		Enabled:        e.Enabled,
	}
}

// MaterializeAll materializes every organization. One organization's
// failure is logged and recorded in its summary; the rest still run.
func (s *Service) MaterializeAll(ctx context.Context) ([]Summary, error) {
	orgs, err := s.store.ListOrganizations(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("materialize all: %w", err)
	}

	out := make([]Summary, 0, len(orgs))
	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := s.MaterializeOrganization(ctx, org.ID)
		if err != nil {
			sum.Error = err.Error()
			appLog.Error("materialize: organization failed", err, "org", org.ID, "name", org.Name)
		}
		out = append(out, sum)
	}
	return out, nil
}

// CleanupResult reports a retention sweep.
type CleanupResult struct {
	EventsDeleted  int64 `json:"events_deleted"`
	EntriesDeleted int64 `json:"entries_deleted"`
}

// Cleanup deletes events outside the window and imported entries dated
// more than RetentionWeeks before the window start.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	w := s.Window()
	cutoff := w.Start.AddDate(0, 0, -7*s.cfg.RetentionWeeks).Format(model.DateLayout)

	var res CleanupResult
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		if res.EventsDeleted, err = q.DeleteEventsOutside(ctx, w.StartDate(), w.EndDate()); err != nil {
			return err
		}
		res.EntriesDeleted, err = q.DeleteEntriesBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("cleanup: %w", err)
	}
	appLog.Info("cleanup done", "events", res.EventsDeleted, "entries", res.EntriesDeleted, "entry_cutoff", cutoff)
	return res, nil
}
