// Package seed loads organizations, their locations and their recurring
// rules from a YAML file into the store.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	appLog "minyancal/internal/log"
	"minyancal/internal/model"
	"minyancal/internal/store"
)

// File is the top-level seed document.
type File struct {
	Organizations []Organization `yaml:"organizations" validate:"dive"`
}

// Organization is one organization with everything it owns.
type Organization struct {
	Name        string   `yaml:"name" validate:"required"`
	Slug        string   `yaml:"slug" validate:"required,lowercase"`
	CalendarURL string   `yaml:"calendar_url" validate:"omitempty,url"`
	ICSURL      string   `yaml:"ics_url" validate:"omitempty,url"`
	DefaultRite string   `yaml:"default_rite"`
	Disabled    bool     `yaml:"disabled"`
	Locations   []string `yaml:"locations"`
	Rules       []Rule   `yaml:"rules" validate:"dive"`
}

// Rule is a recurring rule. Weekdays maps a day name ("sunday" or "sun")
// to its time.
type Rule struct {
	ServiceType         model.ServiceType              `yaml:"service_type" validate:"required"`
	Location            string                         `yaml:"location" validate:"required"`
	Rite                string                         `yaml:"rite"`
	Notes               string                         `yaml:"notes"`
	Disabled            bool                           `yaml:"disabled"`
	Weekdays            map[string]*model.ScheduleTime `yaml:"weekdays"`
	RoshChodesh         *model.ScheduleTime            `yaml:"rosh_chodesh"`
	Festival            *model.ScheduleTime            `yaml:"festival"`
	Chanukah            *model.ScheduleTime            `yaml:"chanukah"`
	RoshChodeshChanukah *model.ScheduleTime            `yaml:"rosh_chodesh_chanukah"`
}

// Result counts what Apply wrote.
type Result struct {
	Organizations int
	Locations     int
	Rules         int
	RulesReplaced int
}

// Load parses and validates a seed file.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and validates a seed document. Unknown keys are errors.
func Decode(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	for _, org := range file.Organizations {
		for i, rule := range org.Rules {
			if _, err := rule.schedule(); err != nil {
				return nil, fmt.Errorf("seed: %s rule %d: %w", org.Slug, i+1, err)
			}
		}
	}
	return &file, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func (r Rule) schedule() (model.Schedule, error) {
	var s model.Schedule
	for name, st := range r.Weekdays {
		wd, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return s, fmt.Errorf("unknown weekday %q", name)
		}
		s.Weekdays[wd] = st
	}
	s.RoshChodesh = r.RoshChodesh
	s.Festival = r.Festival
	s.Chanukah = r.Chanukah
	s.RoshChodeshChanukah = r.RoshChodeshChanukah
	return s, s.Validate()
}

// Apply writes the file in one transaction. Organizations are upserted by
// slug and locations by name. Each seeded organization's rules are replaced
// by the file's rules; the next materialization regenerates its events.
func Apply(ctx context.Context, st *store.Store, file *File) (Result, error) {
	var res Result
	err := st.InTx(ctx, func(q *store.Queries) error {
		for _, o := range file.Organizations {
			orgID, err := q.UpsertOrganization(ctx, model.Organization{
				Name:        o.Name,
				Slug:        o.Slug,
				CalendarURL: o.CalendarURL,
				ICSURL:      o.ICSURL,
				DefaultRite: o.DefaultRite,
				Enabled:     !o.Disabled,
			})
			if err != nil {
				return err
			}
			res.Organizations++

			locations := make(map[string]int64)
			ensure := func(name string) (int64, error) {
				if id, ok := locations[name]; ok {
					return id, nil
				}
				id, err := q.EnsureLocation(ctx, orgID, name)
				if err != nil {
					return 0, err
				}
				locations[name] = id
				res.Locations++
				return id, nil
			}
			for _, name := range o.Locations {
				if _, err := ensure(name); err != nil {
					return err
				}
			}

			existing, err := q.ListRules(ctx, orgID, false)
			if err != nil {
				return err
			}
			for _, r := range existing {
				if err := q.DeleteRule(ctx, r.ID); err != nil {
					return err
				}
				res.RulesReplaced++
			}

			for _, r := range o.Rules {
				sched, err := r.schedule()
				if err != nil {
					return fmt.Errorf("%s: %w", o.Slug, err)
				}
				rule := model.RecurringRule{
					OrganizationID: orgID,
					ServiceType:    r.ServiceType,
					Schedule:       sched,
					Enabled:        !r.Disabled,
					Notes:          r.Notes,
					Rite:           r.Rite,
				}
				if rule.LocationID, err = ensure(r.Location); err != nil {
					return err
				}
				if _, err := q.SaveRule(ctx, rule); err != nil {
					return fmt.Errorf("%s: %w", o.Slug, err)
				}
				res.Rules++
			}
			appLog.Info("organization seeded", "slug", o.Slug, "id", orgID, "rules", len(o.Rules))
		}
		return nil
	})
	return res, err
}
