package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Zman names a solar or prayer-deadline instant of a day.
type Zman string

const (
	Alos          Zman = "alos"
	Sunrise       Zman = "sunrise"
	SofZmanShma   Zman = "sof_zman_shma"
	SofZmanTefila Zman = "sof_zman_tefila"
	Chatzos       Zman = "chatzos"
	MinchaGedola  Zman = "mincha_gedola"
	MinchaKetana  Zman = "mincha_ketana"
	PlagHamincha  Zman = "plag"
	Sunset        Zman = "sunset"
	Tzais         Zman = "tzais"
)

var zmanLabels = map[Zman]string{
	Alos:          "Alos",
	Sunrise:       "Sunrise",
	SofZmanShma:   "Sof Zman Shma",
	SofZmanTefila: "Sof Zman Tefila",
	Chatzos:       "Chatzos",
	MinchaGedola:  "Mincha Gedola",
	MinchaKetana:  "Mincha Ketana",
	PlagHamincha:  "Plag Hamincha",
	Sunset:        "Sunset",
	Tzais:         "Tzais",
}

// Label is the human-readable name.
func (z Zman) Label() string {
	if l, ok := zmanLabels[z]; ok {
		return l
	}
	return string(z)
}

// Valid reports whether z is a known instant.
func (z Zman) Valid() bool {
	_, ok := zmanLabels[z]
	return ok
}

// ScheduleTime is either a fixed clock time or an offset from a Zman.
// Exactly one of Fixed and Ref is set.
type ScheduleTime struct {
	Fixed string `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	Ref   Zman   `json:"ref,omitempty" yaml:"ref,omitempty"`
	// Offset is minutes relative to Ref; negative is before.
	Offset int `json:"offset,omitempty" yaml:"offset,omitempty"`
	// Round floors the resolved time to a multiple of this many minutes.
	Round int `json:"round,omitempty" yaml:"round,omitempty"`
}

// IsDynamic reports whether the time depends on the solar lookup.
func (s ScheduleTime) IsDynamic() bool {
	return s.Ref != ""
}

// Validate checks that exactly one form is used.
func (s ScheduleTime) Validate() error {
	switch {
	case s.Fixed != "" && s.Ref != "":
		return errors.New("schedule time: both fixed and ref set")
	case s.Fixed != "":
		_, err := ParseClock(s.Fixed)
		return err
	case s.Ref != "":
		if !s.Ref.Valid() {
			return fmt.Errorf("schedule time: unknown zman %q", s.Ref)
		}
		if s.Round < 0 {
			return errors.New("schedule time: negative rounding")
		}
		return nil
	default:
		return errors.New("schedule time: empty")
	}
}

// Display renders dynamic times as e.g. "15 min before Sunset". Fixed times
// have no display string.
func (s ScheduleTime) Display() string {
	if !s.IsDynamic() {
		return ""
	}
	switch {
	case s.Offset < 0:
		return fmt.Sprintf("%d min before %s", -s.Offset, s.Ref.Label())
	case s.Offset > 0:
		return fmt.Sprintf("%d min after %s", s.Offset, s.Ref.Label())
	default:
		return s.Ref.Label()
	}
}

// DayCategory is which schedule slot a calendar date uses.
type DayCategory string

const (
	CategoryWeekday             DayCategory = "weekday"
	CategoryFestival            DayCategory = "festival"
	CategoryChanukah            DayCategory = "chanukah"
	CategoryRoshChodesh         DayCategory = "rosh_chodesh"
	CategoryRoshChodeshChanukah DayCategory = "rosh_chodesh_chanukah"
)

// DayInfo describes the special-day flags of one date.
type DayInfo struct {
	Date        time.Time
	RoshChodesh bool
	Chanukah    bool
	Festival    bool
}

// Categories lists the applicable categories from highest to lowest
// precedence, always ending with CategoryWeekday.
func (d DayInfo) Categories() []DayCategory {
	out := make([]DayCategory, 0, 4)
	if d.RoshChodesh && d.Chanukah {
		out = append(out, CategoryRoshChodeshChanukah)
	}
	if d.RoshChodesh {
		out = append(out, CategoryRoshChodesh)
	}
	if d.Chanukah {
		out = append(out, CategoryChanukah)
	}
	if d.Festival {
		out = append(out, CategoryFestival)
	}
	return append(out, CategoryWeekday)
}

// Schedule holds one optional time per weekday (index time.Sunday..Saturday)
// plus the special-day overrides.
type Schedule struct {
	Weekdays            [7]*ScheduleTime `json:"weekdays" yaml:"weekdays"`
	RoshChodesh         *ScheduleTime    `json:"rosh_chodesh,omitempty" yaml:"rosh_chodesh,omitempty"`
	Festival            *ScheduleTime    `json:"festival,omitempty" yaml:"festival,omitempty"`
	Chanukah            *ScheduleTime    `json:"chanukah,omitempty" yaml:"chanukah,omitempty"`
	RoshChodeshChanukah *ScheduleTime    `json:"rosh_chodesh_chanukah,omitempty" yaml:"rosh_chodesh_chanukah,omitempty"`
}

// slot returns the configured time for one category on the given weekday.
func (s Schedule) slot(c DayCategory, wd time.Weekday) *ScheduleTime {
	switch c {
	case CategoryRoshChodeshChanukah:
		return s.RoshChodeshChanukah
	case CategoryRoshChodesh:
		return s.RoshChodesh
	case CategoryChanukah:
		return s.Chanukah
	case CategoryFestival:
		return s.Festival
	default:
		return s.Weekdays[wd]
	}
}

// For picks the schedule time for a date. A category the rule leaves empty
// falls through to the next one; nil means the rule does not run that day.
func (s Schedule) For(day DayInfo) (*ScheduleTime, DayCategory) {
	for _, c := range day.Categories() {
		if st := s.slot(c, day.Date.Weekday()); st != nil {
			return st, c
		}
	}
	return nil, ""
}

// Validate checks every configured slot.
func (s Schedule) Validate() error {
	for i, st := range s.Weekdays {
		if st == nil {
			continue
		}
		if err := st.Validate(); err != nil {
			return fmt.Errorf("%s: %w", time.Weekday(i), err)
		}
	}
	for name, st := range map[string]*ScheduleTime{
		"rosh_chodesh":          s.RoshChodesh,
		"festival":              s.Festival,
		"chanukah":              s.Chanukah,
		"rosh_chodesh_chanukah": s.RoshChodeshChanukah,
	} {
		if st == nil {
			continue
		}
		if err := st.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Value stores the schedule as JSON.
func (s Schedule) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan loads the schedule from a JSON column.
func (s *Schedule) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*s = Schedule{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("schedule: unsupported column type %T", src)
	}
	return json.Unmarshal(b, s)
}

// RecurringRule is an administrator-authored minyan.
type RecurringRule struct {
	ID             int64       `db:"id" json:"id"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	LocationID     int64       `db:"location_id" json:"location_id"`
	LocationName   string      `db:"location_name" json:"location_name,omitempty"`
	ServiceType    ServiceType `db:"service_type" json:"service_type"`
	Schedule       Schedule    `db:"schedule" json:"schedule"`
	Enabled        bool        `db:"enabled" json:"enabled"`
	Notes          string      `db:"notes" json:"notes,omitempty"`
	Rite           string      `db:"rite" json:"rite,omitempty"`
}
