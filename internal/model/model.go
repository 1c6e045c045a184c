package model

import (
	"fmt"
	"strings"
	"time"
)

// ServiceType is the closed set of prayer-service kinds. NonService marks
// imported entries that the classifier rejected.
type ServiceType string

const (
	Shacharis    ServiceType = "shacharis"
	Mincha       ServiceType = "mincha"
	Maariv       ServiceType = "maariv"
	MinchaMaariv ServiceType = "mincha_maariv"
	Selichos     ServiceType = "selichos"
	Megillah     ServiceType = "megillah"
	Other        ServiceType = "other"
	NonService   ServiceType = "non_service"
)

// IsService reports whether t is one of the service kinds.
func (t ServiceType) IsService() bool {
	switch t {
	case Shacharis, Mincha, Maariv, MinchaMaariv, Selichos, Megillah, Other:
		return true
	}
	return false
}

var serviceLabels = map[ServiceType]string{
	Shacharis:    "Shacharis",
	Mincha:       "Mincha",
	Maariv:       "Maariv",
	MinchaMaariv: "Mincha/Maariv",
	Selichos:     "Selichos",
	Megillah:     "Megillah Reading",
	Other:        "Minyan",
	NonService:   "Not a service",
}

// Label is the display name.
func (t ServiceType) Label() string {
	if l, ok := serviceLabels[t]; ok {
		return l
	}
	return string(t)
}

// Source is the provenance of a materialized CalendarEvent.
type Source string

const (
	SourceRule   Source = "rule"
	SourceImport Source = "import"
	// SourceManual is reserved for hand-entered overrides.
	SourceManual Source = "manual"
)

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses the canonical "15:04" form.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ClockOf returns the wall-clock time of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute()}
}

// String renders the canonical "15:04" form.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Display renders "3:04 PM".
func (c Clock) Display() string {
	return c.On(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)).Format("3:04 PM")
}

// On places the clock time on the calendar day of d, in d's location.
func (c Clock) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, d.Location())
}

// Before reports whether c is earlier in the day than o.
func (c Clock) Before(o Clock) bool {
	return c.Hour*60+c.Minute < o.Hour*60+o.Minute
}

// Organization owns rules, imported entries and materialized events.
type Organization struct {
	ID          int64  `db:"id" json:"id" yaml:"id"`
	Name        string `db:"name" json:"name" yaml:"name"`
	Slug        string `db:"slug" json:"slug" yaml:"slug"`
	CalendarURL string `db:"calendar_url" json:"calendar_url" yaml:"calendar_url"`
	ICSURL      string `db:"ics_url" json:"ics_url,omitempty" yaml:"ics_url,omitempty"`
	DefaultRite string `db:"default_rite" json:"default_rite" yaml:"default_rite"`
	Enabled     bool   `db:"enabled" json:"enabled" yaml:"enabled"`
}

// HasFeed reports whether the organization has any external calendar configured.
func (o Organization) HasFeed() bool {
	return o.CalendarURL != "" || o.ICSURL != ""
}

// Location is a room or building belonging to an organization.
type Location struct {
	ID             int64  `db:"id" json:"id"`
	OrganizationID int64  `db:"organization_id" json:"organization_id"`
	Name           string `db:"name" json:"name"`
}

// ImportedEntry is one row of an organization's external feed, keyed by
// fingerprint.
type ImportedEntry struct {
	ID             int64       `db:"id" json:"id"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	Date           string      `db:"date" json:"date"`
	TimeText       string      `db:"time_text" json:"time_text"`
	StartTime      string      `db:"start_time" json:"start_time"`
	EndTime        string      `db:"end_time" json:"end_time,omitempty"`
	Title          string      `db:"title" json:"title"`
	Type           string      `db:"type" json:"type,omitempty"`
	Location       string      `db:"location" json:"location,omitempty"`
	Description    string      `db:"description" json:"description,omitempty"`
	RawText        string      `db:"raw_text" json:"raw_text,omitempty"`
	SourceURL      string      `db:"source_url" json:"source_url,omitempty"`
	Fingerprint    string      `db:"fingerprint" json:"fingerprint"`
	ServiceType    ServiceType `db:"service_type" json:"service_type"`
	Note           string      `db:"note" json:"note,omitempty"`
	Enabled        bool        `db:"enabled" json:"enabled"`
	DisabledReason string      `db:"disabled_reason" json:"disabled_reason,omitempty"`
	ScrapedAt      time.Time   `db:"scraped_at" json:"scraped_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// SourceRef is the deterministic back-reference stored on its CalendarEvent.
func (e ImportedEntry) SourceRef() string {
	return ImportRef(e.ID)
}

// ImportRef builds the "import-<id>" back-reference.
func ImportRef(id int64) string {
	return fmt.Sprintf("import-%d", id)
}

// RuleRef builds the "rule-<id>" back-reference.
func RuleRef(id int64) string {
	return fmt.Sprintf("rule-%d", id)
}

// CalendarEvent is one materialized service occurrence.
type CalendarEvent struct {
	ID             string      `db:"id" json:"id"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	Date           string      `db:"date" json:"date"`
	ServiceType    ServiceType `db:"service_type" json:"service_type"`
	StartTime      string      `db:"start_time" json:"start_time"`
	Source         Source      `db:"source" json:"source"`
	SourceRef      string      `db:"source_ref" json:"source_ref"`
	LocationName   string      `db:"location_name" json:"location_name,omitempty"`
	Notes          string      `db:"notes" json:"notes,omitempty"`
	Rite           string      `db:"rite" json:"rite,omitempty"`
	DynamicDisplay string      `db:"dynamic_display" json:"dynamic_display,omitempty"`
	Enabled        bool        `db:"enabled" json:"enabled"`
	ManuallyEdited bool        `db:"manually_edited" json:"manually_edited"`
	EditedBy       string      `db:"edited_by" json:"edited_by,omitempty"`
	EditedAt       *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// RawEntry is an unclassified row produced by an ingestion strategy.
type RawEntry struct {
	Date        time.Time
	TimeText    string
	EndText     string
	Title       string
	Type        string
	Location    string
	Description string
	RawText     string
	SourceURL   string
}

// ImportResult is the per-organization outcome of one import run.
type ImportResult struct {
	ID               int64     `db:"id" json:"id"`
	OrganizationID   int64     `db:"organization_id" json:"organization_id"`
	OrganizationName string    `db:"organization_name" json:"organization_name"`
	Strategy         string    `db:"strategy" json:"strategy,omitempty"`
	New              int       `db:"new_count" json:"new"`
	Updated          int       `db:"updated_count" json:"updated"`
	Skipped          int       `db:"skipped_count" json:"skipped"`
	Disabled         int       `db:"disabled_count" json:"disabled"`
	Success          bool      `db:"success" json:"success"`
	Error            string    `db:"error" json:"error,omitempty"`
	StartedAt        time.Time `db:"started_at" json:"started_at"`
	FinishedAt       time.Time `db:"finished_at" json:"finished_at"`
}
