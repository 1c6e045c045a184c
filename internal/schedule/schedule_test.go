package schedule

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minyancal/internal/model"
	"minyancal/internal/store"
	"minyancal/internal/testutil"
)

var (
	ny, _ = time.LoadLocation("America/New_York")
	now   = time.Date(2026, time.October, 16, 9, 0, 0, 0, ny)
)

func newService(t *testing.T) (*Service, *store.Store, model.Organization) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "schedule.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org := model.Organization{Name: "Young Israel", Slug: "yi", Enabled: true}
	org.ID, err = st.CreateOrganization(context.Background(), org)
	require.NoError(t, err)

	svc := New(st, Config{Location: ny, PastWeeks: 2, FutureWeeks: 1, Now: testutil.Clock(now)})
	return svc, st, org
}

func addEvent(t *testing.T, st *store.Store, orgID int64, date, start string, src model.Source, ref string, enabled bool) {
	t.Helper()
	_, err := st.InsertEvent(context.Background(), model.CalendarEvent{
		OrganizationID: orgID, Date: date, ServiceType: model.Mincha, StartTime: start,
		Source: src, SourceRef: ref, Enabled: enabled,
	})
	require.NoError(t, err)
}

func TestMerge_DayLevelPrecedence(t *testing.T) {
	rows := []model.CalendarEvent{
		{Date: "2026-10-18", StartTime: "13:45", Source: model.SourceImport, Enabled: true},
		{Date: "2026-10-18", StartTime: "18:30", Source: model.SourceRule, Enabled: true},
		{Date: "2026-10-19", StartTime: "13:45", Source: model.SourceImport, Enabled: false},
		{Date: "2026-10-19", StartTime: "18:30", Source: model.SourceRule, Enabled: true},
		{Date: "2026-10-20", StartTime: "18:30", Source: model.SourceRule, Enabled: true},
		{Date: "2026-10-20", StartTime: "21:00", Source: model.SourceManual, Enabled: true},
	}

	got := Merge(rows)
	require.Len(t, got, 4)
	assert.Equal(t, model.SourceImport, got[0].Source)
	assert.Equal(t, "2026-10-19", got[1].Date, "a disabled import does not hide rules")
	assert.Equal(t, model.SourceRule, got[1].Source)
	assert.Equal(t, model.SourceRule, got[2].Source)
	assert.Equal(t, model.SourceManual, got[3].Source)
}

func TestEffective(t *testing.T) {
	ctx := context.Background()
	svc, st, org := newService(t)

	addEvent(t, st, org.ID, "2026-10-18", "18:30", model.SourceRule, "rule-1", true)
	addEvent(t, st, org.ID, "2026-10-18", "13:45", model.SourceImport, "import-1", true)
	addEvent(t, st, org.ID, "2026-10-19", "18:30", model.SourceRule, "rule-1", true)
	addEvent(t, st, org.ID, "2026-10-19", "07:00", model.SourceRule, "rule-2", true)

	got, err := svc.Effective(ctx, org.ID, testutil.Date(2026, time.October, 18, ny), testutil.Date(2026, time.October, 19, ny))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "import-1", got[0].SourceRef)
	assert.Equal(t, "07:00", got[1].StartTime)
	assert.Equal(t, "18:30", got[2].StartTime)

	admin, err := svc.Admin(ctx, org.ID, testutil.Date(2026, time.October, 18, ny), testutil.Date(2026, time.October, 19, ny))
	require.NoError(t, err)
	assert.Len(t, admin, 4)
}

func TestEffective_OutsideWindowIsEmpty(t *testing.T) {
	ctx := context.Background()
	svc, st, org := newService(t)
	addEvent(t, st, org.ID, "2026-09-01", "18:30", model.SourceRule, "rule-1", true)

	got, err := svc.Effective(ctx, org.ID, testutil.Date(2026, time.September, 1, ny), testutil.Date(2026, time.September, 2, ny))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	admin, err := svc.Admin(ctx, org.ID, testutil.Date(2026, time.September, 1, ny), testutil.Date(2026, time.September, 2, ny))
	require.NoError(t, err)
	assert.Len(t, admin, 1, "the admin view is not clamped")
}

func TestICS(t *testing.T) {
	ctx := context.Background()
	svc, st, org := newService(t)
	_, err := st.InsertEvent(ctx, model.CalendarEvent{
		OrganizationID: org.ID, Date: "2026-10-18", ServiceType: model.MinchaMaariv, StartTime: "18:30",
		Source: model.SourceRule, SourceRef: "rule-4", LocationName: "Main Sanctuary",
		Notes: "Followed by Maariv", Rite: "Sefard", DynamicDisplay: "15 min before Sunset", Enabled: true,
	})
	require.NoError(t, err)

	body, err := svc.ICS(ctx, org, testutil.Date(2026, time.October, 1, ny), testutil.Date(2026, time.October, 31, ny))
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.HasPrefix(text, "BEGIN:VCALENDAR"))
	assert.Contains(t, text, "BEGIN:VEVENT")
	assert.Contains(t, text, "UID:rule-4-2026-10-18@yi.minyancal")
	assert.Contains(t, text, "SUMMARY:Mincha/Maariv (Sefard)")
	// 18:30 EDT is 22:30 UTC.
	assert.Contains(t, text, "DTSTART:20261018T223000Z")
	assert.Contains(t, text, "LOCATION:Main Sanctuary")
	assert.Equal(t, 1, strings.Count(text, "BEGIN:VEVENT"))
}
