package materialize

import (
	"context"
	"path/filepath"
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
	// Friday; with two past weeks and one future week the window is
	// 2026-10-02 through 2026-10-23.
	now = time.Date(2026, time.October, 16, 9, 0, 0, 0, ny)
)

type fakeDays map[string]model.DayInfo

func (f fakeDays) DayInfo(t time.Time) model.DayInfo {
	info := f[t.Format(model.DateLayout)]
	info.Date = t
	return info
}

type fixture struct {
	svc   *Service
	store *store.Store
	org   model.Organization
	locID int64
}

func newFixture(t *testing.T, days DayInfoer) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "mat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org := model.Organization{Name: "Shul", Slug: "shul", DefaultRite: "Ashkenaz", Enabled: true}
	org.ID, err = st.CreateOrganization(ctx, org)
	require.NoError(t, err)
	locID, err := st.EnsureLocation(ctx, org.ID, "Main Sanctuary")
	require.NoError(t, err)

	svc := New(st, testutil.FixedZmanim{Location: ny}, days, Config{
		Location:       ny,
		PastWeeks:      2,
		FutureWeeks:    1,
		RetentionWeeks: 4,
		Now:            testutil.Clock(now),
	})
	return &fixture{svc: svc, store: st, org: org, locID: locID}
}

func (f *fixture) addRule(t *testing.T, typ model.ServiceType, sched model.Schedule, rite string) int64 {
	t.Helper()
	id, err := f.store.SaveRule(context.Background(), model.RecurringRule{
		OrganizationID: f.org.ID, LocationID: f.locID, ServiceType: typ,
		Schedule: sched, Enabled: true, Notes: "note", Rite: rite,
	})
	require.NoError(t, err)
	return id
}

func everyDay(st model.ScheduleTime) model.Schedule {
	var s model.Schedule
	for i := range s.Weekdays {
		v := st
		s.Weekdays[i] = &v
	}
	return s
}

func (f *fixture) events(t *testing.T, from, to string) []model.CalendarEvent {
	t.Helper()
	rows, err := f.store.ListEvents(context.Background(), f.org.ID, from, to, false)
	require.NoError(t, err)
	return rows
}

func TestMaterialize_RulesIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addRule(t, model.Shacharis, everyDay(model.ScheduleTime{Fixed: "07:00"}), "")

	var sunday model.Schedule
	sunday.Weekdays[time.Sunday] = &model.ScheduleTime{Ref: model.Sunset, Offset: -12, Round: 5}
	f.addRule(t, model.Mincha, sunday, "Sefard")

	first, err := f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-02", first.WindowStart)
	assert.Equal(t, "2026-10-23", first.WindowEnd)
	assert.Equal(t, 22+3, first.RuleInserted)
	rowsFirst := f.events(t, first.WindowStart, first.WindowEnd)

	second, err := f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), second.RuleDeleted)
	assert.Equal(t, first.RuleInserted, second.RuleInserted)
	rowsSecond := f.events(t, first.WindowStart, first.WindowEnd)

	require.Len(t, rowsSecond, len(rowsFirst))
	for i := range rowsFirst {
		a, b := rowsFirst[i], rowsSecond[i]
		assert.Equal(t, a.Date, b.Date)
		assert.Equal(t, a.StartTime, b.StartTime)
		assert.Equal(t, a.SourceRef, b.SourceRef)
		assert.NotEqual(t, a.ID, b.ID, "rule rows get fresh identities")
	}

	sun := f.events(t, "2026-10-18", "2026-10-18")
	require.Len(t, sun, 2)
	assert.Equal(t, "07:00", sun[0].StartTime)
	assert.Equal(t, "Ashkenaz", sun[0].Rite, "organization default rite")
	assert.Empty(t, sun[0].DynamicDisplay)
	// 18:45 - 12 min = 18:33, floored to 18:30.
	assert.Equal(t, "18:30", sun[1].StartTime)
	assert.Equal(t, "12 min before Sunset", sun[1].DynamicDisplay)
	assert.Equal(t, "Sefard", sun[1].Rite)
	assert.Equal(t, "Main Sanctuary", sun[1].LocationName)
}

func TestMaterialize_SpecialDayPrecedence(t *testing.T) {
	ctx := context.Background()
	days := fakeDays{
		"2026-10-05": {Festival: true},
		"2026-10-06": {RoshChodesh: true},
		"2026-10-07": {Chanukah: true, Festival: true},
		"2026-10-08": {RoshChodesh: true, Chanukah: true},
		"2026-10-09": {RoshChodesh: true, Chanukah: true},
	}
	f := newFixture(t, days)

	sched := everyDay(model.ScheduleTime{Fixed: "06:30"})
	sched.Festival = &model.ScheduleTime{Fixed: "09:00"}
	sched.RoshChodesh = &model.ScheduleTime{Fixed: "06:15"}
	sched.Chanukah = &model.ScheduleTime{Fixed: "06:20"}
	f.addRule(t, model.Shacharis, sched, "")

	// The first rule has no combined slot and falls through to New-Month.
	var onlyCombined model.Schedule
	onlyCombined.RoshChodeshChanukah = &model.ScheduleTime{Fixed: "06:00"}
	f.addRule(t, model.Shacharis, onlyCombined, "")

	_, err := f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)

	times := func(date string) []string {
		var out []string
		for _, ev := range f.events(t, date, date) {
			out = append(out, ev.StartTime)
		}
		return out
	}
	assert.Equal(t, []string{"09:00"}, times("2026-10-05"))
	assert.Equal(t, []string{"06:15"}, times("2026-10-06"))
	assert.Equal(t, []string{"06:20"}, times("2026-10-07"), "chanukah over festival")
	assert.Equal(t, []string{"06:00", "06:15"}, times("2026-10-08"))
	assert.Equal(t, []string{"06:30"}, times("2026-10-10"))
}

func TestMaterialize_ImportsCarryForward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	insert := func(fp, date, start string, typ model.ServiceType, enabled bool) int64 {
		id, err := f.store.InsertEntry(ctx, model.ImportedEntry{
			OrganizationID: f.org.ID, Date: date, TimeText: start, StartTime: start,
			Title: "Mincha", Location: "Beis Medrash", Note: "Early", Fingerprint: fp,
			ServiceType: typ, Enabled: enabled,
		})
		require.NoError(t, err)
		return id
	}
	mincha := insert("fp-1", "2026-10-18", "13:45", model.Mincha, true)
	insert("fp-2", "2026-10-18", "20:00", model.NonService, false)
	dup := insert("fp-3", "2026-10-19", "13:45", model.Mincha, false)
	insert("fp-4", "2026-09-01", "13:45", model.Mincha, true)

	sum, err := f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ImportInserted)

	sum, err = f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Zero(t, sum.ImportInserted)
	assert.Zero(t, sum.ImportUpdated)

	ev, err := f.store.GetImportEvent(ctx, f.org.ID, model.ImportRef(mincha))
	require.NoError(t, err)
	assert.Equal(t, "13:45", ev.StartTime)
	assert.Equal(t, "Beis Medrash", ev.LocationName)
	assert.Equal(t, "Early", ev.Notes)
	assert.True(t, ev.Enabled)

	dupEv, err := f.store.GetImportEvent(ctx, f.org.ID, model.ImportRef(dup))
	require.NoError(t, err)
	assert.False(t, dupEv.Enabled, "enabled flag carried forward")

	// Feed changes refresh rows that were not edited by hand.
	e, err := f.store.GetEntryByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	e.StartTime = "13:50"
	require.NoError(t, f.store.UpdateEntry(ctx, e))

	sum, err = f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ImportUpdated)
	ev, err = f.store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "13:50", ev.StartTime)

	notes := "Moved upstairs"
	_, err = f.store.EditEvent(ctx, ev.ID, store.EventEdit{Notes: &notes}, "gabbai")
	require.NoError(t, err)
	e.StartTime = "14:00"
	require.NoError(t, f.store.UpdateEntry(ctx, e))

	_, err = f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	ev, err = f.store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "13:50", ev.StartTime, "manual edits win")
	assert.Equal(t, "Moved upstairs", ev.Notes)
}

func TestMaterialize_WindowBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	for _, date := range []string{"2026-10-01", "2026-10-02", "2026-10-24"} {
		_, err := f.store.InsertEvent(ctx, model.CalendarEvent{
			OrganizationID: f.org.ID, Date: date, ServiceType: model.Maariv, StartTime: "20:00",
			Source: model.SourceManual, SourceRef: "manual-" + date, Enabled: true,
		})
		require.NoError(t, err)
	}

	sum, err := f.svc.MaterializeOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Purged)

	assert.Empty(t, f.events(t, "2026-10-01", "2026-10-01"), "today - P weeks - 1 day is purged")
	assert.Len(t, f.events(t, "2026-10-02", "2026-10-02"), 1, "today - P weeks is kept")

	res, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.EventsDeleted, "rows past the window end go on cleanup")
	assert.Empty(t, f.events(t, "2026-10-24", "2026-10-24"))
}

func TestCleanup_RetainsRecentEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	for fp, date := range map[string]string{"old": "2026-09-03", "kept": "2026-09-04"} {
		_, err := f.store.InsertEntry(ctx, model.ImportedEntry{
			OrganizationID: f.org.ID, Date: date, Title: "Maariv", Fingerprint: fp, ServiceType: model.Maariv,
		})
		require.NoError(t, err)
	}

	res, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.EntriesDeleted)
	_, err = f.store.GetEntryByFingerprint(ctx, "kept")
	assert.NoError(t, err)
}

func TestMaterializeAll_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.addRule(t, model.Maariv, everyDay(model.ScheduleTime{Ref: model.Tzais}), "")

	other, err := f.store.CreateOrganization(ctx, model.Organization{Name: "Other", Slug: "other"})
	require.NoError(t, err)

	f.svc.zmanim = nil
	sums, err := f.svc.MaterializeAll(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, 22, sums[0].Unresolved, "dynamic times need a lookup")
	assert.Equal(t, other, sums[1].OrganizationID)
	assert.Empty(t, sums[1].Error)
}

func TestResolve(t *testing.T) {
	lookup := testutil.FixedZmanim{Location: ny}
	date := testutil.Date(2026, time.October, 18, ny)

	c, err := Resolve(model.ScheduleTime{Fixed: "07:15"}, date, lookup)
	require.NoError(t, err)
	assert.Equal(t, "07:15", c.String())

	c, err = Resolve(model.ScheduleTime{Ref: model.Sunrise}, date, lookup)
	require.NoError(t, err)
	assert.Equal(t, "06:30", c.String())

	c, err = Resolve(model.ScheduleTime{Ref: model.PlagHamincha, Offset: 10, Round: 15}, date, lookup)
	require.NoError(t, err)
	assert.Equal(t, "17:30", c.String())

	_, err = Resolve(model.ScheduleTime{Ref: model.Sunset}, date, nil)
	assert.ErrorIs(t, err, ErrNoLookup)
}
