package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"minyancal/internal/config"
	"minyancal/internal/ingest"
	"minyancal/internal/materialize"
	"minyancal/internal/model"
	"minyancal/internal/schedule"
	"minyancal/internal/scheduler"
	"minyancal/internal/store"
	"minyancal/internal/testutil"
)

var (
	ny, _ = time.LoadLocation("America/New_York")
	now   = time.Date(2026, time.October, 16, 9, 0, 0, 0, ny)
)

type fakeRunner struct {
	busy bool
	orgs []int64
}

func (f *fakeRunner) RunNow(ctx context.Context) (scheduler.Report, error) {
	if f.busy {
		return scheduler.Report{}, scheduler.ErrBusy
	}
	return scheduler.Report{Trigger: "manual"}, nil
}

func (f *fakeRunner) RunOrganization(ctx context.Context, orgID int64) (scheduler.Report, error) {
	if f.busy {
		return scheduler.Report{}, scheduler.ErrBusy
	}
	f.orgs = append(f.orgs, orgID)
	return scheduler.Report{Trigger: "organization"}, nil
}

type fakeMaterializer struct{}

func (fakeMaterializer) MaterializeOrganization(ctx context.Context, orgID int64) (materialize.Summary, error) {
	return materialize.Summary{OrganizationID: orgID, RuleInserted: 3}, nil
}

type fixture struct {
	srv    *Server
	st     *store.Store
	runner *fakeRunner
	state  *ingest.StickyState
	org    model.Organization
}

func newFixture(t *testing.T, withAuth bool) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org := model.Organization{Name: "Young Israel", Slug: "yi", Enabled: true}
	org.ID, err = st.CreateOrganization(ctx, org)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	if withAuth {
		hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
		require.NoError(t, err)
		cfg.BasicAuth = &config.BasicAuthConfig{Username: "gabbai", PasswordHash: string(hash)}
	}

	f := &fixture{st: st, runner: &fakeRunner{}, state: ingest.NewStickyState(), org: org}
	f.srv = NewServer(cfg, Deps{
		Store:        st,
		Schedule:     schedule.New(st, schedule.Config{Location: ny, PastWeeks: 2, FutureWeeks: 1, Now: testutil.Clock(now)}),
		Runner:       f.runner,
		Materializer: fakeMaterializer{},
		Strategies:   f.state,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth {
		req.SetBasicAuth("gabbai", "s3cret")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) addEvent(t *testing.T, date, start string, src model.Source, ref string) string {
	t.Helper()
	id, err := f.st.InsertEvent(context.Background(), model.CalendarEvent{
		OrganizationID: f.org.ID, Date: date, ServiceType: model.Mincha, StartTime: start,
		Source: src, SourceRef: ref, Enabled: true,
	})
	require.NoError(t, err)
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestOrganizations(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/orgs", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var orgs []model.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orgs))
	require.Len(t, orgs, 1)
	assert.Equal(t, "yi", orgs[0].Slug)
}

func TestEvents_Effective(t *testing.T) {
	f := newFixture(t, false)
	f.addEvent(t, "2026-10-18", "18:30", model.SourceRule, "rule-1")
	f.addEvent(t, "2026-10-18", "13:45", model.SourceImport, "import-1")
	f.addEvent(t, "2026-10-19", "18:30", model.SourceRule, "rule-1")

	rec := f.do(t, http.MethodGet, "/api/orgs/1/events?from=2026-10-18&to=2026-10-19", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		From   string            `json:"from"`
		To     string            `json:"to"`
		Window map[string]string `json:"window"`
		Events []struct {
			SourceRef   string `json:"source_ref"`
			Label       string `json:"label"`
			DisplayTime string `json:"display_time"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-10-18", resp.From)
	assert.Equal(t, "2026-10-02", resp.Window["start"])
	require.Len(t, resp.Events, 2, "the import hides the rule row on the 18th")
	assert.Equal(t, "import-1", resp.Events[0].SourceRef)
	assert.Equal(t, "1:45 PM", resp.Events[0].DisplayTime)
	assert.Equal(t, "Mincha", resp.Events[0].Label)
	assert.Equal(t, "rule-1", resp.Events[1].SourceRef)
}

func TestEvents_BadRequests(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/orgs/1/events?from=10/18/2026", "", false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/orgs/1/events?from=2026-10-19&to=2026-10-18", "", false).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/orgs/99/events", "", false).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/orgs/abc/events", "", false).Code)
}

func TestICS(t *testing.T) {
	f := newFixture(t, false)
	f.addEvent(t, "2026-10-18", "18:30", model.SourceRule, "rule-1")

	rec := f.do(t, http.MethodGet, "/api/orgs/1/calendar.ics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rec.Body.String(), "UID:rule-1-2026-10-18@yi.minyancal")
}

func TestAdmin_RequiresAuth(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/api/admin/import-runs", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/admin/import-runs", nil)
	req.SetBasicAuth("gabbai", "wrong")
	bad := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	ok := f.do(t, http.MethodGet, "/api/admin/import-runs", "", true)
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.JSONEq(t, "[]", ok.Body.String())

	// Public routes stay open.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/orgs", "", false).Code)
}

func TestAdmin_DisabledWithoutCredentials(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/admin/import-runs", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_EventsIncludeHiddenRows(t *testing.T) {
	f := newFixture(t, true)
	f.addEvent(t, "2026-10-18", "18:30", model.SourceRule, "rule-1")
	f.addEvent(t, "2026-10-18", "13:45", model.SourceImport, "import-1")

	rec := f.do(t, http.MethodGet, "/api/admin/orgs/1/events?from=2026-10-18&to=2026-10-18", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 2)
}

func TestAdmin_EditEvent(t *testing.T) {
	f := newFixture(t, true)
	id := f.addEvent(t, "2026-10-18", "18:30", model.SourceImport, "import-1")

	rec := f.do(t, http.MethodPatch, "/api/admin/events/"+id, `{"start_time":"18:40","notes":"Guest speaker"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	ev, err := f.st.GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "18:40", ev.StartTime)
	assert.Equal(t, "Guest speaker", ev.Notes)
	assert.True(t, ev.ManuallyEdited)
	assert.Equal(t, "gabbai", ev.EditedBy)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, "/api/admin/events/"+id, `{"start_time":"late"}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, "/api/admin/events/"+id, `not json`, true).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/api/admin/events/missing", `{"notes":"x"}`, true).Code)
}

func TestAdmin_Triggers(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/api/admin/orgs/1/import", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{1}, f.runner.orgs)

	rec = f.do(t, http.MethodPost, "/api/admin/orgs/1/materialize", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum materialize.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.RuleInserted)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/admin/run", "", true).Code)

	f.runner.busy = true
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/admin/orgs/1/import", "", true).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/admin/run", "", true).Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/admin/orgs/42/import", "", true).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/admin/orgs/1/import", "", true).Code)
}

func TestAdmin_Strategies(t *testing.T) {
	f := newFixture(t, true)
	f.state.Mark("rendered", assert.AnError)
	f.state.Mark("ics", assert.AnError)

	rec := f.do(t, http.MethodGet, "/api/admin/strategies", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rendered")

	rec = f.do(t, http.MethodPost, "/api/admin/strategies/reset", `{"strategies":["ics"]}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":["ics"]}`, rec.Body.String())
	assert.True(t, f.state.Disabled("rendered"))

	rec = f.do(t, http.MethodPost, "/api/admin/strategies/reset", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":["rendered"]}`, rec.Body.String())
	assert.False(t, f.state.Disabled("rendered"))
}
