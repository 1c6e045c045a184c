package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minyancal/internal/materialize"
	"minyancal/internal/model"
)

type fakePipeline struct {
	mu      sync.Mutex
	calls   []string
	block   chan struct{}
	started chan struct{}
	panics  bool
	impErr  error
	orgs    map[int64]model.Organization
}

func (f *fakePipeline) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePipeline) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePipeline) ImportAll(ctx context.Context) ([]model.ImportResult, error) {
	f.record("import-all")
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("boom")
	}
	return []model.ImportResult{{OrganizationID: 1, Success: true}}, nil
}

func (f *fakePipeline) ImportOrganization(ctx context.Context, org model.Organization) (model.ImportResult, error) {
	f.record("import-org")
	return model.ImportResult{OrganizationID: org.ID, Success: f.impErr == nil}, f.impErr
}

func (f *fakePipeline) MaterializeAll(ctx context.Context) ([]materialize.Summary, error) {
	f.record("materialize-all")
	return []materialize.Summary{{OrganizationID: 1}}, nil
}

func (f *fakePipeline) MaterializeOrganization(ctx context.Context, orgID int64) (materialize.Summary, error) {
	f.record("materialize-org")
	return materialize.Summary{OrganizationID: orgID}, nil
}

func (f *fakePipeline) GetOrganization(ctx context.Context, id int64) (model.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return model.Organization{}, errors.New("not found")
	}
	return org, nil
}

func newScheduler(t *testing.T, f *fakePipeline, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg, f, f, f)
	require.NoError(t, err)
	return s
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(Config{Spec: "every tuesday"}, &fakePipeline{}, &fakePipeline{}, &fakePipeline{})
	assert.Error(t, err)
}

func TestRunNow_ImportsThenMaterializes(t *testing.T) {
	f := &fakePipeline{}
	s := newScheduler(t, f, Config{})

	rep, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"import-all", "materialize-all"}, f.Calls())
	assert.Equal(t, "manual", rep.Trigger)
	assert.Len(t, rep.Imports, 1)
	assert.Len(t, rep.Materialized, 1)
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))

	require.NotNil(t, s.Last())
	assert.Equal(t, "manual", s.Last().Trigger)
}

func TestRunNow_OverlappingRunIsRejected(t *testing.T) {
	f := &fakePipeline{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newScheduler(t, f, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background())
		done <- err
	}()
	<-f.started

	_, err := s.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.RunOrganization(context.Background(), 1)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.block)
	require.NoError(t, <-done)
}

func TestRunNow_RecoversPanic(t *testing.T) {
	f := &fakePipeline{panics: true}
	s := newScheduler(t, f, Config{})

	rep, err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Contains(t, rep.Error, "boom")

	// The lock was released.
	f.panics = false
	_, err = s.RunNow(context.Background())
	assert.NoError(t, err)
}

func TestRunOrganization(t *testing.T) {
	f := &fakePipeline{
		impErr: errors.New("ingest: every strategy returned no entries"),
		orgs: map[int64]model.Organization{
			1: {ID: 1, CalendarURL: "https://example.org/cal"},
			2: {ID: 2},
		},
	}
	s := newScheduler(t, f, Config{})

	rep, err := s.RunOrganization(context.Background(), 1)
	require.NoError(t, err, "import failures do not block materialization")
	assert.Equal(t, []string{"import-org", "materialize-org"}, f.Calls())
	require.Len(t, rep.Imports, 1)
	assert.False(t, rep.Imports[0].Success)

	_, err = s.RunOrganization(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"import-org", "materialize-org", "materialize-org"}, f.Calls(), "no feed, no import")

	_, err = s.RunOrganization(context.Background(), 3)
	assert.Error(t, err)
}

func TestStart_RunsOnStartup(t *testing.T) {
	f := &fakePipeline{started: make(chan struct{}, 1)}
	s := newScheduler(t, f, Config{RunOnStartup: true, Location: time.UTC})

	s.Start(context.Background())
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("startup run did not begin")
	}
	s.Stop()

	assert.Equal(t, []string{"import-all", "materialize-all"}, f.Calls())
	require.NotNil(t, s.Last())
	assert.Equal(t, "startup", s.Last().Trigger)
	assert.False(t, s.Next().IsZero())
}
