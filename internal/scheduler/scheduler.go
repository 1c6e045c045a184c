// Package scheduler triggers the import and materialization pipeline at
// startup, on a weekly cron spec and on demand. Runs never overlap and a
// failing or panicking run never takes the process down.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "minyancal/internal/log"
	"minyancal/internal/materialize"
	"minyancal/internal/model"
)

// DefaultSpec runs the pipeline Sundays at 03:00.
const DefaultSpec = "0 3 * * 0"

// ErrBusy is returned by manual triggers while another run is in progress.
var ErrBusy = errors.New("scheduler: a pipeline run is already in progress")

// Importer is the import half of the pipeline.
type Importer interface {
	ImportAll(ctx context.Context) ([]model.ImportResult, error)
	ImportOrganization(ctx context.Context, org model.Organization) (model.ImportResult, error)
}

// Materializer is the materialization half of the pipeline.
type Materializer interface {
	MaterializeAll(ctx context.Context) ([]materialize.Summary, error)
	MaterializeOrganization(ctx context.Context, orgID int64) (materialize.Summary, error)
}

// Organizations resolves organization ids for per-organization runs.
type Organizations interface {
	GetOrganization(ctx context.Context, id int64) (model.Organization, error)
}

// Config controls triggers.
type Config struct {
	// Spec is a standard 5-field cron spec.
	Spec         string
	Location     *time.Location
	RunOnStartup bool
}

// Report describes one pipeline run.
type Report struct {
	Trigger      string                `json:"trigger"`
	Imports      []model.ImportResult  `json:"imports"`
	Materialized []materialize.Summary `json:"materialized"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	Error        string                `json:"error,omitempty"`
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cfg  Config
	imp  Importer
	mat  Materializer
	orgs Organizations
	cron *cron.Cron

	running sync.Mutex
	wg      sync.WaitGroup

	mu   sync.Mutex
	ctx  context.Context
	last *Report
}

// New validates the cron spec and wires the pipeline.
func New(cfg Config, imp Importer, mat Materializer, orgs Organizations) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	logger := cronLogger{}
	s := &Scheduler{
		cfg:  cfg,
		imp:  imp,
		mat:  mat,
		orgs: orgs,
		ctx:  context.Background(),
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	if _, err := s.cron.AddFunc(cfg.Spec, func() { s.scheduled("cron") }); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron spec %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start begins cron dispatch and, when configured, one run in the
// background. Scheduled runs use ctx; cancelling it aborts them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("scheduler started", "spec", s.cfg.Spec, "timezone", s.cfg.Location.String(), "next", s.Next().Format(time.RFC3339))

	if s.cfg.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scheduled("startup")
		}()
	}
}

// Stop halts cron dispatch and waits for in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	appLog.Info("scheduler stopped")
}

// Next is the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Last returns the report of the most recent completed run, if any.
func (s *Scheduler) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) scheduled(trigger string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if _, err := s.run(ctx, trigger); err != nil {
		if errors.Is(err, ErrBusy) {
			appLog.Warn("scheduler: run skipped, previous run still in progress", "trigger", trigger)
			return
		}
		appLog.Error("scheduler: run failed", err, "trigger", trigger)
	}
}

// RunNow imports then materializes every organization.
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	return s.run(ctx, "manual")
}

func (s *Scheduler) run(ctx context.Context, trigger string) (rep Report, err error) {
	if !s.running.TryLock() {
		return Report{Trigger: trigger}, ErrBusy
	}
	defer s.running.Unlock()

	rep = Report{Trigger: trigger, StartedAt: time.Now()}
	defer s.finish(&rep, &err)

	appLog.Info("pipeline run started", "trigger", trigger)
	rep.Imports, err = s.imp.ImportAll(ctx)
	if err != nil {
		return rep, fmt.Errorf("import: %w", err)
	}
	rep.Materialized, err = s.mat.MaterializeAll(ctx)
	if err != nil {
		return rep, fmt.Errorf("materialize: %w", err)
	}
	return rep, nil
}

// RunOrganization imports (when the organization has a feed) and then
// materializes one organization. An import failure does not prevent
// materialization of its rules.
func (s *Scheduler) RunOrganization(ctx context.Context, orgID int64) (rep Report, err error) {
	if !s.running.TryLock() {
		return Report{Trigger: "organization"}, ErrBusy
	}
	defer s.running.Unlock()

	rep = Report{Trigger: "organization", StartedAt: time.Now()}
	defer s.finish(&rep, &err)

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return rep, err
	}
	if org.HasFeed() {
		res, impErr := s.imp.ImportOrganization(ctx, org)
		rep.Imports = append(rep.Imports, res)
		if errors.Is(impErr, context.Canceled) {
			return rep, impErr
		}
	}
	sum, err := s.mat.MaterializeOrganization(ctx, orgID)
	if err != nil {
		sum.Error = err.Error()
	}
	rep.Materialized = append(rep.Materialized, sum)
	return rep, err
}

// finish turns a panic into an error and records the report.
func (s *Scheduler) finish(rep *Report, err *error) {
	if r := recover(); r != nil {
		appLog.Error("scheduler: run panicked", fmt.Errorf("%v", r), "trigger", rep.Trigger, "stack", string(debug.Stack()))
		*err = fmt.Errorf("scheduler: panic: %v", r)
	}
	rep.FinishedAt = time.Now()
	if *err != nil {
		rep.Error = (*err).Error()
	}

	failed := 0
	for _, r := range rep.Imports {
		if !r.Success {
			failed++
		}
	}
	appLog.Info("pipeline run finished",
		"trigger", rep.Trigger,
		"imports", len(rep.Imports),
		"import_failures", failed,
		"materialized", len(rep.Materialized),
		"elapsed", rep.FinishedAt.Sub(rep.StartedAt),
	)

	s.mu.Lock()
	copied := *rep
	s.last = &copied
	s.mu.Unlock()
}

// cronLogger routes cron's own logging through appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
