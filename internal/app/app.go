// Package app wires configuration into the store, the pipeline services,
// the scheduler and the HTTP server.
package app

import (
	"context"
	"fmt"

	"minyancal/internal/classify"
	"minyancal/internal/config"
	"minyancal/internal/hebcal"
	"minyancal/internal/importer"
	"minyancal/internal/ingest"
	appLog "minyancal/internal/log"
	"minyancal/internal/materialize"
	"minyancal/internal/schedule"
	"minyancal/internal/scheduler"
	"minyancal/internal/store"
	"minyancal/internal/web"
	"minyancal/internal/zmanim"
)

// App holds the long-lived services of one process.
type App struct {
	Config       *config.Config
	Store        *store.Store
	Strategies   *ingest.StickyState
	Importer     *importer.Service
	Materializer *materialize.Service
	Schedule     *schedule.Service
	Scheduler    *scheduler.Scheduler
}

// New opens the database and builds every service from cfg.
func New(cfg *config.Config) (*App, error) {
	loc := cfg.Location()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	state := ingest.NewStickyState()
	chain := ingest.New(ingest.Options{
		Fetcher: ingest.FetcherConfig{
			UserAgent:      cfg.Import.UserAgent,
			ConnectTimeout: cfg.Import.ConnectTimeout,
			ReadTimeout:    cfg.Import.ReadTimeout,
			InsecureTLS:    cfg.Import.InsecureTLS,
			MaxBodyBytes:   cfg.Import.MaxBodyBytes,
		},
		Browser: ingest.BrowserOptions{
			Enabled:         cfg.Browser.Enabled,
			ExecPath:        cfg.Browser.ExecPath,
			PageLoadTimeout: cfg.Browser.PageLoadTimeout,
			RenderWait:      cfg.Browser.RenderWait,
		},
		Location: loc,
		State:    state,
	})

	solar := zmanim.NewCalculator(cfg.Location.Latitude, cfg.Location.Longitude, cfg.Location.Elevation, loc)
	days := hebcal.Calendar{Diaspora: cfg.Diaspora}

	imp := importer.New(st, chain, classify.New(solar), importer.Config{
		Location:    loc,
		PastWeeks:   cfg.Window.PastWeeks,
		FutureWeeks: cfg.Window.FutureWeeks,
		OrgPause:    cfg.Import.OrgPause,
	})
	mat := materialize.New(st, solar, days, materialize.Config{
		Location:       loc,
		PastWeeks:      cfg.Window.PastWeeks,
		FutureWeeks:    cfg.Window.FutureWeeks,
		RetentionWeeks: cfg.Window.RetentionWeeks,
	})
	sched := schedule.New(st, schedule.Config{
		Location:    loc,
		PastWeeks:   cfg.Window.PastWeeks,
		FutureWeeks: cfg.Window.FutureWeeks,
	})

	runner, err := scheduler.New(scheduler.Config{
		Spec:         cfg.Schedule.Cron,
		Location:     loc,
		RunOnStartup: cfg.Schedule.RunOnStartup,
	}, imp, mat, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	appLog.Debug("services ready", "strategies", chain.Names(), "database", cfg.Database)
	return &App{
		Config:       cfg,
		Store:        st,
		Strategies:   state,
		Importer:     imp,
		Materializer: mat,
		Schedule:     sched,
		Scheduler:    runner,
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// Serve runs the scheduler and the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	return web.StartServer(ctx, a.Config, web.Deps{
		Store:        a.Store,
		Schedule:     a.Schedule,
		Runner:       a.Scheduler,
		Materializer: a.Materializer,
		Strategies:   a.Strategies,
	})
}
