package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"minyancal/internal/config"
	"minyancal/internal/ingest"
	appLog "minyancal/internal/log"
	"minyancal/internal/materialize"
	"minyancal/internal/model"
	"minyancal/internal/schedule"
	"minyancal/internal/scheduler"
	"minyancal/internal/store"
)

// Runner triggers pipeline runs. *scheduler.Scheduler implements it.
type Runner interface {
	RunNow(ctx context.Context) (scheduler.Report, error)
	RunOrganization(ctx context.Context, orgID int64) (scheduler.Report, error)
}

// Materializer regenerates one organization.
type Materializer interface {
	MaterializeOrganization(ctx context.Context, orgID int64) (materialize.Summary, error)
}

// Deps are the services behind the API.
type Deps struct {
	Store        *store.Store
	Schedule     *schedule.Service
	Runner       Runner
	Materializer Materializer
	Strategies   ingest.StateStore
}

// Server provides the read API, the ICS feed and the admin endpoints.
type Server struct {
	cfg    *config.Config
	deps   Deps
	loc    *time.Location
	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		loc:    resolveLocationOrLocal(cfg.Timezone),
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	s := NewServer(cfg, deps)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen, "admin_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orgs", s.handleOrganizations).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{id:[0-9]+}/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/orgs/{id:[0-9]+}/calendar.ics", s.handleICS).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.basicAuthMiddleware)
	admin.HandleFunc("/orgs/{id:[0-9]+}/events", s.handleAdminEvents).Methods(http.MethodGet)
	admin.HandleFunc("/orgs/{id:[0-9]+}/import", s.handleImport).Methods(http.MethodPost)
	admin.HandleFunc("/orgs/{id:[0-9]+}/materialize", s.handleMaterialize).Methods(http.MethodPost)
	admin.HandleFunc("/events/{event_id}", s.handleEditEvent).Methods(http.MethodPatch)
	admin.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	admin.HandleFunc("/import-runs", s.handleImportRuns).Methods(http.MethodGet)
	admin.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	admin.HandleFunc("/strategies/reset", s.handleStrategiesReset).Methods(http.MethodPost)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.PasswordHash != ""
}

type ctxKey int

const editorKey ctxKey = iota

// basicAuthMiddleware guards the admin routes. Without configured
// credentials the admin API is unavailable.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.basicAuthEnabled() {
			writeError(w, http.StatusServiceUnavailable, "admin API disabled: basic_auth not configured")
			return
		}
		username := s.cfg.BasicAuth.Username

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) ||
			bcrypt.CompareHashAndPassword([]byte(s.cfg.BasicAuth.PasswordHash), []byte(p)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="minyancal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), editorKey, u)))
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.deps.Store.ListOrganizations(r.Context(), true)
	if err != nil {
		appLog.Error("api orgs: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list organizations")
		return
	}
	if orgs == nil {
		orgs = []model.Organization{}
	}
	writeJSON(w, http.StatusOK, orgs)
}

// eventsResponse is the JSON response shape for the event endpoints.
type eventsResponse struct {
	OrganizationID int64             `json:"organization_id"`
	From           string            `json:"from"`
	To             string            `json:"to"`
	Timezone       string            `json:"timezone"`
	Events         []eventDTO        `json:"events"`
	Window         map[string]string `json:"window"`
}

// eventDTO adds a display time to the stored row.
type eventDTO struct {
	model.CalendarEvent
	Label       string `json:"label"`
	DisplayTime string `json:"display_time"`
}

// handleEvents returns the effective schedule.
//
// GET /api/orgs/{id}/events?from=YYYY-MM-DD&to=YYYY-MM-DD
//   - from: first date (default today)
//   - to:   last date (default from + 6 days)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.serveEvents(w, r, false)
}

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	s.serveEvents(w, r, true)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request, admin bool) {
	ctx := r.Context()
	org, ok := s.organization(w, r)
	if !ok {
		return
	}
	from, to, ok := s.dateRange(w, r, 6)
	if !ok {
		return
	}

	var (
		rows []model.CalendarEvent
		err  error
	)
	if admin {
		rows, err = s.deps.Schedule.Admin(ctx, org.ID, from, to)
	} else {
		rows, err = s.deps.Schedule.Effective(ctx, org.ID, from, to)
	}
	if err != nil {
		appLog.Error("api events: query failed", err, "org", org.ID, "admin", admin)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	window := s.deps.Schedule.Window()
	resp := eventsResponse{
		OrganizationID: org.ID,
		From:           from.Format(model.DateLayout),
		To:             to.Format(model.DateLayout),
		Timezone:       s.loc.String(),
		Events:         make([]eventDTO, 0, len(rows)),
		Window:         map[string]string{"start": window.StartDate(), "end": window.EndDate()},
	}
	for _, ev := range rows {
		dto := eventDTO{CalendarEvent: ev, Label: ev.ServiceType.Label()}
		if c, err := model.ParseClock(ev.StartTime); err == nil {
			dto.DisplayTime = c.Display()
		}
		resp.Events = append(resp.Events, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleICS serves the effective schedule of the whole window as iCalendar.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	org, ok := s.organization(w, r)
	if !ok {
		return
	}
	window := s.deps.Schedule.Window()
	body, err := s.deps.Schedule.ICS(r.Context(), org, window.Start, window.End)
	if err != nil {
		appLog.Error("api ics: encode failed", err, "org", org.ID)
		writeError(w, http.StatusInternalServerError, "failed to build calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+org.Slug+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	org, ok := s.organization(w, r)
	if !ok {
		return
	}
	rep, err := s.deps.Runner.RunOrganization(r.Context(), org.ID)
	if errors.Is(err, scheduler.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	// Import failures are reported inside the run report.
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	org, ok := s.organization(w, r)
	if !ok {
		return
	}
	sum, err := s.deps.Materializer.MaterializeOrganization(r.Context(), org.ID)
	if err != nil {
		appLog.Error("api materialize: failed", err, "org", org.ID)
		sum.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, sum)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Runner.RunNow(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	var edit store.EventEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	editor, _ := r.Context().Value(editorKey).(string)

	var ev model.CalendarEvent
	err := s.deps.Store.InTx(r.Context(), func(q *store.Queries) error {
		var err error
		ev, err = q.EditEvent(r.Context(), mux.Vars(r)["event_id"], edit, editor)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Info("event edited", "id", ev.ID, "editor", editor)
		writeJSON(w, http.StatusOK, ev)
	}
}

func (s *Server) handleImportRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Store.LatestImportRuns(r.Context())
	if err != nil {
		appLog.Error("api import-runs: query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load import runs")
		return
	}
	if runs == nil {
		runs = []model.ImportResult{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleStrategies lists disabled strategies with the error that disabled them.
func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.deps.Strategies.(interface{ Snapshot() map[string]string })
	if !ok {
		writeError(w, http.StatusNotImplemented, "strategy state is not inspectable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{"disabled": snap.Snapshot()})
}

type resetRequest struct {
	Strategies []string `json:"strategies"`
}

// handleStrategiesReset re-enables sticky-disabled ingestion strategies.
// An empty body or list resets all of them.
func (s *Server) handleStrategiesReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	reset := s.deps.Strategies.Reset(req.Strategies...)
	if reset == nil {
		reset = []string{}
	}
	appLog.Info("ingestion strategies reset", "strategies", reset)
	writeJSON(w, http.StatusOK, map[string][]string{"reset": reset})
}

// organization resolves the {id} route variable, writing 404 when unknown.
func (s *Server) organization(w http.ResponseWriter, r *http.Request) (model.Organization, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return model.Organization{}, false
	}
	org, err := s.deps.Store.GetOrganization(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "organization not found")
		return model.Organization{}, false
	}
	if err != nil {
		appLog.Error("api: organization lookup failed", err, "org", id)
		writeError(w, http.StatusInternalServerError, "failed to load organization")
		return model.Organization{}, false
	}
	return org, true
}

// dateRange parses from/to query dates in the display timezone.
func (s *Server) dateRange(w http.ResponseWriter, r *http.Request, defaultDays int) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from := model.Midnight(time.Now().In(s.loc))
	if v := q.Get("from"); v != "" {
		t, err := time.ParseInLocation(model.DateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	to := from.AddDate(0, 0, defaultDays)
	if v := q.Get("to"); v != "" {
		t, err := time.ParseInLocation(model.DateLayout, v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
