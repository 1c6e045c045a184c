// Package ingest fetches an organization's external calendar by trying a
// prioritized chain of strategies: structured export, ICS feed, static HTML
// and finally a headless-browser rendering of the page.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"minyancal/internal/export"
	appLog "minyancal/internal/log"
	"minyancal/internal/model"
)

var (
	// ErrNoExport means the calendar URL served something that is not a
	// tabular export; the chain moves on to the next strategy.
	ErrNoExport = errors.New("ingest: no structured export")

	// ErrNotApplicable means the organization lacks what the strategy needs.
	ErrNotApplicable = errors.New("ingest: strategy not applicable")

	// ErrEmptyFeed is returned when every strategy came back empty.
	ErrEmptyFeed = errors.New("ingest: every strategy returned no entries")

	// ErrIncompatible marks a permanent environment problem; the strategy is
	// disabled for the rest of the process lifetime.
	ErrIncompatible = errors.New("ingest: strategy incompatible with environment")

	// ErrTransport wraps network failures of the primary strategy. They abort
	// the organization instead of falling back.
	ErrTransport = errors.New("ingest: transport failure")
)

// IsIncompatible reports whether err carries a permanent-incompatibility
// signature: ErrIncompatible, a missing executable, or an exec format error.
func IsIncompatible(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIncompatible) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, syscall.ENOEXEC) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "exec format error")
}

// StateStore remembers strategies disabled after an incompatibility.
type StateStore interface {
	Disabled(name string) bool
	Mark(name string, reason error)
	// Reset re-enables the named strategies, or all of them when none are
	// named, and returns the names it re-enabled.
	Reset(names ...string) []string
}

// StickyState is the in-memory StateStore.
type StickyState struct {
	mu       sync.Mutex
	disabled map[string]string
}

func NewStickyState() *StickyState {
	return &StickyState{disabled: make(map[string]string)}
}

func (s *StickyState) Disabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.disabled[name]
	return ok
}

func (s *StickyState) Mark(name string, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	s.disabled[name] = msg
}

func (s *StickyState) Reset(names ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	if len(names) == 0 {
		for name := range s.disabled {
			out = append(out, name)
		}
		s.disabled = make(map[string]string)
		sort.Strings(out)
		return out
	}
	for _, name := range names {
		if _, ok := s.disabled[name]; ok {
			delete(s.disabled, name)
			out = append(out, name)
		}
	}
	return out
}

// Snapshot returns disabled strategy names with the error that disabled them.
func (s *StickyState) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.disabled))
	for k, v := range s.disabled {
		out[k] = v
	}
	return out
}

// Request is one organization's fetch. The calendar page is fetched at most
// once and shared between strategies that read it.
type Request struct {
	Org      model.Organization
	Window   model.Window
	Location *time.Location

	fetcher  *Fetcher
	pageOnce sync.Once
	page     *Response
	pageErr  error
}

// Page returns the organization's calendar page.
func (r *Request) Page(ctx context.Context) (*Response, error) {
	r.pageOnce.Do(func() {
		if r.Org.CalendarURL == "" {
			r.pageErr = ErrNotApplicable
			return
		}
		if r.fetcher == nil {
			r.pageErr = errors.New("ingest: no fetcher configured")
			return
		}
		r.page, r.pageErr = r.fetcher.Get(ctx, r.Org.CalendarURL)
	})
	return r.page, r.pageErr
}

// Strategy produces raw entries for one request.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, req *Request) ([]model.RawEntry, error)
}

// Result is the chain outcome for one organization.
type Result struct {
	Strategy string
	Entries  []model.RawEntry
}

// Chain tries strategies in order until one yields entries.
type Chain struct {
	fetcher    *Fetcher
	state      StateStore
	strategies []Strategy
	location   *time.Location
}

// NewChain builds a chain. A nil state gets a fresh StickyState.
func NewChain(fetcher *Fetcher, state StateStore, loc *time.Location, strategies ...Strategy) *Chain {
	if state == nil {
		state = NewStickyState()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Chain{fetcher: fetcher, state: state, strategies: strategies, location: loc}
}

// State exposes the sticky-failure store for operational resets.
func (c *Chain) State() StateStore {
	return c.state
}

// Names lists strategy names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Fetch runs the chain for org over window. Transport failures of the
// primary strategy and invalid calendar URLs abort; any other strategy
// error is logged and treated as an empty result.
func (c *Chain) Fetch(ctx context.Context, org model.Organization, window model.Window) (Result, error) {
	req := &Request{Org: org, Window: window, Location: c.location, fetcher: c.fetcher}

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name := s.Name()
		if c.state.Disabled(name) {
			appLog.Debug("ingest: strategy disabled, skipping", "strategy", name, "org", org.ID)
			continue
		}

		entries, err := s.Fetch(ctx, req)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoExport), errors.Is(err, ErrNotApplicable):
			appLog.Debug("ingest: strategy skipped", "strategy", name, "org", org.ID, "reason", err)
			continue
		case errors.Is(err, ErrTransport), errors.Is(err, export.ErrUnsupportedScheme):
			return Result{Strategy: name}, fmt.Errorf("%s: %w", name, err)
		case errors.Is(err, context.Canceled):
			return Result{}, err
		case IsIncompatible(err):
			c.state.Mark(name, err)
			appLog.Error("ingest: strategy disabled for process lifetime", err, "strategy", name)
			continue
		default:
			appLog.Warn("ingest: strategy failed, falling back", "strategy", name, "org", org.ID, "err", err)
			continue
		}

		if len(entries) > 0 {
			appLog.Info("ingest: fetched", "org", org.ID, "strategy", name, "entries", len(entries))
			return Result{Strategy: name, Entries: entries}, nil
		}
		appLog.Debug("ingest: strategy returned nothing", "strategy", name, "org", org.ID)
	}

	return Result{}, ErrEmptyFeed
}

// Options assembles the default chain.
type Options struct {
	Fetcher  FetcherConfig
	Browser  BrowserOptions
	Location *time.Location
	State    StateStore
}

// New returns the default chain: export, ics, static-html, rendered.
func New(opts Options) *Chain {
	f := NewFetcher(opts.Fetcher)
	if opts.Browser.UserAgent == "" {
		opts.Browser.UserAgent = opts.Fetcher.UserAgent
	}
	return NewChain(f, opts.State, opts.Location,
		ExportStrategy{Fetcher: f},
		ICSStrategy{Fetcher: f},
		NewStaticHTMLStrategy(),
		NewRenderedStrategy(opts.Browser),
	)
}
