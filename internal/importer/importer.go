// Package importer pulls each organization's external calendar through the
// ingestion chain, classifies and fingerprints every entry and stores the
// result idempotently.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"minyancal/internal/classify"
	"minyancal/internal/ingest"
	appLog "minyancal/internal/log"
	"minyancal/internal/model"
	"minyancal/internal/normalize"
	"minyancal/internal/store"
)

// DuplicatePrefix starts the disabled reason of near-duplicate entries.
const DuplicatePrefix = "near-duplicate of "

// Fetcher produces raw entries for one organization. *ingest.Chain
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, org model.Organization, window model.Window) (ingest.Result, error)
}

// Config controls windowing and pacing.
type Config struct {
	Location    *time.Location
	PastWeeks   int
	FutureWeeks int
	// OrgPause is waited between organizations' network fetches.
	OrgPause time.Duration
	Now      func() time.Time
}

// Service runs imports.
type Service struct {
	store      *store.Store
	fetcher    Fetcher
	classifier *classify.Classifier
	cfg        Config
}

func New(st *store.Store, fetcher Fetcher, classifier *classify.Classifier, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: st, fetcher: fetcher, classifier: classifier, cfg: cfg}
}

// Window is the rolling window as of now.
func (s *Service) Window() model.Window {
	return model.NewWindow(s.cfg.Now(), s.cfg.Location, s.cfg.PastWeeks, s.cfg.FutureWeeks)
}

// ImportOrganization fetches, classifies and stores one organization's feed
// and records the run. The returned error is also in the result.
func (s *Service) ImportOrganization(ctx context.Context, org model.Organization) (model.ImportResult, error) {
	res := model.ImportResult{
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		StartedAt:        s.cfg.Now().UTC(),
	}

	err := s.importOrganization(ctx, org, &res)
	res.FinishedAt = s.cfg.Now().UTC()
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		appLog.Error("import: organization failed", err, "org", org.ID, "name", org.Name, "strategy", res.Strategy)
	} else {
		appLog.Info("import: organization done",
			"org", org.ID,
			"strategy", res.Strategy,
			"new", res.New,
			"updated", res.Updated,
			"skipped", res.Skipped,
			"disabled", res.Disabled,
		)
	}

	// The run is recorded even when the import was cancelled.
	if _, recErr := s.store.InsertImportRun(context.WithoutCancel(ctx), res); recErr != nil {
		appLog.Error("import: failed to record run", recErr, "org", org.ID)
	}
	return res, err
}

func (s *Service) importOrganization(ctx context.Context, org model.Organization, res *model.ImportResult) error {
	if !org.HasFeed() {
		return ingest.ErrNotApplicable
	}

	fetched, err := s.fetcher.Fetch(ctx, org, s.Window())
	res.Strategy = fetched.Strategy
	if err != nil {
		return err
	}

	orgKey := strconv.FormatInt(org.ID, 10)
	return s.store.InTx(ctx, func(q *store.Queries) error {
		for _, raw := range fetched.Entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.storeEntry(ctx, q, org, orgKey, raw, res); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) storeEntry(ctx context.Context, q *store.Queries, org model.Organization, orgKey string, raw model.RawEntry, res *model.ImportResult) error {
	title := normalize.Spaces(raw.Title)
	if title == "" || raw.Date.IsZero() {
		res.Skipped++
		return nil
	}

	date := raw.Date.In(s.cfg.Location)
	entry := model.ImportedEntry{
		OrganizationID: org.ID,
		Date:           date.Format(model.DateLayout),
		TimeText:       normalize.Spaces(raw.TimeText),
		StartTime:      normalize.TimeKey(raw.TimeText),
		EndTime:        normalize.TimeKey(raw.EndText),
		Title:          title,
		Type:           normalize.Spaces(raw.Type),
		Location:       normalize.Spaces(raw.Location),
		Description:    strings.TrimSpace(raw.Description),
		RawText:        strings.TrimSpace(raw.RawText),
		SourceURL:      raw.SourceURL,
	}
	entry.Fingerprint = normalize.Fingerprint(orgKey, entry.Date, entry.Title, entry.TimeText)

	in := classify.Input{Title: entry.Title, Type: entry.Type, Description: entry.Description, Date: date}
	if c, ok := normalize.Time(entry.TimeText); ok {
		in.Start = &c
	}
	verdict := s.classifier.Classify(in)
	entry.ServiceType = verdict.Type
	entry.Note = verdict.Note

	existing, err := q.GetEntryByFingerprint(ctx, entry.Fingerprint)
	switch {
	case err == nil:
		return s.updateEntry(ctx, q, existing, entry, verdict, res)
	case errors.Is(err, store.ErrNotFound):
		return s.insertEntry(ctx, q, entry, verdict, res)
	default:
		return err
	}
}

// updateEntry refreshes a re-seen entry in place. Near-duplicate decisions
// stick; classifier decisions follow the current verdict.
func (s *Service) updateEntry(ctx context.Context, q *store.Queries, existing, entry model.ImportedEntry, verdict classify.Verdict, res *model.ImportResult) error {
	entry.ID = existing.ID
	entry.Enabled = existing.Enabled
	entry.DisabledReason = existing.DisabledReason

	switch {
	case !verdict.IsService():
		if existing.Enabled {
			res.Disabled++
		}
		entry.Enabled = false
		entry.DisabledReason = verdict.Reason
	case !existing.Enabled && !strings.HasPrefix(existing.DisabledReason, DuplicatePrefix):
		entry.Enabled = true
		entry.DisabledReason = ""
	}

	if err := q.UpdateEntry(ctx, entry); err != nil {
		return err
	}
	res.Updated++
	return nil
}

func (s *Service) insertEntry(ctx context.Context, q *store.Queries, entry model.ImportedEntry, verdict classify.Verdict, res *model.ImportResult) error {
	entry.Enabled = verdict.IsService()
	if !entry.Enabled {
		entry.DisabledReason = verdict.Reason
		res.Disabled++
		_, err := q.InsertEntry(ctx, entry)
		if err == nil {
			res.New++
		}
		return err
	}

	dup, err := findDuplicate(ctx, q, entry)
	if err != nil {
		return err
	}
	if dup != nil {
		if len(entry.RawText) > len(dup.RawText) {
			if err := q.DisableEntry(ctx, dup.ID, DuplicatePrefix+entry.Fingerprint); err != nil {
				return err
			}
		} else {
			entry.Enabled = false
			entry.DisabledReason = DuplicatePrefix + dup.Fingerprint
		}
		res.Disabled++
	}

	if _, err := q.InsertEntry(ctx, entry); err != nil {
		return err
	}
	res.New++
	return nil
}

// findDuplicate returns an enabled entry of the same organization and date
// whose normalized title and start time equal entry's.
func findDuplicate(ctx context.Context, q *store.Queries, entry model.ImportedEntry) (*model.ImportedEntry, error) {
	same, err := q.ListEntriesOnDate(ctx, entry.OrganizationID, entry.Date)
	if err != nil {
		return nil, err
	}
	title := normalize.Title(entry.Title)
	for i := range same {
		e := same[i]
		if !e.Enabled || e.StartTime != entry.StartTime {
			continue
		}
		if normalize.Title(e.Title) == title {
			return &e, nil
		}
	}
	return nil, nil
}

// ImportAll imports every enabled organization with a feed, one at a time,
// pausing between network fetches. Organization failures are recorded and do
// not stop the run; cancellation does.
func (s *Service) ImportAll(ctx context.Context) ([]model.ImportResult, error) {
	orgs, err := s.store.ListOrganizations(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("import all: %w", err)
	}

	started := time.Now()
	var (
		results []model.ImportResult
		fetched bool
	)
	for _, org := range orgs {
		if !org.HasFeed() {
			appLog.Debug("import: organization has no feed, skipping", "org", org.ID)
			continue
		}
		if fetched && s.cfg.OrgPause > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(s.cfg.OrgPause):
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, _ := s.ImportOrganization(ctx, org)
		results = append(results, res)
		fetched = true
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	appLog.Info("import: all organizations done", "organizations", len(results), "failed", failed, "elapsed", time.Since(started))
	return results, ctx.Err()
}
