package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"minyancal/internal/model"
)

// GetEntryByFingerprint loads the entry with the given fingerprint.
func (q *Queries) GetEntryByFingerprint(ctx context.Context, fingerprint string) (model.ImportedEntry, error) {
	var e model.ImportedEntry
	err := sqlx.GetContext(ctx, q.q, &e, `SELECT * FROM imported_entries WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return model.ImportedEntry{}, fmt.Errorf("get entry %s: %w", shortFP(fingerprint), notFound(err))
	}
	return e, nil
}

// InsertEntry stores a new entry and returns its id. ScrapedAt and UpdatedAt
// are set to now.
func (q *Queries) InsertEntry(ctx context.Context, e model.ImportedEntry) (int64, error) {
	now := q.timestamp()
	e.ScrapedAt, e.UpdatedAt = now, now
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO imported_entries (
			organization_id, date, time_text, start_time, end_time, title, type, location,
			description, raw_text, source_url, fingerprint, service_type, note, enabled,
			disabled_reason, scraped_at, updated_at
		) VALUES (
			:organization_id, :date, :time_text, :start_time, :end_time, :title, :type, :location,
			:description, :raw_text, :source_url, :fingerprint, :service_type, :note, :enabled,
			:disabled_reason, :scraped_at, :updated_at
		)
	`, e)
	if err != nil {
		return 0, fmt.Errorf("insert entry %s: %w", shortFP(e.Fingerprint), err)
	}
	return res.LastInsertId()
}

// UpdateEntry rewrites the mutable columns of an existing entry in place.
// Identity columns (organization, date, fingerprint) are left alone.
func (q *Queries) UpdateEntry(ctx context.Context, e model.ImportedEntry) error {
	e.UpdatedAt = q.timestamp()
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		UPDATE imported_entries SET
			time_text = :time_text,
			start_time = :start_time,
			end_time = :end_time,
			title = :title,
			type = :type,
			location = :location,
			description = :description,
			raw_text = :raw_text,
			source_url = :source_url,
			service_type = :service_type,
			note = :note,
			enabled = :enabled,
			disabled_reason = :disabled_reason,
			updated_at = :updated_at
		WHERE id = :id
	`, e)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update entry %d: %w", e.ID, ErrNotFound)
	}
	return nil
}

// DisableEntry turns an entry off and records why.
func (q *Queries) DisableEntry(ctx context.Context, id int64, reason string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE imported_entries SET enabled = 0, disabled_reason = ?, updated_at = ?
		WHERE id = ?
	`, reason, q.timestamp(), id)
	if err != nil {
		return fmt.Errorf("disable entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("disable entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListEntriesOnDate returns an organization's entries for one date.
func (q *Queries) ListEntriesOnDate(ctx context.Context, orgID int64, date string) ([]model.ImportedEntry, error) {
	var out []model.ImportedEntry
	err := sqlx.SelectContext(ctx, q.q, &out, `
		SELECT * FROM imported_entries WHERE organization_id = ? AND date = ? ORDER BY id
	`, orgID, date)
	if err != nil {
		return nil, fmt.Errorf("list entries on %s: %w", date, err)
	}
	return out, nil
}

// ListEntries returns an organization's entries dated within [from, to].
func (q *Queries) ListEntries(ctx context.Context, orgID int64, from, to string) ([]model.ImportedEntry, error) {
	var out []model.ImportedEntry
	err := sqlx.SelectContext(ctx, q.q, &out, `
		SELECT * FROM imported_entries
		WHERE organization_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, start_time, id
	`, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return out, nil
}

// DeleteEntriesBefore removes entries of every organization dated before
// date and returns how many were deleted.
func (q *Queries) DeleteEntriesBefore(ctx context.Context, date string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM imported_entries WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("delete entries before %s: %w", date, err)
	}
	return res.RowsAffected()
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
