package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"minyancal/internal/model"
)

// InsertEvent stores a materialized event. A missing id gets a UUIDv7 so
// rows sort by creation. It returns the id.
func (q *Queries) InsertEvent(ctx context.Context, ev model.CalendarEvent) (string, error) {
	if ev.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("insert event: %w", err)
		}
		ev.ID = id.String()
	}
	now := q.timestamp()
	ev.CreatedAt, ev.UpdatedAt = now, now

	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO calendar_events (
			id, organization_id, date, service_type, start_time, source, source_ref,
			location_name, notes, rite, dynamic_display, enabled, manually_edited,
			edited_by, edited_at, created_at, updated_at
		) VALUES (
			:id, :organization_id, :date, :service_type, :start_time, :source, :source_ref,
			:location_name, :notes, :rite, :dynamic_display, :enabled, :manually_edited,
			:edited_by, :edited_at, :created_at, :updated_at
		)
	`, ev)
	if err != nil {
		return "", fmt.Errorf("insert event %s: %w", ev.SourceRef, err)
	}
	return ev.ID, nil
}

// GetEvent loads one event by id.
func (q *Queries) GetEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	var ev model.CalendarEvent
	if err := sqlx.GetContext(ctx, q.q, &ev, `SELECT * FROM calendar_events WHERE id = ?`, id); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("get event %s: %w", id, notFound(err))
	}
	return ev, nil
}

// GetImportEvent loads the materialized row of an imported entry.
func (q *Queries) GetImportEvent(ctx context.Context, orgID int64, ref string) (model.CalendarEvent, error) {
	var ev model.CalendarEvent
	err := sqlx.GetContext(ctx, q.q, &ev, `
		SELECT * FROM calendar_events
		WHERE organization_id = ? AND source = 'import' AND source_ref = ?
	`, orgID, ref)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("get event %s: %w", ref, notFound(err))
	}
	return ev, nil
}

// RefreshImportEvent copies the feed-derived columns of ev onto its stored
// row. Manually edited rows are left untouched; the return value reports
// whether the row changed.
func (q *Queries) RefreshImportEvent(ctx context.Context, ev model.CalendarEvent) (bool, error) {
	ev.UpdatedAt = q.timestamp()
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		UPDATE calendar_events SET
			date = :date,
			service_type = :service_type,
			start_time = :start_time,
			location_name = :location_name,
			notes = :notes,
			rite = :rite,
			enabled = :enabled,
			updated_at = :updated_at
		WHERE id = :id AND manually_edited = 0
		  AND (date != :date OR service_type != :service_type OR start_time != :start_time
		       OR location_name != :location_name OR notes != :notes OR rite != :rite
		       OR enabled != :enabled)
	`, ev)
	if err != nil {
		return false, fmt.Errorf("refresh event %s: %w", ev.SourceRef, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EventEdit is a manual change to one materialized row. Nil fields are kept.
type EventEdit struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// EditEvent applies a manual edit and stamps the editor. Edited imported
// rows are no longer refreshed from the feed.
func (q *Queries) EditEvent(ctx context.Context, id string, edit EventEdit, editor string) (model.CalendarEvent, error) {
	ev, err := q.GetEvent(ctx, id)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if edit.Enabled != nil {
		ev.Enabled = *edit.Enabled
	}
	if edit.StartTime != nil {
		c, err := model.ParseClock(*edit.StartTime)
		if err != nil {
			return model.CalendarEvent{}, fmt.Errorf("edit event %s: %w", id, err)
		}
		ev.StartTime = c.String()
		ev.DynamicDisplay = ""
	}
	if edit.Notes != nil {
		ev.Notes = *edit.Notes
	}
	now := q.timestamp()
	ev.ManuallyEdited = true
	ev.EditedBy = editor
	ev.EditedAt = &now
	ev.UpdatedAt = now

	_, err = sqlx.NamedExecContext(ctx, q.q, `
		UPDATE calendar_events SET
			start_time = :start_time,
			notes = :notes,
			enabled = :enabled,
			dynamic_display = :dynamic_display,
			manually_edited = :manually_edited,
			edited_by = :edited_by,
			edited_at = :edited_at,
			updated_at = :updated_at
		WHERE id = :id
	`, ev)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("edit event %s: %w", id, err)
	}
	return ev, nil
}

// DeleteRuleEvents removes an organization's rule-derived rows dated within
// [from, to].
func (q *Queries) DeleteRuleEvents(ctx context.Context, orgID int64, from, to string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM calendar_events
		WHERE organization_id = ? AND source = 'rule' AND date BETWEEN ? AND ?
	`, orgID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete rule events: %w", err)
	}
	return res.RowsAffected()
}

// ListEvents returns an organization's rows dated within [from, to], both
// sources, sorted by date then start time.
func (q *Queries) ListEvents(ctx context.Context, orgID int64, from, to string, enabledOnly bool) ([]model.CalendarEvent, error) {
	query := `SELECT * FROM calendar_events
		WHERE organization_id = ? AND date BETWEEN ? AND ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY date, start_time, source, id`

	var out []model.CalendarEvent
	if err := sqlx.SelectContext(ctx, q.q, &out, query, orgID, from, to); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// PurgeEventsBefore removes an organization's rows dated before date.
func (q *Queries) PurgeEventsBefore(ctx context.Context, orgID int64, date string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM calendar_events WHERE organization_id = ? AND date < ?
	`, orgID, date)
	if err != nil {
		return 0, fmt.Errorf("purge events before %s: %w", date, err)
	}
	return res.RowsAffected()
}

// DeleteEventsOutside removes rows of every organization dated outside
// [from, to].
func (q *Queries) DeleteEventsOutside(ctx context.Context, from, to string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		DELETE FROM calendar_events WHERE date < ? OR date > ?
	`, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete events outside window: %w", err)
	}
	return res.RowsAffected()
}
