package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"minyancal/internal/model"
)

// CreateOrganization inserts org and returns its id.
func (q *Queries) CreateOrganization(ctx context.Context, org model.Organization) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO organizations (name, slug, calendar_url, ics_url, default_rite, enabled)
		VALUES (:name, :slug, :calendar_url, :ics_url, :default_rite, :enabled)
	`, org)
	if err != nil {
		return 0, fmt.Errorf("create organization %q: %w", org.Slug, err)
	}
	return res.LastInsertId()
}

// UpsertOrganization inserts or updates the organization with org.Slug and
// returns its id.
func (q *Queries) UpsertOrganization(ctx context.Context, org model.Organization) (int64, error) {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO organizations (name, slug, calendar_url, ics_url, default_rite, enabled)
		VALUES (:name, :slug, :calendar_url, :ics_url, :default_rite, :enabled)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			calendar_url = excluded.calendar_url,
			ics_url = excluded.ics_url,
			default_rite = excluded.default_rite,
			enabled = excluded.enabled
	`, org)
	if err != nil {
		return 0, fmt.Errorf("upsert organization %q: %w", org.Slug, err)
	}
	var id int64
	if err := sqlx.GetContext(ctx, q.q, &id, `SELECT id FROM organizations WHERE slug = ?`, org.Slug); err != nil {
		return 0, fmt.Errorf("upsert organization %q: %w", org.Slug, err)
	}
	return id, nil
}

// GetOrganization loads one organization.
func (q *Queries) GetOrganization(ctx context.Context, id int64) (model.Organization, error) {
	var org model.Organization
	err := sqlx.GetContext(ctx, q.q, &org, `SELECT * FROM organizations WHERE id = ?`, id)
	if err != nil {
		return model.Organization{}, fmt.Errorf("get organization %d: %w", id, notFound(err))
	}
	return org, nil
}

// ListOrganizations returns organizations ordered by id.
func (q *Queries) ListOrganizations(ctx context.Context, enabledOnly bool) ([]model.Organization, error) {
	query := `SELECT * FROM organizations`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	var out []model.Organization
	if err := sqlx.SelectContext(ctx, q.q, &out, query); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return out, nil
}

// EnsureLocation returns the id of the organization's location named name,
// creating it when missing.
func (q *Queries) EnsureLocation(ctx context.Context, orgID int64, name string) (int64, error) {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO locations (organization_id, name) VALUES (?, ?)
		ON CONFLICT(organization_id, name) DO NOTHING
	`, orgID, name)
	if err != nil {
		return 0, fmt.Errorf("ensure location %q: %w", name, err)
	}
	var id int64
	err = sqlx.GetContext(ctx, q.q, &id, `SELECT id FROM locations WHERE organization_id = ? AND name = ?`, orgID, name)
	if err != nil {
		return 0, fmt.Errorf("ensure location %q: %w", name, err)
	}
	return id, nil
}

// ListLocations returns an organization's locations by name.
func (q *Queries) ListLocations(ctx context.Context, orgID int64) ([]model.Location, error) {
	var out []model.Location
	err := sqlx.SelectContext(ctx, q.q, &out, `SELECT * FROM locations WHERE organization_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return out, nil
}
