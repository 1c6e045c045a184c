package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"minyancal/internal/model"
)

// InsertImportRun records one organization's import outcome.
func (q *Queries) InsertImportRun(ctx context.Context, r model.ImportResult) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO import_runs (
			organization_id, organization_name, strategy, new_count, updated_count,
			skipped_count, disabled_count, success, error, started_at, finished_at
		) VALUES (
			:organization_id, :organization_name, :strategy, :new_count, :updated_count,
			:skipped_count, :disabled_count, :success, :error, :started_at, :finished_at
		)
	`, r)
	if err != nil {
		return 0, fmt.Errorf("insert import run for org %d: %w", r.OrganizationID, err)
	}
	return res.LastInsertId()
}

// LatestImportRuns returns the most recent run of each organization.
func (q *Queries) LatestImportRuns(ctx context.Context) ([]model.ImportResult, error) {
	var out []model.ImportResult
	err := sqlx.SelectContext(ctx, q.q, &out, `
		SELECT r.* FROM import_runs r
		WHERE r.id = (SELECT MAX(id) FROM import_runs WHERE organization_id = r.organization_id)
		ORDER BY r.organization_id
	`)
	if err != nil {
		return nil, fmt.Errorf("latest import runs: %w", err)
	}
	return out, nil
}

// ListImportRuns returns an organization's runs, newest first.
func (q *Queries) ListImportRuns(ctx context.Context, orgID int64, limit int) ([]model.ImportResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []model.ImportResult
	err := sqlx.SelectContext(ctx, q.q, &out, `
		SELECT * FROM import_runs WHERE organization_id = ? ORDER BY id DESC LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	return out, nil
}
