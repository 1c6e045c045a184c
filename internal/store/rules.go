package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"minyancal/internal/model"
)

const ruleColumns = `r.id, r.organization_id, r.location_id, COALESCE(l.name, '') AS location_name,
	r.service_type, r.schedule, r.enabled, r.notes, r.rite`

// SaveRule inserts the rule when its id is zero and updates it otherwise.
// It returns the rule id.
func (q *Queries) SaveRule(ctx context.Context, rule model.RecurringRule) (int64, error) {
	if err := rule.Schedule.Validate(); err != nil {
		return 0, fmt.Errorf("save rule: %w", err)
	}
	if !rule.ServiceType.IsService() {
		return 0, fmt.Errorf("save rule: invalid service type %q", rule.ServiceType)
	}

	if rule.ID == 0 {
		res, err := sqlx.NamedExecContext(ctx, q.q, `
			INSERT INTO rules (organization_id, location_id, service_type, schedule, enabled, notes, rite)
			VALUES (:organization_id, :location_id, :service_type, :schedule, :enabled, :notes, :rite)
		`, rule)
		if err != nil {
			return 0, fmt.Errorf("insert rule: %w", err)
		}
		return res.LastInsertId()
	}

	res, err := sqlx.NamedExecContext(ctx, q.q, `
		UPDATE rules SET
			organization_id = :organization_id,
			location_id = :location_id,
			service_type = :service_type,
			schedule = :schedule,
			enabled = :enabled,
			notes = :notes,
			rite = :rite
		WHERE id = :id
	`, rule)
	if err != nil {
		return 0, fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("update rule %d: %w", rule.ID, ErrNotFound)
	}
	return rule.ID, nil
}

// DeleteRule removes a rule. Its materialized rows go away on the next cycle.
func (q *Queries) DeleteRule(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetRule loads one rule with its location name.
func (q *Queries) GetRule(ctx context.Context, id int64) (model.RecurringRule, error) {
	var r model.RecurringRule
	err := sqlx.GetContext(ctx, q.q, &r, `SELECT `+ruleColumns+`
		FROM rules r LEFT JOIN locations l ON l.id = r.location_id
		WHERE r.id = ?`, id)
	if err != nil {
		return model.RecurringRule{}, fmt.Errorf("get rule %d: %w", id, notFound(err))
	}
	return r, nil
}

// ListRules returns an organization's rules ordered by id.
func (q *Queries) ListRules(ctx context.Context, orgID int64, enabledOnly bool) ([]model.RecurringRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM rules r LEFT JOIN locations l ON l.id = r.location_id
		WHERE r.organization_id = ?`
	if enabledOnly {
		query += ` AND r.enabled = 1`
	}
	query += ` ORDER BY r.id`

	var out []model.RecurringRule
	if err := sqlx.SelectContext(ctx, q.q, &out, query, orgID); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}
