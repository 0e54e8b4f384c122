package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clearpath-ai/governor/internal/conflict"
)

const conflictColumns = `
	id, parent_policy_id, child_policy_id, field_path, parent_value, child_value,
	conflict_type, severity, resolution_status, COALESCE(resolved_by, ''),
	resolved_at, detected_at`

func scanConflict(scan func(dest ...any) error) (*conflict.Conflict, error) {
	var c conflict.Conflict
	var parentVal, childVal []byte
	err := scan(&c.ID, &c.ParentPolicyID, &c.ChildPolicyID, &c.FieldPath,
		&parentVal, &childVal, &c.ConflictType, &c.Severity,
		&c.ResolutionStatus, &c.ResolvedBy, &c.ResolvedAt, &c.DetectedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parentVal, &c.ParentValue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(childVal, &c.ChildValue); err != nil {
		return nil, err
	}
	return &c, nil
}

// ReplaceOpenConflicts swaps the open conflict set for a parent/child pair
// with a fresh detection run, in one transaction. Resolved rows stay for
// the audit trail.
func (s *Store) ReplaceOpenConflicts(ctx context.Context, parentPolicyID, childPolicyID string, detected []*conflict.Conflict) ([]*conflict.Conflict, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ReplaceOpenConflicts: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		DELETE FROM policy_conflicts
		WHERE parent_policy_id = $1 AND child_policy_id = $2 AND resolution_status = 'open'`,
		parentPolicyID, childPolicyID)
	if err != nil {
		return nil, fmt.Errorf("ReplaceOpenConflicts: %w", err)
	}

	stored := make([]*conflict.Conflict, 0, len(detected))
	for _, c := range detected {
		parentVal, err := json.Marshal(c.ParentValue)
		if err != nil {
			return nil, fmt.Errorf("ReplaceOpenConflicts: %w", err)
		}
		childVal, err := json.Marshal(c.ChildValue)
		if err != nil {
			return nil, fmt.Errorf("ReplaceOpenConflicts: %w", err)
		}
		row, err := scanConflict(tx.QueryRowContext(ctx, `
			INSERT INTO policy_conflicts
				(parent_policy_id, child_policy_id, field_path, parent_value,
				 child_value, conflict_type, severity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+conflictColumns,
			c.ParentPolicyID, c.ChildPolicyID, c.FieldPath, parentVal, childVal,
			string(c.ConflictType), string(c.Severity),
		).Scan)
		if err != nil {
			return nil, fmt.Errorf("ReplaceOpenConflicts: %w", err)
		}
		stored = append(stored, row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ReplaceOpenConflicts: %w", err)
	}
	return stored, nil
}

// ListConflicts returns conflicts where the instance is the child, newest
// first. An empty status lists all.
func (s *Store) ListConflicts(ctx context.Context, childPolicyID string, status conflict.ResolutionStatus) ([]*conflict.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conflictColumns+`
		FROM policy_conflicts
		WHERE child_policy_id = $1 AND ($2 = '' OR resolution_status = $2)
		ORDER BY detected_at DESC`, childPolicyID, string(status))
	if err != nil {
		return nil, fmt.Errorf("ListConflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*conflict.Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ListConflicts: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict marks a conflict resolved. Returns nil when the conflict
// does not exist or is already resolved.
func (s *Store) ResolveConflict(ctx context.Context, id, resolvedBy string) (*conflict.Conflict, error) {
	c, err := scanConflict(s.db.QueryRowContext(ctx, `
		UPDATE policy_conflicts
		SET resolution_status = 'resolved', resolved_by = $2, resolved_at = now()
		WHERE id = $1 AND resolution_status = 'open'
		RETURNING `+conflictColumns,
		id, resolvedBy,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ResolveConflict: %w", err)
	}
	return c, nil
}
