package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clearpath-ai/governor/internal/ruleset"
	"github.com/clearpath-ai/governor/internal/snapshot"
)

// instanceRow is the scan target for policy_instances joined with its scope.
type instanceRow struct {
	ID                string
	ScopeID           string
	ScopePath         string
	ToolVersionID     string
	Ruleset           []byte
	InheritanceMode   string
	ParentPolicyID    sql.NullString
	Status            string
	Version           int
	CurrentSnapshotID sql.NullString
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *instanceRow) toInstance() (*snapshot.PolicyInstance, error) {
	rs, err := ruleset.ParseRuleset(r.Ruleset)
	if err != nil {
		return nil, err
	}
	mode, err := ruleset.ParseInheritanceMode(r.InheritanceMode)
	if err != nil {
		return nil, err
	}
	return &snapshot.PolicyInstance{
		ID:                r.ID,
		ScopeID:           r.ScopeID,
		ScopePath:         r.ScopePath,
		ToolVersionID:     r.ToolVersionID,
		Ruleset:           rs,
		InheritanceMode:   mode,
		ParentPolicyID:    r.ParentPolicyID.String,
		Status:            snapshot.Status(r.Status),
		Version:           r.Version,
		CurrentSnapshotID: r.CurrentSnapshotID.String,
	}, nil
}

const instanceColumns = `
	pi.id, pi.scope_id, s.path, pi.tool_version_id, pi.ruleset,
	pi.inheritance_mode, pi.parent_policy_id, pi.status, pi.version,
	pi.current_snapshot_id, pi.created_at, pi.updated_at`

func scanInstance(row *sql.Row) (*snapshot.PolicyInstance, error) {
	var r instanceRow
	err := row.Scan(&r.ID, &r.ScopeID, &r.ScopePath, &r.ToolVersionID, &r.Ruleset,
		&r.InheritanceMode, &r.ParentPolicyID, &r.Status, &r.Version,
		&r.CurrentSnapshotID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r.toInstance()
}

// CreatePolicyInstanceParams holds the fields for a new policy instance.
type CreatePolicyInstanceParams struct {
	ScopeID         string
	ToolVersionID   string
	Ruleset         ruleset.Ruleset
	InheritanceMode ruleset.InheritanceMode
	ParentPolicyID  string // empty at the root
}

// CreatePolicyInstance inserts a draft policy instance at version 1.
func (s *Store) CreatePolicyInstance(ctx context.Context, params CreatePolicyInstanceParams) (*snapshot.PolicyInstance, error) {
	raw, err := json.Marshal(params.Ruleset)
	if err != nil {
		return nil, fmt.Errorf("CreatePolicyInstance: %w", err)
	}
	var parent any
	if params.ParentPolicyID != "" {
		parent = params.ParentPolicyID
	}

	inst, err := scanInstance(s.db.QueryRowContext(ctx, `
		INSERT INTO policy_instances (scope_id, tool_version_id, ruleset, inheritance_mode, parent_policy_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, scope_id,
		          (SELECT path FROM scopes WHERE id = scope_id),
		          tool_version_id, ruleset, inheritance_mode, parent_policy_id,
		          status, version, current_snapshot_id, created_at, updated_at`,
		params.ScopeID, params.ToolVersionID, raw, string(params.InheritanceMode), parent,
	))
	if err != nil {
		return nil, fmt.Errorf("CreatePolicyInstance: %w", err)
	}
	return inst, nil
}

// GetPolicyInstance returns the instance by ID, or nil if not found.
func (s *Store) GetPolicyInstance(ctx context.Context, id string) (*snapshot.PolicyInstance, error) {
	inst, err := scanInstance(s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM policy_instances pi
		JOIN scopes s ON s.id = pi.scope_id
		WHERE pi.id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicyInstance: %w", err)
	}
	return inst, nil
}

// ListPolicyInstances returns all instances ordered by creation, newest first.
func (s *Store) ListPolicyInstances(ctx context.Context) ([]*snapshot.PolicyInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM policy_instances pi
		JOIN scopes s ON s.id = pi.scope_id
		ORDER BY pi.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListPolicyInstances: %w", err)
	}
	defer rows.Close()

	var instances []*snapshot.PolicyInstance
	for rows.Next() {
		var r instanceRow
		if err := rows.Scan(&r.ID, &r.ScopeID, &r.ScopePath, &r.ToolVersionID, &r.Ruleset,
			&r.InheritanceMode, &r.ParentPolicyID, &r.Status, &r.Version,
			&r.CurrentSnapshotID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListPolicyInstances: %w", err)
		}
		inst, err := r.toInstance()
		if err != nil {
			return nil, fmt.Errorf("ListPolicyInstances: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdatePolicyInstanceParams holds optional fields for partial updates.
// A new Ruleset bumps the instance version.
type UpdatePolicyInstanceParams struct {
	Ruleset         ruleset.Ruleset
	InheritanceMode *string
	Status          *string
}

// UpdatePolicyInstance applies a partial update. Only provided fields change.
func (s *Store) UpdatePolicyInstance(ctx context.Context, id string, params UpdatePolicyInstanceParams) (*snapshot.PolicyInstance, error) {
	var raw []byte
	if params.Ruleset != nil {
		var err error
		raw, err = json.Marshal(params.Ruleset)
		if err != nil {
			return nil, fmt.Errorf("UpdatePolicyInstance: %w", err)
		}
	}

	inst, err := scanInstance(s.db.QueryRowContext(ctx, `
		UPDATE policy_instances pi SET
			ruleset          = COALESCE($2::jsonb, ruleset),
			inheritance_mode = COALESCE($3, inheritance_mode),
			status           = COALESCE($4, status),
			version          = version + CASE WHEN $2::jsonb IS NULL THEN 0 ELSE 1 END,
			updated_at       = now()
		WHERE pi.id = $1
		RETURNING pi.id, pi.scope_id,
		          (SELECT path FROM scopes WHERE id = pi.scope_id),
		          pi.tool_version_id, pi.ruleset, pi.inheritance_mode, pi.parent_policy_id,
		          pi.status, pi.version, pi.current_snapshot_id, pi.created_at, pi.updated_at`,
		id, raw, params.InheritanceMode, params.Status,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicyInstance: %w", err)
	}
	return inst, nil
}

// SetCurrentSnapshot points the instance at its freshly computed EPS.
func (s *Store) SetCurrentSnapshot(ctx context.Context, instanceID, snapshotID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE policy_instances SET current_snapshot_id = $2, updated_at = now()
		WHERE id = $1`, instanceID, snapshotID)
	if err != nil {
		return fmt.Errorf("SetCurrentSnapshot: %w", err)
	}
	return nil
}
