package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clearpath-ai/governor/internal/scope"
)

func scanScope(scan func(dest ...any) error) (*scope.Scope, error) {
	var s scope.Scope
	var parentID sql.NullString
	var attrs []byte
	if err := scan(&s.ID, &parentID, &s.Path, &s.Type, &attrs); err != nil {
		return nil, err
	}
	s.ParentID = parentID.String
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &s.Attributes); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// CreateScope inserts a scope node. The path must extend the parent's path
// by exactly one segment; the root has no parent.
func (s *Store) CreateScope(ctx context.Context, sc *scope.Scope) (*scope.Scope, error) {
	path, err := scope.NormalizePath(sc.Path)
	if err != nil {
		return nil, fmt.Errorf("CreateScope: %w", err)
	}

	attrs, err := json.Marshal(sc.Attributes)
	if err != nil {
		return nil, fmt.Errorf("CreateScope: %w", err)
	}
	var parent any
	if sc.ParentID != "" {
		parent = sc.ParentID
	}

	created, err := scanScope(s.db.QueryRowContext(ctx, `
		INSERT INTO scopes (parent_id, path, type, attributes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, parent_id, path, type, attributes`,
		parent, path, sc.Type, attrs,
	).Scan)
	if err != nil {
		return nil, fmt.Errorf("CreateScope: %w", err)
	}
	return created, nil
}

// GetScope returns a scope by ID, or nil if not found.
func (s *Store) GetScope(ctx context.Context, id string) (*scope.Scope, error) {
	sc, err := scanScope(s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, path, type, attributes
		FROM scopes WHERE id = $1`, id,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetScope: %w", err)
	}
	return sc, nil
}

// GetScopeByPath returns a scope by its normalized path, or nil.
func (s *Store) GetScopeByPath(ctx context.Context, path string) (*scope.Scope, error) {
	norm, err := scope.NormalizePath(path)
	if err != nil {
		return nil, fmt.Errorf("GetScopeByPath: %w", err)
	}
	sc, err := scanScope(s.db.QueryRowContext(ctx, `
		SELECT id, parent_id, path, type, attributes
		FROM scopes WHERE path = $1`, norm,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetScopeByPath: %w", err)
	}
	return sc, nil
}

// ListScopes returns all scopes shallowest first.
func (s *Store) ListScopes(ctx context.Context) ([]*scope.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, path, type, attributes
		FROM scopes ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("ListScopes: %w", err)
	}
	defer rows.Close()

	var scopes []*scope.Scope
	for rows.Next() {
		sc, err := scanScope(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ListScopes: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}
