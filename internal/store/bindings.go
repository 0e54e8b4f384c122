package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clearpath-ai/governor/internal/binding"
	"github.com/clearpath-ai/governor/internal/govern"
)

const bindingColumns = `
	id, policy_instance_id, snapshot_id, scope_path, COALESCE(partner_id, ''),
	status, activated_at, deactivated_at, last_verified_at, violation_count`

func scanBinding(scan func(dest ...any) error) (*binding.Binding, error) {
	var b binding.Binding
	err := scan(&b.ID, &b.PolicyInstanceID, &b.SnapshotID, &b.ScopePath, &b.PartnerID,
		&b.Status, &b.ActivatedAt, &b.DeactivatedAt, &b.LastVerifiedAt, &b.ViolationCount)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ActivateBinding activates a binding for a scope in one transaction. The
// scope's current active row is locked, then either superseded or, when
// supersede is unset and a different policy instance holds it, the whole
// transaction fails with ErrActivationConflict. At most one active binding
// per scope path survives any interleaving.
func (s *Store) ActivateBinding(ctx context.Context, b *binding.Binding, supersede bool) (*binding.Binding, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ActivateBinding: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var currentInstanceID string
	err = tx.QueryRowContext(ctx, `
		SELECT policy_instance_id FROM runtime_bindings
		WHERE scope_path = $1 AND status = 'active'
		FOR UPDATE`, b.ScopePath,
	).Scan(&currentInstanceID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("ActivateBinding: %w", err)
	}

	if currentInstanceID != "" {
		if !supersede && currentInstanceID != b.PolicyInstanceID {
			return nil, govern.ErrActivationConflict
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE runtime_bindings
			SET status = 'deactivated', deactivated_at = now()
			WHERE scope_path = $1 AND status = 'active'`, b.ScopePath)
		if err != nil {
			return nil, fmt.Errorf("ActivateBinding: %w", err)
		}
	}

	var partner any
	if b.PartnerID != "" {
		partner = b.PartnerID
	}
	activated, err := scanBinding(tx.QueryRowContext(ctx, `
		INSERT INTO runtime_bindings (policy_instance_id, snapshot_id, scope_path, partner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+bindingColumns,
		b.PolicyInstanceID, b.SnapshotID, b.ScopePath, partner,
	).Scan)
	// The partial unique index on (scope_path) WHERE status = 'active'
	// catches the empty-scope race where two transactions both saw no
	// current row and both inserted.
	if isUniqueViolation(err) {
		return nil, govern.ErrActivationConflict
	}
	if err != nil {
		return nil, fmt.Errorf("ActivateBinding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ActivateBinding: %w", err)
	}
	return activated, nil
}

// DeactivateBindings retires all active bindings of a policy instance.
// Returns the number of bindings retired.
func (s *Store) DeactivateBindings(ctx context.Context, policyInstanceID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runtime_bindings
		SET status = 'deactivated', deactivated_at = now()
		WHERE policy_instance_id = $1 AND status = 'active'`, policyInstanceID)
	if err != nil {
		return 0, fmt.Errorf("DeactivateBindings: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// ActiveBindingFor returns the active binding exactly on scopePath, or nil.
func (s *Store) ActiveBindingFor(ctx context.Context, scopePath string) (*binding.Binding, error) {
	b, err := scanBinding(s.db.QueryRowContext(ctx, `
		SELECT `+bindingColumns+`
		FROM runtime_bindings
		WHERE scope_path = $1 AND status = 'active'`, scopePath,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ActiveBindingFor: %w", err)
	}
	return b, nil
}

// ActiveBindingsUnder returns all active bindings at or below the prefix.
func (s *Store) ActiveBindingsUnder(ctx context.Context, pathPrefix string) ([]*binding.Binding, error) {
	pattern := pathPrefix + "/%"
	if pathPrefix == "/" {
		pattern = "/%"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bindingColumns+`
		FROM runtime_bindings
		WHERE status = 'active' AND (scope_path = $1 OR scope_path LIKE $2)
		ORDER BY scope_path`, pathPrefix, pattern)
	if err != nil {
		return nil, fmt.Errorf("ActiveBindingsUnder: %w", err)
	}
	defer rows.Close()

	var bindings []*binding.Binding
	for rows.Next() {
		b, err := scanBinding(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ActiveBindingsUnder: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// IncrementViolations atomically bumps a binding's violation counter and
// stamps the verification time.
func (s *Store) IncrementViolations(ctx context.Context, bindingID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runtime_bindings
		SET violation_count = violation_count + $2, last_verified_at = now()
		WHERE id = $1`, bindingID, delta)
	if err != nil {
		return fmt.Errorf("IncrementViolations: %w", err)
	}
	return nil
}
