package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clearpath-ai/governor/internal/snapshot"
)

const snapshotColumns = `
	id, policy_instance_id, version, content_hash, merged_ruleset,
	field_provenance, hash_inputs, provisional, created_at, activated_at`

type snapshotRow struct {
	snap       snapshot.Snapshot
	merged     []byte
	provenance []byte
	hashInputs []byte
}

func (r *snapshotRow) dest() []any {
	return []any{
		&r.snap.ID, &r.snap.PolicyInstanceID, &r.snap.Version, &r.snap.ContentHash,
		&r.merged, &r.provenance, &r.hashInputs, &r.snap.Provisional,
		&r.snap.CreatedAt, &r.snap.ActivatedAt,
	}
}

func (r *snapshotRow) toSnapshot() (*snapshot.Snapshot, error) {
	if err := json.Unmarshal(r.merged, &r.snap.MergedRuleset); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.provenance, &r.snap.FieldProvenance); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.hashInputs, &r.snap.HashInputs); err != nil {
		return nil, err
	}
	return &r.snap, nil
}

// FindSnapshotByHash returns the EPS with the given content hash for the
// instance, or nil when none exists. Snapshot computation is idempotent on
// (policy_instance_id, content_hash).
func (s *Store) FindSnapshotByHash(ctx context.Context, policyInstanceID, contentHash string) (*snapshot.Snapshot, error) {
	var r snapshotRow
	err := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM policy_snapshots
		WHERE policy_instance_id = $1 AND content_hash = $2`,
		policyInstanceID, contentHash,
	).Scan(r.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindSnapshotByHash: %w", err)
	}
	snap, err := r.toSnapshot()
	if err != nil {
		return nil, fmt.Errorf("FindSnapshotByHash: %w", err)
	}
	return snap, nil
}

// InsertSnapshot persists a new EPS, allocating the next version for the
// instance inside a transaction. A concurrent insert of the same
// (instance, hash) trips the unique constraint; the stored winner is then
// read back and returned so both callers observe one row.
func (s *Store) InsertSnapshot(ctx context.Context, snap *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	merged, err := json.Marshal(snap.MergedRuleset)
	if err != nil {
		return nil, fmt.Errorf("InsertSnapshot: %w", err)
	}
	provenance, err := json.Marshal(snap.FieldProvenance)
	if err != nil {
		return nil, fmt.Errorf("InsertSnapshot: %w", err)
	}
	hashInputs, err := json.Marshal(snap.HashInputs)
	if err != nil {
		return nil, fmt.Errorf("InsertSnapshot: %w", err)
	}

	// Version allocation races with concurrent inserts for the same
	// instance. A duplicate hash returns the stored winner; a duplicate
	// version (different hash) retries with a fresh MAX(version).
	for attempt := 0; attempt < 3; attempt++ {
		var r snapshotRow
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO policy_snapshots
				(policy_instance_id, version, content_hash, merged_ruleset,
				 field_provenance, hash_inputs, provisional)
			SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6
			FROM policy_snapshots WHERE policy_instance_id = $1
			RETURNING `+snapshotColumns,
			snap.PolicyInstanceID, snap.ContentHash, merged, provenance, hashInputs, snap.Provisional,
		).Scan(r.dest()...)
		if isUniqueViolation(err) {
			existing, ferr := s.FindSnapshotByHash(ctx, snap.PolicyInstanceID, snap.ContentHash)
			if ferr != nil {
				return nil, fmt.Errorf("InsertSnapshot: %w", ferr)
			}
			if existing != nil {
				return existing, nil
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("InsertSnapshot: %w", err)
		}
		stored, err := r.toSnapshot()
		if err != nil {
			return nil, fmt.Errorf("InsertSnapshot: %w", err)
		}
		return stored, nil
	}
	return nil, fmt.Errorf("InsertSnapshot: version contention: %w", err)
}

// GetSnapshot returns an EPS by ID, or nil if not found.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	var r snapshotRow
	err := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM policy_snapshots WHERE id = $1`, id,
	).Scan(r.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetSnapshot: %w", err)
	}
	snap, err := r.toSnapshot()
	if err != nil {
		return nil, fmt.Errorf("GetSnapshot: %w", err)
	}
	return snap, nil
}

// GetCurrentSnapshot returns the instance's most recent EPS, or nil when
// the instance has never been computed.
func (s *Store) GetCurrentSnapshot(ctx context.Context, policyInstanceID string) (*snapshot.Snapshot, error) {
	var r snapshotRow
	err := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM policy_snapshots
		WHERE policy_instance_id = $1
		ORDER BY version DESC LIMIT 1`, policyInstanceID,
	).Scan(r.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetCurrentSnapshot: %w", err)
	}
	snap, err := r.toSnapshot()
	if err != nil {
		return nil, fmt.Errorf("GetCurrentSnapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshotVersions returns all EPS versions of an instance, newest first.
func (s *Store) ListSnapshotVersions(ctx context.Context, policyInstanceID string) ([]*snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM policy_snapshots
		WHERE policy_instance_id = $1
		ORDER BY version DESC`, policyInstanceID)
	if err != nil {
		return nil, fmt.Errorf("ListSnapshotVersions: %w", err)
	}
	defer rows.Close()

	var snaps []*snapshot.Snapshot
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("ListSnapshotVersions: %w", err)
		}
		snap, err := r.toSnapshot()
		if err != nil {
			return nil, fmt.Errorf("ListSnapshotVersions: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// MarkSnapshotActivated stamps activated_at the first time an EPS is bound.
func (s *Store) MarkSnapshotActivated(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE policy_snapshots SET activated_at = COALESCE(activated_at, now())
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("MarkSnapshotActivated: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
