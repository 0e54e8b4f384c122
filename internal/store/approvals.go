package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clearpath-ai/governor/internal/crosstenant"
)

const approvalColumns = `
	id, client_policy_id, agency_policy_id,
	client_approved_by, client_resolution, client_at,
	agency_approved_by, agency_resolution, agency_at,
	created_at`

func scanApproval(scan func(dest ...any) error) (*crosstenant.ApprovalRecord, error) {
	var r crosstenant.ApprovalRecord
	var clientBy, clientRes, agencyBy, agencyRes sql.NullString
	var clientAt, agencyAt sql.NullTime
	err := scan(&r.ID, &r.ClientPolicyID, &r.AgencyPolicyID,
		&clientBy, &clientRes, &clientAt,
		&agencyBy, &agencyRes, &agencyAt,
		&r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if clientAt.Valid {
		r.Client = &crosstenant.Approval{
			Side:       crosstenant.SideClient,
			ApprovedBy: clientBy.String,
			Resolution: clientRes.String,
			At:         clientAt.Time,
		}
	}
	if agencyAt.Valid {
		r.Agency = &crosstenant.Approval{
			Side:       crosstenant.SideAgency,
			ApprovedBy: agencyBy.String,
			Resolution: agencyRes.String,
			At:         agencyAt.Time,
		}
	}
	return &r, nil
}

// GetAlignmentApproval returns the approval record for a client/agency
// policy pair, or nil when neither side has recorded yet.
func (s *Store) GetAlignmentApproval(ctx context.Context, clientPolicyID, agencyPolicyID string) (*crosstenant.ApprovalRecord, error) {
	r, err := scanApproval(s.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM cross_tenant_approvals
		WHERE client_policy_id = $1 AND agency_policy_id = $2`,
		clientPolicyID, agencyPolicyID,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAlignmentApproval: %w", err)
	}
	return r, nil
}

// RecordAlignmentApproval upserts one side's approval slot. Re-recording a
// side overwrites only that side's columns, so the other party's slot is
// never disturbed.
func (s *Store) RecordAlignmentApproval(ctx context.Context, clientPolicyID, agencyPolicyID string, side crosstenant.Side, approvedBy, resolution string) (*crosstenant.ApprovalRecord, error) {
	now := time.Now().UTC()

	var clientBy, clientRes, agencyBy, agencyRes any
	var clientAt, agencyAt any
	if side == crosstenant.SideClient {
		clientBy, clientRes, clientAt = approvedBy, resolution, now
	} else {
		agencyBy, agencyRes, agencyAt = approvedBy, resolution, now
	}

	r, err := scanApproval(s.db.QueryRowContext(ctx, `
		INSERT INTO cross_tenant_approvals
			(client_policy_id, agency_policy_id,
			 client_approved_by, client_resolution, client_at,
			 agency_approved_by, agency_resolution, agency_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (client_policy_id, agency_policy_id) DO UPDATE SET
			client_approved_by = COALESCE(EXCLUDED.client_approved_by, cross_tenant_approvals.client_approved_by),
			client_resolution  = COALESCE(EXCLUDED.client_resolution,  cross_tenant_approvals.client_resolution),
			client_at          = COALESCE(EXCLUDED.client_at,          cross_tenant_approvals.client_at),
			agency_approved_by = COALESCE(EXCLUDED.agency_approved_by, cross_tenant_approvals.agency_approved_by),
			agency_resolution  = COALESCE(EXCLUDED.agency_resolution,  cross_tenant_approvals.agency_resolution),
			agency_at          = COALESCE(EXCLUDED.agency_at,          cross_tenant_approvals.agency_at)
		RETURNING `+approvalColumns,
		clientPolicyID, agencyPolicyID,
		clientBy, clientRes, clientAt,
		agencyBy, agencyRes, agencyAt,
	).Scan)
	if err != nil {
		return nil, fmt.Errorf("RecordAlignmentApproval: %w", err)
	}
	return r, nil
}
