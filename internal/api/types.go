package api

import (
	"encoding/json"
	"time"

	"github.com/clearpath-ai/governor/internal/crosstenant"
	"github.com/clearpath-ai/governor/internal/evaluate"
	"github.com/clearpath-ai/governor/internal/snapshot"
)

// --- POST /v1/evaluate request/response ---

// EvaluateRequest is the JSON body for POST /v1/evaluate.
type EvaluateRequest struct {
	ToolVersionID string                `json:"tool_version_id"`
	ScopePath     string                `json:"scope_path"`
	UsageContext  evaluate.UsageContext `json:"usage_context"`
	ControlLevel  string                `json:"control_level,omitempty"`
}

// EvaluateResponse carries the decision and the exact EPS it was made against.
type EvaluateResponse struct {
	Decision         string                 `json:"decision"`
	Violations       []evaluate.RuleFailure `json:"violations"`
	Warnings         []evaluate.RuleFailure `json:"warnings"`
	PolicyInstanceID string                 `json:"policy_instance_id,omitempty"`
	BindingID        string                 `json:"binding_id,omitempty"`
	EPSID            string                 `json:"eps_id,omitempty"`
	EPSHash          string                 `json:"eps_hash,omitempty"`
	ResponseTimeMs   float64                `json:"response_time_ms"`
}

// --- Scopes ---

// CreateScopeReq is the JSON body for POST /api/governor/scopes.
type CreateScopeReq struct {
	ParentID   string         `json:"parent_id,omitempty"`
	Path       string         `json:"path"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// --- Policy instances ---

// CreateInstanceReq is the JSON body for POST /api/governor/policy-instances.
type CreateInstanceReq struct {
	ScopeID         string          `json:"scope_id"`
	ToolVersionID   string          `json:"tool_version_id"`
	Ruleset         json.RawMessage `json:"ruleset"`
	InheritanceMode string          `json:"inheritance_mode,omitempty"`
	ParentPolicyID  string          `json:"parent_policy_id,omitempty"`
}

// UpdateInstanceReq is the JSON body for PATCH. Only set fields change; a
// new ruleset bumps the instance version.
type UpdateInstanceReq struct {
	Ruleset         json.RawMessage `json:"ruleset,omitempty"`
	InheritanceMode *string         `json:"inheritance_mode,omitempty"`
	Status          *string         `json:"status,omitempty"`
}

// InstanceResp is the wire form of a policy instance.
type InstanceResp struct {
	ID                string          `json:"id"`
	ScopeID           string          `json:"scope_id"`
	ScopePath         string          `json:"scope_path"`
	ToolVersionID     string          `json:"tool_version_id"`
	Ruleset           json.RawMessage `json:"ruleset"`
	InheritanceMode   string          `json:"inheritance_mode"`
	ParentPolicyID    string          `json:"parent_policy_id,omitempty"`
	Status            string          `json:"status"`
	Version           int             `json:"version"`
	CurrentSnapshotID string          `json:"current_snapshot_id,omitempty"`
}

func toInstanceResp(inst *snapshot.PolicyInstance) (*InstanceResp, error) {
	raw, err := json.Marshal(inst.Ruleset)
	if err != nil {
		return nil, err
	}
	return &InstanceResp{
		ID:                inst.ID,
		ScopeID:           inst.ScopeID,
		ScopePath:         inst.ScopePath,
		ToolVersionID:     inst.ToolVersionID,
		Ruleset:           raw,
		InheritanceMode:   string(inst.InheritanceMode),
		ParentPolicyID:    inst.ParentPolicyID,
		Status:            string(inst.Status),
		Version:           inst.Version,
		CurrentSnapshotID: inst.CurrentSnapshotID,
	}, nil
}

// --- Snapshots ---

// SnapshotResp is the wire form of an Effective Policy Snapshot.
type SnapshotResp struct {
	ID               string                         `json:"id"`
	PolicyInstanceID string                         `json:"policy_instance_id"`
	Version          int                            `json:"version"`
	ContentHash      string                         `json:"content_hash"`
	EffectiveRuleset json.RawMessage                `json:"effective_ruleset"`
	FieldProvenance  map[string]snapshot.Provenance `json:"field_provenance"`
	HashInputs       json.RawMessage                `json:"hash_inputs"`
	Provisional      bool                           `json:"provisional"`
	CreatedAt        time.Time                      `json:"created_at"`
	ActivatedAt      *time.Time                     `json:"activated_at,omitempty"`
}

func toSnapshotResp(snap *snapshot.Snapshot) (*SnapshotResp, error) {
	merged, err := json.Marshal(snap.MergedRuleset)
	if err != nil {
		return nil, err
	}
	inputs, err := json.Marshal(snap.HashInputs)
	if err != nil {
		return nil, err
	}
	return &SnapshotResp{
		ID:               snap.ID,
		PolicyInstanceID: snap.PolicyInstanceID,
		Version:          snap.Version,
		ContentHash:      snap.ContentHash,
		EffectiveRuleset: merged,
		FieldProvenance:  snap.FieldProvenance,
		HashInputs:       inputs,
		Provisional:      snap.Provisional,
		CreatedAt:        snap.CreatedAt,
		ActivatedAt:      snap.ActivatedAt,
	}, nil
}

// --- Activation & bindings ---

// ActivateReq is the JSON body for POST .../activate.
type ActivateReq struct {
	ScopePath string `json:"scope_path"`
	PartnerID string `json:"partner_id,omitempty"`
	Supersede bool   `json:"supersede,omitempty"`
}

// DeprecateResp reports how many bindings were retired.
type DeprecateResp struct {
	Deactivated int `json:"deactivated"`
}

// --- Conflicts ---

// ResolveConflictReq is the JSON body for POST .../conflicts/{id}/resolve.
type ResolveConflictReq struct {
	ResolvedBy string `json:"resolved_by"`
}

// --- Cross-tenant alignment ---

// ResolveAlignmentReq records one side's approval of a blocked field set.
type ResolveAlignmentReq struct {
	Side       string `json:"side"` // "client" or "agency"
	ApprovedBy string `json:"approved_by"`
	Resolution string `json:"resolution"`
}

// ResolveAlignmentResp is the approval record plus whether it is effective.
type ResolveAlignmentResp struct {
	Record    *crosstenant.ApprovalRecord `json:"record"`
	Effective bool                        `json:"effective"`
}

// --- API keys ---

// CreateAPIKeyReq is the JSON body for POST /api/governor/api-keys.
type CreateAPIKeyReq struct {
	Name string `json:"name"`
}

// CreateAPIKeyResp includes the plaintext API key (shown once).
type CreateAPIKeyResp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKeyResp is the wire form of a key (no plaintext).
type APIKeyResp struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// --- Validation events ---

// RuleFailureResp is one rule failure reconstructed from the event store.
type RuleFailureResp struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// ValidationEventResp is the wire form of one audit-trail event.
type ValidationEventResp struct {
	EventID          string            `json:"event_id"`
	PolicyInstanceID string            `json:"policy_instance_id"`
	EPSID            string            `json:"eps_id"`
	EPSHash          string            `json:"eps_hash"`
	BindingID        string            `json:"binding_id"`
	ToolVersionID    string            `json:"tool_version_id"`
	ScopePath        string            `json:"scope_path"`
	Decision         string            `json:"decision"`
	ControlLevel     string            `json:"control_level"`
	Violations       []RuleFailureResp `json:"violations"`
	Warnings         []RuleFailureResp `json:"warnings"`
	UsageContext     map[string]string `json:"usage_context,omitempty"`
	RequesterRole    *string           `json:"requester_role"`
	ResponseTimeMs   float32           `json:"response_time_ms"`
	Timestamp        time.Time         `json:"timestamp"`
}

// EventListResp is a page of validation events.
type EventListResp struct {
	Events   []ValidationEventResp `json:"events"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
