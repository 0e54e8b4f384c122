// Package snapshot resolves a policy instance's inheritance chain into a
// content-hashed, versioned Effective Policy Snapshot (EPS).
package snapshot

import (
	"time"

	"github.com/clearpath-ai/governor/internal/ruleset"
)

// Status of a policy instance's lifecycle.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInReview   Status = "in_review"
	StatusApproved   Status = "approved"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
)

// Enforceable reports whether a snapshot built on this instance can be
// served without the provisional flag.
func (s Status) Enforceable() bool {
	return s == StatusApproved || s == StatusActive
}

// PolicyInstance is the catalog row the manager resolves. An instance
// belongs to exactly one scope and inherits from at most one parent.
type PolicyInstance struct {
	ID                string
	ScopeID           string
	ScopePath         string
	ToolVersionID     string
	Ruleset           ruleset.Ruleset
	InheritanceMode   ruleset.InheritanceMode
	ParentPolicyID    string // empty at the root
	Status            Status
	Version           int // ruleset revision, bumped on edits after approval
	CurrentSnapshotID string
}

// Provenance records which ancestor contributed a field to the merged
// ruleset, for audit and UI drill-down.
type Provenance struct {
	SourcePolicyID string `json:"source_policy_id"`
	SourceLayer    int    `json:"source_layer"` // 0 = root ancestor
}

// Snapshot is one EPS row. Immutable once created except ActivatedAt.
type Snapshot struct {
	ID               string
	PolicyInstanceID string
	Version          int
	ContentHash      string
	MergedRuleset    ruleset.Ruleset
	FieldProvenance  map[string]Provenance
	HashInputs       []ruleset.HashInput
	Provisional      bool
	CreatedAt        time.Time
	ActivatedAt      *time.Time
}
