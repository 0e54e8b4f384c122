// Package conflict implements field-level conflict detection between a
// parent and child ruleset, classifying disagreements by severity using the
// shared comparison-policy table.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/clearpath-ai/governor/internal/ruleset"
)

// Severity of a detected conflict.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Type labels the kind of incompatibility detected.
type Type string

const (
	TypeValueMismatch    Type = "value_mismatch"    // strict-equality field diverged
	TypeIllegalWidening  Type = "illegal_widening"  // subset-only field widened
	TypeIllegalNarrowing Type = "illegal_narrowing" // superset-only field narrowed
)

// ResolutionStatus of a conflict record.
type ResolutionStatus string

const (
	ResolutionOpen     ResolutionStatus = "open"
	ResolutionResolved ResolutionStatus = "resolved"
)

// Conflict is one field-level disagreement between two policies. Created by
// Detect; only the resolution fields are ever mutated afterwards.
type Conflict struct {
	ID               string           `json:"id"`
	ParentPolicyID   string           `json:"parent_policy_id"`
	ChildPolicyID    string           `json:"child_policy_id"`
	FieldPath        string           `json:"field_path"`
	ParentValue      any              `json:"parent_value"`
	ChildValue       any              `json:"child_value"`
	ConflictType     Type             `json:"conflict_type"`
	Severity         Severity         `json:"severity"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	DetectedAt       time.Time        `json:"detected_at"`
}

// Description renders the disagreement for the audit trail.
func (c *Conflict) Description() string {
	return fmt.Sprintf("%s: %s (parent=%v child=%v)",
		c.FieldPath, c.ConflictType, c.ParentValue, c.ChildValue)
}

// Detect walks the union of field paths defined in either ruleset and
// records a conflict wherever both sides define a value and the child's
// diverges in a direction the field's comparison policy forbids. Pure and
// total: malformed rulesets are rejected upstream by schema validation.
func Detect(parentID, childID string, parent, child ruleset.Ruleset, table ruleset.SpecTable) []Conflict {
	parentFlat := parent.Flatten()
	childFlat := child.Flatten()

	paths := make([]string, 0, len(parentFlat))
	for p := range parentFlat {
		paths = append(paths, p)
	}
	for p := range childFlat {
		if _, inParent := parentFlat[p]; !inParent {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	now := time.Now().UTC()
	var conflicts []Conflict
	for _, path := range paths {
		pv, pOK := parentFlat[path]
		cv, cOK := childFlat[path]
		if !pOK || !cOK {
			continue // only one side governs this field
		}

		spec := table.Lookup(path)
		ctype, incompatible := classify(pv, cv, spec)
		if !incompatible {
			continue
		}

		conflicts = append(conflicts, Conflict{
			ParentPolicyID:   parentID,
			ChildPolicyID:    childID,
			FieldPath:        path,
			ParentValue:      pv,
			ChildValue:       cv,
			ConflictType:     ctype,
			Severity:         severityFor(ctype, spec),
			ResolutionStatus: ResolutionOpen,
			DetectedAt:       now,
		})
	}
	return conflicts
}

// classify decides whether the child value is semantically incompatible
// with the parent's under the field's comparison policy.
func classify(parent, child any, spec ruleset.FieldSpec) (Type, bool) {
	if ruleset.ValueEqual(parent, child) {
		return "", false
	}
	switch spec.Compare {
	case ruleset.CompareStrictEquality:
		return TypeValueMismatch, true
	case ruleset.CompareSubsetOnly:
		if !contained(child, parent, spec.LowerIsStricter) {
			return TypeIllegalWidening, true
		}
	case ruleset.CompareSupersetOnly:
		if !contained(parent, child, spec.LowerIsStricter) {
			return TypeIllegalNarrowing, true
		}
	}
	return "", false
}

// contained reports whether inner is contained in outer. Arrays use element
// containment; numbers use the declared strictness direction; everything
// else falls back to equality (already known false here).
func contained(inner, outer any, lowerIsStricter bool) bool {
	innerArr, innerIsArr := inner.([]any)
	outerArr, outerIsArr := outer.([]any)
	if innerIsArr && outerIsArr {
		return subset(innerArr, outerArr)
	}

	innerNum, innerIsNum := inner.(float64)
	outerNum, outerIsNum := outer.(float64)
	if innerIsNum && outerIsNum {
		if lowerIsStricter {
			return innerNum <= outerNum
		}
		return innerNum >= outerNum
	}

	return false
}

func subset(inner, outer []any) bool {
	for _, iv := range inner {
		found := false
		for _, ov := range outer {
			if ruleset.ValueEqual(iv, ov) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// severityFor assigns severity per the field classification: regulatory
// fields diverging toward a false allow are high; divergence that can only
// over-deny is medium; advisory fields are low.
func severityFor(ctype Type, spec ruleset.FieldSpec) Severity {
	if spec.Advisory {
		return SeverityLow
	}
	if spec.Regulatory {
		// Widening a subset-only allowance or narrowing a superset-only
		// prohibition can both let through usage the parent forbade.
		if ctype == TypeIllegalWidening || ctype == TypeIllegalNarrowing || ctype == TypeValueMismatch {
			return SeverityHigh
		}
	}
	return SeverityMedium
}
