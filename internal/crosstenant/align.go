// Package crosstenant harmonizes two independently owned policies (client
// and agency) governing the same workspace. Neither side is treated as
// parent: detection runs symmetrically over an allowlist of fields both
// parties may govern, low/medium disagreements harmonize automatically with
// the more restrictive value winning, and high-severity disagreements
// require one approval from each side before any resolution takes effect.
package crosstenant

import (
	"fmt"
	"sort"
	"time"

	"github.com/clearpath-ai/governor/internal/conflict"
	"github.com/clearpath-ai/governor/internal/ruleset"
)

// Side identifies which party an approval came from.
type Side string

const (
	SideClient Side = "client"
	SideAgency Side = "agency"
)

// ParseSide validates an approver role string.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideClient, SideAgency:
		return Side(s), nil
	}
	return "", fmt.Errorf("approver role must be %q or %q, got %q", SideClient, SideAgency, s)
}

// Alignment is the outcome of a symmetric detection pass.
type Alignment struct {
	ClientPolicyID string              `json:"client_policy_id"`
	AgencyPolicyID string              `json:"agency_policy_id"`
	Conflicts      []conflict.Conflict `json:"conflicts"`
	// Harmonized holds the tightened values for auto-resolved fields.
	Harmonized map[string]any `json:"harmonized,omitempty"`
	// BlockedFields need dual approval before harmonization.
	BlockedFields []string `json:"blocked_fields,omitempty"`
}

// Align runs the detector symmetrically over the allowlisted fields. When
// allowlist is nil, every Governable field in the table is eligible.
func Align(clientID, agencyID string, client, agency ruleset.Ruleset, table ruleset.SpecTable, allowlist []string) *Alignment {
	eligible := allowlistSet(table, allowlist)

	clientFlat := client.Flatten()
	agencyFlat := agency.Flatten()

	paths := make([]string, 0, len(clientFlat))
	for p := range clientFlat {
		if _, both := agencyFlat[p]; both && eligible[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	out := &Alignment{
		ClientPolicyID: clientID,
		AgencyPolicyID: agencyID,
		Harmonized:     map[string]any{},
	}
	now := time.Now().UTC()

	for _, path := range paths {
		cv, av := clientFlat[path], agencyFlat[path]
		if ruleset.ValueEqual(cv, av) {
			continue
		}
		spec := table.Lookup(path)
		severity := symmetricSeverity(spec)

		out.Conflicts = append(out.Conflicts, conflict.Conflict{
			ParentPolicyID:   clientID,
			ChildPolicyID:    agencyID,
			FieldPath:        path,
			ParentValue:      cv,
			ChildValue:       av,
			ConflictType:     conflict.TypeValueMismatch,
			Severity:         severity,
			ResolutionStatus: conflict.ResolutionOpen,
			DetectedAt:       now,
		})

		if severity == conflict.SeverityHigh {
			out.BlockedFields = append(out.BlockedFields, path)
			continue
		}
		if tightened, ok := tighten(cv, av, spec); ok {
			out.Harmonized[path] = tightened
		} else {
			out.BlockedFields = append(out.BlockedFields, path)
		}
	}
	if len(out.Harmonized) == 0 {
		out.Harmonized = nil
	}
	return out
}

func allowlistSet(table ruleset.SpecTable, allowlist []string) map[string]bool {
	out := make(map[string]bool)
	if allowlist != nil {
		for _, p := range allowlist {
			out[p] = true
		}
		return out
	}
	for p, spec := range table {
		if spec.Governable {
			out[p] = true
		}
	}
	return out
}

// symmetricSeverity: with no parent/child relation, any divergence on a
// regulatory field could relax one party's control, so it is high.
func symmetricSeverity(spec ruleset.FieldSpec) conflict.Severity {
	if spec.Advisory {
		return conflict.SeverityLow
	}
	if spec.Regulatory {
		return conflict.SeverityHigh
	}
	return conflict.SeverityMedium
}

// tighten picks the more restrictive of two values. Allowance lists
// (subset-only) intersect, restriction lists (superset-only) union,
// numbers take the stricter end, booleans prefer the enabled control.
func tighten(a, b any, spec ruleset.FieldSpec) (any, bool) {
	aArr, aIsArr := a.([]any)
	bArr, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		switch spec.Compare {
		case ruleset.CompareSupersetOnly:
			return unionValues(aArr, bArr), true
		default:
			return intersectValues(aArr, bArr), true
		}
	}

	aNum, aIsNum := a.(float64)
	bNum, bIsNum := b.(float64)
	if aIsNum && bIsNum {
		if spec.LowerIsStricter {
			if aNum < bNum {
				return aNum, true
			}
			return bNum, true
		}
		if aNum > bNum {
			return aNum, true
		}
		return bNum, true
	}

	aBool, aIsBool := a.(bool)
	bBool, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		return aBool || bBool, true
	}

	return nil, false
}

func intersectValues(a, b []any) []any {
	out := []any{}
	for _, av := range a {
		for _, bv := range b {
			if ruleset.ValueEqual(av, bv) {
				out = append(out, av)
				break
			}
		}
	}
	return out
}

func unionValues(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	seen := map[string]bool{}
	for _, v := range append(append([]any{}, a...), b...) {
		key := fmt.Sprintf("%v", v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// Approval is one side's recorded decision.
type Approval struct {
	Side       Side      `json:"side"`
	ApprovedBy string    `json:"approved_by"`
	Resolution string    `json:"resolution"`
	At         time.Time `json:"at"`
}

// ApprovalRecord models dual approval as two explicit slots rather than a
// flag flipped twice, so partial state stays inspectable and audit-safe.
type ApprovalRecord struct {
	ID             string    `json:"id"`
	ClientPolicyID string    `json:"client_policy_id"`
	AgencyPolicyID string    `json:"agency_policy_id"`
	Client         *Approval `json:"client,omitempty"`
	Agency         *Approval `json:"agency,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Record fills one side's slot. Re-recording the same side overwrites that
// side's own slot only; it can never complete the approval alone.
func (r *ApprovalRecord) Record(side Side, approvedBy, resolution string) {
	a := &Approval{
		Side:       side,
		ApprovedBy: approvedBy,
		Resolution: resolution,
		At:         time.Now().UTC(),
	}
	if side == SideClient {
		r.Client = a
		return
	}
	r.Agency = a
}

// Effective reports whether both sides independently recorded the same
// resolution. Only then may the harmonization activate.
func (r *ApprovalRecord) Effective() bool {
	return r.Client != nil && r.Agency != nil &&
		r.Client.Resolution == r.Agency.Resolution
}
