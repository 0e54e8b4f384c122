package ruleset

// ComparePolicy declares how a child value may diverge from its parent for
// one field. The merger and the conflict detector both consult the same
// table, so merge behavior and conflict classification can never disagree.
type ComparePolicy string

const (
	// CompareStrictEquality: any divergence is a conflict.
	CompareStrictEquality ComparePolicy = "strict-equality"
	// CompareSubsetOnly: the child value must be contained in the parent's
	// (child may narrow, never widen). For numbers, "contained" means
	// stricter in the declared direction.
	CompareSubsetOnly ComparePolicy = "subset-only"
	// CompareSupersetOnly: the child must contain the parent's value
	// (child may widen, never narrow).
	CompareSupersetOnly ComparePolicy = "superset-only"
	// CompareNoConstraint: divergence is never a conflict.
	CompareNoConstraint ComparePolicy = "no-constraint"
)

// FieldSpec carries the per-field comparison policy plus classification
// used for conflict severity and cross-tenant governance.
type FieldSpec struct {
	Compare ComparePolicy

	// Regulatory marks fields governing a legal/regulatory control; a
	// widening divergence on such a field is a high-severity conflict.
	Regulatory bool

	// Governable marks fields both parties of a cross-tenant pair are
	// permitted to govern; only these enter the alignment allowlist.
	Governable bool

	// LowerIsStricter applies to numeric fields: a lower child value
	// narrows (retention ceilings, rate limits). When false, higher is
	// stricter (minimum review counts).
	LowerIsStricter bool

	// Advisory fields only ever produce low-severity conflicts.
	Advisory bool
}

// SpecTable maps a field path to its FieldSpec. Paths not in the table get
// the zero FieldSpec, whose Compare value "" is treated as no-constraint.
type SpecTable map[string]FieldSpec

// Lookup returns the spec for a path, falling back to no-constraint.
func (t SpecTable) Lookup(path string) FieldSpec {
	if spec, ok := t[path]; ok {
		return spec
	}
	return FieldSpec{Compare: CompareNoConstraint}
}

// DefaultTable covers the governed fields of the policy object model.
// Grounded in the persisted policy schema: jurisdiction/audience lists,
// prohibited and allowed use cases, data classification controls, retention
// ceilings, and human-in-the-loop review settings.
func DefaultTable() SpecTable {
	return SpecTable{
		"jurisdiction": {
			Compare:    CompareSubsetOnly,
			Regulatory: true,
			Governable: true,
		},
		"audience": {
			Compare:    CompareSubsetOnly,
			Governable: true,
		},
		"allowed_use_cases": {
			Compare:    CompareSubsetOnly,
			Governable: true,
		},
		"prohibited_use_cases": {
			// Children may add prohibitions, never remove them.
			Compare:    CompareSupersetOnly,
			Regulatory: true,
			Governable: true,
		},
		"data_controls.data_classes": {
			Compare:    CompareSubsetOnly,
			Regulatory: true,
			Governable: true,
		},
		"retention.max_retention_days": {
			Compare:         CompareSubsetOnly,
			Regulatory:      true,
			Governable:      true,
			LowerIsStricter: true,
		},
		"controls.hitl.required": {
			Compare:    CompareStrictEquality,
			Regulatory: true,
			Governable: true,
		},
		"controls.hitl.reviewers": {
			Compare:    CompareSubsetOnly,
			Governable: true,
		},
		"controls.logging.enabled": {
			Compare:    CompareStrictEquality,
			Regulatory: true,
		},
		"control_level": {
			Compare:    CompareNoConstraint,
			Governable: true,
		},
		"description": {
			Compare:  CompareNoConstraint,
			Advisory: true,
		},
		"owner": {
			Compare:  CompareNoConstraint,
			Advisory: true,
		},
		"review_cycle_months": {
			Compare:         CompareSubsetOnly,
			LowerIsStricter: true,
			Advisory:        true,
		},
	}
}
