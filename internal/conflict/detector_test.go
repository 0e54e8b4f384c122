package conflict

import (
	"encoding/json"
	"testing"

	"github.com/clearpath-ai/governor/internal/ruleset"
)

func rs(t *testing.T, s string) ruleset.Ruleset {
	t.Helper()
	r, err := ruleset.ParseRuleset(json.RawMessage(s))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestDetect_NarrowingNotAConflict(t *testing.T) {
	parent := rs(t, `{"jurisdiction":["EU","UK"],"retention":{"max_retention_days":30}}`)
	child := rs(t, `{"jurisdiction":["EU"],"retention":{"max_retention_days":14}}`)

	got := Detect("p", "c", parent, child, ruleset.DefaultTable())
	if len(got) != 0 {
		t.Fatalf("child narrowed both fields in the allowed direction, got %v", got)
	}
}

func TestDetect_WideningSubsetOnlyIsHighSeverity(t *testing.T) {
	parent := rs(t, `{"jurisdiction":["EU"]}`)
	child := rs(t, `{"jurisdiction":["EU","UK"]}`)

	got := Detect("p", "c", parent, child, ruleset.DefaultTable())
	if len(got) != 1 {
		t.Fatalf("expected one conflict, got %v", got)
	}
	if got[0].ConflictType != TypeIllegalWidening {
		t.Fatalf("expected illegal_widening, got %s", got[0].ConflictType)
	}
	if got[0].Severity != SeverityHigh {
		t.Fatalf("jurisdiction is regulatory, expected high severity, got %s", got[0].Severity)
	}
	if got[0].ResolutionStatus != ResolutionOpen {
		t.Fatalf("new conflicts must be open, got %s", got[0].ResolutionStatus)
	}
}

func TestDetect_NoConstraintNeverConflicts(t *testing.T) {
	table := ruleset.SpecTable{
		"jurisdiction": {Compare: ruleset.CompareNoConstraint},
	}
	parent := rs(t, `{"jurisdiction":["EU"]}`)
	child := rs(t, `{"jurisdiction":["EU","UK"]}`)

	if got := Detect("p", "c", parent, child, table); len(got) != 0 {
		t.Fatalf("no-constraint field produced conflicts: %v", got)
	}
}

func TestDetect_RemovingProhibitionIsConflict(t *testing.T) {
	parent := rs(t, `{"prohibited_use_cases":["surveillance","profiling"]}`)
	child := rs(t, `{"prohibited_use_cases":["profiling"]}`)

	got := Detect("p", "c", parent, child, ruleset.DefaultTable())
	if len(got) != 1 {
		t.Fatalf("expected one conflict, got %v", got)
	}
	if got[0].ConflictType != TypeIllegalNarrowing {
		t.Fatalf("expected illegal_narrowing, got %s", got[0].ConflictType)
	}
	if got[0].Severity != SeverityHigh {
		t.Fatalf("prohibited_use_cases is regulatory, got %s", got[0].Severity)
	}
}

func TestDetect_AddingProhibitionAllowed(t *testing.T) {
	parent := rs(t, `{"prohibited_use_cases":["surveillance"]}`)
	child := rs(t, `{"prohibited_use_cases":["surveillance","profiling"]}`)

	if got := Detect("p", "c", parent, child, ruleset.DefaultTable()); len(got) != 0 {
		t.Fatalf("child widened a superset-only prohibition list, got %v", got)
	}
}

func TestDetect_StrictEqualityMismatch(t *testing.T) {
	parent := rs(t, `{"controls":{"hitl":{"required":true}}}`)
	child := rs(t, `{"controls":{"hitl":{"required":false}}}`)

	got := Detect("p", "c", parent, child, ruleset.DefaultTable())
	if len(got) != 1 || got[0].ConflictType != TypeValueMismatch {
		t.Fatalf("expected strict-equality mismatch, got %v", got)
	}
	if got[0].FieldPath != "controls.hitl.required" {
		t.Fatalf("expected dotted field path, got %s", got[0].FieldPath)
	}
}

func TestDetect_RaisingRetentionIsConflict(t *testing.T) {
	parent := rs(t, `{"retention":{"max_retention_days":30}}`)
	child := rs(t, `{"retention":{"max_retention_days":90}}`)

	got := Detect("p", "c", parent, child, ruleset.DefaultTable())
	if len(got) != 1 {
		t.Fatalf("raising a lower-is-stricter ceiling must conflict, got %v", got)
	}
	if got[0].Severity != SeverityHigh {
		t.Fatalf("retention is regulatory, got %s", got[0].Severity)
	}
}

func TestDetect_AdvisoryFieldIsLowSeverity(t *testing.T) {
	parent := rs(t, `{"review_cycle_months":6}`)
	child := rs(t, `{"review_cycle_months":12}`)

	got := Detect("p", "c", parent, child, ruleset.DefaultTable())
	if len(got) != 1 || got[0].Severity != SeverityLow {
		t.Fatalf("advisory field should be low severity, got %v", got)
	}
}

func TestDetect_OneSidedFieldsIgnored(t *testing.T) {
	parent := rs(t, `{"jurisdiction":["EU"]}`)
	child := rs(t, `{"audience":["internal"]}`)

	if got := Detect("p", "c", parent, child, ruleset.DefaultTable()); len(got) != 0 {
		t.Fatalf("fields defined on one side only cannot conflict, got %v", got)
	}
}

func TestDetect_EmptyRulesetsTotal(t *testing.T) {
	if got := Detect("p", "c", ruleset.Ruleset{}, ruleset.Ruleset{}, ruleset.DefaultTable()); got != nil {
		t.Fatalf("expected nil for empty inputs, got %v", got)
	}
}
