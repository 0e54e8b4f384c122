package ruleset

import (
	"encoding/json"
	"testing"
)

func mustParse(t *testing.T, s string) Ruleset {
	t.Helper()
	rs, err := ParseRuleset(json.RawMessage(s))
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func TestMerge_ReplaceChildWins(t *testing.T) {
	parent := mustParse(t, `{"jurisdiction":["EU"],"owner":"legal"}`)
	child := mustParse(t, `{"jurisdiction":["UK"]}`)

	got := Merge(parent, child, ModeReplace)

	if !ValueEqual(got["jurisdiction"], []any{"UK"}) {
		t.Fatalf("expected child jurisdiction to win, got %v", got["jurisdiction"])
	}
	if got["owner"] != "legal" {
		t.Fatalf("expected absent field to inherit from parent, got %v", got["owner"])
	}
}

func TestMerge_NullExplicitlyUnsets(t *testing.T) {
	parent := mustParse(t, `{"owner":"legal","jurisdiction":["EU"]}`)
	child := mustParse(t, `{"owner":null}`)

	for _, mode := range []InheritanceMode{ModeReplace, ModeMerge, ModeAppend} {
		got := Merge(parent, child, mode)
		if _, present := got["owner"]; present {
			t.Fatalf("mode %s: expected null to unset owner, got %v", mode, got["owner"])
		}
		if _, present := got["jurisdiction"]; !present {
			t.Fatalf("mode %s: absent field should inherit", mode)
		}
	}
}

func TestMerge_DeepMergeObjects(t *testing.T) {
	parent := mustParse(t, `{"retention":{"max_retention_days":30,"archive":true}}`)
	child := mustParse(t, `{"retention":{"max_retention_days":14}}`)

	got := Merge(parent, child, ModeMerge)

	ret := got["retention"].(map[string]any)
	if ret["max_retention_days"] != float64(14) {
		t.Fatalf("expected child scalar to win, got %v", ret["max_retention_days"])
	}
	if ret["archive"] != true {
		t.Fatalf("expected parent-only field carried through, got %v", ret["archive"])
	}
}

func TestMerge_ArraysDeduplicated(t *testing.T) {
	parent := mustParse(t, `{"jurisdiction":["EU","UK"]}`)
	child := mustParse(t, `{"jurisdiction":["UK","US"]}`)

	got := Merge(parent, child, ModeMerge)

	if !ValueEqual(got["jurisdiction"], []any{"EU", "UK", "US"}) {
		t.Fatalf("expected parent-first dedup concat, got %v", got["jurisdiction"])
	}
}

func TestMerge_AppendKeepsDuplicatesAndOrder(t *testing.T) {
	parent := mustParse(t, `{"prohibited_use_cases":["surveillance"]}`)
	child := mustParse(t, `{"prohibited_use_cases":["surveillance","profiling"]}`)

	got := Merge(parent, child, ModeAppend)

	if !ValueEqual(got["prohibited_use_cases"], []any{"surveillance", "surveillance", "profiling"}) {
		t.Fatalf("expected raw concat with parent first, got %v", got["prohibited_use_cases"])
	}
}

func TestMerge_MixedTypesChildWins(t *testing.T) {
	parent := mustParse(t, `{"control_level":{"mode":"strict"}}`)
	child := mustParse(t, `{"control_level":"permissive"}`)

	got := Merge(parent, child, ModeMerge)

	if got["control_level"] != "permissive" {
		t.Fatalf("expected child to win on type mismatch, got %v", got["control_level"])
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	parent := mustParse(t, `{"retention":{"max_retention_days":30}}`)
	child := mustParse(t, `{"retention":{"max_retention_days":14}}`)

	_ = Merge(parent, child, ModeMerge)

	if parent["retention"].(map[string]any)["max_retention_days"] != float64(30) {
		t.Fatal("parent mutated by merge")
	}
	if child["retention"].(map[string]any)["max_retention_days"] != float64(14) {
		t.Fatal("child mutated by merge")
	}
}

func TestContentHash_StableAcrossKeyOrder(t *testing.T) {
	a := mustParse(t, `{"jurisdiction":["EU"],"retention":{"max_retention_days":30}}`)
	b := mustParse(t, `{"retention":{"max_retention_days":30},"jurisdiction":["EU"]}`)
	inputs := []HashInput{{PolicyID: "p1", Version: 3}}

	ha, err := ContentHash(a, inputs)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := ContentHash(b, inputs)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("hash depends on key order: %s != %s", ha, hb)
	}
}

func TestContentHash_SensitiveToHashInputs(t *testing.T) {
	rs := mustParse(t, `{"jurisdiction":["EU"]}`)

	h1, err := ContentHash(rs, []HashInput{{PolicyID: "p1", Version: 1}})
	if err != nil {
		t.Fatal(err)
	}
	h2, err := ContentHash(rs, []HashInput{{PolicyID: "p1", Version: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("ancestor version bump must change the content hash")
	}
}

func TestFlatten_LeafPaths(t *testing.T) {
	rs := mustParse(t, `{"retention":{"max_retention_days":30},"jurisdiction":["EU"]}`)

	flat := rs.Flatten()
	if flat["retention.max_retention_days"] != float64(30) {
		t.Fatalf("expected dotted leaf path, got %v", flat)
	}
	if !ValueEqual(flat["jurisdiction"], []any{"EU"}) {
		t.Fatalf("arrays are leaves, got %v", flat["jurisdiction"])
	}
}

func TestValidateSchema_RejectsWrongTypes(t *testing.T) {
	rs := mustParse(t, `{"jurisdiction":"EU"}`)

	err := ValidateSchema(rs)
	if err == nil {
		t.Fatal("expected schema error for non-array jurisdiction")
	}
}

func TestValidateSchema_AllowsUnknownFields(t *testing.T) {
	rs := mustParse(t, `{"jurisdiction":["EU"],"custom_extension":{"x":1}}`)

	if err := ValidateSchema(rs); err != nil {
		t.Fatal(err)
	}
}
