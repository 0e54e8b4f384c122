package scope

import "testing"

func TestNormalizePath(t *testing.T) {
	got, err := NormalizePath("/enterprise/eu/workspace-3/")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/enterprise/eu/workspace-3" {
		t.Fatalf("unexpected normalization: %s", got)
	}

	if _, err := NormalizePath("enterprise/eu"); err == nil {
		t.Fatal("expected error for missing leading slash")
	}
	if _, err := NormalizePath("/enterprise//eu"); err == nil {
		t.Fatal("expected error for empty segment")
	}
}

func TestAncestors(t *testing.T) {
	got := Ancestors("/enterprise/eu/workspace-3")
	want := []string{"/enterprise", "/enterprise/eu", "/enterprise/eu/workspace-3"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCovers(t *testing.T) {
	if !Covers("/enterprise/eu", "/enterprise/eu/workspace-3") {
		t.Fatal("ancestor should cover descendant")
	}
	if !Covers("/enterprise/eu", "/enterprise/eu") {
		t.Fatal("path covers itself")
	}
	if Covers("/enterprise/eu", "/enterprise/eu-west") {
		t.Fatal("prefix match must respect segment boundaries")
	}
}

func TestMostSpecific(t *testing.T) {
	candidates := []string{"/enterprise", "/enterprise/eu", "/enterprise/us"}

	got := MostSpecific("/enterprise/eu/workspace-3", candidates)
	if got != "/enterprise/eu" {
		t.Fatalf("expected nearest ancestor, got %s", got)
	}

	if got := MostSpecific("/other", candidates); got != "" {
		t.Fatalf("expected no match, got %s", got)
	}
}

func TestEffectiveAttributes(t *testing.T) {
	chain := []Scope{
		{ID: "e", Path: "/enterprise", Attributes: map[string]any{"region": "global", "data_class": "internal"}},
		{ID: "eu", ParentID: "e", Path: "/enterprise/eu", Attributes: map[string]any{"region": "eu"}},
	}

	attrs := EffectiveAttributes(chain)
	if attrs["region"] != "eu" {
		t.Fatalf("nearest scope must override, got %v", attrs["region"])
	}
	if attrs["data_class"] != "internal" {
		t.Fatalf("ancestor attribute must inherit, got %v", attrs["data_class"])
	}
}

func TestValidateChain(t *testing.T) {
	ok := []Scope{
		{ID: "e", Path: "/enterprise"},
		{ID: "eu", ParentID: "e", Path: "/enterprise/eu"},
	}
	if err := ValidateChain(ok); err != nil {
		t.Fatal(err)
	}

	bad := []Scope{
		{ID: "e", Path: "/enterprise"},
		{ID: "eu", ParentID: "e", Path: "/other/eu"},
	}
	if err := ValidateChain(bad); err == nil {
		t.Fatal("expected inconsistency error")
	}
}
