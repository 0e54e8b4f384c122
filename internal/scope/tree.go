// Package scope models the hierarchical governance namespace. Scopes are
// addressed by materialized paths ("/enterprise/eu/workspace-3"); policies
// and runtime bindings attach to scope nodes.
package scope

import (
	"fmt"
	"sort"
	"strings"
)

// Scope is one node in the namespace.
type Scope struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Path       string         `json:"path"`
	Type       string         `json:"type"` // enterprise, region, business_unit, workspace
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NormalizePath validates and canonicalizes a scope path: leading slash,
// no empty or trailing segments.
func NormalizePath(path string) (string, error) {
	if path == "" || path[0] != '/' {
		return "", fmt.Errorf("scope path %q must start with '/'", path)
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		return "/", nil
	}
	for _, s := range segments {
		if s == "" {
			return "", fmt.Errorf("scope path %q has an empty segment", path)
		}
	}
	return "/" + strings.Join(segments, "/"), nil
}

// Ancestors returns the path's ancestor chain from root to the path itself,
// e.g. "/a/b/c" -> ["/a", "/a/b", "/a/b/c"].
func Ancestors(path string) []string {
	norm, err := NormalizePath(path)
	if err != nil || norm == "/" {
		return nil
	}
	segments := strings.Split(strings.Trim(norm, "/"), "/")
	out := make([]string, 0, len(segments))
	for i := range segments {
		out = append(out, "/"+strings.Join(segments[:i+1], "/"))
	}
	return out
}

// Covers reports whether ancestor covers path: equal, or a proper path
// prefix on a segment boundary.
func Covers(ancestor, path string) bool {
	if ancestor == path {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// MostSpecific picks, from the candidate paths, the deepest one covering
// the target path. Returns "" when none covers it. This is the
// nearest-ancestor match used for binding resolution.
func MostSpecific(target string, candidates []string) string {
	best := ""
	bestDepth := -1
	for _, c := range candidates {
		if !Covers(c, target) {
			continue
		}
		depth := strings.Count(c, "/")
		if depth > bestDepth {
			best = c
			bestDepth = depth
		}
	}
	return best
}

// EffectiveAttributes folds the ancestor chain's attributes, nearest scope
// winning on a per-key basis. The chain is ordered root to leaf.
func EffectiveAttributes(chain []Scope) map[string]any {
	out := make(map[string]any)
	for _, sc := range chain {
		for k, v := range sc.Attributes {
			out[k] = v
		}
	}
	return out
}

// ValidateChain checks that each scope's path is consistent with its
// parent's: the parent's path plus exactly one segment.
func ValidateChain(chain []Scope) error {
	byID := make(map[string]Scope, len(chain))
	for _, sc := range chain {
		byID[sc.ID] = sc
	}
	for _, sc := range chain {
		norm, err := NormalizePath(sc.Path)
		if err != nil {
			return err
		}
		if sc.ParentID == "" {
			continue
		}
		parent, ok := byID[sc.ParentID]
		if !ok {
			continue // parent outside the slice under inspection
		}
		want := parent.Path + "/" + lastSegment(norm)
		if norm != want {
			return fmt.Errorf("scope %s path %q inconsistent with parent path %q",
				sc.ID, sc.Path, parent.Path)
		}
	}
	return nil
}

// SortByDepth orders paths shallow to deep, ties broken lexically.
func SortByDepth(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '/')
	return path[idx+1:]
}
