package ruleset

import "fmt"

// InheritanceMode selects how a child ruleset combines with its parent.
type InheritanceMode string

const (
	// ModeReplace: child wins on any field it sets; absent fields inherit.
	ModeReplace InheritanceMode = "replace"
	// ModeMerge: deep merge, arrays concatenated with duplicate elimination.
	ModeMerge InheritanceMode = "merge"
	// ModeAppend: deep merge, arrays concatenated keeping duplicates and
	// order (parent entries first). Used for stacked restriction lists.
	ModeAppend InheritanceMode = "append"
)

// ParseInheritanceMode validates a mode string from the catalog.
func ParseInheritanceMode(s string) (InheritanceMode, error) {
	switch InheritanceMode(s) {
	case ModeReplace, ModeMerge, ModeAppend:
		return InheritanceMode(s), nil
	}
	return "", fmt.Errorf("unknown inheritance mode %q", s)
}

// Merge combines a parent and child ruleset under the given mode.
// Pure: inputs are never mutated, no I/O, deterministic regardless of map
// iteration order. A JSON null in the child explicitly unsets the field,
// which is distinct from the field being absent (absent inherits).
func Merge(parent, child Ruleset, mode InheritanceMode) Ruleset {
	switch mode {
	case ModeReplace:
		return mergeReplace(parent, child)
	case ModeAppend:
		return Ruleset(mergeObjects(map[string]any(parent), map[string]any(child), true))
	default:
		return Ruleset(mergeObjects(map[string]any(parent), map[string]any(child), false))
	}
}

func mergeReplace(parent, child Ruleset) Ruleset {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = cloneValue(v)
	}
	for k, v := range child {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = cloneValue(v)
	}
	return Ruleset(out)
}

func mergeObjects(parent, child map[string]any, keepDuplicates bool) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = cloneValue(v)
	}
	for k, cv := range child {
		if cv == nil {
			delete(out, k)
			continue
		}
		pv, inParent := out[k]
		if !inParent {
			out[k] = cloneValue(cv)
			continue
		}
		pObj, pIsObj := pv.(map[string]any)
		cObj, cIsObj := cv.(map[string]any)
		if pIsObj && cIsObj {
			out[k] = mergeObjects(pObj, cObj, keepDuplicates)
			continue
		}
		pArr, pIsArr := pv.([]any)
		cArr, cIsArr := cv.([]any)
		if pIsArr && cIsArr {
			out[k] = mergeArrays(pArr, cArr, keepDuplicates)
			continue
		}
		// Scalar or mixed types: child wins.
		out[k] = cloneValue(cv)
	}
	return out
}

// mergeArrays concatenates parent then child entries. With keepDuplicates
// false, elements already present (by canonical value equality) are skipped.
func mergeArrays(parent, child []any, keepDuplicates bool) []any {
	out := make([]any, 0, len(parent)+len(child))
	if keepDuplicates {
		for _, v := range parent {
			out = append(out, cloneValue(v))
		}
		for _, v := range child {
			out = append(out, cloneValue(v))
		}
		return out
	}
	seen := make(map[string]struct{}, len(parent)+len(child))
	for _, v := range parent {
		key := canonicalKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cloneValue(v))
	}
	for _, v := range child {
		key := canonicalKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cloneValue(v))
	}
	return out
}
