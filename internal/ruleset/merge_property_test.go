package ruleset

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genRuleset builds small random rulesets out of string keys and scalar or
// string-list values, enough to exercise every merge branch. Each value
// kind comes from its own typed map generator; the pieces are folded into
// one Ruleset, later kinds overwriting colliding keys.
func genRuleset() gopter.Gen {
	return gopter.CombineGens(
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
		gen.MapOf(gen.Identifier(), gen.IntRange(0, 365)),
		gen.MapOf(gen.Identifier(), gen.SliceOfN(3, gen.AlphaString())),
	).Map(func(parts []interface{}) Ruleset {
		rs := Ruleset{}
		for k, v := range parts[0].(map[string]string) {
			rs[k] = v
		}
		for k, v := range parts[1].(map[string]int) {
			rs[k] = float64(v)
		}
		for k, v := range parts[2].(map[string][]string) {
			list := make([]any, len(v))
			for i, s := range v {
				list[i] = s
			}
			rs[k] = list
		}
		return rs
	})
}

func TestMergeDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	for _, mode := range []InheritanceMode{ModeReplace, ModeMerge, ModeAppend} {
		mode := mode
		properties.Property(string(mode)+" merge yields identical canonical output", prop.ForAll(
			func(parent, child Ruleset) bool {
				first, err1 := Canonicalize(Merge(parent, child, mode))
				second, err2 := Canonicalize(Merge(parent, child, mode))
				if err1 != nil || err2 != nil {
					return false
				}
				return string(first) == string(second)
			},
			genRuleset(),
			genRuleset(),
		))
	}

	properties.Property("content hash is idempotent", prop.ForAll(
		func(rs Ruleset) bool {
			inputs := []HashInput{{PolicyID: "root", Version: 1}}
			h1, err1 := ContentHash(rs, inputs)
			h2, err2 := ContentHash(rs, inputs)
			return err1 == nil && err2 == nil && h1 == h2
		},
		genRuleset(),
	))

	properties.Property("parent-only fields survive merge mode", prop.ForAll(
		func(parent Ruleset) bool {
			merged := Merge(parent, Ruleset{}, ModeMerge)
			first, _ := Canonicalize(parent)
			second, _ := Canonicalize(merged)
			return string(first) == string(second)
		},
		genRuleset(),
	))

	properties.TestingRun(t)
}
