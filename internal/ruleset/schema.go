package ruleset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/clearpath-ai/governor/internal/govern"
)

// rulesetSchema constrains the shape of governed fields. Unknown fields are
// allowed (rulesets are extensible); known fields must have the right type
// so the merger and detector stay total.
const rulesetSchema = `{
	"type": "object",
	"properties": {
		"jurisdiction":         {"type": "array", "items": {"type": "string"}},
		"audience":             {"type": "array", "items": {"type": "string"}},
		"allowed_use_cases":    {"type": "array", "items": {"type": "string"}},
		"prohibited_use_cases": {"type": "array", "items": {"type": "string"}},
		"data_controls": {
			"type": "object",
			"properties": {
				"data_classes": {"type": "array", "items": {"type": "string"}}
			}
		},
		"retention": {
			"type": "object",
			"properties": {
				"max_retention_days": {"type": "number", "minimum": 0}
			}
		},
		"controls": {
			"type": "object",
			"properties": {
				"hitl": {
					"type": "object",
					"properties": {
						"required":  {"type": "boolean"},
						"reviewers": {"type": "array", "items": {"type": "string"}}
					}
				},
				"logging": {
					"type": "object",
					"properties": {
						"enabled": {"type": "boolean"}
					}
				}
			}
		},
		"control_level": {"enum": ["strict", "standard", "permissive"]},
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id":          {"type": "string"},
					"enforcement": {"enum": ["blocking", "advisory"]},
					"category":    {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["id", "enforcement"]
			}
		}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	var schemaObj any
	if err := json.Unmarshal([]byte(rulesetSchema), &schemaObj); err != nil {
		panic(fmt.Sprintf("ruleset schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("ruleset.json", schemaObj); err != nil {
		panic(fmt.Sprintf("ruleset schema: %v", err))
	}
	sch, err := c.Compile("ruleset.json")
	if err != nil {
		panic(fmt.Sprintf("ruleset schema: %v", err))
	}
	return sch
}

// ValidateSchema rejects malformed rulesets before they reach the merger or
// the conflict detector. Returns a *govern.SchemaInvalidError on failure.
func ValidateSchema(rs Ruleset) error {
	if err := compiledSchema.Validate(map[string]any(rs)); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return &govern.SchemaInvalidError{Detail: err.Error()}
		}
		return &govern.SchemaInvalidError{
			FieldPaths: collectErrorPaths(verr),
			Detail:     verr.Error(),
		}
	}
	return nil
}

func collectErrorPaths(verr *jsonschema.ValidationError) []string {
	var paths []string
	seen := make(map[string]struct{})
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			p := strings.Join(e.InstanceLocation, ".")
			if p == "" {
				p = "(root)"
			}
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				paths = append(paths, p)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return paths
}
