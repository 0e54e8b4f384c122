// Package govern holds the engine-wide error taxonomy shared by the
// snapshot, evaluation, and binding layers.
package govern

import (
	"errors"
	"fmt"
	"strings"
)

// ErrActivationConflict is returned when a binding activation races with an
// existing active binding for the same scope and no supersede was requested.
// Recoverable: the caller may retry with supersede after re-reading state.
var ErrActivationConflict = errors.New("activation conflict: scope already has an active binding")

// ErrTimeout is returned when a snapshot computation or evaluation exceeds
// its deadline. Callers treat it as a deny, never as an allow.
var ErrTimeout = errors.New("operation exceeded deadline")

// CyclicInheritanceError is fatal: a policy instance's parent chain revisits
// an instance. Carries the chain walked so far for the audit trail.
type CyclicInheritanceError struct {
	Chain []string // policy instance ids in walk order, ending at the revisit
}

func (e *CyclicInheritanceError) Error() string {
	return fmt.Sprintf("cyclic inheritance: %s", strings.Join(e.Chain, " -> "))
}

// SchemaInvalidError rejects a malformed ruleset before it reaches the
// merger or detector. FieldPaths lists the offending locations.
type SchemaInvalidError struct {
	FieldPaths []string
	Detail     string
}

func (e *SchemaInvalidError) Error() string {
	if len(e.FieldPaths) == 0 {
		return "ruleset schema invalid: " + e.Detail
	}
	return fmt.Sprintf("ruleset schema invalid at [%s]: %s",
		strings.Join(e.FieldPaths, ", "), e.Detail)
}
