// Package binding tracks which Effective Policy Snapshot is enforced for
// which scope: the activation lifecycle, supersede semantics, and violation
// counters. The at-most-one-active-binding-per-scope invariant is upheld by
// a single store transaction, never by two independent writes.
package binding

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/govern"
)

// Status of a runtime binding. Lifecycle: none -> active -> deactivated.
type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// Binding records one EPS enforcement for a scope.
type Binding struct {
	ID               string     `json:"id"`
	PolicyInstanceID string     `json:"policy_instance_id"`
	SnapshotID       string     `json:"snapshot_id"`
	ScopePath        string     `json:"scope_path"`
	PartnerID        string     `json:"partner_id,omitempty"`
	Status           Status     `json:"status"`
	ActivatedAt      time.Time  `json:"activated_at"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
	LastVerifiedAt   *time.Time `json:"last_verified_at,omitempty"`
	ViolationCount   int        `json:"violation_count"`
}

// Store is the transactional persistence the tracker requires.
type Store interface {
	// ActivateBinding atomically deactivates the scope's current active
	// binding (when supersede is set) and activates the new one. Without
	// supersede, an existing active binding under a different policy
	// instance makes the whole transaction fail with ErrActivationConflict.
	ActivateBinding(ctx context.Context, b *Binding, supersede bool) (*Binding, error)

	// DeactivateBindings retires all active bindings of a policy instance.
	DeactivateBindings(ctx context.Context, policyInstanceID string) (int, error)

	// ActiveBindingFor returns the active binding exactly on scopePath,
	// or nil when the scope has none.
	ActiveBindingFor(ctx context.Context, scopePath string) (*Binding, error)

	// ActiveBindingsUnder returns all active bindings whose scope path
	// covers or descends from the given prefix.
	ActiveBindingsUnder(ctx context.Context, pathPrefix string) ([]*Binding, error)

	// IncrementViolations atomically bumps a binding's violation counter.
	IncrementViolations(ctx context.Context, bindingID string, delta int) error
}

// Tracker mediates binding lifecycle operations.
type Tracker struct {
	store  Store
	logger *zap.Logger
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Activate binds a snapshot to a scope. The same policy instance may
// re-activate (a newer EPS supersedes its own predecessor implicitly); a
// different instance requires the explicit supersede flag. Both decisions
// are made by the store inside the activation transaction, under the row
// lock; a read here would race concurrent activations.
func (t *Tracker) Activate(ctx context.Context, b *Binding, supersede bool) (*Binding, error) {
	stored, err := t.store.ActivateBinding(ctx, b, supersede)
	if err != nil {
		return nil, err
	}
	t.logger.Info("binding activated",
		zap.String("binding_id", stored.ID),
		zap.String("policy_instance_id", stored.PolicyInstanceID),
		zap.String("scope_path", stored.ScopePath),
		zap.Bool("superseded", supersede),
	)
	return stored, nil
}

// Deprecate retires every active binding of a policy instance, preserving
// historical rows for audit.
func (t *Tracker) Deprecate(ctx context.Context, policyInstanceID string) (int, error) {
	n, err := t.store.DeactivateBindings(ctx, policyInstanceID)
	if err != nil {
		return 0, err
	}
	t.logger.Info("bindings deactivated",
		zap.String("policy_instance_id", policyInstanceID),
		zap.Int("count", n),
	)
	return n, nil
}

// Resolve finds the active binding governing scopePath via nearest-ancestor
// match: the deepest active binding whose scope covers the path.
func (t *Tracker) Resolve(ctx context.Context, scopePath string) (*Binding, error) {
	// Exact match short-circuits the ancestor walk.
	b, err := t.store.ActiveBindingFor(ctx, scopePath)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b, nil
	}

	// Walk ancestors deep to shallow.
	ancestors := ancestorsOf(scopePath)
	for i := len(ancestors) - 1; i >= 0; i-- {
		b, err := t.store.ActiveBindingFor(ctx, ancestors[i])
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
	}
	return nil, nil
}

// List returns the active bindings at or below a scope prefix, for
// dashboard introspection.
func (t *Tracker) List(ctx context.Context, pathPrefix string) ([]*Binding, error) {
	return t.store.ActiveBindingsUnder(ctx, pathPrefix)
}

// RecordViolations bumps the binding's counter after an evaluation that
// produced violations.
func (t *Tracker) RecordViolations(ctx context.Context, bindingID string, count int) error {
	if count <= 0 {
		return nil
	}
	return t.store.IncrementViolations(ctx, bindingID, count)
}

// IsConflict reports whether err is the activation race outcome.
func IsConflict(err error) bool {
	return errors.Is(err, govern.ErrActivationConflict)
}

func ancestorsOf(path string) []string {
	var out []string
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[:i])
		}
	}
	return out
}
