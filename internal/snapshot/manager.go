package snapshot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/govern"
	"github.com/clearpath-ai/governor/internal/ruleset"
)

// maxChainDepth bounds the ancestor walk. Real hierarchies are a handful of
// levels; anything deeper is a data problem worth failing loudly on.
const maxChainDepth = 32

// Catalog is the persistence the manager needs. Implemented by the
// Postgres store; tests supply an in-memory fake.
type Catalog interface {
	// GetPolicyInstance returns the instance or nil when not found.
	GetPolicyInstance(ctx context.Context, id string) (*PolicyInstance, error)

	// FindSnapshotByHash returns the existing EPS for (instance, hash),
	// or nil when none exists.
	FindSnapshotByHash(ctx context.Context, policyInstanceID, contentHash string) (*Snapshot, error)

	// InsertSnapshot persists a new EPS, allocating the next monotonic
	// version for the instance. When a concurrent caller already inserted
	// the same (instance, hash), the stored winner is returned instead of
	// an error.
	InsertSnapshot(ctx context.Context, snap *Snapshot) (*Snapshot, error)
}

// Manager computes Effective Policy Snapshots.
type Manager struct {
	catalog Catalog
	table   ruleset.SpecTable
	logger  *zap.Logger
}

// NewManager creates a Manager over the given catalog and comparison table.
func NewManager(catalog Catalog, table ruleset.SpecTable, logger *zap.Logger) *Manager {
	return &Manager{catalog: catalog, table: table, logger: logger}
}

// Compute resolves the instance's ancestor chain, folds it through the
// merger, and returns the EPS for the result. Idempotent: identical inputs
// yield the existing snapshot with no new version. Never activates.
func (m *Manager) Compute(ctx context.Context, policyInstanceID string) (*Snapshot, error) {
	chain, err := m.resolveChain(ctx, policyInstanceID)
	if err != nil {
		return nil, err
	}

	merged := ruleset.Ruleset{}
	provenance := make(map[string]Provenance)
	hashInputs := make([]ruleset.HashInput, 0, len(chain))
	provisional := false

	for layer, inst := range chain {
		if err := ctx.Err(); err != nil {
			return nil, deadlineErr(err)
		}
		if err := ruleset.ValidateSchema(inst.Ruleset); err != nil {
			return nil, fmt.Errorf("policy %s: %w", inst.ID, err)
		}
		if !inst.Status.Enforceable() {
			provisional = true
		}

		merged = ruleset.Merge(merged, inst.Ruleset, inst.InheritanceMode)
		hashInputs = append(hashInputs, ruleset.HashInput{
			PolicyID: inst.ID,
			Version:  inst.Version,
		})

		// The deepest layer defining a field is its provenance; fields a
		// child never touches keep the ancestor attribution.
		for path := range inst.Ruleset.Flatten() {
			provenance[path] = Provenance{SourcePolicyID: inst.ID, SourceLayer: layer}
		}
	}

	// Drop provenance for fields that were unset along the way.
	finalPaths := merged.Flatten()
	for path := range provenance {
		if _, present := finalPaths[path]; !present {
			delete(provenance, path)
		}
	}

	hash, err := ruleset.ContentHash(merged, hashInputs)
	if err != nil {
		return nil, err
	}

	existing, err := m.catalog.FindSnapshotByHash(ctx, policyInstanceID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.logger.Debug("snapshot unchanged, reusing",
			zap.String("policy_instance_id", policyInstanceID),
			zap.String("content_hash", hash),
			zap.Int("version", existing.Version),
		)
		return existing, nil
	}

	snap := &Snapshot{
		PolicyInstanceID: policyInstanceID,
		ContentHash:      hash,
		MergedRuleset:    merged,
		FieldProvenance:  provenance,
		HashInputs:       hashInputs,
		Provisional:      provisional,
	}

	stored, err := m.catalog.InsertSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	m.logger.Info("snapshot created",
		zap.String("policy_instance_id", policyInstanceID),
		zap.String("content_hash", hash),
		zap.Int("version", stored.Version),
		zap.Bool("provisional", stored.Provisional),
	)
	return stored, nil
}

// resolveChain follows parentPolicyID to the root and returns the chain in
// root-to-leaf order. A revisit or over-deep chain is fatal.
func (m *Manager) resolveChain(ctx context.Context, leafID string) ([]*PolicyInstance, error) {
	visited := make(map[string]bool)
	var walked []string // leaf-to-root, for the error chain
	var reversed []*PolicyInstance

	id := leafID
	for id != "" {
		if err := ctx.Err(); err != nil {
			return nil, deadlineErr(err)
		}
		if visited[id] {
			return nil, &govern.CyclicInheritanceError{Chain: append(walked, id)}
		}
		if len(walked) >= maxChainDepth {
			return nil, &govern.CyclicInheritanceError{Chain: append(walked, id)}
		}
		visited[id] = true
		walked = append(walked, id)

		inst, err := m.catalog.GetPolicyInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, fmt.Errorf("policy instance %s not found", id)
		}
		reversed = append(reversed, inst)
		id = inst.ParentPolicyID
	}

	// Reverse into root-to-leaf order.
	chain := make([]*PolicyInstance, len(reversed))
	for i, inst := range reversed {
		chain[len(reversed)-1-i] = inst
	}
	return chain, nil
}

func deadlineErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return govern.ErrTimeout
	}
	return err
}
