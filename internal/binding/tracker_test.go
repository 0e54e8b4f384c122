package binding

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/govern"
)

// memStore implements Store in memory with the same single-writer
// semantics the Postgres transaction provides.
type memStore struct {
	mu       sync.Mutex
	bindings map[string]*Binding // by id
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{bindings: make(map[string]*Binding)}
}

func (s *memStore) ActivateBinding(_ context.Context, b *Binding, supersede bool) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Binding
	for _, existing := range s.bindings {
		if existing.ScopePath == b.ScopePath && existing.Status == StatusActive {
			current = existing
			break
		}
	}
	if current != nil {
		if !supersede && current.PolicyInstanceID != b.PolicyInstanceID {
			return nil, govern.ErrActivationConflict
		}
		now := time.Now().UTC()
		current.Status = StatusDeactivated
		current.DeactivatedAt = &now
	}

	s.nextID++
	stored := *b
	stored.ID = "b" + strconv.Itoa(s.nextID)
	stored.Status = StatusActive
	stored.ActivatedAt = time.Now().UTC()
	s.bindings[stored.ID] = &stored
	return &stored, nil
}

func (s *memStore) DeactivateBindings(_ context.Context, policyInstanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, b := range s.bindings {
		if b.PolicyInstanceID == policyInstanceID && b.Status == StatusActive {
			b.Status = StatusDeactivated
			b.DeactivatedAt = &now
			n++
		}
	}
	return n, nil
}

func (s *memStore) ActiveBindingFor(_ context.Context, scopePath string) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.ScopePath == scopePath && b.Status == StatusActive {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memStore) ActiveBindingsUnder(_ context.Context, prefix string) ([]*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Binding
	for _, b := range s.bindings {
		if b.Status == StatusActive && (b.ScopePath == prefix ||
			len(b.ScopePath) > len(prefix) && b.ScopePath[:len(prefix)+1] == prefix+"/") {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) IncrementViolations(_ context.Context, bindingID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[bindingID]; ok {
		b.ViolationCount += delta
	}
	return nil
}

func activeCount(s *memStore, scopePath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bindings {
		if b.ScopePath == scopePath && b.Status == StatusActive {
			n++
		}
	}
	return n
}

func TestActivate_ConflictWithoutSupersede(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	_, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", ScopePath: "/e/eu"}, false)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tr.Activate(ctx, &Binding{PolicyInstanceID: "p2", ScopePath: "/e/eu"}, false)
	if !IsConflict(err) {
		t.Fatalf("expected activation conflict, got %v", err)
	}
	if activeCount(store, "/e/eu") != 1 {
		t.Fatal("conflict must leave exactly one active binding")
	}
}

func TestActivate_SupersedeSwapsAtomically(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	old, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", ScopePath: "/e/eu"}, false)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tr.Activate(ctx, &Binding{PolicyInstanceID: "p2", ScopePath: "/e/eu"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if activeCount(store, "/e/eu") != 1 {
		t.Fatal("supersede must leave exactly one active binding")
	}
	if store.bindings[old.ID].Status != StatusDeactivated {
		t.Fatal("old binding must be deactivated")
	}
	if store.bindings[old.ID].DeactivatedAt == nil {
		t.Fatal("deactivation timestamp must be recorded")
	}
}

func TestActivate_SameInstanceRollsForward(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	_, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", SnapshotID: "eps1", ScopePath: "/e/eu"}, false)
	if err != nil {
		t.Fatal(err)
	}

	// A newer EPS of the same instance activates without an explicit flag.
	_, err = tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", SnapshotID: "eps2", ScopePath: "/e/eu"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if activeCount(store, "/e/eu") != 1 {
		t.Fatal("roll-forward must keep a single active binding")
	}
}

func TestActivate_ConcurrentExactlyOneWins(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tr.Activate(ctx, &Binding{
				PolicyInstanceID: "p" + strconv.Itoa(i),
				ScopePath:        "/e/eu",
			}, false)
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if IsConflict(err) {
			conflicts++
		} else if err != nil {
			t.Fatal(err)
		}
	}
	if conflicts != 1 {
		t.Fatalf("expected exactly one conflict, got %d", conflicts)
	}
	if activeCount(store, "/e/eu") != 1 {
		t.Fatal("exactly one binding must be active after the race")
	}
}

// interleaveStore runs a hook before handing the call to the inner store,
// standing in for another caller committing in the same window.
type interleaveStore struct {
	*memStore
	before func()
}

func (s *interleaveStore) ActivateBinding(ctx context.Context, b *Binding, supersede bool) (*Binding, error) {
	if f := s.before; f != nil {
		s.before = nil
		f()
	}
	return s.memStore.ActivateBinding(ctx, b, supersede)
}

func TestActivate_InterleavedSupersedeStillConflicts(t *testing.T) {
	mem := newMemStore()
	store := &interleaveStore{memStore: mem}
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	if _, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", SnapshotID: "eps1", ScopePath: "/e/eu"}, false); err != nil {
		t.Fatal(err)
	}

	// p2 supersedes between p1's Activate call and the store transaction.
	// p1 never asked to supersede, so it must observe the conflict and
	// leave p2's binding in place.
	store.before = func() {
		if _, err := mem.ActivateBinding(ctx, &Binding{PolicyInstanceID: "p2", SnapshotID: "eps9", ScopePath: "/e/eu"}, true); err != nil {
			t.Fatal(err)
		}
	}

	_, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", SnapshotID: "eps2", ScopePath: "/e/eu"}, false)
	if !IsConflict(err) {
		t.Fatalf("expected activation conflict, got %v", err)
	}
	active, err := mem.ActiveBindingFor(ctx, "/e/eu")
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.PolicyInstanceID != "p2" {
		t.Fatalf("superseding binding must stay active, got %+v", active)
	}
}

func TestResolve_NearestAncestor(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	if _, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "ent", ScopePath: "/e"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "eu", ScopePath: "/e/eu"}, false); err != nil {
		t.Fatal(err)
	}

	b, err := tr.Resolve(ctx, "/e/eu/ws-3")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.PolicyInstanceID != "eu" {
		t.Fatalf("expected nearest ancestor binding, got %v", b)
	}

	b, err = tr.Resolve(ctx, "/e/us/ws-1")
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || b.PolicyInstanceID != "ent" {
		t.Fatalf("expected enterprise fallback, got %v", b)
	}

	b, err = tr.Resolve(ctx, "/other")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Fatalf("expected no binding outside the tree, got %v", b)
	}
}

func TestDeprecate_RetiresAllBindings(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	if _, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", ScopePath: "/e/eu"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Activate(ctx, &Binding{PolicyInstanceID: "p1", ScopePath: "/e/us"}, false); err != nil {
		t.Fatal(err)
	}

	n, err := tr.Deprecate(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deactivated, got %d", n)
	}
	if activeCount(store, "/e/eu")+activeCount(store, "/e/us") != 0 {
		t.Fatal("all bindings must be retired")
	}
}
