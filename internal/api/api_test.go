package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/binding"
	"github.com/clearpath-ai/governor/internal/evaluate"
	"github.com/clearpath-ai/governor/internal/ruleset"
	"github.com/clearpath-ai/governor/internal/snapshot"
	"github.com/clearpath-ai/governor/internal/storage"
)

// --- auth cache ---

func TestAuthCache_FreshHit(t *testing.T) {
	cache := newAuthCache(1 * time.Minute)
	cache.set("gvk_abc123", &authCaller{KeyID: "k1", Name: "ci"})

	caller, hit, needsRefresh := cache.get("gvk_abc123")
	if !hit {
		t.Fatal("expected cache hit")
	}
	if needsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if caller.KeyID != "k1" {
		t.Errorf("expected k1, got %s", caller.KeyID)
	}
}

func TestAuthCache_Miss(t *testing.T) {
	cache := newAuthCache(1 * time.Minute)

	caller, hit, needsRefresh := cache.get("gvk_nonexistent")
	if hit {
		t.Error("expected cache miss")
	}
	if caller != nil {
		t.Error("expected nil caller on miss")
	}
	if needsRefresh {
		t.Error("miss should not need refresh")
	}
}

func TestAuthCache_StaleHit_SignalsRefreshOnce(t *testing.T) {
	cache := newAuthCache(1 * time.Millisecond)
	cache.set("gvk_abc123", &authCaller{KeyID: "k1"})
	time.Sleep(5 * time.Millisecond)

	caller, hit, needsRefresh := cache.get("gvk_abc123")
	if !hit {
		t.Fatal("expected stale hit")
	}
	if !needsRefresh {
		t.Error("expired entry should signal refresh")
	}
	if caller.KeyID != "k1" {
		t.Error("stale hit should still return the caller")
	}

	// Second reader must not also be told to refresh.
	_, _, again := cache.get("gvk_abc123")
	if again {
		t.Error("only one goroutine should refresh a stale entry")
	}
}

func TestExtractBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
	if _, ok := extractBearerToken(r); ok {
		t.Error("missing header should not yield a token")
	}

	r.Header.Set("Authorization", "Bearer gvk_secret")
	token, ok := extractBearerToken(r)
	if !ok || token != "gvk_secret" {
		t.Errorf("expected gvk_secret, got %q ok=%v", token, ok)
	}

	r.Header.Set("Authorization", "Basic dXNlcg==")
	if _, ok := extractBearerToken(r); ok {
		t.Error("non-bearer scheme should be rejected")
	}
}

// --- evaluate handler ---

type fakeBindingStore struct {
	mu     sync.Mutex
	active map[string]*binding.Binding
}

func (s *fakeBindingStore) ActivateBinding(_ context.Context, b *binding.Binding, _ bool) (*binding.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[b.ScopePath] = b
	return b, nil
}

func (s *fakeBindingStore) DeactivateBindings(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (s *fakeBindingStore) ActiveBindingFor(_ context.Context, scopePath string) (*binding.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[scopePath], nil
}

func (s *fakeBindingStore) ActiveBindingsUnder(_ context.Context, _ string) ([]*binding.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*binding.Binding
	for _, b := range s.active {
		out = append(out, b)
	}
	return out, nil
}

func (s *fakeBindingStore) IncrementViolations(_ context.Context, _ string, _ int) error {
	return nil
}

type fakeSnapshots map[string]*snapshot.Snapshot

func (f fakeSnapshots) GetSnapshot(_ context.Context, id string) (*snapshot.Snapshot, error) {
	return f[id], nil
}

type nopWriter struct{}

func (nopWriter) Write(*storage.ValidationEvent) {}
func (nopWriter) Close()                         {}

func newTestDeps(t *testing.T) *Dependencies {
	t.Helper()
	logger := zap.NewNop()

	rs, err := ruleset.ParseRuleset(json.RawMessage(`{
		"jurisdiction": ["EU"],
		"prohibited_use_cases": ["surveillance"]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	snaps := fakeSnapshots{
		"eps1": {
			ID:               "eps1",
			PolicyInstanceID: "p1",
			Version:          1,
			ContentHash:      "deadbeef",
			MergedRuleset:    rs,
		},
	}
	bindStore := &fakeBindingStore{active: map[string]*binding.Binding{
		"/enterprise/eu": {
			ID:               "b1",
			PolicyInstanceID: "p1",
			SnapshotID:       "eps1",
			ScopePath:        "/enterprise/eu",
			Status:           binding.StatusActive,
		},
	}}
	bindings := binding.NewTracker(bindStore, logger)

	return &Dependencies{
		Bindings:  bindings,
		Evaluator: evaluate.NewEvaluator(bindings, snaps, nopWriter{}, time.Second, logger),
		Table:     ruleset.DefaultTable(),
		Logger:    logger,
		CacheTTL:  time.Minute,
	}
}

func postEvaluate(t *testing.T, deps *Dependencies, body string) (*httptest.ResponseRecorder, EvaluateResponse) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(body))
	w := httptest.NewRecorder()
	deps.handleEvaluate(w, r)

	var resp EvaluateResponse
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
	}
	return w, resp
}

func TestHandleEvaluate_Allow(t *testing.T) {
	deps := newTestDeps(t)
	w, resp := postEvaluate(t, deps, `{
		"tool_version_id": "tool-1",
		"scope_path": "/enterprise/eu/team-a",
		"usage_context": {"jurisdiction": ["EU"], "intended_use": "analytics"}
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp.Decision != "allow" {
		t.Fatalf("decision = %s, violations = %v", resp.Decision, resp.Violations)
	}
	if resp.EPSID != "eps1" || resp.EPSHash != "deadbeef" {
		t.Errorf("response must carry the EPS identity, got %s/%s", resp.EPSID, resp.EPSHash)
	}
}

func TestHandleEvaluate_DenyOnProhibitedUse(t *testing.T) {
	deps := newTestDeps(t)
	w, resp := postEvaluate(t, deps, `{
		"tool_version_id": "tool-1",
		"scope_path": "/enterprise/eu",
		"usage_context": {"jurisdiction": ["EU"], "intended_use": "surveillance"}
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp.Decision != "deny" {
		t.Fatalf("decision = %s", resp.Decision)
	}
	if len(resp.Violations) == 0 {
		t.Fatal("expected violations in response")
	}
}

func TestHandleEvaluate_UnboundScopeDenies(t *testing.T) {
	deps := newTestDeps(t)
	w, resp := postEvaluate(t, deps, `{
		"tool_version_id": "tool-1",
		"scope_path": "/other",
		"usage_context": {}
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp.Decision != "deny" {
		t.Fatalf("unbound scope must fail closed, got %s", resp.Decision)
	}
}

func TestHandleEvaluate_MissingFields(t *testing.T) {
	deps := newTestDeps(t)
	w, _ := postEvaluate(t, deps, `{"scope_path": "/enterprise/eu"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing tool_version_id, got %d", w.Code)
	}
	w, _ = postEvaluate(t, deps, `{"tool_version_id": "tool-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing scope_path, got %d", w.Code)
	}
}

func TestSnapshotCtx_AppliesConfiguredDeadline(t *testing.T) {
	deps := newTestDeps(t)
	deps.SnapshotTimeout = 50 * time.Millisecond

	ctx, cancel := deps.snapshotCtx(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline on the snapshot context")
	}
	if remaining := time.Until(deadline); remaining > 50*time.Millisecond {
		t.Fatalf("deadline too far out: %v", remaining)
	}

	deps.SnapshotTimeout = 0
	ctx, cancel = deps.snapshotCtx(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("zero timeout must not impose a deadline")
	}
}

func TestHandleListBindings_BadScopePath(t *testing.T) {
	deps := newTestDeps(t)
	r := httptest.NewRequest(http.MethodGet, "/api/governor/bindings?scope_path=no-slash", nil)
	w := httptest.NewRecorder()
	deps.handleListBindings(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed scope path, got %d", w.Code)
	}
}
