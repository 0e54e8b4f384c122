package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/binding"
	"github.com/clearpath-ai/governor/internal/chread"
	"github.com/clearpath-ai/governor/internal/evaluate"
	"github.com/clearpath-ai/governor/internal/ruleset"
	"github.com/clearpath-ai/governor/internal/snapshot"
	"github.com/clearpath-ai/governor/internal/store"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store     *store.Store
	Snapshots *snapshot.Manager
	Bindings  *binding.Tracker
	Evaluator *evaluate.Evaluator
	Table     ruleset.SpecTable
	Reader    *chread.Reader // nil if ClickHouse unavailable
	Logger    *zap.Logger
	CacheTTL  time.Duration

	// SnapshotTimeout bounds one snapshot computation. Zero means the
	// bare request context.
	SnapshotTimeout time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Runtime validation (auth required via Bearer gvk_ token)
	mux.HandleFunc("POST /v1/evaluate", deps.authMiddleware(deps.handleEvaluate))

	// Scope tree (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/governor/scopes", deps.handleCreateScope)
	mux.HandleFunc("GET /api/governor/scopes", deps.handleListScopes)

	// Policy instance CRUD
	mux.HandleFunc("POST /api/governor/policy-instances", deps.handleCreateInstance)
	mux.HandleFunc("GET /api/governor/policy-instances", deps.handleListInstances)
	mux.HandleFunc("GET /api/governor/policy-instances/{instance_id}", deps.handleGetInstance)
	mux.HandleFunc("PATCH /api/governor/policy-instances/{instance_id}", deps.handleUpdateInstance)

	// Snapshot resolution
	mux.HandleFunc("POST /api/governor/policy-instances/{instance_id}/snapshot", deps.handleComputeSnapshot)
	mux.HandleFunc("GET /api/governor/policy-instances/{instance_id}/snapshot", deps.handleGetCurrentSnapshot)
	mux.HandleFunc("GET /api/governor/policy-instances/{instance_id}/versions", deps.handleListVersions)

	// Activation & runtime bindings
	mux.HandleFunc("POST /api/governor/policy-instances/{instance_id}/activate", deps.handleActivate)
	mux.HandleFunc("POST /api/governor/policy-instances/{instance_id}/deprecate", deps.handleDeprecate)
	mux.HandleFunc("GET /api/governor/bindings", deps.handleListBindings)

	// Conflict detection & resolution
	mux.HandleFunc("GET /api/governor/policy-instances/{instance_id}/conflicts", deps.handleListConflicts)
	mux.HandleFunc("POST /api/governor/policy-instances/{instance_id}/conflicts/{conflict_id}/resolve", deps.handleResolveConflict)

	// Cross-tenant alignment
	mux.HandleFunc("POST /api/governor/cross-tenant/{client_id}/{agency_id}/align", deps.handleAlign)
	mux.HandleFunc("POST /api/governor/cross-tenant/{client_id}/{agency_id}/resolve", deps.handleResolveAlignment)

	// Events & analytics (audit trail)
	mux.HandleFunc("GET /api/governor/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/governor/events/{event_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/governor/analytics", deps.handleGetAnalytics)

	// API key management
	mux.HandleFunc("POST /api/governor/api-keys", deps.handleCreateAPIKey)
	mux.HandleFunc("GET /api/governor/api-keys", deps.handleListAPIKeys)
	mux.HandleFunc("DELETE /api/governor/api-keys/{key_id}", deps.handleRevokeAPIKey)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
