package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/binding"
	"github.com/clearpath-ai/governor/internal/scope"
)

// handleActivate implements POST .../policy-instances/{id}/activate.
// Binds the instance's current EPS to a scope. At most one binding per
// scope is active; a different instance's binding is only displaced when
// the request sets supersede.
func (d *Dependencies) handleActivate(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}

	var req ActivateReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	scopePath := req.ScopePath
	if scopePath == "" {
		scopePath = inst.ScopePath
	}
	norm, err := scope.NormalizePath(scopePath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	if !inst.Status.Enforceable() {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "policy instance is not approved"})
		return
	}

	snap, err := d.Store.GetCurrentSnapshot(r.Context(), inst.ID)
	if err != nil {
		d.Logger.Error("get current snapshot failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load snapshot"})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "no snapshot computed for this instance"})
		return
	}
	if snap.Provisional {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "provisional snapshot cannot be activated"})
		return
	}

	activated, err := d.Bindings.Activate(r.Context(), &binding.Binding{
		PolicyInstanceID: inst.ID,
		SnapshotID:       snap.ID,
		ScopePath:        norm,
		PartnerID:        req.PartnerID,
	}, req.Supersede)
	if binding.IsConflict(err) {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "scope already has an active binding; set supersede to replace it"})
		return
	}
	if err != nil {
		d.Logger.Error("activate binding failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to activate binding"})
		return
	}

	if err := d.Store.MarkSnapshotActivated(r.Context(), snap.ID); err != nil {
		d.Logger.Error("mark snapshot activated failed", zap.Error(err))
	}
	if inst.Status != "active" {
		status := "active"
		if _, err := d.Store.UpdatePolicyInstance(r.Context(), inst.ID,
			storeUpdateStatus(status)); err != nil {
			d.Logger.Error("mark instance active failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, activated)
}

// handleDeprecate implements POST .../policy-instances/{id}/deprecate.
// Retires the instance and all of its active bindings.
func (d *Dependencies) handleDeprecate(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}

	n, err := d.Bindings.Deprecate(r.Context(), inst.ID)
	if err != nil {
		d.Logger.Error("deprecate bindings failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to deprecate bindings"})
		return
	}

	status := "deprecated"
	if _, err := d.Store.UpdatePolicyInstance(r.Context(), inst.ID,
		storeUpdateStatus(status)); err != nil {
		d.Logger.Error("mark instance deprecated failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, DeprecateResp{Deactivated: n})
}

// handleListBindings implements GET /api/governor/bindings?scope_path=...
// Lists active bindings at or below the given scope; defaults to the root.
func (d *Dependencies) handleListBindings(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("scope_path")
	if prefix == "" {
		prefix = "/"
	}
	norm, err := scope.NormalizePath(prefix)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	bindings, err := d.Bindings.List(r.Context(), norm)
	if err != nil {
		d.Logger.Error("list bindings failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list bindings"})
		return
	}
	if bindings == nil {
		bindings = []*binding.Binding{}
	}
	writeJSON(w, http.StatusOK, bindings)
}
