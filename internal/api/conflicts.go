package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/conflict"
)

// handleListConflicts implements GET .../policy-instances/{id}/conflicts.
// Runs detection against the instance's parent, refreshes the open set,
// and returns the stored rows. ?status= filters (open, resolved).
func (d *Dependencies) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}

	if inst.ParentPolicyID != "" {
		parent, err := d.Store.GetPolicyInstance(r.Context(), inst.ParentPolicyID)
		if err != nil {
			d.Logger.Error("get parent instance failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load parent instance"})
			return
		}
		if parent != nil {
			detected := conflict.Detect(parent.ID, inst.ID, parent.Ruleset, inst.Ruleset, d.Table)
			refs := make([]*conflict.Conflict, len(detected))
			for i := range detected {
				refs[i] = &detected[i]
			}
			if _, err := d.Store.ReplaceOpenConflicts(r.Context(), parent.ID, inst.ID, refs); err != nil {
				d.Logger.Error("replace open conflicts failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to refresh conflicts"})
				return
			}
		}
	}

	status := conflict.ResolutionStatus(r.URL.Query().Get("status"))
	conflicts, err := d.Store.ListConflicts(r.Context(), inst.ID, status)
	if err != nil {
		d.Logger.Error("list conflicts failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list conflicts"})
		return
	}
	if conflicts == nil {
		conflicts = []*conflict.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// handleResolveConflict implements POST .../conflicts/{conflict_id}/resolve.
func (d *Dependencies) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("conflict_id")

	var req ResolveConflictReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ResolvedBy == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "resolved_by is required"})
		return
	}

	resolved, err := d.Store.ResolveConflict(r.Context(), conflictID, req.ResolvedBy)
	if err != nil {
		d.Logger.Error("resolve conflict failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to resolve conflict"})
		return
	}
	if resolved == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "open conflict not found"})
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
