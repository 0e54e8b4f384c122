package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/govern"
	"github.com/clearpath-ai/governor/internal/ruleset"
	"github.com/clearpath-ai/governor/internal/snapshot"
	"github.com/clearpath-ai/governor/internal/store"
)

// writeSchemaError renders a SchemaInvalidError as a 400 with field paths.
func writeSchemaError(w http.ResponseWriter, err *govern.SchemaInvalidError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"detail":      err.Detail,
		"field_paths": err.FieldPaths,
	})
}

// handleCreateInstance implements POST /api/governor/policy-instances.
func (d *Dependencies) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ScopeID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "scope_id is required"})
		return
	}
	if req.ToolVersionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool_version_id is required"})
		return
	}

	rs, err := ruleset.ParseRuleset(req.Ruleset)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "ruleset must be a JSON object"})
		return
	}
	if err := ruleset.ValidateSchema(rs); err != nil {
		var serr *govern.SchemaInvalidError
		if errors.As(err, &serr) {
			writeSchemaError(w, serr)
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	mode := ruleset.ModeMerge
	if req.InheritanceMode != "" {
		mode, err = ruleset.ParseInheritanceMode(req.InheritanceMode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
			return
		}
	}

	inst, err := d.Store.CreatePolicyInstance(r.Context(), store.CreatePolicyInstanceParams{
		ScopeID:         req.ScopeID,
		ToolVersionID:   req.ToolVersionID,
		Ruleset:         rs,
		InheritanceMode: mode,
		ParentPolicyID:  req.ParentPolicyID,
	})
	if err != nil {
		d.Logger.Error("create policy instance failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to create policy instance"})
		return
	}

	resp, err := toInstanceResp(inst)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode policy instance"})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListInstances implements GET /api/governor/policy-instances.
func (d *Dependencies) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := d.Store.ListPolicyInstances(r.Context())
	if err != nil {
		d.Logger.Error("list policy instances failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list policy instances"})
		return
	}

	resp := make([]*InstanceResp, 0, len(instances))
	for _, inst := range instances {
		ir, err := toInstanceResp(inst)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode policy instance"})
			return
		}
		resp = append(resp, ir)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetInstance implements GET /api/governor/policy-instances/{instance_id}.
func (d *Dependencies) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}
	resp, err := toInstanceResp(inst)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode policy instance"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateInstance implements PATCH /api/governor/policy-instances/{instance_id}.
func (d *Dependencies) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("instance_id")

	var req UpdateInstanceReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	params := store.UpdatePolicyInstanceParams{
		InheritanceMode: req.InheritanceMode,
		Status:          req.Status,
	}
	if req.InheritanceMode != nil {
		if _, err := ruleset.ParseInheritanceMode(*req.InheritanceMode); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
			return
		}
	}
	if req.Status != nil && !validStatus(*req.Status) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown status"})
		return
	}
	if len(req.Ruleset) > 0 {
		rs, err := ruleset.ParseRuleset(req.Ruleset)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "ruleset must be a JSON object"})
			return
		}
		if err := ruleset.ValidateSchema(rs); err != nil {
			var serr *govern.SchemaInvalidError
			if errors.As(err, &serr) {
				writeSchemaError(w, serr)
				return
			}
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
			return
		}
		params.Ruleset = rs
	}

	inst, err := d.Store.UpdatePolicyInstance(r.Context(), id, params)
	if err != nil {
		d.Logger.Error("update policy instance failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to update policy instance"})
		return
	}
	if inst == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "policy instance not found"})
		return
	}

	resp, err := toInstanceResp(inst)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode policy instance"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// fetchInstance loads the path's instance, writing the error response on
// failure. The bool reports whether the caller may proceed.
func (d *Dependencies) fetchInstance(w http.ResponseWriter, r *http.Request) (*snapshot.PolicyInstance, bool) {
	id := r.PathValue("instance_id")
	inst, err := d.Store.GetPolicyInstance(r.Context(), id)
	if err != nil {
		d.Logger.Error("get policy instance failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load policy instance"})
		return nil, false
	}
	if inst == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "policy instance not found"})
		return nil, false
	}
	return inst, true
}

func storeUpdateStatus(status string) store.UpdatePolicyInstanceParams {
	return store.UpdatePolicyInstanceParams{Status: &status}
}

func validStatus(s string) bool {
	switch snapshot.Status(s) {
	case snapshot.StatusDraft, snapshot.StatusInReview, snapshot.StatusApproved,
		snapshot.StatusActive, snapshot.StatusDeprecated:
		return true
	}
	return false
}
