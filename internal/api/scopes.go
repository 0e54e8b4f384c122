package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/scope"
)

// handleCreateScope implements POST /api/governor/scopes.
func (d *Dependencies) handleCreateScope(w http.ResponseWriter, r *http.Request) {
	var req CreateScopeReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "path is required"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "type is required"})
		return
	}

	if req.ParentID != "" {
		parent, err := d.Store.GetScope(r.Context(), req.ParentID)
		if err != nil {
			d.Logger.Error("get parent scope failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load parent scope"})
			return
		}
		if parent == nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "parent scope not found"})
			return
		}
		if !scope.Covers(parent.Path, req.Path) || parent.Path == req.Path {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "path must extend the parent scope's path"})
			return
		}
	}

	created, err := d.Store.CreateScope(r.Context(), &scope.Scope{
		ParentID:   req.ParentID,
		Path:       req.Path,
		Type:       req.Type,
		Attributes: req.Attributes,
	})
	if err != nil {
		d.Logger.Error("create scope failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to create scope"})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleListScopes implements GET /api/governor/scopes.
func (d *Dependencies) handleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := d.Store.ListScopes(r.Context())
	if err != nil {
		d.Logger.Error("list scopes failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list scopes"})
		return
	}
	if scopes == nil {
		scopes = []*scope.Scope{}
	}
	writeJSON(w, http.StatusOK, scopes)
}
