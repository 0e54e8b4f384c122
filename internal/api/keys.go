package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/store"
)

func toAPIKeyResp(k *store.APIKey) APIKeyResp {
	return APIKeyResp{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Revoked:    k.Revoked,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

// handleCreateAPIKey implements POST /api/governor/api-keys.
// The response carries the plaintext key; it is never shown again.
func (d *Dependencies) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}

	key, plaintext, err := d.Store.CreateAPIKey(r.Context(), req.Name)
	if err != nil {
		d.Logger.Error("create api key failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to create api key"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateAPIKeyResp{
		ID:        key.ID,
		Name:      key.Name,
		APIKey:    plaintext,
		KeyPrefix: key.KeyPrefix,
		CreatedAt: key.CreatedAt,
	})
}

// handleListAPIKeys implements GET /api/governor/api-keys.
func (d *Dependencies) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := d.Store.ListAPIKeys(r.Context())
	if err != nil {
		d.Logger.Error("list api keys failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list api keys"})
		return
	}

	resp := make([]APIKeyResp, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, toAPIKeyResp(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevokeAPIKey implements DELETE /api/governor/api-keys/{key_id}.
func (d *Dependencies) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("key_id")
	err := d.Store.RevokeAPIKey(r.Context(), id)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "api key not found"})
		return
	}
	if err != nil {
		d.Logger.Error("revoke api key failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to revoke api key"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
