package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/crosstenant"
	"github.com/clearpath-ai/governor/internal/snapshot"
)

// loadPair loads the client and agency instances named in the path.
func (d *Dependencies) loadPair(w http.ResponseWriter, r *http.Request) (client, agency *snapshot.PolicyInstance, ok bool) {
	clientID := r.PathValue("client_id")
	agencyID := r.PathValue("agency_id")

	client, err := d.Store.GetPolicyInstance(r.Context(), clientID)
	if err != nil {
		d.Logger.Error("get client instance failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load client instance"})
		return nil, nil, false
	}
	if client == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "client policy instance not found"})
		return nil, nil, false
	}
	agency, err = d.Store.GetPolicyInstance(r.Context(), agencyID)
	if err != nil {
		d.Logger.Error("get agency instance failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load agency instance"})
		return nil, nil, false
	}
	if agency == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "agency policy instance not found"})
		return nil, nil, false
	}
	return client, agency, true
}

// handleAlign implements POST /api/governor/cross-tenant/{client}/{agency}/align.
// Detection is symmetric: neither tenant is the other's parent, so fields
// either harmonize toward the stricter value or block pending dual approval.
func (d *Dependencies) handleAlign(w http.ResponseWriter, r *http.Request) {
	client, agency, ok := d.loadPair(w, r)
	if !ok {
		return
	}

	alignment := crosstenant.Align(client.ID, agency.ID, client.Ruleset, agency.Ruleset, d.Table, nil)
	writeJSON(w, http.StatusOK, alignment)
}

// handleResolveAlignment implements POST .../cross-tenant/{client}/{agency}/resolve.
// Records one side's approval; the resolution takes effect only when both
// sides have recorded matching resolutions.
func (d *Dependencies) handleResolveAlignment(w http.ResponseWriter, r *http.Request) {
	client, agency, ok := d.loadPair(w, r)
	if !ok {
		return
	}

	var req ResolveAlignmentReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	side, err := crosstenant.ParseSide(req.Side)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	if req.ApprovedBy == "" || req.Resolution == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "approved_by and resolution are required"})
		return
	}

	record, err := d.Store.RecordAlignmentApproval(r.Context(),
		client.ID, agency.ID, side, req.ApprovedBy, req.Resolution)
	if err != nil {
		d.Logger.Error("record alignment approval failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to record approval"})
		return
	}

	writeJSON(w, http.StatusOK, ResolveAlignmentResp{
		Record:    record,
		Effective: record.Effective(),
	})
}
