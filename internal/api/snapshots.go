package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/govern"
)

// snapshotCtx derives the computation context, applying the configured
// snapshot deadline when one is set.
func (d *Dependencies) snapshotCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if d.SnapshotTimeout > 0 {
		return context.WithTimeout(parent, d.SnapshotTimeout)
	}
	return context.WithCancel(parent)
}

// handleComputeSnapshot implements POST .../policy-instances/{id}/snapshot.
// Idempotent: recomputing an unchanged chain returns the existing EPS.
func (d *Dependencies) handleComputeSnapshot(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}

	ctx, cancel := d.snapshotCtx(r.Context())
	defer cancel()
	snap, err := d.Snapshots.Compute(ctx, inst.ID)
	if err != nil {
		var cyc *govern.CyclicInheritanceError
		var serr *govern.SchemaInvalidError
		switch {
		case errors.As(err, &cyc):
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: cyc.Error()})
		case errors.As(err, &serr):
			writeSchemaError(w, serr)
		case errors.Is(err, govern.ErrTimeout):
			writeJSON(w, http.StatusGatewayTimeout, ErrorResp{Detail: "snapshot computation timed out"})
		default:
			d.Logger.Error("compute snapshot failed", zap.Error(err),
				zap.String("policy_instance_id", inst.ID))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to compute snapshot"})
		}
		return
	}

	if err := d.Store.SetCurrentSnapshot(r.Context(), inst.ID, snap.ID); err != nil {
		d.Logger.Error("set current snapshot failed", zap.Error(err),
			zap.String("policy_instance_id", inst.ID))
	}

	resp, err := toSnapshotResp(snap)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetCurrentSnapshot implements GET .../policy-instances/{id}/snapshot.
func (d *Dependencies) handleGetCurrentSnapshot(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}

	snap, err := d.Store.GetCurrentSnapshot(r.Context(), inst.ID)
	if err != nil {
		d.Logger.Error("get current snapshot failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to load snapshot"})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "no snapshot computed for this instance"})
		return
	}

	resp, err := toSnapshotResp(snap)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListVersions implements GET .../policy-instances/{id}/versions.
func (d *Dependencies) handleListVersions(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.fetchInstance(w, r)
	if !ok {
		return
	}

	snaps, err := d.Store.ListSnapshotVersions(r.Context(), inst.ID)
	if err != nil {
		d.Logger.Error("list snapshot versions failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to list versions"})
		return
	}

	resp := make([]*SnapshotResp, 0, len(snaps))
	for _, snap := range snaps {
		sr, err := toSnapshotResp(snap)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "failed to encode snapshot"})
			return
		}
		resp = append(resp, sr)
	}
	writeJSON(w, http.StatusOK, resp)
}
