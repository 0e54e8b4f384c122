package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/evaluate"
	"github.com/clearpath-ai/governor/internal/govern"
)

// handleEvaluate implements POST /v1/evaluate.
// Auth middleware has already validated the Bearer token.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.ToolVersionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool_version_id is required"})
		return
	}
	if req.ScopePath == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "scope_path is required"})
		return
	}

	res, err := d.Evaluator.Evaluate(r.Context(), &evaluate.Request{
		ToolVersionID: req.ToolVersionID,
		ScopePath:     req.ScopePath,
		Context:       req.UsageContext,
		ControlLevel:  evaluate.ParseControlLevel(req.ControlLevel),
	})
	if errors.Is(err, govern.ErrTimeout) {
		// Fail closed: the caller gets a deny decision, not a retryable error.
		writeJSON(w, http.StatusOK, EvaluateResponse{
			Decision: string(evaluate.DecisionDeny),
			Violations: []evaluate.RuleFailure{{
				RuleID:  evaluate.RuleEvaluationTimeout,
				Message: "policy evaluation exceeded its deadline",
			}},
			Warnings: []evaluate.RuleFailure{},
		})
		return
	}
	if err != nil {
		d.Logger.Error("evaluate failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "evaluation failed"})
		return
	}

	violations := res.Violations
	if violations == nil {
		violations = []evaluate.RuleFailure{}
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []evaluate.RuleFailure{}
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Decision:         string(res.Decision),
		Violations:       violations,
		Warnings:         warnings,
		PolicyInstanceID: res.PolicyInstanceID,
		BindingID:        res.BindingID,
		EPSID:            res.SnapshotID,
		EPSHash:          res.ContentHash,
		ResponseTimeMs:   float64(res.ResponseTime.Microseconds()) / 1000.0,
	})
}
