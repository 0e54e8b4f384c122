package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/chread"
)

// handleListEvents implements GET /api/governor/events.
// Serves the append-only validation audit trail from ClickHouse.
func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := chread.ListEventsParams{
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("policy_instance_id"); v != "" {
		params.PolicyInstanceID = &v
	}
	if v := q.Get("scope_path"); v != "" {
		params.ScopePath = &v
	}
	if v := q.Get("tool_version_id"); v != "" {
		params.ToolVersionID = &v
	}
	if v := q.Get("decision"); v != "" {
		params.Decision = &v
	}
	if v := q.Get("rule_id"); v != "" {
		params.RuleID = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events:   make([]ValidationEventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventRowToResp(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetEvent implements GET /api/governor/events/{event_id}.
func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	eventID := r.PathValue("event_id")
	event, err := d.Reader.GetEvent(r.Context(), eventID)
	if err != nil {
		d.Logger.Error("failed to get event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found."})
		return
	}

	writeJSON(w, http.StatusOK, eventRowToResp(*event))
}

// handleGetAnalytics implements GET /api/governor/analytics.
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := queryInt(r.URL.Query(), "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// eventRowToResp converts a ClickHouse EventRow to the API response.
// Rule failures are stored as parallel arrays and reconstructed here.
func eventRowToResp(e chread.EventRow) ValidationEventResp {
	violations := pairRules(e.ViolationRuleIDs, e.ViolationMessages)
	warnings := pairRules(e.WarningRuleIDs, e.WarningMessages)

	return ValidationEventResp{
		EventID:          e.EventID,
		PolicyInstanceID: e.PolicyInstanceID,
		EPSID:            e.EPSID,
		EPSHash:          e.EPSHash,
		BindingID:        e.BindingID,
		ToolVersionID:    e.ToolVersionID,
		ScopePath:        e.ScopePath,
		Decision:         e.Decision,
		ControlLevel:     e.ControlLevel,
		Violations:       violations,
		Warnings:         warnings,
		UsageContext:     e.UsageContext,
		RequesterRole:    nilIfEmpty(e.RequesterRole),
		ResponseTimeMs:   e.ResponseTimeMs,
		Timestamp:        e.Timestamp,
	}
}

func pairRules(ids, messages []string) []RuleFailureResp {
	out := make([]RuleFailureResp, 0, len(ids))
	for i, id := range ids {
		var msg string
		if i < len(messages) {
			msg = messages[i]
		}
		out = append(out, RuleFailureResp{RuleID: id, Message: msg})
	}
	return out
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q interface{ Get(string) string }, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
