// Package evaluate implements runtime validation of tool-usage events
// against the active Effective Policy Snapshot for a scope. Fail-closed: no
// bound policy, a missing snapshot, or a timeout all resolve to deny.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearpath-ai/governor/internal/binding"
	"github.com/clearpath-ai/governor/internal/govern"
	"github.com/clearpath-ai/governor/internal/snapshot"
	"github.com/clearpath-ai/governor/internal/storage"
)

// Decision is the evaluation outcome.
type Decision string

const (
	DecisionAllow       Decision = "allow"
	DecisionDeny        Decision = "deny"
	DecisionConditional Decision = "conditional"
)

// ControlLevel modulates how advisory rule failures escalate.
type ControlLevel string

const (
	ControlStrict     ControlLevel = "strict"     // advisory failures also deny
	ControlStandard   ControlLevel = "standard"   // advisory failures -> conditional
	ControlPermissive ControlLevel = "permissive" // advisory failures don't affect decision
)

// ParseControlLevel falls back to standard for empty/unknown input.
func ParseControlLevel(s string) ControlLevel {
	switch ControlLevel(s) {
	case ControlStrict, ControlPermissive:
		return ControlLevel(s)
	}
	return ControlStandard
}

// Well-known rule ids surfaced in violations.
const (
	RuleNoPolicyBound     = "no_policy_bound"
	RuleEPSMissing        = "eps_missing"
	RuleEvaluationTimeout = "evaluation_timeout"
)

// UsageContext describes the tool-usage event under evaluation.
type UsageContext struct {
	DataClassification []string `json:"data_classification,omitempty"`
	Jurisdiction       []string `json:"jurisdiction,omitempty"`
	IntendedUse        string   `json:"intended_use,omitempty"`
	RequesterRole      string   `json:"requester_role,omitempty"`
	RetentionDays      int      `json:"retention_days,omitempty"`
}

// Request is one evaluation call.
type Request struct {
	ToolVersionID string
	ScopePath     string
	Context       UsageContext
	ControlLevel  ControlLevel
}

// RuleFailure is one violated or advisory-failed rule.
type RuleFailure struct {
	RuleID    string `json:"rule_id"`
	FieldPath string `json:"field_path,omitempty"`
	Message   string `json:"message"`
}

// Result of an evaluation. Violations force deny; warnings shape the
// decision according to the control level.
type Result struct {
	Decision         Decision
	Violations       []RuleFailure
	Warnings         []RuleFailure
	PolicyInstanceID string
	BindingID        string
	SnapshotID       string
	ContentHash      string
	ResponseTime     time.Duration
}

// SnapshotLoader fetches the snapshot a binding points at.
type SnapshotLoader interface {
	GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error)
}

// Evaluator resolves bindings and evaluates usage contexts. Read-only with
// respect to policy state; it only appends events and bumps violation
// counters.
type Evaluator struct {
	bindings  *binding.Tracker
	snapshots SnapshotLoader
	writer    storage.EventWriter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEvaluator wires an Evaluator.
func NewEvaluator(bindings *binding.Tracker, snapshots SnapshotLoader, writer storage.EventWriter, timeout time.Duration, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		bindings:  bindings,
		snapshots: snapshots,
		writer:    writer,
		timeout:   timeout,
		logger:    logger,
	}
}

// Evaluate resolves the nearest active binding for the request's scope and
// evaluates the usage context against its snapshot. Every call appends an
// immutable ValidationEvent carrying the exact EPS id/hash used.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	level := req.ControlLevel
	if level == "" {
		level = ControlStandard
	}

	bnd, err := e.bindings.Resolve(ctx, req.ScopePath)
	if err != nil {
		return nil, e.failClosed(req, level, start, err)
	}
	if bnd == nil {
		res := &Result{
			Decision: DecisionDeny,
			Violations: []RuleFailure{{
				RuleID:  RuleNoPolicyBound,
				Message: fmt.Sprintf("no active policy binding covers scope %s", req.ScopePath),
			}},
			ResponseTime: time.Since(start),
		}
		e.record(req, level, res)
		return res, nil
	}

	snap, err := e.snapshots.GetSnapshot(ctx, bnd.SnapshotID)
	if err != nil {
		return nil, e.failClosed(req, level, start, err)
	}

	res := &Result{
		PolicyInstanceID: bnd.PolicyInstanceID,
		BindingID:        bnd.ID,
	}
	if snap == nil {
		// A binding without an enforceable snapshot is a hard deny, never a
		// fallback to raw policy text.
		res.Decision = DecisionDeny
		res.Violations = []RuleFailure{{
			RuleID:  RuleEPSMissing,
			Message: fmt.Sprintf("binding %s has no effective policy snapshot", bnd.ID),
		}}
		res.ResponseTime = time.Since(start)
		e.record(req, level, res)
		return res, nil
	}
	res.SnapshotID = snap.ID
	res.ContentHash = snap.ContentHash

	if err := ctx.Err(); err != nil {
		return nil, e.failClosed(req, level, start, err)
	}

	blocking, advisory := checkRules(snap, req.Context)

	// Control-level escalation.
	switch level {
	case ControlStrict:
		blocking = append(blocking, advisory...)
		advisory = nil
	case ControlPermissive:
		// advisory failures stay warnings and never shape the decision
	}

	res.Violations = blocking
	res.Warnings = advisory
	switch {
	case len(blocking) > 0:
		res.Decision = DecisionDeny
	case len(advisory) > 0 && level == ControlStandard:
		res.Decision = DecisionConditional
	default:
		res.Decision = DecisionAllow
	}
	res.ResponseTime = time.Since(start)

	e.record(req, level, res)

	if len(res.Violations) > 0 {
		if err := e.bindings.RecordViolations(ctx, bnd.ID, len(res.Violations)); err != nil {
			e.logger.Warn("violation counter update failed",
				zap.String("binding_id", bnd.ID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

// checkRules evaluates the merged ruleset's controls against the usage
// context. Returns blocking failures and advisory failures separately. The
// rule kinds mirror the persisted policy object model: jurisdiction and
// audience lists, data classification controls, prohibited/allowed use
// cases, reviewer requirements, and retention ceilings.
func checkRules(snap *snapshot.Snapshot, uc UsageContext) (blocking, advisory []RuleFailure) {
	rs := snap.MergedRuleset

	if allowed := stringList(rs["jurisdiction"]); allowed != nil {
		for _, j := range uc.Jurisdiction {
			if !containsString(allowed, j) {
				blocking = append(blocking, RuleFailure{
					RuleID:    "jurisdiction_mismatch",
					FieldPath: "jurisdiction",
					Message: fmt.Sprintf("jurisdiction %q not allowed by policy (allowed: %s)",
						j, strings.Join(allowed, ", ")),
				})
			}
		}
	}

	if dc, ok := dig(rs, "data_controls", "data_classes"); ok {
		allowed := stringList(dc)
		var unauthorized []string
		for _, c := range uc.DataClassification {
			if !containsString(allowed, c) {
				unauthorized = append(unauthorized, c)
			}
		}
		if len(unauthorized) > 0 {
			blocking = append(blocking, RuleFailure{
				RuleID:    "data_classification_violation",
				FieldPath: "data_controls.data_classes",
				Message: fmt.Sprintf("unauthorized data classifications: %s (allowed: %s)",
					strings.Join(unauthorized, ", "), strings.Join(allowed, ", ")),
			})
		}
	}

	if uc.IntendedUse != "" {
		if prohibited := stringList(rs["prohibited_use_cases"]); containsString(prohibited, uc.IntendedUse) {
			blocking = append(blocking, RuleFailure{
				RuleID:    "prohibited_use_case",
				FieldPath: "prohibited_use_cases",
				Message:   fmt.Sprintf("use case %q is prohibited by policy", uc.IntendedUse),
			})
		}
		if allowed := stringList(rs["allowed_use_cases"]); allowed != nil && !containsString(allowed, uc.IntendedUse) {
			blocking = append(blocking, RuleFailure{
				RuleID:    "use_case_not_allowed",
				FieldPath: "allowed_use_cases",
				Message: fmt.Sprintf("use case %q is outside the allowed set (%s)",
					uc.IntendedUse, strings.Join(allowed, ", ")),
			})
		}
	}

	if required, ok := dig(rs, "controls", "hitl", "required"); ok && required == true {
		if reviewers, ok := dig(rs, "controls", "hitl", "reviewers"); ok {
			allowed := stringList(reviewers)
			if len(allowed) > 0 && !containsString(allowed, uc.RequesterRole) {
				blocking = append(blocking, RuleFailure{
					RuleID:    "hitl_reviewer_required",
					FieldPath: "controls.hitl.reviewers",
					Message: fmt.Sprintf("human review required; role %q is not an authorized reviewer (%s)",
						uc.RequesterRole, strings.Join(allowed, ", ")),
				})
			}
		}
	}

	if uc.RetentionDays > 0 {
		if ceiling, ok := dig(rs, "retention", "max_retention_days"); ok {
			if days, isNum := ceiling.(float64); isNum && float64(uc.RetentionDays) > days {
				blocking = append(blocking, RuleFailure{
					RuleID:    "retention_exceeded",
					FieldPath: "retention.max_retention_days",
					Message: fmt.Sprintf("requested retention %d days exceeds policy ceiling %.0f",
						uc.RetentionDays, days),
				})
			}
		}
	}

	// Declared rules: blocking entries already covered by the structural
	// checks deny via those; remaining declared rules surface per their
	// enforcement level when their category applies to the context.
	if rules, ok := rs["rules"].([]any); ok {
		for _, r := range rules {
			rule, ok := r.(map[string]any)
			if !ok {
				continue
			}
			category, _ := rule["category"].(string)
			if category == "data-protection" && len(uc.DataClassification) == 0 {
				continue
			}
			id, _ := rule["id"].(string)
			desc, _ := rule["description"].(string)
			failure := RuleFailure{
				RuleID:    id,
				FieldPath: "rules",
				Message:   desc,
			}
			if enforcement, _ := rule["enforcement"].(string); enforcement == "blocking" {
				continue // structural checks above are the blocking surface
			}
			advisory = append(advisory, failure)
		}
	}

	return blocking, advisory
}

// record appends the immutable ValidationEvent for a result.
func (e *Evaluator) record(req *Request, level ControlLevel, res *Result) {
	event := &storage.ValidationEvent{
		EventID:          uuid.New().String(),
		PolicyInstanceID: res.PolicyInstanceID,
		EPSID:            res.SnapshotID,
		EPSHash:          res.ContentHash,
		BindingID:        res.BindingID,
		ToolVersionID:    req.ToolVersionID,
		ScopePath:        req.ScopePath,
		Decision:         string(res.Decision),
		ControlLevel:     string(level),
		RequesterRole:    req.Context.RequesterRole,
		ResponseTimeMs:   float32(res.ResponseTime) / float32(time.Millisecond),
		Timestamp:        time.Now().UTC(),
		UsageContext:     contextFields(req.Context),
	}
	for _, v := range res.Violations {
		event.ViolationRuleIDs = append(event.ViolationRuleIDs, v.RuleID)
		event.ViolationMessages = append(event.ViolationMessages, v.Message)
	}
	for _, w := range res.Warnings {
		event.WarningRuleIDs = append(event.WarningRuleIDs, w.RuleID)
		event.WarningMessages = append(event.WarningMessages, w.Message)
	}
	e.writer.Write(event)
}

func contextFields(uc UsageContext) map[string]string {
	out := map[string]string{}
	if len(uc.DataClassification) > 0 {
		out["data_classification"] = strings.Join(uc.DataClassification, ",")
	}
	if len(uc.Jurisdiction) > 0 {
		out["jurisdiction"] = strings.Join(uc.Jurisdiction, ",")
	}
	if uc.IntendedUse != "" {
		out["intended_use"] = uc.IntendedUse
	}
	if uc.RequesterRole != "" {
		out["requester_role"] = uc.RequesterRole
	}
	if uc.RetentionDays > 0 {
		out["retention_days"] = fmt.Sprintf("%d", uc.RetentionDays)
	}
	return out
}

func timeoutOr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return govern.ErrTimeout
	}
	return err
}

// failClosed maps the error and, when the evaluation hit its deadline,
// records the deny event for it; aborted evaluations are still part of the
// audit trail.
func (e *Evaluator) failClosed(req *Request, level ControlLevel, start time.Time, err error) error {
	err = timeoutOr(err)
	if errors.Is(err, govern.ErrTimeout) {
		e.record(req, level, &Result{
			Decision: DecisionDeny,
			Violations: []RuleFailure{{
				RuleID:  RuleEvaluationTimeout,
				Message: "policy evaluation exceeded its deadline",
			}},
			ResponseTime: time.Since(start),
		})
	}
	return err
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// dig walks nested objects by key.
func dig(rs map[string]any, keys ...string) (any, bool) {
	var cur any = rs
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
