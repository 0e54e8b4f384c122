package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse policy_validation_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the policy_validation_events table.
type EventRow struct {
	EventID           string
	PolicyInstanceID  string
	EPSID             string
	EPSHash           string
	BindingID         string
	ToolVersionID     string
	ScopePath         string
	Decision          string
	ControlLevel      string
	ViolationRuleIDs  []string
	ViolationMessages []string
	WarningRuleIDs    []string
	WarningMessages   []string
	UsageContext      map[string]string
	RequesterRole     string
	ResponseTimeMs    float32
	Timestamp         time.Time
}

const eventColumns = "event_id, policy_instance_id, eps_id, eps_hash, binding_id, " +
	"tool_version_id, scope_path, decision, control_level, " +
	"violation_rule_ids, violation_messages, warning_rule_ids, warning_messages, " +
	"usage_context, requester_role, response_time_ms, timestamp"

func scanEvent(row interface{ Scan(dest ...any) error }) (*EventRow, error) {
	var e EventRow
	err := row.Scan(
		&e.EventID, &e.PolicyInstanceID, &e.EPSID, &e.EPSHash, &e.BindingID,
		&e.ToolVersionID, &e.ScopePath, &e.Decision, &e.ControlLevel,
		&e.ViolationRuleIDs, &e.ViolationMessages, &e.WarningRuleIDs, &e.WarningMessages,
		&e.UsageContext, &e.RequesterRole, &e.ResponseTimeMs, &e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	PolicyInstanceID *string
	ScopePath        *string
	ToolVersionID    *string
	Decision         *string
	RuleID           *string
	StartTime        *time.Time
	EndTime          *time.Time
	Page             int
	PageSize         int
}

// ListEvents returns paginated, filtered validation events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.PolicyInstanceID != nil {
		conditions = append(conditions, "policy_instance_id = @policy_instance_id")
		args = append(args, clickhouse.Named("policy_instance_id", *params.PolicyInstanceID))
	}
	if params.ScopePath != nil {
		conditions = append(conditions, "scope_path = @scope_path")
		args = append(args, clickhouse.Named("scope_path", *params.ScopePath))
	}
	if params.ToolVersionID != nil {
		conditions = append(conditions, "tool_version_id = @tool_version_id")
		args = append(args, clickhouse.Named("tool_version_id", *params.ToolVersionID))
	}
	if params.Decision != nil {
		conditions = append(conditions, "decision = @decision")
		args = append(args, clickhouse.Named("decision", *params.Decision))
	}
	if params.RuleID != nil {
		conditions = append(conditions, "has(violation_rule_ids, @rule_id)")
		args = append(args, clickhouse.Named("rule_id", *params.RuleID))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM policy_validation_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT "+eventColumns+" FROM policy_validation_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, *e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by event ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, eventID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM policy_validation_events "+
			"WHERE event_id = @event_id",
		clickhouse.Named("event_id", eventID),
	)

	e, err := scanEvent(row)
	if err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.EventID == "" {
		return nil, nil
	}
	return e, nil
}

// SummaryStats holds aggregate decision counts.
type SummaryStats struct {
	TotalEvaluations int `json:"total_evaluations"`
	Denies           int `json:"denies"`
	Conditionals     int `json:"conditionals"`
	Allows           int `json:"allows"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// RuleCount holds a rule id and its violation count.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// ScopeCount holds a scope path and its deny count.
type ScopeCount struct {
	ScopePath string `json:"scope_path"`
	Count     int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	DeniesOverTime     []TimeSeriesBucket `json:"denies_over_time"`
	TopViolatedRules   []RuleCount        `json:"top_violated_rules"`
	TopDeniedScopes    []ScopeCount       `json:"top_denied_scopes"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated enforcement analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var total, denies, conditionals, allows uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(decision = 'deny') as denies, "+
			"countIf(decision = 'conditional') as conditionals, "+
			"countIf(decision = 'allow') as allows "+
			"FROM policy_validation_events "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &denies, &conditionals, &allows)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalEvaluations: int(total),
		Denies:           int(denies),
		Conditionals:     int(conditionals),
		Allows:           int(allows),
	}

	// Denies over time (hourly)
	dotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM policy_validation_events "+
			"WHERE decision = 'deny' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics denies_over_time: %w", err)
	}
	defer func() { _ = dotRows.Close() }()
	for dotRows.Next() {
		var hour time.Time
		var count uint64
		if err := dotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics denies_over_time scan: %w", err)
		}
		result.DeniesOverTime = append(result.DeniesOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top violated rules
	ruleRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(violation_rule_ids) as rule_id, count() as count "+
			"FROM policy_validation_events "+
			"WHERE decision IN ('deny', 'conditional') "+
			"AND timestamp >= @range_start "+
			"GROUP BY rule_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_rules: %w", err)
	}
	defer func() { _ = ruleRows.Close() }()
	for ruleRows.Next() {
		var ruleID string
		var count uint64
		if err := ruleRows.Scan(&ruleID, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_rules scan: %w", err)
		}
		result.TopViolatedRules = append(result.TopViolatedRules, RuleCount{
			RuleID: ruleID, Count: int(count),
		})
	}

	// Top denied scopes
	scopeRows, err := r.conn.Query(ctx,
		"SELECT scope_path, count() as count "+
			"FROM policy_validation_events "+
			"WHERE decision = 'deny' AND scope_path != '' "+
			"AND timestamp >= @range_start "+
			"GROUP BY scope_path ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_scopes: %w", err)
	}
	defer func() { _ = scopeRows.Close() }()
	for scopeRows.Next() {
		var path string
		var count uint64
		if err := scopeRows.Scan(&path, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_scopes scan: %w", err)
		}
		result.TopDeniedScopes = append(result.TopDeniedScopes, ScopeCount{
			ScopePath: path, Count: int(count),
		})
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(response_time_ms) as p50, "+
			"quantile(0.95)(response_time_ms) as p95, "+
			"quantile(0.99)(response_time_ms) as p99 "+
			"FROM policy_validation_events "+
			"WHERE timestamp >= @day_start",
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.DeniesOverTime == nil {
		result.DeniesOverTime = []TimeSeriesBucket{}
	}
	if result.TopViolatedRules == nil {
		result.TopViolatedRules = []RuleCount{}
	}
	if result.TopDeniedScopes == nil {
		result.TopDeniedScopes = []ScopeCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
