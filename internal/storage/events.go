package storage

import "time"

// EventWriter is the interface for writing validation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ValidationEvent)
	Close()
}

// ValidationEvent is one immutable evaluation record. Append-only: past
// decisions are never reinterpreted, so the event carries the exact EPS id
// and hash that produced them.
type ValidationEvent struct {
	EventID           string
	PolicyInstanceID  string
	EPSID             string
	EPSHash           string
	BindingID         string
	ToolVersionID     string
	ScopePath         string
	Decision          string // allow, deny, conditional
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
