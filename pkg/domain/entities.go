// Package domain defines the audit record entity, value types, and rule
// evaluation primitives used by matrixaudit.
package domain

import "time"

// EntityType identifies the type of record stored in the audit domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAuditRecord identifies one immutable entry in a matrix version chain.
	EntityAuditRecord EntityType = "audit_record"
)

// DefaultAlgorithmVersion is recorded when an append supplies no algorithm tag.
const DefaultAlgorithmVersion = "v1.0.0"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// AuditRecord is one immutable entry in a matrix's version chain. Records are
// created exactly once on append and never mutated or deleted afterwards.
type AuditRecord struct {
	ID               string    `json:"id"`
	MatrixID         string    `json:"matrix_id"`
	Version          int       `json:"version"`
	AlgorithmVersion string    `json:"algorithm_version"`
	SourceData       Payload   `json:"source_data"`
	InitialState     Payload   `json:"initial_state,omitempty"`
	PreviousID       *string   `json:"previous_version_id"`
	CreatedAt        time.Time `json:"created_at"`
	TriggeredBy      string    `json:"triggered_by,omitempty"`
	Comment          string    `json:"comment,omitempty"`
}

// HasPrevious reports whether the record links back to an earlier version.
func (r AuditRecord) HasPrevious() bool {
	return r.PreviousID != nil && *r.PreviousID != ""
}

// Clone returns a deep copy safe to hand across the store boundary.
func (r AuditRecord) Clone() AuditRecord {
	dup := r
	dup.SourceData = r.SourceData.Clone()
	dup.InitialState = r.InitialState.Clone()
	if r.PreviousID != nil {
		prev := *r.PreviousID
		dup.PreviousID = &prev
	}
	return dup
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in transactions. The audit chain is append-only:
// ActionAppend is the only action a conforming transaction may record, and the
// others exist solely so the append-only rule can name what it rejects.
const (
	// ActionAppend indicates a new record was appended to a chain.
	ActionAppend Action = "append"
	// ActionUpdate indicates an entity was updated. Never legal here.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was deleted. Never legal here.
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
