package core

import "matrixaudit/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	AuditRecord        = domain.AuditRecord
	Payload            = domain.Payload
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
)

const (
	EntityAuditRecord = domain.EntityAuditRecord
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionAppend = domain.ActionAppend
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
