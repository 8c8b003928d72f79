package core

import (
	"context"
	"fmt"

	"matrixaudit/pkg/domain"
)

// AppendOnlyRule rejects any transaction whose change set contains anything
// other than appends of audit records. Update and delete never commit.
func AppendOnlyRule() domain.Rule {
	return appendOnlyRule{}
}

type appendOnlyRule struct{}

func (appendOnlyRule) Name() string { return "append_only" }

func (appendOnlyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	for _, change := range changes {
		if change.Entity != domain.EntityAuditRecord {
			res.Violations = append(res.Violations, appendOnlyViolation("", fmt.Sprintf("unexpected entity %s in audit transaction", change.Entity)))
			continue
		}
		if change.Action != domain.ActionAppend {
			id := ""
			if rec, ok := change.After.(domain.AuditRecord); ok {
				id = rec.ID
			} else if rec, ok := change.Before.(domain.AuditRecord); ok {
				id = rec.ID
			}
			res.Violations = append(res.Violations, appendOnlyViolation(id, fmt.Sprintf("action %s is not permitted on audit records", change.Action)))
		}
	}

	return res, nil
}

func appendOnlyViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "append_only",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityAuditRecord,
		EntityID: entityID,
	}
}
