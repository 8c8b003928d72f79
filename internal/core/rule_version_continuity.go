package core

import (
	"context"
	"fmt"

	"matrixaudit/pkg/domain"
)

// VersionContinuityRule enforces that every matrix chain carries versions
// exactly 1..N with no gaps or repeats.
func VersionContinuityRule() domain.Rule {
	return versionContinuityRule{}
}

type versionContinuityRule struct{}

func (versionContinuityRule) Name() string { return "version_continuity" }

func (versionContinuityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	for _, matrixID := range view.ListMatrices() {
		chain := view.ListChain(matrixID)
		for i, rec := range chain {
			want := i + 1
			if rec.Version != want {
				res.Violations = append(res.Violations, continuityViolation(rec.ID, fmt.Sprintf("matrix %s holds version %d at chain position %d", matrixID, rec.Version, want)))
			}
			if rec.Version < 1 {
				res.Violations = append(res.Violations, continuityViolation(rec.ID, fmt.Sprintf("matrix %s holds non-positive version %d", matrixID, rec.Version)))
			}
		}
	}

	return res, nil
}

func continuityViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "version_continuity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityAuditRecord,
		EntityID: entityID,
	}
}
