package core

import (
	"context"
	"fmt"

	"matrixaudit/pkg/domain"
)

// ChainIntegrityRule enforces predecessor links: the first version of a chain
// carries no back-reference, every later version points at the record one
// version below it, and links never cross matrix boundaries.
func ChainIntegrityRule() domain.Rule {
	return chainIntegrityRule{}
}

type chainIntegrityRule struct{}

func (chainIntegrityRule) Name() string { return "chain_integrity" }

func (chainIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}

	for _, matrixID := range view.ListMatrices() {
		for _, rec := range view.ListChain(matrixID) {
			if rec.Version == 1 {
				if rec.HasPrevious() {
					res.Violations = append(res.Violations, integrityViolation(rec.ID, fmt.Sprintf("matrix %s version 1 must not reference a predecessor", matrixID)))
				}
				continue
			}
			if !rec.HasPrevious() {
				res.Violations = append(res.Violations, integrityViolation(rec.ID, fmt.Sprintf("matrix %s version %d is missing its predecessor link", matrixID, rec.Version)))
				continue
			}
			prev, ok := view.FindRecord(*rec.PreviousID)
			if !ok {
				res.Violations = append(res.Violations, integrityViolation(rec.ID, fmt.Sprintf("matrix %s version %d references missing record %s", matrixID, rec.Version, *rec.PreviousID)))
				continue
			}
			if prev.MatrixID != rec.MatrixID {
				res.Violations = append(res.Violations, integrityViolation(rec.ID, fmt.Sprintf("matrix %s version %d links across matrices to %s", matrixID, rec.Version, prev.MatrixID)))
			}
			if prev.Version != rec.Version-1 {
				res.Violations = append(res.Violations, integrityViolation(rec.ID, fmt.Sprintf("matrix %s version %d links to version %d instead of %d", matrixID, rec.Version, prev.Version, rec.Version-1)))
			}
		}
	}

	return res, nil
}

func integrityViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "chain_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityAuditRecord,
		EntityID: entityID,
	}
}
