package core

import "matrixaudit/pkg/domain"

// NewDefaultRulesEngine returns an engine with the chain invariants every
// deployment enforces: append-only writes, continuous versions, intact
// predecessor links.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(AppendOnlyRule())
	engine.Register(VersionContinuityRule())
	engine.Register(ChainIntegrityRule())
	return engine
}
