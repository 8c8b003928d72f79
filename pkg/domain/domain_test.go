package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAuditRecordCloneIsDeep(t *testing.T) {
	prev := "prev-id"
	rec := AuditRecord{
		ID:         "id-1",
		MatrixID:   "matrix-1",
		Version:    2,
		SourceData: NewPayload([]byte(`{"a":1}`)),
		PreviousID: &prev,
		CreatedAt:  time.Now().UTC(),
	}
	clone := rec.Clone()
	*clone.PreviousID = "mutated"
	if *rec.PreviousID != "prev-id" {
		t.Fatalf("clone shares predecessor pointer")
	}
	if !clone.HasPrevious() {
		t.Fatalf("expected predecessor on clone")
	}
	if (AuditRecord{}).HasPrevious() {
		t.Fatalf("zero record must not report a predecessor")
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var res Result
	res.Merge(Result{})
	if res.HasBlocking() {
		t.Fatalf("empty result must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if res.HasBlocking() {
		t.Fatalf("warn severity must not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected merged violations, got %d", len(res.Violations))
	}
}

func TestErrorTaxonomy(t *testing.T) {
	invalid := InvalidInputError{Field: "matrix_id", Reason: "must not be empty"}
	if !IsInvalidInput(invalid) || IsNotFound(invalid) {
		t.Fatalf("invalid input misclassified")
	}
	notFound := NotFoundError{MatrixID: "matrix-1"}
	if !IsNotFound(notFound) || IsInvalidInput(notFound) {
		t.Fatalf("not found misclassified")
	}
	wrapped := fmt.Errorf("handler: %w", StorageUnavailableError{Op: "append_record", Err: errors.New("down")})
	if !IsStorageUnavailable(wrapped) {
		t.Fatalf("wrapped storage error not recognized")
	}
	var storage StorageUnavailableError
	if !errors.As(wrapped, &storage) || storage.Op != "append_record" {
		t.Fatalf("expected op to survive wrapping, got %+v", storage)
	}
	if errors.Unwrap(storage) == nil {
		t.Fatalf("storage error must unwrap its cause")
	}
}

type countingRule struct {
	name   string
	result Result
	calls  *int
}

func (r countingRule) Name() string { return r.name }

func (r countingRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	*r.calls++
	return r.result, nil
}

type emptyView struct{}

func (emptyView) ListRecords() []AuditRecord            { return nil }
func (emptyView) ListChain(string) []AuditRecord        { return nil }
func (emptyView) FindRecord(string) (AuditRecord, bool) { return AuditRecord{}, false }
func (emptyView) ListMatrices() []string                { return nil }

func TestRulesEngineEvaluatesAllRules(t *testing.T) {
	engine := NewRulesEngine()
	calls := 0
	engine.Register(countingRule{name: "a", calls: &calls})
	engine.Register(countingRule{name: "b", calls: &calls, result: Result{Violations: []Violation{{Rule: "b", Severity: SeverityBlock}}}})

	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both rules evaluated, got %d calls", calls)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected merged blocking violation")
	}
}
