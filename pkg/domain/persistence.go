package domain

import "context"

// Transaction exposes the domain operations a persistence implementation must
// support within an atomic scope. The surface is deliberately append-only:
// there is no way to update or delete a persisted record through it.
type Transaction interface {
	Snapshot() TransactionView
	// AppendRecord determines the next version and predecessor link for the
	// record's matrix inside the transaction boundary, assigns id and
	// creation timestamp, and stages the record for commit.
	AppendRecord(record AuditRecord) (AuditRecord, error)
}

// TransactionView provides read-only access to snapshot data for rules and
// view builders.
type TransactionView interface {
	ListRecords() []AuditRecord
	ListChain(matrixID string) []AuditRecord
	LatestRecord(matrixID string) (AuditRecord, bool)
	FindRecord(id string) (AuditRecord, bool)
	ListMatrices() []string
}

// PersistentStore is a minimal abstraction over durable backends. Reads always
// observe a fully committed prefix of each chain; appends for one matrix are
// serialized by the implementation's transaction scope.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRecord(id string) (AuditRecord, bool)
	ListChain(matrixID string) []AuditRecord
	ListMatrices() []string
}
