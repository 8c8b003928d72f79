package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"matrixaudit/pkg/domain"
)

func appendRecord(t *testing.T, store *Store, matrixID string) domain.AuditRecord {
	t.Helper()
	var created domain.AuditRecord
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.AppendRecord(domain.AuditRecord{MatrixID: matrixID, SourceData: domain.NewPayload([]byte(`{"n":1}`))})
		return err
	})
	if err != nil {
		t.Fatalf("append record: %v", err)
	}
	return created
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	first := appendRecord(t, store, "matrix-1")
	second := appendRecord(t, store, "matrix-1")
	appendRecord(t, store, "matrix-2")
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = reopened.DB().Close() }()

	chain := reopened.ListChain("matrix-1")
	if len(chain) != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", len(chain))
	}
	if chain[0].ID != first.ID || chain[1].ID != second.ID {
		t.Fatalf("chain order lost across reopen")
	}
	if chain[1].PreviousID == nil || *chain[1].PreviousID != first.ID {
		t.Fatalf("predecessor link lost across reopen")
	}

	// Versioning continues from the reloaded state.
	third := appendRecord(t, reopened, "matrix-1")
	if third.Version != 3 {
		t.Fatalf("expected version 3 after reopen, got %d", third.Version)
	}
	if got := len(reopened.ListMatrices()); got != 2 {
		t.Fatalf("expected 2 matrices, got %d", got)
	}
}

func TestSQLiteStoreDefaultPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store with nested path: %v", err)
	}
	defer func() { _ = store.DB().Close() }()
	if store.Path() != path {
		t.Fatalf("expected path %s, got %s", path, store.Path())
	}
}

func TestSQLiteStoreFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.AppendRecord(domain.AuditRecord{MatrixID: ""})
		return err
	})
	if err == nil {
		t.Fatalf("expected failed transaction")
	}
	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = reopened.DB().Close() }()
	if got := len(reopened.ListMatrices()); got != 0 {
		t.Fatalf("failed transaction leaked into storage: %d matrices", got)
	}
}
