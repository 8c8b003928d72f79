// Package postgres provides a Postgres-backed persistent store. It mirrors the
// in-memory semantics while keeping a relational, insert-only projection of the
// audit chain so the durable layer enforces append-only too.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"matrixaudit/internal/infra/persistence/memory"
	"matrixaudit/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/matrixaudit?sslmode=disable"
)

// recordsDDL declares the single persisted collection: audit records keyed by
// id, unique per (matrix_id, version), indexed by matrix_id for ordered
// retrieval. There is deliberately no UPDATE or DELETE statement anywhere in
// this package.
const recordsDDL = `
CREATE TABLE IF NOT EXISTS matrix_audit_records (
	id TEXT PRIMARY KEY,
	matrix_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	algorithm_version TEXT NOT NULL,
	source_data JSONB NOT NULL,
	initial_state JSONB,
	previous_version_id TEXT REFERENCES matrix_audit_records(id),
	created_at TIMESTAMPTZ NOT NULL,
	triggered_by TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	UNIQUE (matrix_id, version)
);
CREATE INDEX IF NOT EXISTS matrix_audit_records_matrix_idx ON matrix_audit_records (matrix_id);
`

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sql.Open hook for tests and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Store persists committed appends to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// defaultDSN). It applies the audit-record DDL and hydrates the in-memory
// store from existing rows.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, recordsDDL); err != nil {
		return nil, fmt.Errorf("apply audit record ddl: %w", err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, matrix_id, version, algorithm_version, source_data, initial_state, previous_version_id, created_at, triggered_by, comment FROM matrix_audit_records ORDER BY matrix_id, version`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Records: make(map[string]domain.AuditRecord)}
	for rows.Next() {
		var (
			rec          domain.AuditRecord
			sourceData   []byte
			initialState []byte
			previousID   sql.NullString
			createdAt    time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.MatrixID, &rec.Version, &rec.AlgorithmVersion, &sourceData, &initialState, &previousID, &createdAt, &rec.TriggeredBy, &rec.Comment); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan audit record: %w", err)
		}
		rec.SourceData = domain.NewPayload(json.RawMessage(sourceData))
		if len(initialState) > 0 {
			rec.InitialState = domain.NewPayload(json.RawMessage(initialState))
		}
		if previousID.Valid {
			prev := previousID.String
			rec.PreviousID = &prev
		}
		rec.CreatedAt = createdAt.UTC()
		snapshot.Records[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate audit records: %w", err)
	}
	return snapshot, nil
}

// persist inserts any committed records the relational projection does not
// hold yet. Inserts only: conflicting ids are already durable and untouched.
func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	// Predecessors must land before their successors to satisfy the self FK.
	ordered := make([]domain.AuditRecord, 0, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		ordered = append(ordered, rec)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].MatrixID != ordered[j].MatrixID {
			return ordered[i].MatrixID < ordered[j].MatrixID
		}
		return ordered[i].Version < ordered[j].Version
	})

	for _, rec := range ordered {
		var initialState any
		if raw := rec.InitialState.Raw(); raw != nil {
			initialState = []byte(raw)
		}
		var previousID any
		if rec.PreviousID != nil {
			previousID = *rec.PreviousID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO matrix_audit_records (id, matrix_id, version, algorithm_version, source_data, initial_state, previous_version_id, created_at, triggered_by, comment)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.MatrixID, rec.Version, rec.AlgorithmVersion, []byte(rec.SourceData.Raw()), initialState, previousID, rec.CreatedAt, rec.TriggeredBy, rec.Comment); err != nil {
			retErr = fmt.Errorf("insert audit record %s: %w", rec.ID, err)
			return retErr
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// RunInTransaction applies the provided function within a transaction, then
// persists new records to Postgres if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }
