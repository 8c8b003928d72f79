// Package memory provides an in-memory implementation of the audit persistence
// store used for tests and ephemeral environments. It is also the transactional
// engine the sqlite and postgres drivers wrap for durability.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"matrixaudit/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// AuditRecord aliases domain.AuditRecord for in-memory persistence operations.
	AuditRecord = domain.AuditRecord
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	// records indexes every audit record by its storage-assigned id.
	records map[string]AuditRecord
	// chains orders record ids per matrix by ascending version.
	chains map[string][]string
}

func newMemoryState() memoryState {
	return memoryState{
		records: make(map[string]AuditRecord),
		chains:  make(map[string][]string),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		records: make(map[string]AuditRecord, len(s.records)),
		chains:  make(map[string][]string, len(s.chains)),
	}
	for id, rec := range s.records {
		out.records[id] = rec.Clone()
	}
	for matrixID, ids := range s.chains {
		out.chains[matrixID] = append([]string(nil), ids...)
	}
	return out
}

// Snapshot captures a point-in-time clone of the store state. Chains are
// rebuilt from record versions on import, so only records are serialized.
type Snapshot struct {
	Records map[string]AuditRecord `json:"records"`
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{Records: make(map[string]AuditRecord, len(state.records))}
	for id, rec := range state.records {
		s.Records[id] = rec.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for id, rec := range s.Records {
		state.records[id] = rec.Clone()
	}
	for matrixID := range chainIndex(state.records) {
		state.chains[matrixID] = orderedChainIDs(state.records, matrixID)
	}
	return state
}

func chainIndex(records map[string]AuditRecord) map[string]struct{} {
	out := make(map[string]struct{})
	for _, rec := range records {
		out[rec.MatrixID] = struct{}{}
	}
	return out
}

func orderedChainIDs(records map[string]AuditRecord, matrixID string) []string {
	var chain []AuditRecord
	for _, rec := range records {
		if rec.MatrixID == matrixID {
			chain = append(chain, rec)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version < chain[j].Version })
	ids := make([]string, len(chain))
	for i, rec := range chain {
		ids[i] = rec.ID
	}
	return ids
}

// Store provides an in-memory transactional store for audit chains.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider. Used by tests that need
// deterministic timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListRecords returns all audit records within the transaction snapshot.
func (v transactionView) ListRecords() []AuditRecord {
	out := make([]AuditRecord, 0, len(v.state.records))
	for _, rec := range v.state.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MatrixID != out[j].MatrixID {
			return out[i].MatrixID < out[j].MatrixID
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// ListChain returns the matrix's records ordered by ascending version.
func (v transactionView) ListChain(matrixID string) []AuditRecord {
	ids := v.state.chains[matrixID]
	out := make([]AuditRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := v.state.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// LatestRecord returns the highest-version record for the matrix, if any.
func (v transactionView) LatestRecord(matrixID string) (AuditRecord, bool) {
	ids := v.state.chains[matrixID]
	if len(ids) == 0 {
		return AuditRecord{}, false
	}
	rec, ok := v.state.records[ids[len(ids)-1]]
	if !ok {
		return AuditRecord{}, false
	}
	return rec.Clone(), true
}

// FindRecord retrieves a record by id from the snapshot.
func (v transactionView) FindRecord(id string) (AuditRecord, bool) {
	rec, ok := v.state.records[id]
	if !ok {
		return AuditRecord{}, false
	}
	return rec.Clone(), true
}

// ListMatrices returns the matrix identifiers with at least one record.
func (v transactionView) ListMatrices() []string {
	out := make([]string, 0, len(v.state.chains))
	for matrixID := range v.state.chains {
		out = append(out, matrixID)
	}
	sort.Strings(out)
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The store mutex is held for the whole read-then-append scope, so two appends
// for the same matrix can never observe the same latest version.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// AppendRecord assigns version, predecessor link, id, and creation timestamp,
// then stages the record in the transaction.
func (tx *transaction) AppendRecord(record AuditRecord) (AuditRecord, error) {
	if record.MatrixID == "" {
		return AuditRecord{}, fmt.Errorf("audit record requires a matrix id")
	}
	if record.SourceData.IsEmpty() {
		return AuditRecord{}, fmt.Errorf("audit record requires source data")
	}
	if _, ok := record.SourceData.Object(); !ok {
		return AuditRecord{}, fmt.Errorf("audit record source data must be a JSON object")
	}
	if record.AlgorithmVersion == "" {
		record.AlgorithmVersion = domain.DefaultAlgorithmVersion
	}

	record.Version = 1
	record.PreviousID = nil
	createdAt := tx.now

	ids := tx.state.chains[record.MatrixID]
	if len(ids) > 0 {
		last, ok := tx.state.records[ids[len(ids)-1]]
		if !ok {
			return AuditRecord{}, fmt.Errorf("chain index for %q references missing record", record.MatrixID)
		}
		record.Version = last.Version + 1
		prev := last.ID
		record.PreviousID = &prev
		// Creation timestamps stay non-decreasing along a chain.
		if last.CreatedAt.After(createdAt) {
			createdAt = last.CreatedAt
		}
	}

	record.ID = tx.store.newID()
	if _, exists := tx.state.records[record.ID]; exists {
		return AuditRecord{}, fmt.Errorf("audit record %q already exists", record.ID)
	}
	record.CreatedAt = createdAt

	stored := record.Clone()
	tx.state.records[stored.ID] = stored
	tx.state.chains[stored.MatrixID] = append(ids, stored.ID)
	tx.recordChange(Change{Entity: domain.EntityAuditRecord, Action: domain.ActionAppend, After: stored.Clone()})
	return record, nil
}

// GetRecord retrieves a committed record by id.
func (s *Store) GetRecord(id string) (AuditRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.records[id]
	if !ok {
		return AuditRecord{}, false
	}
	return rec.Clone(), true
}

// ListChain returns the committed records for a matrix in ascending version order.
func (s *Store) ListChain(matrixID string) []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.chains[matrixID]
	out := make([]AuditRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.state.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ListMatrices returns all matrix identifiers that have a committed chain.
func (s *Store) ListMatrices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.state.chains))
	for matrixID := range s.state.chains {
		out = append(out, matrixID)
	}
	sort.Strings(out)
	return out
}
