package core

import (
	"context"
	"errors"
	"time"

	"matrixaudit/internal/infra/persistence/memory"
	"matrixaudit/pkg/domain"
)

// Service exposes the version chain manager and audit view builder over a
// persistent store. The public surface is append and read only; no operation
// can alter or remove a persisted record.
type Service struct {
	store   domain.PersistentStore
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
}

// Option customizes service construction.
type Option func(*Service)

// WithLogger installs a structured logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the service time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder installs an operation metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithTracer installs a tracer wrapping every service operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store with the
// given rules engine. Nil wires the default chain invariants.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// AppendInput carries the caller-supplied fields of a new computation record.
type AppendInput struct {
	MatrixID         string
	SourceData       domain.Payload
	AlgorithmVersion string
	InitialState     domain.Payload
	TriggeredBy      string
	Comment          string
}

// AppendRecord appends the next version to the matrix's chain. Version number,
// predecessor link, id, and timestamp are determined atomically inside the
// store transaction; the fully populated persisted record is returned.
func (s *Service) AppendRecord(ctx context.Context, input AppendInput) (domain.AuditRecord, error) {
	ctx, finish := s.instrument(ctx, "append_record")
	created, err := s.appendRecord(ctx, input)
	finish(err)
	if err != nil {
		s.logger.Error("append audit record failed", "matrix_id", input.MatrixID, "error", err)
		return domain.AuditRecord{}, err
	}
	s.logger.Info("audit record appended", "matrix_id", created.MatrixID, "version", created.Version, "id", created.ID)
	return created, nil
}

func (s *Service) appendRecord(ctx context.Context, input AppendInput) (domain.AuditRecord, error) {
	if input.MatrixID == "" {
		return domain.AuditRecord{}, domain.InvalidInputError{Field: "matrix_id", Reason: "must not be empty"}
	}
	if input.SourceData.IsEmpty() {
		return domain.AuditRecord{}, domain.InvalidInputError{Field: "source_data", Reason: "is required"}
	}
	if _, ok := input.SourceData.Object(); !ok {
		return domain.AuditRecord{}, domain.InvalidInputError{Field: "source_data", Reason: "must be a JSON object"}
	}
	algorithm := input.AlgorithmVersion
	if algorithm == "" {
		algorithm = domain.DefaultAlgorithmVersion
	}

	var created domain.AuditRecord
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.AppendRecord(domain.AuditRecord{
			MatrixID:         input.MatrixID,
			AlgorithmVersion: algorithm,
			SourceData:       input.SourceData,
			InitialState:     input.InitialState,
			TriggeredBy:      input.TriggeredBy,
			Comment:          input.Comment,
		})
		return err
	})
	if err != nil {
		return domain.AuditRecord{}, classifyStorageError("append_record", err)
	}
	return created, nil
}

// GetHistory returns the matrix's chain projected as ordered history entries,
// version 1 first.
func (s *Service) GetHistory(ctx context.Context, matrixID string) ([]HistoryEntry, error) {
	ctx, finish := s.instrument(ctx, "get_history")
	chain, err := s.fetchChain(ctx, "get_history", matrixID)
	finish(err)
	if err != nil {
		return nil, err
	}
	return buildHistory(chain), nil
}

// GenerateReport assembles the detailed audit report for the matrix and
// renders it per the requested format. The generation timestamp is captured at
// call time and not stored.
func (s *Service) GenerateReport(ctx context.Context, matrixID string, format ReportFormat) (ReportOutput, error) {
	ctx, finish := s.instrument(ctx, "generate_report")
	out, err := s.generateReport(ctx, matrixID, format)
	finish(err)
	return out, err
}

func (s *Service) generateReport(ctx context.Context, matrixID string, format ReportFormat) (ReportOutput, error) {
	chain, err := s.fetchChain(ctx, "generate_report", matrixID)
	if err != nil {
		return ReportOutput{}, err
	}
	report := buildReport(matrixID, chain, s.clock.Now().UTC())
	out := ReportOutput{Format: format, Report: report}
	if format == FormatCSV {
		table, err := renderReportCSV(report)
		if err != nil {
			return ReportOutput{}, err
		}
		out.Table = table
	}
	return out, nil
}

// fetchChain is the single retrieval primitive both projections share: the
// full committed chain for a matrix, ordered by ascending version.
func (s *Service) fetchChain(ctx context.Context, op, matrixID string) ([]domain.AuditRecord, error) {
	if matrixID == "" {
		return nil, domain.InvalidInputError{Field: "matrix_id", Reason: "must not be empty"}
	}
	var chain []domain.AuditRecord
	if err := s.store.View(ctx, func(view domain.TransactionView) error {
		chain = view.ListChain(matrixID)
		return nil
	}); err != nil {
		return nil, classifyStorageError(op, err)
	}
	if len(chain) == 0 {
		return nil, domain.NotFoundError{MatrixID: matrixID}
	}
	return chain, nil
}

// classifyStorageError keeps caller errors intact and folds everything else
// into the storage-unavailable taxonomy.
func classifyStorageError(op string, err error) error {
	var violation domain.RuleViolationError
	if domain.IsInvalidInput(err) || domain.IsNotFound(err) || domain.IsStorageUnavailable(err) || errors.As(err, &violation) {
		return err
	}
	return domain.StorageUnavailableError{Op: op, Err: err}
}

func (s *Service) instrument(ctx context.Context, operation string) (context.Context, func(error)) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	return ctx, func(err error) {
		duration := s.clock.Now().Sub(start)
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, duration)
	}
}
