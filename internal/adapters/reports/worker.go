// Package reports archives rendered audit reports into blob storage
// asynchronously.
package reports

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"matrixaudit/internal/blob"
	"matrixaudit/internal/core"
)

// ArchiveStatus describes the lifecycle stage of an archive request.
type ArchiveStatus string

const (
	ArchiveStatusQueued    ArchiveStatus = "queued"
	ArchiveStatusRunning   ArchiveStatus = "running"
	ArchiveStatusSucceeded ArchiveStatus = "succeeded"
	ArchiveStatusFailed    ArchiveStatus = "failed"
)

// ArchiveArtifact captures a stored report artifact.
type ArchiveArtifact struct {
	Key         string            `json:"key"`
	Format      core.ReportFormat `json:"format"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	URL         string            `json:"url,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ArchiveRecord tracks an archive request and resulting artifacts.
type ArchiveRecord struct {
	ID          string              `json:"id"`
	MatrixID    string              `json:"matrix_id"`
	Formats     []core.ReportFormat `json:"formats"`
	Status      ArchiveStatus       `json:"status"`
	Error       string              `json:"error,omitempty"`
	Artifacts   []ArchiveArtifact   `json:"artifacts,omitempty"`
	RequestedBy string              `json:"requested_by,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// ArchiveInput represents an enqueue request for the worker.
type ArchiveInput struct {
	MatrixID    string
	Formats     []core.ReportFormat
	RequestedBy string
	Reason      string
}

// Scheduler queues report archive requests and exposes their status.
type Scheduler interface {
	EnqueueArchive(ctx context.Context, input ArchiveInput) (ArchiveRecord, error)
	GetArchive(id string) (ArchiveRecord, bool)
}

// ReportSource produces assembled reports for a matrix.
type ReportSource interface {
	GenerateReport(ctx context.Context, matrixID string, format core.ReportFormat) (core.ReportOutput, error)
}

// Worker renders and stores report archives asynchronously.
type Worker struct {
	source ReportSource
	store  blob.Store
	logger core.Logger

	queue chan archiveTask
	mu    sync.RWMutex
	jobs  map[string]*ArchiveRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type archiveTask struct {
	id    string
	input ArchiveInput
}

// NewWorker constructs an archive worker. The logger may be nil.
func NewWorker(source ReportSource, store blob.Store, logger core.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		logger: logger,
		queue:  make(chan archiveTask, 32),
		jobs:   make(map[string]*ArchiveRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing archive requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueArchive schedules an archive job and returns the queued record.
func (w *Worker) EnqueueArchive(_ context.Context, input ArchiveInput) (ArchiveRecord, error) {
	if w.source == nil {
		return ArchiveRecord{}, fmt.Errorf("report source not configured")
	}
	if strings.TrimSpace(input.MatrixID) == "" {
		return ArchiveRecord{}, fmt.Errorf("matrix id required")
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []core.ReportFormat{core.FormatJSON, core.FormatCSV}
	}
	uniq := make([]core.ReportFormat, 0, len(formats))
	seen := make(map[core.ReportFormat]struct{})
	for _, format := range formats {
		switch format {
		case core.FormatJSON, core.FormatCSV:
		default:
			return ArchiveRecord{}, fmt.Errorf("unsupported archive format %s", format)
		}
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := newID()
	now := time.Now().UTC()
	record := ArchiveRecord{
		ID:          id,
		MatrixID:    input.MatrixID,
		Formats:     uniq,
		Status:      ArchiveStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queuedSnapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- archiveTask{id: id, input: input}:
	default:
		w.fail(id, "archive queue full")
		return ArchiveRecord{}, fmt.Errorf("archive queue full")
	}

	if w.logger != nil {
		w.logger.Info("report archive queued", "archive_id", id, "matrix_id", input.MatrixID)
	}
	return queuedSnapshot, nil
}

// GetArchive returns a snapshot of the archive record.
func (w *Worker) GetArchive(id string) (ArchiveRecord, bool) {
	w.mu.RLock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return ArchiveRecord{}, false
	}
	snapshot := record.copy()
	w.mu.RUnlock()
	return snapshot, true
}

func (w *Worker) process(task archiveTask) {
	record, ok := w.GetArchive(task.id)
	if !ok {
		return
	}

	w.updateStatus(task.id, ArchiveStatusRunning, "")

	artifacts := make([]ArchiveArtifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := w.render(task.input.MatrixID, format)
		if err != nil {
			w.fail(task.id, err.Error())
			return
		}
		artifact, err := w.archive(task.id, task.input.MatrixID, format, contentType, payload)
		if err != nil {
			w.fail(task.id, fmt.Sprintf("store artifact failed: %v", err))
			return
		}
		artifacts = append(artifacts, artifact)
	}

	w.complete(task.id, artifacts)
}

func (w *Worker) render(matrixID string, format core.ReportFormat) ([]byte, string, error) {
	out, err := w.source.GenerateReport(w.ctx, matrixID, format)
	if err != nil {
		return nil, "", fmt.Errorf("generate report: %w", err)
	}
	if format == core.FormatCSV {
		return out.Table, out.ContentType(), nil
	}
	payload, err := json.Marshal(out.Report)
	if err != nil {
		return nil, "", fmt.Errorf("marshal report: %w", err)
	}
	return payload, out.ContentType(), nil
}

func (w *Worker) archive(archiveID, matrixID string, format core.ReportFormat, contentType string, payload []byte) (ArchiveArtifact, error) {
	key := fmt.Sprintf("reports/%s/%s.%s", matrixID, archiveID, format)
	now := time.Now().UTC()
	artifact := ArchiveArtifact{
		Key:         key,
		Format:      format,
		ContentType: contentType,
		SizeBytes:   int64(len(payload)),
		CreatedAt:   now,
	}
	if w.store == nil {
		return artifact, nil
	}
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"matrix_id": matrixID, "size": strconv.Itoa(len(payload))},
	})
	if err != nil {
		return ArchiveArtifact{}, err
	}
	if !info.LastModified.IsZero() {
		artifact.CreatedAt = info.LastModified
	}
	if url, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{}); err == nil {
		artifact.URL = url
	}
	return artifact, nil
}

func (w *Worker) updateStatus(id string, status ArchiveStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []ArchiveArtifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ArchiveStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Info("report archive completed", "archive_id", id, "artifacts", len(artifacts))
	}
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ArchiveStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Warn("report archive failed", "archive_id", id, "reason", reason)
	}
}

func (r ArchiveRecord) copy() ArchiveRecord {
	dup := r
	dup.Formats = append([]core.ReportFormat(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ArchiveArtifact(nil), r.Artifacts...)
	}
	return dup
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", b[:])
}
