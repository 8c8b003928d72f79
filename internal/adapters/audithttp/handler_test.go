package audithttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"matrixaudit/internal/adapters/reports"
	"matrixaudit/internal/core"
	"matrixaudit/pkg/domain"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return NewHandler(core.NewInMemoryService(nil))
}

func appendBody(matrixID string) string {
	return fmt.Sprintf(`{"matrix_id":%q,"source_data":{"rates":"2026-q1"},"triggered_by":"ops@corp","comment":"initial run"}`, matrixID)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	for k, vs := range header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response body: %v (%s)", err, w.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)
	h.Clock = core.ClockFunc(func() time.Time {
		return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	})
	w := doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	payload := decodeBody(t, w)
	if payload["status"] != "ok" || payload["timestamp"] != "2026-05-01T10:00:00Z" {
		t.Fatalf("unexpected health payload %v", payload)
	}
}

func TestAppendLogEndpoint(t *testing.T) {
	h := newTestHandler(t)
	w := doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", appendBody("matrix-7"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	payload := decodeBody(t, w)
	record, ok := payload["record"].(map[string]any)
	if !ok {
		t.Fatalf("missing record envelope: %v", payload)
	}
	if record["matrix_id"] != "matrix-7" || record["version"] != float64(1) {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["previous_version_id"] != nil {
		t.Fatalf("first version must not link a predecessor: %v", record["previous_version_id"])
	}

	w = doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", appendBody("matrix-7"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for second append, got %d", w.Code)
	}
	second := decodeBody(t, w)["record"].(map[string]any)
	if second["version"] != float64(2) || second["previous_version_id"] == nil {
		t.Fatalf("second version must chain to the first: %v", second)
	}
}

func TestAppendLogValidation(t *testing.T) {
	h := newTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", "{not json", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", `{"matrix_id":"","source_data":{"k":"v"}}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing matrix id: expected 400, got %d", w.Code)
	}
	if msg := decodeBody(t, w)["error"]; msg == "" || msg == nil {
		t.Fatalf("expected error message")
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/audit/logs", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on logs: expected 405, got %d", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := newTestHandler(t)
	for i := 0; i < 3; i++ {
		if w := doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", appendBody("matrix-9"), nil); w.Code != http.StatusCreated {
			t.Fatalf("seed append %d failed: %d", i, w.Code)
		}
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/matrix-9/history", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	payload := decodeBody(t, w)
	if payload["matrix_id"] != "matrix-9" || payload["versions"] != float64(3) {
		t.Fatalf("unexpected history envelope: %v", payload)
	}
	history := payload["history"].([]any)
	first := history[0].(map[string]any)
	last := history[2].(map[string]any)
	if first["version"] != "v1" || last["version"] != "v3" {
		t.Fatalf("history must be ordered by version: %v", history)
	}
}

func TestHistoryUnknownMatrix(t *testing.T) {
	h := newTestHandler(t)
	w := doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/ghost/history", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestReportEndpointJSON(t *testing.T) {
	h := newTestHandler(t)
	if w := doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", appendBody("matrix-3"), nil); w.Code != http.StatusCreated {
		t.Fatalf("seed append failed: %d", w.Code)
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/matrix-3/report", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	payload := decodeBody(t, w)
	if payload["matrix_id"] != "matrix-3" || payload["total_versions"] != float64(1) {
		t.Fatalf("unexpected report: %v", payload)
	}
	if _, ok := payload["audit_trail"].([]any); !ok {
		t.Fatalf("missing audit_trail: %v", payload)
	}
}

func TestReportEndpointCSV(t *testing.T) {
	h := newTestHandler(t)
	if w := doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", appendBody("matrix-3"), nil); w.Code != http.StatusCreated {
		t.Fatalf("seed append failed: %d", w.Code)
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/matrix-3/report?format=csv", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	disposition := w.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment; filename=") || !strings.Contains(disposition, "matrix-3") {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if lines[0] != "version,date,triggered_by,comment,algorithm_version,transactions_count" {
		t.Fatalf("unexpected csv header %q", lines[0])
	}

	// Accept header negotiation without an explicit query parameter.
	header := http.Header{}
	header.Set("Accept", "text/csv")
	w = doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/matrix-3/report", "", header)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("accept negotiation failed, content type %q", ct)
	}
}

func TestReportUnknownMatrix(t *testing.T) {
	h := newTestHandler(t)
	w := doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/ghost/report", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := newTestHandler(t)
	for _, target := range []string{
		"/api/v1/audit/matrices/matrix-1/unknown",
		"/api/v1/audit/matrices",
		"/nope",
	} {
		w := doRequest(t, h, http.MethodGet, target, "", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, w.Code)
		}
	}
}

// downStore fails every storage operation.
type downStore struct {
	err error
}

func (d *downStore) RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error) {
	return domain.Result{}, d.err
}

func (d *downStore) View(context.Context, func(domain.TransactionView) error) error {
	return d.err
}

func (d *downStore) GetRecord(string) (domain.AuditRecord, bool) { return domain.AuditRecord{}, false }
func (d *downStore) ListChain(string) []domain.AuditRecord       { return nil }
func (d *downStore) ListMatrices() []string                      { return nil }

func TestStorageOutageMapsToServiceUnavailable(t *testing.T) {
	h := NewHandler(core.NewService(&downStore{err: errors.New("connection refused")}))

	w := doRequest(t, h, http.MethodPost, "/api/v1/audit/logs", appendBody("matrix-7"), nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("append during outage: expected 503, got %d (%s)", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["error"] != "storage unavailable" {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/matrix-7/history", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("history during outage: expected 503, got %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/api/v1/audit/matrices/matrix-7/report", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("report during outage: expected 503, got %d", w.Code)
	}
}

type stubScheduler struct {
	enqueued []reports.ArchiveInput
	record   reports.ArchiveRecord
	err      error
}

func (s *stubScheduler) EnqueueArchive(_ context.Context, input reports.ArchiveInput) (reports.ArchiveRecord, error) {
	s.enqueued = append(s.enqueued, input)
	if s.err != nil {
		return reports.ArchiveRecord{}, s.err
	}
	return s.record, nil
}

func (s *stubScheduler) GetArchive(id string) (reports.ArchiveRecord, bool) {
	if id == s.record.ID {
		return s.record, true
	}
	return reports.ArchiveRecord{}, false
}

func TestExportEndpoints(t *testing.T) {
	h := newTestHandler(t)
	scheduler := &stubScheduler{record: reports.ArchiveRecord{
		ID:       "exp-1",
		MatrixID: "matrix-3",
		Status:   reports.ArchiveStatusQueued,
	}}
	h.Archives = scheduler

	w := doRequest(t, h, http.MethodPost, "/api/v1/audit/exports",
		`{"matrix_id":"matrix-3","formats":["json","csv"],"requested_by":"auditor"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", w.Code, w.Body.String())
	}
	export := decodeBody(t, w)["export"].(map[string]any)
	if export["id"] != "exp-1" || export["status"] != string(reports.ArchiveStatusQueued) {
		t.Fatalf("unexpected export envelope: %v", export)
	}
	if len(scheduler.enqueued) != 1 || len(scheduler.enqueued[0].Formats) != 2 {
		t.Fatalf("scheduler did not receive normalized formats: %+v", scheduler.enqueued)
	}

	w = doRequest(t, h, http.MethodPost, "/api/v1/audit/exports", `{"matrix_id":"m","formats":["xml"]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unsupported format: expected 400, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/audit/exports/exp-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/api/v1/audit/exports/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown export, got %d", w.Code)
	}
}

func TestExportsDisabledWithoutWorker(t *testing.T) {
	h := newTestHandler(t)
	w := doRequest(t, h, http.MethodPost, "/api/v1/audit/exports", `{"matrix_id":"m"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when exports are not wired, got %d", w.Code)
	}
}
