// Package audithttp exposes the audit trail service over HTTP.
package audithttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"matrixaudit/internal/adapters/reports"
	"matrixaudit/internal/core"
	"matrixaudit/pkg/domain"
)

// Handler provides HTTP access to the audit trail.
type Handler struct {
	Service  *core.Service
	Archives reports.Scheduler
	Clock    core.Clock
}

// NewHandler constructs an audit HTTP handler.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "audit service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz":
		h.handleHealth(w, r)
	case path == "/api/v1/audit/logs":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleAppend(w, r)
	case strings.HasPrefix(path, "/api/v1/audit/exports"):
		if h.Archives == nil {
			http.NotFound(w, r)
			return
		}
		h.handleExports(w, r, path)
	case strings.HasPrefix(path, "/api/v1/audit/matrices/"):
		h.handleMatrix(w, r, strings.TrimPrefix(path, "/api/v1/audit/matrices/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := time.Now().UTC()
	if h.Clock != nil {
		now = h.Clock.Now().UTC()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": now.Format(time.RFC3339),
	})
}

type appendRequest struct {
	MatrixID         string         `json:"matrix_id"`
	SourceData       domain.Payload `json:"source_data"`
	AlgorithmVersion string         `json:"algorithm_version"`
	InitialState     domain.Payload `json:"initial_state"`
	TriggeredBy      string         `json:"triggered_by"`
	Comment          string         `json:"comment"`
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid audit log payload")
		return
	}
	record, err := h.Service.AppendRecord(r.Context(), core.AppendInput{
		MatrixID:         req.MatrixID,
		SourceData:       req.SourceData,
		AlgorithmVersion: req.AlgorithmVersion,
		InitialState:     req.InitialState,
		TriggeredBy:      req.TriggeredBy,
		Comment:          req.Comment,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"record": record})
}

func (h *Handler) handleMatrix(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	if len(segments) != 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	matrixID := segments[0]
	switch segments[1] {
	case "history":
		h.handleHistory(w, r, matrixID)
	case "report":
		h.handleReport(w, r, matrixID)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, matrixID string) {
	history, err := h.Service.GetHistory(r.Context(), matrixID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matrix_id": matrixID,
		"versions":  len(history),
		"history":   history,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, matrixID string) {
	format := negotiateFormat(r)
	out, err := h.Service.GenerateReport(r.Context(), matrixID, format)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if out.Format == core.FormatCSV {
		w.Header().Set("Content-Type", out.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename()))
		_, _ = w.Write(out.Table)
		return
	}
	writeJSON(w, http.StatusOK, out.Report)
}

type archiveRequest struct {
	MatrixID    string   `json:"matrix_id"`
	Formats     []string `json:"formats"`
	RequestedBy string   `json:"requested_by"`
	Reason      string   `json:"reason"`
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request, path string) {
	if path == "/api/v1/audit/exports" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleExportCreate(w, r)
		return
	}
	if !strings.HasPrefix(path, "/api/v1/audit/exports/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(path, "/api/v1/audit/exports/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	record, ok := h.Archives.GetArchive(id)
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": record})
}

func (h *Handler) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid export request payload")
		return
	}
	formats := make([]core.ReportFormat, 0, len(req.Formats))
	for _, f := range req.Formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "json":
			formats = append(formats, core.FormatJSON)
		case "csv":
			formats = append(formats, core.FormatCSV)
		default:
			writeError(w, http.StatusBadRequest, "unsupported export format")
			return
		}
	}
	record, err := h.Archives.EnqueueArchive(r.Context(), reports.ArchiveInput{
		MatrixID:    req.MatrixID,
		Formats:     formats,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": record})
}

func negotiateFormat(r *http.Request) core.ReportFormat {
	wanted := strings.ToLower(r.URL.Query().Get("format"))
	if wanted == "" && strings.Contains(r.Header.Get("Accept"), "text/csv") {
		wanted = string(core.FormatCSV)
	}
	return core.ParseReportFormat(wanted)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var invalid domain.InvalidInputError
	var notFound domain.NotFoundError
	var violation domain.RuleViolationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &violation):
		writeError(w, http.StatusConflict, violation.Error())
	case domain.IsStorageUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
