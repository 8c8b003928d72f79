package core

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"matrixaudit/pkg/domain"
)

// HistoryEntry is one line of the compact history listing for a matrix.
type HistoryEntry struct {
	Version          string    `json:"version"`
	Timestamp        time.Time `json:"timestamp"`
	AlgorithmVersion string    `json:"algorithm_version"`
	TriggeredBy      string    `json:"triggered_by,omitempty"`
	Comment          string    `json:"comment,omitempty"`
	HasPrevious      bool      `json:"has_previous"`
}

// TransactionCount reports how many transaction identifiers a record's source
// data carried. Source data has no schema, so the count is only applicable
// when the document is an object whose "transactionIds" field is a sequence.
type TransactionCount struct {
	count      int
	applicable bool
}

// CountedTransactions builds an applicable count.
func CountedTransactions(n int) TransactionCount {
	return TransactionCount{count: n, applicable: true}
}

// TransactionCountNotApplicable is reported when source data carries no
// recognizable transaction list.
var TransactionCountNotApplicable = TransactionCount{}

// Applicable reports whether the source data carried a transaction sequence.
func (c TransactionCount) Applicable() bool { return c.applicable }

// Value returns the count, coerced to 0 when not applicable. Only tabular
// renderings, which need a numeric cell, use the coerced form.
func (c TransactionCount) Value() int {
	if !c.applicable {
		return 0
	}
	return c.count
}

// MarshalJSON emits the count as a number, or the "N/A" sentinel when the
// source data carried no transaction sequence. The sentinel is never silently
// coerced to 0 in JSON.
func (c TransactionCount) MarshalJSON() ([]byte, error) {
	if !c.applicable {
		return json.Marshal("N/A")
	}
	return json.Marshal(c.count)
}

// UnmarshalJSON accepts the numeric form or the "N/A" sentinel; anything else
// is rejected rather than coerced.
func (c *TransactionCount) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = CountedTransactions(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s == "N/A" {
		*c = TransactionCountNotApplicable
		return nil
	}
	return fmt.Errorf("transactions_count must be a number or %q, got %s", "N/A", data)
}

// TechnicalDetails carries the per-version computation metadata of a trail entry.
type TechnicalDetails struct {
	Algo              string           `json:"algo"`
	TransactionsCount TransactionCount `json:"transactions_count"`
}

// TrailEntry is one step of the detailed audit report.
type TrailEntry struct {
	Step             int              `json:"step"`
	Date             time.Time        `json:"date"`
	ActionBy         string           `json:"action_by,omitempty"`
	Changes          string           `json:"changes,omitempty"`
	TechnicalDetails TechnicalDetails `json:"technical_details"`
}

// AuditReport is the detailed projection of a matrix version chain.
type AuditReport struct {
	ReportID      string       `json:"report_id"`
	MatrixID      string       `json:"matrix_id"`
	GeneratedAt   time.Time    `json:"generated_at"`
	TotalVersions int          `json:"total_versions"`
	Trail         []TrailEntry `json:"audit_trail"`
}

// ReportFormat selects the rendering of a generated report.
type ReportFormat string

const (
	// FormatJSON renders the structured report. It is the default.
	FormatJSON ReportFormat = "json"
	// FormatCSV renders the trail as a byte table.
	FormatCSV ReportFormat = "csv"
)

// ParseReportFormat maps a caller-supplied format string onto a rendering.
// Anything other than "csv" falls back to JSON.
func ParseReportFormat(s string) ReportFormat {
	if s == string(FormatCSV) {
		return FormatCSV
	}
	return FormatJSON
}

// ReportOutput is the tagged result of GenerateReport: the assembled report
// plus, for the CSV rendering, the flattened byte table. Data assembly always
// precedes rendering, so Report is populated for both formats.
type ReportOutput struct {
	Format ReportFormat
	Report AuditReport
	Table  []byte
}

// ContentType returns the MIME type of the chosen rendering.
func (o ReportOutput) ContentType() string {
	if o.Format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Filename suggests a download name carrying the matrix identifier.
func (o ReportOutput) Filename() string {
	ext := "json"
	if o.Format == FormatCSV {
		ext = "csv"
	}
	return fmt.Sprintf("audit-%s-%s.%s", o.Report.MatrixID, o.Report.GeneratedAt.UTC().Format("20060102T150405Z"), ext)
}

// csvHeader fixes the column order of the tabular rendering.
var csvHeader = []string{"version", "date", "triggered_by", "comment", "algorithm_version", "transactions_count"}

func versionLabel(version int) string {
	return fmt.Sprintf("v%d", version)
}

func transactionCount(rec domain.AuditRecord) TransactionCount {
	seq, ok := rec.SourceData.Sequence("transactionIds")
	if !ok {
		return TransactionCountNotApplicable
	}
	return CountedTransactions(len(seq))
}

func buildHistory(chain []domain.AuditRecord) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(chain))
	for _, rec := range chain {
		entries = append(entries, HistoryEntry{
			Version:          versionLabel(rec.Version),
			Timestamp:        rec.CreatedAt,
			AlgorithmVersion: rec.AlgorithmVersion,
			TriggeredBy:      rec.TriggeredBy,
			Comment:          rec.Comment,
			HasPrevious:      rec.HasPrevious(),
		})
	}
	return entries
}

func buildReport(matrixID string, chain []domain.AuditRecord, generatedAt time.Time) AuditReport {
	trail := make([]TrailEntry, 0, len(chain))
	for _, rec := range chain {
		trail = append(trail, TrailEntry{
			Step:     rec.Version,
			Date:     rec.CreatedAt,
			ActionBy: rec.TriggeredBy,
			Changes:  rec.Comment,
			TechnicalDetails: TechnicalDetails{
				Algo:              rec.AlgorithmVersion,
				TransactionsCount: transactionCount(rec),
			},
		})
	}
	return AuditReport{
		ReportID:      fmt.Sprintf("AUDIT-%s-%s", matrixID, generatedAt.UTC().Format("20060102")),
		MatrixID:      matrixID,
		GeneratedAt:   generatedAt,
		TotalVersions: len(chain),
		Trail:         trail,
	}
}

// renderReportCSV flattens the trail into rows with the fixed column order:
// version label, ISO-8601 date, actor, comment, algorithm version, count.
func renderReportCSV(report AuditReport) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, entry := range report.Trail {
		date := ""
		if !entry.Date.IsZero() {
			date = entry.Date.UTC().Format(time.RFC3339)
		}
		actor := entry.ActionBy
		if actor == "" {
			actor = "N/A"
		}
		row := []string{
			versionLabel(entry.Step),
			date,
			actor,
			entry.Changes,
			entry.TechnicalDetails.Algo,
			strconv.Itoa(entry.TechnicalDetails.TransactionsCount.Value()),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
