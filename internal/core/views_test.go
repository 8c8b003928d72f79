package core

import (
	"encoding/json"
	"testing"
)

func TestTransactionCountJSON(t *testing.T) {
	b, err := json.Marshal(CountedTransactions(5))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "5" {
		t.Fatalf("expected numeric form, got %s", b)
	}
	b, err = json.Marshal(TransactionCountNotApplicable)
	if err != nil {
		t.Fatalf("marshal sentinel: %v", err)
	}
	if string(b) != `"N/A"` {
		t.Fatalf("expected N/A sentinel, got %s", b)
	}

	var c TransactionCount
	if err := json.Unmarshal([]byte("7"), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !c.Applicable() || c.Value() != 7 {
		t.Fatalf("unexpected parsed count: %+v", c)
	}
	if err := json.Unmarshal([]byte(`"N/A"`), &c); err != nil {
		t.Fatalf("unmarshal sentinel: %v", err)
	}
	if c.Applicable() {
		t.Fatalf("sentinel must parse as not applicable")
	}
	if c.Value() != 0 {
		t.Fatalf("inapplicable count must coerce to 0, got %d", c.Value())
	}

	// Corrupt values are rejected, not coerced to the sentinel.
	for _, raw := range []string{`{"x":1}`, `"seven"`, `[1]`, `true`} {
		if err := json.Unmarshal([]byte(raw), &c); err == nil {
			t.Fatalf("%s must fail to parse as a transaction count", raw)
		}
	}
}

func TestParseReportFormat(t *testing.T) {
	if ParseReportFormat("csv") != FormatCSV {
		t.Fatalf("csv not recognized")
	}
	for _, s := range []string{"", "json", "xml", "CSV"} {
		if ParseReportFormat(s) != FormatJSON {
			t.Fatalf("%q should fall back to json", s)
		}
	}
}

func TestReportOutputMetadata(t *testing.T) {
	out := ReportOutput{Format: FormatJSON, Report: AuditReport{MatrixID: "m1"}}
	if out.ContentType() != "application/json" {
		t.Fatalf("unexpected json content type")
	}
	out.Format = FormatCSV
	if out.ContentType() != "text/csv" {
		t.Fatalf("unexpected csv content type")
	}
	name := out.Filename()
	if name == "" || name[len(name)-4:] != ".csv" {
		t.Fatalf("unexpected filename %q", name)
	}
}
