package writer

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCSVWriter_Write(t *testing.T) {
	var buf bytes.Buffer
	w := &CSVWriter{IncludeHeader: true}
	if err := w.Write(&buf, sampleReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "# Betreuter;Erika Mustermann") {
		t.Error("expected guardian metadata")
	}
	if !strings.Contains(output, "# Zeitraum;01.01.2024 - 31.01.2024") {
		t.Error("expected period metadata")
	}
	if !strings.Contains(output, "Datum;Empfänger;Verwendungszweck;Ausgaben;Einnahmen;Konto") {
		t.Error("expected column headers")
	}
	if !strings.Contains(output, "03.01.2024;Rentenversicherung;Rente;;1000,00;DE89370400440532013000") {
		t.Error("expected income row with empty expense column")
	}
	if !strings.Contains(output, "20.01.2024;Vermieter;Miete Januar;850,50;;DE89370400440532013000") {
		t.Error("expected expense row")
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	// 3 metadata lines + 1 header + 3 transactions = 7
	if len(lines) != 7 {
		t.Errorf("expected 7 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[4], "03.01.2024") {
		t.Errorf("rows not sorted by date: %q", lines[4])
	}
}

func TestCSVWriter_NoHeader(t *testing.T) {
	r := sampleReport()
	r.Accounts = r.Accounts[1:]

	var buf bytes.Buffer
	w := &CSVWriter{IncludeHeader: false}
	if err := w.Write(&buf, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if strings.Contains(output, "#") {
		t.Error("metadata should not be present when IncludeHeader is false")
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
}

func TestCSVWriter_WriteToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.csv")
	w := &CSVWriter{}
	if err := w.WriteToFile(path, sampleReport()); err != nil {
		t.Fatalf("WriteToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("Pflegekasse")) {
		t.Error("second account missing from review file")
	}
}
