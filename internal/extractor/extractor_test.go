package extractor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
)

const preambleExport = "Kontoauszug Girokonto\n" +
	"Inhaber: Max Mustermann\n" +
	"Erstellt am 02.02.2024, 10:00\n" +
	"Zeitraum 01.01.2024 bis 31.01.2024\n" +
	"Buchungsdatum;Empfaenger;Betrag\n" +
	"01.01.2024;Shop;-10,00\n" +
	"02.01.2024;Rente;1.200,00\n"

func TestDetectLayout(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		delim     rune
		headerRow int
	}{
		{"preamble skipped", preambleExport, ';', 4},
		{"comma export", "Date,Payee,Amount\n01.01.2024,Shop,5.00\n", ',', 0},
		{"tie favours semicolon", "a;b,c\n", ';', 0},
		{"first maximum wins", "a;b\nc;d\n", ';', 0},
		{"blank lines ignored", "\n\n\nx;y;z\n1;2;3\n", ';', 3},
		{"no delimiter", "just text\nmore text\n", ',', 0},
		// Counting is quote-unaware: a quoted ';' makes the data line win.
		{"quoted delimiter counts", "Datum;Text;Betrag\n\"01.01.2024\";\"Miete; Januar\";-500,00\n", ';', 1},
		{"empty", "", ',', 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delim, header := detectLayout(tt.text)
			if delim != tt.delim {
				t.Errorf("delimiter: got %q, want %q", delim, tt.delim)
			}
			if header != tt.headerRow {
				t.Errorf("header row: got %d, want %d", header, tt.headerRow)
			}
		})
	}
}

func TestDecodeAutoPreamble(t *testing.T) {
	table, err := DecodeAuto([]byte(preambleExport))
	if err != nil {
		t.Fatalf("DecodeAuto: %v", err)
	}
	if table.Format.Delimiter != ';' || table.Format.HeaderRow != 4 {
		t.Errorf("format: got %+v", table.Format)
	}
	if len(table.Headers) != 3 || table.Headers[0] != "Buchungsdatum" {
		t.Fatalf("headers: got %v", table.Headers)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(table.Rows))
	}
	if got := table.Rows[1].Value("empfaenger"); got != "Rente" {
		t.Errorf("case-insensitive lookup: got %q", got)
	}
	if got := table.Rows[0].Value("Betrag"); got != "-10,00" {
		t.Errorf("amount cell: got %q", got)
	}
}

func TestDetectCharset(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"utf-8 bom", []byte("\xef\xbb\xbfDatum"), "UTF-8"},
		{"utf-16le bom", []byte{0xFF, 0xFE, 'a', 0}, "UTF-16LE"},
		{"utf-16be bom", []byte{0xFE, 0xFF, 0, 'a'}, "UTF-16BE"},
		{"valid utf-8", []byte("Empfänger;Betrag"), "UTF-8"},
		{"ascii", []byte("Datum;Betrag"), "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectCharset(tt.data); got != tt.want {
				t.Errorf("DetectCharset: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveCharset(t *testing.T) {
	tests := []struct {
		name       string
		charset    string
		confidence int
		want       string
	}{
		{"trusted", "ISO-8859-1", 80, "ISO-8859-1"},
		{"low confidence", "ISO-8859-1", 10, FallbackCharset},
		{"untrusted", "Shift_JIS", 90, FallbackCharset},
		{"unknown", "", 100, FallbackCharset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveCharset(tt.charset, tt.confidence); got != tt.want {
				t.Errorf("resolveCharset: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLatin1Export(t *testing.T) {
	data := []byte("Name;Betrag\nM\xfcller;100,00\n")

	if got := DetectCharset(data); got == "UTF-8" {
		t.Fatal("latin-1 bytes detected as UTF-8")
	}
	if got := Decode(data, FallbackCharset); got != "Name;Betrag\nMüller;100,00\n" {
		t.Errorf("Decode: got %q", got)
	}

	table, err := DecodeAuto(data)
	if err != nil {
		t.Fatalf("DecodeAuto: %v", err)
	}
	if got := table.Rows[0].Value("Name"); got != "Müller" {
		t.Errorf("name: got %q", got)
	}
}

func TestDecodeAutoBOM(t *testing.T) {
	table, err := DecodeAuto([]byte("\xef\xbb\xbfDatum;Betrag\n01.01.2024;5,00\n"))
	if err != nil {
		t.Fatalf("DecodeAuto: %v", err)
	}
	if table.Headers[0] != "Datum" {
		t.Errorf("BOM not stripped: %q", table.Headers[0])
	}
}

func TestDecodeAutoUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := enc.Bytes([]byte("Datum;Empfänger\n01.01.2024;Bäcker\n"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	table, err := DecodeAuto(data)
	if err != nil {
		t.Fatalf("DecodeAuto: %v", err)
	}
	if table.Headers[0] != "Datum" {
		t.Errorf("header: got %q", table.Headers[0])
	}
	if got := table.Rows[0].Value("Empfänger"); got != "Bäcker" {
		t.Errorf("cell: got %q", got)
	}
}

func TestParseRowsQuotedAndShort(t *testing.T) {
	data := []byte("Datum;Text;Betrag\n\"01.01.2024\";\"Miete, Januar\";-500,00\n02.01.2024\n")
	headers, rows, err := ParseRows(data, DetectFormat(data))
	if err != nil {
		t.Fatalf("ParseRows: %v", err)
	}
	if len(headers) != 3 {
		t.Fatalf("headers: got %v", headers)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if got := rows[0].Value("Text"); got != "Miete, Januar" {
		t.Errorf("quoted cell: got %q", got)
	}
	if _, ok := rows[1].Get("Betrag"); ok {
		t.Error("short row should not have an amount cell")
	}
}

func TestDecodeAutoEmpty(t *testing.T) {
	if _, err := DecodeAuto(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("got %v, want ErrEmpty", err)
	}
}

func TestReadFileAndHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte(preambleExport), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Errorf("rows: got %d", len(table.Rows))
	}

	headers, err := ReadHeaders(path)
	if err != nil {
		t.Fatalf("ReadHeaders: %v", err)
	}
	want := []string{"Buchungsdatum", "Empfaenger", "Betrag"}
	for i, h := range want {
		if headers[i] != h {
			t.Errorf("header %d: got %q, want %q", i, headers[i], h)
		}
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDecodeAutoExcel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Umsatzliste"},
		{},
		{"Datum", "Empfänger", "Betrag"},
		{"01.01.2024", "Shop", "-10,00"},
		{"02.01.2024", "Rente", "1.200,00"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	table, err := DecodeAuto(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeAuto: %v", err)
	}
	if table.Format.Source != "xlsx" || table.Format.HeaderRow != 2 {
		t.Errorf("format: got %+v", table.Format)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(table.Rows))
	}
	if got := table.Rows[1].Value("empfänger"); got != "Rente" {
		t.Errorf("cell: got %q", got)
	}
}
