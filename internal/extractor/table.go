package extractor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/insightdelivered/betreuung-xml/internal/models"
)

// ErrEmpty is returned when a file has no header row.
var ErrEmpty = errors.New("extractor: file has no header row")

// Table is a decoded export: the header row plus every data row below it.
type Table struct {
	Format  Format
	Headers []string
	Rows    []models.Row
}

// ReadFile opens path, detects its format and parses every row. The file is
// closed before ReadFile returns.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	t, err := DecodeAuto(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadHeaders returns just the header names of the file at path, used to
// offer columns for a new mapping profile.
func ReadHeaders(path string) ([]string, error) {
	t, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return t.Headers, nil
}

// DecodeAuto parses data as an xlsx workbook when it carries the zip magic
// bytes and as delimited text otherwise.
func DecodeAuto(data []byte) (*Table, error) {
	if isExcelFile(data) {
		return decodeExcel(data)
	}
	f := DetectFormat(data)
	headers, rows, err := ParseRows(data, f)
	if err != nil {
		return nil, err
	}
	return &Table{Format: f, Headers: headers, Rows: rows}, nil
}

// ParseRows decodes data with f and returns the header names and the data
// rows beneath them. Cells are trimmed; short rows are kept as is.
func ParseRows(data []byte, f Format) ([]string, []models.Row, error) {
	text := Decode(data, f.Charset)
	lines := splitLines(text)
	if f.HeaderRow > 0 && f.HeaderRow < len(lines) {
		lines = lines[f.HeaderRow:]
	}

	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = f.Delimiter
	if r.Comma == 0 {
		r.Comma = ','
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrEmpty
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	headers := trimAll(header)

	var rows []models.Row
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, models.Row{Headers: headers, Cells: trimAll(rec)})
	}
	return headers, rows, nil
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
