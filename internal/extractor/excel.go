package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/insightdelivered/betreuung-xml/internal/models"
)

// decodeExcel reads the first sheet of an xlsx workbook. The header is the
// first row with the most non-empty cells among the leading rows, so title
// rows above the table are skipped the same way as in text exports.
func decodeExcel(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("open workbook: no sheets")
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	headerIdx := excelHeaderRow(raw)
	if headerIdx < 0 {
		return nil, ErrEmpty
	}

	headers := trimAll(raw[headerIdx])
	rows := make([]models.Row, 0, len(raw)-headerIdx-1)
	for _, r := range raw[headerIdx+1:] {
		rows = append(rows, models.Row{Headers: headers, Cells: trimAll(r)})
	}

	return &Table{
		Format:  Format{Source: "xlsx", Charset: "UTF-8", HeaderRow: headerIdx},
		Headers: headers,
		Rows:    rows,
	}, nil
}

func excelHeaderRow(rows [][]string) int {
	best, idx := 0, -1
	scanned := 0
	for i, r := range rows {
		n := 0
		for _, c := range r {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		if n == 0 {
			continue
		}
		scanned++
		if scanned > layoutScanLines {
			break
		}
		if n > best {
			best, idx = n, i
		}
	}
	return idx
}

// isExcelFile checks magic bytes for xlsx (zip) or legacy xls (OLE2). The
// latter fails to open and is reported instead of being read as text.
func isExcelFile(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	magic := data[:4]
	return bytes.Equal(magic, []byte{0x50, 0x4B, 0x03, 0x04}) ||
		bytes.Equal(magic, []byte{0xD0, 0xCF, 0x11, 0xE0})
}
