package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/parser"
)

// CSVWriter writes the final transactions of a report as a semicolon
// separated review file that opens directly in German spreadsheet tools.
type CSVWriter struct {
	IncludeHeader bool
}

// WriteToFile writes the review file to path.
func (w *CSVWriter) WriteToFile(path string, r models.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	return w.Write(f, r)
}

// Write writes the review file to out. Rows follow account order and are
// sorted by date within an account, matching the XML tables.
func (w *CSVWriter) Write(out io.Writer, r models.Report) error {
	writer := csv.NewWriter(out)
	writer.Comma = ';'

	// Metadata rows
	if w.IncludeHeader {
		g := r.Guardian
		var meta [][]string
		if name := strings.TrimSpace(g.FirstName + " " + g.LastName); name != "" {
			meta = append(meta, []string{"# Betreuter", name})
		}
		if g.CaseNumber != "" {
			meta = append(meta, []string{"# Aktenzeichen", g.CaseNumber})
		}
		if r.PeriodStart != "" || r.PeriodEnd != "" {
			meta = append(meta, []string{"# Zeitraum", r.PeriodStart + " - " + r.PeriodEnd})
		}
		for _, m := range meta {
			if err := writer.Write(m); err != nil {
				return fmt.Errorf("failed to write CSV metadata: %w", err)
			}
		}
	}

	header := []string{"Datum", "Empfänger", "Verwendungszweck", "Ausgaben", "Einnahmen", "Konto"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, at := range r.Accounts {
		for _, tx := range sortedByDate(at.Transactions) {
			expense, income := "", ""
			if tx.Type == models.Expense {
				expense = germanAmount(tx.Amount)
			} else {
				income = germanAmount(tx.Amount)
			}
			row := []string{
				parser.FormatDate(tx.Date),
				tx.Payee,
				tx.Purpose,
				expense,
				income,
				at.Account.IBAN,
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// germanAmount formats d with a decimal comma, as the review file is meant
// for German spreadsheet locales.
func germanAmount(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}
