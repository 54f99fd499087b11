// Package parser turns raw statement rows into canonical transactions:
// amount and date parsing plus the column-mapping step.
package parser

import (
	"github.com/shopspring/decimal"

	"github.com/insightdelivered/betreuung-xml/internal/models"
)

// MapResult is the outcome of mapping a whole file.
type MapResult struct {
	Transactions []models.Transaction
	Rejected     int
}

// MapRow converts one row into a transaction using mapping. ok is false when
// the row has no usable date or no non-zero amount; such rows are dropped.
// With isCents the amount columns are read as integer cents.
func MapRow(row models.Row, mapping models.ColumnMapping, isCents bool) (models.Transaction, bool) {
	dateCol := mapping.Column(models.FieldDate)
	if dateCol == "" {
		return models.Transaction{}, false
	}
	date, ok := ParseDate(row.Value(dateCol))
	if !ok {
		return models.Transaction{}, false
	}

	tx := models.Transaction{
		Date:    date,
		Payee:   row.Value(mapping.Column(models.FieldPayee)),
		Purpose: row.Value(mapping.Column(models.FieldPurpose)),
	}

	parse := ParseAmount
	if isCents {
		parse = ParseCents
	}

	if mapping.SignedColumn() {
		amount := parse(row.Value(mapping.Column(models.FieldExpense)))
		switch amount.Sign() {
		case 1:
			tx.Amount, tx.Type = amount, models.Income
		case -1:
			tx.Amount, tx.Type = amount.Abs(), models.Expense
		default:
			return models.Transaction{}, false
		}
		return tx, true
	}

	expense := columnAmount(row, mapping.Column(models.FieldExpense), parse)
	income := columnAmount(row, mapping.Column(models.FieldIncome), parse)

	// Expense wins when a bank fills both columns.
	switch {
	case expense.IsPositive():
		tx.Amount, tx.Type = expense, models.Expense
	case income.IsPositive():
		tx.Amount, tx.Type = income, models.Income
	default:
		return models.Transaction{}, false
	}
	return tx, true
}

func columnAmount(row models.Row, col string, parse func(string) decimal.Decimal) decimal.Decimal {
	if col == "" {
		return decimal.Zero
	}
	return parse(row.Value(col))
}

// MapRows maps every row with the same cents setting. Rejected counts the
// rows MapRow dropped.
func MapRows(rows []models.Row, mapping models.ColumnMapping, isCents bool) MapResult {
	var res MapResult
	for _, row := range rows {
		tx, ok := MapRow(row, mapping, isCents)
		if !ok {
			res.Rejected++
			continue
		}
		res.Transactions = append(res.Transactions, tx)
	}
	return res
}

// LooksLikeCents reports whether the mapped amount columns hold only
// integer digit strings. It is a hint for configuring a profile, not a
// setting.
func LooksLikeCents(rows []models.Row, mapping models.ColumnMapping) bool {
	return DetectCents(AmountSamples(rows, mapping))
}

// AmountSamples collects the raw cells of the mapped expense and income
// columns.
func AmountSamples(rows []models.Row, mapping models.ColumnMapping) []string {
	cols := []string{mapping.Column(models.FieldExpense)}
	if !mapping.SignedColumn() {
		cols = append(cols, mapping.Column(models.FieldIncome))
	}

	var samples []string
	for _, row := range rows {
		for _, col := range cols {
			if col == "" {
				continue
			}
			if v, ok := row.Get(col); ok {
				samples = append(samples, v)
			}
		}
	}
	return samples
}

// CentsColumns lists the headers whose cells all look like integer cents.
// Used to suggest the cents option before a mapping exists.
func CentsColumns(headers []string, rows []models.Row) []string {
	cols := []string{}
	for _, h := range headers {
		samples := make([]string, 0, len(rows))
		for _, row := range rows {
			if v, ok := row.Get(h); ok {
				samples = append(samples, v)
			}
		}
		if DetectCents(samples) {
			cols = append(cols, h)
		}
	}
	return cols
}
