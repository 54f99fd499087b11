package models

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType carries the sign of a transaction.
type TransactionType string

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

// Transaction is a single canonical booking. Amount is always a positive
// magnitude; the direction lives in Type.
type Transaction struct {
	Date    civil.Date      `json:"date"`
	Payee   string          `json:"payee"`
	Purpose string          `json:"purpose"`
	Amount  decimal.Decimal `json:"amount"`
	Type    TransactionType `json:"type"`
}

// WithPayee returns a copy of t with the payee replaced.
func (t Transaction) WithPayee(payee string) Transaction {
	t.Payee = payee
	return t
}

// WithPurpose returns a copy of t with the purpose replaced.
func (t Transaction) WithPurpose(purpose string) Transaction {
	t.Purpose = purpose
	return t
}

// CanonicalField identifies one of the five transaction attributes the
// report form expects.
type CanonicalField string

const (
	FieldDate    CanonicalField = "date"
	FieldPayee   CanonicalField = "payee"
	FieldPurpose CanonicalField = "purpose"
	FieldExpense CanonicalField = "expense"
	FieldIncome  CanonicalField = "income"
)

// Field ids used by older settings files, which keyed mappings by the
// report form's element ids.
var legacyFieldNames = map[string]CanonicalField{
	"dates2":          FieldDate,
	"bezeichnungpos3": FieldPayee,
	"bezeichnungpos4": FieldPurpose,
	"ausgaben":        FieldExpense,
	"einnahmen":       FieldIncome,
}

// UnmarshalText accepts canonical names in any case as well as the legacy
// form element ids.
func (f *CanonicalField) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if legacy, ok := legacyFieldNames[s]; ok {
		s = string(legacy)
	}
	*f = CanonicalField(s)
	return nil
}

// CanonicalFields lists every canonical field in form order.
var CanonicalFields = []CanonicalField{FieldDate, FieldPayee, FieldPurpose, FieldExpense, FieldIncome}

// ColumnMapping maps canonical fields to source header names.
type ColumnMapping map[CanonicalField]string

// Column returns the mapped header for f, or "" when f is unmapped.
func (m ColumnMapping) Column(f CanonicalField) string {
	return strings.TrimSpace(m[f])
}

// SignedColumn reports whether expense and income share one source column.
func (m ColumnMapping) SignedColumn() bool {
	exp, inc := m.Column(FieldExpense), m.Column(FieldIncome)
	return exp != "" && strings.EqualFold(exp, inc)
}

// Row is one parsed data line keyed by the header row. Lookups ignore case
// and surrounding whitespace.
type Row struct {
	Headers []string
	Cells   []string
}

// Get returns the cell under header name. ok is false when the header does
// not exist or the line was too short to have that cell.
func (r Row) Get(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for i, h := range r.Headers {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			if i >= len(r.Cells) {
				return "", false
			}
			return r.Cells[i], true
		}
	}
	return "", false
}

// Value returns the cell under name or "" when missing.
func (r Row) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Map returns the row as a header -> cell map.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.Headers))
	for i, h := range r.Headers {
		if i < len(r.Cells) {
			m[h] = r.Cells[i]
		}
	}
	return m
}
