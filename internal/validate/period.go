// Package validate checks transactions against the reporting period and
// guardian records against the shape the report form accepts.
package validate

import (
	"fmt"
	"strings"

	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/parser"
)

const maxExamples = 3

// Result is the outcome of a period check. Offending is empty when the
// period bounds themselves could not be parsed.
type Result struct {
	Valid     bool                 `json:"valid"`
	Offending []models.Transaction `json:"offending,omitempty"`
	Message   string               `json:"message,omitempty"`
}

// Period reports every transaction dated before start or after end. Both
// bounds are inclusive and parsed with the tolerant date parser. A reversed
// period puts every transaction outside it.
func Period(txs []models.Transaction, start, end string) Result {
	from, ok1 := parser.ParseDate(start)
	to, ok2 := parser.ParseDate(end)
	if !ok1 || !ok2 {
		return Result{Message: "Ungültiges Datumsformat im Zeitraum (Erwartet: dd.MM.yyyy)."}
	}

	var offending []models.Transaction
	for _, tx := range txs {
		if tx.Date.Before(from) || tx.Date.After(to) {
			offending = append(offending, tx)
		}
	}
	if len(offending) == 0 {
		return Result{Valid: true}
	}

	examples := make([]string, 0, maxExamples)
	for _, tx := range offending {
		if len(examples) == maxExamples {
			break
		}
		examples = append(examples, parser.FormatDate(tx.Date))
	}

	return Result{
		Offending: offending,
		Message: fmt.Sprintf("Es gibt %d Buchungen außerhalb des Zeitraums (%s - %s).\nBsp: %s...",
			len(offending), strings.TrimSpace(start), strings.TrimSpace(end), strings.Join(examples, ", ")),
	}
}
