// Package rules rewrites transaction payee and purpose fields with ordered
// condition/action rules.
//
// Apply is a left fold: every applicable rule sees the transaction as the
// previous rule left it. Nothing is cached between calls, so concurrent runs
// for different guardians need no synchronisation.
package rules

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/insightdelivered/betreuung-xml/internal/logger"
	"github.com/insightdelivered/betreuung-xml/internal/models"
)

// matcher is a rule condition ready to run.
type matcher struct {
	cond models.Condition
	fold cases.Caser
	re   *regexp.Regexp
}

func newMatcher(c models.Condition) (*matcher, error) {
	m := &matcher{cond: c, fold: cases.Fold()}
	if c.Operator == models.Regex {
		re, err := regexp.Compile("(?i)" + c.Pattern)
		if err != nil {
			return nil, err
		}
		m.re = re
	}
	return m, nil
}

// match tests value. For regex conditions the groups are the whole match
// followed by each parenthesised group.
func (m *matcher) match(value string) ([]string, bool) {
	if m.re != nil {
		groups := m.re.FindStringSubmatch(value)
		return groups, groups != nil
	}

	v, p := m.fold.String(value), m.fold.String(m.cond.Pattern)
	switch m.cond.Operator {
	case models.StartsWith:
		return nil, strings.HasPrefix(v, p)
	case models.Contains:
		return nil, strings.Contains(v, p)
	case models.Equals:
		return nil, v == p
	}
	return nil, false
}

// Match reports whether value satisfies c and returns the regex groups. An
// invalid pattern is returned as an error.
func Match(value string, c models.Condition) ([]string, bool, error) {
	m, err := newMatcher(c)
	if err != nil {
		return nil, false, err
	}
	groups, ok := m.match(value)
	return groups, ok, nil
}

// Project returns the string form of field used for matching. Amounts use
// two decimals; Apply also tries the one-decimal form of older rule files.
// Amount fields are empty unless the transaction has the matching type.
func Project(tx models.Transaction, field models.CanonicalField) string {
	switch field {
	case models.FieldDate:
		return tx.Date.String()
	case models.FieldPayee:
		return tx.Payee
	case models.FieldPurpose:
		return tx.Purpose
	case models.FieldExpense:
		if tx.Type == models.Expense {
			return tx.Amount.StringFixed(2)
		}
	case models.FieldIncome:
		if tx.Type == models.Income {
			return tx.Amount.StringFixed(2)
		}
	}
	return ""
}

// legacyProjection is the amount text older rule files were written
// against: the shortest decimal with at least one fractional digit
// ("100.0", "850.5"). Empty for non-amount fields.
func legacyProjection(tx models.Transaction, field models.CanonicalField) string {
	if Project(tx, field) == "" || (field != models.FieldExpense && field != models.FieldIncome) {
		return ""
	}
	s := tx.Amount.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Expand fills a template with guardian placeholders and then with regex
// group references. Groups are replaced from the highest index down so $1
// never eats the prefix of $10.
func Expand(template string, g models.Guardian, groups []string) string {
	out := strings.NewReplacer(
		"{nachname}", g.LastName,
		"{vorname}", g.FirstName,
		"{aktenzeichen}", g.CaseNumber,
		"{wohnort}", g.City,
		"{kuerzel}", g.Initials,
	).Replace(template)

	for i := len(groups) - 1; i >= 0; i-- {
		out = strings.ReplaceAll(out, "$"+strconv.Itoa(i), groups[i])
	}
	return out
}

type compiled struct {
	rule    models.Rule
	matcher *matcher
}

// Apply runs the active rules that are in scope for activeMappingID over
// every transaction, in rule order. The input slice is not modified. Rules
// with an invalid regex are logged once and never match.
func Apply(ctx context.Context, txs []models.Transaction, rules []models.Rule, g models.Guardian, activeMappingID string) []models.Transaction {
	log := logger.FromContext(ctx)

	var applicable []compiled
	for _, r := range rules {
		if !r.Active || !r.Scope.Allows(activeMappingID) {
			continue
		}
		m, err := newMatcher(r.Condition)
		if err != nil {
			log.Error().Err(err).Str("rule", r.Name).Str("pattern", r.Condition.Pattern).Msg("invalid rule pattern, rule skipped")
			continue
		}
		applicable = append(applicable, compiled{rule: r, matcher: m})
	}

	out := make([]models.Transaction, len(txs))
	rewrites := 0
	for i, tx := range txs {
		for _, c := range applicable {
			field := c.rule.Condition.Field
			groups, ok := c.matcher.match(Project(tx, field))
			if !ok {
				if legacy := legacyProjection(tx, field); legacy != "" && legacy != Project(tx, field) {
					groups, ok = c.matcher.match(legacy)
				}
			}
			if !ok {
				continue
			}
			next := rewrite(tx, c.rule.Action, g, groups)
			if next != tx {
				rewrites++
			}
			tx = next
		}
		out[i] = tx
	}

	log.Debug().Int("rules", len(applicable)).Int("rewrites", rewrites).Str("mapping", activeMappingID).Msg("rules applied")
	return out
}

func rewrite(tx models.Transaction, a models.Action, g models.Guardian, groups []string) models.Transaction {
	switch a.Target {
	case models.FieldPayee:
		return tx.WithPayee(Expand(a.Template, g, groups))
	case models.FieldPurpose:
		return tx.WithPurpose(Expand(a.Template, g, groups))
	}
	return tx
}
