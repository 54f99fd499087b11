package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// 1.234.567,89 | 1234,5 | 12
	germanAmountPattern = regexp.MustCompile(`^-?(\d{1,3}(\.\d{3})+|\d*)(,\d+)?$`)
	// 1,234,567.89 | 1234.5 | 12
	usAmountPattern = regexp.MustCompile(`^-?(\d{1,3}(,\d{3})+|\d*)(\.\d+)?$`)
	// integer cents: 534 | -1200 | +99
	centsPattern = regexp.MustCompile(`^[+-]?\d+$`)
)

// ParseAmount converts a locale-ambiguous amount like "1.234,56 €",
// "-25,99" or "1,234.56" to a decimal. German grouping is tried first, so
// "1.234" is 1234. Unparseable input yields zero.
func ParseAmount(s string) decimal.Decimal {
	clean := cleanAmount(s)
	if !strings.ContainsAny(clean, "0123456789") {
		return decimal.Zero
	}

	if germanAmountPattern.MatchString(clean) {
		normalized := strings.ReplaceAll(clean, ".", "")
		normalized = strings.Replace(normalized, ",", ".", 1)
		if d, err := decimal.NewFromString(normalized); err == nil {
			return d
		}
	}

	if usAmountPattern.MatchString(clean) {
		if d, err := decimal.NewFromString(strings.ReplaceAll(clean, ",", "")); err == nil {
			return d
		}
	}

	return decimal.Zero
}

// ParseCents parses an amount column encoded in integer cents, e.g. "534"
// becomes 5.34.
func ParseCents(s string) decimal.Decimal {
	return ParseAmount(s).Shift(-2)
}

// DetectCents reports whether a sample of raw amount cells looks like an
// integer-cents column: every non-blank value is a (signed) digit string
// without any separator. Blank-only samples are not cents.
func DetectCents(samples []string) bool {
	seen := false
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !centsPattern.MatchString(s) {
			return false
		}
		seen = true
	}
	return seen
}

// cleanAmount keeps digits, ',' and '.', plus a minus sign when it comes
// before the first digit. Currency symbols, spaces and trailing markers are
// dropped.
func cleanAmount(s string) string {
	var b strings.Builder
	negative := false
	digitSeen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digitSeen = true
			b.WriteRune(r)
		case r == ',' || r == '.':
			b.WriteRune(r)
		case r == '-' && !digitSeen:
			negative = true
		}
	}
	if negative {
		return "-" + b.String()
	}
	return b.String()
}
