package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/insightdelivered/betreuung-xml/internal/models"
)

var (
	ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9A-Z]{13,32}$`)
	datePattern = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)
)

// validate is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for reserved tag names.
	_ = v.RegisterValidation("ibanshape", func(fl validator.FieldLevel) bool {
		return IsValidIBAN(fl.Field().String())
	})
	_ = v.RegisterValidation("dedate", func(fl validator.FieldLevel) bool {
		return IsValidDate(fl.Field().String())
	})
	return v
}

// IsValidIBAN checks the structural shape of an IBAN after removing
// whitespace and upper-casing. The mod-97 checksum is not verified.
func IsValidIBAN(iban string) bool {
	clean := strings.ToUpper(strings.Join(strings.Fields(iban), ""))
	return ibanPattern.MatchString(clean)
}

// IsValidDate checks for dd.MM.yyyy with a month of 1-12 and a day of 1-31.
func IsValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	day, _ := strconv.Atoi(s[0:2])
	month, _ := strconv.Atoi(s[3:5])
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// FieldError names one field that failed a check.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Errors lists every failed field of a record.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Rule)
	}
	return "invalid record: " + strings.Join(parts, "; ")
}

// Guardian validates a guardian and all of its accounts.
func Guardian(g models.Guardian) error { return check(g) }

// Account validates a single bank account.
func Account(a models.Account) error { return check(a) }

// Rule validates a replacement rule.
func Rule(r models.Rule) error { return check(r) }

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fieldPath(fe.Namespace()), Rule: fe.Tag()})
	}
	return out
}

// fieldPath drops the leading struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
