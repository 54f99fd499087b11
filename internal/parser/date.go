package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// dateLayout is a Go layout tried in order. shortYear layouts are moved to
// 2000-2099.
type dateLayout struct {
	layout    string
	shortYear bool
}

var dateLayouts = []dateLayout{
	{"02.01.2006", false},
	{"2.1.2006", false},
	{"02.01.06", true},
	{"2.1.06", true},
	{"2006-01-02", false},
	{"2006.01.02", false},
}

// "1. Januar 2026", "15 Mrz 26"
var longDatePattern = regexp.MustCompile(`(\d{1,2})\.?\s+([a-zA-ZäöüÄÖÜß]+)\s+(\d{2,4})`)

var germanMonths = map[string]time.Month{
	"januar":    time.January,
	"jan":       time.January,
	"jänner":    time.January,
	"februar":   time.February,
	"feb":       time.February,
	"märz":      time.March,
	"maerz":     time.March,
	"marz":      time.March,
	"mrz":       time.March,
	"mär":       time.March,
	"april":     time.April,
	"apr":       time.April,
	"mai":       time.May,
	"juni":      time.June,
	"jun":       time.June,
	"juli":      time.July,
	"jul":       time.July,
	"august":    time.August,
	"aug":       time.August,
	"september": time.September,
	"sep":       time.September,
	"sept":      time.September,
	"oktober":   time.October,
	"okt":       time.October,
	"november":  time.November,
	"nov":       time.November,
	"dezember":  time.December,
	"dez":       time.December,
}

// ParseDate parses the date formats found in German bank exports. ok is
// false when nothing matches or the date does not exist (e.g. 31.02.).
func ParseDate(s string) (civil.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, false
	}

	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		d := civil.DateOf(t)
		if dl.shortYear && d.Year < 2000 {
			d.Year += 100
		}
		if d.IsValid() {
			return d, true
		}
	}

	return parseLongDate(s)
}

func parseLongDate(s string) (civil.Date, bool) {
	m := longDatePattern.FindStringSubmatch(s)
	if m == nil {
		return civil.Date{}, false
	}
	month, ok := germanMonths[strings.ToLower(m[2])]
	if !ok {
		return civil.Date{}, false
	}
	day, err := strconv.Atoi(m[1])
	if err != nil {
		return civil.Date{}, false
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return civil.Date{}, false
	}
	if year < 100 {
		year += 2000
	}
	d := civil.Date{Year: year, Month: month, Day: day}
	if !d.IsValid() {
		return civil.Date{}, false
	}
	return d, true
}

// FormatDate renders d as dd.MM.yyyy.
func FormatDate(d civil.Date) string {
	return d.In(time.UTC).Format("02.01.2006")
}

// FormatDateTime renders d as dd.MM.yyyy 00:00:00, the form's date field
// format.
func FormatDateTime(d civil.Date) string {
	return FormatDate(d) + " 00:00:00"
}
