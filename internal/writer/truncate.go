package writer

import "strings"

// Truncate shortens s to at most max characters, keeping whole
// space-separated words where possible. When not even the first word fits
// the string is cut hard at max.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	var b strings.Builder
	n := 0
	for _, word := range strings.Split(s, " ") {
		wl := len([]rune(word))
		sep := 0
		if n > 0 {
			sep = 1
		}
		if n+sep+wl > max {
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
		n += sep + wl
	}

	if n == 0 {
		return string(runes[:max])
	}
	return b.String()
}
