// Package extractor reads bank export files into header-keyed rows. It
// guesses the text encoding, skips preamble lines above the real header and
// picks the delimiter.
package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// FallbackCharset is used whenever detection is not confident.
const FallbackCharset = "windows-1252"

const (
	// layoutScanLines is how many non-blank lines are inspected for the
	// header row.
	layoutScanLines = 20
	minConfidence   = 40
)

// Charsets we trust the statistical detector for. Anything else it reports
// for a German export is almost always a misfire on short input.
var trustedCharsets = map[string]bool{
	"utf-8":        true,
	"utf-16le":     true,
	"utf-16be":     true,
	"iso-8859-1":   true,
	"iso-8859-2":   true,
	"iso-8859-9":   true,
	"iso-8859-15":  true,
	"windows-1250": true,
	"windows-1252": true,
	"windows-1254": true,
}

// Format describes how to read a file.
type Format struct {
	Source    string // "csv" or "xlsx"
	Charset   string
	Delimiter rune
	HeaderRow int // lines skipped before the header
}

// DetectFormat determines charset, delimiter and header row of a delimited
// text export. It never fails; without any delimiter the whole line is one
// column.
func DetectFormat(data []byte) Format {
	charset := DetectCharset(data)
	delim, header := detectLayout(Decode(data, charset))
	return Format{
		Source:    "csv",
		Charset:   charset,
		Delimiter: delim,
		HeaderRow: header,
	}
}

// DetectCharset guesses the encoding of data. Byte order marks and valid
// UTF-8 win; otherwise the statistical detector is consulted.
func DetectCharset(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return "UTF-8"
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return "UTF-16LE"
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return "UTF-16BE"
	case utf8.Valid(data):
		return "UTF-8"
	}

	res, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || res == nil {
		return FallbackCharset
	}
	return resolveCharset(res.Charset, res.Confidence)
}

func resolveCharset(name string, confidence int) string {
	if confidence < minConfidence || !trustedCharsets[strings.ToLower(name)] {
		return FallbackCharset
	}
	if _, err := htmlindex.Get(name); err != nil {
		return FallbackCharset
	}
	return name
}

// Decode converts data from charset to a UTF-8 string, dropping a leading
// BOM. Unknown charsets and decode errors fall back to windows-1252.
func Decode(data []byte, charset string) string {
	var enc encoding.Encoding = charmap.Windows1252
	if e, err := htmlindex.Get(charset); err == nil {
		enc = e
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		out, _ = charmap.Windows1252.NewDecoder().Bytes(data)
	}
	return strings.TrimPrefix(string(out), "\ufeff")
}

// detectLayout returns the delimiter and the index of the header line: the
// first line among the first non-blank lines with the most ';' or ','.
// Ties between the two favour ';'.
func detectLayout(text string) (rune, int) {
	best, bestLine := 0, 0
	delim := ','

	scanned := 0
	for i, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		scanned++
		if scanned > layoutScanLines {
			break
		}

		semi := strings.Count(line, ";")
		comma := strings.Count(line, ",")
		count, d := comma, ','
		if semi >= comma {
			count, d = semi, ';'
		}
		if count > best {
			best, bestLine, delim = count, i, d
		}
	}

	if best == 0 {
		return ',', 0
	}
	return delim, bestLine
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
