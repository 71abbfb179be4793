// Package tabular turns raw spreadsheet bytes into a rectangular grid of
// strings.
//
// Delimited text is decoded with automatic encoding detection (BOM, UTF-8,
// Windows-1252, ISO-8859-1) and split with automatic delimiter detection
// (comma, semicolon, tab, pipe). XLSX workbooks are read from their first
// sheet. Both paths produce the same immutable [Table].
package tabular

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput is returned when the input holds nothing but whitespace.
	ErrEmptyInput = errors.New("empty file")

	// ErrEncodingDetection is returned when no decoder produced text.
	// The ISO-8859-1 fallback maps every byte, so this is unreachable for
	// non-empty input.
	ErrEncodingDetection = errors.New("encoding error: unable to detect file encoding")

	// ErrNoHeaders is returned when the header row is empty.
	ErrNoHeaders = errors.New("no headers found in file")

	// ErrFileTooLarge is returned by ReadSource when the source exceeds its limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrBadWorkbook is returned when an .xlsx source is not a readable workbook.
	ErrBadWorkbook = errors.New("failed to open workbook")
)

// Encoding identifies the character encoding a file was decoded from.
type Encoding string

const (
	EncodingUTF8        Encoding = "utf-8"
	EncodingUTF16LE     Encoding = "utf-16le"
	EncodingUTF16BE     Encoding = "utf-16be"
	EncodingWindows1252 Encoding = "windows-1252"
	EncodingISO88591    Encoding = "iso-8859-1"
)

// Candidate delimiters in tie-break order.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// Options controls parsing. The zero value detects the delimiter and treats
// the first row as headers.
type Options struct {
	Delimiter rune // 0 = detect from the first line
	NoHeaders bool // generate "Column A", "Column B", ... instead
}

// Table is the immutable result of a parse.
type Table struct {
	Headers     []string
	Rows        [][]string
	Delimiter   rune
	Encoding    Encoding
	RowCount    int
	ColumnCount int
}

// Cell returns the trimmed cell at row/column, or "" when the row is short.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// ParseDelimiter accepts a delimiter character or its name ("comma",
// "semicolon", "tab", "pipe"). "" selects detection and returns 0.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", `\t`, "tab":
		return '\t', nil
	case "|", "pipe":
		return '|', nil
	default:
		return 0, fmt.Errorf("unsupported delimiter %q", s)
	}
}

// DelimiterName returns a human-readable delimiter label.
func DelimiterName(d rune) string {
	switch d {
	case ',':
		return "comma"
	case ';':
		return "semicolon"
	case '\t':
		return "tab"
	case '|':
		return "pipe"
	case 0:
		return "none"
	default:
		return string(d)
	}
}
