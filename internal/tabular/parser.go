package tabular

import (
	"bytes"
	"fmt"
	"strings"
)

// Parse decodes data and splits it into headers and rows.
func Parse(data []byte, opts Options) (*Table, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	text, enc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = DetectDelimiter(text)
	}

	t, err := buildTable(tokenize(text, delim), opts.NoHeaders)
	if err != nil {
		return nil, err
	}
	t.Delimiter = delim
	t.Encoding = enc
	return t, nil
}

// Preview parses data in full and keeps only the first maxRows rows.
// RowCount still reports the total number of data rows.
func Preview(data []byte, maxRows int, opts Options) (*Table, error) {
	t, err := Parse(data, opts)
	if err != nil {
		return nil, err
	}
	return truncate(t, maxRows), nil
}

func truncate(t *Table, maxRows int) *Table {
	if maxRows < 0 {
		maxRows = 0
	}
	if len(t.Rows) <= maxRows {
		return t
	}
	out := *t
	out.Rows = t.Rows[:maxRows]
	return &out
}

// DetectDelimiter counts each candidate delimiter in the first line, outside
// quoted regions, and returns the most frequent one. Ties go to the earlier
// candidate (comma, semicolon, tab, pipe); no hits means comma.
func DetectDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, c := range line {
		if c == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, d := range candidateDelimiters {
			if c == d {
				counts[d]++
			}
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// tokenize splits text into rows of trimmed fields.
//
// A quote toggles quoted state, except that "" inside quotes is a literal
// quote. The delimiter and newline only separate outside quotes. Carriage
// returns are ignored. Blank lines and rows of empty cells are dropped.
func tokenize(text string, delim rune) [][]string {
	var (
		rows     [][]string
		row      []string
		field    strings.Builder
		inQuotes bool
	)

	runes := []rune(text)
	endRow := func() {
		row = append(row, strings.TrimSpace(field.String()))
		field.Reset()
		if !isEmptyRow(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				field.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == '\r':
			// assumed to precede \n
		case c == delim && !inQuotes:
			row = append(row, strings.TrimSpace(field.String()))
			field.Reset()
		case c == '\n' && !inQuotes:
			if field.Len() == 0 && len(row) == 0 {
				continue
			}
			endRow()
		default:
			field.WriteRune(c)
		}
	}

	if field.Len() > 0 || len(row) > 0 {
		endRow()
	}
	return rows
}

// buildTable extracts headers and enforces len(row) <= ColumnCount.
func buildTable(records [][]string, noHeaders bool) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrNoHeaders
	}

	var headers []string
	var data [][]string
	if noHeaders {
		headers = SyntheticHeaders(len(records[0]))
		data = records
	} else {
		headers = make([]string, len(records[0]))
		for i, h := range records[0] {
			headers[i] = strings.TrimSpace(h)
		}
		data = records[1:]
	}

	if len(headers) == 0 {
		return nil, ErrNoHeaders
	}

	cols := len(headers)
	rows := make([][]string, 0, len(data))
	for _, r := range data {
		if len(r) > cols {
			r = r[:cols]
		}
		if isEmptyRow(r) {
			continue
		}
		rows = append(rows, r)
	}

	return &Table{
		Headers:     headers,
		Rows:        rows,
		RowCount:    len(rows),
		ColumnCount: cols,
	}, nil
}

// SyntheticHeaders returns "Column A" .. "Column Z", "Column AA", ...
func SyntheticHeaders(n int) []string {
	headers := make([]string, n)
	for i := range headers {
		headers[i] = fmt.Sprintf("Column %s", ColumnLetters(i))
	}
	return headers
}

// ColumnLetters converts a zero-based index to spreadsheet letters (0 -> A, 26 -> AA).
func ColumnLetters(i int) string {
	var b []byte
	for i >= 0 {
		b = append([]byte{byte('A' + i%26)}, b...)
		i = i/26 - 1
	}
	return string(b)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
