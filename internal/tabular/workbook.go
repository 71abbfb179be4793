package tabular

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParseWorkbook reads the first sheet of an XLSX workbook. Header and row
// rules match Parse; the delimiter is reported as 0 and the encoding as UTF-8.
func ParseWorkbook(r io.Reader, opts Options) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeaders
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read rows: %w", ErrBadWorkbook, err)
	}

	records := make([][]string, 0, len(raw))
	for _, row := range raw {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
		}
		if isEmptyRow(cells) {
			continue
		}
		records = append(records, cells)
	}
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	t, err := buildTable(records, opts.NoHeaders)
	if err != nil {
		return nil, err
	}
	t.Encoding = EncodingUTF8
	return t, nil
}
