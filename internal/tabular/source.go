package tabular

// source.go reads upload sources into memory with a hard size cap.
//
// Encoding detection needs the whole file (a Windows-1252 byte can appear on
// the last line), so sources are buffered rather than streamed. The counting
// reader keeps the cap honest for readers that do not report a size, such as
// multipart parts and stdin.

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// CountingReader wraps an io.Reader and tracks bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.BytesRead * 100 / r.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// ReadSource reads r to the end. A limit <= 0 disables the cap; otherwise
// reading more than limit bytes fails with ErrFileTooLarge.
func ReadSource(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	// Read one byte past the limit to tell "exactly limit" from "more".
	cr := NewCountingReader(io.LimitReader(r, limit+1), limit)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(cr); err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if cr.BytesRead > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, limit)
	}
	return buf.Bytes(), nil
}

// Format distinguishes delimited text from XLSX workbooks.
type Format int

const (
	FormatText Format = iota
	FormatWorkbook
)

func (f Format) String() string {
	if f == FormatWorkbook {
		return "xlsx"
	}
	return "text"
}

// FormatForName picks a format from the file extension. Unknown extensions
// are treated as delimited text.
func FormatForName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatWorkbook
	default:
		return FormatText
	}
}

// ParseSource dispatches to Parse or ParseWorkbook based on the file name.
func ParseSource(name string, data []byte, opts Options) (*Table, error) {
	if FormatForName(name) == FormatWorkbook {
		return ParseWorkbook(bytes.NewReader(data), opts)
	}
	return Parse(data, opts)
}
