package importer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteErrorReport(t *testing.T) {
	summary := ImportSummary{
		TotalRows:     5,
		ImportedCount: 3,
		SkippedCount:  2,
		ErrorCount:    2,
		Errors: []ImportError{
			{Row: 3, Field: "Name", Message: "Name is required"},
			{Row: 6, Field: "Purchase Price", Message: "Invalid price format: abc"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteErrorReport(&buf, summary))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{reportSheet}, f.GetSheetList())

	rows, err := f.GetRows(reportSheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 10)

	assert.Equal(t, []string{"Row", "Field", "Message"}, rows[0])
	assert.Equal(t, []string{"3", "Name", "Name is required"}, rows[1])
	assert.Equal(t, []string{"6", "Purchase Price", "Invalid price format: abc"}, rows[2])

	// Summary block starts two rows below the last error.
	assert.Equal(t, []string{"Import Summary"}, rows[5])
	assert.Equal(t, []string{"Total Rows:", "5"}, rows[6])
	assert.Equal(t, []string{"Imported Items:", "3"}, rows[7])
	assert.Equal(t, []string{"Skipped Rows:", "2"}, rows[8])
	assert.Equal(t, []string{"Errors:", "2"}, rows[9])
}

func TestWriteErrorReport_NoErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteErrorReport(&buf, ImportSummary{TotalRows: 1, ImportedCount: 1}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	cell, err := f.GetCellValue(reportSheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Import Summary", cell)
}
