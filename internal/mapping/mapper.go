package mapping

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrColumnOutOfRange = errors.New("column index out of range")
	ErrUnknownField     = errors.New("unknown field")
)

// ColumnMapping assigns one input column to at most one field.
// Confidence is 1.0 for exact or manual matches and 0 when unmapped.
type ColumnMapping struct {
	Index      int     `json:"index"`
	Header     string  `json:"header"`
	Field      Field   `json:"field"`
	Confidence float64 `json:"confidence"`
}

// Mapped reports whether the column has a field.
func (m ColumnMapping) Mapped() bool {
	return m.Field != FieldNone
}

// MappingResult is the full mapping for a table plus data derived from it.
// Treat it as a value; use UpdateMapping to get an edited copy.
type MappingResult struct {
	Mappings        []ColumnMapping `json:"mappings"`
	UnmappedColumns []int           `json:"unmappedColumns"`
	MissingRequired []Field         `json:"missingRequired"`
	Warnings        []string        `json:"warnings"`
}

// IsValid reports whether every required field is mapped.
func (r MappingResult) IsValid() bool {
	return len(r.MissingRequired) == 0
}

// ColumnFor returns the column index holding f, or -1.
func (r MappingResult) ColumnFor(f Field) int {
	for _, m := range r.Mappings {
		if f != FieldNone && m.Field == f {
			return m.Index
		}
	}
	return -1
}

// Assigned returns field -> column index for every mapped column.
func (r MappingResult) Assigned() map[Field]int {
	out := make(map[Field]int, len(r.Mappings))
	for _, m := range r.Mappings {
		if m.Mapped() {
			out[m.Field] = m.Index
		}
	}
	return out
}

// AnalyzeHeaders maps headers to fields in one greedy left-to-right pass.
// Each header takes its highest-scoring unclaimed field above
// AcceptThreshold; ties go to the field earlier in the catalogue. Claimed
// fields are not reconsidered for later columns.
func AnalyzeHeaders(headers []string) MappingResult {
	claimed := make(map[Field]bool, len(catalogue))
	mappings := make([]ColumnMapping, len(headers))

	for i, h := range headers {
		mappings[i] = ColumnMapping{Index: i, Header: h}
		norm := Normalize(h)
		if norm == "" {
			continue
		}

		bestField, bestScore := FieldNone, AcceptThreshold
		for _, info := range catalogue {
			if claimed[info.Field] {
				continue
			}
			if s := scoreNormalized(norm, info.Field); s > bestScore {
				bestField, bestScore = info.Field, s
			}
		}

		if bestField != FieldNone {
			claimed[bestField] = true
			mappings[i].Field = bestField
			mappings[i].Confidence = bestScore
		}
	}

	return derive(mappings)
}

// UpdateMapping returns a copy of result with column assigned to field.
// FieldNone clears the column. A field already held by another column is
// cleared from that column first. result is never modified.
func UpdateMapping(result MappingResult, column int, field Field) (MappingResult, error) {
	if column < 0 || column >= len(result.Mappings) {
		return result, fmt.Errorf("%w: %d", ErrColumnOutOfRange, column)
	}
	if field != FieldNone && !field.Valid() {
		return result, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	mappings := make([]ColumnMapping, len(result.Mappings))
	copy(mappings, result.Mappings)

	if field != FieldNone {
		for i := range mappings {
			if i != column && mappings[i].Field == field {
				mappings[i].Field = FieldNone
				mappings[i].Confidence = 0
			}
		}
	}

	mappings[column].Field = field
	if field == FieldNone {
		mappings[column].Confidence = 0
	} else {
		mappings[column].Confidence = 1.0
	}

	return derive(mappings), nil
}

// derive recomputes unmapped columns, missing required fields and warnings.
// Every path that produces a MappingResult goes through here.
func derive(mappings []ColumnMapping) MappingResult {
	result := MappingResult{
		Mappings:        mappings,
		UnmappedColumns: []int{},
		MissingRequired: []Field{},
		Warnings:        []string{},
	}

	assigned := make(map[Field]bool, len(mappings))
	var lowConfidence []string
	for _, m := range mappings {
		if !m.Mapped() {
			result.UnmappedColumns = append(result.UnmappedColumns, m.Index)
			continue
		}
		assigned[m.Field] = true
		if m.Confidence > 0 && m.Confidence < LowConfidence {
			lowConfidence = append(lowConfidence, m.Header)
		}
	}

	var missingLabels []string
	for _, info := range catalogue {
		if info.Required && !assigned[info.Field] {
			result.MissingRequired = append(result.MissingRequired, info.Field)
			missingLabels = append(missingLabels, info.Label)
		}
	}

	if len(missingLabels) > 0 {
		result.Warnings = append(result.Warnings,
			"Required fields not mapped: "+strings.Join(missingLabels, ", "))
	}
	if n := len(result.UnmappedColumns); n*2 > len(mappings) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("More than half of the columns are not mapped (%d of %d)", n, len(mappings)))
	}
	if len(lowConfidence) > 0 {
		result.Warnings = append(result.Warnings,
			"Low confidence mappings: "+strings.Join(lowConfidence, ", "))
	}

	return result
}
