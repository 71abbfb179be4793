package importer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

// headerOffset turns a zero-based data row index into a 1-based file line.
const headerOffset = 2

// Validate coerces every table row through result. Rows without a name are
// dropped with an error; unparseable prices and dates are reported and left
// unset while the row is kept. Condition and quantity fall back to good and 1
// without reporting anything.
//
// len(rows) + number of dropped rows == table.RowCount.
func Validate(table *tabular.Table, result mapping.MappingResult) ([]ValidatedRow, []ImportError) {
	cols := result.Assigned()
	rows := make([]ValidatedRow, 0, len(table.Rows))
	var errs []ImportError

	for i := range table.Rows {
		rowNum := i + headerOffset
		cell := func(f mapping.Field) string {
			col, ok := cols[f]
			if !ok {
				return ""
			}
			return table.Cell(i, col)
		}

		name := cell(mapping.FieldName)
		if name == "" {
			errs = append(errs, ImportError{
				Row:     rowNum,
				Field:   mapping.FieldName.Label(),
				Message: "Name is required",
			})
			continue
		}

		row := ValidatedRow{
			RowNumber:    rowNum,
			Name:         name,
			Brand:        cell(mapping.FieldBrand),
			ModelNumber:  cell(mapping.FieldModelNumber),
			SerialNumber: cell(mapping.FieldSerialNumber),
			Notes:        cell(mapping.FieldNotes),
			Category:     cell(mapping.FieldCategory),
			Room:         cell(mapping.FieldRoom),
			Condition:    mapping.NormalizeCondition(cell(mapping.FieldCondition)),
			Quantity:     1,
		}

		if raw := cell(mapping.FieldPurchasePrice); raw != "" {
			if d, ok := mapping.ParsePrice(raw); ok {
				row.PurchasePrice = decimal.NullDecimal{Decimal: d, Valid: true}
			} else {
				errs = append(errs, ImportError{
					Row:     rowNum,
					Field:   mapping.FieldPurchasePrice.Label(),
					Message: "Invalid price format: " + raw,
				})
			}
		}

		row.PurchaseDate = parseDateCell(cell(mapping.FieldPurchaseDate), rowNum, mapping.FieldPurchaseDate, &errs)
		row.WarrantyExpiration = parseDateCell(cell(mapping.FieldWarrantyExpiration), rowNum, mapping.FieldWarrantyExpiration, &errs)

		if n, ok := mapping.ParseQuantity(cell(mapping.FieldQuantity)); ok && n > 0 {
			row.Quantity = n
		}

		rows = append(rows, row)
	}

	return rows, errs
}

func parseDateCell(raw string, rowNum int, field mapping.Field, errs *[]ImportError) *time.Time {
	if raw == "" {
		return nil
	}
	t, ok := mapping.ParseDate(raw)
	if !ok {
		*errs = append(*errs, ImportError{
			Row:     rowNum,
			Field:   field.Label(),
			Message: "Invalid date format: " + raw,
		})
		return nil
	}
	return &t
}
