// Package mapping assigns spreadsheet columns to inventory item fields.
//
// Headers are scored against a fixed catalogue of target fields using exact,
// substring and edit-distance matching. Assignment is greedy and left to
// right; each field is held by at most one column. A [MappingResult] is a
// value: every edit returns a new one with its derived data recomputed.
package mapping

// Field identifies an item attribute a column can be mapped to.
// The zero value, FieldNone, means unmapped.
type Field string

const (
	FieldNone               Field = ""
	FieldName               Field = "name"
	FieldBrand              Field = "brand"
	FieldModelNumber        Field = "modelNumber"
	FieldSerialNumber       Field = "serialNumber"
	FieldPurchasePrice      Field = "purchasePrice"
	FieldPurchaseDate       Field = "purchaseDate"
	FieldWarrantyExpiration Field = "warrantyExpiration"
	FieldCondition          Field = "condition"
	FieldNotes              Field = "notes"
	FieldCategory           Field = "category"
	FieldRoom               Field = "room"
	FieldQuantity           Field = "quantity"
)

// FieldInfo is the static metadata for one catalogue entry.
type FieldInfo struct {
	Field      Field    `json:"field"`
	Label      string   `json:"label"`
	Required   bool     `json:"required"`
	Variations []string `json:"variations"`
}

// catalogue order is the stable iteration order used for tie-breaking.
var catalogue = []FieldInfo{
	{FieldName, "Name", true, []string{"name", "item name", "item", "title", "product name", "product", "item title"}},
	{FieldBrand, "Brand", false, []string{"brand", "manufacturer", "make", "maker", "brand name"}},
	{FieldModelNumber, "Model Number", false, []string{"model", "model number", "model no", "model #", "model num"}},
	{FieldSerialNumber, "Serial Number", false, []string{"serial", "serial number", "serial no", "serial #", "s/n"}},
	{FieldPurchasePrice, "Purchase Price", false, []string{"price", "purchase price", "cost", "amount", "value", "paid"}},
	{FieldPurchaseDate, "Purchase Date", false, []string{"purchase date", "date purchased", "bought", "date", "acquired", "purchased"}},
	{FieldWarrantyExpiration, "Warranty Expiration", false, []string{"warranty", "warranty expiration", "warranty expires", "warranty end", "warranty date"}},
	{FieldCondition, "Condition", false, []string{"condition", "state", "quality"}},
	{FieldNotes, "Notes", false, []string{"notes", "note", "comments", "comment", "description", "memo"}},
	{FieldCategory, "Category", false, []string{"category", "type", "group", "kind"}},
	{FieldRoom, "Room", false, []string{"room", "location", "place", "area"}},
	{FieldQuantity, "Quantity", false, []string{"quantity", "qty", "count"}},
}

var catalogueIndex = func() map[Field]int {
	m := make(map[Field]int, len(catalogue))
	for i, info := range catalogue {
		m[info.Field] = i
	}
	return m
}()

// Catalogue returns a copy of every field's metadata in catalogue order.
func Catalogue() []FieldInfo {
	out := make([]FieldInfo, len(catalogue))
	for i, info := range catalogue {
		info.Variations = append([]string(nil), info.Variations...)
		out[i] = info
	}
	return out
}

// Fields returns every field in catalogue order.
func Fields() []Field {
	out := make([]Field, len(catalogue))
	for i, info := range catalogue {
		out[i] = info.Field
	}
	return out
}

// Valid reports whether f is a catalogue field. FieldNone is not valid.
func (f Field) Valid() bool {
	_, ok := catalogueIndex[f]
	return ok
}

// Label returns the display label, or "" for FieldNone and unknown fields.
func (f Field) Label() string {
	if i, ok := catalogueIndex[f]; ok {
		return catalogue[i].Label
	}
	return ""
}

// Required reports whether every mapping must assign f.
func (f Field) Required() bool {
	if i, ok := catalogueIndex[f]; ok {
		return catalogue[i].Required
	}
	return false
}

func (f Field) variations() []string {
	if i, ok := catalogueIndex[f]; ok {
		return catalogue[i].Variations
	}
	return nil
}

// ParseField accepts a field id ("modelNumber") or display label
// ("Model Number"), case-insensitively. "" parses as FieldNone.
func ParseField(s string) (Field, bool) {
	if s == "" {
		return FieldNone, true
	}
	n := Normalize(s)
	for _, info := range catalogue {
		if Normalize(string(info.Field)) == n || Normalize(info.Label) == n {
			return info.Field, true
		}
	}
	return FieldNone, false
}
