// Package doctype defines the two registration form variants and the
// semantic categories their pages are classified into.
package doctype

import "fmt"

// DocType selects one of the two form schemas.
type DocType string

const (
	// Form01 is the registration form for users of controlled substances.
	Form01 DocType = "form01"
	// Form02 is the annual report form for producers and collectors.
	Form02 DocType = "form02"
)

// Family groups categories that share an OCR instruction style.
type Family string

const (
	FamilyMetadata   Family = "metadata"
	FamilySubstance  Family = "substance_table"
	FamilyEquipment  Family = "equipment_table"
	FamilyCollection Family = "collection_table"
)

// MetadataCategory is present in every document type and is always
// structured last so the model can use table context.
const MetadataCategory = "metadata"

// Category describes one semantic partition of a document's pages.
type Category struct {
	Name        string
	Family      Family
	Description string // natural-language hint passed to the classifier
	TableFlag   string // metadata field recomputed from this category's rows
}

// ActivityField is one entry of the declared-activity taxonomy. The
// metadata section of both forms reports the organization's field of
// activity against this list.
type ActivityField struct {
	Code string
	Name string
}

var activityFields = []ActivityField{
	{Code: "production", Name: "Production of controlled substances"},
	{Code: "import", Name: "Import of controlled substances"},
	{Code: "export", Name: "Export of controlled substances"},
	{Code: "equipment_ownership", Name: "Ownership and use of equipment or products containing controlled substances"},
	{Code: "maintenance", Name: "Maintenance and servicing of equipment containing controlled substances"},
	{Code: "collection_recycling", Name: "Collection, recycling, reclamation or destruction of controlled substances"},
}

// ActivityFields returns the declared-activity taxonomy, shared by both
// form variants. The slice is shared; callers must not mutate it.
func ActivityFields() []ActivityField {
	return activityFields
}

// Parse validates a raw document-type string.
func Parse(s string) (DocType, error) {
	switch DocType(s) {
	case Form01, Form02:
		return DocType(s), nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

var form01Categories = []Category{
	{
		Name:        MetadataCategory,
		Family:      FamilyMetadata,
		Description: "Organization information: name, tax code, address, contact person, registration year and declared table indicators.",
	},
	{
		Name:        "substance_usage",
		Family:      FamilySubstance,
		Description: "Table 1.1: controlled substances used in production, with substance name, HS code, quantity and purpose.",
		TableFlag:   "has_table_1_1",
	},
	{
		Name:        "substance_import",
		Family:      FamilySubstance,
		Description: "Table 1.2: imported controlled substances, with substance name, HS code, exporting country and quantity.",
		TableFlag:   "has_table_1_2",
	},
	{
		Name:        "substance_export",
		Family:      FamilySubstance,
		Description: "Table 1.3: exported controlled substances, with substance name, HS code, importing country and quantity.",
		TableFlag:   "has_table_1_3",
	},
	{
		Name:        "equipment_ownership",
		Family:      FamilyEquipment,
		Description: "Table 1.4: equipment and products containing controlled substances, with equipment type, substance and count.",
		TableFlag:   "has_table_1_4",
	},
}

var form02Categories = []Category{
	{
		Name:        MetadataCategory,
		Family:      FamilyMetadata,
		Description: "Organization information: name, tax code, address, contact person, reporting year and declared table indicators.",
	},
	{
		Name:        "substance_production",
		Family:      FamilySubstance,
		Description: "Table 2.1: controlled substances produced, with substance name, HS code and produced quantity.",
		TableFlag:   "has_table_2_1",
	},
	{
		Name:        "substance_collection",
		Family:      FamilyCollection,
		Description: "Table 2.2: collected, recycled or reclaimed substances, with substance name, source and processed quantity.",
		TableFlag:   "has_table_2_2",
	},
	{
		Name:        "equipment_maintenance",
		Family:      FamilyEquipment,
		Description: "Table 2.3: equipment maintenance and servicing activity involving controlled substances.",
		TableFlag:   "has_table_2_3",
	},
	{
		Name:        "quota_usage",
		Family:      FamilySubstance,
		Description: "Table 2.4: allocated quota usage per substance for the reporting year.",
		TableFlag:   "has_table_2_4",
	},
}

// Categories returns the category manifest for a document type, metadata
// first. The slice is shared; callers must not mutate it.
func Categories(dt DocType) []Category {
	switch dt {
	case Form02:
		return form02Categories
	default:
		return form01Categories
	}
}

// Lookup returns the category manifest entry by name.
func Lookup(dt DocType, name string) (Category, bool) {
	for _, c := range Categories(dt) {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// TableCategories returns every non-metadata category for a document type.
func TableCategories(dt DocType) []Category {
	all := Categories(dt)
	out := make([]Category, 0, len(all)-1)
	for _, c := range all {
		if c.Name != MetadataCategory {
			out = append(out, c)
		}
	}
	return out
}
