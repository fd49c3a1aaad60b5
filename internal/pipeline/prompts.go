package pipeline

import (
	"fmt"
	"strings"

	"github.com/ozonereg/declpipe/internal/catalog"
	"github.com/ozonereg/declpipe/internal/doctype"
)

// systemInstruction is the fixed contract for the structuring session.
const systemInstruction = `You are a data extraction engine for Vietnamese regulatory declarations on ozone-depleting substances.

Rules, all mandatory:
- Respond with valid JSON only. No Markdown fences, no commentary.
- Preserve Vietnamese diacritics exactly as written.
- Preserve numeric values at their printed precision. Never round.
- A row that is only a section heading has "is_title": true and no quantity fields.
- Do not invent rows. Do not drop rows that look like duplicates but differ in any column.
- Empty or placeholder rows (all cells blank or dashes) are omitted entirely.`

// classifierPrompt asks the multimodal model to map pages to categories.
func classifierPrompt(dt doctype.DocType) string {
	var sb strings.Builder
	sb.WriteString("Classify every page of the attached scanned document into the categories below. ")
	sb.WriteString("A page may belong to more than one category. ")
	sb.WriteString("Include a table category only when it contains concrete quantitative data, not just headers or empty structure. ")
	sb.WriteString("Always include \"metadata\" when organizational information is present.\n\nCategories:\n")

	for _, c := range doctype.Categories(dt) {
		fmt.Fprintf(&sb, "- %s: %s\n", c.Name, c.Description)
	}

	sb.WriteString("\nAnswer with strict JSON of the form {\"category_name\": [page_number, ...]} using 1-based page numbers. ")
	sb.WriteString("Omit categories with no pages.")
	return sb.String()
}

// ocrInstruction returns the parsing instruction for one category family.
func ocrInstruction(family doctype.Family) string {
	switch family {
	case doctype.FamilyMetadata:
		return "This document section contains organization details of a Vietnamese regulatory declaration: " +
			"name, tax code, address, contact person and declared indicators. " +
			"Transcribe all labeled fields and checkbox states faithfully, keeping Vietnamese diacritics."
	case doctype.FamilySubstance:
		return "This document section contains tables of controlled substances with names, HS codes, " +
			"quantities and units. Reproduce every table as HTML, keeping row order, merged cells " +
			"and numeric values exactly as printed. Tables may continue across pages."
	case doctype.FamilyEquipment:
		return "This document section contains tables of equipment and products containing controlled " +
			"substances. Reproduce every table as HTML with equipment type, substance, counts and " +
			"capacity columns exactly as printed."
	case doctype.FamilyCollection:
		return "This document section contains tables of collected, recycled or reclaimed substances. " +
			"Reproduce every table as HTML, keeping source, substance and processed quantity columns " +
			"exactly as printed."
	default:
		return "Transcribe this document section faithfully, reproducing any tables as HTML."
	}
}

// referenceContext is the first turn of the structuring session: the
// substance catalog and geography lists the model should resolve
// against. Sent once so later batch turns stay short.
func referenceContext(cat *catalog.Catalog) string {
	var sb strings.Builder
	sb.WriteString("Reference data for this session.\n\nControlled substances (code | name | HS code):\n")
	for _, s := range cat.Substances {
		fmt.Fprintf(&sb, "%s | %s | %s\n", s.Code, s.Name, s.HSCode)
	}

	sb.WriteString("\nCountries (code | name):\n")
	for _, c := range cat.Countries {
		fmt.Fprintf(&sb, "%s | %s\n", c.Code, c.Name)
	}

	sb.WriteString("\nProvinces:\n")
	for _, p := range cat.Provinces {
		fmt.Fprintf(&sb, "%s\n", p.Name)
	}

	sb.WriteString("\nActivity fields (code | meaning):\n")
	for _, a := range doctype.ActivityFields() {
		fmt.Fprintf(&sb, "%s | %s\n", a.Code, a.Name)
	}

	sb.WriteString("\nWhen a document mentions a substance, country or province, prefer the reference spelling. Report the organization's declared field of activity using the activity codes above. Reply with {\"ack\": true}.")
	return sb.String()
}

// batchPrompt builds the structuring prompt for one page batch of one
// category.
func batchPrompt(cat doctype.Category, batchNum, batchTotal int, markdown string) string {
	var sb strings.Builder

	if cat.Name == doctype.MetadataCategory {
		sb.WriteString("Extract the organization metadata from the OCR text below as a single JSON object. ")
		sb.WriteString("Include organization_name, tax_code, address, contact fields and the declaration year. ")
		sb.WriteString("Use the table rows you extracted earlier in this conversation to fill any summary indicators the form asks for.\n")
	} else {
		fmt.Fprintf(&sb, "Extract all rows of category %q from the OCR text below as a JSON array of row objects. ", cat.Name)
		sb.WriteString(cat.Description)
		sb.WriteString("\nMark section heading rows with \"is_title\": true. ")
	}

	if batchTotal > 1 {
		fmt.Fprintf(&sb, "This is batch %d of %d for this category. ", batchNum, batchTotal)
		if cat.Name != doctype.MetadataCategory {
			sb.WriteString("Continue any row numbering from the previous batch; do not restart or repeat rows already extracted. ")
		}
	}

	sb.WriteString("\n\nOCR text:\n")
	sb.WriteString(markdown)
	return sb.String()
}
