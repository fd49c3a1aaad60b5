package pipeline

import (
	"github.com/ozonereg/declpipe/internal/doctype"
)

// Merge unions the structuring output into one record: metadata fields
// are hoisted to the top level, table categories stay keyed by name.
func Merge(data *StructuredData) map[string]any {
	merged := make(map[string]any)

	for k, v := range data.Metadata {
		merged[k] = v
	}
	for name, rows := range data.Tables {
		merged[name] = rows
	}
	return merged
}

// ValidateFlags recomputes the "has table X" indicator fields from the
// rows actually present, overriding whatever the model reported in the
// metadata pass. This is a deterministic correction and always runs.
func ValidateFlags(merged map[string]any, dt doctype.DocType) map[string]any {
	for _, cat := range doctype.TableCategories(dt) {
		if cat.TableFlag == "" {
			continue
		}
		merged[cat.TableFlag] = categoryHasData(merged, cat.Name)
	}
	return merged
}

// categoryHasData reports whether a category holds at least one non-title
// row.
func categoryHasData(merged map[string]any, category string) bool {
	rows := rowsOf(merged[category])
	for _, row := range rows {
		if !isTitleRow(row) {
			return true
		}
	}
	return false
}

// rowsOf coerces a merged-record value back into a row slice. Values
// round-tripped through JSON come back as []any.
func rowsOf(v any) []map[string]any {
	switch rows := v.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func isTitleRow(row map[string]any) bool {
	b, _ := row["is_title"].(bool)
	return b
}
