package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ozonereg/declpipe/internal/catalog"
	"github.com/ozonereg/declpipe/internal/doctype"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Substances: []catalog.Substance{
			{ID: "s1", Code: "HFC-134a", Name: "1,1,1,2-Tetrafluoroethane", HSCode: "29034500"},
			{ID: "s2", Code: "HCFC-22", Name: "Chlorodifluoromethane", HSCode: "29037100"},
		},
		Countries: []catalog.Country{
			{ID: "c1", Code: "VN", Name: "Việt Nam", NameEN: "Vietnam"},
			{ID: "c2", Code: "CN", Name: "Trung Quốc", NameEN: "China"},
		},
		Provinces: []catalog.Province{
			{ID: "p1", Code: "01", Name: "Hà Nội", CountryCode: "VN"},
		},
		Organizations: []catalog.Organization{
			{ID: "o1", TaxCode: "0101234567", Name: "Cong ty ACME"},
		},
	}
}

func TestPruneTitleRows(t *testing.T) {
	rows := []map[string]any{
		{"is_title": true, "substance_name": "X"},
		{"is_title": true, "substance_name": "Y"},
		{"substance_name": "HFC-134a", "quantity": "10"},
	}

	pruned := PruneTitleRows(rows)

	if len(pruned) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(pruned), pruned)
	}
	if pruned[0]["substance_name"] != "Y" {
		t.Errorf("title row with children must survive, got %+v", pruned[0])
	}
	if pruned[1]["substance_name"] != "HFC-134a" {
		t.Errorf("data row must survive, got %+v", pruned[1])
	}
}

func TestPruneTitleRowsTrailingTitle(t *testing.T) {
	rows := []map[string]any{
		{"substance_name": "HFC-134a"},
		{"is_title": true, "substance_name": "empty section"},
	}
	pruned := PruneTitleRows(rows)
	if len(pruned) != 1 {
		t.Errorf("trailing title row must be pruned, got %+v", pruned)
	}
}

func TestBuildActions(t *testing.T) {
	merged := map[string]any{
		"organization_name": "ACME",
		"tax_code":          "0101234567",
		"contact_country":   "VN",
		"contact_province":  "Hà Nội",
		"has_table_1_1":     true,
		"substance_usage": []any{
			map[string]any{"substance_name": "HFC-134a", "hs_code": "2903.45.00", "quantity": "12,5"},
			map[string]any{"substance_name": "không rõ", "quantity": "1"},
		},
	}

	action := BuildActions(merged, doctype.Form01, testCatalog(), "decl.pdf", testLogger())

	if action["type"] != "create_extraction_record" {
		t.Fatalf("unexpected action type: %v", action["type"])
	}

	tables, ok := action["tables"].(map[string]any)
	if !ok {
		t.Fatalf("tables missing: %+v", action)
	}
	rows, ok := tables["substance_usage"].([]map[string]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", tables["substance_usage"])
	}
	if rows[0]["substance_id"] != "s1" {
		t.Errorf("substance not resolved: %+v", rows[0])
	}
	if _, resolved := rows[1]["substance_id"]; resolved {
		t.Errorf("unresolvable substance must stay unresolved, not fail: %+v", rows[1])
	}

	meta, ok := action["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing: %+v", action)
	}
	if meta["contact_country_id"] != "c1" {
		t.Errorf("country not resolved: %+v", meta)
	}
	if meta["contact_province_id"] != "p1" {
		t.Errorf("province not resolved: %+v", meta)
	}
	if meta["organization_id"] != "o1" {
		t.Errorf("organization not matched by tax code: %+v", meta)
	}
	if _, leaked := meta["substance_usage"]; leaked {
		t.Error("table category leaked into metadata")
	}
}

func TestBuildActionsFuzzyCountryFallback(t *testing.T) {
	merged := map[string]any{
		"contact_country": "Vietnam",
	}

	action := BuildActions(merged, doctype.Form01, testCatalog(), "decl.pdf", testLogger())

	meta := action["metadata"].(map[string]any)
	if meta["contact_country_id"] != "c1" {
		t.Errorf("fuzzy fallback should resolve Vietnam, got %+v", meta)
	}
}

func TestBuildActionsPrunedEmptySection(t *testing.T) {
	merged := map[string]any{
		"substance_usage": []any{
			map[string]any{"is_title": true, "substance_name": "lone title"},
		},
	}

	action := BuildActions(merged, doctype.Form01, testCatalog(), "decl.pdf", testLogger())

	tables := action["tables"].(map[string]any)
	if _, present := tables["substance_usage"]; present {
		t.Error("a category pruned to nothing must be dropped from the payload")
	}
}
