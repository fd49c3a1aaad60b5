package pipeline

import (
	"log/slog"
	"strings"

	"github.com/ozonereg/declpipe/internal/catalog"
	"github.com/ozonereg/declpipe/internal/doctype"
)

// PruneTitleRows removes empty title sections: a title row immediately
// followed by another title row or by the end of the list has no data
// under it and is dropped. Lookahead is a single level; deeper nested
// section structures pass through unchanged.
func PruneTitleRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		if !isTitleRow(row) {
			out = append(out, row)
			continue
		}
		if i+1 < len(rows) && !isTitleRow(rows[i+1]) {
			out = append(out, row)
		}
	}
	return out
}

// BuildActions maps the merged record into the record-creation payload:
// every substance reference is resolved through the catalog exactly once
// per distinct surface text, contact geography is resolved exact-first
// with fuzzy fallback, and empty title sections are pruned from every
// table. Resolution misses are logged, never fatal.
func BuildActions(merged map[string]any, dt doctype.DocType, cat *catalog.Catalog, sourceRef string, logger *slog.Logger) map[string]any {
	action := map[string]any{
		"type":        "create_extraction_record",
		"doc_type":    string(dt),
		"source_file": sourceRef,
	}

	record := make(map[string]any)
	for k, v := range merged {
		record[k] = v
	}

	lookup := resolveSubstances(record, dt, cat, logger)

	tables := make(map[string]any)
	for _, c := range doctype.TableCategories(dt) {
		rows := PruneTitleRows(rowsOf(record[c.Name]))
		if len(rows) == 0 {
			continue
		}
		cmds := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			cmd := make(map[string]any, len(row)+1)
			for k, v := range row {
				cmd[k] = v
			}
			if name := rowSubstanceName(row); name != "" {
				if id, ok := lookup[name]; ok {
					cmd["substance_id"] = id
				}
			}
			cmds = append(cmds, cmd)
		}
		tables[c.Name] = cmds
	}
	action["tables"] = tables

	resolveContactGeo(record, cat, logger)
	resolveOrganization(record, cat, logger)

	tableNames := make(map[string]bool)
	for _, c := range doctype.TableCategories(dt) {
		tableNames[c.Name] = true
	}
	meta := make(map[string]any)
	for k, v := range record {
		if !tableNames[k] {
			meta[k] = v
		}
	}
	action["metadata"] = meta

	return action
}

// resolveSubstances collects every substance reference across the table
// rows, deduplicated by surface text, and resolves each once.
func resolveSubstances(record map[string]any, dt doctype.DocType, cat *catalog.Catalog, logger *slog.Logger) map[string]string {
	type ref struct {
		name   string
		hsHint string
	}
	seen := make(map[string]ref)
	order := make([]string, 0)

	for _, c := range doctype.TableCategories(dt) {
		for _, row := range rowsOf(record[c.Name]) {
			name := rowSubstanceName(row)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = ref{name: name, hsHint: rowHSCode(row)}
				order = append(order, name)
			}
		}
	}

	lookup := make(map[string]string, len(seen))
	for _, name := range order {
		r := seen[name]
		s, ok := cat.ResolveSubstance(r.name, r.hsHint)
		if !ok {
			logger.Warn("substance unresolved",
				"term", r.name,
				"hs_hint", r.hsHint)
			continue
		}
		lookup[name] = s.ID
	}
	return lookup
}

// resolveContactGeo resolves the contact country exact-first, then the
// contact province scoped to the resolved country.
func resolveContactGeo(record map[string]any, cat *catalog.Catalog, logger *slog.Logger) {
	countryTerm, _ := record["contact_country"].(string)
	countryCode := ""
	if countryTerm != "" {
		var resolved *catalog.Country
		for i := range cat.Countries {
			if cat.Countries[i].Code == countryTerm {
				resolved = &cat.Countries[i]
				break
			}
		}
		if resolved == nil {
			if c, ok := cat.ResolveCountry(countryTerm); ok {
				resolved = c
			}
		}
		if resolved != nil {
			countryCode = resolved.Code
			record["contact_country_id"] = resolved.ID
		} else {
			logger.Warn("contact country unresolved", "term", countryTerm)
		}
	}

	provinceTerm, _ := record["contact_province"].(string)
	if provinceTerm != "" {
		var resolved *catalog.Province
		for i := range cat.Provinces {
			p := &cat.Provinces[i]
			if p.Code == provinceTerm && (countryCode == "" || p.CountryCode == countryCode) {
				resolved = p
				break
			}
		}
		if resolved == nil {
			if p, ok := cat.ResolveProvince(provinceTerm, countryCode); ok {
				resolved = p
			}
		}
		if resolved != nil {
			record["contact_province_id"] = resolved.ID
		} else {
			logger.Warn("contact province unresolved", "term", provinceTerm)
		}
	}
}

// resolveOrganization matches the declaring organization by exact tax
// code. There is deliberately no fuzzy fallback here: a wrong
// organization link is worse than none.
func resolveOrganization(record map[string]any, cat *catalog.Catalog, logger *slog.Logger) {
	taxCode, _ := record["tax_code"].(string)
	taxCode = strings.TrimSpace(taxCode)
	if taxCode == "" {
		return
	}
	if org, ok := cat.OrganizationByTaxCode(taxCode); ok {
		record["organization_id"] = org.ID
	} else {
		logger.Info("no organization match for tax code", "tax_code", taxCode)
	}
}

func rowSubstanceName(row map[string]any) string {
	for _, key := range []string{"substance_name", "substance", "chemical_name"} {
		if s, ok := row[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func rowHSCode(row map[string]any) string {
	for _, key := range []string{"hs_code", "hs"} {
		if s, ok := row[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
