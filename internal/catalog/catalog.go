// Package catalog holds the reference master data the pipeline resolves
// extracted text against: controlled substances with their HS codes,
// countries, provinces and licensed organizations. The catalog is loaded
// once and read-only for the life of a pipeline run.
package catalog

import (
	"context"
	"fmt"

	"github.com/ozonereg/declpipe/internal/store"
)

// Substance is a controlled substance entry.
type Substance struct {
	ID         string
	Code       string // trade designation, e.g. HFC-134a
	HSCode     string // primary 8-digit HS code
	AltHSCodes []string
	Name       string
	NameEN     string
	GroupName  string
	GWP        float64
}

// Country is a country entry.
type Country struct {
	ID     string
	Code   string // ISO alpha-2
	Name   string
	NameEN string
}

// Province is a first-level administrative division.
type Province struct {
	ID          string
	Code        string
	Name        string
	CountryCode string
	Region      string
}

// Organization is a licensed organization, looked up by tax code only.
type Organization struct {
	ID       string
	TaxCode  string
	Name     string
	Province string
	Address  string
}

// Catalog is the in-memory reference data set.
type Catalog struct {
	Substances    []Substance
	Countries     []Country
	Provinces     []Province
	Organizations []Organization
}

// Load reads all reference collections from the store.
func Load(ctx context.Context, st store.Store) (*Catalog, error) {
	c := &Catalog{}

	subs, err := st.List(ctx, store.CollectionSubstance, nil,
		[]string{"code", "hs_code", "alt_hs_codes", "name", "name_en", "group_name", "gwp"}, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to load substances: %w", err)
	}
	for _, d := range subs {
		c.Substances = append(c.Substances, Substance{
			ID:         str(d["_docID"]),
			Code:       str(d["code"]),
			HSCode:     str(d["hs_code"]),
			AltHSCodes: strSlice(d["alt_hs_codes"]),
			Name:       str(d["name"]),
			NameEN:     str(d["name_en"]),
			GroupName:  str(d["group_name"]),
			GWP:        f64(d["gwp"]),
		})
	}

	countries, err := st.List(ctx, store.CollectionCountry, nil,
		[]string{"code", "name", "name_en"}, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to load countries: %w", err)
	}
	for _, d := range countries {
		c.Countries = append(c.Countries, Country{
			ID:     str(d["_docID"]),
			Code:   str(d["code"]),
			Name:   str(d["name"]),
			NameEN: str(d["name_en"]),
		})
	}

	provinces, err := st.List(ctx, store.CollectionProvince, nil,
		[]string{"code", "name", "country_code", "region"}, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to load provinces: %w", err)
	}
	for _, d := range provinces {
		c.Provinces = append(c.Provinces, Province{
			ID:          str(d["_docID"]),
			Code:        str(d["code"]),
			Name:        str(d["name"]),
			CountryCode: str(d["country_code"]),
			Region:      str(d["region"]),
		})
	}

	orgs, err := st.List(ctx, store.CollectionOrganization, nil,
		[]string{"tax_code", "name", "province_code", "address"}, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}
	for _, d := range orgs {
		c.Organizations = append(c.Organizations, Organization{
			ID:       str(d["_docID"]),
			TaxCode:  str(d["tax_code"]),
			Name:     str(d["name"]),
			Province: str(d["province_code"]),
			Address:  str(d["address"]),
		})
	}

	return c, nil
}

// OrganizationByTaxCode looks up an organization by exact tax code.
// There is deliberately no fuzzy fallback for organizations.
func (c *Catalog) OrganizationByTaxCode(taxCode string) (*Organization, bool) {
	for i := range c.Organizations {
		if c.Organizations[i].TaxCode == taxCode {
			return &c.Organizations[i], true
		}
	}
	return nil, false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func f64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func strSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
