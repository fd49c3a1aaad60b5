package catalog

import (
	"strings"
	"unicode"
)

// NormalizeHSCode reduces an HS code to exactly 8 digits: non-digits are
// stripped, short codes are right-padded with zeros, long codes truncated.
// Empty input stays empty.
func NormalizeHSCode(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) < 8 {
		return digits + strings.Repeat("0", 8-len(digits))
	}
	return digits[:8]
}

// NormalizeCode lower-cases and strips spaces, dashes and underscores, so
// "R-134a", "R 134a" and "r134A" all compare equal.
func NormalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch r {
		case ' ', '-', '_':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveSubstance finds the catalog substance for a noisy extracted term,
// optionally helped by an HS code hint. Strategies run in strict priority
// order and the first hit wins; within a strategy the first catalog entry
// in load order wins. A miss returns (nil, false), never an error.
func (c *Catalog) ResolveSubstance(term, hsHint string) (*Substance, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, false
	}

	// 1. Exact name or code.
	for i := range c.Substances {
		s := &c.Substances[i]
		if s.Name == term || s.Code == term {
			return s, true
		}
	}

	// 2. Normalized code equality.
	normTerm := NormalizeCode(term)
	if normTerm != "" {
		for i := range c.Substances {
			s := &c.Substances[i]
			if NormalizeCode(s.Code) == normTerm || NormalizeCode(s.Name) == normTerm {
				return s, true
			}
		}
	}

	// 3. Exact 8-digit HS code, primary then alternates.
	normHS := NormalizeHSCode(hsHint)
	if normHS != "" {
		for i := range c.Substances {
			if NormalizeHSCode(c.Substances[i].HSCode) == normHS {
				return &c.Substances[i], true
			}
		}
		for i := range c.Substances {
			for _, alt := range c.Substances[i].AltHSCodes {
				if NormalizeHSCode(alt) == normHS {
					return &c.Substances[i], true
				}
			}
		}

		// 4. 6-digit HS prefix, primary then alternates.
		prefix := normHS[:6]
		for i := range c.Substances {
			if strings.HasPrefix(NormalizeHSCode(c.Substances[i].HSCode), prefix) {
				return &c.Substances[i], true
			}
		}
		for i := range c.Substances {
			for _, alt := range c.Substances[i].AltHSCodes {
				if strings.HasPrefix(NormalizeHSCode(alt), prefix) {
					return &c.Substances[i], true
				}
			}
		}
	}

	// 5. Case-insensitive substring on name or code.
	lowTerm := strings.ToLower(term)
	for i := range c.Substances {
		s := &c.Substances[i]
		if strings.Contains(strings.ToLower(s.Name), lowTerm) ||
			strings.Contains(strings.ToLower(s.Code), lowTerm) {
			return s, true
		}
	}

	return nil, false
}

// ResolveCountry is the fuzzy fallback for country lookup. Callers should
// try an exact code match themselves first and only call this on a miss.
func (c *Catalog) ResolveCountry(term string) (*Country, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, false
	}

	for i := range c.Countries {
		cc := &c.Countries[i]
		if cc.Code == term || cc.Name == term || cc.NameEN == term {
			return cc, true
		}
	}

	normTerm := NormalizeCode(term)
	for i := range c.Countries {
		cc := &c.Countries[i]
		if NormalizeCode(cc.Name) == normTerm || NormalizeCode(cc.NameEN) == normTerm {
			return cc, true
		}
	}

	lowTerm := strings.ToLower(term)
	for i := range c.Countries {
		cc := &c.Countries[i]
		if strings.Contains(strings.ToLower(cc.Name), lowTerm) ||
			strings.Contains(strings.ToLower(cc.NameEN), lowTerm) {
			return cc, true
		}
	}

	return nil, false
}

// ResolveProvince is the fuzzy fallback for province lookup, optionally
// scoped to a country code. Same caveat as ResolveCountry.
func (c *Catalog) ResolveProvince(term, countryCode string) (*Province, bool) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, false
	}

	inScope := func(p *Province) bool {
		return countryCode == "" || p.CountryCode == countryCode
	}

	for i := range c.Provinces {
		p := &c.Provinces[i]
		if inScope(p) && (p.Code == term || p.Name == term) {
			return p, true
		}
	}

	normTerm := NormalizeCode(term)
	for i := range c.Provinces {
		p := &c.Provinces[i]
		if inScope(p) && NormalizeCode(p.Name) == normTerm {
			return p, true
		}
	}

	lowTerm := strings.ToLower(term)
	for i := range c.Provinces {
		p := &c.Provinces[i]
		if inScope(p) && strings.Contains(strings.ToLower(p.Name), lowTerm) {
			return p, true
		}
	}

	return nil, false
}
