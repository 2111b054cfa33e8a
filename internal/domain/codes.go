package domain

import (
	"regexp"
	"strings"
)

// LKNPattern is the external, bit-exact service code format:
// a chapter of 2-3 alphanumerics starting with a letter, a two-character
// block and a four-digit suffix, e.g. "CA.00.0010" or "C08.EC.0130".
var LKNPattern = regexp.MustCompile(`(?i)\b[A-Z][A-Z0-9]{1,2}\.[A-Z0-9]{2}\.[0-9]{4}\b`)

// pauschaleFamilyPattern captures the base family of a package code, e.g.
// "C08.50" for "C08.50E".
var pauschaleFamilyPattern = regexp.MustCompile(`^([A-Z0-9.]+)[A-Z]$`)

// CanonicalCode upper-cases and trims a service, diagnosis or package code.
// Case is irrelevant for code equality everywhere in the engine.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CanonicalCodes maps CanonicalCode over a slice, dropping empties.
func CanonicalCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = CanonicalCode(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// IsValidLKN reports whether code matches the service code format.
func IsValidLKN(code string) bool {
	return LKNPattern.MatchString(strings.TrimSpace(code))
}

// ExtractLKNs returns all canonical service codes literally present in text,
// deduplicated in order of first occurrence.
func ExtractLKNs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range LKNPattern.FindAllString(text, -1) {
		c := CanonicalCode(m)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// LKNChapter returns the chapter prefix of a service code ("CA.00.0010" ->
// "CA"). Empty when the code has no dot.
func LKNChapter(lkn string) string {
	lkn = CanonicalCode(lkn)
	if i := strings.Index(lkn, "."); i > 0 {
		return lkn[:i]
	}
	return ""
}

// PauschaleFamily returns the base family of a package code, or the code
// itself when it does not end in a variant letter.
func PauschaleFamily(code string) string {
	code = CanonicalCode(code)
	if m := pauschaleFamilyPattern.FindStringSubmatch(code); m != nil {
		return strings.TrimSuffix(m[1], ".")
	}
	return code
}

// IsFallbackPauschale reports whether a package code belongs to the C9x
// fallback chapter. Fallback packages rank behind specific matches.
func IsFallbackPauschale(code string) bool {
	return strings.HasPrefix(CanonicalCode(code), "C9")
}

// tableTypeSynonyms normalises the table type tokens found in condition
// rows. Keys are lower-cased with dashes and underscores stripped.
var tableTypeSynonyms = map[string]TableType{
	"tarif":          TableTariff,
	"tariff":         TableTariff,
	"402":            TableTariff,
	"servicecatalog": TableServiceCatalog,
	"servicekatalog": TableServiceCatalog,
	"icd":            TableICD,
	"icd10":          TableICD,
	"medication":     TableMedication,
	"medikamente":    TableMedication,
}

// NormalizeTableType resolves a raw table type token to its canonical
// TableType. Unknown tokens are returned lower-cased as-is so equality
// still works for future types.
func NormalizeTableType(raw string) TableType {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	if t, ok := tableTypeSynonyms[key]; ok {
		return t
	}
	return TableType(key)
}

// NormalizeTableName lower-cases a table name; table names compare
// case-insensitively everywhere.
func NormalizeTableName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
