package domain

import "strings"

// ItemType classifies a catalogue service. E and EZ are individually
// billable TARDOC items, P and PZ are Pauschalen components.
type ItemType string

const (
	TypeE  ItemType = "E"
	TypeEZ ItemType = "EZ"
	TypeP  ItemType = "P"
	TypePZ ItemType = "PZ"
)

// IsTardoc reports whether the item type flows into the TARDOC output.
func (t ItemType) IsTardoc() bool {
	return t == TypeE || t == TypeEZ
}

// IsPauschalenComponent reports whether the item type is a package component.
func (t ItemType) IsPauschalenComponent() bool {
	return t == TypeP || t == TypePZ
}

// ParseItemType normalises an item type string from catalogue data or LLM
// output. Unknown values map to TypeE, the individual-service default.
func ParseItemType(s string) ItemType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EZ":
		return TypeEZ
	case "P":
		return TypeP
	case "PZ":
		return TypePZ
	default:
		return TypeE
	}
}

// Language selects the localisation of catalogue texts and messages.
type Language string

const (
	LangDE Language = "de"
	LangFR Language = "fr"
	LangIT Language = "it"
)

// ParseLanguage returns the supported language for s, defaulting to German.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fr":
		return LangFR
	case "it":
		return LangIT
	default:
		return LangDE
	}
}

// Translated holds a multilingual text with German as the fallback language.
type Translated struct {
	DE string `json:"de"`
	FR string `json:"fr,omitempty"`
	IT string `json:"it,omitempty"`
}

// Get returns the text in the requested language, falling back to German.
func (t Translated) Get(lang Language) string {
	switch lang {
	case LangFR:
		if t.FR != "" {
			return t.FR
		}
	case LangIT:
		if t.IT != "" {
			return t.IT
		}
	}
	return t.DE
}

// CatalogEntry is one Leistungskatalog service.
type CatalogEntry struct {
	LKN            string     `json:"lkn"`
	Typ            ItemType   `json:"typ"`
	Beschreibung   Translated `json:"beschreibung"`
	Interpretation Translated `json:"interpretation,omitempty"`
}

// TableType is the normalised kind of a tariff table.
type TableType string

const (
	TableServiceCatalog TableType = "service_catalog"
	TableICD            TableType = "icd"
	TableTariff         TableType = "tariff"
	TableMedication     TableType = "medication"
)

// TableEntry is one row of a named tariff table. A logical table may span
// many rows sharing a name.
type TableEntry struct {
	Table     string     `json:"table"`
	TableType TableType  `json:"table_type"`
	Code      string     `json:"code"`
	CodeText  Translated `json:"code_text"`
}

// Pauschale is a flat-rate package definition.
type Pauschale struct {
	Code      string     `json:"pauschale"`
	Text      Translated `json:"pauschale_text"`
	Taxpunkte float64    `json:"taxpunkte"`
}

// ConditionType identifies the kind of check a package condition row encodes.
type ConditionType string

const (
	CondICDList        ConditionType = "ICD"
	CondICDTable       ConditionType = "ICD_TABLE"
	CondLKNList        ConditionType = "LKN_LIST"
	CondLKNTable       ConditionType = "LKN_TABLE"
	CondMedicationList ConditionType = "MEDICATION_LIST"
	CondGTIN           ConditionType = "GTIN"
	CondGenderList     ConditionType = "GENDER_LIST"
	CondPatient        ConditionType = "PATIENT"
	CondCountCheck     ConditionType = "COUNT_CHECK"
	CondLaterality     ConditionType = "LATERALITY_CHECK"
)

// ConditionRow is the raw storage form of a package condition. The
// conditions package parses rows into typed atoms; keeping the raw row
// separate decouples the data format from evaluation.
type ConditionRow struct {
	Pauschale string        `json:"pauschale"`
	Gruppe    int           `json:"gruppe"`
	Typ       ConditionType `json:"bedingungstyp"`
	Werte     string        `json:"werte"`
	Feld      string        `json:"feld,omitempty"`
	MinWert   *int          `json:"min,omitempty"`
	MaxWert   *int          `json:"max,omitempty"`
	Vergleich string        `json:"vergleichsoperator,omitempty"`
	Operator  string        `json:"operator,omitempty"`
}

// WerteList splits the value payload into trimmed, non-empty entries.
func (r ConditionRow) WerteList() []string {
	parts := strings.Split(r.Werte, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequestContext is the normalised per-request encounter context every
// engine component reads. Codes are canonical upper-case.
type RequestContext struct {
	LKNs           []string `json:"lkns"`
	ICDs           []string `json:"icds"`
	Medications    []string `json:"medications"`
	Age            *int     `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	Laterality     string   `json:"laterality,omitempty"`
	ProcedureCount *int     `json:"procedure_count,omitempty"`
	UseICD         bool     `json:"use_icd"`
	Lang           Language `json:"lang"`
}

// HasLKN reports membership of a canonical code in the context services.
func (c *RequestContext) HasLKN(lkn string) bool {
	lkn = CanonicalCode(lkn)
	for _, have := range c.LKNs {
		if CanonicalCode(have) == lkn {
			return true
		}
	}
	return false
}
