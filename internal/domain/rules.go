package domain

// RuleType identifies a rule book entry variant.
type RuleType string

const (
	RuleQuantity           RuleType = "Menge"
	RuleSupplementOnly     RuleType = "NurAlsZuschlag"
	RuleNotCumulable       RuleType = "NichtKumulierbar"
	RuleOnlyCumulable      RuleType = "NurKumulierbar"
	RuleCumulable          RuleType = "Kumulierbar"
	RulePossibleAdditions  RuleType = "MoeglicheZusatzleistungen"
	RulePatient            RuleType = "Patientenbedingung"
	RuleDiagnosis          RuleType = "Diagnosepflicht"
	RulePauschaleExclusion RuleType = "PauschalenAusschluss"
)

// Patient rule fields.
const (
	PatientFieldAge    = "Alter"
	PatientFieldGender = "Geschlecht"
	PatientFieldATC    = "Medikamente"
)

// CumulationEntryKind distinguishes the entry forms of positive cumulation
// lists: a literal code, a chapter prefix, or a Leistungsgruppe reference.
type CumulationEntryKind string

const (
	CumulationLiteral CumulationEntryKind = "literal"
	CumulationChapter CumulationEntryKind = "kapitel"
	CumulationGroup   CumulationEntryKind = "leistungsgruppe"
)

// CumulationEntry is one entry of an Only-cumulable / Cumulable /
// Possible-additions list.
type CumulationEntry struct {
	Kind  CumulationEntryKind `json:"kind"`
	Value string              `json:"value"`
}

// Rule is one rule book record attached to a service code. Only the fields
// relevant to the rule's type are populated.
type Rule struct {
	Typ RuleType `json:"typ"`

	// Quantity
	MaxMenge int `json:"max_menge,omitempty"`

	// Supplement-only, Not-cumulable, Diagnosis, Pauschale-exclusion
	Codes []string `json:"codes,omitempty"`

	// Not-cumulable type filter; empty means any companion type matches.
	TypFilter []ItemType `json:"typ_filter,omitempty"`

	// Positive cumulation lists
	Entries []CumulationEntry `json:"entries,omitempty"`

	// Patient
	Feld      string `json:"feld,omitempty"`
	Vergleich string `json:"vergleich,omitempty"`
	Wert      string `json:"wert,omitempty"`
	MinWert   *int   `json:"min,omitempty"`
	MaxWert   *int   `json:"max,omitempty"`
}

// RuleCheckResult is the per-item outcome of the rule engine. Rule errors
// are collected, never thrown; a quantity-only violation is recovered by
// reducing the quantity to the cap.
type RuleCheckResult struct {
	LKN             string   `json:"lkn"`
	Typ             ItemType `json:"typ"`
	InitialMenge    int      `json:"initiale_menge"`
	FinalMenge      int      `json:"finale_menge"`
	Billable        bool     `json:"abrechenbar"`
	QuantityReduced bool     `json:"menge_reduziert,omitempty"`
	Errors          []string `json:"fehler,omitempty"`
}
