package domain

// IdentifiedLeistung is one validated (code, type, quantity) triple from
// Stage-1. Typ and Beschreibung always come from the catalogue, never from
// the model.
type IdentifiedLeistung struct {
	LKN          string   `json:"lkn"`
	Typ          ItemType `json:"typ"`
	Menge        int      `json:"menge"`
	Beschreibung string   `json:"beschreibung,omitempty"`
}

// ExtractedInfo carries the structured context Stage-1 pulls out of the
// free text alongside the identified services.
type ExtractedInfo struct {
	DauerMinuten     *int   `json:"dauer_minuten"`
	MengeAllgemein   *int   `json:"menge_allgemein"`
	Alter            *int   `json:"alter"`
	AlterOperator    string `json:"alter_operator,omitempty"`
	Geschlecht       string `json:"geschlecht,omitempty"`
	Seitigkeit       string `json:"seitigkeit,omitempty"`
	AnzahlProzeduren *int   `json:"anzahl_prozeduren"`
}

// Stage1Result is the validated output of the Stage-1 identifier.
type Stage1Result struct {
	IdentifiedLeistungen []IdentifiedLeistung `json:"identified_leistungen"`
	ExtractedInfo        ExtractedInfo        `json:"extracted_info"`
	BegruendungLLM       string               `json:"begruendung_llm,omitempty"`
}

// Stage2Result records the advisory LLM mapping and ranking decisions so
// the response can surface them.
type Stage2Result struct {
	MappedCodes   map[string]string `json:"mapped_codes,omitempty"`
	RankedCodes   []string          `json:"ranked_pauschalen,omitempty"`
	RankingSource string            `json:"ranking_source,omitempty"`
}

// TokenUsage tracks token consumption of one LLM stage.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Abrechnung result types.
const (
	AbrechnungPauschale = "Pauschale"
	AbrechnungTardoc    = "TARDOC"
	AbrechnungError     = "Error"
)

// BillingItem is one billable TARDOC service in the final output.
type BillingItem struct {
	LKN          string   `json:"lkn"`
	Menge        int      `json:"menge"`
	Typ          ItemType `json:"typ"`
	Beschreibung string   `json:"beschreibung"`
}

// PotentialICD hints the UI about a diagnosis that would have activated or
// did activate the selected package.
type PotentialICD struct {
	Code     string `json:"Code"`
	CodeText string `json:"Code_Text"`
}

// PauschaleDetails describes the selected flat-rate package.
type PauschaleDetails struct {
	Pauschale      string         `json:"Pauschale"`
	PauschaleText  string         `json:"Pauschale_Text"`
	Taxpunkte      float64        `json:"Taxpunkte"`
	ErklaerungHTML string         `json:"pauschale_erklaerung_html,omitempty"`
	PotentialICDs  []PotentialICD `json:"potential_icds"`
}

// EvaluatedPauschale records a rejected candidate with its condition report
// for the error path.
type EvaluatedPauschale struct {
	Code                string `json:"code"`
	BedingungsPruefHTML string `json:"bedingungs_pruef_html,omitempty"`
}

// Abrechnung is the decision outcome: exactly one of the Pauschale, TARDOC
// or Error shapes, discriminated by Type.
type Abrechnung struct {
	Type string `json:"type"`

	// Pauschale
	Details             *PauschaleDetails `json:"details,omitempty"`
	BedingungsPruefHTML string            `json:"bedingungs_pruef_html,omitempty"`
	BedingungsFehler    []string          `json:"bedingungs_fehler,omitempty"`
	ConditionsMet       bool              `json:"conditions_met,omitempty"`

	// TARDOC
	Leistungen []BillingItem `json:"leistungen,omitempty"`

	// Error
	Message             string               `json:"message,omitempty"`
	EvaluatedPauschalen []EvaluatedPauschale `json:"evaluated_pauschalen,omitempty"`
}

// BillingRequest is the orchestrator input after transport-level decoding.
type BillingRequest struct {
	InputText      string   `json:"inputText"`
	ICD            []string `json:"icd,omitempty"`
	GTIN           []string `json:"gtin,omitempty"`
	Medications    []string `json:"medications,omitempty"`
	Age            *int     `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	UseICD         *bool    `json:"useIcd,omitempty"`
	Lang           string   `json:"lang,omitempty"`
	Laterality     string   `json:"laterality,omitempty"`
	ProcedureCount *int     `json:"count,omitempty"`
}

// BillingResponse is the full §6 response envelope.
type BillingResponse struct {
	LLMErgebnisStufe1      *Stage1Result          `json:"llm_ergebnis_stufe1"`
	RegelErgebnisseDetails []RuleCheckResult      `json:"regel_ergebnisse_details"`
	Abrechnung             *Abrechnung            `json:"abrechnung"`
	LLMErgebnisStufe2      *Stage2Result          `json:"llm_ergebnis_stufe2,omitempty"`
	TokenUsage             map[string]TokenUsage  `json:"token_usage"`
}
