package stage1

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
	"github.com/tardoc-pauschale-server/internal/llm"
	"github.com/tardoc-pauschale-server/internal/retrieval"
)

// ChatClient is the completion surface the identifier needs from the LLM
// gateway.
type ChatClient interface {
	Chat(ctx context.Context, provider, model string, messages []llm.Message, opts llm.Options) (*llm.ChatResult, error)
}

// Identifier runs Stage-1: it builds the retrieval window, prompts the
// model and validates the reply against the catalogue. Model-reported
// types and descriptions are never trusted.
type Identifier struct {
	gateway ChatClient
	store   *catalog.Store
	ranker  *retrieval.Ranker
	stage   config.StageLLM
	logger  *logrus.Logger
}

// NewIdentifier wires the Stage-1 identifier.
func NewIdentifier(gateway ChatClient, store *catalog.Store, ranker *retrieval.Ranker, stage config.StageLLM, logger *logrus.Logger) *Identifier {
	return &Identifier{
		gateway: gateway,
		store:   store,
		ranker:  ranker,
		stage:   stage,
		logger:  logger,
	}
}

// flexNumber tolerates the quantity encodings models actually emit:
// numbers, floats and numeric strings. Anything unparseable stays unset.
type flexNumber struct {
	val float64
	ok  bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.val = v
	f.ok = true
	return nil
}

type rawLeistung struct {
	LKN   string     `json:"lkn"`
	Typ   string     `json:"typ"`
	Menge flexNumber `json:"menge"`
}

type rawExtractedInfo struct {
	DauerMinuten     *float64 `json:"dauer_minuten"`
	MengeAllgemein   *float64 `json:"menge_allgemein"`
	Alter            *float64 `json:"alter"`
	AlterOperator    string   `json:"alter_operator"`
	Geschlecht       string   `json:"geschlecht"`
	Seitigkeit       string   `json:"seitigkeit"`
	AnzahlProzeduren *float64 `json:"anzahl_prozeduren"`
}

type rawStage1 struct {
	IdentifiedLeistungen []rawLeistung    `json:"identified_leistungen"`
	ExtractedInfo        rawExtractedInfo `json:"extracted_info"`
	BegruendungLLM       string           `json:"begruendung_llm"`
}

// Identify runs the Stage-1 pipeline for one request. The returned result
// contains only catalogue-validated services.
func (s *Identifier) Identify(ctx context.Context, req domain.BillingRequest, lang domain.Language) (*domain.Stage1Result, domain.TokenUsage, error) {
	window := s.ranker.BuildContext(req.InputText, lang)

	temperature := 0.05
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt(lang)},
		{Role: llm.RoleUser, Content: UserPrompt(lang, window.Window, req.InputText)},
	}
	res, err := s.gateway.Chat(ctx, s.stage.Provider, s.stage.Model, messages, llm.Options{
		Temperature:  &temperature,
		JSONResponse: true,
		Timeout:      s.stage.Timeout,
	})
	if err != nil {
		return nil, domain.TokenUsage{}, domain.NewEngineError(domain.ErrTransport, "stage1", "LLM call failed", err)
	}

	raw, err := parseStage1Reply(res.Content)
	if err != nil {
		s.logger.WithError(err).WithField("reply_len", len(res.Content)).Warn("Stage-1 reply rejected")
		return nil, res.Usage, domain.NewEngineError(domain.ErrStage1Parse, "stage1", "model reply is not a valid Stage-1 JSON object", err)
	}

	result := s.validate(raw, req.InputText, lang)
	s.reconcile(result, req)

	s.logger.WithFields(logrus.Fields{
		"identified": len(result.IdentifiedLeistungen),
		"lang":       lang,
		"tokens":     res.Usage.TotalTokens,
	}).Info("Stage-1 identification completed")

	return result, res.Usage, nil
}

// parseStage1Reply accepts the content as-is first, then retries once after
// extracting a balanced object from fences or surrounding prose. Both
// required top-level keys must be present.
func parseStage1Reply(content string) (*rawStage1, error) {
	payload := content
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &keys); err != nil {
		extracted, exErr := llm.ExtractJSONObject(content)
		if exErr != nil {
			return nil, exErr
		}
		payload = extracted
		if err := json.Unmarshal([]byte(payload), &keys); err != nil {
			return nil, err
		}
	}
	if _, ok := keys["identified_leistungen"]; !ok {
		return nil, domain.NewValidationError("identified_leistungen", "required field missing", nil)
	}
	if _, ok := keys["extracted_info"]; !ok {
		return nil, domain.NewValidationError("extracted_info", "required field missing", nil)
	}

	var raw rawStage1
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// validate keeps only catalogue-known codes, overwrites type and
// description from the catalogue and merges literal codes from the text.
func (s *Identifier) validate(raw *rawStage1, text string, lang domain.Language) *domain.Stage1Result {
	result := &domain.Stage1Result{
		BegruendungLLM: raw.BegruendungLLM,
		ExtractedInfo: domain.ExtractedInfo{
			DauerMinuten:     roundPtr(raw.ExtractedInfo.DauerMinuten),
			MengeAllgemein:   roundPtr(raw.ExtractedInfo.MengeAllgemein),
			Alter:            roundPtr(raw.ExtractedInfo.Alter),
			AlterOperator:    strings.TrimSpace(raw.ExtractedInfo.AlterOperator),
			Geschlecht:       strings.TrimSpace(strings.ToLower(raw.ExtractedInfo.Geschlecht)),
			Seitigkeit:       strings.TrimSpace(strings.ToLower(raw.ExtractedInfo.Seitigkeit)),
			AnzahlProzeduren: roundPtr(raw.ExtractedInfo.AnzahlProzeduren),
		},
	}

	seen := make(map[string]bool)
	for _, rl := range raw.IdentifiedLeistungen {
		code := domain.CanonicalCode(rl.LKN)
		entry, ok := s.store.CodeDetails(code)
		if !ok {
			s.logger.WithField("lkn", code).Warn("Dropped unknown LKN from Stage-1 reply")
			continue
		}
		if seen[code] {
			continue
		}
		seen[code] = true

		result.IdentifiedLeistungen = append(result.IdentifiedLeistungen, domain.IdentifiedLeistung{
			LKN:          entry.LKN,
			Typ:          entry.Typ,
			Menge:        coerceMenge(rl.Menge),
			Beschreibung: entry.Beschreibung.Get(lang),
		})
	}

	// Literal catalogue codes written in the text are always kept, whether
	// or not the model returned them.
	for _, code := range domain.ExtractLKNs(text) {
		if seen[code] {
			continue
		}
		entry, ok := s.store.CodeDetails(code)
		if !ok {
			continue
		}
		seen[code] = true
		result.IdentifiedLeistungen = append(result.IdentifiedLeistungen, domain.IdentifiedLeistung{
			LKN:          entry.LKN,
			Typ:          entry.Typ,
			Menge:        1,
			Beschreibung: entry.Beschreibung.Get(lang),
		})
	}

	return result
}

// reconcile merges demographic sources. Explicit request fields win over
// text extraction, text extraction wins over the model output.
func (s *Identifier) reconcile(result *domain.Stage1Result, req domain.BillingRequest) {
	text := ExtractDemographics(req.InputText)

	if text.Age != nil {
		result.ExtractedInfo.Alter = text.Age
		result.ExtractedInfo.AlterOperator = text.AgeOperator
	}
	if text.Gender != "" {
		result.ExtractedInfo.Geschlecht = text.Gender
	}
	if text.Laterality != "" {
		result.ExtractedInfo.Seitigkeit = text.Laterality
	}

	if req.Age != nil {
		result.ExtractedInfo.Alter = req.Age
		result.ExtractedInfo.AlterOperator = "="
	}
	if req.Gender != "" {
		result.ExtractedInfo.Geschlecht = strings.ToLower(strings.TrimSpace(req.Gender))
	}
	if req.Laterality != "" {
		result.ExtractedInfo.Seitigkeit = strings.ToLower(strings.TrimSpace(req.Laterality))
	}
	if req.ProcedureCount != nil {
		result.ExtractedInfo.AnzahlProzeduren = req.ProcedureCount
	}
}

// coerceMenge rounds the quantity and clamps it to at least one.
func coerceMenge(n flexNumber) int {
	if !n.ok {
		return 1
	}
	v := int(n.val + 0.5)
	if v < 1 {
		return 1
	}
	return v
}

func roundPtr(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(*f + 0.5)
	return &v
}
