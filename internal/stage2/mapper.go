package stage2

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
	"github.com/tardoc-pauschale-server/internal/llm"
)

// ChatClient is the completion surface Stage-2 needs from the LLM gateway.
type ChatClient interface {
	Chat(ctx context.Context, provider, model string, messages []llm.Message, opts llm.Options) (*llm.ChatResult, error)
}

// Mapper runs the two advisory Stage-2 sub-operations: mapping individual
// TARDOC items onto package-condition equivalents, and ranking candidate
// packages. The selector never trusts either answer; every suggestion is
// filtered against the structural candidate set.
type Mapper struct {
	gateway ChatClient
	store   *catalog.Store
	stage   config.StageLLM
	logger  *logrus.Logger
}

// NewMapper wires the Stage-2 mapper.
func NewMapper(gateway ChatClient, store *catalog.Store, stage config.StageLLM, logger *logrus.Logger) *Mapper {
	return &Mapper{gateway: gateway, store: store, stage: stage, logger: logger}
}

// anaesthesia items map only onto the anaesthesia time codes and the ANAST
// table, never onto surgical package components.
const (
	anaesthesiaChapter   = "AG."
	anaesthesiaMapPrefix = "WA.10."
	anaesthesiaTable     = "ANAST"
)

// CandidateConditionLKNs collects every service code referenced by the
// conditions of the given packages, via literal lists and named tables.
func CandidateConditionLKNs(store *catalog.Store, packages []string) map[string]bool {
	out := make(map[string]bool)
	for _, code := range packages {
		for _, row := range store.PauschaleConditions(code) {
			switch row.Typ {
			case domain.CondLKNList:
				for _, v := range row.WerteList() {
					out[domain.CanonicalCode(v)] = true
				}
			case domain.CondLKNTable:
				for lkn := range store.TableCodes(row.WerteList(), domain.TableServiceCatalog) {
					out[lkn] = true
				}
			}
		}
	}
	return out
}

// MapEquivalent asks the model which candidate code is equivalent to one
// TARDOC item. The empty string means no usable suggestion; errors are
// reported but advisory for the caller.
func (m *Mapper) MapEquivalent(ctx context.Context, item domain.IdentifiedLeistung, candidates map[string]bool, lang domain.Language) (string, domain.TokenUsage, error) {
	narrowed := m.narrowCandidates(item.LKN, candidates)
	if len(narrowed) == 0 {
		return "", domain.TokenUsage{}, nil
	}

	codes := make([]string, 0, len(narrowed))
	for c := range narrowed {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	var b strings.Builder
	for _, c := range codes {
		if e, ok := m.store.CodeDetails(c); ok {
			fmt.Fprintf(&b, "%s: %s\n", c, e.Beschreibung.Get(lang))
		} else {
			fmt.Fprintf(&b, "%s\n", c)
		}
	}

	temperature := 0.05
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: mappingSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Leistung: %s (%s)\n\nKandidaten:\n%s\nAntwort:", item.LKN, item.Beschreibung, b.String())},
	}
	res, err := m.gateway.Chat(ctx, m.stage.Provider, m.stage.Model, messages, llm.Options{
		Temperature: &temperature,
		Timeout:     m.stage.Timeout,
	})
	if err != nil {
		return "", domain.TokenUsage{}, domain.NewEngineError(domain.ErrTransport, "stage2", "LLM mapping call failed", err)
	}

	for _, code := range ParseCodeList(res.Content) {
		if narrowed[code] {
			return code, res.Usage, nil
		}
	}
	m.logger.WithFields(logrus.Fields{
		"lkn":        item.LKN,
		"candidates": len(narrowed),
	}).Debug("Stage-2 mapping returned no candidate-set code")
	return "", res.Usage, nil
}

const mappingSystemPrompt = `Du vergleichst eine TARDOC-Einzelleistung mit Kandidaten-Leistungen aus
Pauschalen-Bedingungen. Nenne die äquivalenten Kandidaten-LKN als kommagetrennte
Liste, in absteigender Passgenauigkeit. Wenn keine passt, antworte NONE.`

// narrowCandidates applies the functional-family restriction before the
// model sees the candidate list.
func (m *Mapper) narrowCandidates(lkn string, candidates map[string]bool) map[string]bool {
	if !strings.HasPrefix(domain.CanonicalCode(lkn), anaesthesiaChapter) {
		return candidates
	}
	anast := m.store.TableCodes([]string{anaesthesiaTable}, domain.TableServiceCatalog)
	narrowed := make(map[string]bool)
	for c := range candidates {
		if strings.HasPrefix(c, anaesthesiaMapPrefix) || anast[c] {
			narrowed[c] = true
		}
	}
	return narrowed
}

// RankPackages asks the model for a priority order over the shortlist. A
// nil result means "use the deterministic order". Unknown codes are
// dropped, missing shortlist codes are not re-added.
func (m *Mapper) RankPackages(ctx context.Context, text string, shortlist []string, lang domain.Language) ([]string, domain.TokenUsage, error) {
	if len(shortlist) < 2 {
		return nil, domain.TokenUsage{}, nil
	}

	allowed := make(map[string]bool, len(shortlist))
	var b strings.Builder
	for _, code := range shortlist {
		code = domain.CanonicalCode(code)
		allowed[code] = true
		if p, ok := m.store.Pauschale(code); ok {
			fmt.Fprintf(&b, "%s: %s\n", code, p.Text.Get(lang))
		} else {
			fmt.Fprintf(&b, "%s\n", code)
		}
	}

	temperature := 0.05
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: rankingSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Behandlung:\n%s\n\nPauschalen:\n%s\nAntwort:", text, b.String())},
	}
	res, err := m.gateway.Chat(ctx, m.stage.Provider, m.stage.Model, messages, llm.Options{
		Temperature: &temperature,
		Timeout:     m.stage.Timeout,
	})
	if err != nil {
		return nil, domain.TokenUsage{}, domain.NewEngineError(domain.ErrTransport, "stage2", "LLM ranking call failed", err)
	}

	reply := strings.TrimSpace(res.Content)
	if strings.EqualFold(llm.StripCodeFences(reply), "NONE") {
		return nil, res.Usage, nil
	}

	var ranked []string
	seen := make(map[string]bool)
	for _, code := range ParseCodeList(reply) {
		if allowed[code] && !seen[code] {
			seen[code] = true
			ranked = append(ranked, code)
		}
	}
	return ranked, res.Usage, nil
}

const rankingSystemPrompt = `Du priorisierst Pauschalen für eine beschriebene Behandlung. Antworte mit den
Pauschalen-Codes als kommagetrennte Liste, bester Treffer zuerst. Wenn keine
Pauschale passt, antworte NONE.`

// ParseCodeList tolerates the three reply shapes models emit: a bare comma
// list, a JSON array, or a JSON object carrying EQUIVALENT_LKNS. The
// candidate sets of all matching shapes are unioned in order.
func ParseCodeList(reply string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		code := domain.CanonicalCode(strings.Trim(strings.TrimSpace(raw), `"'`))
		if code == "" || code == "NONE" || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, code)
	}

	stripped := llm.StripCodeFences(reply)

	if arr, err := llm.ExtractJSONArray(stripped); err == nil {
		var codes []string
		if json.Unmarshal([]byte(arr), &codes) == nil {
			for _, c := range codes {
				add(c)
			}
		}
	}
	if obj, err := llm.ExtractJSONObject(stripped); err == nil {
		var wrapper struct {
			EquivalentLKNs []string `json:"EQUIVALENT_LKNS"`
		}
		if json.Unmarshal([]byte(obj), &wrapper) == nil {
			for _, c := range wrapper.EquivalentLKNs {
				add(c)
			}
		}
	}
	if len(out) == 0 {
		for _, part := range strings.Split(stripped, ",") {
			part = strings.TrimSpace(part)
			if domain.IsValidLKN(part) || looksLikePackageCode(part) {
				add(part)
			}
		}
	}
	return out
}

// looksLikePackageCode accepts package-shaped codes in ranking replies.
func looksLikePackageCode(s string) bool {
	s = domain.CanonicalCode(s)
	if len(s) < 3 {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.') {
			return false
		}
	}
	return s[len(s)-1] >= 'A' && s[len(s)-1] <= 'Z'
}
