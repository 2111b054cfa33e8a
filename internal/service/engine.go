package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/billing"
	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/conditions"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
	"github.com/tardoc-pauschale-server/internal/pauschale"
	"github.com/tardoc-pauschale-server/internal/rules"
	"github.com/tardoc-pauschale-server/internal/stage1"
	"github.com/tardoc-pauschale-server/internal/stage2"
)

// Engine owns the request lifecycle of one billing analysis: Stage-1
// identification, rule checking, the package path (Stage-2, condition
// evaluation, selection) and the TARDOC fallback. All catalogue state is
// immutable; per-request state lives in local values.
type Engine struct {
	logger     *logrus.Logger
	cfg        *config.Config
	store      *catalog.Store
	identifier *stage1.Identifier
	mapper     *stage2.Mapper
	rules      *rules.Engine
	selector   *pauschale.Selector
}

// NewEngine wires the orchestrator.
func NewEngine(
	cfg *config.Config,
	store *catalog.Store,
	identifier *stage1.Identifier,
	mapper *stage2.Mapper,
	ruleEngine *rules.Engine,
	selector *pauschale.Selector,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		identifier: identifier,
		mapper:     mapper,
		rules:      ruleEngine,
		selector:   selector,
	}
}

// AnalyzeBilling runs the full decision pipeline for one encounter.
func (e *Engine) AnalyzeBilling(ctx context.Context, req domain.BillingRequest) (*domain.BillingResponse, error) {
	startTime := time.Now()

	// Step 1: validate and normalise the input.
	if strings.TrimSpace(req.InputText) == "" {
		return nil, domain.NewEngineError(domain.ErrInvalidInput, "input", "inputText is required", nil)
	}
	lang := domain.ParseLanguage(req.Lang)
	useICD := e.cfg.Features.UseICDDefault
	if req.UseICD != nil {
		useICD = *req.UseICD
	}

	e.logger.WithFields(logrus.Fields{
		"lang":    lang,
		"use_icd": useICD,
		"chars":   len(req.InputText),
	}).Info("Starting billing analysis")

	tokenUsage := make(map[string]domain.TokenUsage)
	response := &domain.BillingResponse{TokenUsage: tokenUsage}

	// Step 2: Stage-1 identification over the retrieval window.
	s1, usage, err := e.identifier.Identify(ctx, req, lang)
	if err != nil {
		return nil, err
	}
	tokenUsage["stage1"] = usage
	response.LLMErgebnisStufe1 = s1

	rctx := e.buildContext(req, s1, useICD, lang)

	// Step 3: no identified services means no decision to make.
	if len(s1.IdentifiedLeistungen) == 0 {
		response.Abrechnung = billing.Assemble(nil, e.store, lang)
		return response, nil
	}

	// Step 4: rule checking on every identified item.
	ruleResults := e.rules.CheckAll(s1.IdentifiedLeistungen, rctx)
	response.RegelErgebnisseDetails = ruleResults

	passing := passingItems(s1.IdentifiedLeistungen, ruleResults)
	if len(passing) == 0 {
		response.Abrechnung = billing.Assemble(ruleResults, e.store, lang)
		return response, nil
	}

	rctx.LKNs = itemCodes(passing)

	// Step 5/6: the package path needs a component-typed survivor or at
	// least one linked candidate package.
	candidates := e.selector.Candidates(rctx.LKNs)
	if len(candidates) == 0 || (!hasComponentType(passing) && !e.hasServiceLink(rctx.LKNs)) {
		response.Abrechnung = billing.Assemble(ruleResults, e.store, lang)
		return response, nil
	}

	// Step 6b: Stage-2 mapping enriches the eligibility context with
	// package-equivalent codes for the individually billable items.
	stage2Result := &domain.Stage2Result{}
	mappingUsage := e.mapItems(ctx, passing, candidates, rctx, stage2Result, lang)

	// Step 6c: advisory package ranking.
	ranked, rankUsage, rankErr := e.mapper.RankPackages(ctx, req.InputText, candidates, lang)
	if rankErr != nil {
		e.logger.WithError(rankErr).Warn("Stage-2 ranking failed, using deterministic order")
	} else if len(ranked) > 0 {
		stage2Result.RankedCodes = ranked
		stage2Result.RankingSource = "llm"
	} else {
		stage2Result.RankingSource = "deterministic"
	}
	mappingUsage.Add(rankUsage)
	tokenUsage["stage2"] = mappingUsage
	response.LLMErgebnisStufe2 = stage2Result

	// Step 7: structural selection.
	cache := conditions.NewRequestCache()
	abrechnung, rejected := e.selector.Select(candidates, rctx, ranked, cache)
	if abrechnung == nil {
		// NoApplicable downgrades to the TARDOC path.
		abrechnung = billing.Assemble(ruleResults, e.store, lang)
		if abrechnung.Type == domain.AbrechnungError {
			abrechnung.EvaluatedPauschalen = rejected
		}
	}
	response.Abrechnung = abrechnung

	e.logger.WithFields(logrus.Fields{
		"type":       abrechnung.Type,
		"candidates": len(candidates),
		"duration":   time.Since(startTime),
	}).Info("Billing analysis completed")

	return response, nil
}

// buildContext assembles the request context from the structured inputs
// and the reconciled Stage-1 extraction.
func (e *Engine) buildContext(req domain.BillingRequest, s1 *domain.Stage1Result, useICD bool, lang domain.Language) *domain.RequestContext {
	meds := make([]string, 0, len(req.Medications)+len(req.GTIN))
	for _, m := range append(append([]string{}, req.Medications...), req.GTIN...) {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			meds = append(meds, m)
		}
	}

	return &domain.RequestContext{
		LKNs:           itemCodes(s1.IdentifiedLeistungen),
		ICDs:           domain.CanonicalCodes(req.ICD),
		Medications:    meds,
		Age:            s1.ExtractedInfo.Alter,
		Gender:         s1.ExtractedInfo.Geschlecht,
		Laterality:     s1.ExtractedInfo.Seitigkeit,
		ProcedureCount: s1.ExtractedInfo.AnzahlProzeduren,
		UseICD:         useICD,
		Lang:           lang,
	}
}

// mapItems runs the advisory Stage-2 mapping for the individually billable
// survivors. Mapped codes join the eligibility context.
func (e *Engine) mapItems(ctx context.Context, passing []domain.IdentifiedLeistung, candidates []string, rctx *domain.RequestContext, out *domain.Stage2Result, lang domain.Language) domain.TokenUsage {
	var usage domain.TokenUsage

	conditionLKNs := stage2.CandidateConditionLKNs(e.store, candidates)
	for _, item := range passing {
		if !item.Typ.IsTardoc() {
			continue
		}
		mapped, u, err := e.mapper.MapEquivalent(ctx, item, conditionLKNs, lang)
		usage.Add(u)
		if err != nil {
			e.logger.WithError(err).WithField("lkn", item.LKN).Warn("Stage-2 mapping failed, continuing without")
			continue
		}
		if mapped == "" || rctx.HasLKN(mapped) {
			continue
		}
		if out.MappedCodes == nil {
			out.MappedCodes = make(map[string]string)
		}
		out.MappedCodes[item.LKN] = mapped
		rctx.LKNs = append(rctx.LKNs, mapped)
	}
	return usage
}

func (e *Engine) hasServiceLink(lkns []string) bool {
	for _, lkn := range lkns {
		if len(e.store.ServiceLinks(lkn)) > 0 {
			return true
		}
	}
	return false
}

// passingItems keeps the identified items whose rule check survived, with
// reduced quantities applied.
func passingItems(items []domain.IdentifiedLeistung, results []domain.RuleCheckResult) []domain.IdentifiedLeistung {
	byCode := make(map[string]domain.RuleCheckResult, len(results))
	for _, r := range results {
		byCode[r.LKN] = r
	}

	var out []domain.IdentifiedLeistung
	for _, it := range items {
		res, ok := byCode[domain.CanonicalCode(it.LKN)]
		if !ok || !res.Billable || res.FinalMenge <= 0 {
			continue
		}
		it.Menge = res.FinalMenge
		out = append(out, it)
	}
	return out
}

func itemCodes(items []domain.IdentifiedLeistung) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, domain.CanonicalCode(it.LKN))
	}
	return out
}

func hasComponentType(items []domain.IdentifiedLeistung) bool {
	for _, it := range items {
		if it.Typ.IsPauschalenComponent() {
			return true
		}
	}
	return false
}
