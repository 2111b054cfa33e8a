package pauschale

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/conditions"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// Selector is the authoritative package chooser: it enumerates candidates
// from rule-passing codes, filters them structurally, ranks survivors
// deterministically and renders the rationale.
type Selector struct {
	store     *catalog.Store
	evaluator *conditions.Evaluator
	logger    *logrus.Logger

	// lknToPackages is built once at construction: every package that
	// references a code via service links, literal condition lists or
	// condition tables.
	lknToPackages map[string][]string
}

// NewSelector builds the selector and its code-to-package index.
func NewSelector(store *catalog.Store, evaluator *conditions.Evaluator, logger *logrus.Logger) *Selector {
	s := &Selector{
		store:     store,
		evaluator: evaluator,
		logger:    logger,
	}
	s.buildIndex()
	return s
}

func (s *Selector) buildIndex() {
	index := make(map[string]map[string]bool)
	add := func(lkn, pkg string) {
		lkn = domain.CanonicalCode(lkn)
		if index[lkn] == nil {
			index[lkn] = make(map[string]bool)
		}
		index[lkn][pkg] = true
	}

	for _, pkg := range s.store.AllPauschalen() {
		for _, row := range s.store.PauschaleConditions(pkg) {
			switch row.Typ {
			case domain.CondLKNList:
				for _, v := range row.WerteList() {
					add(v, pkg)
				}
			case domain.CondLKNTable:
				for lkn := range s.store.TableCodes(row.WerteList(), domain.TableServiceCatalog) {
					add(lkn, pkg)
				}
			}
		}
	}

	s.lknToPackages = make(map[string][]string, len(index))
	for lkn, pkgs := range index {
		list := make([]string, 0, len(pkgs))
		for pkg := range pkgs {
			list = append(list, pkg)
		}
		sort.Strings(list)
		s.lknToPackages[lkn] = list
	}

	s.logger.WithField("indexed_lkns", len(s.lknToPackages)).Info("Built package candidate index")
}

// Candidates enumerates every package referencing any of the given codes,
// via service links and the condition index. The result is sorted.
func (s *Selector) Candidates(lkns []string) []string {
	set := make(map[string]bool)
	for _, lkn := range lkns {
		code := domain.CanonicalCode(lkn)
		for _, pkg := range s.store.ServiceLinks(code) {
			set[pkg] = true
		}
		for _, pkg := range s.lknToPackages[code] {
			set[pkg] = true
		}
	}
	out := make([]string, 0, len(set))
	for pkg := range set {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}

// candidateScore carries the ranking tiers of one surviving candidate.
type candidateScore struct {
	code       string
	result     conditions.Result
	lknMatches int
	hasICDCond bool
	fallback   bool
	llmRank    int
}

// Select evaluates all candidates and picks the winner. llmRank is the
// advisory Stage-2 priority order; nil means deterministic order only.
// The second return value lists rejected candidates with their condition
// reports.
func (s *Selector) Select(candidates []string, rctx *domain.RequestContext, llmRank []string, cache *conditions.RequestCache) (*domain.Abrechnung, []domain.EvaluatedPauschale) {
	rankPos := make(map[string]int, len(llmRank))
	for i, code := range llmRank {
		rankPos[domain.CanonicalCode(code)] = i + 1
	}

	var survivors []candidateScore
	var rejected []domain.EvaluatedPauschale
	for _, code := range candidates {
		res := s.evaluator.Evaluate(code, rctx, cache)
		if !res.Applicable {
			rejected = append(rejected, domain.EvaluatedPauschale{
				Code:                res.Pauschale,
				BedingungsPruefHTML: RenderConditions(res, rctx.Lang),
			})
			continue
		}

		pos, ok := rankPos[res.Pauschale]
		if !ok {
			pos = len(llmRank) + 1
		}
		survivors = append(survivors, candidateScore{
			code:       res.Pauschale,
			result:     res,
			lknMatches: s.countLKNMatches(res, rctx, cache),
			hasICDCond: hasICDCondition(res),
			fallback:   domain.IsFallbackPauschale(res.Pauschale),
			llmRank:    pos,
		})
	}

	if len(survivors) == 0 {
		return nil, rejected
	}

	preferNoICD := !rctx.UseICD
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.lknMatches != b.lknMatches {
			return a.lknMatches > b.lknMatches
		}
		if preferNoICD && a.hasICDCond != b.hasICDCond {
			return !a.hasICDCond
		}
		if a.fallback != b.fallback {
			return !a.fallback
		}
		if a.llmRank != b.llmRank {
			return a.llmRank < b.llmRank
		}
		return a.code < b.code
	})

	winner := survivors[0]
	s.logger.WithFields(logrus.Fields{
		"pauschale":   winner.code,
		"survivors":   len(survivors),
		"lkn_matches": winner.lknMatches,
	}).Info("Selected Pauschale")

	def, _ := s.store.Pauschale(winner.code)
	details := &domain.PauschaleDetails{
		Pauschale:      winner.code,
		PauschaleText:  def.Text.Get(rctx.Lang),
		Taxpunkte:      def.Taxpunkte,
		ErklaerungHTML: RenderExplanation(s.store, winner.code, winner.result, rctx.Lang),
		PotentialICDs:  s.potentialICDs(winner.result, rctx.Lang),
	}

	return &domain.Abrechnung{
		Type:                domain.AbrechnungPauschale,
		Details:             details,
		BedingungsPruefHTML: RenderConditions(winner.result, rctx.Lang),
		ConditionsMet:       true,
	}, rejected
}

// countLKNMatches counts the distinct context codes appearing directly in
// the candidate's service-code atoms.
func (s *Selector) countLKNMatches(res conditions.Result, rctx *domain.RequestContext, cache *conditions.RequestCache) int {
	referenced := make(map[string]bool)
	for _, rr := range res.Rows {
		switch rr.Row.Typ {
		case domain.CondLKNList:
			for _, v := range rr.Row.WerteList() {
				referenced[domain.CanonicalCode(v)] = true
			}
		case domain.CondLKNTable:
			for lkn := range cache.TableCodes(s.store, rr.Row.WerteList(), domain.TableServiceCatalog) {
				referenced[lkn] = true
			}
		}
	}

	count := 0
	for _, lkn := range rctx.LKNs {
		if referenced[domain.CanonicalCode(lkn)] {
			count++
		}
	}
	return count
}

func hasICDCondition(res conditions.Result) bool {
	for _, rr := range res.Rows {
		if rr.Row.Typ == domain.CondICDList || rr.Row.Typ == domain.CondICDTable {
			return true
		}
	}
	return false
}

// potentialICDs harvests the diagnoses referenced by the winner's ICD
// table conditions, deduplicated and sorted.
func (s *Selector) potentialICDs(res conditions.Result, lang domain.Language) []domain.PotentialICD {
	seen := make(map[string]domain.PotentialICD)
	for _, rr := range res.Rows {
		if rr.Row.Typ != domain.CondICDTable {
			continue
		}
		for _, name := range rr.Row.WerteList() {
			for _, entry := range s.store.TableEntries(name, domain.TableICD) {
				if _, ok := seen[entry.Code]; !ok {
					seen[entry.Code] = domain.PotentialICD{
						Code:     entry.Code,
						CodeText: entry.CodeText.Get(lang),
					}
				}
			}
		}
	}

	out := make([]domain.PotentialICD, 0, len(seen))
	for _, icd := range seen {
		out = append(out, icd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
