package conditions

import (
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// RowResult is the outcome of one condition row, kept for the explanation
// renderer.
type RowResult struct {
	Row domain.ConditionRow `json:"row"`
	Met bool                `json:"met"`
}

// Result is the full evaluation of one package against a request context.
type Result struct {
	Pauschale  string      `json:"pauschale"`
	Applicable bool        `json:"applicable"`
	Rows       []RowResult `json:"rows"`
	Fallback   bool        `json:"fallback,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
}

// Evaluator decides package applicability from structured condition rows.
// Parsed structures are shared process-wide; table lookups go through the
// request-scoped cache. Evaluation is deterministic for a fixed context
// and catalogue.
type Evaluator struct {
	store      *catalog.Store
	strict     bool
	logger     *logrus.Logger
	structures *lru.LRU[string, *structure]
}

// NewEvaluator wires the condition evaluator. strict controls whether
// unknown condition types fail or pass.
func NewEvaluator(store *catalog.Store, strict bool, logger *logrus.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		strict:     strict,
		logger:     logger,
		structures: lru.NewLRU[string, *structure](1024, nil, time.Hour),
	}
}

// Evaluate checks one package. A package with no condition rows is
// applicable.
func (e *Evaluator) Evaluate(pauschale string, rctx *domain.RequestContext, cache *RequestCache) Result {
	code := domain.CanonicalCode(pauschale)
	rows := e.store.PauschaleConditions(code)
	result := Result{Pauschale: code, Applicable: true}
	if len(rows) == 0 {
		return result
	}

	s := e.structureFor(code, rows)

	atoms := make([]bool, len(rows))
	result.Rows = make([]RowResult, len(rows))
	for i, row := range rows {
		met, err := e.evalAtom(row, rctx, cache)
		if err != "" {
			result.Errors = append(result.Errors, err)
		}
		atoms[i] = met
		result.Rows[i] = RowResult{Row: row, Met: met}
	}

	if s.hasInfix {
		result.Applicable = evalRPN(s.rpn, atoms)
	} else {
		result.Fallback = true
		result.Applicable = evalFallback(s.groups, atoms)
	}
	return result
}

// structureFor returns the parsed structure, building it at most once per
// package. The catalogue is immutable, so the code is a sufficient key.
func (e *Evaluator) structureFor(code string, rows []domain.ConditionRow) *structure {
	if s, ok := e.structures.Get(code); ok {
		return s
	}
	s := buildStructure(rows)
	e.structures.Add(code, s)
	return s
}

// evalAtom computes one condition row's truth value. The returned string
// is a non-fatal diagnostic, empty when clean.
func (e *Evaluator) evalAtom(row domain.ConditionRow, rctx *domain.RequestContext, cache *RequestCache) (bool, string) {
	switch row.Typ {
	case domain.CondLKNList:
		return anyCodeIn(rctx.LKNs, codeSet(row.WerteList())), ""

	case domain.CondLKNTable:
		codes := cache.TableCodes(e.store, row.WerteList(), domain.TableServiceCatalog)
		return anyCodeIn(rctx.LKNs, codes), ""

	case domain.CondICDList:
		if !rctx.UseICD {
			return true, ""
		}
		return anyCodeIn(rctx.ICDs, codeSet(row.WerteList())), ""

	case domain.CondICDTable:
		if !rctx.UseICD {
			return true, ""
		}
		codes := cache.TableCodes(e.store, row.WerteList(), domain.TableICD)
		return anyCodeIn(rctx.ICDs, codes), ""

	case domain.CondMedicationList, domain.CondGTIN:
		return anyCodeIn(rctx.Medications, codeSet(row.WerteList())), ""

	case domain.CondGenderList:
		return genderMatches(rctx.Gender, row.WerteList()), ""

	case domain.CondPatient:
		return e.evalPatient(row, rctx), ""

	case domain.CondCountCheck:
		return compareCount(rctx.ProcedureCount, row), ""

	case domain.CondLaterality:
		return lateralityMatches(rctx.Laterality, row), ""
	}

	if e.strict {
		return false, "unknown condition type: " + string(row.Typ)
	}
	e.logger.WithFields(logrus.Fields{
		"pauschale": row.Pauschale,
		"typ":       row.Typ,
	}).Warn("Unknown condition type treated as satisfied")
	return true, ""
}

func (e *Evaluator) evalPatient(row domain.ConditionRow, rctx *domain.RequestContext) bool {
	switch strings.TrimSpace(row.Feld) {
	case domain.PatientFieldAge:
		if rctx.Age == nil {
			return false
		}
		age := *rctx.Age
		if row.MinWert != nil && age < *row.MinWert {
			return false
		}
		if row.MaxWert != nil && age > *row.MaxWert {
			return false
		}
		if row.MinWert == nil && row.MaxWert == nil && strings.TrimSpace(row.Werte) != "" {
			want, err := strconv.Atoi(strings.TrimSpace(row.Werte))
			return err == nil && age == want
		}
		return true

	case domain.PatientFieldGender:
		want := strings.TrimSpace(row.Werte)
		if want == "" && rctx.Gender == "" {
			return true
		}
		return strings.EqualFold(want, rctx.Gender)
	}
	return false
}

// genderMatches compares case-insensitively; when both sides are unknown
// the atom is true.
func genderMatches(gender string, values []string) bool {
	if gender == "" && len(values) == 0 {
		return true
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), gender) {
			return true
		}
	}
	return false
}

func compareCount(count *int, row domain.ConditionRow) bool {
	if count == nil {
		return false
	}
	want, err := strconv.Atoi(strings.TrimSpace(row.Werte))
	if err != nil {
		return false
	}
	switch strings.TrimSpace(row.Vergleich) {
	case "=", "":
		return *count == want
	case "<":
		return *count < want
	case "<=":
		return *count <= want
	case ">":
		return *count > want
	case ">=":
		return *count >= want
	}
	return false
}

// lateralityMatches compares laterality strings across their language
// variants; bilateral counts as a procedure count of two for numeric rows.
func lateralityMatches(laterality string, row domain.ConditionRow) bool {
	want := normalizeLaterality(row.Werte)
	have := normalizeLaterality(laterality)

	if n, err := strconv.Atoi(strings.TrimSpace(row.Werte)); err == nil {
		effective := 1
		if have == "beidseits" {
			effective = 2
		}
		switch strings.TrimSpace(row.Vergleich) {
		case ">=":
			return effective >= n
		case ">":
			return effective > n
		default:
			return effective == n
		}
	}

	return want != "" && want == have
}

var lateralitySynonyms = map[string]string{
	"links": "links", "gauche": "links", "sinistra": "links", "left": "links",
	"rechts": "rechts", "droite": "rechts", "destra": "rechts", "right": "rechts",
	"beidseits": "beidseits", "beidseitig": "beidseits", "bilateral": "beidseits",
	"bilatéral": "beidseits", "bilaterale": "beidseits", "both": "beidseits",
}

func normalizeLaterality(s string) string {
	return lateralitySynonyms[strings.ToLower(strings.TrimSpace(s))]
}

func codeSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[domain.CanonicalCode(v)] = true
	}
	return set
}

func anyCodeIn(have []string, set map[string]bool) bool {
	for _, h := range have {
		if set[domain.CanonicalCode(h)] {
			return true
		}
	}
	return false
}
