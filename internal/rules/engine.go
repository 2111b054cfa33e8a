package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// Fact is the per-item record the rule handlers evaluate. Codes are
// canonical upper-case.
type Fact struct {
	LKN            string
	Typ            domain.ItemType
	Menge          int
	Companions     []string
	CompanionTypes map[string]domain.ItemType
	Age            *int
	Gender         string
	Medications    []string
	ICDs           []string
	ActivePackages []string
	Lang           domain.Language
}

// violation carries one failed rule check. quantity violations are the sole
// recoverable kind.
type violation struct {
	message  string
	quantity bool
	cap      int
}

// Engine applies the per-code rule book. Violations are collected, never
// thrown; an item with only quantity violations is recovered by reducing
// the quantity to the smallest cap.
type Engine struct {
	store              *catalog.Store
	kumulationExplizit bool
	logger             *logrus.Logger
}

// NewEngine wires the rule engine. kumulationExplizit switches positive
// cumulation lists from advisory to restrictive.
func NewEngine(store *catalog.Store, kumulationExplizit bool, logger *logrus.Logger) *Engine {
	return &Engine{store: store, kumulationExplizit: kumulationExplizit, logger: logger}
}

// CheckAll evaluates every identified item against its rules. Companions of
// one item are all other identified items.
func (e *Engine) CheckAll(items []domain.IdentifiedLeistung, rctx *domain.RequestContext) []domain.RuleCheckResult {
	types := make(map[string]domain.ItemType, len(items))
	for _, it := range items {
		types[domain.CanonicalCode(it.LKN)] = it.Typ
	}

	results := make([]domain.RuleCheckResult, 0, len(items))
	for _, it := range items {
		code := domain.CanonicalCode(it.LKN)
		companions := make([]string, 0, len(items)-1)
		for _, other := range items {
			if oc := domain.CanonicalCode(other.LKN); oc != code {
				companions = append(companions, oc)
			}
		}

		fact := Fact{
			LKN:            code,
			Typ:            it.Typ,
			Menge:          it.Menge,
			Companions:     companions,
			CompanionTypes: types,
			Age:            rctx.Age,
			Gender:         strings.ToLower(strings.TrimSpace(rctx.Gender)),
			Medications:    upperAll(rctx.Medications),
			ICDs:           upperAll(rctx.ICDs),
			Lang:           rctx.Lang,
		}
		results = append(results, e.Check(fact))
	}
	return results
}

// Check evaluates one fact record. Running it twice on the same fact yields
// the same result.
func (e *Engine) Check(fact Fact) domain.RuleCheckResult {
	result := domain.RuleCheckResult{
		LKN:          fact.LKN,
		Typ:          fact.Typ,
		InitialMenge: fact.Menge,
		FinalMenge:   fact.Menge,
		Billable:     true,
	}

	var violations []violation
	var hints []domain.CumulationEntry
	hasHints := false

	for _, rule := range e.store.Rules(fact.LKN) {
		vs, hs, ok := e.applyRule(fact, rule)
		violations = append(violations, vs...)
		if ok {
			hints = append(hints, hs...)
			hasHints = hasHints || len(hs) > 0 || rule.Typ == domain.RuleCumulable || rule.Typ == domain.RulePossibleAdditions
		}
	}

	// Positive lists are advisory by default and restrictive only under
	// the explicit-cumulation flag.
	if e.kumulationExplizit && hasHints {
		for _, comp := range fact.Companions {
			if !matchesAnyEntry(e.store, hints, comp) {
				violations = append(violations, violation{
					message: Message("cumulation_not_listed", fact.Lang, comp),
				})
			}
		}
	}

	if len(violations) == 0 {
		return result
	}

	quantityOnly := true
	smallestCap := fact.Menge
	for _, v := range violations {
		if !v.quantity {
			quantityOnly = false
			continue
		}
		if v.cap < smallestCap {
			smallestCap = v.cap
		}
	}

	if quantityOnly && smallestCap > 0 {
		result.FinalMenge = smallestCap
		result.QuantityReduced = true
		result.Billable = true
		result.Errors = []string{Message("quantity_reduced", fact.Lang, smallestCap)}
		return result
	}

	result.Billable = false
	result.FinalMenge = 0
	for _, v := range violations {
		result.Errors = append(result.Errors, v.message)
	}
	return result
}

// applyRule dispatches one rule. A handler panic marks the item
// not-billable with the message surfaced instead of failing the request.
func (e *Engine) applyRule(fact Fact, rule domain.Rule) (vs []violation, hints []domain.CumulationEntry, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"lkn":  fact.LKN,
				"rule": rule.Typ,
			}).Error("Rule handler panicked")
			vs = []violation{{message: Message("internal_rule_error", fact.Lang, fmt.Sprint(r))}}
			hints, ok = nil, false
		}
	}()

	switch rule.Typ {
	case domain.RuleQuantity:
		if fact.Menge > rule.MaxMenge {
			vs = append(vs, violation{
				message:  Message("quantity_exceeded", fact.Lang, rule.MaxMenge, fact.Menge),
				quantity: true,
				cap:      rule.MaxMenge,
			})
		}

	case domain.RuleSupplementOnly:
		if !anyCompanionIn(fact.Companions, rule.Codes) {
			vs = append(vs, violation{
				message: Message("supplement_only", fact.Lang, strings.Join(rule.Codes, ", ")),
			})
		}

	case domain.RuleNotCumulable:
		forbidden := codeSet(rule.Codes)
		for _, comp := range fact.Companions {
			if forbidden[comp] && typeMatches(fact.CompanionTypes[comp], rule.TypFilter) {
				vs = append(vs, violation{message: Message("not_cumulable", fact.Lang, comp)})
			}
		}

	case domain.RuleOnlyCumulable:
		for _, comp := range fact.Companions {
			if !matchesAnyEntry(e.store, rule.Entries, comp) {
				vs = append(vs, violation{message: Message("only_cumulable", fact.Lang, comp)})
			}
		}

	case domain.RuleCumulable, domain.RulePossibleAdditions:
		hints = append(hints, rule.Entries...)

	case domain.RulePatient:
		vs = e.checkPatient(fact, rule)

	case domain.RuleDiagnosis:
		if !anyCompanionIn(fact.ICDs, rule.Codes) {
			vs = append(vs, violation{
				message: Message("diagnosis_failed", fact.Lang, strings.Join(rule.Codes, ", ")),
			})
		}

	case domain.RulePauschaleExclusion:
		forbidden := codeSet(rule.Codes)
		for _, p := range fact.ActivePackages {
			if forbidden[domain.CanonicalCode(p)] {
				vs = append(vs, violation{message: Message("package_exclusion", fact.Lang, p)})
			}
		}

	default:
		e.logger.WithFields(logrus.Fields{
			"lkn":  fact.LKN,
			"rule": rule.Typ,
		}).Warn("Unknown rule type treated as satisfied")
	}

	return vs, hints, true
}

func (e *Engine) checkPatient(fact Fact, rule domain.Rule) []violation {
	switch rule.Feld {
	case domain.PatientFieldAge:
		if fact.Age == nil {
			return []violation{{message: Message("age_missing", fact.Lang)}}
		}
		if !compareAge(*fact.Age, rule) {
			return []violation{{message: Message("age_failed", fact.Lang, describeAgeRule(rule))}}
		}

	case domain.PatientFieldGender:
		if fact.Gender == "" {
			return []violation{{message: Message("gender_missing", fact.Lang)}}
		}
		if !strings.EqualFold(fact.Gender, rule.Wert) {
			return []violation{{message: Message("gender_failed", fact.Lang, rule.Wert)}}
		}

	case domain.PatientFieldATC:
		required := upperAll(rule.Codes)
		if !anyCompanionIn(fact.Medications, required) {
			return []violation{{message: Message("medication_failed", fact.Lang, strings.Join(required, ", "))}}
		}
	}
	return nil
}

// compareAge checks the rule's comparator against the context age. A range
// uses Min/Max inclusively; missing bounds are open.
func compareAge(age int, rule domain.Rule) bool {
	switch rule.Vergleich {
	case "range", "":
		if rule.MinWert != nil && age < *rule.MinWert {
			return false
		}
		if rule.MaxWert != nil && age > *rule.MaxWert {
			return false
		}
		if rule.MinWert == nil && rule.MaxWert == nil && rule.Wert != "" {
			want, err := strconv.Atoi(strings.TrimSpace(rule.Wert))
			return err == nil && age == want
		}
		return true
	}

	want, err := strconv.Atoi(strings.TrimSpace(rule.Wert))
	if err != nil {
		return false
	}
	switch rule.Vergleich {
	case "=":
		return age == want
	case "<":
		return age < want
	case "<=":
		return age <= want
	case ">":
		return age > want
	case ">=":
		return age >= want
	}
	return false
}

func describeAgeRule(rule domain.Rule) string {
	if rule.Vergleich != "" && rule.Vergleich != "range" {
		return fmt.Sprintf("Alter %s %s", rule.Vergleich, strings.TrimSpace(rule.Wert))
	}
	var parts []string
	if rule.MinWert != nil {
		parts = append(parts, fmt.Sprintf("min. %d", *rule.MinWert))
	}
	if rule.MaxWert != nil {
		parts = append(parts, fmt.Sprintf("max. %d", *rule.MaxWert))
	}
	if len(parts) == 0 {
		return "Alter = " + strings.TrimSpace(rule.Wert)
	}
	return "Alter " + strings.Join(parts, ", ")
}

// matchesAnyEntry checks a companion against one positive cumulation list.
func matchesAnyEntry(store *catalog.Store, entries []domain.CumulationEntry, companion string) bool {
	companion = domain.CanonicalCode(companion)
	for _, entry := range entries {
		switch entry.Kind {
		case domain.CumulationLiteral:
			if domain.CanonicalCode(entry.Value) == companion {
				return true
			}
		case domain.CumulationChapter:
			if strings.HasPrefix(companion, domain.CanonicalCode(entry.Value)) {
				return true
			}
		case domain.CumulationGroup:
			if store.InLeistungsgruppe(entry.Value, companion) {
				return true
			}
		}
	}
	return false
}

func typeMatches(typ domain.ItemType, filter []domain.ItemType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == typ {
			return true
		}
	}
	return false
}

func codeSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[domain.CanonicalCode(c)] = true
	}
	return set
}

func anyCompanionIn(have, required []string) bool {
	set := codeSet(required)
	for _, h := range have {
		if set[domain.CanonicalCode(h)] {
			return true
		}
	}
	return false
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
