package pauschale

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

var compareLabels = map[domain.Language][3]string{
	domain.LangDE: {"Unterschied zu %s:", "zusätzlich verlangt: %s", "nicht verlangt: %s"},
	domain.LangFR: {"Différence avec %s:", "exigé en plus: %s", "non exigé: %s"},
	domain.LangIT: {"Differenza rispetto a %s:", "richiesto in più: %s", "non richiesto: %s"},
}

// conditionTuple is the simplified representation used for the sibling
// diff: a row reduced to its type, field and payload.
func conditionTuple(row domain.ConditionRow) string {
	parts := []string{string(row.Typ)}
	if row.Feld != "" {
		parts = append(parts, row.Feld)
	}
	if v := strings.TrimSpace(row.Werte); v != "" {
		parts = append(parts, strings.ToUpper(v))
	}
	if row.MinWert != nil {
		parts = append(parts, fmt.Sprintf("min=%d", *row.MinWert))
	}
	if row.MaxWert != nil {
		parts = append(parts, fmt.Sprintf("max=%d", *row.MaxWert))
	}
	return strings.Join(parts, "|")
}

func conditionTuples(store *catalog.Store, code string) map[string]bool {
	out := make(map[string]bool)
	for _, row := range store.PauschaleConditions(code) {
		out[conditionTuple(row)] = true
	}
	return out
}

// Siblings returns the other packages in the winner's base code family,
// sorted ascending.
func Siblings(store *catalog.Store, code string) []string {
	family := domain.PauschaleFamily(code)
	if family == "" {
		return nil
	}
	var out []string
	for _, other := range store.AllPauschalen() {
		if other != code && domain.PauschaleFamily(other) == family {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// RenderSiblingComparison diffs the winner against each sibling package,
// emitting added and missing condition bullets per sibling.
func RenderSiblingComparison(store *catalog.Store, code string, lang domain.Language) string {
	siblings := Siblings(store, code)
	if len(siblings) == 0 {
		return ""
	}

	labels, ok := compareLabels[lang]
	if !ok {
		labels = compareLabels[domain.LangDE]
	}
	winnerTuples := conditionTuples(store, code)

	var b strings.Builder
	for _, sibling := range siblings {
		siblingTuples := conditionTuples(store, sibling)

		var added, missing []string
		for t := range siblingTuples {
			if !winnerTuples[t] {
				added = append(added, t)
			}
		}
		for t := range winnerTuples {
			if !siblingTuples[t] {
				missing = append(missing, t)
			}
		}
		sort.Strings(added)
		sort.Strings(missing)
		if len(added) == 0 && len(missing) == 0 {
			continue
		}

		fmt.Fprintf(&b, "<p>"+labels[0]+"</p><ul>", html.EscapeString(sibling))
		for _, t := range added {
			fmt.Fprintf(&b, "<li>"+labels[1]+"</li>", html.EscapeString(t))
		}
		for _, t := range missing {
			fmt.Fprintf(&b, "<li>"+labels[2]+"</li>", html.EscapeString(t))
		}
		b.WriteString("</ul>")
	}
	return b.String()
}
