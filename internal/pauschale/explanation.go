package pauschale

import (
	"fmt"
	"html"
	"strings"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/conditions"
	"github.com/tardoc-pauschale-server/internal/domain"
)

var statusLabels = map[domain.Language][2]string{
	domain.LangDE: {"erfüllt", "nicht erfüllt"},
	domain.LangFR: {"rempli", "non rempli"},
	domain.LangIT: {"soddisfatto", "non soddisfatto"},
}

var conditionLabels = map[domain.ConditionType]map[domain.Language]string{
	domain.CondLKNList:        {domain.LangDE: "Leistung in Liste", domain.LangFR: "Prestation dans la liste", domain.LangIT: "Prestazione nella lista"},
	domain.CondLKNTable:       {domain.LangDE: "Leistung in Tabelle", domain.LangFR: "Prestation dans la table", domain.LangIT: "Prestazione nella tabella"},
	domain.CondICDList:        {domain.LangDE: "Hauptdiagnose in Liste", domain.LangFR: "Diagnostic principal dans la liste", domain.LangIT: "Diagnosi principale nella lista"},
	domain.CondICDTable:       {domain.LangDE: "Hauptdiagnose in Tabelle", domain.LangFR: "Diagnostic principal dans la table", domain.LangIT: "Diagnosi principale nella tabella"},
	domain.CondMedicationList: {domain.LangDE: "Medikament in Liste", domain.LangFR: "Médicament dans la liste", domain.LangIT: "Farmaco nella lista"},
	domain.CondGTIN:           {domain.LangDE: "GTIN in Liste", domain.LangFR: "GTIN dans la liste", domain.LangIT: "GTIN nella lista"},
	domain.CondGenderList:     {domain.LangDE: "Geschlecht", domain.LangFR: "Sexe", domain.LangIT: "Sesso"},
	domain.CondPatient:        {domain.LangDE: "Patientenbedingung", domain.LangFR: "Condition patient", domain.LangIT: "Condizione paziente"},
	domain.CondCountCheck:     {domain.LangDE: "Anzahl", domain.LangFR: "Nombre", domain.LangIT: "Numero"},
	domain.CondLaterality:     {domain.LangDE: "Seitigkeit", domain.LangFR: "Latéralité", domain.LangIT: "Lateralità"},
}

func conditionLabel(typ domain.ConditionType, lang domain.Language) string {
	byLang, ok := conditionLabels[typ]
	if !ok {
		return string(typ)
	}
	if label, ok := byLang[lang]; ok {
		return label
	}
	return byLang[domain.LangDE]
}

// describeRow renders one condition row as label plus payload.
func describeRow(row domain.ConditionRow, lang domain.Language) string {
	label := conditionLabel(row.Typ, lang)
	payload := strings.TrimSpace(row.Werte)
	if row.Typ == domain.CondPatient {
		var parts []string
		if row.Feld != "" {
			parts = append(parts, row.Feld)
		}
		if row.MinWert != nil {
			parts = append(parts, fmt.Sprintf("min. %d", *row.MinWert))
		}
		if row.MaxWert != nil {
			parts = append(parts, fmt.Sprintf("max. %d", *row.MaxWert))
		}
		if payload != "" {
			parts = append(parts, payload)
		}
		payload = strings.Join(parts, " ")
	}
	if payload == "" {
		return label
	}
	return label + ": " + payload
}

// RenderConditions produces the per-condition check list of one evaluated
// package, one annotated <li> per row.
func RenderConditions(res conditions.Result, lang domain.Language) string {
	labels, ok := statusLabels[lang]
	if !ok {
		labels = statusLabels[domain.LangDE]
	}

	var b strings.Builder
	b.WriteString("<ul>")
	for _, rr := range res.Rows {
		status, class := labels[0], "met"
		if !rr.Met {
			status, class = labels[1], "not-met"
		}
		fmt.Fprintf(&b, `<li class="%s">%s — %s</li>`,
			class, html.EscapeString(describeRow(rr.Row, lang)), status)
	}
	b.WriteString("</ul>")
	return b.String()
}

var explanationIntro = map[domain.Language]string{
	domain.LangDE: "Bedingungen der Pauschale %s:",
	domain.LangFR: "Conditions du forfait %s:",
	domain.LangIT: "Condizioni del forfait %s:",
}

// RenderExplanation builds the winner's full rationale: the condition
// check list plus the comparison against every sibling in the same base
// code family.
func RenderExplanation(store *catalog.Store, code string, res conditions.Result, lang domain.Language) string {
	intro, ok := explanationIntro[lang]
	if !ok {
		intro = explanationIntro[domain.LangDE]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>"+intro+"</p>", html.EscapeString(code))
	b.WriteString(RenderConditions(res, lang))
	b.WriteString(RenderSiblingComparison(store, code, lang))
	return b.String()
}
