package rules

import (
	"fmt"

	"github.com/tardoc-pauschale-server/internal/domain"
)

// Rule violation messages, keyed by template. Missing translations fall
// back to the German original.
var messageTemplates = map[string]map[domain.Language]string{
	"quantity_exceeded": {
		domain.LangDE: "Maximale Menge von %d überschritten (angefragt: %d)",
		domain.LangFR: "Quantité maximale de %d dépassée (demandé: %d)",
		domain.LangIT: "Quantità massima di %d superata (richiesto: %d)",
	},
	"quantity_reduced": {
		domain.LangDE: "Menge auf das Maximum von %d reduziert",
		domain.LangFR: "Quantité réduite au maximum de %d",
		domain.LangIT: "Quantità ridotta al massimo di %d",
	},
	"supplement_only": {
		domain.LangDE: "Nur als Zuschlag zu %s abrechenbar, keine passende Basisleistung vorhanden",
		domain.LangFR: "Facturable uniquement en supplément de %s, aucune prestation de base correspondante",
		domain.LangIT: "Fatturabile solo come supplemento a %s, nessuna prestazione di base corrispondente",
	},
	"not_cumulable": {
		domain.LangDE: "Nicht kumulierbar mit %s",
		domain.LangFR: "Non cumulable avec %s",
		domain.LangIT: "Non cumulabile con %s",
	},
	"only_cumulable": {
		domain.LangDE: "Nur kumulierbar mit den zugelassenen Leistungen, %s ist nicht zugelassen",
		domain.LangFR: "Cumulable uniquement avec les prestations admises, %s n'est pas admis",
		domain.LangIT: "Cumulabile solo con le prestazioni ammesse, %s non è ammesso",
	},
	"cumulation_not_listed": {
		domain.LangDE: "Kumulation mit %s ist nicht explizit vorgesehen",
		domain.LangFR: "Le cumul avec %s n'est pas explicitement prévu",
		domain.LangIT: "Il cumulo con %s non è esplicitamente previsto",
	},
	"age_missing": {
		domain.LangDE: "Altersbedingung kann nicht geprüft werden: kein Alter im Kontext",
		domain.LangFR: "Condition d'âge non vérifiable: âge absent du contexte",
		domain.LangIT: "Condizione di età non verificabile: età assente dal contesto",
	},
	"age_failed": {
		domain.LangDE: "Altersbedingung nicht erfüllt (%s)",
		domain.LangFR: "Condition d'âge non remplie (%s)",
		domain.LangIT: "Condizione di età non soddisfatta (%s)",
	},
	"gender_missing": {
		domain.LangDE: "Geschlechtsbedingung kann nicht geprüft werden: kein Geschlecht im Kontext",
		domain.LangFR: "Condition de sexe non vérifiable: sexe absent du contexte",
		domain.LangIT: "Condizione di sesso non verificabile: sesso assente dal contesto",
	},
	"gender_failed": {
		domain.LangDE: "Geschlechtsbedingung nicht erfüllt (erwartet: %s)",
		domain.LangFR: "Condition de sexe non remplie (attendu: %s)",
		domain.LangIT: "Condizione di sesso non soddisfatta (atteso: %s)",
	},
	"medication_failed": {
		domain.LangDE: "Erforderliche Medikation (%s) nicht im Kontext",
		domain.LangFR: "Médication requise (%s) absente du contexte",
		domain.LangIT: "Farmaco richiesto (%s) assente dal contesto",
	},
	"diagnosis_failed": {
		domain.LangDE: "Diagnosepflicht nicht erfüllt, erforderlich: %s",
		domain.LangFR: "Diagnostic obligatoire manquant, requis: %s",
		domain.LangIT: "Diagnosi obbligatoria mancante, richiesto: %s",
	},
	"package_exclusion": {
		domain.LangDE: "Nicht abrechenbar neben Pauschale %s",
		domain.LangFR: "Non facturable en parallèle du forfait %s",
		domain.LangIT: "Non fatturabile in parallelo al forfait %s",
	},
	"internal_rule_error": {
		domain.LangDE: "Interner Fehler bei der Regelprüfung: %s",
		domain.LangFR: "Erreur interne lors du contrôle des règles: %s",
		domain.LangIT: "Errore interno durante il controllo delle regole: %s",
	},
}

// Message renders a localised rule message, falling back to German.
func Message(key string, lang domain.Language, args ...interface{}) string {
	byLang, ok := messageTemplates[key]
	if !ok {
		return key
	}
	tmpl, ok := byLang[lang]
	if !ok || tmpl == "" {
		tmpl = byLang[domain.LangDE]
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
