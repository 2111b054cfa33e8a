package billing

import (
	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// ErrNoBillableServices is the Error-shape message when nothing survives.
const ErrNoBillableServices = "no billable TARDOC services"

// Assemble builds the TARDOC output from the rule results: billable items
// with a positive final quantity and an individually billable type.
// Descriptions come from the catalogue in the request language.
func Assemble(results []domain.RuleCheckResult, store *catalog.Store, lang domain.Language) *domain.Abrechnung {
	var items []domain.BillingItem
	for _, res := range results {
		if !res.Billable || res.FinalMenge <= 0 || !res.Typ.IsTardoc() {
			continue
		}
		item := domain.BillingItem{
			LKN:   res.LKN,
			Menge: res.FinalMenge,
			Typ:   res.Typ,
		}
		if entry, ok := store.CodeDetails(res.LKN); ok {
			item.Beschreibung = entry.Beschreibung.Get(lang)
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return &domain.Abrechnung{
			Type:    domain.AbrechnungError,
			Message: ErrNoBillableServices,
		}
	}
	return &domain.Abrechnung{
		Type:       domain.AbrechnungTardoc,
		Leistungen: items,
	}
}
