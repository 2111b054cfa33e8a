package catalog

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/domain"
)

// Store holds the immutable, startup-loaded catalogues: Leistungskatalog,
// tariff tables, package definitions and conditions, package-service links,
// the rule book and Leistungsgruppen. All reads are O(1) or
// O(entries-in-table); nothing mutates after construction.
type Store struct {
	entries      map[string]domain.CatalogEntry
	rules        map[string][]domain.Rule
	tables       map[string][]domain.TableEntry
	pauschalen   map[string]domain.Pauschale
	conditions   map[string][]domain.ConditionRow
	serviceLinks map[string][]string
	gruppen      map[string][]string
	logger       *logrus.Logger
}

// Data bundles the raw catalogue slices the loader produces.
type Data struct {
	Entries      []domain.CatalogEntry
	Rules        map[string][]domain.Rule
	Tables       []domain.TableEntry
	Pauschalen   []domain.Pauschale
	Conditions   []domain.ConditionRow
	ServiceLinks map[string][]string
	Gruppen      map[string][]string
}

// NewStore indexes the loaded catalogue data.
func NewStore(data Data, logger *logrus.Logger) *Store {
	s := &Store{
		entries:      make(map[string]domain.CatalogEntry, len(data.Entries)),
		rules:        make(map[string][]domain.Rule, len(data.Rules)),
		tables:       make(map[string][]domain.TableEntry),
		pauschalen:   make(map[string]domain.Pauschale, len(data.Pauschalen)),
		conditions:   make(map[string][]domain.ConditionRow),
		serviceLinks: make(map[string][]string, len(data.ServiceLinks)),
		gruppen:      make(map[string][]string, len(data.Gruppen)),
		logger:       logger,
	}

	for _, e := range data.Entries {
		e.LKN = domain.CanonicalCode(e.LKN)
		s.entries[e.LKN] = e
	}
	for lkn, rules := range data.Rules {
		s.rules[domain.CanonicalCode(lkn)] = rules
	}
	for _, t := range data.Tables {
		t.Code = domain.CanonicalCode(t.Code)
		name := domain.NormalizeTableName(t.Table)
		s.tables[name] = append(s.tables[name], t)
	}
	for _, p := range data.Pauschalen {
		p.Code = domain.CanonicalCode(p.Code)
		s.pauschalen[p.Code] = p
	}
	for _, c := range data.Conditions {
		c.Pauschale = domain.CanonicalCode(c.Pauschale)
		s.conditions[c.Pauschale] = append(s.conditions[c.Pauschale], c)
	}
	for lkn, codes := range data.ServiceLinks {
		s.serviceLinks[domain.CanonicalCode(lkn)] = domain.CanonicalCodes(codes)
	}
	for id, members := range data.Gruppen {
		s.gruppen[strings.ToUpper(strings.TrimSpace(id))] = domain.CanonicalCodes(members)
	}

	logger.WithFields(logrus.Fields{
		"catalog_entries": len(s.entries),
		"rule_sets":       len(s.rules),
		"tables":          len(s.tables),
		"pauschalen":      len(s.pauschalen),
	}).Info("Indexed tariff catalogues")
	return s
}

// CodeDetails returns the catalogue entry for a service code.
func (s *Store) CodeDetails(lkn string) (domain.CatalogEntry, bool) {
	e, ok := s.entries[domain.CanonicalCode(lkn)]
	return e, ok
}

// Rules returns the ordered rule records for a service code.
func (s *Store) Rules(lkn string) []domain.Rule {
	return s.rules[domain.CanonicalCode(lkn)]
}

// TableEntries returns the entries of the named table filtered by type.
// Table name comparison is case-insensitive; the type filter tolerates the
// documented synonyms. An empty tableType matches every entry.
func (s *Store) TableEntries(name string, tableType domain.TableType) []domain.TableEntry {
	rows := s.tables[domain.NormalizeTableName(name)]
	if tableType == "" {
		return rows
	}
	var out []domain.TableEntry
	for _, r := range rows {
		if r.TableType == tableType {
			out = append(out, r)
		}
	}
	return out
}

// TableCodes returns the canonical code set of the named tables under the
// given type filter.
func (s *Store) TableCodes(names []string, tableType domain.TableType) map[string]bool {
	codes := make(map[string]bool)
	for _, name := range names {
		for _, e := range s.TableEntries(name, tableType) {
			codes[e.Code] = true
		}
	}
	return codes
}

// Pauschale returns a package definition.
func (s *Store) Pauschale(code string) (domain.Pauschale, bool) {
	p, ok := s.pauschalen[domain.CanonicalCode(code)]
	return p, ok
}

// PauschaleConditions returns the ordered condition rows of a package.
func (s *Store) PauschaleConditions(code string) []domain.ConditionRow {
	return s.conditions[domain.CanonicalCode(code)]
}

// AllPauschalen returns every package code in ascending order.
func (s *Store) AllPauschalen() []string {
	codes := make([]string, 0, len(s.pauschalen))
	for c := range s.pauschalen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ServiceLinks returns the package codes linked to a service code.
func (s *Store) ServiceLinks(lkn string) []string {
	return s.serviceLinks[domain.CanonicalCode(lkn)]
}

// LeistungsgruppeMembers returns the member codes of a named group.
func (s *Store) LeistungsgruppeMembers(id string) []string {
	return s.gruppen[strings.ToUpper(strings.TrimSpace(id))]
}

// InLeistungsgruppe reports group membership of a service code.
func (s *Store) InLeistungsgruppe(id, lkn string) bool {
	lkn = domain.CanonicalCode(lkn)
	for _, m := range s.LeistungsgruppeMembers(id) {
		if m == lkn {
			return true
		}
	}
	return false
}

// SearchEntry is one hit of a catalogue search.
type SearchEntry struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// SearchTables does a case-insensitive substring search over code and
// localized text of every table of the given type. Used by the UI lookup
// endpoints.
func (s *Store) SearchTables(tableType domain.TableType, query string, lang domain.Language, limit int) []SearchEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || limit <= 0 {
		return nil
	}
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	var out []SearchEntry
	for _, name := range names {
		for _, r := range s.tables[name] {
			if r.TableType != tableType || seen[r.Code] {
				continue
			}
			text := r.CodeText.Get(lang)
			if strings.Contains(strings.ToLower(r.Code), query) ||
				strings.Contains(strings.ToLower(text), query) {
				seen[r.Code] = true
				out = append(out, SearchEntry{Code: r.Code, Text: text})
				if len(out) >= limit {
					sortSearch(out)
					return out
				}
			}
		}
	}
	sortSearch(out)
	return out
}

func sortSearch(entries []SearchEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
}

// Entries exposes the full catalogue for the retrieval ranker's index
// construction.
func (s *Store) Entries() map[string]domain.CatalogEntry {
	return s.entries
}
