package conditions

import (
	"sort"
	"strings"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// RequestCache memoises table-content lookups for the duration of one
// request. It is not safe for concurrent use; each request owns its own.
type RequestCache struct {
	tables map[string]map[string]bool
}

// NewRequestCache creates an empty per-request cache.
func NewRequestCache() *RequestCache {
	return &RequestCache{tables: make(map[string]map[string]bool)}
}

// TableCodes returns the code set of the named tables, memoised per
// (table-name-tuple, type).
func (c *RequestCache) TableCodes(store *catalog.Store, names []string, typ domain.TableType) map[string]bool {
	normalized := make([]string, 0, len(names))
	for _, n := range names {
		normalized = append(normalized, domain.NormalizeTableName(n))
	}
	sort.Strings(normalized)
	key := strings.Join(normalized, "|") + "#" + string(typ)

	if codes, ok := c.tables[key]; ok {
		return codes
	}
	codes := store.TableCodes(names, typ)
	c.tables[key] = codes
	return codes
}
