package retrieval

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

// RankedCode is one candidate service code with its retrieval score.
type RankedCode struct {
	LKN   string  `json:"lkn"`
	Score float64 `json:"score"`
}

// Context is the bounded candidate window handed to the Stage-1 prompt.
type Context struct {
	Codes  []RankedCode
	Window string
}

// VectorIndex is the optional similarity backend fused into the token
// score. Implementations wrap a pre-built embedding index.
type VectorIndex interface {
	Similar(text string, topN int) ([]RankedCode, error)
}

// Ranker scores catalogue entries against free text with token-frequency
// weighting and optional vector fusion. The inverted index over the
// multilingual descriptions is built once at construction; ranked contexts
// are memoised process-wide in an expirable LRU.
type Ranker struct {
	store        *catalog.Store
	logger       *logrus.Logger
	topN         int
	vectorWeight float64
	vector       VectorIndex

	docs    map[string]string // lkn -> lower-cased multilingual text
	docFreq map[string]int
	cache   *lru.LRU[string, []RankedCode]
}

var tokenPattern = regexp.MustCompile(`[a-zA-ZäöüéèêàâçìòùÄÖÜ]+`)

// NewRanker builds the retrieval index over the full catalogue.
func NewRanker(store *catalog.Store, topN int, vectorWeight float64, vector VectorIndex, logger *logrus.Logger) *Ranker {
	if topN <= 0 {
		topN = 200
	}
	r := &Ranker{
		store:        store,
		logger:       logger,
		topN:         topN,
		vectorWeight: vectorWeight,
		vector:       vector,
		docs:         make(map[string]string),
		docFreq:      make(map[string]int),
		cache:        lru.NewLRU[string, []RankedCode](512, nil, 30*time.Minute),
	}

	for lkn, e := range store.Entries() {
		text := strings.ToLower(strings.Join([]string{
			e.Beschreibung.DE, e.Beschreibung.FR, e.Beschreibung.IT,
			e.Interpretation.DE,
		}, " "))
		r.docs[lkn] = text

		seen := make(map[string]bool)
		for _, tok := range tokenize(text) {
			if !seen[tok] {
				seen[tok] = true
				r.docFreq[tok]++
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"documents": len(r.docs),
		"terms":     len(r.docFreq),
	}).Info("Built retrieval index")
	return r
}

// Keywords extracts the scoring terms from free text: compound expansion,
// tokens of at least four characters, stopwords removed.
func Keywords(text string) []string {
	expanded := ExpandCompounds(strings.ToLower(text))
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenize(expanded) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// tokenize lower-cases and splits text into index terms.
func tokenize(text string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(tok)) < 4 || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// ExpandCompounds appends split variants for German laterality and position
// prefixes: "oberbauch" gains "bauch". Excluded bases stay untouched.
func ExpandCompounds(text string) string {
	words := strings.Fields(text)
	var extra []string
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, ".,;:!?()"))
		if compoundExclusions[lw] {
			continue
		}
		for _, prefix := range compoundPrefixes {
			if strings.HasPrefix(lw, prefix) && len(lw) > len(prefix)+2 {
				extra = append(extra, lw[len(prefix):])
				break
			}
		}
	}
	if len(extra) == 0 {
		return text
	}
	return text + " " + strings.Join(extra, " ")
}

// Rank scores every catalogue entry against the text and returns the top-N
// candidates. Literal catalogue codes in the raw text are forced into the
// result regardless of score.
func (r *Ranker) Rank(text string, lang domain.Language) []RankedCode {
	cacheKey := string(lang) + "|" + text
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached
	}

	keywords := Keywords(text)
	scores := make(map[string]float64)
	for _, kw := range keywords {
		df := r.docFreq[kw]
		if df == 0 {
			continue
		}
		weight := 1.0 / float64(df)
		for lkn, doc := range r.docs {
			if n := strings.Count(doc, kw); n > 0 {
				scores[lkn] += float64(n) * weight
			}
		}
	}

	if r.vector != nil && r.vectorWeight > 0 {
		if sim, err := r.vector.Similar(text, r.topN); err != nil {
			r.logger.WithError(err).Warn("Vector similarity lookup failed, using token scores only")
		} else {
			for _, s := range sim {
				scores[s.LKN] = (1-r.vectorWeight)*scores[s.LKN] + r.vectorWeight*s.Score
			}
		}
	}

	ranked := make([]RankedCode, 0, len(scores))
	for lkn, score := range scores {
		ranked = append(ranked, RankedCode{LKN: lkn, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].LKN < ranked[j].LKN
	})
	if len(ranked) > r.topN {
		ranked = ranked[:r.topN]
	}

	// Force literal codes mentioned in the text into the window.
	for _, code := range domain.ExtractLKNs(text) {
		if _, ok := r.store.CodeDetails(code); !ok {
			continue
		}
		found := false
		for _, rc := range ranked {
			if rc.LKN == code {
				found = true
				break
			}
		}
		if !found {
			ranked = append(ranked, RankedCode{LKN: code, Score: 0})
		}
	}

	r.cache.Add(cacheKey, ranked)
	return ranked
}

// BuildContext ranks the text and renders the candidate window for the
// Stage-1 prompt, one "LKN: description" line per candidate.
func (r *Ranker) BuildContext(text string, lang domain.Language) Context {
	ranked := r.Rank(text, lang)

	var b strings.Builder
	for _, rc := range ranked {
		e, ok := r.store.CodeDetails(rc.LKN)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", e.LKN, e.Typ, e.Beschreibung.Get(lang))
	}

	r.logger.WithFields(logrus.Fields{
		"candidates": len(ranked),
		"lang":       lang,
	}).Debug("Built retrieval context window")

	return Context{Codes: ranked, Window: b.String()}
}
