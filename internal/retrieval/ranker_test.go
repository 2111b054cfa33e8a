package retrieval

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

func testRanker(t *testing.T) *Ranker {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := catalog.NewStore(catalog.Data{
		Entries: []domain.CatalogEntry{
			{LKN: "C03.GC.0200", Typ: domain.TypeP, Beschreibung: domain.Translated{DE: "Bronchoskopie mit Lavage", FR: "Bronchoscopie avec lavage"}},
			{LKN: "CA.00.0010", Typ: domain.TypeE, Beschreibung: domain.Translated{DE: "Hausärztliche Konsultation, erste 5 Min."}},
			{LKN: "C08.EC.0130", Typ: domain.TypeP, Beschreibung: domain.Translated{DE: "Kiefergelenk, geschlossene Reposition"}},
		},
	}, logger)
	return NewRanker(store, 200, 0, nil, logger)
}

func TestKeywords(t *testing.T) {
	kws := Keywords("Bronchoskopie mit Lavage und links")
	assert.Contains(t, kws, "bronchoskopie")
	assert.Contains(t, kws, "lavage")
	// Stopwords and laterality terms removed, short tokens dropped.
	assert.NotContains(t, kws, "mit")
	assert.NotContains(t, kws, "und")
	assert.NotContains(t, kws, "links")
}

func TestExpandCompounds(t *testing.T) {
	out := ExpandCompounds("oberbauch schmerzen")
	assert.Contains(t, out, "bauch")

	// Excluded bases are never split.
	out = ExpandCompounds("untersuchung unterwegs")
	assert.NotContains(t, out, "suchung")
	assert.NotContains(t, out, "wegs")

	out = ExpandCompounds("linksseitig")
	assert.Contains(t, out, "seitig")
}

func TestRankFindsBronchoscopy(t *testing.T) {
	r := testRanker(t)

	ranked := r.Rank("Bronchoskopie mit Lavage", domain.LangDE)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "C03.GC.0200", ranked[0].LKN)
}

func TestRankForcesLiteralCodes(t *testing.T) {
	r := testRanker(t)

	// The text has no token overlap with the reposition entry, but carries
	// its literal code.
	ranked := r.Rank("Abklärung c08.ec.0130", domain.LangDE)
	found := false
	for _, rc := range ranked {
		if rc.LKN == "C08.EC.0130" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRankDeterministic(t *testing.T) {
	r := testRanker(t)

	first := r.Rank("Konsultation Bronchoskopie", domain.LangDE)
	for i := 0; i < 5; i++ {
		again := r.Rank("Konsultation Bronchoskopie", domain.LangDE)
		assert.Equal(t, first, again)
	}
}

func TestBuildContextWindow(t *testing.T) {
	r := testRanker(t)

	ctx := r.BuildContext("Bronchoskopie", domain.LangFR)
	assert.Contains(t, ctx.Window, "C03.GC.0200")
	assert.Contains(t, ctx.Window, "Bronchoscopie avec lavage")
}
