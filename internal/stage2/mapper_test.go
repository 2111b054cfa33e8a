package stage2

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
	"github.com/tardoc-pauschale-server/internal/llm"
)

type fakeChat struct {
	content      string
	calls        int
	lastMessages []llm.Message
}

func (f *fakeChat) Chat(ctx context.Context, provider, model string, messages []llm.Message, opts llm.Options) (*llm.ChatResult, error) {
	f.calls++
	f.lastMessages = messages
	return &llm.ChatResult{Content: f.content, Usage: domain.TokenUsage{TotalTokens: 50}}, nil
}

func testMapper(t *testing.T, fake *fakeChat) *Mapper {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := catalog.NewStore(catalog.Data{
		Entries: []domain.CatalogEntry{
			{LKN: "AG.15.0010", Typ: domain.TypeE, Beschreibung: domain.Translated{DE: "Anästhesie Grundleistung"}},
			{LKN: "WA.10.0010", Typ: domain.TypePZ, Beschreibung: domain.Translated{DE: "Anästhesie, pro 10 Min."}},
			{LKN: "C03.GC.0200", Typ: domain.TypePZ, Beschreibung: domain.Translated{DE: "Bronchoskopie"}},
		},
		Tables: []domain.TableEntry{
			{Table: "ANAST", TableType: domain.TableServiceCatalog, Code: "WA.10.0020"},
		},
		Pauschalen: []domain.Pauschale{
			{Code: "C08.50E", Text: domain.Translated{DE: "Kiefergelenk-Reposition"}},
			{Code: "C03.10A", Text: domain.Translated{DE: "Bronchoskopie-Pauschale"}},
		},
		Conditions: []domain.ConditionRow{
			{Pauschale: "C08.50E", Gruppe: 1, Typ: domain.CondLKNList, Werte: "C08.EC.0130, WA.10.0010"},
			{Pauschale: "C03.10A", Gruppe: 1, Typ: domain.CondLKNTable, Werte: "ANAST"},
		},
	}, logger)

	return NewMapper(fake, store, config.StageLLM{Provider: "fake", Model: "m"}, logger)
}

func TestCandidateConditionLKNs(t *testing.T) {
	m := testMapper(t, &fakeChat{})
	got := CandidateConditionLKNs(m.store, []string{"C08.50E", "C03.10A"})
	assert.True(t, got["C08.EC.0130"])
	assert.True(t, got["WA.10.0010"])
	// Table reference expanded.
	assert.True(t, got["WA.10.0020"])
	assert.False(t, got["C03.GC.0200"])
}

func TestMapEquivalentFiltersToCandidates(t *testing.T) {
	fake := &fakeChat{content: "XX.99.9999, WA.10.0010"}
	m := testMapper(t, fake)

	code, usage, err := m.MapEquivalent(context.Background(),
		domain.IdentifiedLeistung{LKN: "AG.15.0010", Beschreibung: "Anästhesie"},
		map[string]bool{"WA.10.0010": true, "C08.EC.0130": true}, domain.LangDE)
	require.NoError(t, err)
	assert.Equal(t, "WA.10.0010", code)
	assert.Equal(t, 50, usage.TotalTokens)
}

func TestMapEquivalentAnaesthesiaNarrowing(t *testing.T) {
	fake := &fakeChat{content: "C08.EC.0130, WA.10.0010"}
	m := testMapper(t, fake)

	// C08.EC.0130 is in the candidate set but outside the anaesthesia
	// family, so the narrowed set only accepts WA.10.0010.
	code, _, err := m.MapEquivalent(context.Background(),
		domain.IdentifiedLeistung{LKN: "AG.15.0010"},
		map[string]bool{"WA.10.0010": true, "C08.EC.0130": true}, domain.LangDE)
	require.NoError(t, err)
	assert.Equal(t, "WA.10.0010", code)
	assert.NotContains(t, fake.lastMessages[1].Content, "C08.EC.0130")
}

func TestMapEquivalentNoCandidates(t *testing.T) {
	fake := &fakeChat{}
	m := testMapper(t, fake)

	code, _, err := m.MapEquivalent(context.Background(),
		domain.IdentifiedLeistung{LKN: "CA.00.0010"}, map[string]bool{}, domain.LangDE)
	require.NoError(t, err)
	assert.Empty(t, code)
	assert.Zero(t, fake.calls)
}

func TestRankPackages(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"Comma list", "C08.50E, C03.10A", []string{"C08.50E", "C03.10A"}},
		{"JSON array", `["C03.10A","C08.50E"]`, []string{"C03.10A", "C08.50E"}},
		{"Unknown codes dropped", "C99.99Z, C08.50E", []string{"C08.50E"}},
		{"NONE means deterministic order", "NONE", nil},
		{"Fenced NONE", "```\nNONE\n```", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMapper(t, &fakeChat{content: tt.reply})
			got, _, err := m.RankPackages(context.Background(), "Reposition", []string{"C08.50E", "C03.10A"}, domain.LangDE)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRankPackagesSkipsSingleton(t *testing.T) {
	fake := &fakeChat{content: "C08.50E"}
	m := testMapper(t, fake)

	got, _, err := m.RankPackages(context.Background(), "Reposition", []string{"C08.50E"}, domain.LangDE)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, fake.calls)
}

func TestParseCodeList(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{"Bare comma list", "wa.10.0010, C08.EC.0130", []string{"WA.10.0010", "C08.EC.0130"}},
		{"JSON array", `["WA.10.0010"]`, []string{"WA.10.0010"}},
		{"Wrapper object", `{"EQUIVALENT_LKNS":["WA.10.0010","C08.EC.0130"]}`, []string{"WA.10.0010", "C08.EC.0130"}},
		{"Fenced array", "```json\n[\"WA.10.0010\"]\n```", []string{"WA.10.0010"}},
		{"NONE", "NONE", nil},
		{"Prose without codes", "keine passende Leistung", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCodeList(tt.reply))
		})
	}
}
