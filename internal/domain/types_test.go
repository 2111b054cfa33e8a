package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Lower case", "ca.00.0010", "CA.00.0010"},
		{"Mixed case", "c08.Ec.0130", "C08.EC.0130"},
		{"Whitespace", "  AA.00.0020 ", "AA.00.0020"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalCode(tt.input))
		})
	}
}

func TestExtractLKNs(t *testing.T) {
	text := "Konsultation ca.00.0010 und nochmals CA.00.0010, dazu C08.EC.0130."
	got := ExtractLKNs(text)
	assert.Equal(t, []string{"CA.00.0010", "C08.EC.0130"}, got)
}

func TestIsValidLKN(t *testing.T) {
	assert.True(t, IsValidLKN("CA.00.0010"))
	assert.True(t, IsValidLKN("wa.10.0010"))
	assert.True(t, IsValidLKN("C08.EC.0130"))
	assert.False(t, IsValidLKN("CA.00"))
	assert.False(t, IsValidLKN("1A.00.0010"))
	assert.False(t, IsValidLKN("CA-00-0010"))
}

func TestPauschaleFamily(t *testing.T) {
	assert.Equal(t, "C08.50", PauschaleFamily("C08.50E"))
	assert.Equal(t, "C08.43", PauschaleFamily("c08.43a"))
	// No trailing variant letter: code is its own family.
	assert.Equal(t, "C08.50", PauschaleFamily("C08.50"))
}

func TestIsFallbackPauschale(t *testing.T) {
	assert.True(t, IsFallbackPauschale("C90.01A"))
	assert.False(t, IsFallbackPauschale("C08.50E"))
}

func TestNormalizeTableType(t *testing.T) {
	tests := []struct {
		raw  string
		want TableType
	}{
		{"Tarif", TableTariff},
		{"tariff", TableTariff},
		{"402", TableTariff},
		{"ServiceCatalog", TableServiceCatalog},
		{"service_katalog", TableServiceCatalog},
		{"Service-Catalog", TableServiceCatalog},
		{"ICD", TableICD},
		{"icd-10", TableICD},
		{"medikamente", TableMedication},
		{"somethingelse", TableType("somethingelse")},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTableType(tt.raw))
		})
	}
}

func TestTranslatedGet(t *testing.T) {
	tr := Translated{DE: "Bronchoskopie", FR: "Bronchoscopie"}
	assert.Equal(t, "Bronchoskopie", tr.Get(LangDE))
	assert.Equal(t, "Bronchoscopie", tr.Get(LangFR))
	// Italian missing: German fallback.
	assert.Equal(t, "Bronchoskopie", tr.Get(LangIT))
}

func TestParseItemType(t *testing.T) {
	assert.Equal(t, TypeEZ, ParseItemType("ez"))
	assert.Equal(t, TypePZ, ParseItemType(" PZ "))
	assert.Equal(t, TypeE, ParseItemType("unknown"))
	assert.True(t, TypeEZ.IsTardoc())
	assert.True(t, TypePZ.IsPauschalenComponent())
	assert.False(t, TypeP.IsTardoc())
}
