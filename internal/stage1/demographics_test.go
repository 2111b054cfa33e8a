package stage1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDemographicsAge(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantAge  int
		wantOp   string
	}{
		{"Word comparator unter", "Patient unter 16 Jahren mit Fraktur", 16, "<"},
		{"Word comparator bis", "Kinder bis 12 Jahre", 12, "<="},
		{"Word comparator ab", "Erwachsene ab 18", 18, ">="},
		{"Word comparator ueber", "Person über 65 Jahre", 65, ">"},
		{"French moins de", "enfant de moins de 16 ans", 16, "<"},
		{"Symbolic lte", "Alter <= 10", 10, "<="},
		{"Symbolic gt", "Alter > 50 Jahre", 50, ">"},
		{"Suffix jaehrig", "8-jähriger Knabe", 8, "="},
		{"Plain years", "Patient, 45 Jahre, Konsultation", 45, "="},
		{"Italian anni", "paziente di 30 anni", 30, "="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ExtractDemographics(tt.text)
			require.NotNil(t, d.Age)
			assert.Equal(t, tt.wantAge, *d.Age)
			assert.Equal(t, tt.wantOp, d.AgeOperator)
		})
	}
}

func TestExtractDemographicsNoAge(t *testing.T) {
	d := ExtractDemographics("Konsultation wegen Husten")
	assert.Nil(t, d.Age)
	assert.Empty(t, d.AgeOperator)
}

func TestExtractDemographicsGender(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"German female noun", "Die Patientin klagt über Schmerzen", "weiblich"},
		{"German male noun", "Knabe mit Mittelohrentzündung", "männlich"},
		{"French female", "une femme de 40 ans", "weiblich"},
		{"Italian male", "un ragazzo con febbre", "männlich"},
		{"No gender", "Konsultation 15 Minuten", ""},
		{"Patient alone is not a gender", "Der Patient wurde untersucht", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDemographics(tt.text).Gender)
		})
	}
}

func TestExtractDemographicsLaterality(t *testing.T) {
	assert.Equal(t, "beidseits", ExtractDemographics("Katarakt beidseits").Laterality)
	assert.Equal(t, "links", ExtractDemographics("Fraktur am linken... links").Laterality)
	assert.Equal(t, "rechts", ExtractDemographics("Exzision rechts").Laterality)
	assert.Empty(t, ExtractDemographics("Konsultation").Laterality)
}
