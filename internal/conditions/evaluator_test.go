package conditions

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/domain"
)

func intPtr(v int) *int { return &v }

func testEvaluator(t *testing.T, strict bool) *Evaluator {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := catalog.NewStore(catalog.Data{
		Tables: []domain.TableEntry{
			{Table: "ANAST", TableType: domain.TableServiceCatalog, Code: "WA.10.0010"},
			{Table: "CAP13", TableType: domain.TableICD, Code: "J44.0"},
			{Table: "CAP13", TableType: domain.TableICD, Code: "J44.1"},
		},
		Pauschalen: []domain.Pauschale{
			{Code: "C08.50E", Text: domain.Translated{DE: "Kiefergelenk-Reposition"}},
			{Code: "C03.10A", Text: domain.Translated{DE: "Bronchoskopie"}},
			{Code: "C00.00A", Text: domain.Translated{DE: "Ohne Bedingungen"}},
		},
		Conditions: []domain.ConditionRow{
			{Pauschale: "C08.50E", Gruppe: 1, Typ: domain.CondLKNList, Werte: "C08.EC.0130", Operator: "AND"},
			{Pauschale: "C08.50E", Gruppe: 1, Typ: domain.CondLKNTable, Werte: "ANAST"},

			{Pauschale: "C03.10A", Gruppe: 1, Typ: domain.CondLKNList, Werte: "C03.GC.0200", Operator: "AND"},
			{Pauschale: "C03.10A", Gruppe: 1, Typ: domain.CondICDTable, Werte: "CAP13"},
		},
	}, logger)

	return NewEvaluator(store, strict, logger)
}

func TestEvaluateStructured(t *testing.T) {
	e := testEvaluator(t, false)
	cache := NewRequestCache()

	rctx := &domain.RequestContext{
		LKNs:   []string{"c08.ec.0130", "WA.10.0010"},
		UseICD: true,
		Lang:   domain.LangDE,
	}
	res := e.Evaluate("c08.50e", rctx, cache)
	assert.True(t, res.Applicable)
	assert.False(t, res.Fallback)
	require.Len(t, res.Rows, 2)
	assert.True(t, res.Rows[0].Met)
	assert.True(t, res.Rows[1].Met)

	// Missing the anaesthesia component fails the AND.
	res = e.Evaluate("C08.50E", &domain.RequestContext{LKNs: []string{"C08.EC.0130"}, UseICD: true}, cache)
	assert.False(t, res.Applicable)
}

func TestEvaluateNoConditionsIsApplicable(t *testing.T) {
	e := testEvaluator(t, false)
	res := e.Evaluate("C00.00A", &domain.RequestContext{UseICD: true}, NewRequestCache())
	assert.True(t, res.Applicable)
	assert.Empty(t, res.Rows)
}

func TestEvaluateICDGate(t *testing.T) {
	e := testEvaluator(t, false)
	cache := NewRequestCache()

	base := domain.RequestContext{LKNs: []string{"C03.GC.0200"}, Lang: domain.LangDE}

	// With use_icd and no diagnosis the ICD atom fails.
	withICD := base
	withICD.UseICD = true
	assert.False(t, e.Evaluate("C03.10A", &withICD, cache).Applicable)

	// A matching table diagnosis satisfies it.
	withICD.ICDs = []string{"j44.1"}
	assert.True(t, e.Evaluate("C03.10A", &withICD, cache).Applicable)

	// With use_icd=false every ICD atom is true.
	withoutICD := base
	withoutICD.UseICD = false
	assert.True(t, e.Evaluate("C03.10A", &withoutICD, cache).Applicable)
}

func TestEvalAtomKinds(t *testing.T) {
	e := testEvaluator(t, false)
	cache := NewRequestCache()

	tests := []struct {
		name string
		row  domain.ConditionRow
		rctx domain.RequestContext
		want bool
	}{
		{
			"Medication match",
			domain.ConditionRow{Typ: domain.CondMedicationList, Werte: "B01AC06, N02BA01"},
			domain.RequestContext{Medications: []string{"b01ac06"}},
			true,
		},
		{
			"GTIN no match",
			domain.ConditionRow{Typ: domain.CondGTIN, Werte: "7680531520746"},
			domain.RequestContext{Medications: []string{"7680000000000"}},
			false,
		},
		{
			"Gender list match",
			domain.ConditionRow{Typ: domain.CondGenderList, Werte: "weiblich"},
			domain.RequestContext{Gender: "Weiblich"},
			true,
		},
		{
			"Gender both unknown",
			domain.ConditionRow{Typ: domain.CondGenderList, Werte: ""},
			domain.RequestContext{},
			true,
		},
		{
			"Age inside range",
			domain.ConditionRow{Typ: domain.CondPatient, Feld: domain.PatientFieldAge, MinWert: intPtr(0), MaxWert: intPtr(15)},
			domain.RequestContext{Age: intPtr(8)},
			true,
		},
		{
			"Age above range",
			domain.ConditionRow{Typ: domain.CondPatient, Feld: domain.PatientFieldAge, MinWert: intPtr(0), MaxWert: intPtr(15)},
			domain.RequestContext{Age: intPtr(16)},
			false,
		},
		{
			"Age missing",
			domain.ConditionRow{Typ: domain.CondPatient, Feld: domain.PatientFieldAge, MinWert: intPtr(0), MaxWert: intPtr(15)},
			domain.RequestContext{},
			false,
		},
		{
			"Count at least",
			domain.ConditionRow{Typ: domain.CondCountCheck, Werte: "2", Vergleich: ">="},
			domain.RequestContext{ProcedureCount: intPtr(3)},
			true,
		},
		{
			"Count below",
			domain.ConditionRow{Typ: domain.CondCountCheck, Werte: "2", Vergleich: ">="},
			domain.RequestContext{ProcedureCount: intPtr(1)},
			false,
		},
		{
			"Laterality synonym",
			domain.ConditionRow{Typ: domain.CondLaterality, Werte: "beidseits"},
			domain.RequestContext{Laterality: "bilateral"},
			true,
		},
		{
			"Bilateral counts as two",
			domain.ConditionRow{Typ: domain.CondLaterality, Werte: "2", Vergleich: ">="},
			domain.RequestContext{Laterality: "beidseits"},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := e.evalAtom(tt.row, &tt.rctx, cache)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnknownConditionType(t *testing.T) {
	row := domain.ConditionRow{Typ: domain.ConditionType("FUTURE_CHECK")}

	lenient := testEvaluator(t, false)
	got, diag := lenient.evalAtom(row, &domain.RequestContext{}, NewRequestCache())
	assert.True(t, got)
	assert.Empty(t, diag)

	strict := testEvaluator(t, true)
	got, diag = strict.evalAtom(row, &domain.RequestContext{}, NewRequestCache())
	assert.False(t, got)
	assert.NotEmpty(t, diag)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := testEvaluator(t, false)
	rctx := &domain.RequestContext{LKNs: []string{"C08.EC.0130", "WA.10.0010"}, UseICD: true}

	first := e.Evaluate("C08.50E", rctx, NewRequestCache())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Evaluate("C08.50E", rctx, NewRequestCache()))
	}
}

func TestRequestCacheMemoises(t *testing.T) {
	e := testEvaluator(t, false)
	cache := NewRequestCache()

	first := cache.TableCodes(e.store, []string{"ANAST"}, domain.TableServiceCatalog)
	second := cache.TableCodes(e.store, []string{"anast"}, domain.TableServiceCatalog)
	assert.True(t, first["WA.10.0010"])

	// Same normalised key returns the identical memoised set.
	assert.Equal(t, first, second)
}
