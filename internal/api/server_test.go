package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tardoc-pauschale-server/internal/catalog"
	"github.com/tardoc-pauschale-server/internal/config"
	"github.com/tardoc-pauschale-server/internal/domain"
	"github.com/tardoc-pauschale-server/internal/feedback"
	"github.com/tardoc-pauschale-server/internal/service"
)

type fakeAnalyzer struct {
	resp *domain.BillingResponse
	err  error
}

func (f *fakeAnalyzer) AnalyzeBilling(ctx context.Context, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return f.resp, f.err
}

type fakeRunner struct {
	result *service.ExampleResult
	err    error
}

func (f *fakeRunner) RunExample(ctx context.Context, id, lang string) (*service.ExampleResult, error) {
	return f.result, f.err
}

func testServer(t *testing.T, analyzer Analyzer, runner ExampleRunner) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := catalog.NewStore(catalog.Data{
		Tables: []domain.TableEntry{
			{Table: "CAP13", TableType: domain.TableICD, Code: "J44.1", CodeText: domain.Translated{DE: "COPD mit akuter Exazerbation"}},
			{Table: "OP_CHOP", TableType: domain.TableTariff, Code: "Z33.24.10", CodeText: domain.Translated{DE: "Bronchoskopie mit Lavage"}},
		},
	}, logger)

	fbStore, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { fbStore.Close() })

	cfg := &config.Config{Version: "1.2.3", TarifVersion: "OAAT 2026"}
	cfg.Logging.Level = "error"

	return NewServer(cfg, analyzer, runner, store, fbStore, nil, logger)
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeBillingEndpoint(t *testing.T) {
	analyzer := &fakeAnalyzer{resp: &domain.BillingResponse{
		Abrechnung: &domain.Abrechnung{Type: domain.AbrechnungTardoc},
	}}
	s := testServer(t, analyzer, &fakeRunner{})

	rec := doRequest(s, http.MethodPost, "/api/analyze-billing",
		[]byte(`{"inputText":"Konsultation 15 Minuten"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp domain.BillingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.AbrechnungTardoc, resp.Abrechnung.Type)
}

func TestAnalyzeBillingRejectsBadBody(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodPost, "/api/analyze-billing", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.ErrInvalidInput)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"stage1 parse", domain.NewEngineError(domain.ErrStage1Parse, "stage1", "unparseable reply", nil), http.StatusUnprocessableEntity},
		{"transport", domain.NewEngineError(domain.ErrTransport, "stage1", "timeout", nil), http.StatusGatewayTimeout},
		{"invalid input", domain.NewEngineError(domain.ErrInvalidInput, "input", "inputText is required", nil), http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testServer(t, &fakeAnalyzer{err: tt.err}, &fakeRunner{})
			rec := doRequest(s, http.MethodPost, "/api/analyze-billing",
				[]byte(`{"inputText":"x"}`))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestErrorCarriesStageName(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{
		err: domain.NewEngineError(domain.ErrStage1Parse, "stage1", "unparseable reply", nil),
	}, &fakeRunner{})

	rec := doRequest(s, http.MethodPost, "/api/analyze-billing", []byte(`{"inputText":"x"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"stage1"`)
}

func TestTestExampleEndpoint(t *testing.T) {
	runner := &fakeRunner{result: &service.ExampleResult{Passed: true}}
	s := testServer(t, &fakeAnalyzer{}, runner)

	rec := doRequest(s, http.MethodPost, "/api/test-example", []byte(`{"id":"example_1","lang":"de"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"passed":true`)

	rec = doRequest(s, http.MethodPost, "/api/test-example", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestICDSearchEndpoint(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/icd?q=exazerbation&lang=de", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "J44.1")

	rec = doRequest(s, http.MethodGet, "/api/icd?q=zzzz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "J44.1")
}

func TestChopSearchEndpoint(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/chop?q=lavage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Z33.24.10")
}

func TestVersionEndpoint(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1.2.3")
	assert.Contains(t, rec.Body.String(), "OAAT 2026")
}

func TestSubmitFeedbackEndpoint(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodPost, "/api/submit-feedback", []byte(`{
		"input_text": "Konsultation 15 Minuten",
		"lang": "de",
		"suggested_type": "TARDOC",
		"user_type": "TARDOC",
		"user_agreed": true
	}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"saved"`)

	rec = doRequest(s, http.MethodPost, "/api/submit-feedback", []byte(`{"lang":"de"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCORSPreflight(t *testing.T) {
	s := testServer(t, &fakeAnalyzer{}, &fakeRunner{})

	rec := doRequest(s, http.MethodOptions, "/api/analyze-billing", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
