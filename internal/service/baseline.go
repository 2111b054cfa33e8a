package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tardoc-pauschale-server/internal/domain"
)

// BaselineExample is one stored regression case: a request plus the
// expected decision shape.
type BaselineExample struct {
	ID      string                `json:"id"`
	Lang    string                `json:"lang,omitempty"`
	Request domain.BillingRequest `json:"request"`

	Expected struct {
		Type      string   `json:"type"`
		Pauschale string   `json:"pauschale,omitempty"`
		LKNs      []string `json:"lkns,omitempty"`
	} `json:"expected"`
}

// ExampleResult is the outcome of running one baseline example.
type ExampleResult struct {
	Passed     bool                         `json:"passed"`
	Diff       []string                     `json:"diff,omitempty"`
	Result     *domain.BillingResponse      `json:"result"`
	TokenUsage map[string]domain.TokenUsage `json:"token_usage"`
}

// BaselineRunner executes stored examples against the live pipeline and
// diffs the decision output.
type BaselineRunner struct {
	engine   *Engine
	logger   *logrus.Logger
	examples map[string]BaselineExample
}

// NewBaselineRunner loads the baseline file. A missing file yields an
// empty runner, not an error, so deployments without baselines still start.
func NewBaselineRunner(engine *Engine, path string, logger *logrus.Logger) (*BaselineRunner, error) {
	r := &BaselineRunner{
		engine:   engine,
		logger:   logger,
		examples: make(map[string]BaselineExample),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.WithField("path", path).Warn("Baseline file not found, example runner disabled")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var examples []BaselineExample
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}
	for _, ex := range examples {
		r.examples[ex.ID] = ex
	}
	logger.WithField("examples", len(r.examples)).Info("Loaded baseline examples")
	return r, nil
}

// RunExample executes the example with the given id. lang overrides the
// example's stored language when non-empty.
func (r *BaselineRunner) RunExample(ctx context.Context, id, lang string) (*ExampleResult, error) {
	ex, ok := r.examples[id]
	if !ok {
		return nil, domain.NewEngineError(domain.ErrInvalidInput, "input", fmt.Sprintf("unknown example id: %s", id), nil)
	}

	req := ex.Request
	if lang != "" {
		req.Lang = lang
	} else if req.Lang == "" {
		req.Lang = ex.Lang
	}

	resp, err := r.engine.AnalyzeBilling(ctx, req)
	if err != nil {
		return nil, err
	}

	diff := diffOutcome(ex, resp)
	result := &ExampleResult{
		Passed:     len(diff) == 0,
		Diff:       diff,
		Result:     resp,
		TokenUsage: resp.TokenUsage,
	}
	r.logger.WithFields(logrus.Fields{
		"example": id,
		"passed":  result.Passed,
	}).Info("Baseline example completed")
	return result, nil
}

// diffOutcome compares the decision shape, not the full response: the
// result type, the selected package and the billed service codes.
func diffOutcome(ex BaselineExample, resp *domain.BillingResponse) []string {
	var diff []string
	abr := resp.Abrechnung
	if abr == nil {
		return []string{"missing abrechnung in result"}
	}

	if ex.Expected.Type != "" && abr.Type != ex.Expected.Type {
		diff = append(diff, fmt.Sprintf("type: expected %s, got %s", ex.Expected.Type, abr.Type))
	}
	if ex.Expected.Pauschale != "" {
		got := ""
		if abr.Details != nil {
			got = abr.Details.Pauschale
		}
		if got != ex.Expected.Pauschale {
			diff = append(diff, fmt.Sprintf("pauschale: expected %s, got %s", ex.Expected.Pauschale, got))
		}
	}
	if len(ex.Expected.LKNs) > 0 {
		want := domain.CanonicalCodes(ex.Expected.LKNs)
		got := make([]string, 0, len(abr.Leistungen))
		for _, item := range abr.Leistungen {
			got = append(got, item.LKN)
		}
		sort.Strings(want)
		sort.Strings(got)
		if !equalStrings(want, got) {
			diff = append(diff, fmt.Sprintf("lkns: expected %v, got %v", want, got))
		}
	}
	return diff
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
