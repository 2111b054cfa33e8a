package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tardoc-pauschale-server/internal/domain"
)

func writeBaseline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBaselineRunnerPassingExample(t *testing.T) {
	chat := &scriptedChat{replies: []string{repositionStage1, "WA.10.0010"}}
	engine := testEngine(t, chat)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := writeBaseline(t, `[
		{
			"id": "reposition_1",
			"lang": "de",
			"request": {"inputText": "Geschlossene Reposition in Anästhesie"},
			"expected": {"type": "Pauschale", "pauschale": "C08.50E"}
		}
	]`)

	runner, err := NewBaselineRunner(engine, path, logger)
	require.NoError(t, err)

	result, err := runner.RunExample(context.Background(), "reposition_1", "")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Diff)
	assert.Equal(t, domain.AbrechnungPauschale, result.Result.Abrechnung.Type)
	assert.NotEmpty(t, result.TokenUsage)
}

func TestBaselineRunnerReportsDiff(t *testing.T) {
	chat := &scriptedChat{replies: []string{`{
		"identified_leistungen":[{"lkn":"CA.00.0010","typ":"E","menge":1}],
		"extracted_info":{}
	}`}}
	engine := testEngine(t, chat)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := writeBaseline(t, `[
		{
			"id": "konsultation_1",
			"lang": "de",
			"request": {"inputText": "Konsultation 5 Minuten"},
			"expected": {"type": "TARDOC", "lkns": ["CA.00.0010", "CA.00.0020"]}
		}
	]`)

	runner, err := NewBaselineRunner(engine, path, logger)
	require.NoError(t, err)

	result, err := runner.RunExample(context.Background(), "konsultation_1", "")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Diff, 1)
	assert.Contains(t, result.Diff[0], "lkns")
}

func TestBaselineRunnerUnknownID(t *testing.T) {
	engine := testEngine(t, &scriptedChat{})
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	runner, err := NewBaselineRunner(engine, writeBaseline(t, `[]`), logger)
	require.NoError(t, err)

	_, err = runner.RunExample(context.Background(), "missing", "")
	require.Error(t, err)
	ee, ok := domain.AsEngineError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrInvalidInput, ee.Code)
}

func TestBaselineRunnerMissingFile(t *testing.T) {
	engine := testEngine(t, &scriptedChat{})
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	// A missing baseline file disables the runner but must not fail startup.
	runner, err := NewBaselineRunner(engine, filepath.Join(t.TempDir(), "absent.json"), logger)
	require.NoError(t, err)

	_, err = runner.RunExample(context.Background(), "any", "")
	require.Error(t, err)
}
