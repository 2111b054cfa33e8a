package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerDefaults(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Retrieval.TopN)
	assert.False(t, cfg.Features.KumulationExplizit)
	assert.True(t, cfg.Features.UseICDDefault)
	assert.Equal(t, "openai", cfg.LLM.Stage1.Provider)
	assert.NoError(t, m.Validate())
}

func TestStageEnvOverrides(t *testing.T) {
	t.Setenv("STAGE1_LLM_PROVIDER", "gemini")
	t.Setenv("STAGE1_LLM_MODEL", "gemini-2.0-flash")
	t.Setenv("GEMINI_API_KEY", "test-key")

	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, "gemini", cfg.LLM.Stage1.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Stage1.Model)

	p, err := m.StageProvider(cfg.LLM.Stage1)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Kind)
	assert.Equal(t, "test-key", p.APIKey)
}

func TestStageProviderUnknown(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	_, err = m.StageProvider(StageLLM{Provider: "nonexistent"})
	assert.Error(t, err)
}

func TestCapabilityStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.runtime.ini")
	logger := logrus.New()

	s, err := NewCapabilityStore(path, logger)
	require.NoError(t, err)

	// Unknown models start with full support.
	caps := s.Get("gpt-4o-mini")
	assert.True(t, caps.SupportsTemperature)
	assert.True(t, caps.SupportsMaxTokensNamed)

	caps.SupportsTemperature = false
	require.NoError(t, s.Set("gpt-4o-mini", caps))

	// Reload from disk.
	s2, err := NewCapabilityStore(path, logger)
	require.NoError(t, err)
	got := s2.Get("gpt-4o-mini")
	assert.False(t, got.SupportsTemperature)
	assert.True(t, got.SupportsResponseFormat)

	// File exists on disk.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCapabilityStoreModelNameWithDots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.runtime.ini")
	logger := logrus.New()

	s, err := NewCapabilityStore(path, logger)
	require.NoError(t, err)

	caps := DefaultCapabilities()
	caps.SupportsResponseFormat = false
	require.NoError(t, s.Set("gpt-4.1-mini", caps))

	s2, err := NewCapabilityStore(path, logger)
	require.NoError(t, err)
	assert.False(t, s2.Get("gpt-4.1-mini").SupportsResponseFormat)
}
