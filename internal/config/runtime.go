package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ModelCapabilities records what request parameters a model accepts. Flags
// default to true and get flipped after the provider rejects a parameter.
type ModelCapabilities struct {
	SupportsTemperature    bool
	SupportsMaxTokensNamed bool // false: use "max_completion_tokens"
	SupportsResponseFormat bool
}

// DefaultCapabilities assumes full parameter support.
func DefaultCapabilities() ModelCapabilities {
	return ModelCapabilities{
		SupportsTemperature:    true,
		SupportsMaxTokensNamed: true,
		SupportsResponseFormat: true,
	}
}

// CapabilityStore persists per-model capability flags in config.runtime.ini.
// Reads are lock-free against an in-memory map; writes take the writer lock
// and rewrite the file.
type CapabilityStore struct {
	mu     sync.RWMutex
	path   string
	v      *viper.Viper
	models map[string]ModelCapabilities
	logger *logrus.Logger
}

// NewCapabilityStore loads (or creates) the runtime config file.
func NewCapabilityStore(path string, logger *logrus.Logger) (*CapabilityStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	s := &CapabilityStore{
		path:   path,
		v:      v,
		models: make(map[string]ModelCapabilities),
		logger: logger,
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading runtime config: %w", err)
			}
		}
		// No runtime file yet; every model starts with default flags.
		return s, nil
	}

	for _, key := range v.AllKeys() {
		// Keys look like "model.<name>.supports_temperature". Model names
		// may contain dots, so the flag is the last segment.
		rest, ok := strings.CutPrefix(key, "model.")
		if !ok {
			continue
		}
		i := lastDot(rest)
		if i <= 0 {
			continue
		}
		model, flag := rest[:i], rest[i+1:]
		caps, ok := s.models[model]
		if !ok {
			caps = DefaultCapabilities()
		}
		switch flag {
		case "supports_temperature":
			caps.SupportsTemperature = v.GetBool(key)
		case "supports_max_tokens_named":
			caps.SupportsMaxTokensNamed = v.GetBool(key)
		case "supports_response_format":
			caps.SupportsResponseFormat = v.GetBool(key)
		}
		s.models[model] = caps
	}
	return s, nil
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// Get returns the capability flags for a model.
func (s *CapabilityStore) Get(model string) ModelCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if caps, ok := s.models[model]; ok {
		return caps
	}
	return DefaultCapabilities()
}

// Set stores the capability flags for a model and persists the file.
func (s *CapabilityStore) Set(model string, caps ModelCapabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.models[model] = caps
	s.v.Set("model."+model+".supports_temperature", caps.SupportsTemperature)
	s.v.Set("model."+model+".supports_max_tokens_named", caps.SupportsMaxTokensNamed)
	s.v.Set("model."+model+".supports_response_format", caps.SupportsResponseFormat)

	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("persisting runtime config: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"model":                     model,
		"supports_temperature":      caps.SupportsTemperature,
		"supports_max_tokens_named": caps.SupportsMaxTokensNamed,
		"supports_response_format":  caps.SupportsResponseFormat,
	}).Info("Persisted model capability flags")
	return nil
}
