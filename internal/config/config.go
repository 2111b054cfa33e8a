package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StageLLM selects the provider and model of one pipeline stage.
type StageLLM struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

// Provider holds the connection settings of one LLM provider. BaseURL and
// APIKey can be overridden via {PROVIDER}_BASE_URL / {PROVIDER}_API_KEY.
type Provider struct {
	Kind    string // "openai" or "gemini"
	BaseURL string
	APIKey  string
}

// Config is the static engine configuration read from config.ini.
type Config struct {
	Server struct {
		Host string
		Port int
	}
	Data struct {
		Dir          string
		BaselinePath string
	}
	LLM struct {
		Stage1          StageLLM
		Stage2          StageLLM
		MinCallInterval time.Duration
		Providers       map[string]Provider
	}
	Features struct {
		KumulationExplizit bool
		UseICDDefault      bool
		ConditionsStrict   bool
	}
	Cache struct {
		RedisURL string
		TTL      time.Duration
	}
	Feedback struct {
		Backend     string // "sqlite" or "postgres"
		SQLitePath  string
		DatabaseURL string
		GitHubRepo  string
		GitHubToken string
	}
	Retrieval struct {
		TopN         int
		VectorWeight float64
	}
	Logging struct {
		Level  string
		Format string
	}
	Version      string
	TarifVersion string
}

// Manager loads and exposes the static configuration.
type Manager struct {
	config *Config
	v      *viper.Viper
}

// NewManager reads config.ini (searched in ., ./config and /etc/...) plus
// environment overrides.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("ini")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tardoc-pauschale-server/")

	v.SetEnvPrefix("TARIF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply.
	}

	cfg := &Config{}
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Data.Dir = v.GetString("data.dir")
	cfg.Data.BaselinePath = v.GetString("data.baseline_path")

	cfg.LLM.MinCallInterval = v.GetDuration("llm.min_call_interval")
	cfg.LLM.Stage1 = loadStage(v, "stage1")
	cfg.LLM.Stage2 = loadStage(v, "stage2")
	cfg.LLM.Providers = loadProviders(v)

	cfg.Features.KumulationExplizit = v.GetInt("features.kumulation_explizit") == 1
	cfg.Features.UseICDDefault = v.GetBool("features.use_icd")
	cfg.Features.ConditionsStrict = v.GetBool("features.conditions_strict")

	cfg.Cache.RedisURL = v.GetString("cache.redis_url")
	cfg.Cache.TTL = v.GetDuration("cache.ttl")

	cfg.Feedback.Backend = v.GetString("feedback.backend")
	cfg.Feedback.SQLitePath = v.GetString("feedback.sqlite_path")
	cfg.Feedback.DatabaseURL = v.GetString("feedback.database_url")
	cfg.Feedback.GitHubRepo = v.GetString("feedback.github_repo")
	cfg.Feedback.GitHubToken = os.Getenv("GITHUB_TOKEN")

	cfg.Retrieval.TopN = v.GetInt("retrieval.top_n")
	cfg.Retrieval.VectorWeight = v.GetFloat64("retrieval.vector_weight")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Version = v.GetString("version")
	cfg.TarifVersion = v.GetString("tarif_version")

	m.config = cfg
	m.v = v
	return nil
}

// loadStage reads one stage section and applies the STAGE{N}_LLM_PROVIDER /
// STAGE{N}_LLM_MODEL environment overrides.
func loadStage(v *viper.Viper, name string) StageLLM {
	s := StageLLM{
		Provider: v.GetString(name + ".provider"),
		Model:    v.GetString(name + ".model"),
		Timeout:  v.GetDuration(name + ".timeout"),
	}
	envName := strings.ToUpper(name)
	if p := os.Getenv(envName + "_LLM_PROVIDER"); p != "" {
		s.Provider = p
	}
	if mo := os.Getenv(envName + "_LLM_MODEL"); mo != "" {
		s.Model = mo
	}
	return s
}

// loadProviders reads every [provider.<name>] section. API keys and base
// URLs from the environment win over the file.
func loadProviders(v *viper.Viper) map[string]Provider {
	providers := make(map[string]Provider)
	for _, name := range []string{"openai", "gemini", "ollama", "openrouter"} {
		section := "provider." + name
		p := Provider{
			Kind:    v.GetString(section + ".kind"),
			BaseURL: v.GetString(section + ".base_url"),
			APIKey:  v.GetString(section + ".api_key"),
		}
		envName := strings.ToUpper(name)
		if u := os.Getenv(envName + "_BASE_URL"); u != "" {
			p.BaseURL = u
		}
		if k := os.Getenv(envName + "_API_KEY"); k != "" {
			p.APIKey = k
		}
		if p.Kind == "" {
			if name == "gemini" {
				p.Kind = "gemini"
			} else {
				p.Kind = "openai"
			}
		}
		providers[name] = p
	}
	return providers
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.baseline_path", "./data/baseline.json")

	v.SetDefault("llm.min_call_interval", "1s")
	v.SetDefault("stage1.provider", "openai")
	v.SetDefault("stage1.model", "gpt-4o-mini")
	v.SetDefault("stage1.timeout", "60s")
	v.SetDefault("stage2.provider", "openai")
	v.SetDefault("stage2.model", "gpt-4o-mini")
	v.SetDefault("stage2.timeout", "45s")

	v.SetDefault("provider.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("provider.ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("provider.openrouter.base_url", "https://openrouter.ai/api/v1")

	v.SetDefault("features.kumulation_explizit", 0)
	v.SetDefault("features.use_icd", true)
	v.SetDefault("features.conditions_strict", false)

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("feedback.backend", "sqlite")
	v.SetDefault("feedback.sqlite_path", "./data/feedback.db")

	v.SetDefault("retrieval.top_n", 200)
	v.SetDefault("retrieval.vector_weight", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("version", "dev")
	v.SetDefault("tarif_version", "")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *Config {
	return m.config
}

// StageProvider resolves the provider settings for a stage.
func (m *Manager) StageProvider(stage StageLLM) (Provider, error) {
	p, ok := m.config.LLM.Providers[strings.ToLower(stage.Provider)]
	if !ok {
		return Provider{}, fmt.Errorf("unknown LLM provider: %s", stage.Provider)
	}
	return p, nil
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	cfg := m.config
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}
	if _, err := m.StageProvider(cfg.LLM.Stage1); err != nil {
		return fmt.Errorf("stage1: %w", err)
	}
	if _, err := m.StageProvider(cfg.LLM.Stage2); err != nil {
		return fmt.Errorf("stage2: %w", err)
	}
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	switch cfg.Feedback.Backend {
	case "sqlite", "postgres", "":
	default:
		return fmt.Errorf("invalid feedback backend: %s", cfg.Feedback.Backend)
	}
	return nil
}
