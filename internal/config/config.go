package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// AssistantConfig controls the answering model and persona.
type AssistantConfig struct {
	Models  []string `yaml:"models"`
	Model   string   `yaml:"model"`
	Persona string   `yaml:"persona"`
}

// SessionConfig holds the initial selections of a new session.
type SessionConfig struct {
	Segment       string `yaml:"segment"`
	Metric        string `yaml:"metric"`
	Memory        *bool  `yaml:"memory,omitempty"`
	Debug         bool   `yaml:"debug"`
	HistoryWindow *int   `yaml:"history_window,omitempty"`
}

// RetrievalConfig configures passage retrieval.
type RetrievalConfig struct {
	Limit    int      `yaml:"limit"`
	Segments []string `yaml:"segments,omitempty"`
	Metrics  []string `yaml:"metrics,omitempty"`
}

// CortexConfig contains connection details for a managed Cortex Search service.
type CortexConfig struct {
	AccountURL  string `yaml:"account_url"`
	Database    string `yaml:"database"`
	Schema      string `yaml:"schema"`
	Service     string `yaml:"service"`
	TokenEnv    string `yaml:"token_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MemorySearchConfig points at a local passage fixture.
type MemorySearchConfig struct {
	PassagesFile string `yaml:"passages_file"`
}

// SearchConfig selects and configures the search capability.
type SearchConfig struct {
	Type   string              `yaml:"type"`
	Cortex *CortexConfig       `yaml:"cortex,omitempty"`
	Memory *MemorySearchConfig `yaml:"memory,omitempty"`
}

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig selects and configures the completion capability.
type LLMConfig struct {
	Type   string        `yaml:"type"`
	OpenAI *OpenAIConfig `yaml:"openai,omitempty"`
}

// SnowflakeCatalogConfig configures the SQL API backed document catalog.
type SnowflakeCatalogConfig struct {
	AccountURL  string `yaml:"account_url"`
	TokenEnv    string `yaml:"token_env"`
	Warehouse   string `yaml:"warehouse"`
	Database    string `yaml:"database"`
	Schema      string `yaml:"schema"`
	Stage       string `yaml:"stage"`
	ChunksTable string `yaml:"chunks_table"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// StaticCatalogConfig lists documents served from the local filesystem.
type StaticCatalogConfig struct {
	Root      string   `yaml:"root"`
	Documents []string `yaml:"documents"`
}

// CatalogConfig selects and configures the document catalog.
type CatalogConfig struct {
	Type          string                  `yaml:"type"`
	URLExpirySecs int                     `yaml:"url_expiry_secs"`
	Snowflake     *SnowflakeCatalogConfig `yaml:"snowflake,omitempty"`
	Static        *StaticCatalogConfig    `yaml:"static,omitempty"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Assistant          AssistantConfig `yaml:"assistant"`
	Session            SessionConfig   `yaml:"session"`
	Retrieval          RetrievalConfig `yaml:"retrieval"`
	Search             SearchConfig    `yaml:"search"`
	LLM                LLMConfig       `yaml:"llm"`
	Catalog            CatalogConfig   `yaml:"catalog"`
	RequestTimeoutSecs int             `yaml:"request_timeout_secs"`
	Logging            LoggingConfig   `yaml:"logging"`
	Metrics            MetricsConfig   `yaml:"metrics"`
}

// MemoryEnabled reports the initial chat memory flag.
func (c *AppConfig) MemoryEnabled() bool {
	return c.Session.Memory == nil || *c.Session.Memory
}

// Window reports the configured history window size.
func (c *AppConfig) Window() int {
	if c.Session.HistoryWindow == nil {
		return DefaultHistoryWindow
	}
	return *c.Session.HistoryWindow
}

const (
	DefaultHistoryWindow  = 7
	DefaultRetrievalLimit = 3
	DefaultURLExpirySecs  = 360
	DefaultTimeoutSecs    = 30
	DefaultPersona        = "You are a financial advisor assistant analyzing the company's business performance."
)

// DefaultModels is the supported model list; the first entry is preferred.
var DefaultModels = []string{"mistral-large2", "mixtral-8x7b", "snowflake-arctic", "llama3-70b"}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first configuration problem found.
func (c *AppConfig) Validate() error {
	if c.Window() < 0 {
		return errors.New("session.history_window must be >= 0")
	}
	if c.Retrieval.Limit < 1 {
		return errors.New("retrieval.limit must be >= 1")
	}
	if !slices.Contains(c.Assistant.Models, c.Assistant.Model) {
		return fmt.Errorf("assistant.model %q is not one of %v", c.Assistant.Model, c.Assistant.Models)
	}
	switch c.Search.Type {
	case "memory":
		if c.Search.Memory == nil || c.Search.Memory.PassagesFile == "" {
			return errors.New("search.memory.passages_file is required")
		}
	case "cortex":
		if c.Search.Cortex == nil {
			return errors.New("search.cortex config missing")
		}
		if c.Search.Cortex.AccountURL == "" || c.Search.Cortex.Service == "" {
			return errors.New("search.cortex.account_url and search.cortex.service are required")
		}
	default:
		return fmt.Errorf("unknown search type: %s", c.Search.Type)
	}
	switch c.LLM.Type {
	case "extractive":
	case "openai":
		if c.LLM.OpenAI == nil {
			return errors.New("llm.openai config missing")
		}
	default:
		return fmt.Errorf("unknown llm type: %s", c.LLM.Type)
	}
	switch c.Catalog.Type {
	case "static":
	case "snowflake":
		if c.Catalog.Snowflake == nil || c.Catalog.Snowflake.AccountURL == "" {
			return errors.New("catalog.snowflake.account_url is required")
		}
	default:
		return fmt.Errorf("unknown catalog type: %s", c.Catalog.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragchat", "config.yaml"), nil
}

// Default returns the built-in offline configuration.
func Default() *AppConfig {
	cfg := &AppConfig{
		Search:  SearchConfig{Type: "memory", Memory: &MemorySearchConfig{PassagesFile: "passages.yaml"}},
		LLM:     LLMConfig{Type: "extractive"},
		Catalog: CatalogConfig{Type: "static", Static: &StaticCatalogConfig{Root: "."}},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if len(cfg.Assistant.Models) == 0 {
		cfg.Assistant.Models = append([]string(nil), DefaultModels...)
	}
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = cfg.Assistant.Models[0]
	}
	if cfg.Assistant.Persona == "" {
		cfg.Assistant.Persona = DefaultPersona
	}
	if cfg.Session.Segment == "" {
		cfg.Session.Segment = domain.All
	}
	if cfg.Session.Metric == "" {
		cfg.Session.Metric = domain.All
	}
	if cfg.Retrieval.Limit == 0 {
		cfg.Retrieval.Limit = DefaultRetrievalLimit
	}
	if cfg.Search.Type == "" {
		cfg.Search.Type = "memory"
	}
	if cfg.Search.Type == "cortex" && cfg.Search.Cortex != nil {
		if cfg.Search.Cortex.TokenEnv == "" {
			cfg.Search.Cortex.TokenEnv = "SNOWFLAKE_TOKEN"
		}
		if cfg.Search.Cortex.TimeoutSecs == 0 {
			cfg.Search.Cortex.TimeoutSecs = DefaultTimeoutSecs
		}
	}
	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "extractive"
	}
	if cfg.LLM.Type == "openai" && cfg.LLM.OpenAI != nil {
		if cfg.LLM.OpenAI.BaseURL == "" {
			cfg.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.LLM.OpenAI.APIKeyEnv == "" {
			cfg.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.LLM.OpenAI.TimeoutSecs == 0 {
			cfg.LLM.OpenAI.TimeoutSecs = DefaultTimeoutSecs
		}
	}
	if cfg.Catalog.Type == "" {
		cfg.Catalog.Type = "static"
	}
	if cfg.Catalog.URLExpirySecs == 0 {
		cfg.Catalog.URLExpirySecs = DefaultURLExpirySecs
	}
	if cfg.Catalog.Type == "snowflake" && cfg.Catalog.Snowflake != nil {
		sf := cfg.Catalog.Snowflake
		if sf.TokenEnv == "" {
			sf.TokenEnv = "SNOWFLAKE_TOKEN"
		}
		if sf.Stage == "" {
			sf.Stage = "data"
		}
		if sf.ChunksTable == "" {
			sf.ChunksTable = "financial_chunks_table"
		}
		if sf.TimeoutSecs == 0 {
			sf.TimeoutSecs = DefaultTimeoutSecs
		}
	}
	if cfg.Catalog.Type == "static" && cfg.Catalog.Static == nil {
		cfg.Catalog.Static = &StaticCatalogConfig{Root: "."}
	}
	if cfg.RequestTimeoutSecs == 0 {
		cfg.RequestTimeoutSecs = DefaultTimeoutSecs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = "ragchat.log"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
}
