package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	AI       AIConfig       `yaml:"ai"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type UpstreamConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	PriceModel string        `yaml:"price_model"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AIConfig is the gateway limit surface. Cost-saver mode tightens several
// limits at once; the clamps are applied once at load time.
type AIConfig struct {
	CostSaver                   bool          `yaml:"cost_saver"`
	MaxPromptChars              int           `yaml:"max_prompt_chars"`
	MaxHistoryItems             int           `yaml:"max_history_items"`
	MaxScopeOutputTokens        int           `yaml:"max_scope_output_tokens"`
	MaxPriceOutputTokens        int           `yaml:"max_price_output_tokens"`
	QueueConcurrency            int           `yaml:"queue_concurrency"`
	RetryAttempts               int           `yaml:"retry_attempts"`
	RetryBaseDelay              time.Duration `yaml:"retry_base_delay"`
	CacheTTL                    time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries             int           `yaml:"cache_max_entries"`
	MaxRequestsPerTenantPerHour int           `yaml:"max_requests_per_tenant_per_hour"`
}

// Load reads an optional YAML file, applies environment overrides on top,
// and finally applies cost-saver clamping.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyCostSaver(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Upstream: UpstreamConfig{
			Model:      "gpt-4o-mini",
			PriceModel: "gpt-4.1-mini",
			Timeout:    60 * time.Second,
		},
		AI: AIConfig{
			MaxPromptChars:              1400,
			MaxHistoryItems:             4,
			MaxScopeOutputTokens:        650,
			MaxPriceOutputTokens:        900,
			QueueConcurrency:            2,
			RetryAttempts:               3,
			RetryBaseDelay:              350 * time.Millisecond,
			CacheTTL:                    8 * time.Minute,
			CacheMaxEntries:             300,
			MaxRequestsPerTenantPerHour: 200,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AIGW_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AIGW_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		cfg.Upstream.Model = v
		// The price model follows the general model unless set itself.
		cfg.Upstream.PriceModel = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_PRICE_MODEL")); v != "" {
		cfg.Upstream.PriceModel = v
	}

	if v := os.Getenv("AI_COST_SAVER"); v != "" {
		cfg.AI.CostSaver = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	cfg.AI.MaxPromptChars = envInt("AI_MAX_PROMPT_CHARS", cfg.AI.MaxPromptChars)
	cfg.AI.MaxHistoryItems = envInt("AI_MAX_HISTORY_ITEMS", cfg.AI.MaxHistoryItems)
	cfg.AI.MaxScopeOutputTokens = envInt("AI_MAX_OUTPUT_TOKENS_SCOPE", cfg.AI.MaxScopeOutputTokens)
	cfg.AI.MaxPriceOutputTokens = envInt("AI_MAX_OUTPUT_TOKENS_PRICE", cfg.AI.MaxPriceOutputTokens)
	cfg.AI.QueueConcurrency = envInt("AI_QUEUE_CONCURRENCY", cfg.AI.QueueConcurrency)
	cfg.AI.RetryAttempts = envInt("AI_RETRY_ATTEMPTS", cfg.AI.RetryAttempts)
	cfg.AI.RetryBaseDelay = time.Duration(envInt("AI_RETRY_BASE_DELAY_MS", int(cfg.AI.RetryBaseDelay/time.Millisecond))) * time.Millisecond
	cfg.AI.CacheTTL = time.Duration(envInt("AI_CACHE_TTL_MS", int(cfg.AI.CacheTTL/time.Millisecond))) * time.Millisecond
	cfg.AI.CacheMaxEntries = envInt("AI_CACHE_MAX_ENTRIES", cfg.AI.CacheMaxEntries)
	cfg.AI.MaxRequestsPerTenantPerHour = envInt("AI_BUDGET_MAX_REQUESTS_PER_TENANT_PER_HOUR", cfg.AI.MaxRequestsPerTenantPerHour)
}

// applyCostSaver tightens spend-sensitive limits when cost-saver mode is on.
func applyCostSaver(cfg *Config) {
	if !cfg.AI.CostSaver {
		return
	}
	ai := &cfg.AI
	ai.MaxPromptChars = minInt(ai.MaxPromptChars, 900)
	ai.MaxHistoryItems = minInt(ai.MaxHistoryItems, 2)
	ai.MaxScopeOutputTokens = minInt(ai.MaxScopeOutputTokens, 360)
	ai.MaxPriceOutputTokens = minInt(ai.MaxPriceOutputTokens, 520)
	ai.QueueConcurrency = minInt(ai.QueueConcurrency, 1)
	ai.RetryAttempts = minInt(ai.RetryAttempts, 2)
	if ai.RetryBaseDelay < 450*time.Millisecond {
		ai.RetryBaseDelay = 450 * time.Millisecond
	}
	if ai.CacheTTL < 25*time.Minute {
		ai.CacheTTL = 25 * time.Minute
	}
	if ai.CacheMaxEntries < 500 {
		ai.CacheMaxEntries = 500
	}
}

// envInt reads an integer environment variable, truncating fractional
// values and flooring at 1. Unset or unparseable values keep fallback.
func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return fallback
	}
	n := int(math.Trunc(f))
	if n < 1 {
		return 1
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
