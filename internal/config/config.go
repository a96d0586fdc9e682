// Package config assembles run settings from defaults, an optional YAML
// settings file, and LOGIC_INDEX_* environment variables. Command-line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phobologic/logicindex/internal/change"
	"github.com/phobologic/logicindex/internal/llm"
)

const (
	StateDirName     = ".claude"
	CacheFileName    = "logic_index.json"
	SettingsFileName = "logic_index.yaml"
	OutputFileName   = "logic_tree.md"

	envPrefix = "LOGIC_INDEX_"
)

// Duration is a time.Duration that decodes from either a number of seconds
// or a Go duration string.
type Duration time.Duration

// ParseTimeout parses "90" as ninety seconds and "2m" as two minutes.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative timeout %q", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return d, nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseTimeout(n.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds every setting of an indexing run.
type Config struct {
	// Root is the repository being indexed. It is never read from files.
	Root string `yaml:"-"`

	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	Workers           int      `yaml:"max_workers"`
	RetryLimit        int      `yaml:"retry_limit"`
	Timeout           Duration `yaml:"timeout"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       float32  `yaml:"temperature"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`

	FilterSmall     bool   `yaml:"filter_small"`
	MinLines        int    `yaml:"min_lines"`
	HashMode        string `yaml:"hash_mode"`
	ContextBudget   int    `yaml:"context_budget"`
	BatchTokenLimit int    `yaml:"batch_token_limit"`
	// MaxFileSize skips source files larger than this many bytes.
	MaxFileSize int `yaml:"max_file_size"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Provider:        string(llm.ProviderOpenAI),
		Workers:         5,
		RetryLimit:      3,
		Timeout:         Duration(60 * time.Second),
		MaxTokens:       2048,
		Temperature:     0.2,
		FilterSmall:     true,
		MinLines:        3,
		HashMode:        string(change.StripAll),
		ContextBudget:   2000,
		BatchTokenLimit: 6000,
		MaxFileSize:     1_000_000,
	}
}

// StateDir is the directory holding the cache, exclusion file, settings
// and rendered output.
func (c Config) StateDir() string { return filepath.Join(c.Root, StateDirName) }

func (c Config) CachePath() string    { return filepath.Join(c.StateDir(), CacheFileName) }
func (c Config) SettingsPath() string { return filepath.Join(c.StateDir(), SettingsFileName) }
func (c Config) OutputPath() string   { return filepath.Join(c.StateDir(), OutputFileName) }

// ModelName returns the configured model or the provider default.
func (c Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return llm.DefaultModels[llm.Provider(c.Provider)]
}

// Policy returns the change detection policy.
func (c Config) Policy() change.Policy {
	mode, _ := change.ParseHashMode(c.HashMode)
	return change.Policy{Mode: mode, FilterSmall: c.FilterSmall, MinLines: c.MinLines}
}

// Load reads settings for root. getenv is usually os.Getenv; a nil logger
// uses slog.Default.
func Load(root string, getenv func(string) string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()
	cfg.Root = root

	data, err := os.ReadFile(cfg.SettingsPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("reading settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", cfg.SettingsPath(), err)
		}
		cfg.Root = root
	}

	applyEnv(&cfg, getenv, logger)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings no run can use.
func (c Config) Validate() error {
	switch llm.Provider(c.Provider) {
	case llm.ProviderOpenAI, llm.ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if _, err := change.ParseHashMode(c.HashMode); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.Workers)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must not be negative, got %d", c.RetryLimit)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string, logger *slog.Logger) {
	get := func(key string) (string, bool) {
		v := strings.TrimSpace(getenv(envPrefix + key))
		return v, v != ""
	}
	def := Default()

	if v, ok := get("PROVIDER"); ok {
		cfg.Provider = strings.ToLower(v)
	}
	if v, ok := get("API_KEY"); ok {
		cfg.APIKey = v
	}
	if cfg.APIKey == "" {
		switch llm.Provider(cfg.Provider) {
		case llm.ProviderGemini:
			cfg.APIKey = getenv("GEMINI_API_KEY")
		default:
			cfg.APIKey = getenv("OPENAI_API_KEY")
		}
	}
	if v, ok := get("BASE_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok := get("MODEL"); ok {
		cfg.Model = v
	}
	if v, ok := get("HASH_MODE"); ok {
		cfg.HashMode = strings.ToLower(v)
	}

	intVar := func(key string, dst *int, fallback, lowest int) {
		v, ok := get(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < lowest {
			logger.Warn("invalid environment value, using default", "key", envPrefix+key, "value", v, "default", fallback)
			*dst = fallback
			return
		}
		*dst = n
	}
	intVar("MAX_WORKERS", &cfg.Workers, def.Workers, 1)
	intVar("RETRY_LIMIT", &cfg.RetryLimit, def.RetryLimit, 0)
	intVar("MAX_TOKENS", &cfg.MaxTokens, def.MaxTokens, 1)
	intVar("MIN_LINES", &cfg.MinLines, def.MinLines, 0)
	intVar("CONTEXT_BUDGET", &cfg.ContextBudget, def.ContextBudget, 0)
	intVar("BATCH_TOKEN_LIMIT", &cfg.BatchTokenLimit, def.BatchTokenLimit, 1)
	intVar("MAX_FILE_SIZE", &cfg.MaxFileSize, def.MaxFileSize, 1)

	if v, ok := get("TIMEOUT"); ok {
		d, err := ParseTimeout(v)
		if err != nil {
			logger.Warn("invalid environment value, using default", "key", envPrefix+"TIMEOUT", "value", v)
			d = time.Duration(def.Timeout)
		}
		cfg.Timeout = Duration(d)
	}
	if v, ok := get("RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			logger.Warn("invalid environment value, using default", "key", envPrefix+"RPS", "value", v)
			f = def.RequestsPerSecond
		}
		cfg.RequestsPerSecond = f
	}
	if v, ok := get("TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			logger.Warn("invalid environment value, using default", "key", envPrefix+"TEMPERATURE", "value", v)
			f = float64(def.Temperature)
		}
		cfg.Temperature = float32(f)
	}
	if v, ok := get("FILTER_SMALL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid environment value, using default", "key", envPrefix+"FILTER_SMALL", "value", v)
			b = def.FilterSmall
		}
		cfg.FilterSmall = b
	}
}

// WriteDefault writes the default settings to path, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
