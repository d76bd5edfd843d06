package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMerlinBase = "https://api-v1.mymerlin.io/api/merlin/public/userDeFiPositions/all"
	defaultModel      = "claude-sonnet-4-20250514"
)

type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Plain      bool
	Verbose    bool
	Timeout    string
	NoCache    bool
}

type Settings struct {
	OutputMode      string
	Verbose         bool
	Timeout         time.Duration
	Retries         int
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	CatalogTTL      time.Duration
	MaxStale        time.Duration
	MerlinBaseURL   string
	MerlinAPIKey    string
	AnthropicAPIKey string
	Model           string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Verbose *bool  `yaml:"verbose"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled    *bool  `yaml:"enabled"`
		CatalogTTL string `yaml:"catalog_ttl"`
		MaxStale   string `yaml:"max_stale"`
		Path       string `yaml:"path"`
		LockPath   string `yaml:"lock_path"`
	} `yaml:"cache"`
	Providers struct {
		Merlin struct {
			BaseURL   string `yaml:"base_url"`
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"merlin"`
		Anthropic struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
			Model     string `yaml:"model"`
		} `yaml:"anthropic"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "plain"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.CatalogTTL <= 0 {
		settings.CatalogTTL = time.Minute
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.MerlinBaseURL == "" {
		settings.MerlinBaseURL = defaultMerlinBase
	}
	if settings.Model == "" {
		settings.Model = defaultModel
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:    "plain",
		Timeout:       10 * time.Second,
		Retries:       0,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		CatalogTTL:    time.Minute,
		MaxStale:      5 * time.Minute,
		MerlinBaseURL: defaultMerlinBase,
		Model:         defaultModel,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "advisor", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "advisor")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Verbose != nil {
		settings.Verbose = *cfg.Verbose
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.CatalogTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.CatalogTTL)
		if err != nil {
			return fmt.Errorf("config cache.catalog_ttl: %w", err)
		}
		settings.CatalogTTL = d
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Providers.Merlin.BaseURL != "" {
		settings.MerlinBaseURL = cfg.Providers.Merlin.BaseURL
	}
	if cfg.Providers.Merlin.APIKey != "" {
		settings.MerlinAPIKey = cfg.Providers.Merlin.APIKey
	}
	if cfg.Providers.Merlin.APIKeyEnv != "" {
		settings.MerlinAPIKey = os.Getenv(cfg.Providers.Merlin.APIKeyEnv)
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		settings.AnthropicAPIKey = cfg.Providers.Anthropic.APIKey
	}
	if cfg.Providers.Anthropic.APIKeyEnv != "" {
		settings.AnthropicAPIKey = os.Getenv(cfg.Providers.Anthropic.APIKeyEnv)
	}
	if cfg.Providers.Anthropic.Model != "" {
		settings.Model = cfg.Providers.Anthropic.Model
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ADVISOR_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("ADVISOR_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Verbose = b
		}
	}
	if v := os.Getenv("ADVISOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ADVISOR_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ADVISOR_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("ADVISOR_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("ADVISOR_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("ADVISOR_MERLIN_BASE_URL"); v != "" {
		settings.MerlinBaseURL = v
	}
	if v := os.Getenv("ADVISOR_MERLIN_API_KEY"); v != "" {
		settings.MerlinAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		settings.AnthropicAPIKey = v
	}
	if v := os.Getenv("ADVISOR_MODEL"); v != "" {
		settings.Model = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Verbose {
		settings.Verbose = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
