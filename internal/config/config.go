package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// GitLabConfig holds connection and authentication settings for GitLab.
type GitLabConfig struct {
	URL          string `toml:"url"`
	Token        string `toml:"token"`
	ClientID     string `toml:"client_id"`
	RefreshToken string `toml:"refresh_token"`
}

// AnalysisConfig holds the knobs for one analysis run.
type AnalysisConfig struct {
	// Projects is the list of GitLab project IDs or "group/name" paths to analyze.
	Projects []string `toml:"projects"`
	// LookbackDays bounds the historical window: pipelines updated within
	// the last N days are analyzed.
	LookbackDays int `toml:"lookback_days"`
	// Workers is the number of concurrent per-pipeline job fetches.
	Workers int `toml:"workers"`
	// RetryAttempts is the fetch attempt budget for transient failures.
	RetryAttempts int `toml:"retry_attempts"`
	// RetryBackoff is the exponential backoff multiplier between attempts.
	RetryBackoff float64 `toml:"retry_backoff"`
}

// OutputConfig controls where and how result files are written.
type OutputConfig struct {
	Dir  string `toml:"dir"`
	Zip  bool   `toml:"zip"`
	JSON bool   `toml:"json"`
}

// Config holds all flakewatch configuration.
type Config struct {
	GitLab   GitLabConfig   `toml:"gitlab"`
	Analysis AnalysisConfig `toml:"analysis"`
	Output   OutputConfig   `toml:"output"`
}

// GitLab.com rate limits allow roughly 7,200 authenticated requests per hour
// with higher burst throughput on the jobs endpoint; 8 workers stays safely
// under that ceiling.
const (
	defaultLookbackDays  = 30
	defaultWorkers       = 8
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 2
)

// LookbackDaysOrDefault returns LookbackDays if set, otherwise 30.
func (c Config) LookbackDaysOrDefault() int {
	if c.Analysis.LookbackDays > 0 {
		return c.Analysis.LookbackDays
	}
	return defaultLookbackDays
}

// WorkersOrDefault returns Workers if set, otherwise 8.
func (c Config) WorkersOrDefault() int {
	if c.Analysis.Workers > 0 {
		return c.Analysis.Workers
	}
	return defaultWorkers
}

// RetryAttemptsOrDefault returns RetryAttempts if set, otherwise 3.
func (c Config) RetryAttemptsOrDefault() int {
	if c.Analysis.RetryAttempts > 0 {
		return c.Analysis.RetryAttempts
	}
	return defaultRetryAttempts
}

// RetryBackoffOrDefault returns RetryBackoff if set, otherwise 2.
func (c Config) RetryBackoffOrDefault() float64 {
	if c.Analysis.RetryBackoff > 0 {
		return c.Analysis.RetryBackoff
	}
	return defaultRetryBackoff
}

// OutputDirOrDefault returns Output.Dir if set, otherwise the current directory.
func (c Config) OutputDirOrDefault() string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	return "."
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - GITLAB_TOKEN       overrides gitlab.token
//   - GITLAB_URL         overrides gitlab.url
//   - FLAKEWATCH_WORKERS overrides analysis.workers
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the flakewatch config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return home + "/.config/flakewatch/config.toml"
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.GitLab.Token = v
	}
	if v := os.Getenv("GITLAB_URL"); v != "" {
		cfg.GitLab.URL = v
	}
	if v := os.Getenv("FLAKEWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Analysis.Workers = n
		}
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as
// needed. Existing file contents are overwritten. Permissions on the written
// file are 0600 because it may contain tokens.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
