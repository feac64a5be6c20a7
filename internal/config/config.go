package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File names looked up in the settings directory. YAML wins over JSON when
// both exist.
const (
	JSONFile = "settings.json"
	YAMLFile = "settings.yaml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROMPTCHAIN_"

// Config holds all promptchain server configuration.
// Priority: env vars > settings.yaml > settings.json > defaults.
type Config struct {
	ListenAddr   string    `json:"listen_addr" yaml:"listen_addr"`
	BaseURL      string    `json:"base_url" yaml:"base_url"`
	DBPath       string    `json:"db_path" yaml:"db_path"`
	LogLevel     string    `json:"log_level" yaml:"log_level"`
	LogFormat    string    `json:"log_format" yaml:"log_format"`
	Panel        bool      `json:"panel" yaml:"panel"`
	HistoryLimit int       `json:"history_limit" yaml:"history_limit"`
	Author       string    `json:"author" yaml:"author"`
	Retention    Retention `json:"retention" yaml:"retention"`
}

// Retention mirrors the scheduler policy in settings files.
type Retention struct {
	Schedule string `json:"schedule" yaml:"schedule"`
	Keep     int    `json:"keep" yaml:"keep"`
}

// Dir returns the settings directory, ~/.promptchain.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptchain"
	}
	return filepath.Join(home, ".promptchain")
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		ListenAddr:   ":4200",
		DBPath:       filepath.Join(dir, "promptchain.db"),
		LogLevel:     "info",
		LogFormat:    "text",
		HistoryLimit: 100,
		Retention:    Retention{Schedule: "0 3 * * *", Keep: 20},
	}
}

// Load layers defaults, the settings files in dir and environment variables
// read through getenv. Missing files are skipped; malformed ones are errors.
func Load(dir string, getenv func(string) string) (Config, error) {
	cfg := Default(dir)

	if err := readFile(filepath.Join(dir, JSONFile), json.Unmarshal, &cfg); err != nil {
		return cfg, err
	}
	if err := readFile(filepath.Join(dir, YAMLFile), yaml.Unmarshal, &cfg); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	return cfg, nil
}

func readFile(path string, unmarshal func([]byte, any) error, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"LISTEN_ADDR":        &cfg.ListenAddr,
		"BASE_URL":           &cfg.BaseURL,
		"DB_PATH":            &cfg.DBPath,
		"LOG_LEVEL":          &cfg.LogLevel,
		"LOG_FORMAT":         &cfg.LogFormat,
		"AUTHOR":             &cfg.Author,
		"RETENTION_SCHEDULE": &cfg.Retention.Schedule,
	}
	for key, dst := range strs {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HISTORY_LIMIT":  &cfg.HistoryLimit,
		"RETENTION_KEEP": &cfg.Retention.Keep,
	}
	for key, dst := range ints {
		v := getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v := getenv(EnvPrefix + "PANEL"); v != "" {
		cfg.Panel = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

// Diff describes what changed between two configurations.
type Diff struct {
	PanelChanged     bool
	LogLevelChanged  bool
	RetentionChanged bool
	EditorChanged    bool
	RestartNeeded    []string // fields that require a server restart
}

// Changed reports whether anything differs.
func (d Diff) Changed() bool {
	return d.PanelChanged || d.LogLevelChanged || d.RetentionChanged || d.EditorChanged || len(d.RestartNeeded) > 0
}

// Compare diffs old against new.
func Compare(old, new Config) Diff {
	var d Diff
	d.PanelChanged = old.Panel != new.Panel
	d.LogLevelChanged = old.LogLevel != new.LogLevel
	d.RetentionChanged = old.Retention != new.Retention
	d.EditorChanged = old.HistoryLimit != new.HistoryLimit || old.Author != new.Author

	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.BaseURL != new.BaseURL {
		d.RestartNeeded = append(d.RestartNeeded, "base_url")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	return d
}
