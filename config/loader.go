package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file (YAML, JSON or TOML by
// extension) on top of the defaults, applies LLMTRADER_* environment
// overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	switch formatOf(path) {
	case "json":
		err = json.Unmarshal(data, cfg)
	case "toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()
	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (format by extension, JSON when
// the extension is unknown)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch formatOf(path) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// ApplyEnv overwrites fields whose LLMTRADER_* variable is set. Secrets are
// expected to come from here rather than from the file.
func ApplyEnv(cfg *Config) {
	setStr(&cfg.Oracle.APIKey, "LLMTRADER_ORACLE_API_KEY")
	setStr(&cfg.Oracle.BaseURL, "LLMTRADER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.Model, "LLMTRADER_ORACLE_MODEL")

	setStr(&cfg.Cache.Addr, "LLMTRADER_REDIS_ADDR")
	setStr(&cfg.Cache.Password, "LLMTRADER_REDIS_PASSWORD")

	setStr(&cfg.Journal.DSN, "LLMTRADER_JOURNAL_DSN")
	setStr(&cfg.Journal.DBPath, "LLMTRADER_JOURNAL_DB_PATH")

	setStr(&cfg.Backtest.Data, "LLMTRADER_DATA")
	setStr(&cfg.Backtest.Decisions, "LLMTRADER_DECISIONS")

	setStr(&cfg.LogLevel, "LLMTRADER_LOG_LEVEL")
	setStr(&cfg.LogFormat, "LLMTRADER_LOG_FORMAT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
