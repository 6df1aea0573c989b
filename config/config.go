package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/market"
	"github.com/rustyeddy/llmtrader/oracle"
	"github.com/rustyeddy/llmtrader/risk"
	"github.com/shopspring/decimal"
)

// Config represents the complete run configuration
type Config struct {
	Account   AccountConfig    `json:"account" yaml:"account" toml:"account"`
	Backtest  BacktestConfig   `json:"backtest" yaml:"backtest" toml:"backtest"`
	Policy    PolicyConfig     `json:"policy" yaml:"policy" toml:"policy"`
	Contracts []ContractConfig `json:"contracts,omitempty" yaml:"contracts,omitempty" toml:"contracts,omitempty"`
	Oracle    OracleConfig     `json:"oracle" yaml:"oracle" toml:"oracle"`
	Cache     CacheConfig      `json:"cache" yaml:"cache" toml:"cache"`
	Journal   JournalConfig    `json:"journal" yaml:"journal" toml:"journal"`
	Sweep     SweepConfig      `json:"sweep" yaml:"sweep" toml:"sweep"`
	LogLevel  string           `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string           `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id" toml:"id"`
	Currency string  `json:"currency" yaml:"currency" toml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance" toml:"balance"`
}

// BacktestConfig selects the data, the decisions and the replay options
type BacktestConfig struct {
	Symbol          string `json:"symbol" yaml:"symbol" toml:"symbol"`
	Timeframe       string `json:"timeframe" yaml:"timeframe" toml:"timeframe"`
	Data            string `json:"data" yaml:"data" toml:"data"`
	// Decisions is a fixture file. Empty means ask the oracle.
	Decisions       string `json:"decisions,omitempty" yaml:"decisions,omitempty" toml:"decisions"`
	From            string `json:"from,omitempty" yaml:"from,omitempty" toml:"from"`
	To              string `json:"to,omitempty" yaml:"to,omitempty" toml:"to"`
	GapTolerance    int    `json:"gap_tolerance" yaml:"gap_tolerance" toml:"gap_tolerance"`
	DecisionTimeout string `json:"decision_timeout" yaml:"decision_timeout" toml:"decision_timeout"`
	Lookback        int    `json:"lookback" yaml:"lookback" toml:"lookback"`
	CloseAtEnd      bool   `json:"close_at_end" yaml:"close_at_end" toml:"close_at_end"`
	Seed            int64  `json:"seed" yaml:"seed" toml:"seed"`
}

// PolicyConfig contains the hard risk limits
type PolicyConfig struct {
	MaxLeverage           float64 `json:"max_leverage" yaml:"max_leverage" toml:"max_leverage"`
	MaxPositionPct        float64 `json:"max_position_pct" yaml:"max_position_pct" toml:"max_position_pct"`
	MinRiskReward         float64 `json:"min_risk_reward" yaml:"min_risk_reward" toml:"min_risk_reward"`
	MaintenanceMarginRate float64 `json:"maintenance_margin_rate" yaml:"maintenance_margin_rate" toml:"maintenance_margin_rate"`
}

// ContractConfig adds or replaces an instrument preset
type ContractConfig struct {
	Symbol       string  `json:"symbol" yaml:"symbol" toml:"symbol"`
	Settlement   string  `json:"settlement" yaml:"settlement" toml:"settlement"` // linear or inverse
	ContractSize float64 `json:"contract_size" yaml:"contract_size" toml:"contract_size"`
	TickSize     float64 `json:"tick_size" yaml:"tick_size" toml:"tick_size"`
	MinQty       float64 `json:"min_qty" yaml:"min_qty" toml:"min_qty"`
	QtyStep      float64 `json:"qty_step" yaml:"qty_step" toml:"qty_step"`
}

// OracleConfig describes the chat-completions endpoint
type OracleConfig struct {
	BaseURL      string  `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey       string  `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key"`
	Model        string  `json:"model" yaml:"model" toml:"model"`
	Temperature  float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Timeout      string  `json:"timeout" yaml:"timeout" toml:"timeout"`
	MaxRetries   int     `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	RetryBackoff string  `json:"retry_backoff" yaml:"retry_backoff" toml:"retry_backoff"`
	RatePerMin   float64 `json:"rate_per_min" yaml:"rate_per_min" toml:"rate_per_min"`
}

// CacheConfig selects where oracle replies are kept
type CacheConfig struct {
	Type     string `json:"type" yaml:"type" toml:"type"` // "none", "memory" or "redis"
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty" toml:"db"`
	TTL      string `json:"ttl,omitempty" yaml:"ttl,omitempty" toml:"ttl"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type" toml:"type"` // "memory", "csv", "sqlite" or "postgres"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty" toml:"trades_file"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty" toml:"equity_file"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty" toml:"db_path"`
	DSN        string `json:"dsn,omitempty" yaml:"dsn,omitempty" toml:"dsn"`
	MaxConns   int    `json:"max_conns,omitempty" yaml:"max_conns,omitempty" toml:"max_conns"`
}

// SweepConfig lists policy variants replayed side by side
type SweepConfig struct {
	Concurrency int             `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	Variants    []VariantConfig `json:"variants,omitempty" yaml:"variants,omitempty" toml:"variants"`
}

// VariantConfig overrides the base run. Zero fields keep the base value.
type VariantConfig struct {
	Name           string  `json:"name" yaml:"name" toml:"name"`
	MaxLeverage    float64 `json:"max_leverage,omitempty" yaml:"max_leverage,omitempty" toml:"max_leverage"`
	MaxPositionPct float64 `json:"max_position_pct,omitempty" yaml:"max_position_pct,omitempty" toml:"max_position_pct"`
	MinRiskReward  float64 `json:"min_risk_reward,omitempty" yaml:"min_risk_reward,omitempty" toml:"min_risk_reward"`
	Lookback       int     `json:"lookback,omitempty" yaml:"lookback,omitempty" toml:"lookback"`
	Seed           int64   `json:"seed,omitempty" yaml:"seed,omitempty" toml:"seed"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USDT",
			Balance:  10000,
		},
		Backtest: BacktestConfig{
			Symbol:          "BTCUSDT",
			Timeframe:       "1h",
			Data:            "./data/BTCUSDT-1h.csv",
			DecisionTimeout: "30s",
			Lookback:        24,
			CloseAtEnd:      true,
			Seed:            1,
		},
		Policy: PolicyConfig{
			MaxLeverage:           5,
			MaxPositionPct:        30,
			MinRiskReward:         2,
			MaintenanceMarginRate: 0.004,
		},
		Oracle: OracleConfig{
			BaseURL:      "https://api.deepseek.com",
			Model:        "deepseek-chat",
			Temperature:  0.3,
			MaxTokens:    2000,
			Timeout:      "60s",
			MaxRetries:   3,
			RetryBackoff: "2s",
		},
		Cache: CacheConfig{
			Type: "memory",
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
		},
		Sweep: SweepConfig{
			Concurrency: 4,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("contracts: %w", err)
	}
	if err := c.RiskPolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := c.BacktestRunConfig(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if _, _, err := c.Range(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if _, err := c.OracleClientConfig(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	switch c.Cache.Type {
	case "", "none", "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr required for redis type")
		}
		if _, err := parseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("cache.ttl: %w", err)
		}
	default:
		return fmt.Errorf("cache.type must be 'none', 'memory' or 'redis'")
	}

	switch c.Journal.Type {
	case "memory":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn required for Postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'memory', 'csv', 'sqlite' or 'postgres'")
	}

	if c.Sweep.Concurrency < 0 {
		return fmt.Errorf("sweep.concurrency must not be negative")
	}
	seen := make(map[string]bool, len(c.Sweep.Variants))
	for i, v := range c.Sweep.Variants {
		if v.Name == "" {
			return fmt.Errorf("sweep.variants[%d].name is required", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("sweep.variants: duplicate name %q", v.Name)
		}
		seen[v.Name] = true
	}
	if _, err := c.Variants(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error")
	}
	return nil
}

// RiskPolicy converts the policy section.
func (c *Config) RiskPolicy() risk.Policy {
	return risk.Policy{
		MaxLeverage:           decimal.NewFromFloat(c.Policy.MaxLeverage),
		MaxPositionPct:        decimal.NewFromFloat(c.Policy.MaxPositionPct),
		MinRiskReward:         decimal.NewFromFloat(c.Policy.MinRiskReward),
		MaintenanceMarginRate: decimal.NewFromFloat(c.Policy.MaintenanceMarginRate),
	}
}

// Registry returns the preset contracts plus the configured ones.
func (c *Config) Registry() (*market.Registry, error) {
	reg := market.DefaultRegistry()
	for _, cc := range c.Contracts {
		settle, err := market.ParseSettlement(cc.Settlement)
		if err != nil {
			return nil, err
		}
		spec := market.ContractSpec{
			Symbol:       strings.ToUpper(cc.Symbol),
			Settlement:   settle,
			ContractSize: decimal.NewFromFloat(cc.ContractSize),
			TickSize:     decimal.NewFromFloat(cc.TickSize),
			MinQty:       decimal.NewFromFloat(cc.MinQty),
			QtyStep:      decimal.NewFromFloat(cc.QtyStep),
		}
		if err := reg.Add(spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BacktestRunConfig builds the engine configuration of the base run.
func (c *Config) BacktestRunConfig() (backtest.Config, error) {
	reg, err := c.Registry()
	if err != nil {
		return backtest.Config{}, err
	}
	timeout, err := parseDuration(c.Backtest.DecisionTimeout)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("decision_timeout: %w", err)
	}

	bc := backtest.Config{
		Symbol:          c.Backtest.Symbol,
		Timeframe:       c.Backtest.Timeframe,
		InitialCapital:  decimal.NewFromFloat(c.Account.Balance),
		Policy:          c.RiskPolicy(),
		Contracts:       reg,
		GapTolerance:    c.Backtest.GapTolerance,
		DecisionTimeout: timeout,
		Lookback:        c.Backtest.Lookback,
		CloseAtEnd:      c.Backtest.CloseAtEnd,
		Seed:            c.Backtest.Seed,
		Dataset:         c.Backtest.Data,
	}
	if err := bc.Validate(); err != nil {
		return backtest.Config{}, err
	}
	return bc, nil
}

// Variants expands the sweep section. Without variants the base run is the
// only one.
func (c *Config) Variants() ([]backtest.Variant, error) {
	base, err := c.BacktestRunConfig()
	if err != nil {
		return nil, err
	}
	if len(c.Sweep.Variants) == 0 {
		return []backtest.Variant{{Name: "base", Config: base}}, nil
	}

	out := make([]backtest.Variant, 0, len(c.Sweep.Variants))
	for _, v := range c.Sweep.Variants {
		vc := base
		if v.MaxLeverage > 0 {
			vc.Policy.MaxLeverage = decimal.NewFromFloat(v.MaxLeverage)
		}
		if v.MaxPositionPct > 0 {
			vc.Policy.MaxPositionPct = decimal.NewFromFloat(v.MaxPositionPct)
		}
		if v.MinRiskReward > 0 {
			vc.Policy.MinRiskReward = decimal.NewFromFloat(v.MinRiskReward)
		}
		if v.Lookback > 0 {
			vc.Lookback = v.Lookback
		}
		if v.Seed != 0 {
			vc.Seed = v.Seed
		}
		if err := vc.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.Name, err)
		}
		out = append(out, backtest.Variant{Name: v.Name, Config: vc})
	}
	return out, nil
}

// Range parses backtest.from and backtest.to. Zero times mean unbounded.
func (c *Config) Range() (from, to time.Time, err error) {
	if c.Backtest.From != "" {
		if from, err = market.ParseTimestamp(c.Backtest.From); err != nil {
			return from, to, fmt.Errorf("from: %w", err)
		}
	}
	if c.Backtest.To != "" {
		if to, err = market.ParseTimestamp(c.Backtest.To); err != nil {
			return from, to, fmt.Errorf("to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return from, to, fmt.Errorf("to must be after from")
	}
	return from, to, nil
}

// OracleClientConfig converts the oracle section. The API key is not
// required here; the client checks it when a live run needs it.
func (c *Config) OracleClientConfig() (oracle.ClientConfig, error) {
	timeout, err := parseDuration(c.Oracle.Timeout)
	if err != nil {
		return oracle.ClientConfig{}, fmt.Errorf("timeout: %w", err)
	}
	backoff, err := parseDuration(c.Oracle.RetryBackoff)
	if err != nil {
		return oracle.ClientConfig{}, fmt.Errorf("retry_backoff: %w", err)
	}
	if c.Oracle.MaxRetries < 0 || c.Oracle.MaxTokens < 0 || c.Oracle.RatePerMin < 0 {
		return oracle.ClientConfig{}, fmt.Errorf("max_retries, max_tokens and rate_per_min must not be negative")
	}
	return oracle.ClientConfig{
		BaseURL:      c.Oracle.BaseURL,
		APIKey:       c.Oracle.APIKey,
		Model:        c.Oracle.Model,
		Temperature:  c.Oracle.Temperature,
		MaxTokens:    c.Oracle.MaxTokens,
		Timeout:      timeout,
		MaxRetries:   c.Oracle.MaxRetries,
		RetryBackoff: backoff,
		RatePerMin:   c.Oracle.RatePerMin,
	}, nil
}

// RedisConfig converts the cache section.
func (c *Config) RedisConfig() (oracle.RedisConfig, error) {
	ttl, err := parseDuration(c.Cache.TTL)
	if err != nil {
		return oracle.RedisConfig{}, err
	}
	return oracle.RedisConfig{
		Addr:     c.Cache.Addr,
		Password: c.Cache.Password,
		DB:       c.Cache.DB,
		TTL:      ttl,
		Prefix:   c.Cache.Prefix,
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s must not be negative", s)
	}
	return d, nil
}
