package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/config"
	"github.com/rustyeddy/llmtrader/internal/logging"
	"github.com/rustyeddy/llmtrader/journal"
	"github.com/rustyeddy/llmtrader/oracle"
	"github.com/rustyeddy/llmtrader/risk"
	"gopkg.in/yaml.v3"
)

// loadConfig reads path, or starts from the defaults plus environment when
// path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	cfg := config.Default()
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

// configDoc is the YAML stored with each run summary. Secrets are dropped.
func configDoc(cfg *config.Config) []byte {
	c := *cfg
	c.Oracle.APIKey = ""
	c.Cache.Password = ""
	c.Journal.DSN = ""
	doc, err := yaml.Marshal(&c)
	if err != nil {
		return nil
	}
	return doc
}

// openJournal builds the configured journal. A non-empty suffix keeps the
// files of sweep variants apart.
func openJournal(ctx context.Context, jc config.JournalConfig, suffix string) (journal.Journal, error) {
	switch jc.Type {
	case "memory":
		return journal.NewMemory(), nil
	case "csv":
		return journal.NewCSV(withSuffix(jc.TradesFile, suffix), withSuffix(jc.EquityFile, suffix))
	case "sqlite":
		return journal.NewSQLite(withSuffix(jc.DBPath, suffix))
	case "postgres":
		return journal.NewPostgres(ctx, jc.DSN, jc.MaxConns)
	default:
		return nil, fmt.Errorf("unknown journal type %q", jc.Type)
	}
}

func withSuffix(path, suffix string) string {
	if suffix == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + suffix + ext
}

// sourceFactory builds decision sources that share one fixture or one
// client and cache.
type sourceFactory struct {
	name    string // "fixture" or "oracle"
	fixture *backtest.FixtureSource
	client  *oracle.Client
	cache   oracle.Cache
	log     *slog.Logger
	closers []func() error
}

func newSourceFactory(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sourceFactory, error) {
	sf := &sourceFactory{log: log}

	if cfg.Backtest.Decisions != "" {
		fx, err := backtest.LoadFixture(cfg.Backtest.Decisions)
		if err != nil {
			return nil, err
		}
		sf.name = "fixture"
		sf.fixture = fx
		log.Info("decision fixture loaded", "path", cfg.Backtest.Decisions, "entries", fx.Len())
		return sf, nil
	}

	cc, err := cfg.OracleClientConfig()
	if err != nil {
		return nil, err
	}
	client, err := oracle.NewClient(cc, log)
	if err != nil {
		return nil, fmt.Errorf("oracle: %w (set LLMTRADER_ORACLE_API_KEY or backtest.decisions)", err)
	}
	sf.name = "oracle"
	sf.client = client

	switch cfg.Cache.Type {
	case "memory":
		sf.cache = oracle.NewMemoryCache()
	case "redis":
		rc, err := cfg.RedisConfig()
		if err != nil {
			return nil, err
		}
		cache, err := oracle.NewRedisCache(ctx, rc)
		if err != nil {
			return nil, err
		}
		sf.cache = cache
		sf.closers = append(sf.closers, cache.Close)
	}
	log.Info("oracle source ready", "model", client.Model(), "cache", cfg.Cache.Type)
	return sf, nil
}

// For returns the source of a run under policy p.
func (sf *sourceFactory) For(p risk.Policy) backtest.DecisionSource {
	if sf.fixture != nil {
		return sf.fixture
	}
	return oracle.NewSource(sf.client, sf.client.Model(), p, sf.cache, sf.log)
}

func (sf *sourceFactory) Close() error {
	var first error
	for _, c := range sf.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
