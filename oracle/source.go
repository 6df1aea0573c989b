package oracle

import (
	"context"
	"log/slog"

	"github.com/rustyeddy/llmtrader/backtest"
	"github.com/rustyeddy/llmtrader/risk"
)

// Completer is the part of Client that Source needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Source is a backtest.DecisionSource backed by a live model. Replies are
// cached by prompt when a cache is set.
type Source struct {
	llm    Completer
	model  string
	system string
	cache  Cache
	log    *slog.Logger
}

func NewSource(llm Completer, model string, policy risk.Policy, cache Cache, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		llm:    llm,
		model:  model,
		system: SystemPrompt(policy),
		cache:  cache,
		log:    log,
	}
}

func (s *Source) Decide(ctx context.Context, req backtest.Request) (string, error) {
	user := UserPrompt(req)
	key := CacheKey(s.model, s.system, user)

	if s.cache != nil {
		text, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("oracle cache read failed", "bar", req.Index, "error", err)
		} else if ok {
			s.log.Debug("oracle cache hit", "bar", req.Index)
			return text, nil
		}
	}

	text, err := s.llm.Complete(ctx, s.system, user)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, text); err != nil {
			s.log.Warn("oracle cache write failed", "bar", req.Index, "error", err)
		}
	}
	return text, nil
}

var _ backtest.DecisionSource = (*Source)(nil)
