package journal

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps everything in process. Used for sweeps and tests.
type Memory struct {
	mu     sync.Mutex
	trades []TradeRecord
	equity []EquitySnapshot
	runs   map[string]BacktestRun
	closed bool
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]BacktestRun)}
}

func (m *Memory) RecordTrade(t TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("journal: closed")
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) RecordEquity(e EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("journal: closed")
	}
	m.equity = append(m.equity, e)
	return nil
}

func (m *Memory) RecordBacktest(_ context.Context, r BacktestRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.RunID] = r
	return nil
}

func (m *Memory) GetBacktestRun(_ context.Context, runID string) (BacktestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return BacktestRun{}, fmt.Errorf("%w: backtest run %q", ErrNotFound, runID)
	}
	return r, nil
}

func (m *Memory) ListTradesByRunID(_ context.Context, runID string) ([]TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TradeRecord
	for _, t := range m.trades {
		if t.RunID == runID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) ListEquityByRunID(_ context.Context, runID string) ([]EquitySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EquitySnapshot
	for _, e := range m.equity {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Trades returns a copy of every recorded trade.
func (m *Memory) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TradeRecord(nil), m.trades...)
}

// Equity returns a copy of every recorded snapshot.
func (m *Memory) Equity() []EquitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EquitySnapshot(nil), m.equity...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
