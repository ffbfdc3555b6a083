package domain

import "time"

// StrategyStats is the per-strategy slice of the overall statistics.
type StrategyStats struct {
	StrategyTag string
	Trades      int
	Wins        int
	Losses      int
	WinRate     float64
	TotalPnL    float64
}

// Statistics summarizes closed-trade performance over a trailing window.
// Computed purely from persisted CLOSED trades.
type Statistics struct {
	Days         int
	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	TotalPnL     float64
	ByStrategy   []StrategyStats
}

// SymbolLock reports one locked drawdown scope.
type SymbolLock struct {
	Scope       string
	LockedUntil time.Time
	Loss        float64
}

// DrawdownStatus is the read-only snapshot of the circuit breaker.
type DrawdownStatus struct {
	StartBalance    float64
	MaxLossPerScope float64
	GlobalLoss      float64
	GlobalLocked    bool
	Locks           []SymbolLock
}

// Status is the read-only engine snapshot served by the API.
type Status struct {
	Mode          string
	RiskStrategy  string
	OpenTrades    int
	TrackedStates int
	Drawdown      DrawdownStatus
	GeneratedAt   time.Time
}
