package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrTradingLocked        = errors.New("trading locked by drawdown circuit breaker")
	ErrTradeLimitReached    = errors.New("trade limit reached")
	ErrContradictingTrade   = errors.New("opposite-direction trade already open on symbol")
	ErrInsufficientRiskInfo = errors.New("cannot resolve original entry and stop-loss")
	ErrVolumeTooSmall       = errors.New("computed volume below broker minimum")
	ErrBrokerUnavailable    = errors.New("broker connector unavailable")
	ErrWSDisconnect         = errors.New("websocket disconnected")
)
