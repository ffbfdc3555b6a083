package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelhorn/tradewarden/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTradeSource struct {
	byID    map[string]domain.Trade
	open    []domain.Trade
	history []domain.Trade
	gotOpts domain.ListOpts
	err     error
}

func (f *fakeTradeSource) GetByID(_ context.Context, id string) (domain.Trade, error) {
	if f.err != nil {
		return domain.Trade{}, f.err
	}
	t, ok := f.byID[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTradeSource) ListOpen(context.Context) ([]domain.Trade, error) {
	return f.open, f.err
}

func (f *fakeTradeSource) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	f.gotOpts = opts
	return f.history, f.err
}

func sampleTrade(id string) domain.Trade {
	return domain.Trade{
		ID:          id,
		Symbol:      "XAUUSD",
		Direction:   domain.DirectionBuy,
		EntryPrice:  2000,
		StopLoss:    1990,
		LotSize:     0.5,
		StrategyTag: "alpha",
		OpenTime:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Status:      domain.TradeStatusOpen,
	}
}

func TestTrades_ListOpen(t *testing.T) {
	src := &fakeTradeSource{open: []domain.Trade{sampleTrade("t1"), sampleTrade("t2")}}
	h := NewTradesHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/trades/open", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var got []domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
}

func TestTrades_ListOpenEmptyIsArray(t *testing.T) {
	h := NewTradesHandler(&fakeTradeSource{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/trades/open", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestTrades_GetTradeNotFound(t *testing.T) {
	h := NewTradesHandler(&fakeTradeSource{byID: map[string]domain.Trade{}}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.GetTrade(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "trade not found")
}

func TestTrades_GetTrade(t *testing.T) {
	src := &fakeTradeSource{byID: map[string]domain.Trade{"t1": sampleTrade("t1")}}
	h := NewTradesHandler(src, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/trades/t1", nil)
	req.SetPathValue("id", "t1")
	rec := httptest.NewRecorder()
	h.GetTrade(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "XAUUSD", got.Symbol)
}

func TestTrades_ListHistoryPagination(t *testing.T) {
	src := &fakeTradeSource{}
	h := NewTradesHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999&offset=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, src.gotOpts.Limit)
	assert.Equal(t, 20, src.gotOpts.Offset)
}

func TestTrades_ListHistoryBadSince(t *testing.T) {
	h := NewTradesHandler(&fakeTradeSource{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, httptest.NewRequest(http.MethodGet, "/api/trades?since=yesterday", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid since timestamp")
}

func TestTrades_ListHistoryTimeBounds(t *testing.T) {
	src := &fakeTradeSource{}
	h := NewTradesHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.ListHistory(rec, httptest.NewRequest(http.MethodGet,
		"/api/trades?since=2026-03-01T00:00:00Z&until=2026-03-10T00:00:00Z", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, src.gotOpts.Since)
	require.NotNil(t, src.gotOpts.Until)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *src.gotOpts.Since)
}

func TestStatus_GetStatus(t *testing.T) {
	h := NewStatusHandler(func(context.Context) (domain.Status, error) {
		return domain.Status{Mode: "live", RiskStrategy: "tiered_tp", OpenTrades: 3, TrackedStates: 3}, nil
	}, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "live", got.Mode)
	assert.Equal(t, 3, got.OpenTrades)
}

func TestStatus_GetStatusError(t *testing.T) {
	h := NewStatusHandler(func(context.Context) (domain.Status, error) {
		return domain.Status{}, errors.New("store down")
	}, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeStatsSource struct {
	gotDays int
	stats   domain.Statistics
}

func (f *fakeStatsSource) GetStatistics(_ context.Context, days int) (domain.Statistics, error) {
	f.gotDays = days
	return f.stats, nil
}

func TestStatistics_DefaultWindow(t *testing.T) {
	src := &fakeStatsSource{stats: domain.Statistics{TotalTrades: 5, Wins: 3}}
	h := NewStatisticsHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatistics(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, src.gotDays)
}

func TestStatistics_CustomWindow(t *testing.T) {
	src := &fakeStatsSource{}
	h := NewStatisticsHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatistics(rec, httptest.NewRequest(http.MethodGet, "/api/statistics?days=7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, src.gotDays)
}

type fakeDrawdownSource struct {
	status domain.DrawdownStatus
}

func (f *fakeDrawdownSource) GetDrawdownStatus() domain.DrawdownStatus { return f.status }

func TestDrawdown_GetDrawdown(t *testing.T) {
	src := &fakeDrawdownSource{status: domain.DrawdownStatus{
		StartBalance:    10000,
		MaxLossPerScope: 600,
		GlobalLocked:    true,
	}}
	h := NewDrawdownHandler(src, testLogger())

	rec := httptest.NewRecorder()
	h.GetDrawdown(rec, httptest.NewRequest(http.MethodGet, "/api/drawdown", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.DrawdownStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.GlobalLocked)
	assert.InDelta(t, 600, got.MaxLossPerScope, 1e-9)
}
