// Package broker implements domain.Broker against the broker connector
// sidecar's REST API. The connector owns the terminal session, retries and
// reconnection; this client treats every call as atomic.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// BridgeConfig holds connection parameters for the connector sidecar.
type BridgeConfig struct {
	BaseURL string
	// APIToken is sent as a bearer token on every request.
	APIToken string
	Timeout  time.Duration
}

// BridgeClient talks to the connector sidecar over HTTP.
type BridgeClient struct {
	base   string
	token  string
	hc     *http.Client
	logger *slog.Logger
}

// NewBridgeClient creates a client for the given connector base URL.
func NewBridgeClient(cfg BridgeConfig, logger *slog.Logger) *BridgeClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BridgeClient{
		base:   base,
		token:  cfg.APIToken,
		hc:     &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "broker_bridge")),
	}
}

// wirePosition mirrors the connector's position JSON.
type wirePosition struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Volume       float64 `json:"volume"`
	OpenPrice    float64 `json:"open_price"`
	CurrentPrice float64 `json:"current_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	OpenTime     string  `json:"open_time"`
	Comment      string  `json:"comment"`
}

func (wp wirePosition) toDomain() domain.PositionSnapshot {
	snap := domain.PositionSnapshot{
		ID:           wp.ID,
		Symbol:       wp.Symbol,
		Side:         domain.Direction(wp.Side),
		Volume:       wp.Volume,
		OpenPrice:    wp.OpenPrice,
		CurrentPrice: wp.CurrentPrice,
		StopLoss:     wp.StopLoss,
		TakeProfit:   wp.TakeProfit,
		Profit:       wp.Profit,
		Swap:         wp.Swap,
		Comment:      wp.Comment,
	}
	if wp.OpenTime != "" {
		if t, err := time.Parse(time.RFC3339, wp.OpenTime); err == nil {
			snap.OpenTime = t
		}
	}
	return snap
}

// GetPositions returns the broker's current open positions.
func (b *BridgeClient) GetPositions(ctx context.Context) ([]domain.PositionSnapshot, error) {
	var out []wirePosition
	if err := b.get(ctx, "/positions", nil, &out); err != nil {
		return nil, fmt.Errorf("broker: get positions: %w", err)
	}
	snaps := make([]domain.PositionSnapshot, 0, len(out))
	for _, wp := range out {
		snaps = append(snaps, wp.toDomain())
	}
	return snaps, nil
}

// GetSymbolInfo returns instrument parameters for the given symbol.
func (b *BridgeClient) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	var out struct {
		Symbol     string  `json:"symbol"`
		PipSize    float64 `json:"pip_size"`
		VolumeStep float64 `json:"volume_step"`
		MinVolume  float64 `json:"min_volume"`
		Digits     int     `json:"digits"`
	}
	if err := b.get(ctx, "/symbols/"+url.PathEscape(symbol), nil, &out); err != nil {
		return domain.SymbolInfo{}, fmt.Errorf("broker: symbol info %s: %w", symbol, err)
	}
	return domain.SymbolInfo{
		Symbol:     out.Symbol,
		PipSize:    out.PipSize,
		VolumeStep: out.VolumeStep,
		MinVolume:  out.MinVolume,
		Digits:     out.Digits,
	}, nil
}

// ModifyPosition updates the stop-loss and/or take-profit of a position.
// Nil leaves the corresponding field unchanged.
func (b *BridgeClient) ModifyPosition(ctx context.Context, positionID string, stopLoss, takeProfit *float64) error {
	payload := map[string]any{}
	if stopLoss != nil {
		payload["stop_loss"] = *stopLoss
	}
	if takeProfit != nil {
		payload["take_profit"] = *takeProfit
	}
	path := "/positions/" + url.PathEscape(positionID) + "/modify"
	if err := b.post(ctx, path, payload, nil); err != nil {
		return fmt.Errorf("broker: modify position %s: %w", positionID, err)
	}
	return nil
}

// ClosePosition closes the entire remaining volume of a position.
func (b *BridgeClient) ClosePosition(ctx context.Context, positionID string) error {
	path := "/positions/" + url.PathEscape(positionID) + "/close"
	if err := b.post(ctx, path, map[string]any{}, nil); err != nil {
		return fmt.Errorf("broker: close position %s: %w", positionID, err)
	}
	return nil
}

// ClosePositionPartially closes the given volume of a position.
func (b *BridgeClient) ClosePositionPartially(ctx context.Context, positionID string, volume float64) error {
	path := "/positions/" + url.PathEscape(positionID) + "/close"
	if err := b.post(ctx, path, map[string]any{"volume": volume}, nil); err != nil {
		return fmt.Errorf("broker: close position %s partially: %w", positionID, err)
	}
	return nil
}

// GetCandles returns the most recent OHLC bars for a symbol, oldest first.
func (b *BridgeClient) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))

	var out []struct {
		Time  string  `json:"time"`
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	}
	if err := b.get(ctx, "/candles", q, &out); err != nil {
		return nil, fmt.Errorf("broker: get candles %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(out))
	for _, wc := range out {
		c := domain.Candle{Open: wc.Open, High: wc.High, Low: wc.Low, Close: wc.Close}
		if t, err := time.Parse(time.RFC3339, wc.Time); err == nil {
			c.Time = t
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// GetHistoricalDeals returns raw fills executed between start and end.
func (b *BridgeClient) GetHistoricalDeals(ctx context.Context, start, end time.Time) ([]domain.RawDeal, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	var out []struct {
		DealID     string  `json:"deal_id"`
		PositionID string  `json:"position_id"`
		OrderID    string  `json:"order_id"`
		Symbol     string  `json:"symbol"`
		Side       string  `json:"side"`
		Volume     float64 `json:"volume"`
		Price      float64 `json:"price"`
		Profit     float64 `json:"profit"`
		Time       string  `json:"time"`
		Comment    string  `json:"comment"`
	}
	if err := b.get(ctx, "/deals", q, &out); err != nil {
		return nil, fmt.Errorf("broker: get historical deals: %w", err)
	}

	deals := make([]domain.RawDeal, 0, len(out))
	for _, wd := range out {
		d := domain.RawDeal{
			DealID:     wd.DealID,
			PositionID: wd.PositionID,
			OrderID:    wd.OrderID,
			Symbol:     wd.Symbol,
			Side:       domain.Direction(wd.Side),
			Volume:     wd.Volume,
			Price:      wd.Price,
			Profit:     wd.Profit,
			Comment:    wd.Comment,
		}
		if t, err := time.Parse(time.RFC3339, wd.Time); err == nil {
			d.Time = t
		}
		deals = append(deals, d)
	}
	return deals, nil
}

// get performs a GET request and decodes the JSON response into out.
func (b *BridgeClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := b.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return b.do(req, out)
}

// post performs a POST request with a JSON body and decodes the response.
func (b *BridgeClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

// do executes the request, mapping connector failures onto domain errors.
func (b *BridgeClient) do(req *http.Request, out any) error {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", domain.ErrBrokerUnavailable, resp.StatusCode, string(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Broker = (*BridgeClient)(nil)
