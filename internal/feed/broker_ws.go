// Package feed streams position update batches from the broker connector over
// WebSocket and delivers them sequentially to the engine. Batches are handled
// one at a time in arrival order; the next read does not start until the
// handler returns.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelhorn/tradewarden/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BatchHandler processes one position update batch. The feed does not read the
// next message until the handler returns.
type BatchHandler func(ctx context.Context, batch domain.PositionUpdateBatch) error

// ConnectHandler is called after every successful (re)connection, before any
// batch is delivered. The engine uses it to resynchronize state that may have
// drifted while the feed was down.
type ConnectHandler func(ctx context.Context) error

// wirePosition is the connector's JSON shape for one position snapshot.
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

// wireBatch is the connector's JSON envelope for one push.
type wireBatch struct {
	Updated []wirePosition `json:"updated"`
	Removed []string       `json:"removed"`
}

// BrokerWSFeed connects to the broker connector's WebSocket endpoint and
// invokes the batch handler for every push. It reconnects with exponential
// backoff on disconnect.
type BrokerWSFeed struct {
	wsURL     string
	onBatch   BatchHandler
	onConnect ConnectHandler
	logger    *slog.Logger
}

// NewBrokerWSFeed creates a feed for the given connector WebSocket URL.
func NewBrokerWSFeed(wsURL string, onBatch BatchHandler, onConnect ConnectHandler, logger *slog.Logger) *BrokerWSFeed {
	return &BrokerWSFeed{
		wsURL:     wsURL,
		onBatch:   onBatch,
		onConnect: onConnect,
		logger:    logger.With(slog.String("component", "broker_ws_feed")),
	}
}

// Run connects and delivers batches until ctx is cancelled. The read loop runs
// in the calling goroutine so delivery stays strictly sequential.
func (f *BrokerWSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("broker ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials once and reads until the connection fails or ctx ends.
func (f *BrokerWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when ctx ends so ReadMessage unblocks.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}()
	go f.pingLoop(connCtx, conn)

	f.logger.Info("broker ws connected", slog.String("url", f.wsURL))

	if f.onConnect != nil {
		if err := f.onConnect(ctx); err != nil {
			return fmt.Errorf("feed: on connect: %w", err)
		}
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w: %v", domain.ErrWSDisconnect, err)
		}

		batch, err := decodeBatch(message)
		if err != nil {
			f.logger.Warn("dropping unparseable batch",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(message)),
			)
			continue
		}

		if err := f.onBatch(ctx, batch); err != nil {
			f.logger.Error("batch handler failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (f *BrokerWSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// decodeBatch converts the connector wire format into the domain batch.
func decodeBatch(raw []byte) (domain.PositionUpdateBatch, error) {
	var wb wireBatch
	if err := json.Unmarshal(raw, &wb); err != nil {
		return domain.PositionUpdateBatch{}, fmt.Errorf("feed: decode batch: %w", err)
	}

	batch := domain.PositionUpdateBatch{RemovedIDs: wb.Removed}
	for _, wp := range wb.Updated {
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
		batch.Updated = append(batch.Updated, snap)
	}
	return batch, nil
}
