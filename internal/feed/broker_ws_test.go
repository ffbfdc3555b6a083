package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelhorn/tradewarden/internal/domain"
)

func TestDecodeBatch(t *testing.T) {
	raw := []byte(`{
		"updated": [
			{
				"id": "12345",
				"symbol": "XAUUSD",
				"side": "BUY",
				"volume": 0.5,
				"open_price": 2045.10,
				"current_price": 2051.30,
				"stop_loss": 2040.00,
				"take_profit": 2060.00,
				"profit": 31.0,
				"swap": -1.2,
				"open_time": "2026-03-10T09:15:00Z",
				"comment": "tw:alpha:sig-7"
			}
		],
		"removed": ["99001", "99002"]
	}`)

	batch, err := decodeBatch(raw)
	require.NoError(t, err)

	require.Len(t, batch.Updated, 1)
	snap := batch.Updated[0]
	assert.Equal(t, "12345", snap.ID)
	assert.Equal(t, "XAUUSD", snap.Symbol)
	assert.Equal(t, domain.DirectionBuy, snap.Side)
	assert.InDelta(t, 0.5, snap.Volume, 1e-9)
	assert.InDelta(t, 2045.10, snap.OpenPrice, 1e-9)
	assert.InDelta(t, 2051.30, snap.CurrentPrice, 1e-9)
	assert.InDelta(t, 2040.00, snap.StopLoss, 1e-9)
	assert.InDelta(t, 31.0, snap.Profit, 1e-9)
	assert.Equal(t, "tw:alpha:sig-7", snap.Comment)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC), snap.OpenTime)

	assert.Equal(t, []string{"99001", "99002"}, batch.RemovedIDs)
}

func TestDecodeBatch_EmptyEnvelope(t *testing.T) {
	batch, err := decodeBatch([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, batch.Updated)
	assert.Empty(t, batch.RemovedIDs)
}

func TestDecodeBatch_MalformedPayload(t *testing.T) {
	_, err := decodeBatch([]byte(`{"updated": "nope"`))
	require.Error(t, err)
}

func TestDecodeBatch_BadOpenTimeLeavesZero(t *testing.T) {
	raw := []byte(`{"updated": [{"id": "1", "symbol": "EURUSD", "side": "SELL", "open_time": "yesterday"}]}`)

	batch, err := decodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, batch.Updated, 1)
	assert.True(t, batch.Updated[0].OpenTime.IsZero())
}
