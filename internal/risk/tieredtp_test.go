package risk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelhorn/tradewarden/internal/domain"
)

func ttpConfig() TieredTPConfig {
	return TieredTPConfig{
		Tiers: [3]TierConfig{
			{TargetR: 1.0, Percent: 50},
			{TargetR: 2.0, Percent: 30},
			{TargetR: 3.0, Percent: 20},
		},
		BufferPips:      5,
		RatchetAfterTP1: true,
		RatchetAfterTP2: true,
	}
}

// ttpFixture sets up one BUY trade: entry 100, stop 90, lot 1.0. Targets land
// at 110, 120 and 130.
func ttpFixture(t *testing.T) (*TieredTP, *fakeBroker, *fakeTrades) {
	t.Helper()
	broker := &fakeBroker{}
	posID := "pos-1"
	trades := newFakeTrades(domain.Trade{
		ID:               "trade-1",
		Symbol:           "EURUSD",
		Direction:        domain.DirectionBuy,
		EntryPrice:       100,
		StopLoss:         90,
		LotSize:          1.0,
		Status:           domain.TradeStatusOpen,
		BrokerPositionID: &posID,
	})
	symbols := &fakeSymbols{info: domain.SymbolInfo{Symbol: "EURUSD", PipSize: 0.1, VolumeStep: 0.01, MinVolume: 0.01}}
	ttp := NewTieredTP(ttpConfig(), broker, symbols, trades, testLogger())
	return ttp, broker, trades
}

func ttpSnap(price, volume, sl float64) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		ID:           "pos-1",
		Symbol:       "EURUSD",
		Side:         domain.DirectionBuy,
		Volume:       volume,
		OpenPrice:    100,
		CurrentPrice: price,
		StopLoss:     sl,
	}
}

func TestTieredTP_TP1PartialCloseAndRatchet(t *testing.T) {
	ttp, broker, trades := ttpFixture(t)
	ctx := context.Background()

	require.NoError(t, ttp.Check(ctx, ttpSnap(110, 1.0, 90)))

	require.Len(t, broker.partialCalls, 1)
	assert.Equal(t, "pos-1", broker.partialCalls[0].positionID)
	assert.InDelta(t, 0.5, broker.partialCalls[0].volume, 1e-9)

	// Post-TP1 ratchet: entry plus 5 pips.
	require.Len(t, broker.modifyCalls, 1)
	assert.InDelta(t, 100.5, *broker.modifyCalls[0].stopLoss, 1e-9)

	// The transition was snapshotted into the trade's notes.
	var env notesEnvelope
	require.NoError(t, json.Unmarshal([]byte(trades.notes["trade-1"]), &env))
	require.NotNil(t, env.TieredTP)
	assert.True(t, env.TieredTP.Tiers[0].Hit)
	assert.False(t, env.TieredTP.Tiers[1].Hit)
	assert.InDelta(t, 1.0, env.TieredTP.OriginalVolume, 1e-9)
}

func TestTieredTP_TiersFireStrictlyInOrder(t *testing.T) {
	ttp, broker, _ := ttpFixture(t)
	ctx := context.Background()

	// Price gaps straight past all three targets. Only one tier may fire per
	// update; the rest wait for subsequent batches.
	require.NoError(t, ttp.Check(ctx, ttpSnap(135, 1.0, 90)))
	require.Len(t, broker.partialCalls, 1)
	assert.InDelta(t, 0.5, broker.partialCalls[0].volume, 1e-9)
	assert.Empty(t, broker.closeCalls)

	require.NoError(t, ttp.Check(ctx, ttpSnap(135, 0.5, 100.5)))
	require.Len(t, broker.partialCalls, 2)
	assert.InDelta(t, 0.3, broker.partialCalls[1].volume, 1e-9)
	// Post-TP2 ratchet moves the stop to the TP1 price.
	require.Len(t, broker.modifyCalls, 2)
	assert.InDelta(t, 110, *broker.modifyCalls[1].stopLoss, 1e-9)

	// Final tier closes the remainder outright rather than a rounded partial.
	require.NoError(t, ttp.Check(ctx, ttpSnap(135, 0.2, 110)))
	require.Len(t, broker.closeCalls, 1)
	assert.Equal(t, 0, ttp.Tracked())

	// Closed volume never exceeds the original.
	total := 0.0
	for _, c := range broker.partialCalls {
		total += c.volume
	}
	assert.LessOrEqual(t, total+0.2, 1.0+1e-9)
}

func TestTieredTP_TierNeverFiresTwice(t *testing.T) {
	ttp, broker, _ := ttpFixture(t)
	ctx := context.Background()

	require.NoError(t, ttp.Check(ctx, ttpSnap(110, 1.0, 90)))
	require.Len(t, broker.partialCalls, 1)

	// Same price level arrives again; TP1 is already hit and TP2 not reached.
	require.NoError(t, ttp.Check(ctx, ttpSnap(110, 0.5, 100.5)))
	require.NoError(t, ttp.Check(ctx, ttpSnap(115, 0.5, 100.5)))
	assert.Len(t, broker.partialCalls, 1)
}

func TestTieredTP_VolumeBelowMinimumDefers(t *testing.T) {
	broker := &fakeBroker{}
	posID := "pos-1"
	trades := newFakeTrades(domain.Trade{
		ID: "trade-1", Symbol: "EURUSD", Direction: domain.DirectionBuy,
		EntryPrice: 100, StopLoss: 90, LotSize: 1.0,
		Status: domain.TradeStatusOpen, BrokerPositionID: &posID,
	})
	// Broker minimum is larger than the 50% slice of the original volume.
	symbols := &fakeSymbols{info: domain.SymbolInfo{PipSize: 0.1, VolumeStep: 0.01, MinVolume: 1.0}}
	ttp := NewTieredTP(ttpConfig(), broker, symbols, trades, testLogger())

	err := ttp.Check(context.Background(), ttpSnap(110, 1.0, 90))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVolumeTooSmall)
	assert.Empty(t, broker.partialCalls)

	// The tier stays unfired so a later update can retry.
	tr := ttp.tracks["pos-1"]
	require.NotNil(t, tr)
	assert.False(t, tr.state.Tiers[0].Hit)
}

func TestTieredTP_PartialCloseFailureKeepsTierUnfired(t *testing.T) {
	ttp, broker, trades := ttpFixture(t)
	ctx := context.Background()

	broker.partialErr = errors.New("connector timeout")
	err := ttp.Check(ctx, ttpSnap(110, 1.0, 90))
	require.Error(t, err)
	assert.Empty(t, trades.notes)

	broker.partialErr = nil
	require.NoError(t, ttp.Check(ctx, ttpSnap(110, 1.0, 90)))
	require.Len(t, broker.partialCalls, 1)
}

func TestTieredTP_RestartResumesFromPersistedNotes(t *testing.T) {
	_, broker, trades := ttpFixture(t)
	ctx := context.Background()

	// Simulate a previous run that already fired TP1.
	st := TierState{
		OriginalVolume: 1.0,
		Tiers: [3]TierSlot{
			{TargetPrice: 110, Percent: 50, Hit: true},
			{TargetPrice: 120, Percent: 30},
			{TargetPrice: 130, Percent: 20},
		},
	}
	data, err := json.Marshal(notesEnvelope{TieredTP: &st})
	require.NoError(t, err)
	trade := trades.byPos["pos-1"]
	notes := string(data)
	trade.Notes = &notes
	trades.byPos["pos-1"] = trade

	symbols := &fakeSymbols{info: domain.SymbolInfo{PipSize: 0.1, VolumeStep: 0.01, MinVolume: 0.01}}
	fresh := NewTieredTP(ttpConfig(), broker, symbols, trades, testLogger())

	// TP1 price again after restart: nothing fires.
	require.NoError(t, fresh.Check(ctx, ttpSnap(111, 0.5, 100.5)))
	assert.Empty(t, broker.partialCalls)

	// TP2 price: exactly the second tier fires.
	require.NoError(t, fresh.Check(ctx, ttpSnap(120, 0.5, 100.5)))
	require.Len(t, broker.partialCalls, 1)
	assert.InDelta(t, 0.3, broker.partialCalls[0].volume, 1e-9)
}

func TestTieredTP_InfersHitTiersFromVolumeRatio(t *testing.T) {
	ttp, broker, _ := ttpFixture(t)
	ctx := context.Background()

	// No persisted notes, but half the original volume is gone: TP1 must
	// already have fired elsewhere.
	require.NoError(t, ttp.Check(ctx, ttpSnap(115, 0.5, 100.5)))
	assert.Empty(t, broker.partialCalls)

	tr := ttp.tracks["pos-1"]
	require.NotNil(t, tr)
	assert.True(t, tr.state.Tiers[0].Hit)
	assert.False(t, tr.state.Tiers[1].Hit)
}

func TestTieredTP_ClampsVolumeToRemaining(t *testing.T) {
	ttp, broker, trades := ttpFixture(t)
	ctx := context.Background()

	// Persisted state says no tier fired yet, but the broker reports less
	// volume than the configured 50% slice. The close is clamped rather than
	// rejected.
	st := TierState{
		OriginalVolume: 1.0,
		Tiers: [3]TierSlot{
			{TargetPrice: 110, Percent: 50},
			{TargetPrice: 120, Percent: 30},
			{TargetPrice: 130, Percent: 20},
		},
	}
	data, err := json.Marshal(notesEnvelope{TieredTP: &st})
	require.NoError(t, err)
	trade := trades.byPos["pos-1"]
	notes := string(data)
	trade.Notes = &notes
	trades.byPos["pos-1"] = trade

	require.NoError(t, ttp.Check(ctx, ttpSnap(110, 0.3, 90)))
	require.Len(t, broker.partialCalls, 1)
	assert.InDelta(t, 0.3, broker.partialCalls[0].volume, 1e-9)
}

func TestTieredTP_NoLedgerTradeIsRejected(t *testing.T) {
	broker := &fakeBroker{}
	trades := newFakeTrades()
	symbols := &fakeSymbols{info: domain.SymbolInfo{PipSize: 0.1, VolumeStep: 0.01, MinVolume: 0.01}}
	ttp := NewTieredTP(ttpConfig(), broker, symbols, trades, testLogger())

	err := ttp.Check(context.Background(), ttpSnap(110, 1.0, 90))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientRiskInfo)
}

func TestTieredTP_InvertedStopIsRejected(t *testing.T) {
	// A BUY whose recorded stop sits above entry (moved after open, then
	// imported) carries no recoverable original risk. Deriving targets from
	// the post-move distance would fire partial closes off bogus numbers.
	broker := &fakeBroker{}
	posID := "pos-1"
	trades := newFakeTrades(domain.Trade{
		ID:               "trade-1",
		Symbol:           "EURUSD",
		Direction:        domain.DirectionBuy,
		EntryPrice:       100,
		StopLoss:         105,
		LotSize:          1.0,
		Status:           domain.TradeStatusOpen,
		BrokerPositionID: &posID,
	})
	symbols := &fakeSymbols{info: domain.SymbolInfo{Symbol: "EURUSD", PipSize: 0.1, VolumeStep: 0.01, MinVolume: 0.01}}
	ttp := NewTieredTP(ttpConfig(), broker, symbols, trades, testLogger())

	err := ttp.Check(context.Background(), ttpSnap(106, 1.0, 105))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientRiskInfo)
	assert.Empty(t, broker.partialCalls)
	assert.Empty(t, broker.modifyCalls)
	assert.Equal(t, 0, ttp.Tracked())
}
