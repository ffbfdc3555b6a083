package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avelhorn/tradewarden/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type modifyCall struct {
	positionID string
	stopLoss   *float64
	takeProfit *float64
}

type partialCall struct {
	positionID string
	volume     float64
}

// fakeBroker records every mutation and fails on demand.
type fakeBroker struct {
	modifyCalls  []modifyCall
	closeCalls   []string
	partialCalls []partialCall

	modifyErr  error
	closeErr   error
	partialErr error
}

func (f *fakeBroker) ModifyPosition(_ context.Context, positionID string, stopLoss, takeProfit *float64) error {
	if f.modifyErr != nil {
		return f.modifyErr
	}
	f.modifyCalls = append(f.modifyCalls, modifyCall{positionID, stopLoss, takeProfit})
	return nil
}

func (f *fakeBroker) ClosePosition(_ context.Context, positionID string) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closeCalls = append(f.closeCalls, positionID)
	return nil
}

func (f *fakeBroker) ClosePositionPartially(_ context.Context, positionID string, volume float64) error {
	if f.partialErr != nil {
		return f.partialErr
	}
	f.partialCalls = append(f.partialCalls, partialCall{positionID, volume})
	return nil
}

type fakeSymbols struct {
	info domain.SymbolInfo
	err  error
}

func (f *fakeSymbols) GetSymbolInfo(context.Context, string) (domain.SymbolInfo, error) {
	return f.info, f.err
}

// fakeTrades serves open trades by broker position id and records notes.
type fakeTrades struct {
	byPos map[string]domain.Trade
	notes map[string]string
	err   error
}

func newFakeTrades(trades ...domain.Trade) *fakeTrades {
	f := &fakeTrades{byPos: make(map[string]domain.Trade), notes: make(map[string]string)}
	for _, t := range trades {
		if t.BrokerPositionID != nil {
			f.byPos[*t.BrokerPositionID] = t
		}
	}
	return f
}

func (f *fakeTrades) GetOpenByBrokerPositionID(_ context.Context, positionID string) (domain.Trade, error) {
	if f.err != nil {
		return domain.Trade{}, f.err
	}
	t, ok := f.byPos[positionID]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeTrades) UpdateNotes(_ context.Context, id string, notes string) error {
	f.notes[id] = notes
	return nil
}

func TestStrictlyBetterStop(t *testing.T) {
	assert.True(t, StrictlyBetterStop(domain.DirectionBuy, 100.5, 99))
	assert.False(t, StrictlyBetterStop(domain.DirectionBuy, 99, 100.5))
	assert.False(t, StrictlyBetterStop(domain.DirectionBuy, 100, 100))

	assert.True(t, StrictlyBetterStop(domain.DirectionSell, 99, 100.5))
	assert.False(t, StrictlyBetterStop(domain.DirectionSell, 100.5, 99))

	// No existing stop: anything is an improvement.
	assert.True(t, StrictlyBetterStop(domain.DirectionBuy, 1, 0))
	assert.True(t, StrictlyBetterStop(domain.DirectionSell, 1, 0))
}

func TestRoundToStep(t *testing.T) {
	assert.InDelta(t, 0.5, RoundToStep(0.5, 0.01), 1e-9)
	assert.InDelta(t, 0.33, RoundToStep(0.333, 0.01), 1e-9)
	assert.InDelta(t, 0.35, RoundToStep(0.347, 0.05), 1e-9)
	assert.InDelta(t, 0.347, RoundToStep(0.347, 0), 1e-9)
}
