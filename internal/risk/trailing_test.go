package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// flat builds a run of candles with identical highs and lows.
func flat(level float64, n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Open: level, High: level, Low: level, Close: level}
	}
	return out
}

// dip appends a single candle dipping to low between two neighbors at level.
func dip(window []domain.Candle, level, low float64) []domain.Candle {
	return append(window, domain.Candle{Open: level, High: level, Low: low, Close: level})
}

func trailProfile() TrailProfile {
	return TrailProfile{ActivationR: 1.0, BufferPips: 5, MinSwingAge: 3}
}

func longInput(window []domain.Candle) TrailInput {
	return TrailInput{
		Direction:    domain.DirectionBuy,
		EntryPrice:   100,
		CurrentSL:    95,
		CurrentPrice: 115,
		RiskDistance: 10,
		PipSize:      0.1,
		Window:       window,
	}
}

func TestProposeTrailingStop_LongFollowsSwingLow(t *testing.T) {
	// ...108,105,108... is a local low at 105, followed by enough candles to
	// count as confirmed structure.
	window := flat(108, 3)
	window = dip(window, 108, 105)
	window = append(window, flat(108, 5)...)

	res := ProposeTrailingStop(longInput(window), trailProfile())

	require.True(t, res.Move, res.Reason)
	// Swing low minus 5 pips of buffer.
	assert.InDelta(t, 104.5, res.NewStopLoss, 1e-9)
}

func TestProposeTrailingStop_PicksTightestSwing(t *testing.T) {
	// Two confirmed swing lows: 103 then 107. The higher one wins for a long.
	window := flat(110, 2)
	window = dip(window, 110, 103)
	window = append(window, flat(110, 4)...)
	window = dip(window, 110, 107)
	window = append(window, flat(110, 5)...)

	res := ProposeTrailingStop(longInput(window), trailProfile())

	require.True(t, res.Move, res.Reason)
	assert.InDelta(t, 106.5, res.NewStopLoss, 1e-9)
}

func TestProposeTrailingStop_UnconfirmedSwingIgnored(t *testing.T) {
	// The dip sits too close to the right edge: fewer than MinSwingAge
	// candles follow it, so it could still be revised.
	window := flat(108, 6)
	window = dip(window, 108, 105)
	window = append(window, flat(108, 2)...)

	res := ProposeTrailingStop(longInput(window), trailProfile())
	assert.False(t, res.Move)
}

func TestProposeTrailingStop_BelowActivationNoMove(t *testing.T) {
	window := flat(108, 3)
	window = dip(window, 108, 105)
	window = append(window, flat(108, 5)...)

	in := longInput(window)
	in.CurrentPrice = 105 // 0.5R, below activation
	res := ProposeTrailingStop(in, trailProfile())

	assert.False(t, res.Move)
}

func TestProposeTrailingStop_NeverLoosensStop(t *testing.T) {
	window := flat(108, 3)
	window = dip(window, 108, 105)
	window = append(window, flat(108, 5)...)

	in := longInput(window)
	in.CurrentSL = 106 // already tighter than the 104.5 candidate
	res := ProposeTrailingStop(in, trailProfile())

	assert.False(t, res.Move)
}

func TestProposeTrailingStop_SwingOutsideEntryPriceBandIgnored(t *testing.T) {
	// A swing low below entry would lock in a loss, not profit.
	window := flat(108, 3)
	window = dip(window, 108, 99)
	window = append(window, flat(108, 5)...)

	res := ProposeTrailingStop(longInput(window), trailProfile())
	assert.False(t, res.Move)
}

func TestProposeTrailingStop_ShortFollowsSwingHigh(t *testing.T) {
	// Short from 100 with price at 85: a confirmed swing high at 92 between
	// price and entry carries the stop.
	window := flat(90, 3)
	window = append(window, domain.Candle{Open: 90, High: 92, Low: 90, Close: 90})
	window = append(window, flat(90, 5)...)

	res := ProposeTrailingStop(TrailInput{
		Direction:    domain.DirectionSell,
		EntryPrice:   100,
		CurrentSL:    105,
		CurrentPrice: 85,
		RiskDistance: 10,
		PipSize:      0.1,
		Window:       window,
	}, trailProfile())

	require.True(t, res.Move, res.Reason)
	assert.InDelta(t, 92.5, res.NewStopLoss, 1e-9)
}

func TestProposeTrailingStop_NoRiskDistanceNoMove(t *testing.T) {
	in := longInput(flat(108, 10))
	in.RiskDistance = 0
	res := ProposeTrailingStop(in, trailProfile())
	assert.False(t, res.Move)
	assert.NotEmpty(t, res.Reason)
}
