package risk

import (
	"fmt"

	"github.com/avelhorn/tradewarden/internal/domain"
)

// TrailProfile tunes the structure-trailing calculator.
type TrailProfile struct {
	// ActivationR is the minimum current-R before trailing is considered.
	ActivationR float64
	// BufferPips is placed beyond the swing point so the stop sits under
	// (long) or over (short) structure rather than exactly on it.
	BufferPips float64
	// MinSwingAge is the number of candles that must follow an extreme
	// before it counts as confirmed structure.
	MinSwingAge int
}

// TrailInput is everything ProposeTrailingStop needs. The function owns no
// state and has no side effects; the caller issues any broker call.
type TrailInput struct {
	Direction    domain.Direction
	EntryPrice   float64
	CurrentSL    float64
	CurrentPrice float64
	RiskDistance float64
	PipSize      float64
	Window       []domain.Candle
}

// TrailResult is the proposal: either a strictly better stop-loss, or no move
// with the reason recorded for observability.
type TrailResult struct {
	Move        bool
	NewStopLoss float64
	Reason      string
}

func noMove(reason string) TrailResult {
	return TrailResult{Reason: reason}
}

// ProposeTrailingStop finds the tightest structure-confirmed stop for the
// position. A candle is a swing low/high when it is a local extreme among its
// immediate neighbors; only extremes confirmed by at least MinSwingAge
// subsequent candles qualify, and only those strictly between entry and the
// current price (locked-in rather than hypothetical profit). For a long the
// highest qualifying swing low is selected; for a short, the lowest qualifying
// swing high.
func ProposeTrailingStop(in TrailInput, p TrailProfile) TrailResult {
	if in.RiskDistance <= 0 {
		return noMove("risk distance unknown")
	}

	r := (in.CurrentPrice - in.EntryPrice) * in.Direction.Sign() / in.RiskDistance
	if r < p.ActivationR {
		return noMove(fmt.Sprintf("current R %.2f below activation %.2f", r, p.ActivationR))
	}

	swing, ok := bestSwing(in, p.MinSwingAge)
	if !ok {
		return noMove("no confirmed swing between entry and price")
	}

	buffer := p.BufferPips * in.PipSize
	candidate := swing - buffer
	if in.Direction == domain.DirectionSell {
		candidate = swing + buffer
	}

	if !StrictlyBetterStop(in.Direction, candidate, in.CurrentSL) {
		return noMove(fmt.Sprintf("candidate %.5f not better than current stop %.5f", candidate, in.CurrentSL))
	}

	return TrailResult{Move: true, NewStopLoss: candidate}
}

// bestSwing scans the window for qualifying swing points and returns the
// tightest one for the direction.
func bestSwing(in TrailInput, minAge int) (float64, bool) {
	lo, hi := in.EntryPrice, in.CurrentPrice
	if in.Direction == domain.DirectionSell {
		lo, hi = in.CurrentPrice, in.EntryPrice
	}

	var best float64
	found := false
	n := len(in.Window)

	for i := 1; i < n-1; i++ {
		// Extremes too close to the right edge could still be revised.
		if n-1-i < minAge {
			break
		}
		c := in.Window[i]

		if in.Direction == domain.DirectionBuy {
			if !(c.Low < in.Window[i-1].Low && c.Low < in.Window[i+1].Low) {
				continue
			}
			if c.Low <= lo || c.Low >= hi {
				continue
			}
			if !found || c.Low > best {
				best = c.Low
				found = true
			}
		} else {
			if !(c.High > in.Window[i-1].High && c.High > in.Window[i+1].High) {
				continue
			}
			if c.High <= lo || c.High >= hi {
				continue
			}
			if !found || c.High < best {
				best = c.High
				found = true
			}
		}
	}
	return best, found
}
