package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avelhorn/tradewarden/internal/domain"
	"github.com/avelhorn/tradewarden/internal/metrics"
)

// TierConfig is one take-profit tier: the target expressed as a risk multiple
// and the percentage of the ORIGINAL volume to close at it.
type TierConfig struct {
	TargetR float64
	Percent float64
}

// TieredTPConfig holds the three ordered tiers plus the stop ratchet options.
// Tier percentages are assumed to sum to 100 so TP3 fully liquidates.
type TieredTPConfig struct {
	Tiers [3]TierConfig
	// BufferPips is the cushion past entry for the post-TP1 breakeven ratchet.
	BufferPips float64
	// RatchetAfterTP1 moves the stop to entry plus buffer once TP1 fills.
	RatchetAfterTP1 bool
	// RatchetAfterTP2 moves the stop to the TP1 price once TP2 fills.
	RatchetAfterTP2 bool
}

// TierSlot is the persisted per-tier state.
type TierSlot struct {
	TargetPrice float64 `json:"target_price"`
	Percent     float64 `json:"percent"`
	Hit         bool    `json:"hit"`
	PnL         float64 `json:"pnl"`
}

// TierState is the durable controller state, snapshotted into Trade.Notes
// after every successful tier transition so a restart can resume exactly
// where it left off.
type TierState struct {
	OriginalVolume float64     `json:"original_volume"`
	Tiers          [3]TierSlot `json:"tiers"`
}

// notesEnvelope is the JSON shape stored in Trade.Notes. Keeping the tier
// state under its own key leaves room for other scratch data.
type notesEnvelope struct {
	TieredTP *TierState `json:"tiered_tp,omitempty"`
}

type tierTrack struct {
	state        TierState
	tradeID      string
	entryPrice   float64
	direction    domain.Direction
	riskDistance float64
}

// TieredTP executes ordered partial closes at three profit targets, ratcheting
// the stop-loss after each. Tiers fire strictly in order and each transition
// is terminal.
type TieredTP struct {
	cfg     TieredTPConfig
	broker  PositionCloser
	symbols SymbolInfoSource
	trades  TradeSource
	alerter Alerter
	logger  *slog.Logger

	tracks map[string]*tierTrack
}

// NewTieredTP creates the controller.
func NewTieredTP(
	cfg TieredTPConfig,
	broker PositionCloser,
	symbols SymbolInfoSource,
	trades TradeSource,
	logger *slog.Logger,
) *TieredTP {
	return &TieredTP{
		cfg:     cfg,
		broker:  broker,
		symbols: symbols,
		trades:  trades,
		logger:  logger.With(slog.String("component", "tiered_tp")),
		tracks:  make(map[string]*tierTrack),
	}
}

// SetAlerter attaches the operator alert channel. May be left unset.
func (t *TieredTP) SetAlerter(a Alerter) {
	t.alerter = a
}

// alertTier sends the best-effort tier-fill notification.
func (t *TieredTP) alertTier(ctx context.Context, symbol string, tier int, closedVolume, price float64) {
	if t.alerter == nil {
		return
	}
	if err := t.alerter.TierHit(ctx, symbol, tier, closedVolume, price); err != nil {
		t.logger.WarnContext(ctx, "tier alert failed",
			slog.Int("tier", tier),
			slog.String("error", err.Error()),
		)
	}
}

// reconstruct rebuilds the per-position track from the persisted notes
// snapshot. When the snapshot is missing or stale it infers already-hit
// tiers from the ratio of current to original volume against the configured
// percentages. Covers trades predating the persisted flags.
func (t *TieredTP) reconstruct(ctx context.Context, snap domain.PositionSnapshot) (*tierTrack, error) {
	trade, err := t.trades.GetOpenByBrokerPositionID(ctx, snap.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("tiered_tp: position %s has no ledger trade: %w", snap.ID, domain.ErrInsufficientRiskInfo)
		}
		return nil, fmt.Errorf("tiered_tp: load trade for %s: %w", snap.ID, err)
	}

	risk := trade.RiskDistance()
	if risk <= 0 {
		return nil, fmt.Errorf("tiered_tp: position %s: %w", snap.ID, domain.ErrInsufficientRiskInfo)
	}

	tr := &tierTrack{
		tradeID:      trade.ID,
		entryPrice:   trade.EntryPrice,
		direction:    trade.Direction,
		riskDistance: risk,
	}

	if st, ok := parseTierNotes(trade.Notes); ok && st.OriginalVolume > 0 {
		tr.state = st
		return tr, nil
	}

	// No persisted snapshot: derive targets from the risk profile and infer
	// hit flags from the closed-volume ratio.
	st := TierState{OriginalVolume: trade.LotSize}
	for i, tier := range t.cfg.Tiers {
		st.Tiers[i] = TierSlot{
			TargetPrice: trade.EntryPrice + trade.Direction.Sign()*tier.TargetR*risk,
			Percent:     tier.Percent,
		}
	}
	if st.OriginalVolume > 0 {
		const eps = 1e-9
		ratio := snap.Volume / st.OriginalVolume
		p1 := t.cfg.Tiers[0].Percent / 100
		p2 := t.cfg.Tiers[1].Percent / 100
		if ratio <= 1-p1-p2+eps {
			st.Tiers[0].Hit = true
			st.Tiers[1].Hit = true
		} else if ratio <= 1-p1+eps {
			st.Tiers[0].Hit = true
		}
	}
	tr.state = st

	if st.Tiers[0].Hit || st.Tiers[1].Hit {
		t.logger.InfoContext(ctx, "inferred hit tiers from volume ratio",
			slog.String("position_id", snap.ID),
			slog.Bool("tp1", st.Tiers[0].Hit),
			slog.Bool("tp2", st.Tiers[1].Hit),
		)
	}
	return tr, nil
}

func parseTierNotes(notes *string) (TierState, bool) {
	if notes == nil || *notes == "" {
		return TierState{}, false
	}
	var env notesEnvelope
	if err := json.Unmarshal([]byte(*notes), &env); err != nil || env.TieredTP == nil {
		return TierState{}, false
	}
	return *env.TieredTP, true
}

// persist snapshots the tier state into the trade's durable record. Called
// after every successful tier transition; failure is logged and does not undo
// the broker effect.
func (t *TieredTP) persist(ctx context.Context, tr *tierTrack) {
	env := notesEnvelope{TieredTP: &tr.state}
	data, err := json.Marshal(env)
	if err != nil {
		t.logger.ErrorContext(ctx, "marshal tier state failed", slog.String("error", err.Error()))
		return
	}
	if err := t.trades.UpdateNotes(ctx, tr.tradeID, string(data)); err != nil {
		t.logger.WarnContext(ctx, "persist tier state failed, flagging for manual reconciliation",
			slog.String("trade_id", tr.tradeID),
			slog.String("error", err.Error()),
		)
	}
}

// Check evaluates the next unfired tier for the position. At most one tier
// fires per call; the next is evaluated on the next price update.
func (t *TieredTP) Check(ctx context.Context, snap domain.PositionSnapshot) error {
	tr, ok := t.tracks[snap.ID]
	if !ok {
		built, err := t.reconstruct(ctx, snap)
		if err != nil {
			return err
		}
		tr = built
		t.tracks[snap.ID] = tr
	}

	switch {
	case !tr.state.Tiers[0].Hit:
		return t.firePartial(ctx, tr, snap, 0)
	case !tr.state.Tiers[1].Hit:
		return t.firePartial(ctx, tr, snap, 1)
	case !tr.state.Tiers[2].Hit:
		return t.fireFinal(ctx, tr, snap)
	}
	return nil
}

// firePartial executes TP1 or TP2: a rounded partial close of the original
// volume, then the configured stop ratchet. If the ratchet fails after the
// close succeeded, the close is not undone; partial closes are not
// compensable.
func (t *TieredTP) firePartial(ctx context.Context, tr *tierTrack, snap domain.PositionSnapshot, idx int) error {
	slot := &tr.state.Tiers[idx]
	if !priceReached(tr.direction, snap.CurrentPrice, slot.TargetPrice) {
		return nil
	}

	info, err := t.symbols.GetSymbolInfo(ctx, snap.Symbol)
	if err != nil {
		return fmt.Errorf("tiered_tp: symbol info %s: %w", snap.Symbol, err)
	}

	closeVol := RoundToStep(tr.state.OriginalVolume*slot.Percent/100, info.VolumeStep)
	if closeVol < info.MinVolume {
		// Deferred, not failed: re-evaluated on the next price update.
		t.logger.DebugContext(ctx, "tier volume below broker minimum, deferring",
			slog.String("position_id", snap.ID),
			slog.Int("tier", idx+1),
			slog.Float64("volume", closeVol),
			slog.Float64("min_volume", info.MinVolume),
		)
		return fmt.Errorf("tiered_tp: tier %d for %s: %w", idx+1, snap.ID, domain.ErrVolumeTooSmall)
	}
	if closeVol > snap.Volume {
		// Clamp so the partial never exceeds what is actually open.
		t.logger.WarnContext(ctx, "tier volume exceeds remaining, clamping",
			slog.String("position_id", snap.ID),
			slog.Float64("computed", closeVol),
			slog.Float64("remaining", snap.Volume),
		)
		closeVol = snap.Volume
	}

	if err := t.broker.ClosePositionPartially(ctx, snap.ID, closeVol); err != nil {
		metrics.BrokerCallFailed("close_partial")
		return fmt.Errorf("tiered_tp: partial close tier %d for %s: %w", idx+1, snap.ID, err)
	}

	slot.Hit = true
	slot.PnL = (snap.CurrentPrice - tr.entryPrice) * tr.direction.Sign() * closeVol
	t.persist(ctx, tr)
	metrics.TierFired(fmt.Sprintf("tp%d", idx+1))
	t.alertTier(ctx, snap.Symbol, idx+1, closeVol, snap.CurrentPrice)

	t.logger.InfoContext(ctx, "take-profit tier filled",
		slog.String("position_id", snap.ID),
		slog.String("symbol", snap.Symbol),
		slog.Int("tier", idx+1),
		slog.Float64("closed_volume", closeVol),
		slog.Float64("price", snap.CurrentPrice),
	)

	t.ratchetAfter(ctx, tr, snap, idx, info)
	return nil
}

// ratchetAfter issues the post-tier stop move: breakeven plus buffer after
// TP1, the TP1 price after TP2. Only a strictly better stop is ever sent.
func (t *TieredTP) ratchetAfter(ctx context.Context, tr *tierTrack, snap domain.PositionSnapshot, idx int, info domain.SymbolInfo) {
	var candidate float64
	switch {
	case idx == 0 && t.cfg.RatchetAfterTP1:
		candidate = tr.entryPrice + tr.direction.Sign()*t.cfg.BufferPips*info.PipSize
	case idx == 1 && t.cfg.RatchetAfterTP2:
		candidate = tr.state.Tiers[0].TargetPrice
	default:
		return
	}

	if !StrictlyBetterStop(tr.direction, candidate, snap.StopLoss) {
		return
	}
	if err := t.broker.ModifyPosition(ctx, snap.ID, &candidate, nil); err != nil {
		metrics.BrokerCallFailed("modify_position")
		// The partial close already happened and is not compensable.
		t.logger.WarnContext(ctx, "stop ratchet after tier fill failed",
			slog.String("position_id", snap.ID),
			slog.Int("tier", idx+1),
			slog.Float64("candidate", candidate),
			slog.String("error", err.Error()),
		)
		return
	}
	t.logger.InfoContext(ctx, "stop-loss ratcheted after tier fill",
		slog.String("position_id", snap.ID),
		slog.Int("tier", idx+1),
		slog.Float64("new_sl", candidate),
	)
}

// fireFinal executes TP3: the entire remaining position is closed directly,
// avoiding rounding residue, and all tracked state is deleted on success.
func (t *TieredTP) fireFinal(ctx context.Context, tr *tierTrack, snap domain.PositionSnapshot) error {
	slot := &tr.state.Tiers[2]
	if !priceReached(tr.direction, snap.CurrentPrice, slot.TargetPrice) {
		return nil
	}

	if err := t.broker.ClosePosition(ctx, snap.ID); err != nil {
		metrics.BrokerCallFailed("close_position")
		return fmt.Errorf("tiered_tp: final close for %s: %w", snap.ID, err)
	}

	slot.Hit = true
	slot.PnL = (snap.CurrentPrice - tr.entryPrice) * tr.direction.Sign() * snap.Volume
	t.persist(ctx, tr)
	metrics.TierFired("tp3")
	t.alertTier(ctx, snap.Symbol, 3, snap.Volume, snap.CurrentPrice)
	delete(t.tracks, snap.ID)

	t.logger.InfoContext(ctx, "final tier filled, position fully closed",
		slog.String("position_id", snap.ID),
		slog.String("symbol", snap.Symbol),
		slog.Float64("closed_volume", snap.Volume),
		slog.Float64("price", snap.CurrentPrice),
	)
	return nil
}

// Forget destroys the track for a closed position.
func (t *TieredTP) Forget(positionID string) {
	delete(t.tracks, positionID)
}

// Rebuild reconstructs tracks for live positions after a restart.
func (t *TieredTP) Rebuild(ctx context.Context, snaps []domain.PositionSnapshot) {
	for _, snap := range snaps {
		if _, ok := t.tracks[snap.ID]; ok {
			continue
		}
		tr, err := t.reconstruct(ctx, snap)
		if err != nil {
			t.logger.WarnContext(ctx, "skipping position during rebuild",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		t.tracks[snap.ID] = tr
	}
	t.logger.InfoContext(ctx, "tiered take-profit state rebuilt", slog.Int("positions", len(t.tracks)))
}

// Tracked returns the number of positions with live state.
func (t *TieredTP) Tracked() int {
	return len(t.tracks)
}
