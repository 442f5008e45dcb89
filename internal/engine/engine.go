package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-agent/internal/database"
	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/ledger"
	"futures-trading-agent/internal/notify"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/risk"
	"futures-trading-agent/internal/signal"
)

// Config holds the trading loop settings.
type Config struct {
	Symbol             string
	QuoteAsset         string
	CycleInterval      time.Duration
	CycleTimeout       time.Duration
	StopLossPercent    float64 // fraction of entry price, e.g. 0.02
	TakeProfitPercent  float64
	ReconcileEvery     int     // cycles between balance reconciliations
	ReconcileTolerance float64 // fraction of local balance
	ReportHour         int     // local hour for the daily report, -1 disables
	OptimizeAfter      int     // closed trades between optimizer passes
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		Symbol:             "BTCUSDT",
		QuoteAsset:         "USDT",
		CycleInterval:      60 * time.Second,
		CycleTimeout:       45 * time.Second,
		StopLossPercent:    0.02,
		TakeProfitPercent:  0.03,
		ReconcileEvery:     30,
		ReconcileTolerance: 0.10,
		ReportHour:         9,
		OptimizeAfter:      10,
	}
}

// TradingEngine drives the trading cycle: monitor positions, generate a
// signal, act on it. Stage failures are logged and end the cycle; they never
// stop the loop.
type TradingEngine struct {
	exchange  gateway.Exchange
	signals   *signal.Generator
	riskMgr   *risk.Manager
	positions *position.Manager
	portfolio *ledger.Portfolio
	notifier  *notify.Manager
	repo      *database.Repository // nil without a database
	cfg       Config
	logger    zerolog.Logger

	paused   atomic.Bool
	inCycle  atomic.Bool
	cycleNum atomic.Int64

	mu             sync.RWMutex
	lastSignal     *signal.Signal
	lastReportDay  int
	closedSinceOpt int

	now func() time.Time
}

// New creates a trading engine.
func New(exchange gateway.Exchange, signals *signal.Generator, riskMgr *risk.Manager, positions *position.Manager, portfolio *ledger.Portfolio, notifier *notify.Manager, repo *database.Repository, cfg Config, logger zerolog.Logger) *TradingEngine {
	return &TradingEngine{
		exchange:  exchange,
		signals:   signals,
		riskMgr:   riskMgr,
		positions: positions,
		portfolio: portfolio,
		notifier:  notifier,
		repo:      repo,
		cfg:       cfg,
		logger:    logger.With().Str("component", "engine").Logger(),
		now:       time.Now,
	}
}

// Run executes trading cycles on a ticker until the context is cancelled.
// A cycle that overruns into the next tick is skipped rather than stacked.
func (e *TradingEngine) Run(ctx context.Context) {
	e.logger.Info().
		Str("symbol", e.cfg.Symbol).
		Dur("interval", e.cfg.CycleInterval).
		Msg("trading loop started")

	if err := e.positions.Reconcile(ctx, e.cfg.Symbol); err != nil {
		e.logger.Error().Err(err).Msg("startup reconciliation failed")
	}

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.inCycle.CompareAndSwap(false, true) {
				e.logger.Warn().Msg("previous cycle still running, tick skipped")
				continue
			}
			e.RunCycle(ctx)
			e.inCycle.Store(false)
		case <-ctx.Done():
			e.logger.Info().Msg("trading loop stopped")
			return
		}
	}
}

// RunCycle performs one full trading cycle.
func (e *TradingEngine) RunCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, e.cfg.CycleTimeout)
	defer cancel()

	n := e.cycleNum.Add(1)
	log := e.logger.With().Int64("cycle", n).Logger()

	// An empty local table is re-synchronized against the exchange before
	// monitoring, so positions opened outside the engine (or whose open call
	// timed out after reaching the exchange) are adopted and watched.
	if e.positions.OpenCount() == 0 {
		if err := e.positions.Reconcile(ctx, e.cfg.Symbol); err != nil {
			log.Error().Err(err).Msg("position reconciliation failed")
		}
	}

	// Position monitoring runs every cycle, paused or not. Protective exits
	// must never wait on the pause flag.
	for _, closed := range e.positions.CheckPositions(ctx) {
		e.handleClose(ctx, closed)
	}

	e.maybeReconcileBalance(ctx, n)
	e.maybeSendReport(ctx)

	if e.paused.Load() {
		log.Debug().Msg("trading paused, signal stage skipped")
		return
	}

	sig, err := e.signals.Generate(ctx, e.cfg.Symbol)
	if err != nil {
		log.Error().Err(err).Msg("signal generation failed")
		return
	}

	e.mu.Lock()
	e.lastSignal = sig
	e.mu.Unlock()

	e.riskMgr.AutoAdjust(sig.Regime)

	if sig.Direction == signal.Caution {
		log.Warn().Str("reason", sig.Reason).Msg("anomalous market reading, cycle skipped")
		return
	}
	if !sig.Tradeable() {
		log.Debug().Str("direction", string(sig.Direction)).Bool("cached", sig.Cached).Msg("no actionable signal")
		return
	}

	e.notifier.SendSignal(sig.Symbol, string(sig.Direction), sig.Reason, sig.Snapshot.Price, sig.Strength)

	switch sig.Direction {
	case signal.Buy:
		e.openLong(ctx, sig, log)
	case signal.Sell:
		e.closeOldest(ctx, sig, log)
	}
}

func (e *TradingEngine) openLong(ctx context.Context, sig *signal.Signal, log zerolog.Logger) {
	price := sig.Snapshot.Price
	slPct, tpPct := e.exitPercents()
	req := position.OpenRequest{
		Symbol:     sig.Symbol,
		Side:       position.Long,
		StopLoss:   price * (1 - slPct),
		TakeProfit: price * (1 + tpPct),
		Snapshot:   sig.Snapshot,
		LastRange:  sig.LastRange,
	}

	pos, err := e.positions.Open(ctx, req)
	if err != nil {
		if errors.Is(err, position.ErrRiskDenied) || errors.Is(err, position.ErrVolumeLimit) {
			log.Info().Str("reason", err.Error()).Msg("entry denied by risk layer")
			return
		}
		if gateway.IsRejected(err) {
			// The exchange refused the order outright; retrying the same
			// request would fail again, so the operator gets told.
			log.Error().Err(err).Msg("entry order rejected by exchange")
			e.notifier.SendError("entry order rejected", err.Error())
			return
		}
		log.Error().Err(err).Msg("opening position failed")
		return
	}

	e.signals.RegisterTrade()
	e.notifier.SendTradeOpen(pos.Symbol, string(pos.Side), pos.EntryPrice, pos.Amount, pos.StopLoss, pos.TakeProfit)
}

// closeOldest exits the longest-held position on a sell signal. With no open
// position a sell signal is informational only.
func (e *TradingEngine) closeOldest(ctx context.Context, sig *signal.Signal, log zerolog.Logger) {
	open := e.positions.List()
	if len(open) == 0 {
		log.Debug().Msg("sell signal with no open position")
		return
	}

	result, err := e.positions.Close(ctx, open[0].ID, "sell signal: "+sig.Reason)
	if err != nil {
		log.Error().Err(err).Str("id", open[0].ID).Msg("closing position failed")
		return
	}
	e.handleClose(ctx, *result)
}

// handleClose runs the post-close bookkeeping shared by protective exits and
// signal exits.
func (e *TradingEngine) handleClose(ctx context.Context, result position.CloseResult) {
	pos := result.Position
	e.signals.RegisterTrade()
	e.notifier.SendTradeClose(pos.Symbol, pos.EntryPrice, result.ExitPrice, result.PnL, result.Reason)

	if e.repo != nil {
		trade := &database.ClosedTrade{
			ID:         pos.ID,
			Symbol:     pos.Symbol,
			Side:       string(pos.Side),
			EntryPrice: pos.EntryPrice,
			ExitPrice:  result.ExitPrice,
			Amount:     result.Amount,
			PnL:        result.PnL,
			Reason:     result.Reason,
			OpenedAt:   pos.OpenedAt,
			ClosedAt:   e.now(),
		}
		if err := e.repo.InsertClosedTrade(ctx, trade); err != nil {
			e.logger.Error().Err(err).Str("id", pos.ID).Msg("persisting closed trade failed")
		}
	}

	if until := e.riskMgr.CooldownUntil(); until.After(e.now()) {
		e.notifier.SendRiskPause("loss limits reached", until)
	}

	e.mu.Lock()
	e.closedSinceOpt++
	due := e.cfg.OptimizeAfter > 0 && e.closedSinceOpt >= e.cfg.OptimizeAfter
	if due {
		e.closedSinceOpt = 0
	}
	e.mu.Unlock()
	if due {
		e.optimize()
	}
}

// maybeReconcileBalance checks the virtual balance against the exchange on a
// fixed cycle cadence. The exchange wins beyond the tolerance.
func (e *TradingEngine) maybeReconcileBalance(ctx context.Context, cycle int64) {
	if e.cfg.ReconcileEvery <= 0 || cycle%int64(e.cfg.ReconcileEvery) != 0 {
		return
	}
	balance, err := e.exchange.FetchBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		e.logger.Error().Err(err).Msg("balance reconciliation fetch failed")
		return
	}
	e.portfolio.ReconcileBalance(balance, e.cfg.ReconcileTolerance)
}

func (e *TradingEngine) maybeSendReport(ctx context.Context) {
	now := e.now()
	if now.Hour() != e.cfg.ReportHour {
		return
	}
	e.mu.Lock()
	if e.lastReportDay == now.YearDay() {
		e.mu.Unlock()
		return
	}
	e.lastReportDay = now.YearDay()
	e.mu.Unlock()

	report := e.portfolio.FullReport()
	if e.repo != nil {
		stats, err := e.repo.GetTradeStats(ctx, now.AddDate(0, 0, -30))
		if err != nil {
			e.logger.Error().Err(err).Msg("trade stats fetch failed")
		} else if stats.Total > 0 {
			report += fmt.Sprintf("\n30d trades: %d, win rate %.0f%%, net %.2f",
				stats.Total, stats.WinRate*100, stats.NetPnL)
		}
	}
	e.notifier.SendReport(report)
}

// Pause stops the signal stage. Position monitoring keeps running.
func (e *TradingEngine) Pause() {
	e.paused.Store(true)
	e.logger.Info().Msg("trading paused")
}

// Resume re-enables the signal stage.
func (e *TradingEngine) Resume() {
	e.paused.Store(false)
	e.logger.Info().Msg("trading resumed")
}

// Paused reports whether the signal stage is suspended.
func (e *TradingEngine) Paused() bool {
	return e.paused.Load()
}

// exitPercents returns the current SL/TP distances; the optimizer adjusts
// them at runtime.
func (e *TradingEngine) exitPercents() (stopLoss, takeProfit float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.StopLossPercent, e.cfg.TakeProfitPercent
}

// LastSignal returns the most recent generated signal, nil before the first
// cycle.
func (e *TradingEngine) LastSignal() *signal.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSignal
}
