package engine

// Optimizer bounds: RSI entry thresholds and SL/TP distances never drift
// outside these ranges regardless of recent performance.
const (
	optWindow = 10

	minRSIBuy  = 30.0
	maxRSIBuy  = 45.0
	minRSISell = 55.0
	maxRSISell = 70.0

	minStopLossPercent   = 0.01
	maxStopLossPercent   = 0.04
	minTakeProfitPercent = 0.015
	maxTakeProfitPercent = 0.06

	lowWinRate  = 0.4
	highWinRate = 0.6
)

// optimize nudges the entry thresholds and exit distances based on the win
// rate of the most recent trades. A cold streak tightens entries and stops;
// a hot streak loosens them. The changes are advisory and bounded.
func (e *TradingEngine) optimize() {
	history := e.riskMgr.History()
	if len(history) < optWindow {
		return
	}
	recent := history[len(history)-optWindow:]

	wins := 0
	for _, rec := range recent {
		if rec.PnL > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(recent))

	sigCfg := e.signals.Config()
	rsiBuy, rsiSell := sigCfg.RSIBuy, sigCfg.RSISell

	e.mu.Lock()
	sl, tp := e.cfg.StopLossPercent, e.cfg.TakeProfitPercent

	switch {
	case winRate < lowWinRate:
		// Losing run: demand stronger oversold readings and cut losers
		// sooner.
		rsiBuy = clamp(rsiBuy-2, minRSIBuy, maxRSIBuy)
		rsiSell = clamp(rsiSell+2, minRSISell, maxRSISell)
		sl = clamp(sl*0.9, minStopLossPercent, maxStopLossPercent)
		tp = clamp(tp*0.95, minTakeProfitPercent, maxTakeProfitPercent)
	case winRate > highWinRate:
		// Winning run: allow earlier entries and let winners run.
		rsiBuy = clamp(rsiBuy+1, minRSIBuy, maxRSIBuy)
		rsiSell = clamp(rsiSell-1, minRSISell, maxRSISell)
		tp = clamp(tp*1.05, minTakeProfitPercent, maxTakeProfitPercent)
	default:
		e.mu.Unlock()
		return
	}

	e.cfg.StopLossPercent = sl
	e.cfg.TakeProfitPercent = tp
	e.mu.Unlock()

	e.signals.SetRSIThresholds(rsiBuy, rsiSell)

	e.logger.Info().
		Float64("win_rate", winRate).
		Float64("rsi_buy", rsiBuy).
		Float64("rsi_sell", rsiSell).
		Float64("stop_loss_pct", sl).
		Float64("take_profit_pct", tp).
		Msg("thresholds adjusted from recent performance")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
