// Package risk gates every prospective trade and sizes positions. The
// manager owns the loss-streak counter, the cooldown clock, and the
// drawdown reference balance; it is the only component that mutates them.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-agent/internal/indicator"
)

// Config holds risk gate thresholds.
type Config struct {
	MaxLossStreak      int           // consecutive losses before a cooldown
	MaxDrawdown        float64       // fraction of starting balance, e.g. 0.2
	MinRSI             float64       // deny below
	MaxRSI             float64       // deny above
	MaxATRRatio        float64       // ATR/price fraction above which the market is too volatile
	CandleRangeATRMult float64       // last-candle range beyond ATR×mult is too volatile
	MinNotional        float64       // minimum order value in quote currency
	LossCooldown       time.Duration // cooldown after a loss streak
	DrawdownCooldown   time.Duration // cooldown after the drawdown trip
}

// DefaultConfig returns the standard risk thresholds.
func DefaultConfig() Config {
	return Config{
		MaxLossStreak:      3,
		MaxDrawdown:        0.2,
		MinRSI:             25,
		MaxRSI:             75,
		MaxATRRatio:        0.02,
		CandleRangeATRMult: 2.5,
		MinNotional:        10,
		LossCooldown:       6 * time.Hour,
		DrawdownCooldown:   12 * time.Hour,
	}
}

// TradeRecord is one realized trade outcome.
type TradeRecord struct {
	Time time.Time
	PnL  float64
}

// Manager evaluates trade permission and records outcomes.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	logger zerolog.Logger

	lossStreak      int
	cooldownUntil   time.Time
	balanceStart    float64
	drawdownTripped bool
	history         []TradeRecord

	mode            Mode
	autoMode        bool
	percentOverride float64 // 0 means: use the mode's trade percent

	now func() time.Time
}

// NewManager creates a risk manager in NORMAL mode with auto mode switching
// enabled.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "risk").Logger(),
		mode:     ModeNormal,
		autoMode: true,
		now:      time.Now,
	}
}

// SetBalanceStart records the reference balance for drawdown checks. Only the
// first non-zero value is kept.
func (m *Manager) SetBalanceStart(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceStart == 0 && balance > 0 {
		m.balanceStart = balance
	}
}

// CheckTradePermission evaluates the risk gates in order; the first failing
// gate wins. snap may be nil when indicators are unavailable, in which case
// the RSI and volatility gates are skipped. lastRange is the most recent
// candle's high−low span.
func (m *Manager) CheckTradePermission(balance float64, snap *indicator.Snapshot, lastRange float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Before(m.cooldownUntil) {
		remaining := m.cooldownUntil.Sub(now).Truncate(time.Second)
		return false, fmt.Sprintf("trading paused until %s (%s remaining)", m.cooldownUntil.Format("15:04:05"), remaining)
	}

	if m.balanceStart > 0 && balance < m.balanceStart*(1-m.cfg.MaxDrawdown) {
		m.cooldownUntil = now.Add(m.cfg.DrawdownCooldown)
		m.drawdownTripped = true
		m.logger.Warn().
			Float64("balance", balance).
			Float64("balance_start", m.balanceStart).
			Msg("drawdown limit reached, pausing trading")
		return false, fmt.Sprintf("drawdown limit %.0f%% reached, trading paused for %s", m.cfg.MaxDrawdown*100, m.cfg.DrawdownCooldown)
	}

	if snap != nil {
		if snap.RSI < m.cfg.MinRSI || snap.RSI > m.cfg.MaxRSI {
			return false, fmt.Sprintf("RSI %.1f outside allowed band [%.0f, %.0f]", snap.RSI, m.cfg.MinRSI, m.cfg.MaxRSI)
		}

		if snap.Price > 0 && snap.ATR/snap.Price > m.cfg.MaxATRRatio {
			return false, fmt.Sprintf("ATR ratio %.4f above %.4f, market too volatile", snap.ATR/snap.Price, m.cfg.MaxATRRatio)
		}
		if snap.ATR > 0 && lastRange > snap.ATR*m.cfg.CandleRangeATRMult {
			return false, fmt.Sprintf("candle range %.4f beyond ATR %.4f x %.1f, market too volatile", lastRange, snap.ATR, m.cfg.CandleRangeATRMult)
		}
	}

	return true, ""
}

// RecordTrade books a realized trade outcome. A loss extends the streak; a
// win or break-even resets it. Hitting the max streak starts a cooldown,
// doubled once the drawdown gate has tripped during this run.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, TradeRecord{Time: m.now(), PnL: pnl})
	if pnl < 0 {
		m.lossStreak++
	} else {
		m.lossStreak = 0
	}

	if m.lossStreak >= m.cfg.MaxLossStreak {
		cooldown := m.cfg.LossCooldown
		if m.drawdownTripped {
			cooldown *= 2
		}
		m.cooldownUntil = m.now().Add(cooldown)
		m.logger.Warn().
			Int("loss_streak", m.lossStreak).
			Time("cooldown_until", m.cooldownUntil).
			Msg("loss streak hit limit, pausing trading")
	}
}

// CalculatePositionSize returns the order amount for the current trade
// percent, or ok=false when the resulting notional is below the exchange
// minimum.
func (m *Manager) CalculatePositionSize(balance, price float64) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if price <= 0 || balance <= 0 {
		return 0, false
	}
	notional := balance * m.tradePercentLocked()
	if notional < m.cfg.MinNotional {
		m.logger.Warn().
			Float64("notional", notional).
			Float64("min_notional", m.cfg.MinNotional).
			Msg("balance too small for minimum order size")
		return 0, false
	}
	return math.Round(notional/price*1e4) / 1e4, true
}

// LossStreak returns the current consecutive-loss count.
func (m *Manager) LossStreak() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lossStreak
}

// CooldownUntil returns the end of the active cooldown, zero when none.
func (m *Manager) CooldownUntil() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cooldownUntil
}

// History returns a copy of the recorded trade outcomes.
func (m *Manager) History() []TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TradeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Reset clears streaks, cooldowns, and history.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossStreak = 0
	m.cooldownUntil = time.Time{}
	m.drawdownTripped = false
	m.history = nil
	m.balanceStart = 0
	m.logger.Info().Msg("risk metrics reset")
}
