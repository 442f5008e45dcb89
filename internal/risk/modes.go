package risk

import (
	"fmt"
	"strings"

	"futures-trading-agent/internal/regime"
)

// Mode is a risk profile selecting trade size and concurrency limits.
type Mode string

const (
	ModeSafe       Mode = "SAFE"
	ModeNormal     Mode = "NORMAL"
	ModeAggressive Mode = "AGGRESSIVE"
)

// Profile parametrizes a risk mode.
type Profile struct {
	TradePercent float64 // fraction of balance per trade
	MaxPositions int     // max concurrent positions
	Description  string
}

var profiles = map[Mode]Profile{
	ModeSafe:       {TradePercent: 0.005, MaxPositions: 3, Description: "protective: minimal risk, fewer trades"},
	ModeNormal:     {TradePercent: 0.01, MaxPositions: 5, Description: "standard: balanced risk"},
	ModeAggressive: {TradePercent: 0.02, MaxPositions: 10, Description: "aggressive: larger size, more trades"},
}

// Bounds for the operator-set trade percent override.
const (
	MinTradePercent = 0.001 // 0.1%
	MaxTradePercent = 0.10  // 10%
)

// SetMode switches to the named profile and pins it (disables auto mode).
func (m *Manager) SetMode(mode string) error {
	key := Mode(strings.ToUpper(mode))
	if _, ok := profiles[key]; !ok {
		return fmt.Errorf("unknown risk mode %q, available: SAFE, NORMAL, AGGRESSIVE", mode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = key
	m.autoMode = false
	m.logger.Info().Str("mode", string(key)).Msg("risk mode pinned")
	return nil
}

// Mode returns the active profile name and whether auto switching is on.
func (m *Manager) Mode() (Mode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode, m.autoMode
}

// MaxPositions returns the concurrent-position limit of the active profile.
func (m *Manager) MaxPositions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return profiles[m.mode].MaxPositions
}

// TradePercent returns the fraction of balance committed per trade: the
// operator override when set, otherwise the active profile's value.
func (m *Manager) TradePercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradePercentLocked()
}

func (m *Manager) tradePercentLocked() float64 {
	if m.percentOverride > 0 {
		return m.percentOverride
	}
	return profiles[m.mode].TradePercent
}

// SetTradePercent sets an operator override for the per-trade fraction.
// Values outside the safe bounds are rejected and not applied.
func (m *Manager) SetTradePercent(fraction float64) error {
	if fraction < MinTradePercent || fraction > MaxTradePercent {
		return fmt.Errorf("trade percent %.4f outside allowed range [%.1f%%, %.0f%%]",
			fraction, MinTradePercent*100, MaxTradePercent*100)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.percentOverride = fraction
	m.logger.Info().Float64("trade_percent", fraction).Msg("trade percent override set")
	return nil
}

// SetAutoMode enables or disables regime-driven profile switching.
func (m *Manager) SetAutoMode(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoMode = enabled
}

// AutoAdjust switches the profile from the market regime when auto mode is
// on: orderly ranges trade aggressively, volatile markets defensively,
// trends normally. Returns the active mode.
func (m *Manager) AutoAdjust(state regime.State) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.autoMode {
		return m.mode
	}

	prev := m.mode
	switch {
	case state == regime.Range:
		m.mode = ModeAggressive
	case state == regime.Volatile:
		m.mode = ModeSafe
	case state.IsTrend():
		m.mode = ModeNormal
	default:
		return m.mode
	}

	if m.mode != prev {
		m.logger.Info().
			Str("from", string(prev)).
			Str("to", string(m.mode)).
			Str("regime", string(state)).
			Msg("risk mode auto-adjusted")
	}
	return m.mode
}

// ModeDescription renders the active profile for status output.
func (m *Manager) ModeDescription() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := profiles[m.mode]
	autoText := "MANUAL"
	if m.autoMode {
		autoText = "AUTO"
	}
	return fmt.Sprintf("%s (%s) | %s | trade %.1f%%, max %d positions",
		m.mode, autoText, p.Description, m.tradePercentLocked()*100, p.MaxPositions)
}
