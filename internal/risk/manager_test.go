package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-agent/internal/indicator"
	"futures-trading-agent/internal/regime"
)

func testManager() *Manager {
	m := NewManager(DefaultConfig(), zerolog.Nop())
	m.now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }
	return m
}

func calmSnapshot() *indicator.Snapshot {
	return &indicator.Snapshot{Price: 100, RSI: 50, ATR: 0.5}
}

func TestPermissionGrantedInCalmMarket(t *testing.T) {
	m := testManager()
	ok, reason := m.CheckTradePermission(1000, calmSnapshot(), 0.5)
	if !ok {
		t.Fatalf("permission denied: %s", reason)
	}
}

func TestCooldownGateRunsFirst(t *testing.T) {
	m := testManager()
	m.cooldownUntil = m.now().Add(time.Hour)

	// Even with a tripped drawdown and an extreme RSI, the cooldown message
	// is the one reported.
	ok, reason := m.CheckTradePermission(100, &indicator.Snapshot{Price: 100, RSI: 99, ATR: 50}, 500)
	if ok {
		t.Fatal("permission granted during cooldown")
	}
	if !strings.Contains(reason, "paused until") {
		t.Errorf("reason = %q, want the cooldown message", reason)
	}
}

func TestDrawdownGateStartsPause(t *testing.T) {
	m := testManager()
	m.SetBalanceStart(1000)

	ok, reason := m.CheckTradePermission(799, calmSnapshot(), 0.5)
	if ok {
		t.Fatal("permission granted below the drawdown limit")
	}
	if !strings.Contains(reason, "drawdown") {
		t.Errorf("reason = %q, want the drawdown message", reason)
	}

	want := m.now().Add(DefaultConfig().DrawdownCooldown)
	if !m.CooldownUntil().Equal(want) {
		t.Errorf("cooldown until %v, want %v", m.CooldownUntil(), want)
	}
}

func TestDrawdownUsesFirstRecordedBalance(t *testing.T) {
	m := testManager()
	m.SetBalanceStart(1000)
	m.SetBalanceStart(500) // later values must not move the reference

	if ok, _ := m.CheckTradePermission(810, calmSnapshot(), 0.5); !ok {
		t.Error("810 of 1000 is within the 20% drawdown limit")
	}
}

func TestRSIGate(t *testing.T) {
	m := testManager()
	for _, rsi := range []float64{24.9, 75.1} {
		snap := calmSnapshot()
		snap.RSI = rsi
		ok, reason := m.CheckTradePermission(1000, snap, 0.5)
		if ok {
			t.Errorf("permission granted at RSI %v", rsi)
		} else if !strings.Contains(reason, "RSI") {
			t.Errorf("reason = %q, want the RSI message", reason)
		}
	}

	for _, rsi := range []float64{25, 50, 75} {
		snap := calmSnapshot()
		snap.RSI = rsi
		if ok, reason := m.CheckTradePermission(1000, snap, 0.5); !ok {
			t.Errorf("permission denied at boundary RSI %v: %s", rsi, reason)
		}
	}
}

func TestVolatilityGates(t *testing.T) {
	m := testManager()

	snap := calmSnapshot()
	snap.ATR = 3 // 3% of price, above the 2% ratio limit
	if ok, reason := m.CheckTradePermission(1000, snap, 0.5); ok {
		t.Error("permission granted with an excessive ATR ratio")
	} else if !strings.Contains(reason, "ATR ratio") {
		t.Errorf("reason = %q, want the ATR ratio message", reason)
	}

	snap = calmSnapshot()
	if ok, reason := m.CheckTradePermission(1000, snap, 2.0); ok {
		t.Error("permission granted with a spiking candle range")
	} else if !strings.Contains(reason, "candle range") {
		t.Errorf("reason = %q, want the candle range message", reason)
	}
}

func TestIndicatorGatesSkippedWithoutSnapshot(t *testing.T) {
	m := testManager()
	if ok, reason := m.CheckTradePermission(1000, nil, 0); !ok {
		t.Errorf("permission denied without indicators: %s", reason)
	}
}

func TestLossStreakStartsCooldown(t *testing.T) {
	m := testManager()

	m.RecordTrade(-5)
	m.RecordTrade(-5)
	if !m.CooldownUntil().IsZero() {
		t.Fatal("cooldown started before the streak limit")
	}

	m.RecordTrade(-5)
	if m.LossStreak() != 3 {
		t.Errorf("loss streak = %d, want 3", m.LossStreak())
	}
	want := m.now().Add(DefaultConfig().LossCooldown)
	if !m.CooldownUntil().Equal(want) {
		t.Errorf("cooldown until %v, want %v", m.CooldownUntil(), want)
	}
}

func TestWinResetsStreak(t *testing.T) {
	m := testManager()
	m.RecordTrade(-5)
	m.RecordTrade(-5)
	m.RecordTrade(10)
	if m.LossStreak() != 0 {
		t.Errorf("loss streak = %d after a win, want 0", m.LossStreak())
	}

	// Break-even counts as a reset too.
	m.RecordTrade(-5)
	m.RecordTrade(0)
	if m.LossStreak() != 0 {
		t.Errorf("loss streak = %d after break-even, want 0", m.LossStreak())
	}
}

func TestCooldownDoublesAfterDrawdownTrip(t *testing.T) {
	m := testManager()
	m.SetBalanceStart(1000)
	m.CheckTradePermission(700, nil, 0) // trips the drawdown gate

	m.cooldownUntil = time.Time{} // expire the drawdown pause
	m.RecordTrade(-5)
	m.RecordTrade(-5)
	m.RecordTrade(-5)

	want := m.now().Add(2 * DefaultConfig().LossCooldown)
	if !m.CooldownUntil().Equal(want) {
		t.Errorf("cooldown until %v, want doubled %v", m.CooldownUntil(), want)
	}
}

func TestCalculatePositionSize(t *testing.T) {
	m := testManager()

	// NORMAL mode commits 1% of balance: 2000 * 0.01 / 50 = 0.4.
	size, ok := m.CalculatePositionSize(2000, 50)
	if !ok {
		t.Fatal("sizing failed for a sufficient balance")
	}
	if size != 0.4 {
		t.Errorf("size = %v, want 0.4", size)
	}

	// 1% of 500 is 5 USDT, below the 10 USDT exchange minimum.
	if _, ok := m.CalculatePositionSize(500, 50); ok {
		t.Error("sizing must fail below the minimum notional")
	}

	if _, ok := m.CalculatePositionSize(2000, 0); ok {
		t.Error("sizing must fail at zero price")
	}
}

func TestModeProfiles(t *testing.T) {
	m := testManager()

	if err := m.SetMode("safe"); err != nil {
		t.Fatalf("SetMode(safe): %v", err)
	}
	if m.TradePercent() != 0.005 || m.MaxPositions() != 3 {
		t.Errorf("SAFE profile = (%v, %d), want (0.005, 3)", m.TradePercent(), m.MaxPositions())
	}
	if _, auto := m.Mode(); auto {
		t.Error("setting a mode must pin it and disable auto mode")
	}

	if err := m.SetMode("TURBO"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestTradePercentOverride(t *testing.T) {
	m := testManager()

	if err := m.SetTradePercent(0.05); err != nil {
		t.Fatalf("SetTradePercent: %v", err)
	}
	if m.TradePercent() != 0.05 {
		t.Errorf("trade percent = %v, want the 0.05 override", m.TradePercent())
	}

	for _, bad := range []float64{0.0005, 0.11, -1} {
		if err := m.SetTradePercent(bad); err == nil {
			t.Errorf("override %v accepted, want rejection", bad)
		}
	}
	// A rejected value must not replace the previous override.
	if m.TradePercent() != 0.05 {
		t.Errorf("trade percent = %v after rejected input, want 0.05", m.TradePercent())
	}
}

func TestAutoAdjust(t *testing.T) {
	tests := []struct {
		state regime.State
		want  Mode
	}{
		{regime.Range, ModeAggressive},
		{regime.Volatile, ModeSafe},
		{regime.TrendUp, ModeNormal},
		{regime.TrendDown, ModeNormal},
	}
	for _, tt := range tests {
		m := testManager()
		if got := m.AutoAdjust(tt.state); got != tt.want {
			t.Errorf("AutoAdjust(%v) = %v, want %v", tt.state, got, tt.want)
		}
	}

	// UNKNOWN keeps the current mode.
	m := testManager()
	m.AutoAdjust(regime.Volatile)
	if got := m.AutoAdjust(regime.Unknown); got != ModeSafe {
		t.Errorf("AutoAdjust(UNKNOWN) = %v, want the previous SAFE", got)
	}

	// A pinned mode is never auto-adjusted.
	m = testManager()
	m.SetMode("AGGRESSIVE")
	if got := m.AutoAdjust(regime.Volatile); got != ModeAggressive {
		t.Errorf("pinned mode changed to %v", got)
	}
}

func TestResetClearsState(t *testing.T) {
	m := testManager()
	m.SetBalanceStart(1000)
	m.RecordTrade(-5)
	m.RecordTrade(-5)
	m.RecordTrade(-5)

	m.Reset()
	if m.LossStreak() != 0 || !m.CooldownUntil().IsZero() || len(m.History()) != 0 {
		t.Error("reset left residual risk state")
	}
}
