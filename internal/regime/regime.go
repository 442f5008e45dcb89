// Package regime classifies the current market state from a candle window.
// Classification is a pure function of its inputs: the same candles always
// produce the same state.
package regime

import (
	"math"

	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/indicator"
)

// State is a discrete market regime.
type State string

const (
	TrendUp   State = "TREND_UP"
	TrendDown State = "TREND_DOWN"
	Range     State = "RANGE"
	Volatile  State = "VOLATILE"
	Unknown   State = "UNKNOWN"
)

// IsTrend reports whether the state is a directional trend.
func (s State) IsTrend() bool {
	return s == TrendUp || s == TrendDown
}

// Metrics carries the readings behind a classification.
type Metrics struct {
	ADX        float64 `json:"adx"`
	EMASlope   float64 `json:"ema_slope"`
	ATR        float64 `json:"atr"`
	ATRPercent float64 `json:"atr_percent"`
	Price      float64 `json:"price"`
}

// Config holds classification thresholds.
type Config struct {
	ADXPeriod          int     // directional movement window
	EMAPeriod          int     // slope EMA period
	SlopeLookback      int     // periods between slope samples
	StrongTrendADX     float64 // ADX at or above this means a strong trend
	VolatileATRPercent float64 // ATR% above this is VOLATILE regardless of trend
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		ADXPeriod:          14,
		EMAPeriod:          50,
		SlopeLookback:      5,
		StrongTrendADX:     25,
		VolatileATRPercent: 1.5,
	}
}

// Classifier derives market states from candle windows.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(cfg Config) *Classifier {
	if cfg.ADXPeriod <= 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the market state for the candle window. Volatility takes
// precedence: an ATR% above the threshold classifies VOLATILE no matter how
// strong the trend reads. With too little history the state is UNKNOWN.
func (c *Classifier) Classify(candles []gateway.Candle) (State, Metrics) {
	if len(candles) < c.cfg.ADXPeriod+1 {
		return Unknown, Metrics{}
	}

	price := candles[len(candles)-1].Close
	atr := indicator.ATR(candles, c.cfg.ADXPeriod)
	adx := directionalIndex(candles, c.cfg.ADXPeriod)
	slope := emaSlope(candles, c.cfg.EMAPeriod, c.cfg.SlopeLookback)

	atrPercent := 0.0
	if price > 0 {
		atrPercent = atr / price * 100
	}

	metrics := Metrics{
		ADX:        adx,
		EMASlope:   slope,
		ATR:        atr,
		ATRPercent: atrPercent,
		Price:      price,
	}

	if atrPercent > c.cfg.VolatileATRPercent {
		return Volatile, metrics
	}
	if adx >= c.cfg.StrongTrendADX {
		if slope > 0 {
			return TrendUp, metrics
		}
		return TrendDown, metrics
	}
	return Range, metrics
}

// directionalIndex computes a simplified Wilder DX over the last period
// candles: |+DI − −DI| / (+DI + −DI) scaled to 0..100.
func directionalIndex(candles []gateway.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	start := len(candles) - period
	plusDM, minusDM, trSum := 0.0, 0.0, 0.0
	for i := start; i < len(candles); i++ {
		highDiff := candles[i].High - candles[i-1].High
		lowDiff := candles[i-1].Low - candles[i].Low
		if highDiff > lowDiff && highDiff > 0 {
			plusDM += highDiff
		}
		if lowDiff > highDiff && lowDiff > 0 {
			minusDM += lowDiff
		}
		trSum += indicator.TrueRange(candles[i], candles[i-1].Close)
	}

	if trSum == 0 {
		return 0
	}
	plusDI := plusDM / trSum * 100
	minusDI := minusDM / trSum * 100
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return math.Abs(plusDI-minusDI) / sum * 100
}

// emaSlope returns the difference between the current smoothed EMA value and
// the value lookback periods earlier.
func emaSlope(candles []gateway.Candle, period, lookback int) float64 {
	series := indicator.EMASeries(candles, period)
	if len(series) <= lookback {
		return 0
	}
	return series[len(series)-1] - series[len(series)-1-lookback]
}
