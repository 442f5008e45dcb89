// Package signal turns indicator readings and the market regime into a
// confidence-scored trade signal.
package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/indicator"
	"futures-trading-agent/internal/regime"
)

// Direction is the action a signal recommends.
type Direction string

const (
	Buy      Direction = "BUY"
	Sell     Direction = "SELL"
	Hold     Direction = "HOLD"
	WeakUp   Direction = "WEAK_UP"
	WeakDown Direction = "WEAK_DOWN"
	// Caution marks an anomalous spike reading. The orchestrator must not
	// act on it.
	Caution Direction = "CAUTION"
)

// Signal is the output of one generation cycle.
type Signal struct {
	Symbol      string              `json:"symbol"`
	Direction   Direction           `json:"direction"`
	Confidence  int                 `json:"confidence"`
	Strength    int                 `json:"strength"`
	Regime      regime.State        `json:"regime"`
	Metrics     regime.Metrics      `json:"metrics"`
	Snapshot    *indicator.Snapshot `json:"snapshot"`
	Reason      string              `json:"reason"`
	LastRange   float64             `json:"last_range"`
	Cached      bool                `json:"cached"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Tradeable reports whether the orchestrator may open or close on this
// signal. Weak and cached signals are informational.
func (s *Signal) Tradeable() bool {
	if s.Cached {
		return false
	}
	return s.Direction == Buy || s.Direction == Sell
}

// rendered builds the cache key representation: identical renderings within
// the cache TTL are suppressed.
func (s *Signal) rendered() string {
	return fmt.Sprintf("%s|%s|%d", s.Symbol, s.Direction, s.Confidence)
}

// Config holds signal generation thresholds.
type Config struct {
	Interval         string        // candle interval, e.g. "1m"
	CandleLimit      int           // candles fetched per cycle
	BookDepth        int           // order book levels fetched
	RSIBuy           float64       // RSI below this counts toward BUY
	RSISell          float64       // RSI above this counts toward SELL
	BullishImbalance float64       // book imbalance above this counts
	MinConfidence    int           // minimum confidence to act
	TrendConfirmADX  float64       // ADX at or above this adds confidence
	StrongADX        float64       // ADX above this boosts strength
	CalmATRPercent   float64       // ATR% below this boosts strength
	HighATRPercent   float64       // ATR% above this reduces strength
	AnomalyATRMult   float64       // candle range beyond ATR×mult is anomalous
	RelaxedRSIBuy    float64       // stale-mode RSI buy threshold
	RelaxedRSISell   float64       // stale-mode RSI sell threshold
	StaleRelaxAfter  time.Duration // relax RSI thresholds after this
	StaleEMAAfter    time.Duration // dual-EMA fallback after this
	FastEMAPeriod    int
	SlowEMAPeriod    int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:         "1m",
		CandleLimit:      100,
		BookDepth:        10,
		RSIBuy:           40,
		RSISell:          60,
		BullishImbalance: 0.15,
		MinConfidence:    3,
		TrendConfirmADX:  20,
		StrongADX:        25,
		CalmATRPercent:   0.5,
		HighATRPercent:   1.5,
		AnomalyATRMult:   2.5,
		RelaxedRSIBuy:    45,
		RelaxedRSISell:   55,
		StaleRelaxAfter:  3 * time.Hour,
		StaleEMAAfter:    6 * time.Hour,
		FastEMAPeriod:    10,
		SlowEMAPeriod:    30,
	}
}

// Generator produces signals from live gateway data.
type Generator struct {
	exchange   gateway.Exchange
	classifier *regime.Classifier
	cache      *Cache
	logger     zerolog.Logger

	mu          sync.RWMutex
	cfg         Config
	lastTradeAt time.Time
	now         func() time.Time
}

// NewGenerator creates a signal generator.
func NewGenerator(exchange gateway.Exchange, classifier *regime.Classifier, cache *Cache, cfg Config, logger zerolog.Logger) *Generator {
	return &Generator{
		exchange:   exchange,
		classifier: classifier,
		cache:      cache,
		cfg:        cfg,
		logger:     logger.With().Str("component", "signal").Logger(),
		now:        time.Now,
	}
}

// RegisterTrade resets the stale-trading clock. Called by the orchestrator
// after any executed open or close.
func (g *Generator) RegisterTrade() {
	g.mu.Lock()
	g.lastTradeAt = g.now()
	g.mu.Unlock()
}

// Config returns a copy of the current thresholds.
func (g *Generator) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// SetRSIThresholds adjusts the RSI buy/sell levels. Used by the advisory
// optimizer; values are applied to future cycles only.
func (g *Generator) SetRSIThresholds(buy, sell float64) {
	g.mu.Lock()
	g.cfg.RSIBuy = buy
	g.cfg.RSISell = sell
	g.mu.Unlock()
}

// Generate fetches fresh market data and produces a signal for symbol.
// Returns indicator.ErrInsufficientData when the candle history is too
// short; the cycle surfaces "indicators unavailable" and continues.
func (g *Generator) Generate(ctx context.Context, symbol string) (*Signal, error) {
	cfg := g.Config()

	candles, err := g.exchange.FetchCandles(ctx, symbol, cfg.Interval, cfg.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching candles: %w", err)
	}

	book, err := g.exchange.FetchOrderBook(ctx, symbol, cfg.BookDepth)
	if err != nil {
		return nil, fmt.Errorf("fetching order book: %w", err)
	}

	snap, err := indicator.Compute(candles, book)
	if err != nil {
		return nil, err
	}

	state, metrics := g.classifier.Classify(candles)

	sig := g.evaluate(symbol, candles, snap, state, metrics, cfg)

	if g.cache != nil && sig.Direction != Caution {
		sig.Cached = g.cache.SeenRecently(ctx, symbol, sig.rendered())
	}

	g.logger.Info().
		Str("symbol", symbol).
		Str("direction", string(sig.Direction)).
		Int("confidence", sig.Confidence).
		Int("strength", sig.Strength).
		Str("regime", string(state)).
		Float64("rsi", snap.RSI).
		Float64("price", snap.Price).
		Bool("cached", sig.Cached).
		Msg("signal generated")

	return sig, nil
}

// evaluate applies the scoring and decision rules to a computed snapshot.
func (g *Generator) evaluate(symbol string, candles []gateway.Candle, snap *indicator.Snapshot, state regime.State, metrics regime.Metrics, cfg Config) *Signal {
	sig := &Signal{
		Symbol:      symbol,
		Regime:      state,
		Metrics:     metrics,
		Snapshot:    snap,
		GeneratedAt: g.now(),
	}

	// Anomaly guard: a candle range far beyond the ATR is treated as a
	// spike, not a tradeable reading.
	last := candles[len(candles)-1]
	sig.LastRange = last.Range()
	if snap.ATR > 0 && last.Range() > snap.ATR*cfg.AnomalyATRMult {
		sig.Direction = Caution
		sig.Reason = fmt.Sprintf("candle range %.4f exceeds ATR %.4f x %.1f", last.Range(), snap.ATR, cfg.AnomalyATRMult)
		return sig
	}

	confidence := 0
	if snap.RSI < cfg.RSIBuy {
		confidence++
	}
	if snap.Price <= snap.BBLower {
		confidence++
	}
	if snap.Imbalance > cfg.BullishImbalance {
		confidence++
	}
	if snap.Price > snap.EMA {
		confidence++
	}
	if metrics.ADX >= cfg.TrendConfirmADX {
		confidence++
	}

	// Regime adjustment: clear trend or orderly range adds conviction,
	// volatile chop removes it.
	switch {
	case state.IsTrend() || state == regime.Range:
		confidence++
	case state == regime.Volatile:
		if confidence > 0 {
			confidence--
		}
	}
	sig.Confidence = confidence
	sig.Strength = g.strength(confidence, metrics, snap, cfg)

	switch {
	case confidence >= cfg.MinConfidence && snap.RSI < cfg.RSIBuy:
		sig.Direction = Buy
		sig.Reason = fmt.Sprintf("confidence %d/%d, RSI %.1f below %.0f", confidence, cfg.MinConfidence, snap.RSI, cfg.RSIBuy)
	case confidence >= cfg.MinConfidence && snap.RSI > cfg.RSISell:
		sig.Direction = Sell
		sig.Reason = fmt.Sprintf("confidence %d/%d, RSI %.1f above %.0f", confidence, cfg.MinConfidence, snap.RSI, cfg.RSISell)
	case snap.RSI > 50 && snap.Price > snap.EMA:
		sig.Direction = WeakUp
		sig.Reason = "price above EMA with RSI above midpoint"
	case snap.RSI < 50 && snap.Price < snap.EMA:
		sig.Direction = WeakDown
		sig.Reason = "price below EMA with RSI below midpoint"
	default:
		sig.Direction = Hold
		sig.Reason = "no entry conditions met"
	}

	if !sig.Tradeable() {
		g.applyStaleFallback(sig, candles, snap, cfg)
	}
	return sig
}

// strength scores 0-100 how strongly the conditions agree.
func (g *Generator) strength(confidence int, metrics regime.Metrics, snap *indicator.Snapshot, cfg Config) int {
	score := confidence * 10
	switch {
	case metrics.ADX > cfg.StrongADX:
		score += 20
	case metrics.ADX > cfg.TrendConfirmADX:
		score += 10
	}
	atrPct := snap.ATRPercent()
	if atrPct > 0 && atrPct < cfg.CalmATRPercent {
		score += 10
	}
	if atrPct > cfg.HighATRPercent {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// applyStaleFallback loosens the decision rules when no trade has occurred
// for a long time: first a relaxed RSI band, then a plain dual-EMA crossover
// as a last resort.
func (g *Generator) applyStaleFallback(sig *Signal, candles []gateway.Candle, snap *indicator.Snapshot, cfg Config) {
	g.mu.RLock()
	lastTrade := g.lastTradeAt
	g.mu.RUnlock()
	if lastTrade.IsZero() {
		return
	}
	sinceTrade := g.now().Sub(lastTrade)

	if sinceTrade > cfg.StaleEMAAfter {
		fast := indicator.EMA(candles, cfg.FastEMAPeriod)
		slow := indicator.EMA(candles, cfg.SlowEMAPeriod)
		if fast > slow {
			sig.Direction = Buy
			sig.Reason = fmt.Sprintf("stale %s: EMA%d %.2f above EMA%d %.2f", sinceTrade.Truncate(time.Minute), cfg.FastEMAPeriod, fast, cfg.SlowEMAPeriod, slow)
			return
		}
		if fast < slow {
			sig.Direction = Sell
			sig.Reason = fmt.Sprintf("stale %s: EMA%d %.2f below EMA%d %.2f", sinceTrade.Truncate(time.Minute), cfg.FastEMAPeriod, fast, cfg.SlowEMAPeriod, slow)
			return
		}
	}

	if sinceTrade > cfg.StaleRelaxAfter {
		if snap.RSI < cfg.RelaxedRSIBuy {
			sig.Direction = WeakUp
			sig.Reason = fmt.Sprintf("stale %s: relaxed RSI %.1f below %.0f", sinceTrade.Truncate(time.Minute), snap.RSI, cfg.RelaxedRSIBuy)
		} else if snap.RSI > cfg.RelaxedRSISell {
			sig.Direction = WeakDown
			sig.Reason = fmt.Sprintf("stale %s: relaxed RSI %.1f above %.0f", sinceTrade.Truncate(time.Minute), snap.RSI, cfg.RelaxedRSISell)
		}
	}
}
