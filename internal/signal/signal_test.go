package signal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/indicator"
	"futures-trading-agent/internal/regime"
)

func testGenerator(exchange gateway.Exchange, cache *Cache) *Generator {
	return NewGenerator(exchange, regime.NewClassifier(regime.DefaultConfig()), cache, DefaultConfig(), zerolog.Nop())
}

func flatCandles(price float64, n int) []gateway.Candle {
	out := make([]gateway.Candle, n)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = gateway.Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     price, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 1,
		}
	}
	return out
}

func risingCandles(start, step float64, n int) []gateway.Candle {
	out := make([]gateway.Candle, n)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := range out {
		out[i] = gateway.Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     price, High: price + step, Low: price, Close: price + step,
			Volume: 1,
		}
		price += step
	}
	return out
}

func TestEvaluateAnomalyGuard(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	candles := flatCandles(100, 50)
	// Final candle spans far beyond the ATR of the flat series.
	last := &candles[len(candles)-1]
	last.High, last.Low = 150, 50

	snap := &indicator.Snapshot{Price: 100, RSI: 30, ATR: 1}
	sig := g.evaluate("BTCUSDT", candles, snap, regime.Range, regime.Metrics{}, cfg)

	if sig.Direction != Caution {
		t.Fatalf("direction = %v, want CAUTION on an anomalous candle", sig.Direction)
	}
	if sig.Tradeable() {
		t.Error("a CAUTION signal must never be tradeable")
	}
}

func TestEvaluateBuySignal(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	candles := flatCandles(100, 50)
	snap := &indicator.Snapshot{
		Price:     100,
		RSI:       30,  // oversold: +1, and satisfies the BUY band
		BBLower:   101, // price at or below the lower band: +1
		BBUpper:   110,
		EMA:       99,   // price above EMA: +1
		Imbalance: 0.30, // bid-heavy book: +1
		ATR:       0.4,
	}
	metrics := regime.Metrics{ADX: 22, Price: 100} // trend confirmation: +1

	sig := g.evaluate("BTCUSDT", candles, snap, regime.Range, metrics, cfg)

	if sig.Direction != Buy {
		t.Fatalf("direction = %v (confidence %d), want BUY", sig.Direction, sig.Confidence)
	}
	// Five scoring conditions plus the orderly-range bonus.
	if sig.Confidence != 6 {
		t.Errorf("confidence = %d, want 6", sig.Confidence)
	}
	if !sig.Tradeable() {
		t.Error("an uncached BUY must be tradeable")
	}
}

func TestEvaluateSellSignal(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	candles := flatCandles(100, 50)
	snap := &indicator.Snapshot{
		Price:     100,
		RSI:       70, // above the SELL band
		BBLower:   90,
		BBUpper:   105,
		EMA:       98,   // +1
		Imbalance: 0.20, // +1
		ATR:       0.4,
	}
	metrics := regime.Metrics{ADX: 30, Price: 100} // +1

	sig := g.evaluate("BTCUSDT", candles, snap, regime.TrendUp, metrics, cfg)
	if sig.Direction != Sell {
		t.Fatalf("direction = %v (confidence %d), want SELL", sig.Direction, sig.Confidence)
	}
}

func TestEvaluateHoldBelowMinConfidence(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	candles := flatCandles(100, 50)
	snap := &indicator.Snapshot{
		Price:     100,
		RSI:       35, // oversold, but alone
		BBLower:   90,
		BBUpper:   110,
		EMA:       105,
		Imbalance: 0,
		ATR:       0.4,
	}

	sig := g.evaluate("BTCUSDT", candles, snap, regime.Volatile, regime.Metrics{ADX: 10}, cfg)
	if sig.Direction == Buy || sig.Direction == Sell {
		t.Fatalf("direction = %v with confidence %d, want no actionable signal", sig.Direction, sig.Confidence)
	}
}

func TestVolatileRegimeReducesConfidence(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()
	candles := flatCandles(100, 50)
	snap := &indicator.Snapshot{
		Price: 100, RSI: 30, BBLower: 101, BBUpper: 110, EMA: 99, Imbalance: 0.3, ATR: 0.4,
	}
	metrics := regime.Metrics{ADX: 22, Price: 100}

	calm := g.evaluate("BTCUSDT", candles, snap, regime.Range, metrics, cfg)
	choppy := g.evaluate("BTCUSDT", candles, snap, regime.Volatile, metrics, cfg)

	if choppy.Confidence >= calm.Confidence {
		t.Errorf("volatile confidence %d should be below range confidence %d", choppy.Confidence, calm.Confidence)
	}
}

func TestWeakDirections(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()
	candles := flatCandles(100, 50)

	up := g.evaluate("BTCUSDT", candles, &indicator.Snapshot{
		Price: 100, RSI: 55, BBLower: 90, BBUpper: 110, EMA: 99, ATR: 0.4,
	}, regime.Range, regime.Metrics{ADX: 10}, cfg)
	if up.Direction != WeakUp {
		t.Errorf("direction = %v, want WEAK_UP", up.Direction)
	}
	if up.Tradeable() {
		t.Error("a weak signal must not be tradeable")
	}

	down := g.evaluate("BTCUSDT", candles, &indicator.Snapshot{
		Price: 100, RSI: 45, BBLower: 90, BBUpper: 110, EMA: 101, ATR: 0.4,
	}, regime.Range, regime.Metrics{ADX: 10}, cfg)
	if down.Direction != WeakDown {
		t.Errorf("direction = %v, want WEAK_DOWN", down.Direction)
	}
}

func TestStaleFallbackRelaxedRSI(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	g.lastTradeAt = now.Add(-4 * time.Hour)

	candles := flatCandles(100, 50)
	snap := &indicator.Snapshot{Price: 100, RSI: 44, BBLower: 90, BBUpper: 110, EMA: 101, ATR: 0.4}

	sig := g.evaluate("BTCUSDT", candles, snap, regime.Range, regime.Metrics{ADX: 10}, cfg)
	if sig.Direction != WeakUp {
		t.Fatalf("direction = %v, want WEAK_UP under the relaxed RSI band", sig.Direction)
	}
}

func TestStaleFallbackEMACrossover(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	g.lastTradeAt = now.Add(-7 * time.Hour)

	// Rising series: the fast EMA sits above the slow one.
	candles := risingCandles(100, 0.2, 60)
	snap := &indicator.Snapshot{Price: 112, RSI: 50, BBLower: 100, BBUpper: 115, EMA: 110, ATR: 0.4}

	sig := g.evaluate("BTCUSDT", candles, snap, regime.Range, regime.Metrics{ADX: 10}, cfg)
	if sig.Direction != Buy {
		t.Fatalf("direction = %v, want BUY from the dual-EMA fallback", sig.Direction)
	}
}

func TestStaleFallbackNeverFiresWithoutTradeHistory(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	candles := risingCandles(100, 0.2, 60)
	snap := &indicator.Snapshot{Price: 112, RSI: 50, BBLower: 100, BBUpper: 115, EMA: 110, ATR: 0.4}

	sig := g.evaluate("BTCUSDT", candles, snap, regime.Range, regime.Metrics{ADX: 10}, cfg)
	if sig.Direction == Buy || sig.Direction == Sell {
		t.Fatalf("direction = %v, stale fallback must be inert before the first trade", sig.Direction)
	}
}

func TestStrengthBounds(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	cfg := DefaultConfig()

	low := g.strength(0, regime.Metrics{}, &indicator.Snapshot{Price: 100, ATR: 5}, cfg)
	if low != 0 {
		t.Errorf("strength floor = %d, want 0", low)
	}

	high := g.strength(10, regime.Metrics{ADX: 40}, &indicator.Snapshot{Price: 100, ATR: 0.1}, cfg)
	if high != 100 {
		t.Errorf("strength ceiling = %d, want 100", high)
	}
}

func TestCacheSuppressesRepeatedSignal(t *testing.T) {
	cache := NewCache(nil, time.Minute, zerolog.Nop())
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if cache.SeenRecently(ctx, "BTCUSDT", "BTCUSDT|BUY|4") {
		t.Fatal("first observation must not be suppressed")
	}
	if !cache.SeenRecently(ctx, "BTCUSDT", "BTCUSDT|BUY|4") {
		t.Fatal("identical signal within the TTL must be suppressed")
	}
	if cache.SeenRecently(ctx, "BTCUSDT", "BTCUSDT|BUY|5") {
		t.Fatal("a changed rendering must not be suppressed")
	}

	now = now.Add(2 * time.Minute)
	if cache.SeenRecently(ctx, "BTCUSDT", "BTCUSDT|BUY|5") {
		t.Fatal("suppression must lapse after the TTL")
	}
}

func TestCacheKeysArePerSymbol(t *testing.T) {
	cache := NewCache(nil, time.Minute, zerolog.Nop())
	ctx := context.Background()

	cache.SeenRecently(ctx, "BTCUSDT", "BTCUSDT|BUY|4")
	if cache.SeenRecently(ctx, "ETHUSDT", "BTCUSDT|BUY|4") {
		t.Fatal("a signal for one symbol must not suppress another symbol")
	}
}

func TestGenerateInsufficientHistory(t *testing.T) {
	mock := gateway.NewMockExchange(1000)
	mock.Candles = flatCandles(100, 5)
	mock.Price = 100

	g := testGenerator(mock, nil)
	_, err := g.Generate(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("Generate with 5 candles must fail")
	}
}

func TestGenerateMarksRepeatAsCached(t *testing.T) {
	mock := gateway.NewMockExchange(1000)
	mock.Candles = flatCandles(100, 60)
	mock.Price = 100
	mock.Book = &gateway.OrderBook{
		Bids: []gateway.BookLevel{{Price: 99.9, Quantity: 10}},
		Asks: []gateway.BookLevel{{Price: 100.1, Quantity: 10}},
	}

	g := testGenerator(mock, NewCache(nil, time.Minute, zerolog.Nop()))
	ctx := context.Background()

	first, err := g.Generate(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first.Cached {
		t.Error("first signal must not be marked cached")
	}

	second, err := g.Generate(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !second.Cached {
		t.Error("an unchanged signal within the TTL must be marked cached")
	}
	if second.Tradeable() {
		t.Error("a cached signal must not be tradeable")
	}
}

func TestSetRSIThresholds(t *testing.T) {
	g := testGenerator(gateway.NewMockExchange(1000), nil)
	g.SetRSIThresholds(35, 65)
	cfg := g.Config()
	if cfg.RSIBuy != 35 || cfg.RSISell != 65 {
		t.Errorf("thresholds = (%v, %v), want (35, 65)", cfg.RSIBuy, cfg.RSISell)
	}
}
