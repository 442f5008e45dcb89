package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"futures-trading-agent/internal/gateway"
)

func candlesFromCloses(closes ...float64) []gateway.Candle {
	out := make([]gateway.Candle, len(closes))
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = gateway.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			Volume:   1,
		}
	}
	return out
}

func constantCandles(price float64, n int) []gateway.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return candlesFromCloses(closes...)
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSMA(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3, 4, 5)
	if got := SMA(candles, 5); got != 3 {
		t.Errorf("SMA(1..5, 5) = %v, want 3", got)
	}
	if got := SMA(candles, 2); got != 4.5 {
		t.Errorf("SMA last 2 = %v, want 4.5", got)
	}
	if got := SMA(candles, 10); got != 0 {
		t.Errorf("SMA with short history = %v, want 0", got)
	}
}

func TestRSIFlatSeriesIsNeutral(t *testing.T) {
	// No gains and no losses must read as neutral, never as oversold.
	candles := constantCandles(100, 50)
	if got := RSI(candles, RSIPeriod); got != 50 {
		t.Errorf("RSI of flat series = %v, want 50", got)
	}
}

func TestRSIExtremes(t *testing.T) {
	up := candlesFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16)
	if got := RSI(up, RSIPeriod); got != 100 {
		t.Errorf("RSI of strictly rising series = %v, want 100", got)
	}

	down := candlesFromCloses(16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	if got := RSI(down, RSIPeriod); got >= 1 {
		t.Errorf("RSI of strictly falling series = %v, want near 0", got)
	}
}

func TestRSIInsufficientHistory(t *testing.T) {
	candles := candlesFromCloses(1, 2, 3)
	if got := RSI(candles, RSIPeriod); got != 50 {
		t.Errorf("RSI with 3 candles = %v, want neutral 50", got)
	}
}

func TestBollingerBandsFlatSeries(t *testing.T) {
	candles := constantCandles(100, 30)
	upper, lower := BollingerBands(candles, BBPeriod, BBStdDev)
	if upper != 100 || lower != 100 {
		t.Errorf("bands of flat series = (%v, %v), want (100, 100)", upper, lower)
	}
}

func TestBollingerBandsSymmetry(t *testing.T) {
	candles := candlesFromCloses(10, 12, 14, 16, 18, 20, 18, 16, 14, 12, 10, 12, 14, 16, 18, 20, 18, 16, 14, 12)
	upper, lower := BollingerBands(candles, BBPeriod, BBStdDev)
	mid := SMA(candles, BBPeriod)
	if !almostEqual(upper-mid, mid-lower, 1e-9) {
		t.Errorf("bands not symmetric around SMA: upper-mid=%v mid-lower=%v", upper-mid, mid-lower)
	}
	if upper <= lower {
		t.Errorf("upper %v must exceed lower %v", upper, lower)
	}
}

func TestATRFlatSeriesIsZero(t *testing.T) {
	candles := constantCandles(100, 30)
	if got := ATR(candles, ATRPeriod); got != 0 {
		t.Errorf("ATR of flat series = %v, want 0", got)
	}
}

func TestATRUsesGaps(t *testing.T) {
	// Two series with identical candle bodies but one has an overnight gap;
	// true range must pick up the gap through the previous close.
	base := constantCandles(100, 30)
	gapped := constantCandles(100, 30)
	gapped[29].Open, gapped[29].High, gapped[29].Low, gapped[29].Close = 110, 110, 110, 110

	if ATR(gapped, ATRPeriod) <= ATR(base, ATRPeriod) {
		t.Error("ATR must increase when a gap enters the window")
	}
}

func TestBookImbalance(t *testing.T) {
	tests := []struct {
		name string
		book *gateway.OrderBook
		want float64
	}{
		{
			name: "bid heavy",
			book: &gateway.OrderBook{
				Bids: []gateway.BookLevel{{Price: 100, Quantity: 30}},
				Asks: []gateway.BookLevel{{Price: 101, Quantity: 10}},
			},
			want: 0.5,
		},
		{
			name: "balanced",
			book: &gateway.OrderBook{
				Bids: []gateway.BookLevel{{Price: 100, Quantity: 10}},
				Asks: []gateway.BookLevel{{Price: 101, Quantity: 10}},
			},
			want: 0,
		},
		{
			name: "ask heavy",
			book: &gateway.OrderBook{
				Bids: []gateway.BookLevel{{Price: 100, Quantity: 10}},
				Asks: []gateway.BookLevel{{Price: 101, Quantity: 30}},
			},
			want: -0.5,
		},
		{
			name: "empty book",
			book: &gateway.OrderBook{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, _ := BookImbalance(tt.book, BookLevels)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("imbalance = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBookImbalanceNilBook(t *testing.T) {
	imbalance, bid, ask := BookImbalance(nil, BookLevels)
	if imbalance != 0 || bid != 0 || ask != 0 {
		t.Errorf("nil book = (%v, %v, %v), want zeros", imbalance, bid, ask)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	candles := constantCandles(100, MinCandles-1)
	_, err := Compute(candles, nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Compute with %d candles: err = %v, want ErrInsufficientData", MinCandles-1, err)
	}
}

func TestComputeSnapshot(t *testing.T) {
	candles := constantCandles(100, 50)
	book := &gateway.OrderBook{
		Bids: []gateway.BookLevel{{Price: 99.9, Quantity: 20}},
		Asks: []gateway.BookLevel{{Price: 100.1, Quantity: 10}},
	}

	snap, err := Compute(candles, book)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if snap.Price != 100 {
		t.Errorf("Price = %v, want 100", snap.Price)
	}
	if snap.RSI != 50 {
		t.Errorf("RSI = %v, want 50", snap.RSI)
	}
	if snap.ATR != 0 {
		t.Errorf("ATR = %v, want 0", snap.ATR)
	}
	if snap.ATRPercent() != 0 {
		t.Errorf("ATRPercent = %v, want 0", snap.ATRPercent())
	}
	if !almostEqual(snap.Imbalance, 1.0/3.0, 1e-9) {
		t.Errorf("Imbalance = %v, want 1/3", snap.Imbalance)
	}
}

func TestEMAConvergesTowardRecentPrices(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		if i < 30 {
			closes[i] = 100
		} else {
			closes[i] = 200
		}
	}
	candles := candlesFromCloses(closes...)

	ema := EMA(candles, EMAPeriod)
	sma := SMA(candles, len(candles))
	if ema <= sma {
		t.Errorf("EMA %v should sit above the full-series SMA %v after a step up", ema, sma)
	}
}
