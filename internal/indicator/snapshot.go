package indicator

import (
	"errors"

	"futures-trading-agent/internal/gateway"
)

// Standard indicator periods.
const (
	RSIPeriod    = 14
	BBPeriod     = 20
	BBStdDev     = 2.0
	EMAPeriod    = 20
	ATRPeriod    = 14
	BookLevels   = 3
	MinCandles   = 20
)

// ErrInsufficientData signals that fewer than MinCandles candles were
// available. Callers must surface "indicators unavailable" rather than
// treating zero values as real readings.
var ErrInsufficientData = errors.New("insufficient candle history for indicators")

// Snapshot holds one cycle's indicator readings. Immutable once computed.
type Snapshot struct {
	Price     float64 `json:"price"`
	RSI       float64 `json:"rsi"`
	BBUpper   float64 `json:"bb_upper"`
	BBLower   float64 `json:"bb_lower"`
	EMA       float64 `json:"ema"`
	ATR       float64 `json:"atr"`
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
	Imbalance float64 `json:"imbalance"`
}

// ATRPercent returns the ATR normalized by price, as a percentage.
func (s *Snapshot) ATRPercent() float64 {
	if s.Price == 0 {
		return 0
	}
	return s.ATR / s.Price * 100
}

// Compute derives a Snapshot from candles and an order-book snapshot. Returns
// ErrInsufficientData below MinCandles of history. book may be nil, in which
// case the imbalance fields are zero.
func Compute(candles []gateway.Candle, book *gateway.OrderBook) (*Snapshot, error) {
	if len(candles) < MinCandles {
		return nil, ErrInsufficientData
	}

	upper, lower := BollingerBands(candles, BBPeriod, BBStdDev)
	imbalance, bidVol, askVol := BookImbalance(book, BookLevels)

	return &Snapshot{
		Price:     candles[len(candles)-1].Close,
		RSI:       RSI(candles, RSIPeriod),
		BBUpper:   upper,
		BBLower:   lower,
		EMA:       EMA(candles, EMAPeriod),
		ATR:       ATR(candles, ATRPeriod),
		BidVolume: bidVol,
		AskVolume: askVol,
		Imbalance: imbalance,
	}, nil
}
