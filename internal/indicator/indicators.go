// Package indicator computes the technical indicators the signal generator
// and regime classifier consume. All functions operate on candle slices
// ordered oldest first and guard against insufficient history.
package indicator

import (
	"math"

	"futures-trading-agent/internal/gateway"
)

// SMA returns the simple moving average of the last period closes.
func SMA(candles []gateway.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average of closes, seeded with the SMA
// of the first period values.
func EMA(candles []gateway.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	ema := SMA(candles[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		ema = candles[i].Close*multiplier + ema*(1-multiplier)
	}
	return ema
}

// EMASeries returns the running EMA value at every candle, seeded with the
// first close. Used for slope measurements.
func EMASeries(candles []gateway.Candle, period int) []float64 {
	if len(candles) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	series := make([]float64, len(candles))
	ema := candles[0].Close
	for i, c := range candles {
		ema = c.Close*k + ema*(1-k)
		series[i] = ema
	}
	return series
}

// RSI returns the Wilder-smoothed Relative Strength Index over period, or 50
// when history is insufficient.
func RSI(candles []gateway.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 50
	}

	// Seed with the simple average of the first period changes, then apply
	// Wilder smoothing over the remainder.
	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// BollingerBands returns the upper and lower bands: SMA(period) ± mult
// standard deviations.
func BollingerBands(candles []gateway.Candle, period int, mult float64) (upper, lower float64) {
	if len(candles) < period || period <= 0 {
		return 0, 0
	}
	middle := SMA(candles, period)
	variance := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))
	return middle + stdDev*mult, middle - stdDev*mult
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(c gateway.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low,
		math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns the average true range over the last period candles.
func ATR(candles []gateway.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period)
}

// BookImbalance returns (top-N bid volume − top-N ask volume) divided by the
// combined volume, clamping the denominator at 1 to avoid division by zero.
func BookImbalance(book *gateway.OrderBook, levels int) (imbalance, bidVolume, askVolume float64) {
	if book == nil {
		return 0, 0, 0
	}
	for i := 0; i < levels && i < len(book.Bids); i++ {
		bidVolume += book.Bids[i].Quantity
	}
	for i := 0; i < levels && i < len(book.Asks); i++ {
		askVolume += book.Asks[i].Quantity
	}
	imbalance = (bidVolume - askVolume) / math.Max(bidVolume+askVolume, 1)
	return imbalance, bidVolume, askVolume
}
