// Package gateway provides the market data and order gateway the trading
// engine runs against. The exchange is treated as a fallible remote service:
// every call takes a context, and failures are classified as transient
// (retryable) or rejected (not retryable).
package gateway

import "context"

// Exchange defines the operations the trading engine needs from a venue.
type Exchange interface {
	// FetchCandles returns up to limit candles for the interval, newest last.
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// FetchOrderBook returns a depth snapshot with up to depth levels per side.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// FetchTicker returns the last traded price.
	FetchTicker(ctx context.Context, symbol string) (float64, error)

	// FetchBalance returns the free balance for the given asset.
	FetchBalance(ctx context.Context, asset string) (float64, error)

	// CreateMarketOrder places a market order and returns the fill.
	CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (*OrderResponse, error)

	// CreateStopOrder places a STOP_MARKET order at stopPrice.
	CreateStopOrder(ctx context.Context, symbol string, side Side, amount, stopPrice float64) (*OrderResponse, error)

	// CreateLimitOrder places a limit order at price.
	CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64) (*OrderResponse, error)

	// FetchOpenPositions returns the live positions on the exchange. This is
	// the authoritative source during reconciliation.
	FetchOpenPositions(ctx context.Context, symbol string) ([]OpenPosition, error)

	// SetLeverage sets the leverage for a symbol. Venues that do not support
	// it return nil.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
