package gateway

import "time"

// Candle represents a single OHLCV candlestick. Sequences are ordered oldest
// first, newest last.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Range returns the high-low span of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// BookLevel is a single price level in the order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderResponse is the exchange acknowledgement of a placed order.
type OrderResponse struct {
	OrderID     string  `json:"order_id"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	ExecutedQty float64 `json:"executed_qty"`
	Status      string  `json:"status"`
}

// OpenPosition is a live position as reported by the exchange.
type OpenPosition struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Amount     float64 `json:"amount"`
	EntryPrice float64 `json:"entry_price"`
	OrderID    string  `json:"order_id"`
}
