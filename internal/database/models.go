package database

import "time"

// ClosedTrade is a completed round trip recorded for reporting.
type ClosedTrade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Amount     float64   `json:"amount"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// TradeStats aggregates closed trades over a window.
type TradeStats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
	NetPnL  float64 `json:"net_pnl"`
}
