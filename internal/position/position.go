// Package position owns the set of open positions. Positions are created
// only after the exchange confirms the entry order, mutated by no other
// component, and removed when closed. The exchange remains the authoritative
// record; local state is rebuilt from it on reconciliation.
package position

import (
	"errors"
	"time"

	"futures-trading-agent/internal/gateway"
)

// Side is the direction of a held position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// EntryOrder returns the order side that opens a position of this direction.
func (s Side) EntryOrder() gateway.Side {
	if s == Short {
		return gateway.SideSell
	}
	return gateway.SideBuy
}

// ExitOrder returns the order side that closes a position of this direction.
func (s Side) ExitOrder() gateway.Side {
	return s.EntryOrder().Opposite()
}

// SideFromOrder maps an entry order side to the position direction.
func SideFromOrder(side gateway.Side) Side {
	if side == gateway.SideSell {
		return Short
	}
	return Long
}

// Position is one held position. Amount is always positive; StopLoss and
// TakeProfit, when set, sit on the correct side of the entry price.
type Position struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Amount     float64   `json:"amount"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// PnL returns the realized profit for an exit at exitPrice over amount.
func (p *Position) PnL(exitPrice, amount float64) float64 {
	pnl := (exitPrice - p.EntryPrice) * amount
	if p.Side == Short {
		return -pnl
	}
	return pnl
}

// takeProfitHit reports whether price satisfies the take-profit condition.
func (p *Position) takeProfitHit(price float64) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Side == Long {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// stopLossHit reports whether price satisfies the stop-loss condition.
func (p *Position) stopLossHit(price float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Side == Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// Errors returned by the manager.
var (
	ErrPositionNotFound = errors.New("position not found")
	// ErrRiskDenied wraps a risk-gate denial. An expected control-flow
	// outcome, not a failure.
	ErrRiskDenied = errors.New("trade denied by risk manager")
	// ErrVolumeLimit marks a single-trade or per-symbol volume cap hit.
	ErrVolumeLimit = errors.New("volume limit exceeded")
)
