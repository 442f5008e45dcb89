package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents the type of notification
type EventType string

const (
	EventSignal     EventType = "signal"
	EventTradeOpen  EventType = "trade_open"
	EventTradeClose EventType = "trade_close"
	EventRiskPause  EventType = "risk_pause"
	EventReport     EventType = "report"
	EventError      EventType = "error"
)

// Event represents a notification message
type Event struct {
	Type      EventType
	Title     string
	Message   string
	Symbol    string
	Price     float64
	PnL       float64
	Timestamp time.Time
}

// Notifier interface for notification providers
type Notifier interface {
	Send(event *Event) error
	Name() string
	IsEnabled() bool
}

// Manager fans events out to the configured providers. Delivery failures are
// logged and never propagate into the trading cycle.
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewManager creates a notification manager
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers an event to all enabled providers
func (m *Manager) Send(event *Event) {
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(event); err != nil {
			m.logger.Warn().Err(err).Str("provider", n.Name()).Str("type", string(event.Type)).Msg("notification delivery failed")
		}
	}
}

// SendSignal announces a tradeable signal
func (m *Manager) SendSignal(symbol, direction, reason string, price float64, strength int) {
	m.Send(&Event{
		Type:      EventSignal,
		Title:     fmt.Sprintf("Signal: %s %s", direction, symbol),
		Message:   fmt.Sprintf("%s %s @ %.4f\nStrength: %d\nReason: %s", direction, symbol, price, strength, reason),
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
	})
}

// SendTradeOpen announces an opened position
func (m *Manager) SendTradeOpen(symbol, side string, price, amount, stopLoss, takeProfit float64) {
	m.Send(&Event{
		Type:      EventTradeOpen,
		Title:     fmt.Sprintf("Position opened: %s", symbol),
		Message:   fmt.Sprintf("%s %s\nPrice: %.4f\nAmount: %.4f\nSL: %.4f | TP: %.4f", side, symbol, price, amount, stopLoss, takeProfit),
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
	})
}

// SendTradeClose announces a closed position
func (m *Manager) SendTradeClose(symbol string, entryPrice, exitPrice, pnl float64, reason string) {
	m.Send(&Event{
		Type:      EventTradeClose,
		Title:     fmt.Sprintf("Position closed: %s", symbol),
		Message:   fmt.Sprintf("Entry: %.4f / Exit: %.4f\nP&L: %.4f USDT\nReason: %s", entryPrice, exitPrice, pnl, reason),
		Symbol:    symbol,
		Price:     exitPrice,
		PnL:       pnl,
		Timestamp: time.Now(),
	})
}

// SendRiskPause announces that the risk layer paused trading
func (m *Manager) SendRiskPause(reason string, until time.Time) {
	m.Send(&Event{
		Type:      EventRiskPause,
		Title:     "Trading paused",
		Message:   fmt.Sprintf("%s\nResumes: %s", reason, until.Format("15:04:05 02.01.2006")),
		Timestamp: time.Now(),
	})
}

// SendReport delivers a periodic performance report
func (m *Manager) SendReport(report string) {
	m.Send(&Event{
		Type:      EventReport,
		Title:     "Daily report",
		Message:   report,
		Timestamp: time.Now(),
	})
}

// SendError announces an operational error
func (m *Manager) SendError(title, message string) {
	m.Send(&Event{
		Type:      EventError,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}
