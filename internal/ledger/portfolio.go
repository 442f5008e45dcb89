// Package ledger tracks realized PnL. Every closed trade produces exactly
// one CLOSE entry; the running balance always equals the initial balance
// plus the sum of CLOSE entry PnLs.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EntryType distinguishes informational OPEN entries from balance-affecting
// CLOSE entries.
type EntryType string

const (
	EntryOpen  EntryType = "OPEN"
	EntryClose EntryType = "CLOSE"
)

// Entry is one append-only ledger record.
type Entry struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	PnL  float64   `json:"pnl"`
	Type EntryType `json:"type"`
}

// Store persists ledger entries. Optional: a nil store keeps the ledger
// purely in memory.
type Store interface {
	InsertLedgerEntry(ctx context.Context, entry Entry) error
	ListLedgerEntries(ctx context.Context) ([]Entry, error)
}

// Portfolio is the virtual portfolio: initial balance plus realized PnL.
type Portfolio struct {
	mu      sync.RWMutex
	initial float64
	balance float64
	history []Entry
	store   Store
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPortfolio creates a portfolio with the given starting balance. store
// may be nil.
func NewPortfolio(initialBalance float64, store Store, logger zerolog.Logger) *Portfolio {
	return &Portfolio{
		initial: initialBalance,
		balance: initialBalance,
		store:   store,
		logger:  logger.With().Str("component", "ledger").Logger(),
		now:     time.Now,
	}
}

// Restore replays persisted entries into the in-memory state. Called once at
// startup before the first cycle.
func (p *Portfolio) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	entries, err := p.store.ListLedgerEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading ledger history: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = entries
	p.balance = p.initial
	for _, e := range entries {
		if e.Type == EntryClose {
			p.balance += e.PnL
		}
	}
	p.logger.Info().
		Int("entries", len(entries)).
		Float64("balance", p.balance).
		Msg("ledger restored")
	return nil
}

// ApplyTrade books one trade event. OPEN entries are informational and carry
// zero PnL; CLOSE entries move the balance.
func (p *Portfolio) ApplyTrade(ctx context.Context, pnl float64, entryType EntryType) Entry {
	if entryType == EntryOpen {
		pnl = 0
	}

	entry := Entry{
		ID:   uuid.NewString(),
		Time: p.now(),
		PnL:  pnl,
		Type: entryType,
	}

	p.mu.Lock()
	p.history = append(p.history, entry)
	if entryType == EntryClose {
		p.balance += pnl
	}
	balance := p.balance
	p.mu.Unlock()

	p.logger.Info().
		Str("type", string(entryType)).
		Float64("pnl", pnl).
		Float64("balance", balance).
		Msg("ledger entry booked")

	if p.store != nil {
		if err := p.store.InsertLedgerEntry(ctx, entry); err != nil {
			p.logger.Error().Err(err).Msg("persisting ledger entry failed")
		}
	}
	return entry
}

// Balance returns the current virtual balance.
func (p *Portfolio) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// InitialBalance returns the starting balance.
func (p *Portfolio) InitialBalance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initial
}

// HistoryLen returns the number of booked entries.
func (p *Portfolio) HistoryLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.history)
}

// Report sums CLOSE PnL over the trailing window and returns the sum and its
// percentage of the initial balance.
func (p *Portfolio) Report(days int) (sum, percent float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cutoff := p.now().AddDate(0, 0, -days)
	for _, e := range p.history {
		if e.Type == EntryClose && !e.Time.Before(cutoff) {
			sum += e.PnL
		}
	}
	if p.initial != 0 {
		percent = sum / p.initial * 100
	}
	return sum, percent
}

// FullReport renders the 24h/7d/30d rolling performance summary.
func (p *Portfolio) FullReport() string {
	d, dp := p.Report(1)
	w, wp := p.Report(7)
	m, mp := p.Report(30)
	return fmt.Sprintf(
		"Portfolio report:\nBalance: %.2f USDT\n24h: %+.2f USDT (%+.2f%%)\n7d: %+.2f USDT (%+.2f%%)\n30d: %+.2f USDT (%+.2f%%)",
		p.Balance(), d, dp, w, wp, m, mp)
}

// ReconcileBalance compares the virtual balance against the authoritative
// exchange balance and adopts the exchange value when they diverge by more
// than tolerance (a fraction, e.g. 0.1 for 10%). Returns whether a
// correction was applied.
func (p *Portfolio) ReconcileBalance(exchangeBalance, tolerance float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if exchangeBalance <= 0 || p.balance <= 0 {
		return false
	}
	divergence := math.Abs(p.balance-exchangeBalance) / p.balance
	if divergence <= tolerance {
		return false
	}

	p.logger.Warn().
		Float64("local", p.balance).
		Float64("exchange", exchangeBalance).
		Float64("divergence", divergence).
		Msg("balance divergence beyond tolerance, adopting exchange balance")
	p.balance = exchangeBalance
	return true
}
