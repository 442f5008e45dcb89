package database

import (
	"context"
	"time"

	"futures-trading-agent/internal/ledger"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// LEDGER
// ============================================================================

// InsertLedgerEntry appends a ledger entry
func (r *Repository) InsertLedgerEntry(ctx context.Context, entry ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (id, entry_time, pnl, entry_type)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Pool.Exec(ctx, query, entry.ID, entry.Time, entry.PnL, entry.Type)
	return err
}

// ListLedgerEntries returns all ledger entries oldest first
func (r *Repository) ListLedgerEntries(ctx context.Context) ([]ledger.Entry, error) {
	query := `
		SELECT id, entry_time, pnl, entry_type
		FROM ledger_entries
		ORDER BY entry_time ASC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.Time, &e.PnL, &e.Type); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ============================================================================
// CLOSED TRADES
// ============================================================================

// InsertClosedTrade records a completed round trip
func (r *Repository) InsertClosedTrade(ctx context.Context, trade *ClosedTrade) error {
	query := `
		INSERT INTO closed_trades (id, symbol, side, entry_price, exit_price, amount, pnl, reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		trade.ID, trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice,
		trade.Amount, trade.PnL, trade.Reason, trade.OpenedAt, trade.ClosedAt,
	)
	return err
}

// ListClosedTrades returns trades closed after the cutoff, newest first
func (r *Repository) ListClosedTrades(ctx context.Context, since time.Time, limit int) ([]*ClosedTrade, error) {
	query := `
		SELECT id, symbol, side, entry_price, exit_price, amount, pnl, reason, opened_at, closed_at
		FROM closed_trades
		WHERE closed_at >= $1
		ORDER BY closed_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*ClosedTrade
	for rows.Next() {
		t := &ClosedTrade{}
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice,
			&t.Amount, &t.PnL, &t.Reason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTradeStats aggregates closed trades after the cutoff
func (r *Repository) GetTradeStats(ctx context.Context, since time.Time) (*TradeStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE pnl > 0),
		       COUNT(*) FILTER (WHERE pnl <= 0),
		       COALESCE(SUM(pnl), 0)
		FROM closed_trades
		WHERE closed_at >= $1
	`
	stats := &TradeStats{}
	err := r.db.Pool.QueryRow(ctx, query, since).Scan(&stats.Total, &stats.Wins, &stats.Losses, &stats.NetPnL)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Total)
	}
	return stats, nil
}
