package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	entries []Entry
	failPut error
}

func (s *memStore) InsertLedgerEntry(_ context.Context, entry Entry) error {
	if s.failPut != nil {
		return s.failPut
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memStore) ListLedgerEntries(_ context.Context) ([]Entry, error) {
	return s.entries, nil
}

func TestBalanceEqualsInitialPlusClosedPnL(t *testing.T) {
	p := NewPortfolio(1000, nil, zerolog.Nop())
	ctx := context.Background()

	p.ApplyTrade(ctx, 0, EntryOpen)
	p.ApplyTrade(ctx, 25, EntryClose)
	p.ApplyTrade(ctx, 0, EntryOpen)
	p.ApplyTrade(ctx, -10, EntryClose)
	p.ApplyTrade(ctx, 5, EntryClose)

	if got := p.Balance(); got != 1020 {
		t.Errorf("balance = %v, want 1000 + 25 - 10 + 5 = 1020", got)
	}
	if p.HistoryLen() != 5 {
		t.Errorf("history length = %d, want 5", p.HistoryLen())
	}
}

func TestOpenEntriesNeverMoveBalance(t *testing.T) {
	p := NewPortfolio(1000, nil, zerolog.Nop())

	// A PnL passed on an OPEN entry is forced to zero.
	entry := p.ApplyTrade(context.Background(), 99, EntryOpen)
	if entry.PnL != 0 {
		t.Errorf("OPEN entry PnL = %v, want 0", entry.PnL)
	}
	if p.Balance() != 1000 {
		t.Errorf("balance = %v after OPEN, want unchanged 1000", p.Balance())
	}
}

func TestRestoreReplaysCloseEntries(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()

	first := NewPortfolio(1000, store, zerolog.Nop())
	first.ApplyTrade(ctx, 0, EntryOpen)
	first.ApplyTrade(ctx, 40, EntryClose)
	first.ApplyTrade(ctx, -15, EntryClose)

	second := NewPortfolio(1000, store, zerolog.Nop())
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if second.Balance() != 1025 {
		t.Errorf("restored balance = %v, want 1025", second.Balance())
	}
	if second.HistoryLen() != 3 {
		t.Errorf("restored history length = %d, want 3", second.HistoryLen())
	}
}

func TestStoreFailureDoesNotBlockTrading(t *testing.T) {
	store := &memStore{failPut: errors.New("connection refused")}
	p := NewPortfolio(1000, store, zerolog.Nop())

	p.ApplyTrade(context.Background(), 10, EntryClose)
	if p.Balance() != 1010 {
		t.Errorf("balance = %v, in-memory state must update despite a store failure", p.Balance())
	}
}

func TestReportWindows(t *testing.T) {
	p := NewPortfolio(1000, nil, zerolog.Nop())
	base := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	// Book entries at controlled times.
	for _, tc := range []struct {
		age time.Duration
		pnl float64
	}{
		{2 * time.Hour, 10},       // inside 24h
		{3 * 24 * time.Hour, 20},  // inside 7d
		{20 * 24 * time.Hour, 40}, // inside 30d
		{40 * 24 * time.Hour, 80}, // outside all windows
	} {
		p.now = func() time.Time { return base.Add(-tc.age) }
		p.ApplyTrade(context.Background(), tc.pnl, EntryClose)
	}
	p.now = func() time.Time { return base }

	day, dayPct := p.Report(1)
	if day != 10 || dayPct != 1 {
		t.Errorf("24h report = (%v, %v%%), want (10, 1%%)", day, dayPct)
	}
	if week, _ := p.Report(7); week != 30 {
		t.Errorf("7d report = %v, want 30", week)
	}
	if month, _ := p.Report(30); month != 70 {
		t.Errorf("30d report = %v, want 70", month)
	}
}

func TestReconcileBalance(t *testing.T) {
	tests := []struct {
		name     string
		local    float64
		exchange float64
		adopted  bool
	}{
		{"within tolerance", 1000, 950, false},
		{"beyond tolerance low", 1000, 800, true},
		{"beyond tolerance high", 1000, 1200, true},
		{"exchange unavailable", 1000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPortfolio(tt.local, nil, zerolog.Nop())
			got := p.ReconcileBalance(tt.exchange, 0.10)
			if got != tt.adopted {
				t.Fatalf("adopted = %v, want %v", got, tt.adopted)
			}
			want := tt.local
			if tt.adopted {
				want = tt.exchange
			}
			if p.Balance() != want {
				t.Errorf("balance = %v, want %v", p.Balance(), want)
			}
		})
	}
}
