package position

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/indicator"
	"futures-trading-agent/internal/ledger"
	"futures-trading-agent/internal/risk"
)

// Config holds position limits and order placement settings.
type Config struct {
	QuoteAsset       string  // balance asset, e.g. "USDT"
	MaxSingleTrade   float64 // max amount per order, base currency
	MaxSymbolVolume  float64 // max aggregate amount per symbol
	Leverage         int     // leverage applied before entry, 0 to skip
	ProtectiveOrders bool    // place exchange stop/limit orders as backup
}

// DefaultConfig returns standard position limits.
func DefaultConfig() Config {
	return Config{
		QuoteAsset:       "USDT",
		MaxSingleTrade:   0.01,
		MaxSymbolVolume:  0.02,
		Leverage:         5,
		ProtectiveOrders: true,
	}
}

// OpenRequest describes a prospective position.
type OpenRequest struct {
	Symbol     string
	Side       Side
	Amount     float64 // 0 means: size from the risk manager
	StopLoss   float64
	TakeProfit float64

	// Snapshot and LastRange feed the risk gates; Snapshot may be nil when
	// indicators are unavailable.
	Snapshot  *indicator.Snapshot
	LastRange float64
}

// CloseResult reports a completed close.
type CloseResult struct {
	Position  *Position
	ExitPrice float64
	Amount    float64
	PnL       float64
	Reason    string
}

// PriceSource provides a low-latency last price for the traded symbol,
// typically backed by a websocket stream. ok is false when no price fresher
// than maxAge is available.
type PriceSource interface {
	LastPrice(maxAge time.Duration) (price float64, ok bool)
}

// streamPriceMaxAge bounds how stale a streamed price may be before the
// monitor falls back to the REST ticker.
const streamPriceMaxAge = 5 * time.Second

// Manager executes the position lifecycle: open, monitor, close.
type Manager struct {
	mu sync.RWMutex

	exchange  gateway.Exchange
	portfolio *ledger.Portfolio
	riskMgr   *risk.Manager
	store     *StateStore
	cfg       Config
	logger    zerolog.Logger

	prices    PriceSource // nil without a stream
	positions map[string]*Position
	now       func() time.Time
}

// NewManager creates a position manager with an empty table.
func NewManager(exchange gateway.Exchange, portfolio *ledger.Portfolio, riskMgr *risk.Manager, store *StateStore, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		exchange:  exchange,
		portfolio: portfolio,
		riskMgr:   riskMgr,
		store:     store,
		cfg:       cfg,
		logger:    logger.With().Str("component", "position").Logger(),
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// Open opens a new position. The risk gates run first; a denial returns
// ErrRiskDenied with the gate's reason. No position is recorded unless the
// exchange confirmed the entry order.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Position, error) {
	balance, err := m.exchange.FetchBalance(ctx, m.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("fetching balance: %w", err)
	}

	if ok, reason := m.riskMgr.CheckTradePermission(balance, req.Snapshot, req.LastRange); !ok {
		return nil, fmt.Errorf("%w: %s", ErrRiskDenied, reason)
	}
	if m.OpenCount() >= m.riskMgr.MaxPositions() {
		return nil, fmt.Errorf("%w: %d positions already open (limit %d)", ErrRiskDenied, m.OpenCount(), m.riskMgr.MaxPositions())
	}

	price, err := m.exchange.FetchTicker(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching ticker: %w", err)
	}

	amount := req.Amount
	if amount == 0 {
		sized, ok := m.riskMgr.CalculatePositionSize(balance, price)
		if !ok {
			return nil, fmt.Errorf("%w: position size below exchange minimum", ErrRiskDenied)
		}
		amount = sized
	}

	if amount > m.cfg.MaxSingleTrade {
		return nil, fmt.Errorf("%w: amount %.4f above single-trade limit %.4f", ErrVolumeLimit, amount, m.cfg.MaxSingleTrade)
	}
	if total := m.symbolVolume(req.Symbol); total+amount > m.cfg.MaxSymbolVolume {
		return nil, fmt.Errorf("%w: aggregate %.4f for %s above limit %.4f", ErrVolumeLimit, total+amount, req.Symbol, m.cfg.MaxSymbolVolume)
	}

	if m.cfg.Leverage > 0 {
		if err := m.exchange.SetLeverage(ctx, req.Symbol, m.cfg.Leverage); err != nil {
			m.logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("setting leverage failed, continuing")
		}
	}

	order, err := m.exchange.CreateMarketOrder(ctx, req.Symbol, req.Side.EntryOrder(), amount)
	if err != nil {
		return nil, fmt.Errorf("entry order failed: %w", err)
	}

	entryPrice := order.Price
	if entryPrice == 0 {
		entryPrice = price
	}

	id := order.OrderID
	if id == "" {
		id = uuid.NewString()
	}

	pos := &Position{
		ID:         id,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Amount:     amount,
		EntryPrice: entryPrice,
		StopLoss:   normalizeStop(req.Side, entryPrice, req.StopLoss),
		TakeProfit: normalizeTarget(req.Side, entryPrice, req.TakeProfit),
		OpenedAt:   m.now(),
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	snapshot := m.tableCopyLocked()
	m.mu.Unlock()
	m.store.Save(ctx, snapshot)

	m.portfolio.ApplyTrade(ctx, 0, ledger.EntryOpen)

	if m.cfg.ProtectiveOrders && pos.StopLoss > 0 && pos.TakeProfit > 0 {
		m.placeProtectiveOrders(ctx, pos)
	}

	m.logger.Info().
		Str("id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("amount", pos.Amount).
		Float64("entry_price", pos.EntryPrice).
		Msg("position opened")
	return pos, nil
}

// Close closes the position by id with a market order. Closing an unknown id
// returns ErrPositionNotFound and mutates nothing.
func (m *Manager) Close(ctx context.Context, id, reason string) (*CloseResult, error) {
	m.mu.RLock()
	pos, ok := m.positions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}

	price, err := m.exchange.FetchTicker(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetching ticker: %w", err)
	}

	balance, err := m.exchange.FetchBalance(ctx, m.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("fetching balance: %w", err)
	}

	// Close no more than the balance can cover, with a small buffer for
	// fees and price movement.
	amount := pos.Amount
	if price > 0 {
		available := math.Round(balance/price*0.99*1e4) / 1e4
		if available < amount {
			amount = available
		}
	}
	if amount <= 0 {
		return nil, &gateway.RejectedError{Op: "Close", Reason: "insufficient balance to close position"}
	}

	order, err := m.exchange.CreateMarketOrder(ctx, pos.Symbol, pos.Side.ExitOrder(), amount)
	if err != nil {
		return nil, fmt.Errorf("exit order failed: %w", err)
	}

	exitPrice := order.Price
	if exitPrice == 0 {
		exitPrice = price
	}
	pnl := pos.PnL(exitPrice, amount)

	m.mu.Lock()
	delete(m.positions, id)
	snapshot := m.tableCopyLocked()
	m.mu.Unlock()
	m.store.Save(ctx, snapshot)

	m.portfolio.ApplyTrade(ctx, pnl, ledger.EntryClose)
	m.riskMgr.RecordTrade(pnl)

	m.logger.Info().
		Str("id", id).
		Str("symbol", pos.Symbol).
		Float64("exit_price", exitPrice).
		Float64("pnl", pnl).
		Str("reason", reason).
		Msg("position closed")

	return &CloseResult{
		Position:  pos,
		ExitPrice: exitPrice,
		Amount:    amount,
		PnL:       pnl,
		Reason:    reason,
	}, nil
}

// SetPriceSource attaches a streamed price feed for the traded symbol. The
// monitor consults it before the REST ticker.
func (m *Manager) SetPriceSource(ps PriceSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = ps
}

// currentPrice returns the freshest known price: the streamed price when it
// is recent enough, the REST ticker otherwise.
func (m *Manager) currentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	ps := m.prices
	m.mu.RUnlock()
	if ps != nil {
		if price, ok := ps.LastPrice(streamPriceMaxAge); ok {
			return price, nil
		}
	}
	return m.exchange.FetchTicker(ctx, symbol)
}

// CheckPositions polls current prices and closes any position whose
// take-profit or stop-loss condition is met. Positions are checked
// independently; one failure does not stop the rest. Runs every cycle even
// while trading is paused.
func (m *Manager) CheckPositions(ctx context.Context) []CloseResult {
	var results []CloseResult
	for _, pos := range m.List() {
		price, err := m.currentPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.Error().Err(err).Str("id", pos.ID).Msg("price check failed")
			continue
		}

		var reason string
		switch {
		case pos.takeProfitHit(price):
			reason = fmt.Sprintf("TP hit at %.2f", price)
		case pos.stopLossHit(price):
			reason = fmt.Sprintf("SL hit at %.2f", price)
		default:
			continue
		}

		result, err := m.Close(ctx, pos.ID, reason)
		if err != nil {
			m.logger.Error().Err(err).Str("id", pos.ID).Msg("protective close failed")
			continue
		}
		results = append(results, *result)
	}
	return results
}

// Reconcile rebuilds the local table from the exchange's live positions.
// The exchange is authoritative: unknown live positions are adopted, local
// positions absent on the exchange are dropped. Runs at startup and whenever
// the local table is empty.
func (m *Manager) Reconcile(ctx context.Context, symbol string) error {
	live, err := m.exchange.FetchOpenPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetching open positions: %w", err)
	}

	cached := m.store.Load(ctx)

	m.mu.Lock()
	before := len(m.positions)
	liveIDs := make(map[string]bool, len(live))
	for _, lp := range live {
		liveIDs[lp.OrderID] = true
		if _, known := m.positions[lp.OrderID]; known {
			continue
		}
		pos := &Position{
			ID:         lp.OrderID,
			Symbol:     lp.Symbol,
			Side:       SideFromOrder(lp.Side),
			Amount:     lp.Amount,
			EntryPrice: lp.EntryPrice,
			OpenedAt:   m.now(),
		}
		// The local snapshot may still know the SL/TP the exchange does not
		// report.
		if prev, ok := cached[lp.OrderID]; ok {
			pos.StopLoss = prev.StopLoss
			pos.TakeProfit = prev.TakeProfit
			pos.OpenedAt = prev.OpenedAt
		}
		m.positions[pos.ID] = pos
		m.logger.Info().
			Str("id", pos.ID).
			Str("symbol", pos.Symbol).
			Str("side", string(pos.Side)).
			Msg("position adopted from exchange")
	}

	for id := range m.positions {
		if !liveIDs[id] {
			delete(m.positions, id)
			m.logger.Info().Str("id", id).Msg("stale local position dropped")
		}
	}
	after := len(m.positions)
	snapshot := m.tableCopyLocked()
	m.mu.Unlock()
	m.store.Save(ctx, snapshot)

	m.logger.Info().Int("before", before).Int("after", after).Msg("positions reconciled")
	return nil
}

// List returns the open positions ordered oldest first.
func (m *Manager) List() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Get returns the position by id.
func (m *Manager) Get(id string) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

func (m *Manager) symbolVolume(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, p := range m.positions {
		if p.Symbol == symbol {
			total += p.Amount
		}
	}
	return total
}

func (m *Manager) tableCopyLocked() map[string]*Position {
	out := make(map[string]*Position, len(m.positions))
	for id, p := range m.positions {
		cp := *p
		out[id] = &cp
	}
	return out
}

// placeProtectiveOrders places exchange-side stop and limit orders mirroring
// the position's SL/TP. Local polling remains the primary enforcement; these
// are a backup if the process goes down. Failures are logged, not fatal.
func (m *Manager) placeProtectiveOrders(ctx context.Context, pos *Position) {
	exit := pos.Side.ExitOrder()
	if _, err := m.exchange.CreateStopOrder(ctx, pos.Symbol, exit, pos.Amount, pos.StopLoss); err != nil {
		m.logger.Warn().Err(err).Str("id", pos.ID).Msg("protective stop order failed")
	}
	if _, err := m.exchange.CreateLimitOrder(ctx, pos.Symbol, exit, pos.Amount, pos.TakeProfit); err != nil {
		m.logger.Warn().Err(err).Str("id", pos.ID).Msg("protective limit order failed")
	}
}

// normalizeStop forces the stop loss to the correct side of the entry price,
// defaulting to a 2% buffer when the requested level is invalid.
func normalizeStop(side Side, entry, stop float64) float64 {
	if stop == 0 {
		return 0
	}
	if side == Long && stop >= entry {
		return entry * 0.98
	}
	if side == Short && stop <= entry {
		return entry * 1.02
	}
	return stop
}

// normalizeTarget forces the take profit to the correct side of the entry
// price, defaulting to a 2% buffer when the requested level is invalid.
func normalizeTarget(side Side, entry, target float64) float64 {
	if target == 0 {
		return 0
	}
	if side == Long && target <= entry {
		return entry * 1.02
	}
	if side == Short && target >= entry {
		return entry * 0.98
	}
	return target
}
