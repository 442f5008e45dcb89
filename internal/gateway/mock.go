package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MockExchange is an in-memory Exchange used in tests and mock mode. Market
// data is set directly on the struct; orders fill immediately at the current
// ticker price.
type MockExchange struct {
	mu sync.Mutex

	Candles   []Candle
	Book      *OrderBook
	Price     float64
	Balances  map[string]float64
	Positions []OpenPosition

	// FailNext, when set, makes the next call return the given error.
	// FailOp restricts the failure to the named call, e.g. "FetchCandles";
	// other calls pass through untouched.
	FailNext error
	FailOp   string

	Orders      []OrderResponse
	nextOrderID int
}

// NewMockExchange creates a mock with a starting USDT balance.
func NewMockExchange(balance float64) *MockExchange {
	return &MockExchange{
		Balances: map[string]float64{"USDT": balance},
		Book:     &OrderBook{},
	}
}

var _ Exchange = (*MockExchange)(nil)

func (m *MockExchange) takeFailure(op string) error {
	if m.FailNext == nil {
		return nil
	}
	if m.FailOp != "" && m.FailOp != op {
		return nil
	}
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *MockExchange) FetchCandles(_ context.Context, _, _ string, limit int) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FetchCandles"); err != nil {
		return nil, err
	}
	if limit > 0 && len(m.Candles) > limit {
		return m.Candles[len(m.Candles)-limit:], nil
	}
	return m.Candles, nil
}

func (m *MockExchange) FetchOrderBook(_ context.Context, _ string, _ int) (*OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FetchOrderBook"); err != nil {
		return nil, err
	}
	return m.Book, nil
}

func (m *MockExchange) FetchTicker(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FetchTicker"); err != nil {
		return 0, err
	}
	return m.Price, nil
}

func (m *MockExchange) FetchBalance(_ context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FetchBalance"); err != nil {
		return 0, err
	}
	return m.Balances[asset], nil
}

func (m *MockExchange) CreateMarketOrder(_ context.Context, symbol string, side Side, amount float64) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateMarketOrder"); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, &RejectedError{Op: "CreateMarketOrder", Reason: "quantity must be positive"}
	}
	m.nextOrderID++
	resp := OrderResponse{
		OrderID:     strconv.Itoa(m.nextOrderID),
		Symbol:      symbol,
		Side:        side,
		Price:       m.Price,
		ExecutedQty: amount,
		Status:      "FILLED",
	}
	m.Orders = append(m.Orders, resp)
	return &resp, nil
}

func (m *MockExchange) CreateStopOrder(_ context.Context, symbol string, side Side, amount, stopPrice float64) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateStopOrder"); err != nil {
		return nil, err
	}
	m.nextOrderID++
	resp := OrderResponse{
		OrderID:     strconv.Itoa(m.nextOrderID),
		Symbol:      symbol,
		Side:        side,
		Price:       stopPrice,
		ExecutedQty: amount,
		Status:      "NEW",
	}
	m.Orders = append(m.Orders, resp)
	return &resp, nil
}

func (m *MockExchange) CreateLimitOrder(_ context.Context, symbol string, side Side, amount, price float64) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateLimitOrder"); err != nil {
		return nil, err
	}
	m.nextOrderID++
	resp := OrderResponse{
		OrderID:     strconv.Itoa(m.nextOrderID),
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		ExecutedQty: amount,
		Status:      "NEW",
	}
	m.Orders = append(m.Orders, resp)
	return &resp, nil
}

func (m *MockExchange) FetchOpenPositions(_ context.Context, symbol string) ([]OpenPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("FetchOpenPositions"); err != nil {
		return nil, err
	}
	if symbol == "" {
		return m.Positions, nil
	}
	var out []OpenPosition
	for _, p := range m.Positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockExchange) SetLeverage(_ context.Context, _ string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return &RejectedError{Op: "SetLeverage", Reason: fmt.Sprintf("leverage %d out of range", leverage)}
	}
	return nil
}

// OrderCount returns the number of orders placed on the mock.
func (m *MockExchange) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}
