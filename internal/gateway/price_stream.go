package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultStreamBaseURL = "wss://fstream.binance.com"
	reconnectDelay       = 5 * time.Second
	readTimeout          = 90 * time.Second
)

// PriceStream subscribes to the Binance futures mark-price stream and keeps
// the most recent price in memory. The trading cycle uses it as a fast path
// for the ticker; the REST FetchTicker remains the fallback when the stream
// has no fresh data.
type PriceStream struct {
	mu sync.RWMutex

	symbol    string
	baseURL   string
	logger    zerolog.Logger
	conn      *websocket.Conn
	stopChan  chan struct{}
	isRunning bool

	lastPrice float64
	updatedAt time.Time
}

type markPriceEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

// NewPriceStream creates a stream for one symbol. baseURL may be empty.
func NewPriceStream(symbol, baseURL string, logger zerolog.Logger) *PriceStream {
	if baseURL == "" {
		baseURL = defaultStreamBaseURL
	}
	return &PriceStream{
		symbol:  symbol,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "price_stream").Logger(),
	}
}

// Start connects and begins reading in a background goroutine. Reconnects
// with a fixed delay until Stop is called.
func (s *PriceStream) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("price stream already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.run()
	return nil
}

// Stop closes the connection and stops the read loop.
func (s *PriceStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
	}
}

// LastPrice returns the most recent streamed price and whether it is fresher
// than maxAge.
func (s *PriceStream) LastPrice(maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastPrice == 0 || time.Since(s.updatedAt) > maxAge {
		return 0, false
	}
	return s.lastPrice, true
}

func (s *PriceStream) run() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if err := s.connect(); err != nil {
			s.logger.Warn().Err(err).Msg("stream connect failed, retrying")
			select {
			case <-s.stopChan:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		s.readLoop()
	}
}

func (s *PriceStream) connect() error {
	url := fmt.Sprintf("%s/ws/%s@markPrice@1s", s.baseURL, strings.ToLower(s.symbol))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info().Str("symbol", s.symbol).Msg("price stream connected")
	return nil
}

func (s *PriceStream) readLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Warn().Err(err).Msg("stream read failed, reconnecting")
			s.conn.Close()
			return
		}

		var event markPriceEvent
		if err := json.Unmarshal(data, &event); err != nil {
			continue
		}
		if event.EventType != "markPriceUpdate" {
			continue
		}

		price := parseFloat(event.MarkPrice)
		if price <= 0 {
			continue
		}

		s.mu.Lock()
		s.lastPrice = price
		s.updatedAt = time.Now()
		s.mu.Unlock()
	}
}
