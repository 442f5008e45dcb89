package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL    = "https://fapi.binance.com"
	defaultHTTPTimeout = 10 * time.Second

	// maxRetries bounds transient-error retries on read-only calls. Order
	// placement is never retried here: a timed-out order may still have
	// filled, and reconciliation picks it up on the next cycle.
	maxRetries = 3
)

// BinanceClient is a signed REST client for the Binance USD-M futures API.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBinanceClient creates a futures REST client. baseURL may be empty to use
// the production endpoint.
func NewBinanceClient(apiKey, secretKey, baseURL string, logger zerolog.Logger) *BinanceClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &BinanceClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger.With().Str("component", "binance").Logger(),
	}
}

var _ Exchange = (*BinanceClient)(nil)

// FetchCandles returns klines for the symbol, newest last.
func (c *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]interface{}
	if err := c.getWithRetry(ctx, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(int64(openTime)),
			Open:     parseFloat(k[1]),
			High:     parseFloat(k[2]),
			Low:      parseFloat(k[3]),
			Close:    parseFloat(k[4]),
			Volume:   parseFloat(k[5]),
		})
	}
	return candles, nil
}

// FetchOrderBook returns a depth snapshot for the symbol.
func (c *BinanceClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depth))

	var resp struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := c.getWithRetry(ctx, "/fapi/v1/depth", params, false, &resp); err != nil {
		return nil, err
	}

	book := &OrderBook{
		Bids: make([]BookLevel, 0, len(resp.Bids)),
		Asks: make([]BookLevel, 0, len(resp.Asks)),
	}
	for _, b := range resp.Bids {
		book.Bids = append(book.Bids, parseLevel(b))
	}
	for _, a := range resp.Asks {
		book.Asks = append(book.Asks, parseLevel(a))
	}
	return book, nil
}

// FetchTicker returns the last traded price for the symbol.
func (c *BinanceClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Price string `json:"price"`
	}
	if err := c.getWithRetry(ctx, "/fapi/v1/ticker/price", params, false, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, &TransientError{Op: "FetchTicker", Err: fmt.Errorf("bad price %q: %w", resp.Price, err)}
	}
	return price, nil
}

// FetchBalance returns the free balance for the given asset.
func (c *BinanceClient) FetchBalance(ctx context.Context, asset string) (float64, error) {
	var resp []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := c.getWithRetry(ctx, "/fapi/v2/balance", url.Values{}, true, &resp); err != nil {
		return 0, err
	}
	for _, b := range resp {
		if b.Asset == asset {
			v, err := strconv.ParseFloat(b.AvailableBalance, 64)
			if err != nil {
				return 0, &TransientError{Op: "FetchBalance", Err: err}
			}
			return v, nil
		}
	}
	return 0, nil
}

// CreateMarketOrder places a MARKET order. Not retried on transient failure.
func (c *BinanceClient) CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(amount))
	return c.placeOrder(ctx, params)
}

// CreateStopOrder places a STOP_MARKET order that triggers at stopPrice.
func (c *BinanceClient) CreateStopOrder(ctx context.Context, symbol string, side Side, amount, stopPrice float64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "STOP_MARKET")
	params.Set("quantity", formatQty(amount))
	params.Set("stopPrice", formatQty(stopPrice))
	return c.placeOrder(ctx, params)
}

// CreateLimitOrder places a GTC LIMIT order at price.
func (c *BinanceClient) CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", formatQty(amount))
	params.Set("price", formatQty(price))
	return c.placeOrder(ctx, params)
}

// FetchOpenPositions returns positions with non-zero amounts.
func (c *BinanceClient) FetchOpenPositions(ctx context.Context, symbol string) ([]OpenPosition, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var resp []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
	}
	if err := c.getWithRetry(ctx, "/fapi/v2/positionRisk", params, true, &resp); err != nil {
		return nil, err
	}

	var positions []OpenPosition
	for _, p := range resp {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		side := SideBuy
		if amt < 0 {
			side = SideSell
			amt = -amt
		}
		positions = append(positions, OpenPosition{
			Symbol:     p.Symbol,
			Side:       side,
			Amount:     amt,
			EntryPrice: entry,
			OrderID:    fmt.Sprintf("%s-%s", p.Symbol, strings.ToLower(string(side))),
		})
	}
	return positions, nil
}

// SetLeverage sets the leverage for the symbol.
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	var resp struct {
		Leverage int `json:"leverage"`
	}
	return c.do(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, &resp)
}

func (c *BinanceClient) placeOrder(ctx context.Context, params url.Values) (*OrderResponse, error) {
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
		Status      string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, err
	}

	price, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	qty, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	return &OrderResponse{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      resp.Symbol,
		Side:        Side(resp.Side),
		Price:       price,
		ExecutedQty: qty,
		Status:      resp.Status,
	}, nil
}

// getWithRetry performs a GET with bounded backoff retries on transient errors.
func (c *BinanceClient) getWithRetry(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	op := func() error {
		err := c.do(ctx, http.MethodGet, path, params, signed, out)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("gateway call failed after retries")
		return err
	}
	return nil
}

func (c *BinanceClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
		params.Set("signature", c.sign(params.Encode()))
	}

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + params.Encode()
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &TransientError{Op: path, Err: err}
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Op: path, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(path, resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &TransientError{Op: path, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// classifyHTTPError maps an HTTP failure to the gateway error taxonomy.
// 429/418 (rate limit) and 5xx are transient; other 4xx are rejections.
func classifyHTTPError(op string, status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	if status == http.StatusTooManyRequests || status == 418 || status >= 500 {
		return &TransientError{Op: op, Err: fmt.Errorf("http %d: %s", status, apiErr.Msg)}
	}
	reason := apiErr.Msg
	if reason == "" {
		reason = string(body)
	}
	return &RejectedError{Op: op, Code: apiErr.Code, Reason: reason}
}

func (c *BinanceClient) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func parseLevel(pair []string) BookLevel {
	if len(pair) < 2 {
		return BookLevel{}
	}
	price, _ := strconv.ParseFloat(pair[0], 64)
	qty, _ := strconv.ParseFloat(pair[1], 64)
	return BookLevel{Price: price, Quantity: qty}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
