package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-agent/internal/engine"
	"futures-trading-agent/internal/gateway"
	"futures-trading-agent/internal/ledger"
	"futures-trading-agent/internal/notify"
	"futures-trading-agent/internal/position"
	"futures-trading-agent/internal/regime"
	"futures-trading-agent/internal/risk"
	"futures-trading-agent/internal/signal"
)

func testServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	logger := zerolog.Nop()
	mock := gateway.NewMockExchange(2000)
	portfolio := ledger.NewPortfolio(1000, nil, logger)
	riskMgr := risk.NewManager(risk.DefaultConfig(), logger)
	classifier := regime.NewClassifier(regime.DefaultConfig())
	cache := signal.NewCache(nil, time.Minute, logger)
	signals := signal.NewGenerator(mock, classifier, cache, signal.DefaultConfig(), logger)
	store := position.NewStateStore(nil, logger)
	positions := position.NewManager(mock, portfolio, riskMgr, store, position.DefaultConfig(), logger)
	notifier := notify.NewManager(logger)
	eng := engine.New(mock, signals, riskMgr, positions, portfolio, notifier, nil, engine.DefaultConfig(), logger)

	cfg.ProductionMode = true
	return NewServer(cfg, eng, positions, portfolio, riskMgr, nil, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	resp := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	s := testServer(t, ServerConfig{})
	rec, resp := doJSON(t, s.Router(), http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	s := testServer(t, ServerConfig{
		JWTSecret:     "test-secret",
		TokenDuration: time.Hour,
		Operator:      "ops",
		PasswordHash:  hash,
	})

	rec, _ := doJSON(t, s.Router(), http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated GET /api/status = %d, want 401", rec.Code)
	}

	rec, _ = doJSON(t, s.Router(), http.MethodPost, "/api/login", "", map[string]string{
		"operator": "ops",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password login = %d, want 401", rec.Code)
	}

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/login", "", map[string]string{
		"operator": "ops",
		"password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, want 200; body %v", rec.Code, resp)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	rec, resp = doJSON(t, s.Router(), http.MethodGet, "/api/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated GET /api/status = %d, want 200", rec.Code)
	}
	if paused, _ := resp["paused"].(bool); paused {
		t.Error("fresh engine reports paused")
	}
	if bal, _ := resp["balance"].(float64); bal != 1000 {
		t.Errorf("balance = %v, want 1000", bal)
	}

	rec, _ = doJSON(t, s.Router(), http.MethodGet, "/api/status", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token GET /api/status = %d, want 401", rec.Code)
	}
}

func TestAuthDisabledWithoutPasswordHash(t *testing.T) {
	s := testServer(t, ServerConfig{})

	rec, _ := doJSON(t, s.Router(), http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status without auth configured = %d, want 200", rec.Code)
	}

	rec, _ = doJSON(t, s.Router(), http.MethodPost, "/api/login", "", map[string]string{
		"operator": "ops",
		"password": "whatever",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("login without auth configured = %d, want 503", rec.Code)
	}
}

func TestTradesRequireDatabase(t *testing.T) {
	s := testServer(t, ServerConfig{})

	rec, resp := doJSON(t, s.Router(), http.MethodGet, "/api/trades", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /api/trades without a database = %d, want 503; body %v", rec.Code, resp)
	}
}

func TestRiskPercentBounds(t *testing.T) {
	s := testServer(t, ServerConfig{})

	rec, _ := doJSON(t, s.Router(), http.MethodPost, "/api/risk/percent", "", map[string]float64{"percent": 50})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("percent=50 = %d, want 400", rec.Code)
	}

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/risk/percent", "", map[string]float64{"percent": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("percent=2 = %d, want 200; body %v", rec.Code, resp)
	}
	if got, _ := resp["trade_percent"].(float64); got != 0.02 {
		t.Errorf("trade_percent = %v, want 0.02", got)
	}
}

func TestRiskModeEndpoint(t *testing.T) {
	s := testServer(t, ServerConfig{})

	rec, _ := doJSON(t, s.Router(), http.MethodPost, "/api/risk/mode", "", map[string]string{"mode": "TURBO"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("mode=TURBO = %d, want 400", rec.Code)
	}

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/risk/mode", "", map[string]string{"mode": "SAFE"})
	if rec.Code != http.StatusOK {
		t.Fatalf("mode=SAFE = %d, want 200; body %v", rec.Code, resp)
	}
	if resp["risk_mode"] != "SAFE" {
		t.Errorf("risk_mode = %v, want SAFE", resp["risk_mode"])
	}
}

func TestPauseResume(t *testing.T) {
	s := testServer(t, ServerConfig{})

	rec, resp := doJSON(t, s.Router(), http.MethodPost, "/api/trading/pause", "", nil)
	if rec.Code != http.StatusOK || resp["paused"] != true {
		t.Fatalf("pause = %d %v, want 200 paused=true", rec.Code, resp)
	}

	_, resp = doJSON(t, s.Router(), http.MethodGet, "/api/status", "", nil)
	if resp["paused"] != true {
		t.Errorf("status after pause: paused = %v, want true", resp["paused"])
	}

	rec, resp = doJSON(t, s.Router(), http.MethodPost, "/api/trading/resume", "", nil)
	if rec.Code != http.StatusOK || resp["paused"] != false {
		t.Fatalf("resume = %d %v, want 200 paused=false", rec.Code, resp)
	}
}
