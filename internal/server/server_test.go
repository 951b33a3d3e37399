package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"batchrails/internal/config"
	"batchrails/internal/idempotency"
	"batchrails/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	payerHex     = "0x1000000000000000000000000000000000000001"
	collectorHex = "0x2000000000000000000000000000000000000002"
	tokenHex     = "0x9FBDa871d559710256a2502A2517b794B482Db40"
	payeeOneHex  = "0x3000000000000000000000000000000000000003"
	payeeTwoHex  = "0x4000000000000000000000000000000000000004"
)

func testConfig() *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.Seed.Secrets.HMACSalt = "test-secret"
	cfg.Seed.Limits.MaxBatchSize = 16
	cfg.Deployment.FeeCollector = collectorHex
	cfg.Service.HMACClockSkew = time.Minute
	cfg.Service.IdempotencyWindow = time.Minute
	return cfg
}

func fundedLedger(balance, allowance int64) *ledger.MemoryLedger {
	led := ledger.NewMemoryLedger()
	led.SetBalance(common.HexToAddress(tokenHex), common.HexToAddress(payerHex), big.NewInt(balance))
	led.Approve(common.HexToAddress(tokenHex), common.HexToAddress(payerHex), big.NewInt(allowance))
	return led
}

func signedSettleRequest(t *testing.T, cfg *config.AppConfig, payload any, idemKey string) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Request-Timestamp", ts)
	req.Header.Set("X-Request-Signature", computeSignatureForTest(cfg.Seed.Secrets.HMACSalt, ts, body))
	req.Header.Set("X-Idempotency-Key", idemKey)
	return req
}

func settleBody() map[string]any {
	return map[string]any{
		"payer":        payerHex,
		"token":        tokenHex,
		"recipients":   []string{payeeOneHex, payeeTwoHex},
		"amounts":      []string{"20", "30"},
		"references":   []string{"0xaaaa", "0xbbbb"},
		"feeAmounts":   []string{"1", "2"},
		"feeCollector": collectorHex,
	}
}

func TestSettlementEndpointSettlesAndReplays(t *testing.T) {
	cfg := testConfig()
	led := fundedLedger(100, 100)
	srv := NewServer(cfg, led, idempotency.NewMemoryStore(), zerolog.Nop())
	handler := srv.hmac.Middleware(http.HandlerFunc(srv.handleSettlements))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedSettleRequest(t, cfg, settleBody(), "key-1"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp settlementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(resp.Records))
	}
	if resp.Records[0].Amount != "20" || resp.Records[1].Amount != "30" {
		t.Fatalf("records out of order: %+v", resp.Records)
	}

	payeeOne := led.BalanceOf(common.HexToAddress(tokenHex), common.HexToAddress(payeeOneHex))
	if payeeOne.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected payee one balance 20, got %s", payeeOne)
	}

	// A replay with the same idempotency key returns the cached outcome
	// and must not settle the batch a second time.
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, signedSettleRequest(t, cfg, settleBody(), "key-1"))

	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected cached 201 got %d", rec2.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), rec2.Body.Bytes()) {
		t.Fatalf("expected identical body on idempotent replay")
	}
	payeeOne = led.BalanceOf(common.HexToAddress(tokenHex), common.HexToAddress(payeeOneHex))
	if payeeOne.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("replay must not move value again, balance %s", payeeOne)
	}
}

func TestSettlementEndpointRejectsMalformedBatch(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, fundedLedger(100, 100), idempotency.NewMemoryStore(), zerolog.Nop())
	handler := srv.hmac.Middleware(http.HandlerFunc(srv.handleSettlements))

	payload := settleBody()
	payload["amounts"] = []string{"20"} // length mismatch

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedSettleRequest(t, cfg, payload, "key-2"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp settlementErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "validation" || resp.Check != "shape" {
		t.Fatalf("unexpected rejection: %+v", resp)
	}
}

func TestSettlementEndpointReportsInsufficientBalance(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, fundedLedger(25, 1000), idempotency.NewMemoryStore(), zerolog.Nop())
	handler := srv.hmac.Middleware(http.HandlerFunc(srv.handleSettlements))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedSettleRequest(t, cfg, settleBody(), "key-3"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp settlementErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reason != "insufficient_balance" {
		t.Fatalf("unexpected reason %q", resp.Reason)
	}
	if resp.Index != 1 {
		t.Fatalf("expected failing index 1, got %d", resp.Index)
	}
}

func TestSettlementEndpointRequiresIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, fundedLedger(100, 100), idempotency.NewMemoryStore(), zerolog.Nop())
	handler := srv.hmac.Middleware(http.HandlerFunc(srv.handleSettlements))

	req := signedSettleRequest(t, cfg, settleBody(), "key-4")
	req.Header.Del("X-Idempotency-Key")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestSettlementEndpointRejectsBadSignature(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, fundedLedger(100, 100), idempotency.NewMemoryStore(), zerolog.Nop())
	handler := srv.hmac.Middleware(http.HandlerFunc(srv.handleSettlements))

	req := signedSettleRequest(t, cfg, settleBody(), "key-5")
	req.Header.Set("X-Request-Signature", "deadbeef")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, fundedLedger(0, 0), idempotency.NewMemoryStore(), zerolog.Nop())

	t.Run("well-formed batch", func(t *testing.T) {
		body, _ := json.Marshal(settleBody())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/validate", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.handleValidate(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
		var resp struct {
			Valid bool `json:"valid"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !resp.Valid {
			t.Fatalf("expected valid batch: %s", rec.Body.String())
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		payload := settleBody()
		payload["recipients"] = []string{}
		payload["amounts"] = []string{}
		payload["references"] = []string{}
		payload["feeAmounts"] = []string{}
		body, _ := json.Marshal(payload)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements/validate", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.handleValidate(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
		var resp struct {
			Valid bool   `json:"valid"`
			Check string `json:"check"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Valid || resp.Check != "shape" {
			t.Fatalf("expected shape rejection: %s", rec.Body.String())
		}
	})
}

func TestSettlementEndpointResolvesCurrencySymbol(t *testing.T) {
	cfg := testConfig()
	cfg.Seed.Tokens = []config.TokenSeed{{
		Symbol:   "TST",
		Network:  "mainnet",
		Address:  tokenHex,
		Decimals: 2,
	}}
	led := fundedLedger(10_000, 10_000)
	srv := NewServer(cfg, led, idempotency.NewMemoryStore(), zerolog.Nop())
	handler := srv.hmac.Middleware(http.HandlerFunc(srv.handleSettlements))

	payload := map[string]any{
		"payer":      payerHex,
		"currency":   "TST",
		"recipients": []string{payeeOneHex},
		"amounts":    []string{"12.34"},
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedSettleRequest(t, cfg, payload, "key-6"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}

	balance := led.BalanceOf(common.HexToAddress(tokenHex), common.HexToAddress(payeeOneHex))
	if balance.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("expected 1234 ledger units, got %s", balance)
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, fundedLedger(0, 0), idempotency.NewMemoryStore(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func computeSignatureForTest(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
