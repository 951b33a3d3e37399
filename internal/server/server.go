package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"batchrails/internal/batch"
	"batchrails/internal/config"
	"batchrails/internal/currency"
	"batchrails/internal/hmacauth"
	"batchrails/internal/idempotency"
	"batchrails/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg            *config.AppConfig
	engine         *batch.Engine
	registry       *currency.Registry
	store          idempotency.Store
	hmac           *hmacauth.Verifier
	httpServer     *http.Server
	metrics        *metricsRegistry
	log            zerolog.Logger
	ledgerHealthFn func(context.Context) error
	storeHealthFn  func(context.Context) error
}

func NewServer(cfg *config.AppConfig, led ledger.Client, store idempotency.Store, logger zerolog.Logger) *Server {
	registry := currency.NewRegistry()
	for _, t := range cfg.Seed.Tokens {
		registry.Register(currency.TokenInfo{
			Symbol:   t.Symbol,
			Network:  t.Network,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}

	s := &Server{
		cfg:      cfg,
		engine:   batch.New(led, logger),
		registry: registry,
		store:    store,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Seed.Secrets.HMACSalt,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: newMetricsRegistry(),
		log:     logger,
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.storeHealthFn = checker.Ping
	}
	if checker, ok := led.(ledger.HealthChecker); ok {
		s.ledgerHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/settlements", s.hmac.Middleware(http.HandlerFunc(s.handleSettlements)))
	mux.HandleFunc("/api/v1/settlements/validate", s.handleValidate)
	mux.Handle("/api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(s.loggingMiddleware(mux)),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// settlementRequest is the wire shape of one batch. Amounts are
// ledger-native integer strings, unless currency names a registered
// symbol, in which case amounts and fee amounts are human decimal values
// converted with the currency's precision before the engine sees them.
type settlementRequest struct {
	Payer        string   `json:"payer"`
	Currency     string   `json:"currency,omitempty"`
	Token        string   `json:"token,omitempty"`
	Tokens       []string `json:"tokens,omitempty"`
	Recipients   []string `json:"recipients"`
	Amounts      []string `json:"amounts"`
	References   []string `json:"references,omitempty"`
	FeeAmounts   []string `json:"feeAmounts,omitempty"`
	FeeCollector string   `json:"feeCollector,omitempty"`
}

type settlementRecord struct {
	Token           string `json:"token"`
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	ReferenceDigest string `json:"referenceDigest"`
	FeeAmount       string `json:"feeAmount"`
	FeeCollector    string `json:"feeCollector"`
}

type settlementResponse struct {
	Status  string             `json:"status"`
	Records []settlementRecord `json:"records"`
}

type settlementErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Check  string `json:"check,omitempty"`
	Index  int    `json:"index"`
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		http.Error(w, "missing X-Idempotency-Key header", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if existing, _ := s.store.Lookup(ctx, key); existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Body)
		s.metrics.incBatch("cached")
		return
	}

	var payload settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	req, err := s.buildRequest(payload)
	if err != nil {
		s.metrics.incBatch("rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if max := s.cfg.Seed.Limits.MaxBatchSize; max > 0 && req.Len() > max {
		s.metrics.incBatch("rejected")
		http.Error(w, fmt.Sprintf("batch exceeds %d payments", max), http.StatusBadRequest)
		return
	}

	records, err := s.engine.Settle(ctx, req)
	if err != nil {
		s.writeSettleError(w, err)
		return
	}

	resp := settlementResponse{Status: "settled", Records: toRecordDTOs(records)}
	body, _ := json.Marshal(resp)

	_ = s.store.Remember(ctx, key, idempotency.Record{
		StatusCode: http.StatusCreated,
		Body:       body,
		StoredAt:   time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
	s.metrics.incBatch("settled")
	s.metrics.addPayments(len(records))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	req, err := s.buildRequest(payload)
	if err != nil {
		s.metrics.incValidation("rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := batch.Validate(req); err != nil {
		s.metrics.incValidation("rejected")
		var vErr *batch.ValidationError
		resp := struct {
			Valid  bool   `json:"valid"`
			Check  string `json:"check,omitempty"`
			Index  int    `json:"index"`
			Reason string `json:"reason"`
		}{Valid: false, Index: -1, Reason: err.Error()}
		if errors.As(err, &vErr) {
			resp.Check = string(vErr.Check)
			resp.Index = vErr.Index
			resp.Reason = vErr.Reason
		}
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	s.metrics.incValidation("ok")
	_ = json.NewEncoder(w).Encode(struct {
		Valid bool `json:"valid"`
	}{Valid: true})
}

func (s *Server) writeSettleError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var vErr *batch.ValidationError
	if errors.As(err, &vErr) {
		s.metrics.incBatch("rejected")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(settlementErrorResponse{
			Error:  "validation",
			Reason: vErr.Reason,
			Check:  string(vErr.Check),
			Index:  vErr.Index,
		})
		return
	}

	status := http.StatusBadGateway
	reason := "ledger_unavailable"
	index := -1

	var fErr *batch.Failure
	if errors.As(err, &fErr) {
		index = fErr.Index
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
		reason = "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientAuthorization):
		status = http.StatusUnprocessableEntity
		reason = "insufficient_authorization"
	}

	s.metrics.incBatch("failed")
	s.metrics.incFailure(reason)
	s.log.Warn().Err(err).Str("reason", reason).Int("index", index).Msg("batch settlement failed")

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(settlementErrorResponse{
		Error:  "settlement",
		Reason: reason,
		Index:  index,
	})
}

// buildRequest converts the wire payload into an engine request. Currency
// resolution and decimal interpretation happen here, before settlement;
// structural invariants are the engine validator's job.
func (s *Server) buildRequest(payload settlementRequest) (*batch.Request, error) {
	if !common.IsHexAddress(payload.Payer) {
		return nil, fmt.Errorf("payer is not a valid address")
	}

	req := &batch.Request{
		Payer:        common.HexToAddress(payload.Payer),
		FeeCollector: common.HexToAddress(s.cfg.Deployment.FeeCollector),
	}
	if payload.FeeCollector != "" {
		if !common.IsHexAddress(payload.FeeCollector) {
			return nil, fmt.Errorf("feeCollector is not a valid address")
		}
		req.FeeCollector = common.HexToAddress(payload.FeeCollector)
	}

	decimals := int32(-1) // -1: amounts are already ledger-native
	switch {
	case payload.Currency != "":
		cur, err := s.registry.FromString(payload.Currency)
		if err != nil {
			return nil, err
		}
		token, err := s.registry.TokenAddress(cur)
		if err != nil {
			return nil, err
		}
		d, err := s.registry.Decimals(cur)
		if err != nil {
			return nil, err
		}
		req.Token = token
		decimals = d
	case len(payload.Tokens) > 0:
		req.Tokens = make([]common.Address, 0, len(payload.Tokens))
		for _, t := range payload.Tokens {
			if !common.IsHexAddress(t) {
				return nil, fmt.Errorf("token %q is not a valid address", t)
			}
			req.Tokens = append(req.Tokens, common.HexToAddress(t))
		}
	default:
		if payload.Token != "" && !common.IsHexAddress(payload.Token) {
			return nil, fmt.Errorf("token %q is not a valid address", payload.Token)
		}
		req.Token = common.HexToAddress(payload.Token)
	}

	req.Recipients = make([]common.Address, 0, len(payload.Recipients))
	for _, rec := range payload.Recipients {
		if !common.IsHexAddress(rec) {
			return nil, fmt.Errorf("recipient %q is not a valid address", rec)
		}
		req.Recipients = append(req.Recipients, common.HexToAddress(rec))
	}

	var err error
	if req.Amounts, err = parseAmounts(payload.Amounts, decimals, "amount"); err != nil {
		return nil, err
	}
	if payload.FeeAmounts != nil {
		if req.Fees, err = parseAmounts(payload.FeeAmounts, decimals, "fee amount"); err != nil {
			return nil, err
		}
	}
	if payload.References != nil {
		req.References = make([][]byte, 0, len(payload.References))
		for _, ref := range payload.References {
			req.References = append(req.References, common.FromHex(ref))
		}
	}

	return req, nil
}

func parseAmounts(values []string, decimals int32, field string) ([]*big.Int, error) {
	out := make([]*big.Int, 0, len(values))
	for _, v := range values {
		if decimals >= 0 {
			parsed, err := currency.ParseAmount(v, decimals)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed)
			continue
		}
		parsed, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("invalid %s: %s", field, v)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func toRecordDTOs(records []batch.Record) []settlementRecord {
	out := make([]settlementRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, settlementRecord{
			Token:           rec.Token.Hex(),
			Recipient:       rec.Recipient.Hex(),
			Amount:          rec.Amount.String(),
			ReferenceDigest: rec.ReferenceDigest.Hex(),
			FeeAmount:       rec.Fee.String(),
			FeeCollector:    rec.FeeCollector.Hex(),
		})
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	ledgerInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.ledgerHealthFn != nil {
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.ledgerHealthFn(pingCtx); err != nil {
			ledgerInfo.Connected = false
			ledgerInfo.Error = err.Error()
			overallHealthy = false
		} else {
			ledgerInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	storeInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.storeHealthFn != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.storeHealthFn(pingCtx); err != nil {
			storeInfo.Connected = false
			storeInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Status string      `json:"status"`
		Ledger interface{} `json:"ledger"`
		Store  interface{} `json:"store"`
	}{
		Status: status,
		Ledger: ledgerInfo,
		Store:  storeInfo,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", r.Header.Get("X-Request-Id")).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
