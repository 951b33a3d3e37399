package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchrails/internal/config"
	"batchrails/internal/idempotency"
	"batchrails/internal/ledger"
	"batchrails/internal/server"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "batchrails").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}

	var store idempotency.Store
	if cfg.Service.PostgresDSN != "" {
		pg, err := idempotency.NewPostgresStore(context.Background(), cfg.Service.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres store error")
		}
		defer pg.Close()
		store = pg
	} else {
		fs, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("idempotency store error")
		}
		store = fs
	}

	var led ledger.Client = ledger.NewMemoryLedger()
	if cfg.Chain.PrivateKey != "" {
		ethLedger, err := ledger.NewEthLedger(context.Background(), ledger.EthLedgerConfig{
			RPCURL:               cfg.Chain.RPCURL,
			PrivateKeyHex:        cfg.Chain.PrivateKey,
			ContractBatchSettler: cfg.Deployment.Contracts.BatchSettler,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("ledger client error")
		}
		led = ethLedger
	} else {
		logger.Warn().Msg("no chain private key configured, using in-memory ledger")
	}

	apiServer := server.NewServer(cfg, led, store, logger)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Info().Err(err).Msg("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
}
