package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/david/charity-dao/internal/ai"
	"github.com/david/charity-dao/internal/api"
	"github.com/david/charity-dao/internal/auth"
	"github.com/david/charity-dao/internal/chain"
	"github.com/david/charity-dao/internal/config"
	"github.com/david/charity-dao/internal/db"
	"github.com/david/charity-dao/internal/faucet"
	"github.com/david/charity-dao/internal/indexer"
	"github.com/david/charity-dao/internal/ipfs"
	"github.com/david/charity-dao/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
		return err
	}
	store := db.NewStore(pool)

	var (
		limiter faucet.Limiter  = faucet.NewMemoryLimiter()
		nonces  auth.NonceStore = auth.NewMemoryNonceStore()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		limiter, nonces = faucet.NewRedisLimiter(rdb), auth.NewRedisNonceStore(rdb)
		logger.Info("using redis for faucet limits and login nonces")
	} else {
		logger.Warn("REDIS_URL is not set; faucet limits and login nonces are kept in memory")
	}

	registry, err := chain.LoadRegistry()
	if err != nil {
		return err
	}
	network, err := registry.Lookup(cfg.Network, cfg.RPCURL)
	if err != nil {
		return err
	}
	reader, ec, err := chain.Dial(ctx, network, logger)
	if err != nil {
		return err
	}
	defer ec.Close()

	var minter faucet.Minter
	m, err := chain.NewMinter(ec, network, cfg.FaucetOwnerKey)
	switch {
	case errors.Is(err, chain.ErrNoFaucetKey):
		logger.Warn("FAUCET_OWNER_KEY is not set; faucet mints will fail")
	case err != nil:
		return err
	default:
		minter = m
		logger.Info("faucet enabled", zap.String("minter", m.From().Hex()))
	}

	authSvc, err := auth.NewService(nonces, cfg.JWTSecret, logger)
	if err != nil {
		return err
	}
	admin, err := auth.NewAdmin(cfg.AdminSecret, cfg.AdminSecretHash, logger)
	if err != nil {
		return err
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipeline := indexer.NewPipeline(reader, store, indexer.NewMetrics(metricsRegistry), logger)
	go pipeline.Run(ctx, cfg.SyncInterval)

	srv := api.NewServer(api.Deps{
		Store:          store,
		Chain:          reader,
		Network:        network,
		Syncer:         pipeline,
		AI:             ai.NewClient(cfg.AIServiceURL, cfg.AITimeout),
		IPFS:           ipfs.NewPinner(cfg.PinataUploadURL, cfg.PinataJWT, cfg.IPFSGateway),
		Faucet:         faucet.NewService(minter, limiter, cfg.FaucetDailyLimit, logger),
		Auth:           authSvc,
		Admin:          admin,
		Registry:       metricsRegistry,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("network", network.Name))
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
