package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-sponsor-gateway/internal/admission"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/api"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/config"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/keystore"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/logger"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/lookup"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/policy"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/relay"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/signer"
	"github.com/0gfoundation/0g-sponsor-gateway/internal/sponsor"
)

func main() {
	boot, _ := zap.NewProduction()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal("config load failed", zap.Error(err))
	}
	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		boot.Fatal("logger init failed", zap.Error(err))
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Fee payer key ─────────────────────────────────────────────────────────
	id, err := keystore.Load(ctx, keystore.Options{
		Address:     cfg.Sponsor.FeePayerAddress,
		PrivateKey:  cfg.Sponsor.FeePayerPrivateKey,
		KeypairFile: cfg.Sponsor.FeePayerKeypairFile,
		DaemonAddr:  cfg.Sponsor.KeyDaemonAddr,
		DaemonKeyID: cfg.Sponsor.KeyDaemonKeyID,
	})
	if err != nil {
		log.Fatal("fee payer key load failed", zap.Error(err))
	}

	gw, err := newGateway(cfg, rdb, id, prometheus.NewRegistry(), log)
	if err != nil {
		log.Fatal("gateway init failed", zap.Error(err))
	}
	if id.Configured() {
		if lamports, err := gw.relay.Balance(ctx, id.Address); err != nil {
			log.Warn("fee payer balance check failed", zap.Error(err))
		} else {
			log.Info("fee payer balance", zap.String("address", id.Address.String()), zap.Uint64("lamports", lamports))
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           gw.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		log.Warn("redis close error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

type gateway struct {
	router   *gin.Engine
	pipeline *sponsor.Pipeline
	relay    *relay.Client
}

// newGateway wires every stage of the pipeline behind the HTTP router.
func newGateway(cfg *config.Config, rdb *redis.Client, id *keystore.Identity, reg *prometheus.Registry, log *zap.Logger) (*gateway, error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rc := relay.New(relay.Options{
		RPCURL:        cfg.Solana.RPCURL,
		Commitment:    rpc.CommitmentType(cfg.Solana.Commitment),
		SkipPreflight: cfg.Solana.SkipPreflight,
		MaxRetries:    cfg.Solana.MaxRetries,
		Timeout:       cfg.Solana.RelayTimeout(),
		MaxConns:      cfg.Solana.MaxConns,
	})

	var tables lookup.TableSource = lookup.NewRPCSource(rc.RPC(), rc.Commitment())
	if cfg.Lookup.CacheTTLSec > 0 {
		tables = lookup.NewCachedSource(rdb, tables, time.Duration(cfg.Lookup.CacheTTLSec)*time.Second, log)
	}

	whitelist, err := policy.LoadWhitelist(cfg.Sponsor.ProgramWhitelist)
	if err != nil {
		return nil, err
	}

	deps := sponsor.Deps{
		Resolver: lookup.NewResolver(tables, log),
		Policy:   policy.NewEngine(id.Address, whitelist, cfg.Sponsor.MaxComputeUnitPrice, log),
		Admission: admission.NewGuard(rdb, admission.Options{
			DedupTTL: time.Duration(cfg.Admission.DedupTTLSec) * time.Second,
			Quota:    cfg.Admission.QuotaPerWindow,
			Window:   time.Duration(cfg.Admission.QuotaWindowSec) * time.Second,
		}, log),
		Relay:   rc,
		Metrics: sponsor.NewMetrics(reg),
		Log:     log,
	}
	if id.Configured() {
		s, err := signer.New(id.Key)
		if err != nil {
			return nil, fmt.Errorf("fee payer key: %w", err)
		}
		deps.Signer = s
		log.Info("fee payer loaded",
			zap.String("address", id.Address.String()),
			zap.String("source", id.Source),
		)
	} else {
		log.Warn("fee payer key not configured; sponsorship requests will fail")
	}
	log.Info("program whitelist", zap.Strings("programs", whitelist.Strings()))

	pipeline := sponsor.New(deps)

	r := gin.New()
	r.Use(gin.Recovery())
	api.NewHandler(pipeline, whitelist, id.Address, reg, log).Register(r)

	return &gateway{router: r, pipeline: pipeline, relay: rc}, nil
}
