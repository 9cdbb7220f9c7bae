// File: cmd/app/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"membership-engine/internal/config"
	"membership-engine/internal/domain/ports/adapter"
	benefitAdapters "membership-engine/internal/infra/adapters/benefit"
	payAdapters "membership-engine/internal/infra/adapters/payment"
	pg "membership-engine/internal/infra/db/postgres"
	"membership-engine/internal/infra/ids"
	"membership-engine/internal/infra/logging"
	"membership-engine/internal/infra/metrics"
	red "membership-engine/internal/infra/redis"
	"membership-engine/internal/infra/sched"
	"membership-engine/internal/infra/web"
	"membership-engine/internal/infra/worker"
	"membership-engine/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	entRepo := pg.NewEntitlementRepo(pool)
	contractRepo := pg.NewContractRepo(pool)
	dedRepo := pg.NewDeductionRepo(pool)
	memberRepo := pg.NewMembershipRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Payment gateway ----
	var gateway adapter.DeductionGateway
	if cfg.Gateway.BaseURL == "" {
		logger.Warn().Msg("gateway.base_url not set; using noop gateway (every charge succeeds)")
		gateway = payAdapters.NewNoopGateway()
	} else {
		gateway, err = payAdapters.NewRestGateway(cfg.Gateway.BaseURL, cfg.Gateway.MerchantKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("payment gateway init failed")
		}
	}

	// ---- Engine ----
	clock := ids.SystemClock{}
	idGen := ids.NewULIDGenerator()
	grantor := benefitAdapters.NewStoreGrantor(memberRepo, logger)
	chain := usecase.NewChainManager(entRepo, clock, idGen, logger)
	policy := usecase.NewRetryPolicy(cfg.Engine.RetryScheduleDurations(), cfg.Engine.ShortRetryDelay, cfg.Engine.MaxRetries)
	svc := usecase.NewSubscriptionService(
		entRepo, contractRepo, dedRepo, memberRepo, tm,
		chain, policy, gateway, grantor, locker, clock, idGen,
		usecase.ServiceConfig{
			RenewWindowDays: cfg.Engine.RenewWindowDays,
			LockTTL:         cfg.Engine.LockTTL,
			GatewayTimeout:  cfg.Engine.GatewayTimeout,
		},
		logger,
	)

	// ---- Background workers ----
	group := worker.NewGroup(logger)
	group.Go(ctx, "expiry", sched.NewExpiryWorker(cfg.Worker.ExpiryInterval, cfg.Worker.BatchSize, svc, logger))
	group.Go(ctx, "activation", sched.NewActivationWorker(cfg.Worker.ActivationInterval, cfg.Worker.BatchSize, svc, logger))
	group.Go(ctx, "renewal", sched.NewRenewalWorker(cfg.Worker.RenewalInterval, 0, cfg.Worker.BatchSize, svc, dedRepo, gateway, logger))
	group.Go(ctx, "auditor", sched.NewChainAuditor(cfg.Worker.AuditInterval, cfg.Worker.AuditWindow, cfg.Worker.BatchSize, cfg.Worker.AutoRepair, svc, entRepo, pool, logger))

	// ---- Ops server ----
	srv := web.NewServer(svc, cfg.Admin.APIKey, logger)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Admin.Port)); err != nil {
			logger.Error().Err(err).Msg("ops server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops server shutdown error")
	}
	group.Wait()
	logger.Info().Msg("stopped")
}
