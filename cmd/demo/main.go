// Demo walks one user through the chain lifecycle against a dev database:
// buy a tier, get preempted by a higher one, inspect the compensation, cancel
// a queued entry, and force an expiration. Run with -config pointing at a
// config whose database and redis are disposable.
package main

import (
	"context"
	"log"
	"time"

	"membership-engine/internal/config"
	"membership-engine/internal/domain/model"
	benefitAdapters "membership-engine/internal/infra/adapters/benefit"
	payAdapters "membership-engine/internal/infra/adapters/payment"
	pg "membership-engine/internal/infra/db/postgres"
	"membership-engine/internal/infra/ids"
	"membership-engine/internal/infra/logging"
	red "membership-engine/internal/infra/redis"
	"membership-engine/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connect error: %v", err)
	}
	defer redisClient.Close()

	entRepo := pg.NewEntitlementRepo(pool)
	memberRepo := pg.NewMembershipRepo(pool)
	tm := pg.NewTxManager(pool)
	clock := ids.SystemClock{}
	idGen := ids.NewULIDGenerator()

	chain := usecase.NewChainManager(entRepo, clock, idGen, logger)
	svc := usecase.NewSubscriptionService(
		entRepo, pg.NewContractRepo(pool), pg.NewDeductionRepo(pool), memberRepo, tm,
		chain, usecase.NewRetryPolicy(nil, 0, 0),
		payAdapters.NewNoopGateway(),
		benefitAdapters.NewStoreGrantor(memberRepo, logger),
		red.NewLocker(redisClient), clock, idGen,
		usecase.ServiceConfig{}, logger,
	)

	userID := "demo-user"

	// 1. Buy a gold tier: chain is empty, so it activates immediately.
	gold, res, err := svc.Subscribe(ctx, usecase.SubscribeRequest{
		UserID:      userID,
		ExternalRef: "demo-order-1",
		Kind:        model.KindRecurringTier,
		LevelCode:   "gold",
		LevelWeight: 20,
		CycleDays:   30,
	})
	if err != nil {
		log.Fatalf("subscribe gold: %v", err)
	}
	log.Printf("gold: id=%s position=%s expires=%s", gold.ID, res.PositionType, gold.ExpiresAt.Format(time.RFC3339))

	// 2. Buy platinum: it outranks gold, which gets paused and compensated.
	plat, res, err := svc.Subscribe(ctx, usecase.SubscribeRequest{
		UserID:      userID,
		ExternalRef: "demo-order-2",
		Kind:        model.KindRecurringTier,
		LevelCode:   "platinum",
		LevelWeight: 30,
		CycleDays:   30,
	})
	if err != nil {
		log.Fatalf("subscribe platinum: %v", err)
	}
	log.Printf("platinum: id=%s position=%s", plat.ID, res.PositionType)
	if res.Compensation != nil {
		log.Printf("compensation for unused gold days: id=%s level=%s cycle_days=%d",
			res.Compensation.ID, res.Compensation.LevelCode, res.Compensation.CycleDays)
	}

	// 3. Queue one more gold; it lines up behind the compensation.
	queued, res, err := svc.Subscribe(ctx, usecase.SubscribeRequest{
		UserID:      userID,
		ExternalRef: "demo-order-3",
		Kind:        model.KindRecurringTier,
		LevelCode:   "gold",
		LevelWeight: 20,
		CycleDays:   30,
	})
	if err != nil {
		log.Fatalf("subscribe queued gold: %v", err)
	}
	log.Printf("queued gold: id=%s queue_pos=%d", queued.ID, res.Position)

	printChain(ctx, svc, userID)

	// 4. Cancel the queued gold; the queue renumbers and times shift left.
	if err := svc.CancelPending(ctx, userID, queued.ID, "demo cancel"); err != nil {
		log.Fatalf("cancel queued gold: %v", err)
	}
	log.Printf("cancelled %s", queued.ID)

	// 5. Force-expire platinum. It is not due yet, so nothing happens.
	expired, err := svc.ExpireEntitlement(ctx, userID, plat.ID)
	if err != nil {
		log.Fatalf("expire platinum: %v", err)
	}
	log.Printf("expire attempt on live platinum: expired=%v (not due)", expired)

	printChain(ctx, svc, userID)

	report, _, err := svc.RunHealthCheck(ctx, userID, false)
	if err != nil {
		log.Fatalf("health check: %v", err)
	}
	log.Printf("chain healthy: %v", report.Healthy)
}

func printChain(ctx context.Context, svc *usecase.SubscriptionService, userID string) {
	chain, err := svc.GetChain(ctx, userID)
	if err != nil {
		log.Fatalf("get chain: %v", err)
	}
	if chain.Active != nil {
		log.Printf("  ACTIVE  %s %s expires=%s", chain.Active.LevelCode, chain.Active.ID, chain.Active.ExpiresAt.Format(time.RFC3339))
	}
	for _, p := range chain.Pending {
		log.Printf("  PENDING #%d %s %s expires=%s comp=%v", p.QueuePos, p.LevelCode, p.ID, p.ExpiresAt.Format(time.RFC3339), p.IsCompensation)
	}
	for _, p := range chain.Paused {
		log.Printf("  PAUSED  %s %s", p.LevelCode, p.ID)
	}
}
