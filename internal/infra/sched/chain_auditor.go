package sched

import (
	"context"
	"time"

	"membership-engine/internal/domain/ports/repository"
	"membership-engine/internal/infra/metrics"
	"membership-engine/internal/usecase"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// ChainAuditor periodically verifies chain invariants for recently written
// users and, when repair is enabled, rewrites broken chains in priority order.
// It also publishes the engine-wide fleet gauges.
type ChainAuditor struct {
	interval time.Duration
	window   time.Duration // how far back "recently touched" reaches
	batch    int
	repair   bool
	svc      *usecase.SubscriptionService
	ents     repository.EntitlementRepository
	pool     *pgxpool.Pool
	log      *zerolog.Logger
}

func NewChainAuditor(
	interval, window time.Duration,
	batch int,
	repair bool,
	svc *usecase.SubscriptionService,
	ents repository.EntitlementRepository,
	pool *pgxpool.Pool,
	logger *zerolog.Logger,
) *ChainAuditor {
	if interval <= 0 {
		interval = time.Hour
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	audLog := logger.With().Str("component", "ChainAuditor").Logger()
	return &ChainAuditor{
		interval: interval,
		window:   window,
		batch:    batch,
		repair:   repair,
		svc:      svc,
		ents:     ents,
		pool:     pool,
		log:      &audLog,
	}
}

func (w *ChainAuditor) Run(ctx context.Context) error {
	w.log.Info().Bool("repair", w.repair).Msg("Starting chain auditor")
	// Audit once on startup, then on every tick.
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping chain auditor")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *ChainAuditor) tick(ctx context.Context) {
	w.publishGauges(ctx)

	since := time.Now().Add(-w.window)
	users, err := w.ents.ListRecentlyTouchedUsers(ctx, repository.NoTX, since, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("recently touched scan failed")
		return
	}

	var broken, repaired int
	for _, userID := range users {
		report, result, err := w.svc.RunHealthCheck(ctx, userID, w.repair)
		if err != nil {
			w.log.Error().Err(err).Str("user_id", userID).Msg("chain audit failed")
			continue
		}
		if report.Healthy {
			continue
		}
		broken++
		for _, issue := range report.Issues {
			metrics.IncChainIssue(issue.Code)
		}
		if result != nil && result.Fixed {
			repaired++
			metrics.IncChainRepaired()
			w.log.Warn().Str("user_id", userID).
				Strs("actions", result.Actions).
				Msg("broken chain repaired")
		} else {
			w.log.Error().Str("user_id", userID).
				Int("issues", len(report.Issues)).
				Msg("broken chain detected, repair disabled")
		}
	}
	if broken > 0 {
		w.log.Info().Int("audited", len(users)).Int("broken", broken).Int("repaired", repaired).
			Msg("chain audit pass complete")
	}
}

func (w *ChainAuditor) publishGauges(ctx context.Context) {
	if byStatus, err := w.svc.CountByStatus(ctx); err == nil {
		metrics.SetEntitlementsTotal(byStatus)
	} else {
		w.log.Warn().Err(err).Msg("status counts unavailable")
	}
	if byLevel, err := w.svc.CountActiveByLevel(ctx); err == nil {
		metrics.SetActiveByLevel(byLevel)
	}
	if points, err := w.svc.TotalPointsOutstanding(ctx); err == nil {
		metrics.SetPointsOutstanding(points)
	}
	if w.pool != nil {
		stat := w.pool.Stat()
		metrics.SetDBPoolStats(stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns())
	}
}
