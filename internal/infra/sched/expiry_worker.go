package sched

import (
	"context"
	"time"

	"membership-engine/internal/infra/metrics"
	"membership-engine/internal/usecase"

	"github.com/rs/zerolog"
)

// ExpiryWorker periodically completes due entitlements and promotes their
// successors via the subscription service.
type ExpiryWorker struct {
	interval time.Duration
	batch    int
	svc      *usecase.SubscriptionService
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, batch int, svc *usecase.SubscriptionService, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		batch:    batch,
		svc:      svc,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.svc.SweepExpired(ctx, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep error")
			}
			if n > 0 {
				metrics.IncEntitlementsExpired(n)
				w.log.Info().Int("count", n).Msg("expired entitlements completed")
			}
		}
	}
}
