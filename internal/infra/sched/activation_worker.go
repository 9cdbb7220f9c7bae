package sched

import (
	"context"
	"time"

	"membership-engine/internal/infra/metrics"
	"membership-engine/internal/usecase"

	"github.com/rs/zerolog"
)

// ActivationWorker promotes pending entitlements whose user has no active one.
// This is the safety net for chains left headless by a crash between the
// expiry write and the successor promotion.
type ActivationWorker struct {
	interval time.Duration
	batch    int
	svc      *usecase.SubscriptionService
	log      *zerolog.Logger
}

func NewActivationWorker(interval time.Duration, batch int, svc *usecase.SubscriptionService, logger *zerolog.Logger) *ActivationWorker {
	actLog := logger.With().Str("component", "ActivationWorker").Logger()
	return &ActivationWorker{
		interval: interval,
		batch:    batch,
		svc:      svc,
		log:      &actLog,
	}
}

func (w *ActivationWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting activation worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping activation worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.svc.SweepPendingActivation(ctx, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("activation sweep error")
			}
			if n > 0 {
				metrics.IncEntitlementsActivated(n)
				w.log.Info().Int("count", n).Msg("stuck pending entitlements activated")
			}
		}
	}
}
