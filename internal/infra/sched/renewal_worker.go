package sched

import (
	"context"
	"time"

	"membership-engine/internal/domain/ports/adapter"
	"membership-engine/internal/domain/ports/repository"
	"membership-engine/internal/usecase"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RenewalWorker drives auto-renewal charges for contracts entering the renewal
// window, and reconciles pending attempts whose provider outcome was lost
// (crash or timeout after the charge was submitted). Reconciliation only ever
// queries the provider; a charge is never re-submitted from here.
type RenewalWorker struct {
	interval   time.Duration
	staleAfter time.Duration // how old a pending attempt must be before we ask the provider
	batch      int
	svc        *usecase.SubscriptionService
	deds       repository.DeductionRepository
	gateway    adapter.DeductionGateway
	log        *zerolog.Logger
}

func NewRenewalWorker(
	interval, staleAfter time.Duration,
	batch int,
	svc *usecase.SubscriptionService,
	deds repository.DeductionRepository,
	gateway adapter.DeductionGateway,
	logger *zerolog.Logger,
) *RenewalWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	renewLog := logger.With().Str("component", "RenewalWorker").Logger()
	return &RenewalWorker{
		interval:   interval,
		staleAfter: staleAfter,
		batch:      batch,
		svc:        svc,
		deds:       deds,
		gateway:    gateway,
		log:        &renewLog,
	}
}

func (w *RenewalWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting renewal worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping renewal worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.svc.SweepAutoRenewals(ctx, w.batch)
			if err != nil {
				w.log.Error().Err(err).Msg("renewal sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("auto-renewals processed")
			}
			w.reconcile(ctx)
		}
	}
}

// reconcile asks the provider about pending attempts older than staleAfter and
// feeds the answers back through the service.
func (w *RenewalWorker) reconcile(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.deds.FindStalePending(ctx, repository.NoTX, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("stale pending scan failed")
		return
	}

	for _, attempt := range stale {
		var res adapter.DeductResult
		query := func() error {
			var qerr error
			res, qerr = w.gateway.Query(ctx, attempt.ID)
			return qerr
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		if err := backoff.Retry(query, bo); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", attempt.ID).Msg("provider query failed, will retry next tick")
			continue
		}
		if err := w.svc.ResolveDeduction(ctx, attempt.ID, res); err != nil {
			w.log.Error().Err(err).Str("attempt_id", attempt.ID).Msg("reconcile attempt failed")
			continue
		}
		w.log.Info().Str("attempt_id", attempt.ID).Str("status", string(res.Status)).Msg("stale attempt reconciled")
	}
}
