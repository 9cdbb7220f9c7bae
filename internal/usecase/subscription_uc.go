// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
	"membership-engine/internal/domain/ports/adapter"
	"membership-engine/internal/domain/ports/repository"
	"membership-engine/internal/infra/logging"
)

// chainTxOpts is the transaction profile for chain mutations. The user lock
// already serializes writers per user; the transaction exists so partial
// chain states are never visible to readers.
var chainTxOpts = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// SubscribeRequest carries a paid order into the engine.
type SubscribeRequest struct {
	UserID        string
	ExternalRef   string // opaque correlation id; makes Subscribe idempotent
	OriginOrderID string
	Kind          model.EntitlementKind
	LevelCode     string
	LevelWeight   int
	PointsAmount  int
	CycleDays     int
	ContractID    *string
}

// RenewalResult reports one auto-renewal pass for a contract.
type RenewalResult struct {
	Renewed bool
	Action  FailureAction // meaningful when !Renewed
	Attempt *model.DeductionAttempt
	Next    *model.Entitlement // the synthesized successor on success
}

// ServiceConfig are the engine knobs (see config.EngineConfig).
type ServiceConfig struct {
	RenewWindowDays int
	LockTTL         time.Duration
	GatewayTimeout  time.Duration
}

// SubscriptionService orchestrates lifecycle transitions on top of
// ChainManager: activation with idempotent benefit granting, expiration
// promotion, cancellation, and auto-renewal decisioning. Every public entry
// point takes the user's chain lock and runs inside one transaction.
type SubscriptionService struct {
	ents      repository.EntitlementRepository
	contracts repository.ContractRepository
	deds      repository.DeductionRepository
	members   repository.MembershipRepository
	tm        repository.TransactionManager
	chain     *ChainManager
	policy    *RetryPolicy
	gateway   adapter.DeductionGateway
	grantor   adapter.BenefitGrantor
	locker    adapter.UserLocker
	clock     adapter.Clock
	ids       adapter.IDGenerator
	cfg       ServiceConfig
	log       *zerolog.Logger
}

func NewSubscriptionService(
	ents repository.EntitlementRepository,
	contracts repository.ContractRepository,
	deds repository.DeductionRepository,
	members repository.MembershipRepository,
	tm repository.TransactionManager,
	chain *ChainManager,
	policy *RetryPolicy,
	gateway adapter.DeductionGateway,
	grantor adapter.BenefitGrantor,
	locker adapter.UserLocker,
	clock adapter.Clock,
	ids adapter.IDGenerator,
	cfg ServiceConfig,
	logger *zerolog.Logger,
) *SubscriptionService {
	if cfg.RenewWindowDays <= 0 {
		cfg.RenewWindowDays = 7
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	l := logger.With().Str("component", "SubscriptionService").Logger()
	s := &SubscriptionService{
		ents: ents, contracts: contracts, deds: deds, members: members,
		tm: tm, chain: chain, policy: policy,
		gateway: gateway, grantor: grantor, locker: locker,
		clock: clock, ids: ids, cfg: cfg, log: &l,
	}
	chain.SetActivator(s)
	return s
}

func chainLockKey(userID string) string { return "lock:chain:" + userID }

// withUserLock serializes chain mutations for one user. The lock is released
// on every exit path; a lock that cannot be acquired within the locker's
// bounded wait aborts the operation with no state change.
func (s *SubscriptionService) withUserLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	key := chainLockKey(userID)
	token, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, userID)
	}
	defer func() {
		if uerr := s.locker.Unlock(ctx, key, token); uerr != nil {
			s.log.Warn().Err(uerr).Str("user_id", userID).Msg("failed to release chain lock")
		}
	}()
	return fn(ctx)
}

// Subscribe is the order-paid entry point. It is idempotent on ExternalRef:
// payment callbacks are delivered at least once.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest) (*model.Entitlement, *InsertResult, error) {
	defer logging.TraceDuration(s.log, "SubscriptionService.Subscribe")()
	if req.UserID == "" {
		return nil, nil, domain.ErrInvalidArgument
	}

	var (
		ent *model.Entitlement
		res *InsertResult
	)
	err := s.withUserLock(ctx, req.UserID, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			if req.ExternalRef != "" {
				existing, err := s.ents.FindByExternalRef(ctx, tx, req.ExternalRef)
				if err == nil {
					ent = existing
					return nil
				}
				if err != domain.ErrNotFound {
					return err
				}
			}

			now := s.clock.Now()
			e, err := model.NewEntitlement(s.ids.NewID(), req.UserID, req.LevelCode, req.Kind, req.LevelWeight, req.PointsAmount, req.CycleDays, now)
			if err != nil {
				return err
			}
			e.ExternalRef = req.ExternalRef
			e.OriginOrderID = req.OriginOrderID
			e.ContractID = req.ContractID

			if req.Kind == model.KindPointsGrant {
				// One-off grant: never chained; granted and completed in place.
				e.Status = model.EntitlementStatusActive
				e.ExpiresAt = now
				if err := s.ents.Save(ctx, tx, e); err != nil {
					return err
				}
				if err := s.grantBenefits(ctx, tx, e); err != nil {
					return err
				}
				e.Status = model.EntitlementStatusCompleted
				ent = e
				return s.ents.Save(ctx, tx, e)
			}

			r, err := s.chain.InsertSubscription(ctx, tx, e, nil)
			if err != nil {
				return err
			}
			ent, res = e, r
			if r.PositionType == PositionQueued {
				// Queued purchases never pass through activation, so the
				// aggregate's terminal expiry must be extended here.
				return s.refreshMembership(ctx, tx, req.UserID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return ent, res, nil
}

// ActivateSubscription is the idempotent activation transition. Calling it on
// an already-active, already-granted entitlement is a no-op; on an active but
// ungranted one it recovers the missing grant without touching status.
func (s *SubscriptionService) ActivateSubscription(ctx context.Context, tx repository.Tx, e *model.Entitlement) (bool, error) {
	if e == nil {
		return false, domain.ErrInvalidArgument
	}
	switch e.Status {
	case model.EntitlementStatusActive:
		if e.BenefitsGranted {
			return false, nil
		}
		return true, s.grantBenefits(ctx, tx, e)
	case model.EntitlementStatusPending:
		now := s.clock.Now()
		e.Status = model.EntitlementStatusActive
		e.PrevID = nil
		e.QueuePos = 0
		if e.ExpiresAt.IsZero() {
			e.ExpiresAt = now.Add(e.CycleDuration())
		}
		if err := s.ents.Save(ctx, tx, e); err != nil {
			return false, err
		}
		s.log.Info().Str("user_id", e.UserID).Str("entitlement_id", e.ID).
			Str("level", e.LevelCode).Msg("entitlement activated")
		return true, s.grantBenefits(ctx, tx, e)
	default:
		return false, fmt.Errorf("%w: cannot activate entitlement in status %s", domain.ErrInvalidArgument, e.Status)
	}
}

// grantBenefits delivers activation side effects exactly once per entitlement.
// Safe under at-least-once invocation: the BenefitsGranted flag never resets.
func (s *SubscriptionService) grantBenefits(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if e.BenefitsGranted {
		return nil
	}
	if err := s.grantor.Grant(ctx, e.UserID, e.PointsAmount, e.LevelCode); err != nil {
		return fmt.Errorf("grant benefits: %w", err)
	}
	if err := s.refreshMembership(ctx, tx, e.UserID); err != nil {
		return err
	}
	e.BenefitsGranted = true
	return s.ents.Save(ctx, tx, e)
}

// refreshMembership re-derives the denormalized aggregate purely from
// entitlement state, so a stale aggregate is always one refresh away.
func (s *SubscriptionService) refreshMembership(ctx context.Context, tx repository.Tx, userID string) error {
	active, err := s.ents.FindActiveByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}
	pending, err := s.ents.FindPendingByUser(ctx, tx, userID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}
	m, err := s.members.FindByUser(ctx, tx, userID)
	if err == domain.ErrNotFound {
		m = &model.Membership{UserID: userID}
	} else if err != nil {
		return err
	}
	m.RebuildFromChain(active, pending, s.clock.Now())
	return s.members.Save(ctx, tx, m)
}

// ProcessExpiration completes a due ACTIVE entitlement and promotes its
// successor. It is a no-op (false, nil) for anything not active or not due.
func (s *SubscriptionService) ProcessExpiration(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	e, err := s.ents.FindByID(ctx, tx, id)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	if !e.IsDue(now) {
		return false, nil
	}

	nextID := e.NextID
	e.Status = model.EntitlementStatusCompleted
	e.PrevID = nil
	e.NextID = nil
	if err := s.ents.Save(ctx, tx, e); err != nil {
		return false, err
	}
	s.log.Info().Str("user_id", e.UserID).Str("entitlement_id", e.ID).Msg("entitlement completed")

	if nextID != nil {
		next, err := s.ents.FindByID(ctx, tx, *nextID)
		if err != nil && err != domain.ErrNotFound {
			return false, err
		}
		if next != nil && next.Status == model.EntitlementStatusPending {
			next.PrevID = nil
			if _, err := s.ActivateSubscription(ctx, tx, next); err != nil {
				return false, err
			}
			if err := s.chain.renumberPending(ctx, tx, e.UserID, ""); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	// Chain drained: the aggregate must reflect "no active tier".
	return true, s.refreshMembership(ctx, tx, e.UserID)
}

// ExpireEntitlement is the locked wrapper around ProcessExpiration.
func (s *SubscriptionService) ExpireEntitlement(ctx context.Context, userID, id string) (bool, error) {
	var done bool
	err := s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			var err error
			done, err = s.ProcessExpiration(ctx, tx, id)
			return err
		})
	})
	return done, err
}

// CancelPending cancels a queued entitlement by explicit user action. Only
// PENDING entitlements can be cancelled; the node is spliced out and the
// visible membership end date shrinks accordingly.
func (s *SubscriptionService) CancelPending(ctx context.Context, userID, id, reason string) error {
	defer logging.TraceDuration(s.log, "SubscriptionService.CancelPending")()
	return s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			e, err := s.ents.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if e.UserID != userID {
				return domain.ErrInvalidArgument
			}
			if e.Status != model.EntitlementStatusPending {
				return domain.ErrNotPending
			}
			ok, err := s.chain.RemoveFromChain(ctx, tx, id)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrNotFound
			}
			// RemoveFromChain rewrote the node; work on the fresh copy.
			e, err = s.ents.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			e.Status = model.EntitlementStatusCancelled
			e.CancelReason = &reason
			e.CancelledAt = &now
			if err := s.ents.Save(ctx, tx, e); err != nil {
				return err
			}
			return s.refreshMembership(ctx, tx, userID)
		})
	})
}

// ProcessAutoRenewal runs one renewal pass for a signed mandate: window check,
// deduction attempt, policy classification, successor insertion. The gateway
// call is the only network I/O under the user lock and is hard-bounded by
// cfg.GatewayTimeout; it deliberately happens outside the DB transactions.
func (s *SubscriptionService) ProcessAutoRenewal(ctx context.Context, contractID string) (*RenewalResult, error) {
	defer logging.TraceDuration(s.log, "SubscriptionService.ProcessAutoRenewal")()

	contract, err := s.contracts.FindByID(ctx, repository.NoTX, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.Deductible() {
		return nil, domain.ErrContractNotSigned
	}

	var result *RenewalResult
	err = s.withUserLock(ctx, contract.UserID, func(ctx context.Context) error {
		var (
			ent     *model.Entitlement
			attempt *model.DeductionAttempt
		)

		// Phase 1: validate the window and persist a pending attempt.
		err := s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			e, err := s.ents.FindActiveRenewableByContract(ctx, tx, contractID)
			if err != nil {
				return err
			}
			if !e.AutoRenew {
				return domain.ErrAutoRenewDisabled
			}
			now := s.clock.Now()
			if e.RemainingDays(now) > s.cfg.RenewWindowDays {
				return domain.ErrOutsideRenewalWindow
			}

			attempt, err = s.deds.FindOpenByContract(ctx, tx, contractID)
			switch {
			case err == domain.ErrNotFound:
				attempt = &model.DeductionAttempt{
					ID:            s.ids.NewID(),
					ContractID:    contractID,
					EntitlementID: e.ID,
					Amount:        contract.DeductAmount,
					Status:        model.DeductionStatusPending,
					CreatedAt:     now,
				}
			case err != nil:
				return err
			default:
				// Crash recovery: re-drive the open attempt instead of
				// stacking a second charge.
				if attempt.Status == model.DeductionStatusFailed && !attempt.Retryable(now) {
					return domain.ErrDeductionFailed
				}
				attempt.Status = model.DeductionStatusPending
			}
			attempt.UpdatedAt = now
			ent = e
			return s.deds.Save(ctx, tx, attempt)
		})
		if err != nil {
			return err
		}

		// Phase 2: charge the mandate, bounded so the user lock cannot be
		// pinned by a slow provider.
		gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		dres, gerr := s.gateway.ApplyDeduct(gctx, contractID, attempt.Amount)
		cancel()

		// Phase 3: record the outcome and reshape the chain.
		return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			now := s.clock.Now()
			attempt.UpdatedAt = now

			if gerr == nil && dres.Status == adapter.DeductStatusPaid {
				attempt.Status = model.DeductionStatusSuccess
				attempt.TransactionID = dres.TransactionID
				attempt.NextRetryAt = nil
				if err := s.deds.Save(ctx, tx, attempt); err != nil {
					return err
				}

				next, err := model.NewEntitlement(s.ids.NewID(), ent.UserID, ent.LevelCode, ent.Kind, ent.LevelWeight, ent.PointsAmount, ent.CycleDays, now)
				if err != nil {
					return err
				}
				next.Origin = model.OriginAutoRenewal
				next.AutoRenewSourceID = strPtr(ent.ID)
				next.ContractID = strPtr(contractID)
				// Insertion exclusivity moves auto-renewal from ent to next.
				r, err := s.chain.InsertSubscription(ctx, tx, next, nil)
				if err != nil {
					return err
				}
				if r.PositionType == PositionQueued {
					if err := s.refreshMembership(ctx, tx, ent.UserID); err != nil {
						return err
					}
				}
				s.log.Info().Str("user_id", ent.UserID).Str("contract_id", contractID).
					Str("next_id", next.ID).Msg("auto-renewal succeeded")
				result = &RenewalResult{Renewed: true, Attempt: attempt, Next: next}
				return nil
			}

			if gerr == nil && dres.Status == adapter.DeductStatusPending {
				// In flight at the provider; the renewal sweep reconciles it
				// via Query later.
				if err := s.deds.Save(ctx, tx, attempt); err != nil {
					return err
				}
				result = &RenewalResult{Renewed: false, Action: ActionRetryLater, Attempt: attempt}
				return nil
			}

			attempt.RetryCount++
			code := dres.ErrorCode
			if code == "" {
				// Timeouts and transport errors are transient by definition.
				code = FailCodeSystemBusy
			}
			attempt.FailCode = code

			d := s.policy.Decide(code, attempt.RetryCount)
			switch d.Action {
			case ActionRetry, ActionRetryLater:
				attempt.Status = model.DeductionStatusFailed
				nra := now.Add(d.Delay)
				attempt.NextRetryAt = &nra
			case ActionStop:
				attempt.Status = model.DeductionStatusClosed
				attempt.FailReason = d.Reason
				ent.AutoRenew = false
				ent.CancelReason = strPtr(d.Reason)
				if err := s.ents.Save(ctx, tx, ent); err != nil {
					return err
				}
				s.log.Warn().Str("user_id", ent.UserID).Str("contract_id", contractID).
					Str("code", code).Str("reason", d.Reason).Msg("auto-renewal permanently disabled")
			}
			if err := s.deds.Save(ctx, tx, attempt); err != nil {
				return err
			}
			result = &RenewalResult{Renewed: false, Action: d.Action, Attempt: attempt}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveDeduction applies a provider-reported outcome to a still-pending
// attempt. The reconciler uses it when the original charge call's outcome was
// lost (crash or timeout after submission). A charge is never re-submitted
// here; only the recorded state catches up with the provider.
func (s *SubscriptionService) ResolveDeduction(ctx context.Context, attemptID string, dres adapter.DeductResult) error {
	attempt, err := s.deds.FindByID(ctx, repository.NoTX, attemptID)
	if err != nil {
		return err
	}
	if attempt.Status != model.DeductionStatusPending {
		return nil
	}
	contract, err := s.contracts.FindByID(ctx, repository.NoTX, attempt.ContractID)
	if err != nil {
		return err
	}

	return s.withUserLock(ctx, contract.UserID, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			attempt, err := s.deds.FindByID(ctx, tx, attemptID)
			if err != nil {
				return err
			}
			if attempt.Status != model.DeductionStatusPending {
				return nil
			}
			now := s.clock.Now()
			attempt.UpdatedAt = now

			ent, err := s.ents.FindByID(ctx, tx, attempt.EntitlementID)
			if err != nil && err != domain.ErrNotFound {
				return err
			}

			switch dres.Status {
			case adapter.DeductStatusPaid:
				attempt.Status = model.DeductionStatusSuccess
				attempt.TransactionID = dres.TransactionID
				if err := s.deds.Save(ctx, tx, attempt); err != nil {
					return err
				}
				// The user paid; the successor is owed even if it is placed late.
				if ent != nil && ent.Status == model.EntitlementStatusActive && ent.AutoRenew {
					next, err := model.NewEntitlement(s.ids.NewID(), ent.UserID, ent.LevelCode, ent.Kind, ent.LevelWeight, ent.PointsAmount, ent.CycleDays, now)
					if err != nil {
						return err
					}
					next.Origin = model.OriginAutoRenewal
					next.AutoRenewSourceID = strPtr(ent.ID)
					next.ContractID = strPtr(attempt.ContractID)
					r, err := s.chain.InsertSubscription(ctx, tx, next, nil)
					if err != nil {
						return err
					}
					if r.PositionType == PositionQueued {
						if err := s.refreshMembership(ctx, tx, ent.UserID); err != nil {
							return err
						}
					}
					s.log.Info().Str("user_id", ent.UserID).Str("attempt_id", attemptID).
						Msg("reconciled lost renewal outcome as paid")
				}
				return nil

			case adapter.DeductStatusPending:
				// Still in flight; the next sweep asks again.
				return s.deds.Save(ctx, tx, attempt)

			default:
				attempt.RetryCount++
				code := dres.ErrorCode
				if code == "" {
					code = FailCodeSystemBusy
				}
				attempt.FailCode = code
				d := s.policy.Decide(code, attempt.RetryCount)
				switch d.Action {
				case ActionRetry, ActionRetryLater:
					attempt.Status = model.DeductionStatusFailed
					nra := now.Add(d.Delay)
					attempt.NextRetryAt = &nra
				case ActionStop:
					attempt.Status = model.DeductionStatusClosed
					attempt.FailReason = d.Reason
					if ent != nil {
						ent.AutoRenew = false
						ent.CancelReason = strPtr(d.Reason)
						if err := s.ents.Save(ctx, tx, ent); err != nil {
							return err
						}
					}
				}
				return s.deds.Save(ctx, tx, attempt)
			}
		})
	})
}

// SweepExpired is the scheduler entry point for expiration. Per-user errors
// and lock contention skip the user; the next sweep picks them up.
func (s *SubscriptionService) SweepExpired(ctx context.Context, batch int) (int, error) {
	due, err := s.ents.FindExpired(ctx, repository.NoTX, s.clock.Now(), batch)
	if err != nil && err != domain.ErrNotFound {
		return 0, err
	}
	n := 0
	for _, e := range due {
		done, err := s.ExpireEntitlement(ctx, e.UserID, e.ID)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("entitlement_id", e.ID).Msg("expiration failed")
			continue
		}
		if done {
			n++
		}
	}
	return n, nil
}

// SweepPendingActivation promotes pending heads whose chain lost its ACTIVE
// entry, recovering from crashes between completion and successor activation.
func (s *SubscriptionService) SweepPendingActivation(ctx context.Context, batch int) (int, error) {
	stuck, err := s.ents.FindStuckPending(ctx, repository.NoTX, batch)
	if err != nil && err != domain.ErrNotFound {
		return 0, err
	}
	n := 0
	for _, cand := range stuck {
		err := s.withUserLock(ctx, cand.UserID, func(ctx context.Context) error {
			return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
				chain, err := s.chain.GetUserChain(ctx, tx, cand.UserID, "")
				if err != nil {
					return err
				}
				// Re-check under the lock: the chain may have healed.
				if chain.Active != nil || len(chain.Pending) == 0 || chain.Pending[0].ID != cand.ID {
					return nil
				}
				if _, err := s.ActivateSubscription(ctx, tx, chain.Pending[0]); err != nil {
					return err
				}
				if err := s.chain.renumberPending(ctx, tx, cand.UserID, ""); err != nil {
					return err
				}
				n++
				return nil
			})
		})
		if errors.Is(err, domain.ErrLockNotAcquired) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("entitlement_id", cand.ID).Msg("pending activation failed")
		}
	}
	return n, nil
}

// SweepAutoRenewals drives renewal for every active auto-renewing entitlement
// inside the notification window, plus failed attempts whose retry time has
// come due. Each contract is charged at most once per sweep.
func (s *SubscriptionService) SweepAutoRenewals(ctx context.Context, batch int) (int, error) {
	cands, err := s.ents.FindRenewalCandidates(ctx, repository.NoTX, s.cfg.RenewWindowDays, batch)
	if err != nil && err != domain.ErrNotFound {
		return 0, err
	}

	seen := make(map[string]struct{}, len(cands))
	n := 0
	run := func(contractID string) {
		if _, ok := seen[contractID]; ok {
			return
		}
		seen[contractID] = struct{}{}
		res, err := s.ProcessAutoRenewal(ctx, contractID)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired),
			errors.Is(err, domain.ErrOutsideRenewalWindow),
			errors.Is(err, domain.ErrDeductionFailed),
			errors.Is(err, domain.ErrAutoRenewDisabled),
			errors.Is(err, domain.ErrNotFound):
			return
		case err != nil:
			s.log.Error().Err(err).Str("contract_id", contractID).Msg("auto-renewal pass failed")
			return
		}
		if res.Renewed {
			n++
		}
	}

	for _, e := range cands {
		if e.ContractID == nil {
			continue
		}
		run(*e.ContractID)
	}

	// Backoff schedules outlive a single candidate scan: an attempt can come
	// due for retry after its entitlement left the window query. Re-drive each
	// one through the same guarded path, which re-checks window, mandate and
	// retryability before charging.
	retries, err := s.deds.FindDueRetries(ctx, repository.NoTX, s.clock.Now(), batch)
	if err != nil && err != domain.ErrNotFound {
		return n, err
	}
	for _, a := range retries {
		run(a.ContractID)
	}
	return n, nil
}

// RunHealthCheck validates one user's chain and optionally repairs it.
func (s *SubscriptionService) RunHealthCheck(ctx context.Context, userID string, repair bool) (*HealthReport, *RepairResult, error) {
	var (
		report *HealthReport
		fixed  *RepairResult
	)
	err := s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return s.tm.WithTx(ctx, chainTxOpts, func(ctx context.Context, tx repository.Tx) error {
			var err error
			report, err = s.chain.HealthCheck(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !report.Healthy {
				s.log.Warn().Str("user_id", userID).Int("issues", len(report.Issues)).Msg("chain invariant violations detected")
				if repair {
					fixed, err = s.chain.AutoFixChain(ctx, tx, userID)
					if err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return report, fixed, nil
}

// GetChain returns a read-only snapshot of the user's chain.
func (s *SubscriptionService) GetChain(ctx context.Context, userID string) (*Chain, error) {
	return s.chain.GetUserChain(ctx, repository.NoTX, userID, "")
}

// CountByStatus delegates to the repository for stats and gauges.
func (s *SubscriptionService) CountByStatus(ctx context.Context) (map[model.EntitlementStatus]int, error) {
	return s.ents.CountByStatus(ctx, repository.NoTX)
}

// CountActiveByLevel delegates to the repository.
func (s *SubscriptionService) CountActiveByLevel(ctx context.Context) (map[string]int, error) {
	return s.ents.CountActiveByLevel(ctx, repository.NoTX)
}

// TotalPointsOutstanding sums unredeemed points across all memberships.
func (s *SubscriptionService) TotalPointsOutstanding(ctx context.Context) (int64, error) {
	return s.members.SumPoints(ctx, repository.NoTX)
}
