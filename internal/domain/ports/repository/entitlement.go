package repository

import (
	"context"
	"time"

	"membership-engine/internal/domain/model"
)

// EntitlementRepository is the port for entitlement records.
//
// Save performs an optimistic-concurrency write: the row is updated only when
// the stored version matches e.Version, and e.Version is bumped on success.
// A mismatch returns domain.ErrVersionConflict and the caller restarts the
// whole operation from scratch.
type EntitlementRepository interface {
	Save(ctx context.Context, tx Tx, e *model.Entitlement) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Entitlement, error)
	FindByExternalRef(ctx context.Context, tx Tx, ref string) (*model.Entitlement, error)

	// FindActiveByUser returns the single ACTIVE recurring-tier entitlement.
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Entitlement, error)
	// FindPendingByUser returns PENDING recurring-tier entitlements ordered by queue position.
	FindPendingByUser(ctx context.Context, tx Tx, userID string) ([]*model.Entitlement, error)
	// FindPausedByUser returns PAUSED recurring-tier entitlements.
	FindPausedByUser(ctx context.Context, tx Tx, userID string) ([]*model.Entitlement, error)
	// FindAllLiveByUser returns every non-terminal entitlement (pending, active, paused).
	FindAllLiveByUser(ctx context.Context, tx Tx, userID string) ([]*model.Entitlement, error)

	// FindActiveRenewableByContract locates the ACTIVE auto-renewing entitlement
	// bound to a signed mandate.
	FindActiveRenewableByContract(ctx context.Context, tx Tx, contractID string) (*model.Entitlement, error)

	// FindExpired lists ACTIVE entitlements whose expiration passed, for the expiry sweep.
	FindExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Entitlement, error)
	// FindStuckPending lists PENDING heads whose predecessor is already terminal,
	// for the pending-activation sweep.
	FindStuckPending(ctx context.Context, tx Tx, limit int) ([]*model.Entitlement, error)
	// FindRenewalCandidates lists ACTIVE auto-renewing entitlements expiring within the window.
	FindRenewalCandidates(ctx context.Context, tx Tx, windowDays int, limit int) ([]*model.Entitlement, error)

	// ListRecentlyTouchedUsers returns user ids with chain writes since the cutoff,
	// for the chain auditor.
	ListRecentlyTouchedUsers(ctx context.Context, tx Tx, since time.Time, limit int) ([]string, error)

	// --- Statistics read-only methods ---
	CountByStatus(ctx context.Context, tx Tx) (map[model.EntitlementStatus]int, error)
	CountActiveByLevel(ctx context.Context, tx Tx) (map[string]int, error)
}
