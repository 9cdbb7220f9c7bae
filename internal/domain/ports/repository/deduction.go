package repository

import (
	"context"
	"time"

	"membership-engine/internal/domain/model"
)

// DeductionRepository is the port for auto-renewal deduction attempts.
type DeductionRepository interface {
	Save(ctx context.Context, tx Tx, d *model.DeductionAttempt) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.DeductionAttempt, error)
	// FindOpenByContract returns the latest non-terminal attempt for a contract, if any.
	FindOpenByContract(ctx context.Context, tx Tx, contractID string) (*model.DeductionAttempt, error)
	// FindDueRetries lists failed attempts whose next retry time has passed.
	FindDueRetries(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.DeductionAttempt, error)
	// FindStalePending lists pending attempts older than the cutoff, for gateway reconciliation.
	FindStalePending(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.DeductionAttempt, error)
}
