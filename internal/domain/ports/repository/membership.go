package repository

import (
	"context"

	"membership-engine/internal/domain/model"
)

// MembershipRepository stores the denormalized per-user membership aggregate.
type MembershipRepository interface {
	Save(ctx context.Context, tx Tx, m *model.Membership) error
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.Membership, error)
	// AddPoints atomically credits points to the user's balance.
	AddPoints(ctx context.Context, tx Tx, userID string, amount int) error
	// SumPoints totals outstanding points across all memberships.
	SumPoints(ctx context.Context, tx Tx) (int64, error)
}
