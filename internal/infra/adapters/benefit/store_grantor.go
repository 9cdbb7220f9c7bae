package benefit

import (
	"context"

	"github.com/rs/zerolog"

	"membership-engine/internal/domain/ports/adapter"
	"membership-engine/internal/domain/ports/repository"
)

var _ adapter.BenefitGrantor = (*StoreGrantor)(nil)

// StoreGrantor delivers activation benefits by crediting the membership
// store directly. Deployments with an external benefits service swap in a
// client for it; the engine only sees the port.
type StoreGrantor struct {
	members repository.MembershipRepository
	log     *zerolog.Logger
}

func NewStoreGrantor(members repository.MembershipRepository, logger *zerolog.Logger) *StoreGrantor {
	l := logger.With().Str("component", "StoreGrantor").Logger()
	return &StoreGrantor{members: members, log: &l}
}

func (g *StoreGrantor) Grant(ctx context.Context, userID string, pointsAmount int, levelCode string) error {
	if pointsAmount > 0 {
		if err := g.members.AddPoints(ctx, repository.NoTX, userID, pointsAmount); err != nil {
			return err
		}
	}
	g.log.Debug().Str("user_id", userID).Int("points", pointsAmount).
		Str("level", levelCode).Msg("benefits granted")
	return nil
}
