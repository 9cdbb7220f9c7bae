package adapter

import "context"

// BenefitGrantor delivers the one-time side effects of an activation:
// crediting points and exposing the current tier. Idempotency is enforced by
// the engine (BenefitsGranted flag), not by this interface.
type BenefitGrantor interface {
	Grant(ctx context.Context, userID string, pointsAmount int, levelCode string) error
}
