package model

import "time"

// Membership is the denormalized "what the user sees" aggregate: current tier
// plus the terminal expiration of the whole chain, so queued renewals are
// already reflected in the visible end date. It is always re-derivable from
// entitlement state via RebuildFromChain.
type Membership struct {
	UserID      string
	LevelCode   string
	LevelWeight int
	Points      int
	ExpiresAt   *time.Time
	UpdatedAt   time.Time
}

// RebuildFromChain derives the aggregate from the active entitlement and the
// terminal chain expiration (max over active + pending). A nil active clears
// the tier but keeps accumulated points.
func (m *Membership) RebuildFromChain(active *Entitlement, pending []*Entitlement, now time.Time) {
	m.UpdatedAt = now
	if active == nil {
		m.LevelCode = ""
		m.LevelWeight = 0
		m.ExpiresAt = nil
		return
	}
	m.LevelCode = active.LevelCode
	m.LevelWeight = active.LevelWeight
	end := active.ExpiresAt
	for _, p := range pending {
		if p.ExpiresAt.After(end) {
			end = p.ExpiresAt
		}
	}
	m.ExpiresAt = &end
}
