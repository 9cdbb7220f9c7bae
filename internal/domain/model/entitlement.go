package model

import (
	"time"

	"membership-engine/internal/domain"
)

type EntitlementStatus string

const (
	EntitlementStatusPending   EntitlementStatus = "pending"
	EntitlementStatusActive    EntitlementStatus = "active"
	EntitlementStatusCompleted EntitlementStatus = "completed"
	EntitlementStatusCancelled EntitlementStatus = "cancelled"
	EntitlementStatusPaused    EntitlementStatus = "paused"
)

type EntitlementKind string

const (
	KindPointsGrant   EntitlementKind = "points_grant"
	KindRecurringTier EntitlementKind = "recurring_tier"
)

type EntitlementOrigin string

const (
	OriginManual              EntitlementOrigin = "manual"
	OriginAutoRenewal         EntitlementOrigin = "auto_renewal"
	OriginUpgradeCompensation EntitlementOrigin = "upgrade_compensation"
)

// Entitlement is one period of paid tier access or a one-off points grant.
// PrevID/NextID are id references into the store, never owning pointers:
// the chain is rebuilt by lookup, so there is no in-memory link ownership.
type Entitlement struct {
	ID            string // ULID
	ExternalRef   string // opaque correlation ref from the order system
	UserID        string
	OriginOrderID string

	Kind         EntitlementKind
	LevelCode    string
	LevelWeight  int
	PointsAmount int

	Status    EntitlementStatus
	ExpiresAt time.Time
	CycleDays int

	IsCompensation bool
	Origin         EntitlementOrigin

	AutoRenew         bool
	AutoRenewSourceID *string
	ContractID        *string

	PrevID   *string
	NextID   *string
	QueuePos int

	BenefitsGranted bool

	CancelReason *string
	CancelledAt  *time.Time

	CreatedAt time.Time
	Version   int64
}

// NewEntitlement validates and constructs a pending entitlement.
func NewEntitlement(id, userID, levelCode string, kind EntitlementKind, levelWeight, pointsAmount, cycleDays int, now time.Time) (*Entitlement, error) {
	if id == "" || userID == "" || levelCode == "" || cycleDays < 0 || pointsAmount < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Entitlement{
		ID:           id,
		UserID:       userID,
		Kind:         kind,
		LevelCode:    levelCode,
		LevelWeight:  levelWeight,
		PointsAmount: pointsAmount,
		CycleDays:    cycleDays,
		Status:       EntitlementStatusPending,
		Origin:       OriginManual,
		CreatedAt:    now,
		Version:      1,
	}, nil
}

// NewCompensation builds the entitlement that preserves a paused entitlement's
// unused days. Compensation entitlements never carry points.
func NewCompensation(id string, paused *Entitlement, remainingDays int, now time.Time) (*Entitlement, error) {
	if id == "" || paused == nil || remainingDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Entitlement{
		ID:             id,
		UserID:         paused.UserID,
		Kind:           paused.Kind,
		LevelCode:      paused.LevelCode,
		LevelWeight:    paused.LevelWeight,
		PointsAmount:   0,
		CycleDays:      remainingDays,
		Status:         EntitlementStatusPending,
		IsCompensation: true,
		Origin:         OriginUpgradeCompensation,
		CreatedAt:      now,
		Version:        1,
	}, nil
}

// IsDue reports whether an active entitlement has reached its expiration.
func (e *Entitlement) IsDue(now time.Time) bool {
	return e.Status == EntitlementStatusActive && !e.ExpiresAt.After(now)
}

// RemainingDays returns whole days left until expiration, never negative.
func (e *Entitlement) RemainingDays(now time.Time) int {
	if !e.ExpiresAt.After(now) {
		return 0
	}
	return int(e.ExpiresAt.Sub(now).Hours() / 24)
}

// CycleDuration is the entitlement's cycle length as a duration.
func (e *Entitlement) CycleDuration() time.Duration {
	return time.Duration(e.CycleDays) * 24 * time.Hour
}
