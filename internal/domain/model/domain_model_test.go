//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"membership-engine/internal/domain"
)

// --- Entitlement Model Tests ---

func TestNewEntitlement(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should create a pending entitlement", func(t *testing.T) {
		e, err := NewEntitlement("ent-1", "user-1", "professional", KindRecurringTier, 30, 500, 30, now)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if e.Status != EntitlementStatusPending {
			t.Errorf("expected status 'pending', got '%s'", e.Status)
		}
		if e.Origin != OriginManual {
			t.Errorf("expected origin 'manual', got '%s'", e.Origin)
		}
		if e.Version != 1 {
			t.Errorf("expected initial version 1, got %d", e.Version)
		}
		if e.BenefitsGranted {
			t.Error("expected benefits not yet granted")
		}
	})

	t.Run("should reject invalid arguments", func(t *testing.T) {
		cases := []struct {
			name                  string
			id, userID, level     string
			weight, points, cycle int
		}{
			{"empty id", "", "user-1", "ordinary", 10, 0, 30},
			{"empty user", "ent-1", "", "ordinary", 10, 0, 30},
			{"empty level", "ent-1", "user-1", "", 10, 0, 30},
			{"negative cycle", "ent-1", "user-1", "ordinary", 10, 0, -1},
			{"negative points", "ent-1", "user-1", "ordinary", 10, -5, 30},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := NewEntitlement(tc.id, tc.userID, tc.level, KindRecurringTier, tc.weight, tc.points, tc.cycle, now)
				if !errors.Is(err, domain.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
			})
		}
	})
}

func TestNewCompensation(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	paused := &Entitlement{
		ID:           "ent-paused",
		UserID:       "user-1",
		Kind:         KindRecurringTier,
		LevelCode:    "ordinary",
		LevelWeight:  10,
		PointsAmount: 300,
		Status:       EntitlementStatusPaused,
	}

	t.Run("should carry level but never points", func(t *testing.T) {
		c, err := NewCompensation("ent-comp", paused, 15, now)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !c.IsCompensation {
			t.Error("expected IsCompensation to be true")
		}
		if c.PointsAmount != 0 {
			t.Errorf("compensation must carry zero points, got %d", c.PointsAmount)
		}
		if c.LevelCode != "ordinary" || c.LevelWeight != 10 {
			t.Errorf("expected level carried over, got %s/%d", c.LevelCode, c.LevelWeight)
		}
		if c.CycleDays != 15 {
			t.Errorf("expected cycle of 15 days, got %d", c.CycleDays)
		}
		if c.Origin != OriginUpgradeCompensation {
			t.Errorf("expected origin 'upgrade_compensation', got '%s'", c.Origin)
		}
	})

	t.Run("should reject zero remaining days", func(t *testing.T) {
		if _, err := NewCompensation("ent-comp", paused, 0, now); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestEntitlementRemainingDays(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	e := &Entitlement{ExpiresAt: now.Add(15 * 24 * time.Hour)}
	if got := e.RemainingDays(now); got != 15 {
		t.Errorf("expected 15 remaining days, got %d", got)
	}

	expired := &Entitlement{ExpiresAt: now.Add(-24 * time.Hour)}
	if got := expired.RemainingDays(now); got != 0 {
		t.Errorf("expected 0 remaining days for an expired entitlement, got %d", got)
	}
}

func TestMembershipRebuildFromChain(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("terminal expiration spans pending entries", func(t *testing.T) {
		activeEnd := now.Add(10 * 24 * time.Hour)
		tailEnd := now.Add(40 * 24 * time.Hour)
		active := &Entitlement{LevelCode: "professional", LevelWeight: 30, ExpiresAt: activeEnd}
		pending := []*Entitlement{
			{ExpiresAt: now.Add(25 * 24 * time.Hour)},
			{ExpiresAt: tailEnd},
		}

		var m Membership
		m.RebuildFromChain(active, pending, now)
		if m.LevelCode != "professional" {
			t.Errorf("expected level 'professional', got '%s'", m.LevelCode)
		}
		if m.ExpiresAt == nil || !m.ExpiresAt.Equal(tailEnd) {
			t.Errorf("expected terminal expiration %v, got %v", tailEnd, m.ExpiresAt)
		}
	})

	t.Run("clears tier when no active entitlement", func(t *testing.T) {
		m := Membership{LevelCode: "ordinary", LevelWeight: 10, Points: 120}
		m.RebuildFromChain(nil, nil, now)
		if m.LevelCode != "" || m.LevelWeight != 0 || m.ExpiresAt != nil {
			t.Error("expected tier cleared when chain is empty")
		}
		if m.Points != 120 {
			t.Errorf("expected points preserved, got %d", m.Points)
		}
	})
}
