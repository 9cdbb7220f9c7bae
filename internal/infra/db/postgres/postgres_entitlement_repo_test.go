//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"membership-engine/internal/domain"
	"membership-engine/internal/domain/model"
)

func newTierEnt(t *testing.T, userID string, weight int) *model.Entitlement {
	t.Helper()
	e, err := model.NewEntitlement(uuid.NewString(), userID, "gold", model.KindRecurringTier, weight, 0, 30, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewEntitlement: %v", err)
	}
	return e
}

func TestEntitlementRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewEntitlementRepo(testPool)

	t.Run("save and reload round-trips every field", func(t *testing.T) {
		cleanup(t)
		e := newTierEnt(t, "user-1", 20)
		e.ExternalRef = "order-1"
		e.Status = model.EntitlementStatusActive
		e.ExpiresAt = time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Microsecond)
		e.AutoRenew = true
		contractID := "ct-1"
		e.ContractID = &contractID

		if err := repo.Save(ctx, nil, e); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := repo.FindByID(ctx, nil, e.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.ExternalRef != "order-1" || got.LevelWeight != 20 || !got.AutoRenew {
			t.Fatalf("round-trip mismatch: %+v", got)
		}
		if got.ContractID == nil || *got.ContractID != "ct-1" {
			t.Fatal("contract reference lost")
		}
		if !got.ExpiresAt.Equal(e.ExpiresAt) {
			t.Fatalf("expiry mismatch: %v != %v", got.ExpiresAt, e.ExpiresAt)
		}
		if got.Version != e.Version {
			t.Fatalf("version mismatch: stored %d, local %d", got.Version, e.Version)
		}

		byRef, err := repo.FindByExternalRef(ctx, nil, "order-1")
		if err != nil || byRef.ID != e.ID {
			t.Fatalf("FindByExternalRef: %v", err)
		}
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		cleanup(t)
		e := newTierEnt(t, "user-1", 20)
		if err := repo.Save(ctx, nil, e); err != nil {
			t.Fatalf("Save: %v", err)
		}

		stale := *e
		if err := repo.Save(ctx, nil, e); err != nil {
			t.Fatalf("second Save: %v", err)
		}
		if err := repo.Save(ctx, nil, &stale); !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("chain finders respect status and order", func(t *testing.T) {
		cleanup(t)
		active := newTierEnt(t, "user-1", 20)
		active.Status = model.EntitlementStatusActive
		active.ExpiresAt = time.Now().UTC().Add(30 * 24 * time.Hour)

		p2 := newTierEnt(t, "user-1", 20)
		p2.QueuePos = 2
		p1 := newTierEnt(t, "user-1", 20)
		p1.QueuePos = 1

		paused := newTierEnt(t, "user-1", 10)
		paused.Status = model.EntitlementStatusPaused

		for _, e := range []*model.Entitlement{active, p2, p1, paused} {
			if err := repo.Save(ctx, nil, e); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		gotActive, err := repo.FindActiveByUser(ctx, nil, "user-1")
		if err != nil || gotActive.ID != active.ID {
			t.Fatalf("FindActiveByUser: %v", err)
		}
		pending, err := repo.FindPendingByUser(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("FindPendingByUser: %v", err)
		}
		if len(pending) != 2 || pending[0].ID != p1.ID || pending[1].ID != p2.ID {
			t.Fatalf("pending not ordered by queue position: %+v", pending)
		}
		live, err := repo.FindAllLiveByUser(ctx, nil, "user-1")
		if err != nil || len(live) != 4 {
			t.Fatalf("FindAllLiveByUser: %v (%d)", err, len(live))
		}
	})

	t.Run("sweep finders pick up due and stuck entitlements", func(t *testing.T) {
		cleanup(t)
		expired := newTierEnt(t, "user-1", 20)
		expired.Status = model.EntitlementStatusActive
		expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)

		stuck := newTierEnt(t, "user-2", 20)
		stuck.QueuePos = 1

		for _, e := range []*model.Entitlement{expired, stuck} {
			if err := repo.Save(ctx, nil, e); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		due, err := repo.FindExpired(ctx, nil, time.Now().UTC(), 10)
		if err != nil || len(due) != 1 || due[0].ID != expired.ID {
			t.Fatalf("FindExpired: %v (%d)", err, len(due))
		}
		headless, err := repo.FindStuckPending(ctx, nil, 10)
		if err != nil || len(headless) != 1 || headless[0].ID != stuck.ID {
			t.Fatalf("FindStuckPending: %v (%d)", err, len(headless))
		}
	})

	t.Run("only one active per user is enforced by the schema", func(t *testing.T) {
		cleanup(t)
		a := newTierEnt(t, "user-1", 20)
		a.Status = model.EntitlementStatusActive
		if err := repo.Save(ctx, nil, a); err != nil {
			t.Fatalf("Save: %v", err)
		}
		b := newTierEnt(t, "user-1", 30)
		b.Status = model.EntitlementStatusActive
		if err := repo.Save(ctx, nil, b); err == nil {
			t.Fatal("expected the second active row to be rejected")
		}
	})
}

func TestDeductionAndMembershipRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	cleanup(t)

	_, err := testPool.Exec(ctx, `
INSERT INTO payment_contracts (id, user_id, status, deduct_amount) VALUES ('ct-1','user-1','signed',19.90);`)
	if err != nil {
		t.Fatalf("seed contract: %v", err)
	}

	contracts := NewContractRepo(testPool)
	c, err := contracts.FindByID(ctx, nil, "ct-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !c.Deductible() || !c.DeductAmount.Equal(decimal.RequireFromString("19.90")) {
		t.Fatalf("unexpected contract: %+v", c)
	}

	deds := NewDeductionRepo(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	retryAt := now.Add(-time.Minute)
	att := &model.DeductionAttempt{
		ID:            uuid.NewString(),
		ContractID:    "ct-1",
		EntitlementID: "e-1",
		Amount:        c.DeductAmount,
		Status:        model.DeductionStatusFailed,
		RetryCount:    1,
		NextRetryAt:   &retryAt,
		FailCode:      "INSUFFICIENT_BALANCE",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := deds.Save(ctx, nil, att); err != nil {
		t.Fatalf("Save attempt: %v", err)
	}
	open, err := deds.FindOpenByContract(ctx, nil, "ct-1")
	if err != nil || open.ID != att.ID {
		t.Fatalf("FindOpenByContract: %v", err)
	}
	retries, err := deds.FindDueRetries(ctx, nil, time.Now().UTC(), 10)
	if err != nil || len(retries) != 1 {
		t.Fatalf("FindDueRetries: %v (%d)", err, len(retries))
	}

	members := NewMembershipRepo(testPool)
	if err := members.AddPoints(ctx, nil, "user-1", 100); err != nil {
		t.Fatalf("AddPoints: %v", err)
	}
	m := &model.Membership{UserID: "user-1", LevelCode: "gold", LevelWeight: 20, UpdatedAt: now}
	if err := members.Save(ctx, nil, m); err != nil {
		t.Fatalf("Save membership: %v", err)
	}
	got, err := members.FindByUser(ctx, nil, "user-1")
	if err != nil {
		t.Fatalf("FindByUser: %v", err)
	}
	if got.Points != 100 || got.LevelCode != "gold" {
		t.Fatalf("save must not clobber points: %+v", got)
	}

	if err := members.AddPoints(ctx, nil, "user-2", 50); err != nil {
		t.Fatalf("AddPoints user-2: %v", err)
	}
	total, err := members.SumPoints(ctx, nil)
	if err != nil || total != 150 {
		t.Fatalf("SumPoints: %v (total=%d)", err, total)
	}
}
