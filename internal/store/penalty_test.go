package store

import (
	"context"
	"testing"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

func newPenalty(id, reservationID string, offense int, ptype model.PenaltyType, until *time.Time, created time.Time) *model.Penalty {
	return &model.Penalty{
		ID: id, UserID: "u1", ReservationID: reservationID, PartnerID: "partner-1",
		OffenseNumber: offense, PenaltyType: ptype, SuspendedUntil: until,
		CanLiftWithPoints: ptype != model.PenaltyWarning, PointsRequired: 100,
		IsActive: ptype != model.PenaltyWarning, CreatedAt: created,
	}
}

func TestPenaltyActiveSuspension(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPenaltyStore(db)
	ctx := context.Background()

	until := testNow.Add(time.Hour)
	if err := ps.Create(ctx, newPenalty("p1", "r1", 4, model.PenaltySuspend1H, &until, testNow)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := ps.ActiveSuspension(ctx, "u1", testNow.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got == nil || got.ID != "p1" {
		t.Fatalf("active suspension = %v, want p1", got)
	}
	if got.SuspendedUntil == nil || !got.SuspendedUntil.Equal(until) {
		t.Errorf("suspended_until = %v, want %v", got.SuspendedUntil, until)
	}

	got, err = ps.ActiveSuspension(ctx, "u1", testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got != nil {
		t.Error("elapsed suspension should not block")
	}
}

func TestPenaltyPermanentHasNoEnd(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPenaltyStore(db)
	ctx := context.Background()

	ps.Create(ctx, newPenalty("p1", "r1", 6, model.PenaltyPermanent, nil, testNow))

	got, err := ps.ActiveSuspension(ctx, "u1", testNow.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got == nil {
		t.Fatal("permanent penalty should block indefinitely")
	}

	n, err := ps.ExpireElapsed(ctx, testNow.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 0 {
		t.Errorf("expired = %d, want 0", n)
	}
}

func TestPenaltyLiftOnce(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPenaltyStore(db)
	ctx := context.Background()

	until := testNow.Add(time.Hour)
	ps.Create(ctx, newPenalty("p1", "r1", 4, model.PenaltySuspend1H, &until, testNow))

	ok, err := ps.Lift(ctx, "p1", testNow)
	if err != nil || !ok {
		t.Fatalf("lift: ok=%v err=%v", ok, err)
	}
	ok, err = ps.Lift(ctx, "p1", testNow)
	if err != nil {
		t.Fatalf("second lift: %v", err)
	}
	if ok {
		t.Error("second lift should not apply")
	}

	got, _ := ps.GetByID(ctx, "p1")
	if got.IsActive || !got.Acknowledged || got.LiftedAt == nil {
		t.Errorf("after lift: active=%v acknowledged=%v lifted_at=%v", got.IsActive, got.Acknowledged, got.LiftedAt)
	}

	recent, err := ps.FindRecent(ctx, "u1", 4, testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("find recent: %v", err)
	}
	if recent == nil {
		t.Error("expected lifted penalty inside cooldown")
	}
}

func TestPenaltySupersede(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPenaltyStore(db)
	ctx := context.Background()

	until := testNow.Add(time.Hour)
	ps.Create(ctx, newPenalty("p1", "r1", 4, model.PenaltySuspend1H, &until, testNow))
	ps.Create(ctx, newPenalty("p2", "r2", 5, model.PenaltySuspend24H, &until, testNow.Add(time.Minute)))

	n, err := ps.Supersede(ctx, "u1", "p2")
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if n != 1 {
		t.Errorf("superseded = %d, want 1", n)
	}

	p1, _ := ps.GetByID(ctx, "p1")
	if p1.IsActive || p1.SupersededBy != "p2" {
		t.Errorf("p1 active=%v superseded_by=%q", p1.IsActive, p1.SupersededBy)
	}
	p2, _ := ps.GetByID(ctx, "p2")
	if !p2.IsActive {
		t.Error("p2 should stay active")
	}
}

func TestPenaltyUniquePerReservation(t *testing.T) {
	db := setupTestDB(t)
	ps := NewPenaltyStore(db)
	ctx := context.Background()

	if err := ps.Create(ctx, newPenalty("p1", "r1", 1, model.PenaltyWarning, nil, testNow)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ps.Create(ctx, newPenalty("p2", "r1", 2, model.PenaltyWarning, nil, testNow)); err == nil {
		t.Error("expected a second penalty for the same reservation to fail")
	}

	w, err := ps.FindUnacknowledgedWarning(ctx, "u1", 1)
	if err != nil || w == nil {
		t.Fatalf("find warning: %v %v", w, err)
	}
	ps.Acknowledge(ctx, "p1", testNow)
	w, _ = ps.FindUnacknowledgedWarning(ctx, "u1", 1)
	if w != nil {
		t.Error("acknowledged warning should not be returned")
	}
}
