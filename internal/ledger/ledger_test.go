package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
	"github.com/dave999999/SmartPick1-sub001/internal/database"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setupLedgerTest(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := NewService(db, slog.Default())
	svc.SetClock(func() time.Time { return testNow })
	return svc, db
}

// seedReservation creates an offer and an ACTIVE reservation owned by c1 at p1.
func seedReservation(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	ctx := context.Background()
	offers := store.NewOfferStore(db)
	if o, _ := offers.GetByID(ctx, "offer-1"); o == nil {
		err := offers.Create(ctx, &model.Offer{
			ID: "offer-1", PartnerID: "p1", Status: model.OfferActive, QuantityTotal: 10, QuantityAvailable: 10,
			SmartPrice: 1000, OriginalPrice: 2000, PickupStart: testNow, PickupEnd: testNow.Add(time.Hour),
			ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow, UpdatedAt: testNow,
		})
		if err != nil {
			t.Fatalf("create offer: %v", err)
		}
	}
	err := store.NewReservationStore(db).Create(ctx, &model.Reservation{
		ID: id, OfferID: "offer-1", CustomerID: "c1", PartnerID: "p1", Quantity: 1, TotalPrice: 1000,
		PointsHeld: 10, Status: model.ReservationActive, QRCode: "qr-" + id, CreatedAt: testNow,
		ExpiresAt: testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
}

func fund(t *testing.T, svc *Service, customerID string, amount int64) {
	t.Helper()
	if _, err := svc.Credit(context.Background(), model.OwnerCustomer, customerID, amount, "seed-"+customerID, model.ReasonAdminAdjustment); err != nil {
		t.Fatalf("fund %s: %v", customerID, err)
	}
}

func TestPointsFor(t *testing.T) {
	tests := []struct {
		price, rate, want int64
	}{
		{1000, 1, 10},
		{1001, 1, 11},
		{999, 1, 10},
		{0, 1, 0},
		{1000, 0, 0},
		{250, 4, 10},
	}
	for _, tt := range tests {
		if got := PointsFor(tt.price, tt.rate); got != tt.want {
			t.Errorf("PointsFor(%d, %d) = %d, want %d", tt.price, tt.rate, got, tt.want)
		}
	}
}

func TestHoldInsufficientBalance(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	fund(t, svc, "c1", 5)

	_, err := svc.Hold(ctx, "c1", 10, "res-1")
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	acct, _ := svc.Account(ctx, model.OwnerCustomer, "c1")
	if acct.EscrowHeld != 0 {
		t.Errorf("escrow = %d, want 0", acct.EscrowHeld)
	}
}

func TestHoldIsIdempotent(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	fund(t, svc, "c1", 100)

	first, err := svc.Hold(ctx, "c1", 30, "res-1")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if first.Replayed {
		t.Error("first hold should not be a replay")
	}

	second, err := svc.Hold(ctx, "c1", 30, "res-1")
	if err != nil {
		t.Fatalf("replayed hold: %v", err)
	}
	if !second.Replayed {
		t.Error("second hold should be a replay")
	}
	if second.CustomerEscrow != first.CustomerEscrow {
		t.Errorf("replayed escrow = %d, want %d", second.CustomerEscrow, first.CustomerEscrow)
	}

	acct, _ := svc.Account(ctx, model.OwnerCustomer, "c1")
	if acct.EscrowHeld != 30 {
		t.Errorf("escrow = %d, want 30", acct.EscrowHeld)
	}
}

func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	fund(t, svc, "c1", 50)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Hold(ctx, "c1", 10, "res-"+string(rune('a'+i)))
			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, apperr.ErrInsufficientBalance) {
				t.Errorf("hold: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := ok.Load(); got != 5 {
		t.Errorf("successful holds = %d, want 5", got)
	}
	acct, _ := svc.Account(ctx, model.OwnerCustomer, "c1")
	if acct.EscrowHeld != 50 {
		t.Errorf("escrow = %d, want 50", acct.EscrowHeld)
	}
}

func TestReleaseToPartnerEndToEnd(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	seedReservation(t, db, "res-1")
	fund(t, svc, "c1", 500)

	if _, err := svc.Hold(ctx, "c1", 10, "res-1"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	acct, _ := svc.Account(ctx, model.OwnerCustomer, "c1")
	if acct.EscrowHeld != 10 {
		t.Fatalf("escrow after hold = %d, want 10", acct.EscrowHeld)
	}

	res, err := svc.ReleaseToPartner(ctx, "res-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.CustomerBalance != 490 || res.CustomerEscrow != 0 || res.PartnerBalance != 10 {
		t.Errorf("result = %+v", res.LedgerOperation)
	}

	// Replays change nothing.
	again, err := svc.ReleaseToPartner(ctx, "res-1")
	if err != nil {
		t.Fatalf("replayed release: %v", err)
	}
	if !again.Replayed {
		t.Error("second release should be a replay")
	}

	cust, _ := svc.Account(ctx, model.OwnerCustomer, "c1")
	partner, _ := svc.Account(ctx, model.OwnerPartner, "p1")
	if cust.Balance != 490 || cust.EscrowHeld != 0 {
		t.Errorf("customer = %+v, want balance 490 escrow 0", cust)
	}
	if partner.Balance != 10 {
		t.Errorf("partner balance = %d, want 10", partner.Balance)
	}

	n, err := store.NewPointsStore(db).CountHistory(ctx, "res-1", model.ReasonPickupReward)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	if n != 2 {
		t.Errorf("PICKUP_REWARD rows = %d, want 2", n)
	}
}

func TestForfeitToPartner(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	seedReservation(t, db, "res-1")
	fund(t, svc, "c1", 100)
	svc.Hold(ctx, "c1", 10, "res-1")

	res, err := svc.ForfeitToPartner(ctx, "res-1")
	if err != nil {
		t.Fatalf("forfeit: %v", err)
	}
	if res.CustomerBalance != 90 || res.PartnerBalance != 10 {
		t.Errorf("result = %+v", res.LedgerOperation)
	}

	n, _ := store.NewPointsStore(db).CountHistory(ctx, "res-1", model.ReasonNoShowCompensation)
	if n != 2 {
		t.Errorf("NO_SHOW_COMPENSATION rows = %d, want 2", n)
	}
}

func TestReleaseToCustomerKeepsBalance(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	seedReservation(t, db, "res-1")
	fund(t, svc, "c1", 100)
	svc.Hold(ctx, "c1", 10, "res-1")

	if _, err := svc.ReleaseToCustomer(ctx, "res-1"); err != nil {
		t.Fatalf("release to customer: %v", err)
	}
	acct, _ := svc.Account(ctx, model.OwnerCustomer, "c1")
	if acct.Balance != 100 || acct.EscrowHeld != 0 {
		t.Errorf("account = %+v, want balance 100 escrow 0", acct)
	}
}

func TestSettlementsAreExclusive(t *testing.T) {
	svc, db := setupLedgerTest(t)
	ctx := context.Background()
	seedReservation(t, db, "res-1")
	fund(t, svc, "c1", 100)
	svc.Hold(ctx, "c1", 10, "res-1")

	if _, err := svc.ReleaseToPartner(ctx, "res-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, err := svc.ForfeitToPartner(ctx, "res-1")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("forfeit after release: err = %v, want ErrInvalidState", err)
	}
	_, err = svc.ReleaseToCustomer(ctx, "res-1")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("refund after release: err = %v, want ErrInvalidState", err)
	}
}

func TestSettleWithoutHold(t *testing.T) {
	svc, db := setupLedgerTest(t)
	seedReservation(t, db, "res-1")

	_, err := svc.ReleaseToPartner(context.Background(), "res-1")
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
	_, err = svc.ReleaseToPartner(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDebitRespectsEscrowAndIsIdempotent(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	ctx := context.Background()
	fund(t, svc, "c1", 120)
	svc.Hold(ctx, "c1", 50, "res-1")

	_, err := svc.Debit(ctx, "c1", 100, "pen-1", model.ReasonPenaltyLift)
	if !errors.Is(err, apperr.ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}

	res, err := svc.Debit(ctx, "c1", 70, "pen-1", model.ReasonPenaltyLift)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.CustomerBalance != 50 {
		t.Errorf("balance = %d, want 50", res.CustomerBalance)
	}

	again, err := svc.Debit(ctx, "c1", 70, "pen-1", model.ReasonPenaltyLift)
	if err != nil || !again.Replayed {
		t.Fatalf("replayed debit: %+v %v", again, err)
	}

	hist, err := svc.History(ctx, model.OwnerCustomer, "c1", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	if hist[0].ReasonCode != model.ReasonPenaltyLift || hist[0].RelatedPenaltyID != "pen-1" {
		t.Errorf("newest history = %+v", hist[0])
	}
}

func TestCreditRejectsNonPositive(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	_, err := svc.Credit(context.Background(), model.OwnerCustomer, "c1", 0, "adj-1", model.ReasonAdminAdjustment)
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAccountMissingIsEmpty(t *testing.T) {
	svc, _ := setupLedgerTest(t)
	acct, err := svc.Account(context.Background(), model.OwnerPartner, "nobody")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.Balance != 0 || acct.OwnerID != "nobody" {
		t.Errorf("account = %+v", acct)
	}
}
