package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/database"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedOffer(t *testing.T, db *sql.DB, id string, qty int) *model.Offer {
	t.Helper()
	o := &model.Offer{
		ID:                id,
		PartnerID:         "partner-1",
		Title:             "Bakery bag",
		Status:            model.OfferActive,
		QuantityTotal:     qty,
		QuantityAvailable: qty,
		SmartPrice:        1000,
		OriginalPrice:     2500,
		PickupStart:       testNow,
		PickupEnd:         testNow.Add(2 * time.Hour),
		ExpiresAt:         testNow.Add(3 * time.Hour),
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
	if err := NewOfferStore(db).Create(context.Background(), o); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return o
}

func seedReservation(t *testing.T, db *sql.DB, id, offerID string) *model.Reservation {
	t.Helper()
	r := &model.Reservation{
		ID:          id,
		OfferID:     offerID,
		CustomerID:  "customer-1",
		PartnerID:   "partner-1",
		Quantity:    1,
		TotalPrice:  1000,
		PointsHeld:  10,
		SavedAmount: 1500,
		Status:      model.ReservationActive,
		QRCode:      "qr-" + id,
		CreatedAt:   testNow,
		ExpiresAt:   testNow.Add(2 * time.Hour),
	}
	if err := NewReservationStore(db).Create(context.Background(), r); err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	return r
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := InTx(ctx, db, func(tx *sql.Tx) error {
		if err := NewPointsStore(tx).EnsureAccount(ctx, model.OwnerCustomer, "c1", testNow); err != nil {
			return err
		}
		return sql.ErrTxDone
	})
	if err != sql.ErrTxDone {
		t.Fatalf("err = %v, want %v", err, sql.ErrTxDone)
	}

	acct, err := NewPointsStore(db).GetAccount(ctx, model.OwnerCustomer, "c1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct != nil {
		t.Error("expected account insert to be rolled back")
	}
}
