package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

type OfferStore struct {
	db DBTX
}

func NewOfferStore(db DBTX) *OfferStore {
	return &OfferStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *OfferStore) WithTx(tx DBTX) *OfferStore {
	return &OfferStore{db: tx}
}

func scanOffer(scanner interface{ Scan(...any) error }) (*model.Offer, error) {
	var o model.Offer
	var status string

	err := scanner.Scan(&o.ID, &o.PartnerID, &o.Title, &status, &o.QuantityTotal, &o.QuantityAvailable,
		&o.SmartPrice, &o.OriginalPrice, &o.PickupStart, &o.PickupEnd, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OfferStatus(status)
	return &o, nil
}

const offerCols = `id, partner_id, title, status, quantity_total, quantity_available, smart_price, original_price,
	pickup_start, pickup_end, expires_at, created_at, updated_at`

func (s *OfferStore) Create(ctx context.Context, o *model.Offer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offers (`+offerCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.PartnerID, o.Title, string(o.Status), o.QuantityTotal, o.QuantityAvailable,
		o.SmartPrice, o.OriginalPrice, o.PickupStart.UTC(), o.PickupEnd.UTC(), o.ExpiresAt.UTC(),
		o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (s *OfferStore) GetByID(ctx context.Context, id string) (*model.Offer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+offerCols+` FROM offers WHERE id = ?`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return o, nil
}

// DecrementQuantity takes qty units from the offer only if that many are
// still available. It reports whether the decrement happened.
func (s *OfferStore) DecrementQuantity(ctx context.Context, id string, qty int, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET quantity_available = quantity_available - ?, updated_at = ?
		 WHERE id = ? AND quantity_available >= ?`,
		qty, now.UTC(), id, qty,
	)
	if err != nil {
		return false, fmt.Errorf("decrement offer quantity: %w", err)
	}
	return affected(res)
}

// RestoreQuantity gives qty units back, capped at the offer's total.
func (s *OfferStore) RestoreQuantity(ctx context.Context, id string, qty int, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE offers SET quantity_available = MIN(quantity_total, quantity_available + ?), updated_at = ?
		 WHERE id = ?`,
		qty, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("restore offer quantity: %w", err)
	}
	return nil
}
