package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

type ReservationStore struct {
	db DBTX
}

func NewReservationStore(db DBTX) *ReservationStore {
	return &ReservationStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *ReservationStore) WithTx(tx DBTX) *ReservationStore {
	return &ReservationStore{db: tx}
}

func scanReservation(scanner interface{ Scan(...any) error }) (*model.Reservation, error) {
	var r model.Reservation
	var status string
	var idemKey sql.NullString
	var pickedUp, cancelled, expired sql.NullTime

	err := scanner.Scan(&r.ID, &r.OfferID, &r.CustomerID, &r.PartnerID, &r.Quantity, &r.TotalPrice,
		&r.PointsHeld, &r.SavedAmount, &status, &r.QRCode, &idemKey, &r.CreatedAt, &r.ExpiresAt,
		&pickedUp, &cancelled, &expired)
	if err != nil {
		return nil, err
	}

	r.Status = model.ReservationStatus(status)
	r.IdempotencyKey = idemKey.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.PickedUpAt = timePtr(pickedUp)
	r.CancelledAt = timePtr(cancelled)
	r.ExpiredAt = timePtr(expired)
	return &r, nil
}

const reservationCols = `id, offer_id, customer_id, partner_id, quantity, total_price, points_held, saved_amount,
	status, qr_code, idempotency_key, created_at, expires_at, picked_up_at, cancelled_at, expired_at`

func (s *ReservationStore) Create(ctx context.Context, r *model.Reservation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reservations (id, offer_id, customer_id, partner_id, quantity, total_price, points_held,
			saved_amount, status, qr_code, idempotency_key, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OfferID, r.CustomerID, r.PartnerID, r.Quantity, r.TotalPrice, r.PointsHeld,
		r.SavedAmount, string(r.Status), r.QRCode, nullString(r.IdempotencyKey), r.CreatedAt.UTC(), r.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (s *ReservationStore) getOne(ctx context.Context, where string, args ...any) (*model.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reservationCols+` FROM reservations WHERE `+where, args...)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (s *ReservationStore) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	return s.getOne(ctx, `id = ?`, id)
}

func (s *ReservationStore) GetByQRCode(ctx context.Context, code string) (*model.Reservation, error) {
	return s.getOne(ctx, `qr_code = ?`, code)
}

func (s *ReservationStore) GetByIdempotencyKey(ctx context.Context, customerID, key string) (*model.Reservation, error) {
	return s.getOne(ctx, `customer_id = ? AND idempotency_key = ?`, customerID, key)
}

func (s *ReservationStore) list(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reservationCols+` FROM reservations `+query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListByCustomer returns the customer's reservations, newest first.
func (s *ReservationStore) ListByCustomer(ctx context.Context, customerID string) ([]model.Reservation, error) {
	return s.list(ctx, `WHERE customer_id = ? ORDER BY created_at DESC`, customerID)
}

// ListActiveByPartner returns reservations awaiting pickup at the partner, soonest deadline first.
func (s *ReservationStore) ListActiveByPartner(ctx context.Context, partnerID string) ([]model.Reservation, error) {
	return s.list(ctx, `WHERE partner_id = ? AND status = 'ACTIVE' ORDER BY expires_at ASC`, partnerID)
}

// ListOverdue returns ACTIVE reservations whose pickup window ended before
// now, ordered by (expires_at, id).
func (s *ReservationStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return s.list(ctx, `WHERE status = 'ACTIVE' AND expires_at < ? ORDER BY expires_at ASC, id ASC LIMIT ?`, now.UTC(), limit)
}

// ListOverdueAfter continues ListOverdue past the row (afterExpiresAt, afterID).
func (s *ReservationStore) ListOverdueAfter(ctx context.Context, now, afterExpiresAt time.Time, afterID string, limit int) ([]model.Reservation, error) {
	return s.list(ctx,
		`WHERE status = 'ACTIVE' AND expires_at < ?
		   AND (expires_at > ? OR (expires_at = ? AND id > ?))
		 ORDER BY expires_at ASC, id ASC LIMIT ?`,
		now.UTC(), afterExpiresAt.UTC(), afterExpiresAt.UTC(), afterID, limit)
}

// ListUnsettledPickups returns PICKED_UP reservations whose escrow has not
// been released to the partner yet.
func (s *ReservationStore) ListUnsettledPickups(ctx context.Context, limit int) ([]model.Reservation, error) {
	return s.list(ctx,
		`WHERE status = 'PICKED_UP' AND NOT EXISTS (
			SELECT 1 FROM ledger_operations lo WHERE lo.idempotency_key = reservations.id || ':PICKUP_REWARD'
		) ORDER BY picked_up_at ASC LIMIT ?`, limit)
}

// transition is the compare-and-swap every state change goes through: the
// row moves only if it is still ACTIVE at write time.
func (s *ReservationStore) transition(ctx context.Context, id string, to model.ReservationStatus, column string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reservations SET status = ?, `+column+` = ? WHERE id = ? AND status = 'ACTIVE'`,
		string(to), at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("transition reservation to %s: %w", to, err)
	}
	return affected(res)
}

func (s *ReservationStore) MarkPickedUp(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.transition(ctx, id, model.ReservationPickedUp, "picked_up_at", at)
}

func (s *ReservationStore) MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.transition(ctx, id, model.ReservationCancelled, "cancelled_at", at)
}

func (s *ReservationStore) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.transition(ctx, id, model.ReservationExpired, "expired_at", at)
}
