// Package reservation owns the reservation lifecycle: creating a
// reservation against an offer, cancelling it, and reading it back. Pickup
// and expiry transitions live in the pickup and sweep packages.
package reservation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
	"github.com/dave999999/SmartPick1-sub001/internal/events"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/penalty"
	"github.com/dave999999/SmartPick1-sub001/internal/store"
)

const maxQuantity = 20

type Config struct {
	// PointsPerUnit is how many points one major currency unit costs.
	PointsPerUnit int64
}

type CreateRequest struct {
	OfferID        string
	CustomerID     string
	Quantity       int
	IdempotencyKey string
}

type Service struct {
	db           *sql.DB
	offers       *store.OfferStore
	reservations *store.ReservationStore
	ledger       *ledger.Service
	penalties    *penalty.Engine
	notifier     events.Notifier
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(db *sql.DB, ledgerSvc *ledger.Service, penalties *penalty.Engine, notifier events.Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.PointsPerUnit <= 0 {
		cfg.PointsPerUnit = 1
	}
	return &Service{
		db:           db,
		offers:       store.NewOfferStore(db),
		reservations: store.NewReservationStore(db),
		ledger:       ledgerSvc,
		penalties:    penalties,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func newQRCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate qr code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create reserves quantity units of an offer for a customer and holds the
// points they cost. Offer decrement, reservation insert and hold commit in
// one transaction. A repeated IdempotencyKey returns the original
// reservation with replayed set.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Reservation, bool, error) {
	req.OfferID = strings.TrimSpace(req.OfferID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.OfferID == "" || req.CustomerID == "" {
		return nil, false, fmt.Errorf("offer and customer are required: %w", apperr.ErrInvalidInput)
	}
	if req.Quantity < 1 || req.Quantity > maxQuantity {
		return nil, false, fmt.Errorf("quantity must be between 1 and %d: %w", maxQuantity, apperr.ErrInvalidInput)
	}

	var r *model.Reservation
	var replayed bool
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		rs := s.reservations.WithTx(tx)
		os := s.offers.WithTx(tx)

		if req.IdempotencyKey != "" {
			existing, err := rs.GetByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.OfferID != req.OfferID || existing.Quantity != req.Quantity {
					return fmt.Errorf("idempotency key reused for a different request: %w", apperr.ErrInvalidInput)
				}
				r, replayed = existing, true
				return nil
			}
		}

		suspension, err := s.penalties.ActiveSuspensionTx(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if suspension != nil {
			return fmt.Errorf("customer %s under %s penalty: %w", req.CustomerID, suspension.PenaltyType, apperr.ErrSuspended)
		}

		now := s.now().UTC()
		offer, err := os.GetByID(ctx, req.OfferID)
		if err != nil {
			return err
		}
		if offer == nil {
			return fmt.Errorf("offer %s not found: %w", req.OfferID, apperr.ErrOfferUnavailable)
		}
		if !offer.Reservable(now) {
			return fmt.Errorf("offer %s is %s: %w", offer.ID, offer.DisplayStatus(now), apperr.ErrOfferUnavailable)
		}

		ok, err := os.DecrementQuantity(ctx, offer.ID, req.Quantity, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("offer %s has fewer than %d left: %w", offer.ID, req.Quantity, apperr.ErrOfferUnavailable)
		}

		qr, err := newQRCode()
		if err != nil {
			return err
		}

		total := offer.SmartPrice * int64(req.Quantity)
		saved := (offer.OriginalPrice - offer.SmartPrice) * int64(req.Quantity)
		if saved < 0 {
			saved = 0
		}
		r = &model.Reservation{
			ID:             uuid.NewString(),
			OfferID:        offer.ID,
			CustomerID:     req.CustomerID,
			PartnerID:      offer.PartnerID,
			Quantity:       req.Quantity,
			TotalPrice:     total,
			PointsHeld:     ledger.PointsFor(total, s.cfg.PointsPerUnit),
			SavedAmount:    saved,
			Status:         model.ReservationActive,
			QRCode:         qr,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			ExpiresAt:      offer.PickupEnd.UTC(),
		}
		if err := rs.Create(ctx, r); err != nil {
			return err
		}

		_, err = s.ledger.HoldTx(ctx, tx, r.CustomerID, r.PointsHeld, r.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if !replayed {
		s.logger.InfoContext(ctx, "reservation created", "reservation_id", r.ID, "offer_id", r.OfferID,
			"customer_id", r.CustomerID, "quantity", r.Quantity, "points_held", r.PointsHeld)
		events.Emit(ctx, s.notifier, s.logger, events.New(events.TypeReservationCreated, r))
	}
	return r, replayed, nil
}

// Cancel lets the owning customer withdraw an ACTIVE reservation before its
// pickup window ends. Quantity goes back to the offer and the hold is released.
func (s *Service) Cancel(ctx context.Context, id, customerID string) (*model.Reservation, error) {
	var r *model.Reservation
	var changed bool
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		rs := s.reservations.WithTx(tx)

		var err error
		r, err = rs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("reservation %s: %w", id, apperr.ErrNotFound)
		}
		if r.CustomerID != customerID {
			return fmt.Errorf("reservation %s: %w", id, apperr.ErrNotOwner)
		}
		if r.Status == model.ReservationCancelled {
			return nil
		}
		if !CanTransition(r.Status, model.ReservationCancelled) {
			return fmt.Errorf("cannot cancel %s reservation: %w", r.Status, apperr.ErrInvalidState)
		}

		now := s.now().UTC()
		if !now.Before(r.ExpiresAt) {
			return fmt.Errorf("reservation %s expired at %s: %w", id, r.ExpiresAt.Format(time.RFC3339), apperr.ErrWindowClosed)
		}

		ok, err := rs.MarkCancelled(ctx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reservation %s changed concurrently: %w", id, apperr.ErrInvalidState)
		}
		if err := s.offers.WithTx(tx).RestoreQuantity(ctx, r.OfferID, r.Quantity, now); err != nil {
			return err
		}
		if _, err := s.ledger.ReleaseToCustomerTx(ctx, tx, id); err != nil {
			return err
		}

		changed = true
		r, err = rs.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.InfoContext(ctx, "reservation cancelled", "reservation_id", id, "customer_id", customerID)
		events.Emit(ctx, s.notifier, s.logger, events.New(events.TypeReservationCancelled, r))
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("reservation %s: %w", id, apperr.ErrNotFound)
	}
	return r, nil
}

// GetForParticipant returns the reservation only to its customer or partner.
func (s *Service) GetForParticipant(ctx context.Context, id, userID string) (*model.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch userID {
	case r.CustomerID:
		return r, nil
	case r.PartnerID:
		// The code proves the customer is present; partners scan it, never read it.
		r.QRCode = ""
		return r, nil
	}
	return nil, fmt.Errorf("reservation %s: %w", id, apperr.ErrNotOwner)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]model.Reservation, error) {
	list, err := s.reservations.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Reservation{}
	}
	return list, nil
}

// ListActiveByPartner returns reservations awaiting pickup, without QR codes.
func (s *Service) ListActiveByPartner(ctx context.Context, partnerID string) ([]model.Reservation, error) {
	list, err := s.reservations.ListActiveByPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Reservation{}
	}
	for i := range list {
		list[i].QRCode = ""
	}
	return list, nil
}
