// Package pickup confirms that a customer collected a reservation. A
// confirmation moves the reservation from ACTIVE to PICKED_UP exactly once,
// pays the held points to the partner, and tells the customer's client.
package pickup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
	"github.com/dave999999/SmartPick1-sub001/internal/events"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/ratelimit"
	"github.com/dave999999/SmartPick1-sub001/internal/reservation"
	"github.com/dave999999/SmartPick1-sub001/internal/store"
)

type Config struct {
	// BroadcastTimeout bounds the pickup notification publish.
	BroadcastTimeout time.Duration
}

// Confirmation is the result of a confirm call. Replayed is set when the
// reservation had already been picked up.
type Confirmation struct {
	ReservationID string                  `json:"reservationId"`
	Status        model.ReservationStatus `json:"status"`
	PickedUpAt    time.Time               `json:"pickedUpAt"`
	SavedAmount   int64                   `json:"savedAmount"`
	Replayed      bool                    `json:"replayed"`
}

type Service struct {
	db           *sql.DB
	reservations *store.ReservationStore
	stats        *store.StatsStore
	ledger       *ledger.Service
	guard        *ratelimit.Guard
	publisher    events.Publisher
	notifier     events.Notifier
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
}

// NewService wires the confirmation flow. guard and publisher may be nil,
// which disables rate limiting and live notification respectively.
func NewService(db *sql.DB, ledgerSvc *ledger.Service, guard *ratelimit.Guard, publisher events.Publisher, notifier events.Notifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 2 * time.Second
	}
	return &Service{
		db:           db,
		reservations: store.NewReservationStore(db),
		stats:        store.NewStatsStore(db),
		ledger:       ledgerSvc,
		guard:        guard,
		publisher:    publisher,
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

// Confirm marks a reservation picked up on behalf of partnerID. ip is the
// client address used for abuse tracking and may be empty.
func (s *Service) Confirm(ctx context.Context, reservationID, partnerID, ip string) (*Confirmation, error) {
	if err := s.checkRate(ctx, partnerID, reservationID, ip); err != nil {
		return nil, err
	}
	return s.confirm(ctx, reservationID, partnerID)
}

// ConfirmByCode resolves a scanned QR code and confirms its reservation.
func (s *Service) ConfirmByCode(ctx context.Context, code, partnerID, ip string) (*Confirmation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("qr code is required: %w", apperr.ErrInvalidInput)
	}
	if err := s.checkRate(ctx, partnerID, code, ip); err != nil {
		return nil, err
	}

	r, err := s.reservations.GetByQRCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("qr code: %w", apperr.ErrNotFound)
	}
	return s.confirm(ctx, r.ID, partnerID)
}

func (s *Service) checkRate(ctx context.Context, partnerID, subject, ip string) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.CheckConfirm(ctx, partnerID, subject, ip)
}

func (s *Service) confirm(ctx context.Context, reservationID, partnerID string) (*Confirmation, error) {
	var r *model.Reservation
	var replayed bool
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		rs := s.reservations.WithTx(tx)

		var err error
		r, err = rs.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("reservation %s: %w", reservationID, apperr.ErrNotFound)
		}
		if r.PartnerID != partnerID {
			return fmt.Errorf("reservation %s: %w", reservationID, apperr.ErrNotOwner)
		}
		if r.Status == model.ReservationPickedUp {
			replayed = true
			return nil
		}
		if !reservation.CanTransition(r.Status, model.ReservationPickedUp) {
			return fmt.Errorf("cannot confirm %s reservation: %w", r.Status, apperr.ErrInvalidState)
		}

		now := s.now().UTC()
		ok, err := rs.MarkPickedUp(ctx, reservationID, now)
		if err != nil {
			return err
		}
		r, err = rs.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if !ok {
			if r.Status == model.ReservationPickedUp {
				replayed = true
				return nil
			}
			return fmt.Errorf("reservation %s became %s: %w", reservationID, r.Status, apperr.ErrInvalidState)
		}

		return s.stats.WithTx(tx).RecordPickup(ctx, r.CustomerID, r.PartnerID, r.SavedAmount)
	})
	if err != nil {
		return nil, err
	}

	c := &Confirmation{
		ReservationID: r.ID,
		Status:        r.Status,
		SavedAmount:   r.SavedAmount,
		Replayed:      replayed,
	}
	if r.PickedUpAt != nil {
		c.PickedUpAt = *r.PickedUpAt
	}
	if replayed {
		s.logger.DebugContext(ctx, "pickup already confirmed", "reservation_id", r.ID, "partner_id", partnerID)
		return c, nil
	}

	s.logger.InfoContext(ctx, "pickup confirmed", "reservation_id", r.ID, "partner_id", partnerID,
		"customer_id", r.CustomerID)
	s.afterPickup(ctx, r, c)
	return c, nil
}

// afterPickup runs the effects that follow a committed pickup. Their
// failures are logged and left for reconciliation.
func (s *Service) afterPickup(ctx context.Context, r *model.Reservation, c *Confirmation) {
	if _, err := s.ledger.ReleaseToPartner(ctx, r.ID); err != nil {
		s.logger.ErrorContext(ctx, "release escrow to partner", "reservation_id", r.ID, "error", err)
	}

	if s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BroadcastTimeout)
		err := s.publisher.Publish(pubCtx, events.PickupChannel(r.ID), events.NewPickupConfirmed(r.ID, r.SavedAmount, c.PickedUpAt))
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "broadcast pickup", "reservation_id", r.ID, "error", err)
		}
	}

	events.Emit(ctx, s.notifier, s.logger, events.New(events.TypeReservationPickedUp, c))
}
