// Package ledger moves points between customer and partner accounts.
//
// Every mutation is recorded in ledger_operations under the key
// "<subjectID>:<reasonCode>". Repeating a mutation with the same key returns
// the stored result and changes nothing, so callers may retry freely.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/store"
)

// Result describes an applied (or replayed) ledger operation.
type Result struct {
	model.LedgerOperation
	Replayed bool `json:"replayed"`
}

type Service struct {
	db           *sql.DB
	points       *store.PointsStore
	reservations *store.ReservationStore
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{
		db:           db,
		points:       store.NewPointsStore(db),
		reservations: store.NewReservationStore(db),
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Key builds the idempotency key for an operation.
func Key(subjectID string, reason model.ReasonCode) string {
	return subjectID + ":" + string(reason)
}

// PointsFor converts a price in minor units into points, rounding up.
func PointsFor(totalPrice, pointsPerUnit int64) int64 {
	if totalPrice <= 0 || pointsPerUnit <= 0 {
		return 0
	}
	return (totalPrice*pointsPerUnit + 99) / 100
}

// settlements are mutually exclusive ways to resolve one reservation's hold.
var settlements = []model.ReasonCode{
	model.ReasonPickupReward,
	model.ReasonNoShowCompensation,
	model.ReasonEscrowRelease,
}

func (s *Service) replay(ctx context.Context, ps *store.PointsStore, key string) (*Result, error) {
	op, err := ps.GetOperation(ctx, key)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, nil
	}
	return &Result{LedgerOperation: *op, Replayed: true}, nil
}

func (s *Service) record(ctx context.Context, ps *store.PointsStore, op *model.LedgerOperation) (*Result, error) {
	op.CreatedAt = s.now().UTC()
	if err := ps.InsertOperation(ctx, op); err != nil {
		return nil, err
	}
	return &Result{LedgerOperation: *op}, nil
}

// Hold locks amount points of the customer's balance against a reservation.
func (s *Service) Hold(ctx context.Context, customerID string, amount int64, reservationID string) (*Result, error) {
	var res *Result
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.HoldTx(ctx, tx, customerID, amount, reservationID)
		return err
	})
	return res, err
}

func (s *Service) HoldTx(ctx context.Context, tx *sql.Tx, customerID string, amount int64, reservationID string) (*Result, error) {
	if amount < 0 {
		return nil, fmt.Errorf("hold %d points: %w", amount, apperr.ErrInvalidInput)
	}
	ps := s.points.WithTx(tx)
	key := Key(reservationID, model.ReasonEscrowHold)

	if res, err := s.replay(ctx, ps, key); err != nil || res != nil {
		return res, err
	}

	now := s.now()
	if err := ps.EnsureAccount(ctx, model.OwnerCustomer, customerID, now); err != nil {
		return nil, err
	}
	acct, err := ps.Adjust(ctx, model.OwnerCustomer, customerID, 0, amount, amount, now)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("hold %d points for %s: %w", amount, customerID, apperr.ErrInsufficientBalance)
	}

	return s.record(ctx, ps, &model.LedgerOperation{
		Key:             key,
		ReasonCode:      model.ReasonEscrowHold,
		SubjectID:       reservationID,
		Amount:          amount,
		CustomerID:      customerID,
		CustomerBalance: acct.Balance,
		CustomerEscrow:  acct.EscrowHeld,
	})
}

// ReleaseToPartner transfers a picked-up reservation's escrow to the partner.
func (s *Service) ReleaseToPartner(ctx context.Context, reservationID string) (*Result, error) {
	return s.settleInTx(ctx, reservationID, model.ReasonPickupReward)
}

func (s *Service) ReleaseToPartnerTx(ctx context.Context, tx *sql.Tx, reservationID string) (*Result, error) {
	return s.settle(ctx, tx, reservationID, model.ReasonPickupReward)
}

// ForfeitToPartner pays a no-show reservation's escrow to the partner as compensation.
func (s *Service) ForfeitToPartner(ctx context.Context, reservationID string) (*Result, error) {
	return s.settleInTx(ctx, reservationID, model.ReasonNoShowCompensation)
}

func (s *Service) ForfeitToPartnerTx(ctx context.Context, tx *sql.Tx, reservationID string) (*Result, error) {
	return s.settle(ctx, tx, reservationID, model.ReasonNoShowCompensation)
}

// ReleaseToCustomer unlocks a cancelled reservation's escrow. The balance is unchanged.
func (s *Service) ReleaseToCustomer(ctx context.Context, reservationID string) (*Result, error) {
	return s.settleInTx(ctx, reservationID, model.ReasonEscrowRelease)
}

func (s *Service) ReleaseToCustomerTx(ctx context.Context, tx *sql.Tx, reservationID string) (*Result, error) {
	return s.settle(ctx, tx, reservationID, model.ReasonEscrowRelease)
}

func (s *Service) settleInTx(ctx context.Context, reservationID string, reason model.ReasonCode) (*Result, error) {
	var res *Result
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.settle(ctx, tx, reservationID, reason)
		return err
	})
	return res, err
}

func (s *Service) settle(ctx context.Context, tx *sql.Tx, reservationID string, reason model.ReasonCode) (*Result, error) {
	ps := s.points.WithTx(tx)
	key := Key(reservationID, reason)

	if res, err := s.replay(ctx, ps, key); err != nil || res != nil {
		return res, err
	}

	for _, other := range settlements {
		if other == reason {
			continue
		}
		op, err := ps.GetOperation(ctx, Key(reservationID, other))
		if err != nil {
			return nil, err
		}
		if op != nil {
			return nil, fmt.Errorf("%s for %s: already settled as %s: %w", reason, reservationID, other, apperr.ErrInvalidState)
		}
	}

	r, err := s.reservations.WithTx(tx).GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, apperr.ErrNotFound)
	}

	hold, err := ps.GetOperation(ctx, Key(reservationID, model.ReasonEscrowHold))
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, fmt.Errorf("%s for %s: no escrow hold: %w", reason, reservationID, apperr.ErrInvalidState)
	}

	now := s.now()
	amount := hold.Amount
	op := &model.LedgerOperation{
		Key:        key,
		ReasonCode: reason,
		SubjectID:  reservationID,
		Amount:     amount,
		CustomerID: r.CustomerID,
	}

	var dBalance int64
	if reason != model.ReasonEscrowRelease {
		dBalance = -amount
	}
	cust, err := ps.Adjust(ctx, model.OwnerCustomer, r.CustomerID, dBalance, -amount, 0, now)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		return nil, fmt.Errorf("%s for %s: escrow missing on customer account: %w", reason, reservationID, apperr.ErrInvalidState)
	}
	op.CustomerBalance = cust.Balance
	op.CustomerEscrow = cust.EscrowHeld

	if reason == model.ReasonEscrowRelease {
		return s.record(ctx, ps, op)
	}

	if err := ps.EnsureAccount(ctx, model.OwnerPartner, r.PartnerID, now); err != nil {
		return nil, err
	}
	partner, err := ps.Adjust(ctx, model.OwnerPartner, r.PartnerID, amount, 0, 0, now)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, fmt.Errorf("credit partner %s: account unavailable", r.PartnerID)
	}
	op.PartnerID = r.PartnerID
	op.PartnerBalance = partner.Balance

	if amount > 0 {
		rows := []model.PointsHistory{
			{OwnerKind: model.OwnerCustomer, OwnerID: r.CustomerID, Delta: -amount, BalanceAfter: cust.Balance},
			{OwnerKind: model.OwnerPartner, OwnerID: r.PartnerID, Delta: amount, BalanceAfter: partner.Balance},
		}
		for i := range rows {
			rows[i].ReasonCode = reason
			rows[i].RelatedReservationID = reservationID
			rows[i].CreatedAt = now.UTC()
			if err := ps.InsertHistory(ctx, &rows[i]); err != nil {
				return nil, err
			}
		}
	}

	return s.record(ctx, ps, op)
}

// Debit spends amount unescrowed points from a customer, e.g. to lift a penalty.
func (s *Service) Debit(ctx context.Context, customerID string, amount int64, subjectID string, reason model.ReasonCode) (*Result, error) {
	var res *Result
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		res, err = s.DebitTx(ctx, tx, customerID, amount, subjectID, reason)
		return err
	})
	return res, err
}

func (s *Service) DebitTx(ctx context.Context, tx *sql.Tx, customerID string, amount int64, subjectID string, reason model.ReasonCode) (*Result, error) {
	if amount < 0 {
		return nil, fmt.Errorf("debit %d points: %w", amount, apperr.ErrInvalidInput)
	}
	ps := s.points.WithTx(tx)
	key := Key(subjectID, reason)

	if res, err := s.replay(ctx, ps, key); err != nil || res != nil {
		return res, err
	}

	now := s.now()
	if err := ps.EnsureAccount(ctx, model.OwnerCustomer, customerID, now); err != nil {
		return nil, err
	}
	acct, err := ps.Adjust(ctx, model.OwnerCustomer, customerID, -amount, 0, amount, now)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("debit %d points from %s: %w", amount, customerID, apperr.ErrInsufficientPoints)
	}

	h := &model.PointsHistory{
		OwnerKind:    model.OwnerCustomer,
		OwnerID:      customerID,
		Delta:        -amount,
		ReasonCode:   reason,
		BalanceAfter: acct.Balance,
		CreatedAt:    now.UTC(),
	}
	if reason == model.ReasonPenaltyLift {
		h.RelatedPenaltyID = subjectID
	}
	if err := ps.InsertHistory(ctx, h); err != nil {
		return nil, err
	}

	return s.record(ctx, ps, &model.LedgerOperation{
		Key:             key,
		ReasonCode:      reason,
		SubjectID:       subjectID,
		Amount:          amount,
		CustomerID:      customerID,
		CustomerBalance: acct.Balance,
		CustomerEscrow:  acct.EscrowHeld,
	})
}

// Credit adds points to any account. It backs administrative adjustments.
func (s *Service) Credit(ctx context.Context, kind model.OwnerKind, ownerID string, amount int64, subjectID string, reason model.ReasonCode) (*Result, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit %d points: %w", amount, apperr.ErrInvalidInput)
	}
	var res *Result
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		ps := s.points.WithTx(tx)
		key := Key(subjectID, reason)

		replayed, err := s.replay(ctx, ps, key)
		if err != nil {
			return err
		}
		if replayed != nil {
			res = replayed
			return nil
		}

		now := s.now()
		if err := ps.EnsureAccount(ctx, kind, ownerID, now); err != nil {
			return err
		}
		acct, err := ps.Adjust(ctx, kind, ownerID, amount, 0, 0, now)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("credit %s %s: account unavailable", kind, ownerID)
		}

		err = ps.InsertHistory(ctx, &model.PointsHistory{
			OwnerKind:    kind,
			OwnerID:      ownerID,
			Delta:        amount,
			ReasonCode:   reason,
			BalanceAfter: acct.Balance,
			CreatedAt:    now.UTC(),
		})
		if err != nil {
			return err
		}

		op := &model.LedgerOperation{Key: key, ReasonCode: reason, SubjectID: subjectID, Amount: amount}
		if kind == model.OwnerPartner {
			op.PartnerID, op.PartnerBalance = ownerID, acct.Balance
		} else {
			op.CustomerID, op.CustomerBalance, op.CustomerEscrow = ownerID, acct.Balance, acct.EscrowHeld
		}
		res, err = s.record(ctx, ps, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		s.logger.Info("points credited", "owner_kind", kind, "owner_id", ownerID, "amount", amount, "reason", reason)
	}
	return res, nil
}

// Account returns the owner's account, or an empty one if it does not exist yet.
func (s *Service) Account(ctx context.Context, kind model.OwnerKind, ownerID string) (*model.PointsAccount, error) {
	acct, err := s.points.GetAccount(ctx, kind, ownerID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &model.PointsAccount{OwnerKind: kind, OwnerID: ownerID}, nil
	}
	return acct, nil
}

func (s *Service) History(ctx context.Context, kind model.OwnerKind, ownerID string, limit, offset int) ([]model.PointsHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.points.ListHistory(ctx, kind, ownerID, limit, offset)
}

// Settled reports whether a reservation's escrow has been resolved under reason.
func (s *Service) Settled(ctx context.Context, reservationID string, reason model.ReasonCode) (bool, error) {
	op, err := s.points.GetOperation(ctx, Key(reservationID, reason))
	if err != nil {
		return false, err
	}
	return op != nil, nil
}
