// Package penalty escalates consequences for customers who miss pickups and
// lets them buy their way out of a suspension with points.
package penalty

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
	"github.com/dave999999/SmartPick1-sub001/internal/events"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/store"
)

type Action string

const (
	ActionWarning    Action = "warning"
	ActionSuspended  Action = "suspended"
	ActionBanned     Action = "banned"
	ActionSuppressed Action = "suppressed"
	ActionReplayed   Action = "replayed"
)

// Outcome describes what RecordNoShow did.
type Outcome struct {
	Count   int            `json:"count"`
	Action  Action         `json:"action"`
	Penalty *model.Penalty `json:"penalty,omitempty"`
}

type LiftResult struct {
	Penalty    *model.Penalty `json:"penalty"`
	NewBalance int64          `json:"newBalance"`
}

type Engine struct {
	db        *sql.DB
	penalties *store.PenaltyStore
	stats     *store.StatsStore
	ledger    *ledger.Service
	notifier  events.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(db *sql.DB, ledgerSvc *ledger.Service, notifier events.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		db:        db,
		penalties: store.NewPenaltyStore(db),
		stats:     store.NewStatsStore(db),
		ledger:    ledgerSvc,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// RecordNoShowTx counts a missed pickup for userID and issues whatever the
// new count calls for. It runs inside the caller's transaction so the
// expiry, the forfeit and the penalty commit together.
func (e *Engine) RecordNoShowTx(ctx context.Context, tx *sql.Tx, userID, reservationID, partnerID string) (*Outcome, error) {
	ps := e.penalties.WithTx(tx)

	existing, err := ps.GetByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Outcome{Count: existing.OffenseNumber, Action: ActionReplayed, Penalty: existing}, nil
	}

	now := e.now().UTC()
	count, err := e.stats.WithTx(tx).IncrementMissed(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	tier := TierFor(count)

	p := &model.Penalty{
		ID:            uuid.NewString(),
		UserID:        userID,
		ReservationID: reservationID,
		PartnerID:     partnerID,
		OffenseNumber: count,
		PenaltyType:   tier.Type,
		CreatedAt:     now,
	}

	if tier.Type == model.PenaltyWarning {
		seen, err := ps.FindUnacknowledgedWarning(ctx, userID, count)
		if err != nil {
			return nil, err
		}
		if seen != nil {
			return &Outcome{Count: count, Action: ActionSuppressed, Penalty: seen}, nil
		}
		if err := ps.Create(ctx, p); err != nil {
			return nil, err
		}
		return &Outcome{Count: count, Action: ActionWarning, Penalty: p}, nil
	}

	recent, err := ps.FindRecent(ctx, userID, count, now.Add(-Cooldown))
	if err != nil {
		return nil, err
	}
	if recent != nil {
		e.logger.InfoContext(ctx, "penalty suppressed by cooldown",
			"user_id", userID, "offense", count, "recent_penalty_id", recent.ID)
		return &Outcome{Count: count, Action: ActionSuppressed}, nil
	}

	p.SuspendedUntil = tier.SuspendedUntil(now)
	p.CanLiftWithPoints = true
	p.PointsRequired = tier.PointsRequired
	p.IsActive = true
	if err := ps.Create(ctx, p); err != nil {
		return nil, err
	}
	if _, err := ps.Supersede(ctx, userID, p.ID); err != nil {
		return nil, err
	}

	action := ActionSuspended
	if tier.Type == model.PenaltyPermanent {
		action = ActionBanned
	}
	return &Outcome{Count: count, Action: action, Penalty: p}, nil
}

// RecordNoShow is RecordNoShowTx in its own transaction.
func (e *Engine) RecordNoShow(ctx context.Context, userID, reservationID, partnerID string) (*Outcome, error) {
	var out *Outcome
	err := store.InTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		out, err = e.RecordNoShowTx(ctx, tx, userID, reservationID, partnerID)
		return err
	})
	return out, err
}

// LiftWithPoints ends an active penalty by debiting its points price from
// the owner's balance. The debit and the lift commit together.
func (e *Engine) LiftWithPoints(ctx context.Context, penaltyID, userID string) (*LiftResult, error) {
	var res LiftResult
	err := store.InTx(ctx, e.db, func(tx *sql.Tx) error {
		ps := e.penalties.WithTx(tx)

		p, err := ps.GetByID(ctx, penaltyID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("penalty %s: %w", penaltyID, apperr.ErrNotFound)
		}
		if p.UserID != userID {
			return fmt.Errorf("penalty %s: %w", penaltyID, apperr.ErrNotOwner)
		}
		if !p.Blocking(e.now()) {
			return fmt.Errorf("penalty %s: %w", penaltyID, apperr.ErrPenaltyNotActive)
		}
		if !p.CanLiftWithPoints {
			return fmt.Errorf("penalty %s cannot be lifted with points: %w", penaltyID, apperr.ErrInvalidState)
		}

		lifted, err := ps.Lift(ctx, penaltyID, e.now())
		if err != nil {
			return err
		}
		if !lifted {
			return fmt.Errorf("penalty %s: %w", penaltyID, apperr.ErrPenaltyNotActive)
		}

		debit, err := e.ledger.DebitTx(ctx, tx, userID, p.PointsRequired, penaltyID, model.ReasonPenaltyLift)
		if err != nil {
			return err
		}
		res.NewBalance = debit.CustomerBalance

		res.Penalty, err = ps.GetByID(ctx, penaltyID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "penalty lifted", "penalty_id", penaltyID, "user_id", userID,
		"points", res.Penalty.PointsRequired, "new_balance", res.NewBalance)
	events.Emit(ctx, e.notifier, e.logger, events.New(events.TypePenaltyLifted, res.Penalty))
	return &res, nil
}

// Acknowledge marks a penalty as seen by its owner.
func (e *Engine) Acknowledge(ctx context.Context, penaltyID, userID string) (*model.Penalty, error) {
	p, err := e.penalties.GetByID(ctx, penaltyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("penalty %s: %w", penaltyID, apperr.ErrNotFound)
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("penalty %s: %w", penaltyID, apperr.ErrNotOwner)
	}
	if err := e.penalties.Acknowledge(ctx, penaltyID, e.now()); err != nil {
		return nil, err
	}
	return e.penalties.GetByID(ctx, penaltyID)
}

// ActiveSuspension returns the penalty currently blocking userID, if any.
func (e *Engine) ActiveSuspension(ctx context.Context, userID string) (*model.Penalty, error) {
	return e.penalties.ActiveSuspension(ctx, userID, e.now())
}

// ActiveSuspensionTx is ActiveSuspension read inside tx.
func (e *Engine) ActiveSuspensionTx(ctx context.Context, tx *sql.Tx, userID string) (*model.Penalty, error) {
	return e.penalties.WithTx(tx).ActiveSuspension(ctx, userID, e.now())
}

type Summary struct {
	Stats     *model.UserStats `json:"stats"`
	Penalties []model.Penalty  `json:"penalties"`
	Active    *model.Penalty   `json:"active,omitempty"`
}

// Summary collects a user's penalties and missed-pickup count.
func (e *Engine) Summary(ctx context.Context, userID string) (*Summary, error) {
	st, err := e.stats.GetUserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, err := e.penalties.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Penalty{}
	}
	active, err := e.ActiveSuspension(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Summary{Stats: st, Penalties: list, Active: active}, nil
}

// ResetMissedPickups zeroes a user's offense counter. Existing penalties are untouched.
func (e *Engine) ResetMissedPickups(ctx context.Context, userID string) error {
	if err := e.stats.ResetMissed(ctx, userID); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "missed pickups reset", "user_id", userID)
	return nil
}

// ExpireElapsed deactivates suspensions whose end time has passed.
func (e *Engine) ExpireElapsed(ctx context.Context) (int64, error) {
	return e.penalties.ExpireElapsed(ctx, e.now())
}
