// Package sweep expires reservations whose pickup window closed without a
// pickup, forfeits their escrow to the partner, and records the no-show
// with the penalty engine.
package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/events"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/penalty"
	"github.com/dave999999/SmartPick1-sub001/internal/store"
)

const defaultBatchSize = 200

type Sweeper struct {
	db           *sql.DB
	reservations *store.ReservationStore
	stats        *store.StatsStore
	ledger       *ledger.Service
	penalties    *penalty.Engine
	notifier     events.Notifier
	batchSize    int
	logger       *slog.Logger
	now          func() time.Time
}

func NewSweeper(db *sql.DB, ledgerSvc *ledger.Service, penalties *penalty.Engine, notifier events.Notifier, batchSize int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{
		db:           db,
		reservations: store.NewReservationStore(db),
		stats:        store.NewStatsStore(db),
		ledger:       ledgerSvc,
		penalties:    penalties,
		notifier:     notifier,
		batchSize:    batchSize,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run expires up to batchSize overdue reservations and returns a result per
// reservation it touched. A failing reservation is reported and does not
// count against the batch: the sweep pages past it so rows that keep failing
// cannot starve the ones behind them. Only a failure to list the first page
// is returned as an error.
func (s *Sweeper) Run(ctx context.Context) ([]model.SweepResult, error) {
	now := s.now().UTC()
	results := []model.SweepResult{}
	var last *model.Reservation
	budget := s.batchSize

	for budget > 0 {
		limit := budget
		var page []model.Reservation
		var err error
		if last == nil {
			page, err = s.reservations.ListOverdue(ctx, now, limit)
		} else {
			page, err = s.reservations.ListOverdueAfter(ctx, now, last.ExpiresAt, last.ID, limit)
		}
		if err != nil {
			if last == nil {
				return nil, fmt.Errorf("list overdue reservations: %w", err)
			}
			s.logger.ErrorContext(ctx, "list overdue reservations", "after", last.ID, "error", err)
			break
		}

		for i := range page {
			r := &page[i]
			res, err := s.expire(ctx, r)
			if err != nil {
				s.logger.ErrorContext(ctx, "expire reservation", "reservation_id", r.ID, "error", err)
				res = model.SweepResult{ReservationID: r.ID, Action: model.SweepFailed, Message: err.Error()}
			} else {
				budget--
			}
			results = append(results, res)
		}
		if len(page) < limit {
			break
		}
		last = &page[len(page)-1]
	}

	if n, err := s.penalties.ExpireElapsed(ctx); err != nil {
		s.logger.ErrorContext(ctx, "deactivate elapsed penalties", "error", err)
	} else if n > 0 {
		s.logger.InfoContext(ctx, "deactivated elapsed penalties", "count", n)
	}

	s.reconcile(ctx)

	if len(results) > 0 {
		s.logger.InfoContext(ctx, "expiration sweep finished", "processed", len(results))
	}
	return results, nil
}

// expire runs the EXPIRED transition, the forfeit and the penalty in one
// transaction for a single reservation.
func (s *Sweeper) expire(ctx context.Context, r *model.Reservation) (model.SweepResult, error) {
	res := model.SweepResult{ReservationID: r.ID}
	var outcome *penalty.Outcome

	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now().UTC()
		ok, err := s.reservations.WithTx(tx).MarkExpired(ctx, r.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			res.Action = model.SweepSkipped
			res.Message = "reservation is no longer active"
			return nil
		}
		r.Status = model.ReservationExpired
		r.ExpiredAt = &now

		if _, err := s.ledger.ForfeitToPartnerTx(ctx, tx, r.ID); err != nil {
			return fmt.Errorf("forfeit escrow: %w", err)
		}
		if err := s.stats.WithTx(tx).IncrementPartnerNoShows(ctx, r.PartnerID); err != nil {
			return err
		}
		outcome, err = s.penalties.RecordNoShowTx(ctx, tx, r.CustomerID, r.ID, r.PartnerID)
		if err != nil {
			return fmt.Errorf("record no-show: %w", err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Action == model.SweepSkipped {
		return res, nil
	}

	res.Action, res.Message = describe(outcome)
	s.logger.InfoContext(ctx, "reservation expired", "reservation_id", r.ID, "customer_id", r.CustomerID,
		"missed_pickups", outcome.Count, "penalty_action", outcome.Action)

	events.Emit(ctx, s.notifier, s.logger, events.New(events.TypeReservationExpired, r))
	if outcome.Penalty != nil && (outcome.Action == penalty.ActionWarning || outcome.Action == penalty.ActionSuspended || outcome.Action == penalty.ActionBanned) {
		events.Emit(ctx, s.notifier, s.logger, events.New(events.TypePenaltyIssued, outcome.Penalty))
	}
	return res, nil
}

func describe(o *penalty.Outcome) (model.SweepAction, string) {
	switch o.Action {
	case penalty.ActionSuspended:
		return model.SweepPenaltyApplied, fmt.Sprintf("missed pickup %d: %s until %s",
			o.Count, o.Penalty.PenaltyType, o.Penalty.SuspendedUntil.Format(time.RFC3339))
	case penalty.ActionBanned:
		return model.SweepBanned, fmt.Sprintf("missed pickup %d: account suspended permanently", o.Count)
	case penalty.ActionWarning:
		return model.SweepExpired, fmt.Sprintf("missed pickup %d: warning issued", o.Count)
	case penalty.ActionSuppressed:
		if o.Penalty != nil {
			return model.SweepSuppressed, fmt.Sprintf("missed pickup %d: earlier warning not yet acknowledged", o.Count)
		}
		return model.SweepSuppressed, fmt.Sprintf("missed pickup %d: penalty suppressed by cooldown", o.Count)
	default:
		return model.SweepExpired, fmt.Sprintf("missed pickup %d", o.Count)
	}
}

// reconcile pays out pickups whose escrow release failed after commit.
func (s *Sweeper) reconcile(ctx context.Context) {
	pending, err := s.reservations.ListUnsettledPickups(ctx, s.batchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "list unsettled pickups", "error", err)
		return
	}
	for _, r := range pending {
		if _, err := s.ledger.ReleaseToPartner(ctx, r.ID); err != nil {
			s.logger.ErrorContext(ctx, "reconcile pickup reward", "reservation_id", r.ID, "error", err)
			continue
		}
		s.logger.InfoContext(ctx, "reconciled pickup reward", "reservation_id", r.ID)
	}
}
