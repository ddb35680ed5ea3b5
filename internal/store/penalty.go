package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

type PenaltyStore struct {
	db DBTX
}

func NewPenaltyStore(db DBTX) *PenaltyStore {
	return &PenaltyStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *PenaltyStore) WithTx(tx DBTX) *PenaltyStore {
	return &PenaltyStore{db: tx}
}

func scanPenalty(scanner interface{ Scan(...any) error }) (*model.Penalty, error) {
	var p model.Penalty
	var ptype string
	var acknowledged, canLift, active int
	var supersededBy sql.NullString
	var suspendedUntil, liftedAt, acknowledgedAt sql.NullTime

	err := scanner.Scan(&p.ID, &p.UserID, &p.ReservationID, &p.PartnerID, &p.OffenseNumber, &ptype,
		&suspendedUntil, &acknowledged, &canLift, &p.PointsRequired, &active, &supersededBy,
		&liftedAt, &acknowledgedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.PenaltyType = model.PenaltyType(ptype)
	p.SuspendedUntil = timePtr(suspendedUntil)
	p.Acknowledged = acknowledged != 0
	p.CanLiftWithPoints = canLift != 0
	p.IsActive = active != 0
	p.SupersededBy = supersededBy.String
	p.LiftedAt = timePtr(liftedAt)
	p.AcknowledgedAt = timePtr(acknowledgedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

const penaltyCols = `id, user_id, reservation_id, partner_id, offense_number, penalty_type, suspended_until,
	acknowledged, can_lift_with_points, points_required, is_active, superseded_by, lifted_at, acknowledged_at, created_at`

func (s *PenaltyStore) Create(ctx context.Context, p *model.Penalty) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO penalties (`+penaltyCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.ReservationID, p.PartnerID, p.OffenseNumber, string(p.PenaltyType),
		nullTime(p.SuspendedUntil), boolInt(p.Acknowledged), boolInt(p.CanLiftWithPoints), p.PointsRequired,
		boolInt(p.IsActive), nullString(p.SupersededBy), nullTime(p.LiftedAt), nullTime(p.AcknowledgedAt),
		p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert penalty: %w", err)
	}
	return nil
}

func (s *PenaltyStore) getOne(ctx context.Context, where string, args ...any) (*model.Penalty, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+penaltyCols+` FROM penalties WHERE `+where, args...)
	p, err := scanPenalty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get penalty: %w", err)
	}
	return p, nil
}

func (s *PenaltyStore) GetByID(ctx context.Context, id string) (*model.Penalty, error) {
	return s.getOne(ctx, `id = ?`, id)
}

func (s *PenaltyStore) GetByReservation(ctx context.Context, reservationID string) (*model.Penalty, error) {
	return s.getOne(ctx, `reservation_id = ?`, reservationID)
}

// FindUnacknowledgedWarning returns an unseen WARNING for the given offense count.
func (s *PenaltyStore) FindUnacknowledgedWarning(ctx context.Context, userID string, offense int) (*model.Penalty, error) {
	return s.getOne(ctx,
		`user_id = ? AND offense_number = ? AND penalty_type = 'WARNING' AND acknowledged = 0
		 ORDER BY created_at DESC LIMIT 1`,
		userID, offense)
}

// FindRecent returns a penalty for the same offense number created or lifted at or after since.
func (s *PenaltyStore) FindRecent(ctx context.Context, userID string, offense int, since time.Time) (*model.Penalty, error) {
	return s.getOne(ctx,
		`user_id = ? AND offense_number = ? AND penalty_type != 'WARNING'
		 AND (created_at >= ? OR (lifted_at IS NOT NULL AND lifted_at >= ?))
		 ORDER BY created_at DESC LIMIT 1`,
		userID, offense, since.UTC(), since.UTC())
}

// ActiveSuspension returns the user's blocking penalty at now, if any.
func (s *PenaltyStore) ActiveSuspension(ctx context.Context, userID string, now time.Time) (*model.Penalty, error) {
	return s.getOne(ctx,
		`user_id = ? AND is_active = 1 AND penalty_type != 'WARNING'
		 AND (suspended_until IS NULL OR suspended_until > ?)
		 ORDER BY created_at DESC LIMIT 1`,
		userID, now.UTC())
}

// ListByUser returns the user's penalties, newest first.
func (s *PenaltyStore) ListByUser(ctx context.Context, userID string) ([]model.Penalty, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+penaltyCols+` FROM penalties WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	defer rows.Close()

	var out []model.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Supersede deactivates the user's active penalties in favour of newID.
func (s *PenaltyStore) Supersede(ctx context.Context, userID, newID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE penalties SET is_active = 0, superseded_by = ? WHERE user_id = ? AND is_active = 1 AND id != ?`,
		newID, userID, newID,
	)
	if err != nil {
		return 0, fmt.Errorf("supersede penalties: %w", err)
	}
	return res.RowsAffected()
}

// Lift deactivates an active penalty. It reports false when the penalty was
// not active, which makes a concurrent second lift lose.
func (s *PenaltyStore) Lift(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE penalties SET is_active = 0, acknowledged = 1, lifted_at = ?,
			acknowledged_at = COALESCE(acknowledged_at, ?)
		 WHERE id = ? AND is_active = 1`,
		at.UTC(), at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("lift penalty: %w", err)
	}
	return affected(res)
}

func (s *PenaltyStore) Acknowledge(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE penalties SET acknowledged = 1, acknowledged_at = COALESCE(acknowledged_at, ?) WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("acknowledge penalty: %w", err)
	}
	return nil
}

// ExpireElapsed deactivates time-bounded suspensions that ended before now.
func (s *PenaltyStore) ExpireElapsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE penalties SET is_active = 0
		 WHERE is_active = 1 AND suspended_until IS NOT NULL AND suspended_until <= ?`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire penalties: %w", err)
	}
	return res.RowsAffected()
}
