package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

type StatsStore struct {
	db DBTX
}

func NewStatsStore(db DBTX) *StatsStore {
	return &StatsStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *StatsStore) WithTx(tx DBTX) *StatsStore {
	return &StatsStore{db: tx}
}

// IncrementMissed bumps the user's missed-pickup counter and returns the new count.
func (s *StatsStore) IncrementMissed(ctx context.Context, userID string, at time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_stats (user_id, missed_pickups, last_missed_at) VALUES (?, 1, ?)
		 ON CONFLICT (user_id) DO UPDATE SET missed_pickups = missed_pickups + 1, last_missed_at = excluded.last_missed_at
		 RETURNING missed_pickups`,
		userID, at.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment missed pickups: %w", err)
	}
	return count, nil
}

func (s *StatsStore) ResetMissed(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_stats SET missed_pickups = 0 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("reset missed pickups: %w", err)
	}
	return nil
}

// RecordPickup credits a completed pickup to both the customer and the partner.
func (s *StatsStore) RecordPickup(ctx context.Context, customerID, partnerID string, saved int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, completed_pickups, total_saved) VALUES (?, 1, ?)
		 ON CONFLICT (user_id) DO UPDATE SET completed_pickups = completed_pickups + 1,
			total_saved = total_saved + excluded.total_saved`,
		customerID, saved,
	)
	if err != nil {
		return fmt.Errorf("record customer pickup: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO partner_stats (partner_id, completed_pickups) VALUES (?, 1)
		 ON CONFLICT (partner_id) DO UPDATE SET completed_pickups = completed_pickups + 1`,
		partnerID,
	)
	if err != nil {
		return fmt.Errorf("record partner pickup: %w", err)
	}
	return nil
}

func (s *StatsStore) IncrementPartnerNoShows(ctx context.Context, partnerID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO partner_stats (partner_id, no_shows) VALUES (?, 1)
		 ON CONFLICT (partner_id) DO UPDATE SET no_shows = no_shows + 1`,
		partnerID,
	)
	if err != nil {
		return fmt.Errorf("increment partner no-shows: %w", err)
	}
	return nil
}

// GetUserStats returns zeroed stats for users with no recorded activity.
func (s *StatsStore) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	st := model.UserStats{UserID: userID}
	var lastMissed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT missed_pickups, completed_pickups, total_saved, last_missed_at FROM user_stats WHERE user_id = ?`,
		userID,
	).Scan(&st.MissedPickups, &st.CompletedPickups, &st.TotalSaved, &lastMissed)
	if err == sql.ErrNoRows {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	st.LastMissedAt = timePtr(lastMissed)
	return &st, nil
}

func (s *StatsStore) GetPartnerStats(ctx context.Context, partnerID string) (*model.PartnerStats, error) {
	st := model.PartnerStats{PartnerID: partnerID}
	err := s.db.QueryRowContext(ctx,
		`SELECT completed_pickups, no_shows FROM partner_stats WHERE partner_id = ?`, partnerID,
	).Scan(&st.CompletedPickups, &st.NoShows)
	if err == sql.ErrNoRows {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get partner stats: %w", err)
	}
	return &st, nil
}
