package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

type PointsStore struct {
	db DBTX
}

func NewPointsStore(db DBTX) *PointsStore {
	return &PointsStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *PointsStore) WithTx(tx DBTX) *PointsStore {
	return &PointsStore{db: tx}
}

// --- Account methods ---

func scanAccount(scanner interface{ Scan(...any) error }) (*model.PointsAccount, error) {
	var a model.PointsAccount
	var kind string

	if err := scanner.Scan(&kind, &a.OwnerID, &a.Balance, &a.EscrowHeld, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.OwnerKind = model.OwnerKind(kind)
	return &a, nil
}

const accountCols = `owner_kind, owner_id, balance, escrow_held, updated_at`

func (s *PointsStore) GetAccount(ctx context.Context, kind model.OwnerKind, ownerID string) (*model.PointsAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM points_accounts WHERE owner_kind = ? AND owner_id = ?`,
		string(kind), ownerID,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get points account: %w", err)
	}
	return a, nil
}

// EnsureAccount creates an empty account if none exists.
func (s *PointsStore) EnsureAccount(ctx context.Context, kind model.OwnerKind, ownerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO points_accounts (owner_kind, owner_id, balance, escrow_held, updated_at)
		 VALUES (?, ?, 0, 0, ?) ON CONFLICT (owner_kind, owner_id) DO NOTHING`,
		string(kind), ownerID, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensure points account: %w", err)
	}
	return nil
}

// Adjust applies balance and escrow deltas in a single conditional write.
// The write is skipped, and nil returned, when it would leave the account
// negative, over-escrowed, or with less than minAvailable unescrowed points
// before the change.
func (s *PointsStore) Adjust(ctx context.Context, kind model.OwnerKind, ownerID string, dBalance, dEscrow, minAvailable int64, now time.Time) (*model.PointsAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE points_accounts
		 SET balance = balance + ?, escrow_held = escrow_held + ?, updated_at = ?
		 WHERE owner_kind = ? AND owner_id = ?
		   AND balance - escrow_held >= ?
		   AND balance + ? >= 0
		   AND escrow_held + ? >= 0
		   AND escrow_held + ? <= balance + ?
		 RETURNING `+accountCols,
		dBalance, dEscrow, now.UTC(), string(kind), ownerID,
		minAvailable, dBalance, dEscrow, dEscrow, dBalance,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adjust points account: %w", err)
	}
	return a, nil
}

// --- History methods ---

func scanHistory(scanner interface{ Scan(...any) error }) (*model.PointsHistory, error) {
	var h model.PointsHistory
	var kind, reason string
	var resID, penID sql.NullString

	err := scanner.Scan(&h.ID, &kind, &h.OwnerID, &h.Delta, &reason, &h.BalanceAfter, &resID, &penID, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	h.OwnerKind = model.OwnerKind(kind)
	h.ReasonCode = model.ReasonCode(reason)
	h.RelatedReservationID = resID.String
	h.RelatedPenaltyID = penID.String
	return &h, nil
}

const historyCols = `id, owner_kind, owner_id, delta, reason_code, balance_after, related_reservation_id, related_penalty_id, created_at`

func (s *PointsStore) InsertHistory(ctx context.Context, h *model.PointsHistory) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO points_history (owner_kind, owner_id, delta, reason_code, balance_after,
			related_reservation_id, related_penalty_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(h.OwnerKind), h.OwnerID, h.Delta, string(h.ReasonCode), h.BalanceAfter,
		nullString(h.RelatedReservationID), nullString(h.RelatedPenaltyID), h.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert points history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// ListHistory returns an account's history, newest first.
func (s *PointsStore) ListHistory(ctx context.Context, kind model.OwnerKind, ownerID string, limit, offset int) ([]model.PointsHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyCols+` FROM points_history WHERE owner_kind = ? AND owner_id = ?
		 ORDER BY id DESC LIMIT ? OFFSET ?`,
		string(kind), ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list points history: %w", err)
	}
	defer rows.Close()

	var out []model.PointsHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan points history: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// CountHistory counts history rows tied to a reservation under one reason code.
func (s *PointsStore) CountHistory(ctx context.Context, reservationID string, reason model.ReasonCode) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points_history WHERE related_reservation_id = ? AND reason_code = ?`,
		reservationID, string(reason),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count points history: %w", err)
	}
	return n, nil
}

// --- Operation methods ---

func scanOperation(scanner interface{ Scan(...any) error }) (*model.LedgerOperation, error) {
	var op model.LedgerOperation
	var reason string
	var customerID, partnerID sql.NullString

	err := scanner.Scan(&op.Key, &reason, &op.SubjectID, &op.Amount, &customerID, &partnerID,
		&op.CustomerBalance, &op.CustomerEscrow, &op.PartnerBalance, &op.CreatedAt)
	if err != nil {
		return nil, err
	}
	op.ReasonCode = model.ReasonCode(reason)
	op.CustomerID = customerID.String
	op.PartnerID = partnerID.String
	return &op, nil
}

const operationCols = `idempotency_key, reason_code, subject_id, amount, customer_id, partner_id,
	customer_balance, customer_escrow, partner_balance, created_at`

func (s *PointsStore) GetOperation(ctx context.Context, key string) (*model.LedgerOperation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+operationCols+` FROM ledger_operations WHERE idempotency_key = ?`, key)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger operation: %w", err)
	}
	return op, nil
}

func (s *PointsStore) InsertOperation(ctx context.Context, op *model.LedgerOperation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_operations (`+operationCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Key, string(op.ReasonCode), op.SubjectID, op.Amount, nullString(op.CustomerID), nullString(op.PartnerID),
		op.CustomerBalance, op.CustomerEscrow, op.PartnerBalance, op.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert ledger operation: %w", err)
	}
	return nil
}
