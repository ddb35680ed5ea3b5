package model

type SweepAction string

const (
	SweepExpired        SweepAction = "expired"
	SweepPenaltyApplied SweepAction = "penalty_applied"
	SweepBanned         SweepAction = "banned"
	SweepSuppressed     SweepAction = "suppressed"
	SweepSkipped        SweepAction = "skipped"
	SweepFailed         SweepAction = "failed"
)

// SweepResult is the per-reservation outcome of one expiration sweep.
type SweepResult struct {
	ReservationID string      `json:"reservationId"`
	Action        SweepAction `json:"action"`
	Message       string      `json:"message"`
}
