package model

import "time"

type PenaltyType string

const (
	PenaltyWarning    PenaltyType = "WARNING"
	PenaltySuspend1H  PenaltyType = "SUSPEND_1H"
	PenaltySuspend24H PenaltyType = "SUSPEND_24H"
	PenaltyPermanent  PenaltyType = "PERMANENT"
)

type Penalty struct {
	ID                string      `json:"id"`
	UserID            string      `json:"userId"`
	ReservationID     string      `json:"reservationId"`
	PartnerID         string      `json:"partnerId"`
	OffenseNumber     int         `json:"offenseNumber"`
	PenaltyType       PenaltyType `json:"penaltyType"`
	SuspendedUntil    *time.Time  `json:"suspendedUntil"`
	Acknowledged      bool        `json:"acknowledged"`
	CanLiftWithPoints bool        `json:"canLiftWithPoints"`
	PointsRequired    int64       `json:"pointsRequired"`
	IsActive          bool        `json:"isActive"`
	SupersededBy      string      `json:"supersededBy,omitempty"`
	LiftedAt          *time.Time  `json:"liftedAt,omitempty"`
	AcknowledgedAt    *time.Time  `json:"acknowledgedAt,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// Blocking reports whether the penalty prevents new reservations at now.
// A nil SuspendedUntil on an active penalty means an unbounded suspension.
func (p *Penalty) Blocking(now time.Time) bool {
	if !p.IsActive || p.PenaltyType == PenaltyWarning {
		return false
	}
	return p.SuspendedUntil == nil || p.SuspendedUntil.After(now)
}
