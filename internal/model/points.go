package model

import "time"

type OwnerKind string

const (
	OwnerCustomer OwnerKind = "customer"
	OwnerPartner  OwnerKind = "partner"
)

// ReasonCode labels every points movement.
type ReasonCode string

const (
	ReasonEscrowHold         ReasonCode = "ESCROW_HOLD"
	ReasonEscrowRelease      ReasonCode = "ESCROW_RELEASE"
	ReasonPickupReward       ReasonCode = "PICKUP_REWARD"
	ReasonNoShowCompensation ReasonCode = "NO_SHOW_COMPENSATION"
	ReasonPenaltyLift        ReasonCode = "PENALTY_LIFT"
	ReasonAdminAdjustment    ReasonCode = "ADMIN_ADJUSTMENT"
)

type PointsAccount struct {
	OwnerKind  OwnerKind `json:"ownerKind"`
	OwnerID    string    `json:"ownerId"`
	Balance    int64     `json:"balance"`
	EscrowHeld int64     `json:"escrowHeld"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Available is the part of the balance not locked in escrow.
func (a *PointsAccount) Available() int64 {
	return a.Balance - a.EscrowHeld
}

type PointsHistory struct {
	ID                   int64      `json:"id"`
	OwnerKind            OwnerKind  `json:"ownerKind"`
	OwnerID              string     `json:"ownerId"`
	Delta                int64      `json:"delta"`
	ReasonCode           ReasonCode `json:"reasonCode"`
	BalanceAfter         int64      `json:"balanceAfter"`
	RelatedReservationID string     `json:"relatedReservationId,omitempty"`
	RelatedPenaltyID     string     `json:"relatedPenaltyId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// LedgerOperation records one applied ledger mutation under its idempotency key.
type LedgerOperation struct {
	Key             string     `json:"key"`
	ReasonCode      ReasonCode `json:"reasonCode"`
	SubjectID       string     `json:"subjectId"`
	Amount          int64      `json:"amount"`
	CustomerID      string     `json:"customerId,omitempty"`
	PartnerID       string     `json:"partnerId,omitempty"`
	CustomerBalance int64      `json:"customerBalance"`
	CustomerEscrow  int64      `json:"customerEscrow"`
	PartnerBalance  int64      `json:"partnerBalance"`
	CreatedAt       time.Time  `json:"createdAt"`
}
