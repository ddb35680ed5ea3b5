package model

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationPickedUp  ReservationStatus = "PICKED_UP"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

type Reservation struct {
	ID             string            `json:"id"`
	OfferID        string            `json:"offerId"`
	CustomerID     string            `json:"customerId"`
	PartnerID      string            `json:"partnerId"`
	Quantity       int               `json:"quantity"`
	TotalPrice     int64             `json:"totalPrice"`
	PointsHeld     int64             `json:"pointsHeld"`
	SavedAmount    int64             `json:"savedAmount"`
	Status         ReservationStatus `json:"status"`
	QRCode         string            `json:"qrCode,omitempty"`
	IdempotencyKey string            `json:"-"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	PickedUpAt     *time.Time        `json:"pickedUpAt,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	ExpiredAt      *time.Time        `json:"expiredAt,omitempty"`
}
