package model

import "time"

type OfferStatus string

const (
	OfferActive    OfferStatus = "ACTIVE"
	OfferPaused    OfferStatus = "PAUSED"
	OfferScheduled OfferStatus = "SCHEDULED"
	OfferExpired   OfferStatus = "EXPIRED"
	OfferSoldOut   OfferStatus = "SOLD_OUT"
)

// Offer is a partner's listing of discounted surplus food. Prices are in
// minor currency units.
type Offer struct {
	ID                string      `json:"id"`
	PartnerID         string      `json:"partnerId"`
	Title             string      `json:"title"`
	Status            OfferStatus `json:"status"`
	QuantityTotal     int         `json:"quantityTotal"`
	QuantityAvailable int         `json:"quantityAvailable"`
	SmartPrice        int64       `json:"smartPrice"`
	OriginalPrice     int64       `json:"originalPrice"`
	PickupStart       time.Time   `json:"pickupStart"`
	PickupEnd         time.Time   `json:"pickupEnd"`
	ExpiresAt         time.Time   `json:"expiresAt"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// DisplayStatus derives the status shown to customers at the given instant.
func (o *Offer) DisplayStatus(now time.Time) OfferStatus {
	if now.After(o.ExpiresAt) {
		return OfferExpired
	}
	if o.QuantityAvailable == 0 {
		return OfferSoldOut
	}
	return o.Status
}

// Reservable reports whether the offer can accept a new reservation at now.
func (o *Offer) Reservable(now time.Time) bool {
	return o.Status == OfferActive && now.Before(o.PickupEnd) && now.Before(o.ExpiresAt)
}
