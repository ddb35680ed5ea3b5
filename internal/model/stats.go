package model

import "time"

type UserStats struct {
	UserID           string     `json:"userId"`
	MissedPickups    int        `json:"missedPickups"`
	CompletedPickups int        `json:"completedPickups"`
	TotalSaved       int64      `json:"totalSaved"`
	LastMissedAt     *time.Time `json:"lastMissedAt,omitempty"`
}

type PartnerStats struct {
	PartnerID        string `json:"partnerId"`
	CompletedPickups int    `json:"completedPickups"`
	NoShows          int    `json:"noShows"`
}
