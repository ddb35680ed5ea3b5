package penalty

import (
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

// Cooldown suppresses a second penalty for the same offense number.
const Cooldown = time.Hour

// WarningThreshold is the last missed-pickup count that only warns.
const WarningThreshold = 3

// Tier is the consequence attached to an offense count.
type Tier struct {
	Type           model.PenaltyType
	PointsRequired int64
	// Duration of the suspension; zero for warnings and for PERMANENT,
	// which has no end date.
	Duration time.Duration
}

// TierFor maps a missed-pickup count to its tier.
func TierFor(count int) Tier {
	switch {
	case count <= WarningThreshold:
		return Tier{Type: model.PenaltyWarning}
	case count == 4:
		return Tier{Type: model.PenaltySuspend1H, PointsRequired: 100, Duration: time.Hour}
	case count == 5:
		return Tier{Type: model.PenaltySuspend24H, PointsRequired: 500, Duration: 24 * time.Hour}
	default:
		return Tier{Type: model.PenaltyPermanent, PointsRequired: 1000}
	}
}

// SuspendedUntil returns when a penalty of this tier issued at now ends, or
// nil when it does not end on its own.
func (t Tier) SuspendedUntil(now time.Time) *time.Time {
	if t.Duration == 0 {
		return nil
	}
	until := now.Add(t.Duration).UTC()
	return &until
}
