package penalty

import (
	"testing"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		count    int
		typ      model.PenaltyType
		points   int64
		duration time.Duration
	}{
		{1, model.PenaltyWarning, 0, 0},
		{2, model.PenaltyWarning, 0, 0},
		{3, model.PenaltyWarning, 0, 0},
		{4, model.PenaltySuspend1H, 100, time.Hour},
		{5, model.PenaltySuspend24H, 500, 24 * time.Hour},
		{6, model.PenaltyPermanent, 1000, 0},
		{42, model.PenaltyPermanent, 1000, 0},
	}
	for _, tt := range tests {
		got := TierFor(tt.count)
		if got.Type != tt.typ || got.PointsRequired != tt.points || got.Duration != tt.duration {
			t.Errorf("TierFor(%d) = %+v, want %s/%d/%s", tt.count, got, tt.typ, tt.points, tt.duration)
		}
	}
}

func TestSuspendedUntil(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	until := TierFor(4).SuspendedUntil(now)
	if until == nil || !until.Equal(now.Add(time.Hour)) {
		t.Errorf("SUSPEND_1H until = %v, want %v", until, now.Add(time.Hour))
	}
	if until := TierFor(6).SuspendedUntil(now); until != nil {
		t.Errorf("PERMANENT until = %v, want nil", until)
	}
}
