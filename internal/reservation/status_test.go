package reservation

import (
	"testing"

	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.ReservationStatus
		want     bool
	}{
		{model.ReservationActive, model.ReservationPickedUp, true},
		{model.ReservationActive, model.ReservationCancelled, true},
		{model.ReservationActive, model.ReservationExpired, true},
		{model.ReservationActive, model.ReservationActive, false},
		{model.ReservationPickedUp, model.ReservationExpired, false},
		{model.ReservationExpired, model.ReservationPickedUp, false},
		{model.ReservationCancelled, model.ReservationActive, false},
		{"BOGUS", model.ReservationPickedUp, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(model.ReservationActive) {
		t.Error("ACTIVE should not be terminal")
	}
	for _, s := range []model.ReservationStatus{model.ReservationPickedUp, model.ReservationCancelled, model.ReservationExpired} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	if IsTerminal("BOGUS") {
		t.Error("unknown status should not be terminal")
	}
}
