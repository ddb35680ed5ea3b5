package reservation

import "github.com/dave999999/SmartPick1-sub001/internal/model"

var validNext = map[model.ReservationStatus]map[model.ReservationStatus]bool{
	model.ReservationActive: {
		model.ReservationPickedUp:  true,
		model.ReservationCancelled: true,
		model.ReservationExpired:   true,
	},
	model.ReservationPickedUp:  {},
	model.ReservationCancelled: {},
	model.ReservationExpired:   {},
}

func CanTransition(from, to model.ReservationStatus) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s model.ReservationStatus) bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}
