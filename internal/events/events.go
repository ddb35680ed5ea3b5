// Package events carries what happened in the reservation core to the
// outside world: pickup notifications for customers watching a reservation,
// and domain events for downstream notifier services.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationCancelled = "reservation.cancelled"
	TypeReservationPickedUp  = "reservation.picked_up"
	TypeReservationExpired   = "reservation.expired"
	TypePenaltyIssued        = "penalty.issued"
	TypePenaltyLifted        = "penalty.lifted"
)

// Event is the envelope published for downstream consumers.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

func New(typ string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Notifier delivers domain events. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the log only.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.logger.DebugContext(ctx, "domain event", "id", ev.ID, "type", ev.Type)
	return nil
}

type multi []Notifier

// Multi fans every event out to all notifiers and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

func (m multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notifyTimeout bounds a single Emit.
var notifyTimeout = 2 * time.Second

// Emit sends ev through n and logs, rather than returns, a failure. It is
// used after a state change has already committed, so it ignores the caller's
// cancellation and waits at most notifyTimeout.
func Emit(ctx context.Context, n Notifier, logger *slog.Logger, ev Event) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.Notify(ctx, ev); err != nil {
		logger.WarnContext(ctx, "notify failed", "type", ev.Type, "id", ev.ID, "error", err)
	}
}
