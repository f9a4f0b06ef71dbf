package notify

import (
	"context"
	"log/slog"

	"github.com/a-saketh/pr-notifier/internal/card"
)

// Notification is one card plus the delivery it was built for.
type Notification struct {
	DeliveryID string    `json:"delivery_id"`
	Action     string    `json:"action"`
	Repository string    `json:"repository"`
	Number     int       `json:"number"`
	Card       card.Card `json:"card"`
}

// Channel is implemented by each notification sink.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans a notification out to every channel.
type Dispatcher struct {
	channels []Channel
	log      *slog.Logger
}

func NewDispatcher(log *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		log:      log.With(slog.String("component", "notify")),
	}
}

// Notify sends n to all channels in order. Errors are logged, never returned,
// and a failed channel does not stop the others.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	for _, ch := range d.channels {
		log := d.log.With(
			slog.String("channel", ch.Name()),
			slog.String("delivery", n.DeliveryID),
			slog.Int("pr", n.Number),
		)
		if err := ch.Send(ctx, n); err != nil {
			log.Error("notification failed", slog.Any("error", err))
			continue
		}
		log.Info("notification sent", slog.String("theme", n.Card.Theme))
	}
}
