package sources

import (
	"context"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/iksnae/chief-of-staff/internal/tools"
	"go.uber.org/zap"
)

// Notifier delivers notifications as log lines and notification events, which
// the websocket stream and the interactive CLI display.
type Notifier struct {
	events events.Publisher
	now    func() time.Time
}

var _ tools.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier publishing to pub.
func NewNotifier(pub events.Publisher, now func() time.Time) *Notifier {
	if pub == nil {
		pub = events.Discard
	}
	if now == nil {
		now = time.Now
	}
	return &Notifier{events: pub, now: now}
}

// Notify shows title and body to the user.
func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	internal.Logger().Info("notification", zap.String("title", title), zap.String("body", body))
	n.events.Publish(events.Event{
		Type: events.Notification,
		Time: n.now(),
		Data: map[string]any{"title": title, "body": body},
	})
	return nil
}
