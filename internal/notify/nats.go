// Package notify broadcasts event participation changes between service
// instances over NATS so that every open session sees a fresh event list.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectEventsChanged carries a Change for every join or leave.
const SubjectEventsChanged = "meydan.events.changed"

// Change actions.
const (
	ActionJoined = "joined"
	ActionLeft   = "left"
)

// Change describes a mutation of an event's participation.
type Change struct {
	EventID string    `json:"event_id"`
	UserID  string    `json:"user_id"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
	Origin  string    `json:"origin"`
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// Subscriber is satisfied by *nats.Conn.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Notifier publishes changes. A Notifier without a publisher is a no-op.
type Notifier struct {
	pub    Publisher
	origin string
	log    *slog.Logger
}

// NewNotifier creates a Notifier. origin identifies this instance so that it can
// skip its own messages when listening.
func NewNotifier(pub Publisher, origin string, log *slog.Logger) *Notifier {
	return &Notifier{pub: pub, origin: origin, log: log}
}

// Origin returns the instance identifier stamped on published changes.
func (n *Notifier) Origin() string {
	return n.origin
}

// Publish sends change on SubjectEventsChanged.
func (n *Notifier) Publish(ctx context.Context, change Change) error {
	if n.pub == nil {
		return nil
	}

	change.Origin = n.origin
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}

	if err = n.pub.Publish(SubjectEventsChanged, data); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	n.log.DebugContext(ctx, "Published event change", "event", change.EventID, "action", change.Action)

	return nil
}

// Listen subscribes to SubjectEventsChanged and calls handle for every change
// not published by origin. Malformed messages are logged and dropped.
func Listen(sub Subscriber, origin string, log *slog.Logger, handle func(Change)) (*nats.Subscription, error) {
	subscription, err := sub.Subscribe(SubjectEventsChanged, Handler(origin, log, handle))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", SubjectEventsChanged, err)
	}

	return subscription, nil
}

// Handler builds the message callback used by Listen.
func Handler(origin string, log *slog.Logger, handle func(Change)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var change Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			log.Error("Dropping malformed event change", "error", err, "subject", msg.Subject)
			return
		}
		if change.Origin == origin {
			return
		}

		handle(change)
	}
}

// Connect dials NATS with reconnect handling. An empty url disables messaging.
func Connect(url string, maxReconnects int, reconnectWait time.Duration, log *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	options := []nats.Option{
		nats.Name("meydan"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}
