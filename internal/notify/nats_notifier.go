// Package notify publishes operator-facing notifications.
package notify

import (
	"encoding/json"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/core"
	"github.com/nats-io/nats.go"
)

// DismissAction is the only action attached to a notification.
const DismissAction = "Dismiss"

// Notification is the payload published for the operator console.
type Notification struct {
	Message   string        `json:"message"`
	Severity  core.Severity `json:"severity"`
	Action    string        `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
}

// NatsNotifier implements core.Notifier. Publishing is fire-and-forget:
// failures are logged, never returned.
type NatsNotifier struct {
	natsConnection *nats.Conn
	subject        string
	log            *logger.Logger
}

// NewNatsNotifier creates a notifier publishing on subject.
func NewNatsNotifier(natsConnection *nats.Conn, subject string, log *logger.Logger) *NatsNotifier {
	return &NatsNotifier{
		natsConnection: natsConnection,
		subject:        subject,
		log:            log,
	}
}

// Notify publishes message with severity.
func (n *NatsNotifier) Notify(message string, severity core.Severity) {
	if severity == core.SeverityError {
		n.log.Error("Notification: %s", message)
	} else {
		n.log.Info("Notification: %s", message)
	}

	data, err := json.Marshal(Notification{
		Message:   message,
		Severity:  severity,
		Action:    DismissAction,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		n.log.Error("Failed to marshal notification: %v", err)

		return
	}

	err = n.natsConnection.Publish(n.subject, data)
	if err != nil {
		n.log.Error("Failed to publish notification on %s: %v", n.subject, err)
	}
}
