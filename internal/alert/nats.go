package alert

import (
	"encoding/json"
	"fmt"

	"ddos-guard/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes every event as JSON on <subject>.<event type>.
type NATSNotifier struct {
	nc      *nats.Conn
	pub     natsPublisher
	subject string
	logger  *logrus.Logger
}

// NewNATSNotifier connects to url.
func NewNATSNotifier(url, subject string, logger *logrus.Logger) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, nats.Name("ddos-guard"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Infof("Connected to NATS server at %s", url)
	return &NATSNotifier{nc: nc, pub: nc, subject: subject, logger: logger}, nil
}

func (n *NATSNotifier) SendAlert(event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %v", err)
	}
	subject := fmt.Sprintf("%s.%s", n.subject, event.Type)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event on %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		if err := n.nc.Drain(); err != nil {
			n.logger.Warnf("Failed to drain NATS connection: %v", err)
		}
		n.logger.Info("NATS connection drained and closed")
	}
}
