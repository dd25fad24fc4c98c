package alert

import (
	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier sends events to local logs
type LogAlertNotifier struct {
	logger *logrus.Logger
}

// NewLogAlertNotifier creates a new log alert notifier
func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

// SendAlert implements Notifier interface - sends the event to logs
func (ln *LogAlertNotifier) SendAlert(event model.Event) error {
	entry := ln.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"type":     event.Type,
	})
	if event.Source != "" {
		entry = entry.WithField("source", event.Source)
	}
	entry.Warnf("ALERT [%s] %s: %s", event.Severity, event.Type, event.Message)
	return nil
}
