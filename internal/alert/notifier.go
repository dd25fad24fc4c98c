package alert

import "ddos-guard/internal/model"

// Notifier interface for event notification
type Notifier interface {
	SendAlert(event model.Event) error
}
