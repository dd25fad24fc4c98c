package model

import "time"

// EventType names what happened to a source
type EventType string

const (
	EventBlock              EventType = "block"
	EventUnblock            EventType = "unblock"
	EventAutoUnblock        EventType = "auto_unblock"
	EventEnforcementFailure EventType = "enforcement_failure"
	EventCaptureStopped     EventType = "capture_stopped"
)

const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Event is emitted on every enforcement transition and on capture failure.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Severity  string           `json:"severity"`
	Source    SourceIdentifier `json:"source,omitempty"`
	Count     int              `json:"count,omitempty"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

type TrafficStats struct {
	TotalPackets   int64     `json:"total_packets"`
	SkippedPackets int64     `json:"skipped_packets"`
	TrackedSources int       `json:"tracked_sources"`
	BlockedSources int       `json:"blocked_sources"`
	WindowStart    time.Time `json:"window_start"`
}
