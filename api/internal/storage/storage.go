package storage

import (
	"context"
	"strings"
	"sync"

	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// Storage keeps a bounded in-memory history of detector events and fans
// new ones out to stream subscribers.
type Storage struct {
	mu        sync.RWMutex
	events    []model.Event
	maxEvents int
	logger    *logrus.Logger
	subs      map[*EventSubscriber]bool
	subsMu    sync.RWMutex
}

type EventSubscriber struct {
	ID      string
	Channel chan model.Event
	Filter  EventFilter
}

type EventFilter struct {
	Severity string
	Type     string
	Source   string
}

func (f EventFilter) matches(event model.Event) bool {
	if f.Severity != "" && !strings.EqualFold(event.Severity, f.Severity) {
		return false
	}
	if f.Type != "" && string(event.Type) != f.Type {
		return false
	}
	if f.Source != "" && event.Source.String() != f.Source {
		return false
	}
	return true
}

func NewStorage(logger *logrus.Logger) *Storage {
	return NewStorageWithLimit(10000, logger) // Keep last 10k events
}

func NewStorageWithLimit(maxEvents int, logger *logrus.Logger) *Storage {
	return &Storage{
		events:    make([]model.Event, 0),
		maxEvents: maxEvents,
		logger:    logger,
		subs:      make(map[*EventSubscriber]bool),
	}
}

func (s *Storage) AddEvent(event model.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)

	// Keep only last maxEvents
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	s.mu.Unlock()

	s.notifySubscribers(event)
}

// Consume records every event from events until ctx is done or the channel
// is closed.
func (s *Storage) Consume(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			s.AddEvent(event)
		case <-ctx.Done():
			return
		}
	}
}

// GetEvents returns up to limit events, latest first.
func (s *Storage) GetEvents(limit int, filter EventFilter) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.matches(s.events[i]) {
			result = append(result, s.events[i])
		}
	}
	return result
}

func (s *Storage) GetEventByID(id string) *model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.events {
		if s.events[i].ID == id {
			event := s.events[i]
			return &event
		}
	}
	return nil
}

func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Subscriber methods
func (s *Storage) Subscribe(sub *EventSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[sub] = true
}

func (s *Storage) Unsubscribe(sub *EventSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subs[sub] {
		delete(s.subs, sub)
		close(sub.Channel)
	}
}

func (s *Storage) notifySubscribers(event model.Event) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for sub := range s.subs {
		if !sub.Filter.matches(event) {
			continue
		}

		select {
		case sub.Channel <- event:
		default:
			s.logger.Debugf("Subscriber %s is slow, dropping event %s", sub.ID, event.ID)
		}
	}
}
