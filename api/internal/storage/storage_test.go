package storage

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func event(i int, eventType model.EventType, severity string) model.Event {
	return model.Event{
		ID:        fmt.Sprintf("evt-%d", i),
		Type:      eventType,
		Severity:  severity,
		Source:    model.SourceIdentifier(fmt.Sprintf("10.0.0.%d", i)),
		Timestamp: time.Unix(int64(i), 0),
	}
}

func TestStorage_BoundedHistoryLatestFirst(t *testing.T) {
	s := NewStorageWithLimit(3, quietLogger())
	for i := 1; i <= 5; i++ {
		s.AddEvent(event(i, model.EventBlock, model.SeverityCritical))
	}

	assert.Equal(t, 3, s.Len())
	events := s.GetEvents(10, EventFilter{})
	require.Len(t, events, 3)
	assert.Equal(t, "evt-5", events[0].ID)
	assert.Equal(t, "evt-3", events[2].ID)
	assert.Nil(t, s.GetEventByID("evt-1"))
	assert.NotNil(t, s.GetEventByID("evt-4"))
}

func TestStorage_Filters(t *testing.T) {
	s := NewStorage(quietLogger())
	s.AddEvent(event(1, model.EventBlock, model.SeverityCritical))
	s.AddEvent(event(2, model.EventUnblock, model.SeverityLow))
	s.AddEvent(event(3, model.EventBlock, model.SeverityCritical))

	assert.Len(t, s.GetEvents(10, EventFilter{Type: "block"}), 2)
	assert.Len(t, s.GetEvents(10, EventFilter{Severity: "low"}), 1)
	assert.Len(t, s.GetEvents(10, EventFilter{Source: "10.0.0.3"}), 1)
	assert.Len(t, s.GetEvents(1, EventFilter{}), 1)
}

func TestStorage_SubscribersReceiveMatchingEvents(t *testing.T) {
	s := NewStorage(quietLogger())
	sub := &EventSubscriber{ID: "a", Channel: make(chan model.Event, 4), Filter: EventFilter{Type: "unblock"}}
	s.Subscribe(sub)

	s.AddEvent(event(1, model.EventBlock, model.SeverityCritical))
	s.AddEvent(event(2, model.EventUnblock, model.SeverityLow))

	got := <-sub.Channel
	assert.Equal(t, "evt-2", got.ID)
	assert.Len(t, sub.Channel, 0)

	s.Unsubscribe(sub)
	s.Unsubscribe(sub)
	_, open := <-sub.Channel
	assert.False(t, open)
}

func TestStorage_Consume(t *testing.T) {
	s := NewStorage(quietLogger())
	ch := make(chan model.Event, 2)
	ch <- event(1, model.EventBlock, model.SeverityCritical)
	ch <- event(2, model.EventBlock, model.SeverityCritical)
	close(ch)

	s.Consume(context.Background(), ch)
	assert.Equal(t, 2, s.Len())
}
