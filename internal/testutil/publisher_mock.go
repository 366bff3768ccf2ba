package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/messaging"
)

// PublishedEvent is one event captured by MockPublisher.
type PublishedEvent struct {
	RoutingKey string
	EventData  interface{}
	RawJSON    []byte
}

// MockPublisher records events in memory instead of talking to a broker.
// Setting Err makes every Publish fail with it.
type MockPublisher struct {
	mu     sync.RWMutex
	events []PublishedEvent
	Err    error
}

var _ messaging.PublisherInterface = (*MockPublisher)(nil)

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, eventData interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	raw, err := json.Marshal(eventData)
	if err != nil {
		return err
	}
	m.events = append(m.events, PublishedEvent{RoutingKey: routingKey, EventData: eventData, RawJSON: raw})
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// EventsByKey returns the events published under routingKey, oldest first.
func (m *MockPublisher) EventsByKey(routingKey string) []PublishedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PublishedEvent
	for _, e := range m.events {
		if e.RoutingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the total number of published events.
func (m *MockPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// LastRecordEvent decodes the most recent event under routingKey.
func (m *MockPublisher) LastRecordEvent(t *testing.T, routingKey string) messaging.RecordEvent {
	t.Helper()

	events := m.EventsByKey(routingKey)
	if len(events) == 0 {
		t.Fatalf("Expected event with routing key '%s' to be published, but found none", routingKey)
	}
	var e messaging.RecordEvent
	if err := json.Unmarshal(events[len(events)-1].RawJSON, &e); err != nil {
		t.Fatalf("Failed to decode event %s: %v", routingKey, err)
	}
	return e
}

// AssertEventCount fails unless exactly expected events used routingKey.
func (m *MockPublisher) AssertEventCount(t *testing.T, routingKey string, expected int) {
	t.Helper()

	if count := len(m.EventsByKey(routingKey)); count != expected {
		t.Errorf("Expected %d events with routing key '%s', got %d", expected, routingKey, count)
	}
}
