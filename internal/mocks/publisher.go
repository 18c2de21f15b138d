package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"campus-chat/internal/observability"
)

// Published is one event seen by PublisherMock.
type Published struct {
	RoutingKey string
	Event      any
}

// PublisherMock records every event before matching it against expectations.
type PublisherMock struct {
	mock.Mock
	mu        sync.Mutex
	published []Published
}

// AcceptAll makes every Publish and Close succeed.
func (m *PublisherMock) AcceptAll() *PublisherMock {
	m.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.On("Close").Return(nil)
	return m
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	m.mu.Lock()
	m.published = append(m.published, Published{RoutingKey: routingKey, Event: event})
	m.mu.Unlock()
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Events returns what was published, oldest first.
func (m *PublisherMock) Events() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

// WSEventNames lists the websocket lifecycle events published under routingKey.
func (m *PublisherMock) WSEventNames(routingKey string) []string {
	var names []string
	for _, p := range m.Events() {
		env, ok := p.Event.(observability.EventEnvelope)
		if ok && p.RoutingKey == routingKey && env.EventType == "ws_events" {
			names = append(names, env.EventName)
		}
	}
	return names
}
