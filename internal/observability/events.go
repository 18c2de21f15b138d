package observability

import (
	"context"
	"sync/atomic"
)

// Publisher delivers events to the message broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	RequestID string      `json:"request_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

type publisherHolder struct{ Publisher }

var defaultPublisher atomic.Pointer[publisherHolder]

// SetPublisher installs the broker events are sent to; nil disables publishing.
func SetPublisher(publisher Publisher) {
	defaultPublisher.Store(&publisherHolder{publisher})
}

func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error {
	holder := defaultPublisher.Load()
	if holder == nil || holder.Publisher == nil {
		return nil
	}

	err := holder.Publish(ctx, routingKey, envelope)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

// WSEvent builds the envelope of a websocket lifecycle event.
func WSEvent(kind, event, connID string, userID int, duration int64, reason string) EventEnvelope {
	return EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"event":       event,
				"conn_id":     connID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id": userID,
			},
		},
	}
}
