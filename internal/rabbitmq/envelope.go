package rabbitmq

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"campus-chat/internal/observability"
	"campus-chat/internal/telemetry"
)

// eventMeta is what the broker headers and the log line carry about an event.
type eventMeta struct {
	eventType string
	eventName string
	requestID string
	traceID   string
	userID    string
	connID    string
	socket    string
}

func describe(event any) eventMeta {
	switch env := event.(type) {
	case telemetry.AuditEnvelope:
		m := eventMeta{eventType: env.EventType, eventName: env.Payload.Level, requestID: env.RequestID, traceID: env.TraceID}
		if env.UserID != nil {
			m.userID = *env.UserID
		}
		return m
	case observability.EventEnvelope:
		m := eventMeta{eventType: env.EventType, eventName: env.EventName, requestID: env.RequestID, traceID: env.TraceID}
		payload, _ := env.Payload.(map[string]interface{})
		if ws, ok := payload["ws"].(map[string]interface{}); ok {
			m.connID, _ = ws["conn_id"].(string)
			m.socket, _ = ws["kind"].(string)
		}
		if identity, ok := payload["identity"].(map[string]interface{}); ok {
			if id, ok := identity["user_id"].(int); ok && id != 0 {
				m.userID = strconv.Itoa(id)
			}
		}
		return m
	default:
		return eventMeta{}
	}
}

// kind joins type and name, e.g. "ws_events.ws_connect".
func (m eventMeta) kind() string {
	switch {
	case m.eventType == "":
		return m.eventName
	case m.eventName == "":
		return m.eventType
	default:
		return m.eventType + "." + m.eventName
	}
}

func (m eventMeta) headers() amqp.Table {
	table := amqp.Table{}
	for key, value := range map[string]string{
		"request_id": m.requestID,
		"trace_id":   m.traceID,
		"user_id":    m.userID,
		"conn_id":    m.connID,
		"socket":     m.socket,
	} {
		if value != "" {
			table[key] = value
		}
	}
	return table
}

func (m eventMeta) log(e *zerolog.Event) *zerolog.Event {
	e = e.Str("event", m.kind())
	if m.requestID != "" {
		e = e.Str("request_id", m.requestID)
	}
	if m.userID != "" {
		e = e.Str("user_id", m.userID)
	}
	if m.connID != "" {
		e = e.Str("conn_id", m.connID).Str("socket", m.socket)
	}
	return e
}
