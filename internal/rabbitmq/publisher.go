package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"campus-chat/internal/logger"
)

// Publisher publishes client audit and websocket lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// ErrClosed is returned once the broker has closed the publishing channel.
var ErrClosed = errors.New("rabbitmq: channel closed")

// Options configures NewPublisher.
type Options struct {
	URL      string
	Exchange string
	// AppID is stamped on every message.
	AppID string
}

// NewPublisher connects to the broker and declares the topic exchange. When the
// URL is empty or the broker cannot be reached, events are only logged.
func NewPublisher(opts Options) Publisher {
	if opts.URL == "" {
		logger.Info().Msg("event broker not configured, events are logged only")
		return logOnlyPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return unreachable(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return unreachable(err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return unreachable(err)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: opts.Exchange, appID: opts.AppID}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	logger.Info().Str("exchange", opts.Exchange).Msg("event broker connected")
	return p
}

func unreachable(err error) logOnlyPublisher {
	logger.Warn().Err(err).Msg("event broker unreachable, events are logged only")
	return logOnlyPublisher{reason: err.Error()}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	appID    string
	closed   atomic.Bool
}

func (p *amqpPublisher) watch(notify <-chan *amqp.Error) {
	if err, ok := <-notify; ok && err != nil {
		logger.Warn().Int("code", err.Code).Str("reason", err.Reason).Msg("event broker channel closed")
	}
	p.closed.Store(true)
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	if p.closed.Load() {
		return ErrClosed
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	meta := describe(event)
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    uuid.NewString(),
		AppId:        p.appID,
		Type:         meta.kind(),
		Headers:      meta.headers(),
		Body:         body,
	})
	if err != nil {
		logger.Warn().Err(err).Str("routing_key", routingKey).Str("event", meta.kind()).Msg("event publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.closed.Store(true)
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type logOnlyPublisher struct {
	reason string
}

func (logOnlyPublisher) Publish(_ context.Context, routingKey string, event any) error {
	meta := describe(event)
	meta.log(logger.Debug().Str("routing_key", routingKey)).Msg("event not published")
	return nil
}

func (logOnlyPublisher) Close() error {
	return nil
}

// Describe reports whether p talks to a broker ("amqp") or only logs ("log"),
// and why it fell back to logging.
func Describe(p Publisher) (mode, reason string) {
	switch publisher := p.(type) {
	case *amqpPublisher:
		if publisher.closed.Load() {
			return "amqp", ErrClosed.Error()
		}
		return "amqp", ""
	case logOnlyPublisher:
		return "log", publisher.reason
	default:
		return "unknown", ""
	}
}
